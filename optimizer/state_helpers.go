package optimizer

import (
	"fmt"

	"github.com/tsawler/go-palette/checkpoints"
)

// extractBufferState copies a single state buffer into a checkpoint tensor
func extractBufferState(buffer []float32, name string, stateType string) *checkpoints.OptimizerTensor {
	if buffer == nil {
		return nil
	}

	data := make([]float32, len(buffer))
	copy(data, buffer)

	return &checkpoints.OptimizerTensor{
		Name:      name,
		Shape:     []int{len(data)},
		Data:      data,
		StateType: stateType,
	}
}

// restoreBufferState copies checkpoint data back into a state buffer
func restoreBufferState(buffer []float32, data []float32, name string) error {
	if buffer == nil {
		return fmt.Errorf("%s buffer is nil", name)
	}

	if len(data) != len(buffer) {
		return fmt.Errorf("data size mismatch for %s: expected %d elements, got %d",
			name, len(buffer), len(data))
	}

	copy(buffer, data)
	return nil
}

// restoreIndexedBuffers restores every state tensor of stateType into the
// buffer named by its index suffix.
func restoreIndexedBuffers(buffers [][]float32, state *OptimizerState, stateType string) error {
	for _, tensor := range state.StateData {
		if tensor.StateType != stateType {
			continue
		}
		idx := extractBufferIndex(tensor.Name)
		if idx < 0 || idx >= len(buffers) {
			return fmt.Errorf("invalid buffer index in tensor name: %s", tensor.Name)
		}
		if err := restoreBufferState(buffers[idx], tensor.Data, tensor.Name); err != nil {
			return err
		}
	}
	return nil
}

// extractFloat64Param safely extracts a numeric parameter from the state map
func extractFloat64Param(params map[string]interface{}, key string, defaultValue float64) float64 {
	switch val := params[key].(type) {
	case float64:
		return val
	case float32:
		return float64(val)
	}
	return defaultValue
}

// extractBoolParam safely extracts a bool parameter from the state map
func extractBoolParam(params map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := params[key].(bool); ok {
		return val
	}
	return defaultValue
}

// extractUint64Param safely extracts a uint64 parameter from the state map
func extractUint64Param(params map[string]interface{}, key string, defaultValue uint64) uint64 {
	switch val := params[key].(type) {
	case float64:
		return uint64(val)
	case uint64:
		return val
	}
	return defaultValue
}
