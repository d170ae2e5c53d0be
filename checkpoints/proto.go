package checkpoints

import (
	"fmt"
	"math"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Binary layout. Tensor records reuse the ONNX TensorProto field numbers
// (dims=1, data_type=2, float_data=4, name=8, doc_string=12) so weight
// records can be read by ONNX tooling as initializers.
//
//	Checkpoint: 1 metadata, 2 weight (repeated), 3 training_state, 4 optimizer_state,
//	            5 scheduler_state (google.protobuf.Struct)
//	Metadata:   1 version, 2 framework, 3 created_at (google.protobuf.Timestamp),
//	            4 description, 5 tag (repeated), 6 run_id
//	Training:   1 epoch, 2 step, 3 learning_rate (double), 4 total_steps
//	Optimizer:  1 type, 2 parameters (google.protobuf.Struct), 3 state (repeated tensor)
const (
	tensorDims      protowire.Number = 1
	tensorDataType  protowire.Number = 2
	tensorFloatData protowire.Number = 4
	tensorName      protowire.Number = 8
	tensorDoc       protowire.Number = 12

	onnxFloat = 1
)

func marshalProto(c *Checkpoint) ([]byte, error) {
	var b []byte

	meta, err := marshalMetadata(&c.Metadata)
	if err != nil {
		return nil, err
	}
	b = appendMessage(b, 1, meta)

	for i := range c.Weights {
		w := &c.Weights[i]
		doc := w.Layer + "/" + w.Type
		b = appendMessage(b, 2, marshalTensor(w.Name, w.Shape, w.Data, doc))
	}

	var ts []byte
	ts = protowire.AppendTag(ts, 1, protowire.VarintType)
	ts = protowire.AppendVarint(ts, uint64(c.TrainingState.Epoch))
	ts = protowire.AppendTag(ts, 2, protowire.VarintType)
	ts = protowire.AppendVarint(ts, uint64(c.TrainingState.Step))
	ts = protowire.AppendTag(ts, 3, protowire.Fixed64Type)
	ts = protowire.AppendFixed64(ts, math.Float64bits(c.TrainingState.LearningRate))
	ts = protowire.AppendTag(ts, 4, protowire.VarintType)
	ts = protowire.AppendVarint(ts, uint64(c.TrainingState.TotalSteps))
	b = appendMessage(b, 3, ts)

	if c.OptimizerState != nil {
		opt, err := marshalOptimizer(c.OptimizerState)
		if err != nil {
			return nil, err
		}
		b = appendMessage(b, 4, opt)
	}

	if len(c.SchedulerState) > 0 {
		raw, err := marshalStruct(c.SchedulerState)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal scheduler state: %w", err)
		}
		b = appendMessage(b, 5, raw)
	}

	return b, nil
}

func marshalStruct(m map[string]interface{}) ([]byte, error) {
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(st)
}

func unmarshalStruct(b []byte) (map[string]interface{}, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(b, &st); err != nil {
		return nil, err
	}
	return st.AsMap(), nil
}

func marshalMetadata(m *CheckpointMetadata) ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Version)
	b = appendString(b, 2, m.Framework)

	created, err := proto.Marshal(timestamppb.New(m.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal created_at: %w", err)
	}
	b = appendMessage(b, 3, created)

	b = appendString(b, 4, m.Description)
	for _, tag := range m.Tags {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendString(b, tag)
	}
	b = appendString(b, 6, m.RunID)
	return b, nil
}

func marshalOptimizer(o *OptimizerState) ([]byte, error) {
	var b []byte
	b = appendString(b, 1, o.Type)

	if len(o.Parameters) > 0 {
		raw, err := marshalStruct(o.Parameters)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal optimizer parameters: %w", err)
		}
		b = appendMessage(b, 2, raw)
	}

	for _, s := range o.StateData {
		b = appendMessage(b, 3, marshalTensor(s.Name, s.Shape, s.Data, s.StateType))
	}
	return b, nil
}

func marshalTensor(name string, shape []int, data []float32, doc string) []byte {
	var b []byte

	var dims []byte
	for _, d := range shape {
		dims = protowire.AppendVarint(dims, uint64(int64(d)))
	}
	b = appendMessage(b, tensorDims, dims)

	b = protowire.AppendTag(b, tensorDataType, protowire.VarintType)
	b = protowire.AppendVarint(b, onnxFloat)

	packed := make([]byte, 0, 4*len(data))
	for _, v := range data {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	b = appendMessage(b, tensorFloatData, packed)

	b = appendString(b, tensorName, name)
	b = appendString(b, tensorDoc, doc)
	return b
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// fieldFunc handles one decoded field and returns the bytes consumed, or
// a negative protowire error code.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func walk(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}

func consumeMessage(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("expected length-delimited field, got wire type %d", typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("expected varint field, got wire type %d", typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func unmarshalProto(b []byte) (*Checkpoint, error) {
	c := &Checkpoint{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			return n, unmarshalMetadata(msg, &c.Metadata)
		case 2:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			name, shape, data, doc, err := unmarshalTensor(msg)
			if err != nil {
				return 0, fmt.Errorf("weight %d: %w", len(c.Weights), err)
			}
			layer, kind, _ := strings.Cut(doc, "/")
			c.Weights = append(c.Weights, WeightTensor{Name: name, Shape: shape, Data: data, Layer: layer, Type: kind})
			return n, nil
		case 3:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			return n, unmarshalTrainingState(msg, &c.TrainingState)
		case 4:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			opt, err := unmarshalOptimizer(msg)
			if err != nil {
				return 0, err
			}
			c.OptimizerState = opt
			return n, nil
		case 5:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			state, err := unmarshalStruct(msg)
			if err != nil {
				return 0, fmt.Errorf("failed to unmarshal scheduler state: %w", err)
			}
			c.SchedulerState = state
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func unmarshalMetadata(b []byte, m *CheckpointMetadata) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1, 2, 4, 5, 6:
			v, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			s := string(v)
			switch num {
			case 1:
				m.Version = s
			case 2:
				m.Framework = s
			case 4:
				m.Description = s
			case 5:
				m.Tags = append(m.Tags, s)
			case 6:
				m.RunID = s
			}
			return n, nil
		case 3:
			v, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			var ts timestamppb.Timestamp
			if err := proto.Unmarshal(v, &ts); err != nil {
				return 0, fmt.Errorf("failed to unmarshal created_at: %w", err)
			}
			m.CreatedAt = ts.AsTime()
			return n, nil
		}
		return 0, nil
	})
}

func unmarshalTrainingState(b []byte, s *TrainingState) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1, 2, 4:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			switch num {
			case 1:
				s.Epoch = int(v)
			case 2:
				s.Step = int(v)
			case 4:
				s.TotalSteps = int(v)
			}
			return n, nil
		case 3:
			if typ != protowire.Fixed64Type {
				return 0, fmt.Errorf("learning_rate: unexpected wire type %d", typ)
			}
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			s.LearningRate = math.Float64frombits(v)
			return n, nil
		}
		return 0, nil
	})
}

func unmarshalOptimizer(b []byte) (*OptimizerState, error) {
	o := &OptimizerState{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			o.Type = string(v)
			return n, nil
		case 2:
			v, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			params, err := unmarshalStruct(v)
			if err != nil {
				return 0, fmt.Errorf("failed to unmarshal optimizer parameters: %w", err)
			}
			o.Parameters = params
			return n, nil
		case 3:
			v, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			name, shape, data, doc, err := unmarshalTensor(v)
			if err != nil {
				return 0, fmt.Errorf("optimizer state %d: %w", len(o.StateData), err)
			}
			o.StateData = append(o.StateData, OptimizerTensor{Name: name, Shape: shape, Data: data, StateType: doc})
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

func unmarshalTensor(b []byte) (name string, shape []int, data []float32, doc string, err error) {
	err = walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case tensorDims:
			if typ == protowire.VarintType {
				v, n, err := consumeVarint(typ, b)
				if err != nil {
					return 0, err
				}
				shape = append(shape, int(int64(v)))
				return n, nil
			}
			packed, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			for len(packed) > 0 {
				v, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return 0, protowire.ParseError(m)
				}
				shape = append(shape, int(int64(v)))
				packed = packed[m:]
			}
			return n, nil
		case tensorDataType:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			if v != onnxFloat {
				return 0, fmt.Errorf("unsupported tensor data type %d", v)
			}
			return n, nil
		case tensorFloatData:
			if typ == protowire.Fixed32Type {
				v, n := protowire.ConsumeFixed32(b)
				if n < 0 {
					return 0, protowire.ParseError(n)
				}
				data = append(data, math.Float32frombits(v))
				return n, nil
			}
			packed, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			if len(packed)%4 != 0 {
				return 0, fmt.Errorf("float_data length %d is not a multiple of 4", len(packed))
			}
			if data == nil {
				data = make([]float32, 0, len(packed)/4)
			}
			for len(packed) > 0 {
				v, m := protowire.ConsumeFixed32(packed)
				if m < 0 {
					return 0, protowire.ParseError(m)
				}
				data = append(data, math.Float32frombits(v))
				packed = packed[m:]
			}
			return n, nil
		case tensorName, tensorDoc:
			v, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			if num == tensorName {
				name = string(v)
			} else {
				doc = string(v)
			}
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return "", nil, nil, "", err
	}

	elems := 1
	for _, d := range shape {
		elems *= d
	}
	if len(shape) > 0 && elems != len(data) {
		return "", nil, nil, "", fmt.Errorf("tensor %q: shape %v holds %d elements, found %d", name, shape, elems, len(data))
	}
	return name, shape, data, doc, nil
}
