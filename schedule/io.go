package schedule

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// WriteYAML dumps the coefficient tables.
func (s *NoiseSchedule) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode schedule: %w", err)
	}
	return enc.Close()
}

// Load reads a schedule previously written with WriteYAML.
func Load(path string) (*NoiseSchedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedule: %w", err)
	}
	var s NoiseSchedule
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode schedule %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("schedule %s: %w", path, err)
	}
	return &s, nil
}
