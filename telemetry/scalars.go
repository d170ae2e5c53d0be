package telemetry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Value is a float64 that survives JSON encoding when it is NaN or
// infinite.
type Value float64

// MarshalJSON encodes non-finite values as the strings "NaN", "+Inf" and
// "-Inf".
func (v Value) MarshalJSON() ([]byte, error) {
	f := float64(v)
	switch {
	case math.IsNaN(f):
		return []byte(`"NaN"`), nil
	case math.IsInf(f, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-Inf"`), nil
	}
	return []byte(strconv.FormatFloat(f, 'g', -1, 64)), nil
}

// UnmarshalJSON accepts both numbers and the strings written by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid scalar %q: %w", s, err)
		}
		*v = Value(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = Value(f)
	return nil
}

// Record is one line of a scalar file
type Record struct {
	Series string `json:"series"`
	Value  Value  `json:"value"`
	Step   int    `json:"step"`
}

// ScalarFile appends scalars to a JSON-lines file. It is safe for
// concurrent use.
type ScalarFile struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *bufio.Writer
}

// NewScalarFile opens path for appending, creating parent directories.
func NewScalarFile(path string) (*ScalarFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scalar directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open scalar file: %w", err)
	}
	return &ScalarFile{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

// Path returns the file location
func (s *ScalarFile) Path() string { return s.path }

// AddScalar appends one record and flushes it.
func (s *ScalarFile) AddScalar(series string, value float64, step int) error {
	line, err := json.Marshal(Record{Series: series, Value: Value(value), Step: step})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return os.ErrClosed
	}
	s.w.Write(line)
	s.w.WriteByte('\n')
	return s.w.Flush()
}

// Close flushes and closes the file
func (s *ScalarFile) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.w.Flush()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	s.f = nil
	return err
}

// ReadScalars loads every record from a scalar file.
func ReadScalars(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Record
	scanner := bufio.NewScanner(f)
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		out = append(out, r)
	}
	return out, scanner.Err()
}

// MultiScalar fans each scalar out to every sink. All sinks are tried and
// the first error is returned.
type MultiScalar []interface {
	AddScalar(series string, value float64, step int) error
}

// AddScalar implements the scalar sink
func (m MultiScalar) AddScalar(series string, value float64, step int) error {
	var first error
	for _, s := range m {
		if err := s.AddScalar(series, value, step); err != nil && first == nil {
			first = err
		}
	}
	return first
}
