package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RunLogTimeFormat prefixes stamped run log lines.
const RunLogTimeFormat = "20060102_150405: "

// RunLog appends lines to a text file. The file is opened per write so
// lines land on disk as soon as WriteLine returns.
type RunLog struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewRunLog returns a run log at path, creating parent directories.
func NewRunLog(path string) (*RunLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run log directory: %w", err)
	}
	return &RunLog{path: path, now: time.Now}, nil
}

// Path returns the file the log appends to.
func (l *RunLog) Path() string {
	return l.path
}

// WriteLine appends line, prefixed with the local time when stamp is set.
func (l *RunLog) WriteLine(line string, stamp bool) error {
	if stamp {
		line = l.now().Format(RunLogTimeFormat) + line
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open run log: %w", err)
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("failed to write run log: %w", err)
	}
	return f.Close()
}
