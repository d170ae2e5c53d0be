package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCLIHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := NewCLI(&buf, slog.LevelInfo)

	logger.Debug("hidden")
	logger.With("run", "abc").WithGroup("eval").Info("epoch done", "rms", 0.25, "note", "two words", "err", errors.New("boom"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug record should be filtered: %q", out)
	}
	for _, want := range []string{"INFO", "| epoch done", " run=abc", " eval.rms=0.25", ` eval.note="two words"`, ` eval.err="boom"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
	if strings.Count(out, "\n") != 1 {
		t.Errorf("expected one line, got %q", out)
	}
}

func TestJSONHandler(t *testing.T) {
	var buf bytes.Buffer
	NewJSON(&buf, nil).Info("hello", "epoch", 3)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("invalid JSON %q: %v", buf.String(), err)
	}
	if record["msg"] != "hello" || record["epoch"] != float64(3) {
		t.Errorf("unexpected record %v", record)
	}
}

func TestParse(t *testing.T) {
	levels := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"", slog.LevelInfo, true},
		{"DEBUG", slog.LevelDebug, true},
		{"warning", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"loud", slog.LevelInfo, false},
	}
	for _, tt := range levels {
		got, err := ParseLevel(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}

	if m, err := ParseMode("json"); err != nil || m != ModeJSON {
		t.Errorf("ParseMode(json) = %v, %v", m, err)
	}
	if _, err := ParseMode("xml"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestEnsure(t *testing.T) {
	if Ensure(nil) != slog.Default() {
		t.Error("Ensure(nil) should return the default logger")
	}
	l := Discard()
	if Ensure(l) != l {
		t.Error("Ensure should return a non-nil logger unchanged")
	}
}

func TestRunLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "logfile.log")
	log, err := NewRunLog(path)
	if err != nil {
		t.Fatal(err)
	}
	log.now = func() time.Time { return time.Date(2024, 3, 9, 7, 5, 2, 0, time.Local) }

	if err := log.WriteLine("Begin epoch 1", true); err != nil {
		t.Fatal(err)
	}
	if err := log.WriteLine("raw", false); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(log.Path())
	if err != nil {
		t.Fatal(err)
	}
	want := "20240309_070502: Begin epoch 1\nraw\n"
	if string(data) != want {
		t.Errorf("run log = %q, want %q", data, want)
	}
}
