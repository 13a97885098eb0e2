package tasklog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStoreWriteAndReadReversed(t *testing.T) {
	tmp := t.TempDir()
	s := &Store{base: tmp, loggers: make(map[string]*Logger)}

	l, err := s.Logger("task-1")
	if err != nil {
		t.Fatalf("Logger: %v", err)
	}
	if err := l.Info("first"); err != nil {
		t.Fatalf("Info: %v", err)
	}
	if err := l.Info("second"); err != nil {
		t.Fatalf("Info: %v", err)
	}
	s.Close("task-1")

	lines, err := s.GetLogs("task-1")
	if err != nil {
		t.Fatalf("GetLogs: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], "second") {
		t.Errorf("expected most recent line first, got %q", lines[0])
	}
	if !strings.Contains(lines[1], "first") {
		t.Errorf("expected oldest line last, got %q", lines[1])
	}
}

func TestStoreGetLogsMissingFile(t *testing.T) {
	tmp := t.TempDir()
	s := &Store{base: tmp, loggers: make(map[string]*Logger)}
	lines, err := s.GetLogs("no-such-task")
	if err != nil {
		t.Fatalf("GetLogs: %v", err)
	}
	if len(lines) != 0 {
		t.Errorf("expected no lines, got %v", lines)
	}
}

func TestLogFilePathLayout(t *testing.T) {
	tmp := t.TempDir()
	s := &Store{base: tmp, loggers: make(map[string]*Logger)}
	got := s.logFilePath("abc")
	want := filepath.Join(tmp, "abc", "task.log")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if _, err := os.Stat(tmp); err != nil {
		t.Fatalf("base dir missing: %v", err)
	}
}
