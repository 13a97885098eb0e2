// Package tasklog is the per-task, file-backed log a user downloads
// via GET /task/{id}/logs. It is distinct from the ambient pkg/log
// zerolog stream: tasklog captures the lines a running task itself
// produces (stdout/stderr scanned during OBSERVE), one plain-text file
// per task, under a platform-specific base directory.
package tasklog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

const (
	companyDir = "cuemby"
	appName    = "crucible"
)

// baseDir resolves the platform-specific logs root:
// Linux:   /var/<company>/<app>/logs
// Windows: %PROGRAMDATA%\<company>\<app>\logs
// else:    $HOME/<company>/<app>/logs
func baseDir() (string, error) {
	switch runtime.GOOS {
	case "linux":
		return filepath.Join("/var", companyDir, appName, "logs"), nil
	case "windows":
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		return filepath.Join(programData, companyDir, appName, "logs"), nil
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return filepath.Join(home, companyDir, appName, "logs"), nil
	}
}

// Logger writes and reads the per-task log file for one task id.
type Logger struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// Store opens (and lazily creates) per-task loggers.
type Store struct {
	mu      sync.Mutex
	base    string
	loggers map[string]*Logger
}

// NewStore resolves the platform-specific base directory and prepares
// an empty logger cache.
func NewStore() (*Store, error) {
	base, err := baseDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create logs base directory: %w", err)
	}
	return &Store{base: base, loggers: make(map[string]*Logger)}, nil
}

func (s *Store) logFilePath(taskID string) string {
	return filepath.Join(s.base, taskID, "task.log")
}

// Logger returns the (cached) logger for taskID, creating its
// directory and file on first use.
func (s *Store) Logger(taskID string) (*Logger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.loggers[taskID]; ok {
		return l, nil
	}

	path := s.logFilePath(taskID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create task log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open task log file: %w", err)
	}
	l := &Logger{path: path, file: f}
	s.loggers[taskID] = l
	return l, nil
}

// Close releases the open file handle for taskID, if any.
func (s *Store) Close(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.loggers[taskID]; ok {
		l.mu.Lock()
		l.file.Close()
		l.mu.Unlock()
		delete(s.loggers, taskID)
	}
}

// GetLogs reads back every formatted line for taskID, in the order
// GET /task/{id}/logs returns them to the caller: most recent first.
func (s *Store) GetLogs(taskID string) ([]string, error) {
	path := s.logFilePath(taskID)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open task log file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read task log file: %w", err)
	}

	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines, nil
}

// Level mirrors Python logging's level names used in the line format.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARNING"
	LevelError Level = "ERROR"
)

// Line appends one formatted log line: "YYYY-MM-DD HH:MM:SS,mmm - LEVEL - msg".
func (l *Logger) Line(level Level, msg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	ts := fmt.Sprintf("%s,%03d", now.Format("2006-01-02 15:04:05"), now.Nanosecond()/1e6)
	_, err := fmt.Fprintf(l.file, "%s - %s - %s\n", ts, level, msg)
	return err
}

// Info appends an INFO line.
func (l *Logger) Info(msg string) error { return l.Line(LevelInfo, msg) }

// Error appends an ERROR line.
func (l *Logger) Error(msg string) error { return l.Line(LevelError, msg) }
