// Package logs resolves and writes the append-only per-task log files
// that agent output streams into.
package logs

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// DirEnv overrides the log directory when set.
const DirEnv = "RALPH_LOG_DIR"

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9.-]+`)

// Dir resolves the log directory: $RALPH_LOG_DIR, else .ralph/logs under
// repoRoot, else the current directory.
func Dir(repoRoot string) string {
	if dir := os.Getenv(DirEnv); dir != "" {
		return dir
	}
	if repoRoot != "" {
		return filepath.Join(repoRoot, ".ralph", "logs")
	}
	return "."
}

// SanitizeID converts a task id into a safe file name: every run of
// characters outside [A-Za-z0-9.-] becomes a single "-", leading and
// trailing dashes are trimmed, and results that are empty, ".", or ".."
// are rejected.
func SanitizeID(id string) (string, error) {
	s := unsafeChars.ReplaceAllString(id, "-")
	s = strings.Trim(s, "-")
	if s == "" || s == "." || s == ".." {
		return "", fmt.Errorf("task id %q does not sanitize to a usable file name", id)
	}
	return s, nil
}

// TaskLog is an append-only log file for one task. It is the runner's
// byte-for-byte output sink; logs are never deleted or rotated.
type TaskLog struct {
	file *os.File
	path string
}

// Open opens (creating if needed) the log file for taskID under dir.
func Open(dir, taskID string) (*TaskLog, error) {
	name, err := SanitizeID(taskID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(dir, name+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return &TaskLog{file: f, path: path}, nil
}

// Path returns the log file path.
func (l *TaskLog) Path() string {
	return l.path
}

// Write implements io.Writer, appending raw agent output.
func (l *TaskLog) Write(p []byte) (int, error) {
	return l.file.Write(p)
}

// Section writes a timestamped separator ahead of an attempt's output.
func (l *TaskLog) Section(title string) error {
	_, err := fmt.Fprintf(l.file, "\n===== %s | %s =====\n", time.Now().Format(time.RFC3339), title)
	return err
}

// Close closes the underlying file.
func (l *TaskLog) Close() error {
	return l.file.Close()
}
