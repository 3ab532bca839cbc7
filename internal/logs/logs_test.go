package logs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizeID(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain id", "epic.1", "epic.1", false},
		{"dash preserved", "task-123.2", "task-123.2", false},
		{"unsafe chars replaced", "epic/1:2", "epic-1-2", false},
		{"runs collapsed", "a////b", "a-b", false},
		{"spaces", "my task 1", "my-task-1", false},
		{"leading trailing trimmed", "/epic.1/", "epic.1", false},
		{"empty rejected", "", "", true},
		{"dot rejected", ".", "", true},
		{"dotdot rejected", "..", "", true},
		{"only unsafe rejected", "///", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeID(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("SanitizeID(%q) expected error, got %q", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("SanitizeID(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("SanitizeID(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDirResolution(t *testing.T) {
	t.Setenv(DirEnv, "/tmp/custom-logs")
	if got := Dir("/repo"); got != "/tmp/custom-logs" {
		t.Errorf("Dir with env = %q", got)
	}

	t.Setenv(DirEnv, "")
	if got := Dir("/repo"); got != filepath.Join("/repo", ".ralph", "logs") {
		t.Errorf("Dir with repo = %q", got)
	}
	if got := Dir(""); got != "." {
		t.Errorf("Dir fallback = %q", got)
	}
}

func TestTaskLogAppends(t *testing.T) {
	t.Setenv(DirEnv, "")
	dir := t.TempDir()

	l, err := Open(dir, "epic.1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := l.Section("attempt 1"); err != nil {
		t.Fatalf("Section: %v", err)
	}
	if _, err := l.Write([]byte("first output\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	l.Close()

	// Re-opening must append, not truncate.
	l, err = Open(dir, "epic.1")
	if err != nil {
		t.Fatalf("re-Open: %v", err)
	}
	if _, err := l.Write([]byte("second output\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	l.Close()

	data, err := os.ReadFile(filepath.Join(dir, "epic.1.log"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "first output") || !strings.Contains(content, "second output") {
		t.Errorf("log should contain both writes, got:\n%s", content)
	}
	if !strings.Contains(content, "attempt 1") {
		t.Errorf("log should contain the section header")
	}
}
