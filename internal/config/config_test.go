package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(MaxIterationsEnv, "")

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxIterations != 50 {
		t.Errorf("MaxIterations = %d, want default 50", cfg.MaxIterations)
	}
	if cfg.Worker.Command != "claude" {
		t.Errorf("Worker.Command = %q, want claude", cfg.Worker.Command)
	}
}

func TestLoadMergesProjectOverGlobal(t *testing.T) {
	t.Setenv(MaxIterationsEnv, "")
	dir := t.TempDir()

	global := writeFile(t, dir, "global.json", `{
		"max_iterations": 10,
		"routing": {"engineering": "profiles/eng.json"},
		"log_dir": "/var/log/ralph"
	}`)
	project := writeFile(t, dir, "project.json", `{
		"max_iterations": 25,
		"routing": {"review-needed": "profiles/review.json"}
	}`)

	cfg, err := Load(global, project)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxIterations != 25 {
		t.Errorf("project config should win, MaxIterations = %d", cfg.MaxIterations)
	}
	if cfg.LogDir != "/var/log/ralph" {
		t.Errorf("global-only field lost, LogDir = %q", cfg.LogDir)
	}
	if len(cfg.Routing) != 2 {
		t.Errorf("routing tables should merge, got %v", cfg.Routing)
	}
}

func TestLoadMissingFilesAreNotErrors(t *testing.T) {
	t.Setenv(MaxIterationsEnv, "")
	if _, err := Load("/nonexistent/a.json", "/nonexistent/b.json"); err != nil {
		t.Errorf("missing config files should be skipped, got %v", err)
	}
}

func TestLoadMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, "bad.json", `{not json`)
	if _, err := Load(bad, ""); err == nil {
		t.Error("expected error for malformed config")
	}
}

func TestMaxIterationsEnvOverride(t *testing.T) {
	dir := t.TempDir()
	project := writeFile(t, dir, "project.json", `{"max_iterations": 25}`)

	t.Setenv(MaxIterationsEnv, "7")
	cfg, err := Load("", project)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxIterations != 7 {
		t.Errorf("env override should win, MaxIterations = %d", cfg.MaxIterations)
	}

	// Non-positive or garbage values are ignored.
	for _, v := range []string{"0", "-3", "lots"} {
		t.Setenv(MaxIterationsEnv, v)
		cfg, err = Load("", project)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.MaxIterations != 25 {
			t.Errorf("override %q should be ignored, MaxIterations = %d", v, cfg.MaxIterations)
		}
	}
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "eng.json", `{
		"name": "engineering",
		"label": "engineering",
		"worker": {"command": "claude", "env": {"CLAUDE_MODEL_TIER": "strong"}},
		"model": "strong",
		"instructions": "instructions/engineering.md"
	}`)

	p, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if p.Name != "engineering" || p.Worker.Command != "claude" {
		t.Errorf("unexpected profile: %+v", p)
	}
	if p.Worker.Env["CLAUDE_MODEL_TIER"] != "strong" {
		t.Errorf("env overrides not parsed: %v", p.Worker.Env)
	}
}

func TestLoadProfileRequiredFields(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{"missing name", `{"label":"l","worker":{"command":"c"},"instructions":"i.md"}`},
		{"missing label", `{"name":"n","worker":{"command":"c"},"instructions":"i.md"}`},
		{"missing worker command", `{"name":"n","label":"l","worker":{},"instructions":"i.md"}`},
		{"missing instructions", `{"name":"n","label":"l","worker":{"command":"c"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, "p.json", tt.content)
			if _, err := LoadProfile(path); err == nil {
				t.Errorf("expected validation error for %s", tt.name)
			}
		})
	}
}
