// Package config loads orchestrator configuration and agent profiles.
// Configuration merges global then project JSON files, with environment
// overrides applied last.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// MaxIterationsEnv overrides the configured iteration limit when it
// parses as a positive integer.
const MaxIterationsEnv = "RALPH_MAX_ITERATIONS"

// WorkerConfig names the default worker used when routing falls back.
type WorkerConfig struct {
	Name    string `json:"name"`
	Command string `json:"command"`
}

// Config is the top-level orchestrator configuration.
type Config struct {
	Worker        WorkerConfig      `json:"worker"`
	Routing       map[string]string `json:"routing"` // label -> profile file path
	MaxIterations int               `json:"max_iterations"`
	LogDir        string            `json:"log_dir"`
	TrackerDB     string            `json:"tracker_db"`
	RoleNames     map[string]string `json:"role_names"`
	NotifyCommand string            `json:"notify_command"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Worker:        WorkerConfig{Name: "claude", Command: "claude"},
		Routing:       map[string]string{},
		MaxIterations: 50,
		TrackerDB:     filepath.Join(".beads", "beads.db"),
		RoleNames:     map[string]string{},
	}
}

// Load reads and merges configuration from global and project paths.
// Precedence (highest to lowest): environment, project config, global
// config, defaults. Missing files are not errors; malformed JSON is.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.ralph/config.json. Project: .ralph/config.json.
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}
	return Load(
		filepath.Join(homeDir, ".ralph", "config.json"),
		filepath.Join(".ralph", "config.json"),
	)
}

func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if loaded.Worker.Name != "" {
		base.Worker.Name = loaded.Worker.Name
	}
	if loaded.Worker.Command != "" {
		base.Worker.Command = loaded.Worker.Command
	}
	if loaded.MaxIterations > 0 {
		base.MaxIterations = loaded.MaxIterations
	}
	if loaded.LogDir != "" {
		base.LogDir = loaded.LogDir
	}
	if loaded.TrackerDB != "" {
		base.TrackerDB = loaded.TrackerDB
	}
	if loaded.NotifyCommand != "" {
		base.NotifyCommand = loaded.NotifyCommand
	}
	for label, profile := range loaded.Routing {
		base.Routing[label] = profile
	}
	for role, display := range loaded.RoleNames {
		base.RoleNames[role] = display
	}

	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(MaxIterationsEnv); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxIterations = n
		}
	}
}
