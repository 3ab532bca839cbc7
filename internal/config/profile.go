package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// WorkerInvocation describes how a profile's worker binary is invoked.
type WorkerInvocation struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// AgentProfile maps one routing label to a worker invocation. Profiles
// are immutable once loaded; one profile per label, plus a mandatory
// fallback for unlabeled or unmatched tasks.
type AgentProfile struct {
	Name         string           `json:"name"`
	Label        string           `json:"label"`
	Worker       WorkerInvocation `json:"worker"`
	Model        string           `json:"model,omitempty"`
	Instructions string           `json:"instructions"`
}

// LoadProfile reads and validates an agent profile file. Absence of any
// required field is a load-time fatal error.
func LoadProfile(path string) (*AgentProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile %s: %w", path, err)
	}

	var p AgentProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing profile %s: %w", path, err)
	}

	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return &p, nil
}

func (p *AgentProfile) validate() error {
	switch {
	case p.Name == "":
		return fmt.Errorf("missing required field %q", "name")
	case p.Label == "":
		return fmt.Errorf("missing required field %q", "label")
	case p.Worker.Command == "":
		return fmt.Errorf("missing required field %q", "worker.command")
	case p.Instructions == "":
		return fmt.Errorf("missing required field %q", "instructions")
	}
	return nil
}

// FallbackProfile builds the designated fallback from the top-level
// worker configuration.
func (c *Config) FallbackProfile() *AgentProfile {
	return &AgentProfile{
		Name:   c.Worker.Name,
		Label:  "",
		Worker: WorkerInvocation{Command: c.Worker.Command},
	}
}

// LoadProfiles loads every profile referenced by the routing table,
// keyed by routing label.
func (c *Config) LoadProfiles() (map[string]*AgentProfile, error) {
	profiles := make(map[string]*AgentProfile, len(c.Routing))
	for label, path := range c.Routing {
		p, err := LoadProfile(path)
		if err != nil {
			return nil, err
		}
		profiles[label] = p
	}
	return profiles, nil
}
