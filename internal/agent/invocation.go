// Package agent spawns and supervises external worker processes: one
// subprocess per task attempt, with timeout enforcement, bounded output
// tails, and a retry-capable wrapper for standalone delegation.
package agent

import (
	"github.com/ralphloop/ralph/internal/config"
)

// Invocation is a fully built worker command line.
type Invocation struct {
	Command string
	Args    []string
	Env     map[string]string
}

// BuilderFunc turns a profile and prompt into an invocation for one
// worker kind. Builders are pure; adding a worker kind means registering
// one function here.
type BuilderFunc func(profile *config.AgentProfile, prompt string, extraArgs []string) Invocation

var builders = map[string]BuilderFunc{}

// Register installs the builder for a worker kind. Called once at
// startup; later registrations for the same kind replace the earlier one.
func Register(kind string, fn BuilderFunc) {
	builders[kind] = fn
}

// Build constructs the invocation for the given worker kind, falling
// back to the generic builder for unknown kinds.
func Build(kind string, profile *config.AgentProfile, prompt string, extraArgs []string) Invocation {
	if fn, ok := builders[kind]; ok {
		return fn(profile, prompt, extraArgs)
	}
	return buildGeneric(profile, prompt, extraArgs)
}

func init() {
	Register("claude", buildClaude)
	Register("codex", buildCodex)
}

// buildClaude invokes Claude Code in non-interactive print mode. The
// permissions flag prevents hanging on interactive prompts during an
// unattended run.
func buildClaude(profile *config.AgentProfile, prompt string, extraArgs []string) Invocation {
	args := []string{"-p", prompt, "--dangerously-skip-permissions"}
	if profile.Model != "" {
		args = append(args, "--model", profile.Model)
	}
	args = append(args, profile.Worker.Args...)
	args = append(args, extraArgs...)
	return Invocation{Command: profile.Worker.Command, Args: args, Env: profile.Worker.Env}
}

// buildCodex invokes Codex CLI in full-auto exec mode.
func buildCodex(profile *config.AgentProfile, prompt string, extraArgs []string) Invocation {
	args := []string{"exec", "--full-auto"}
	if profile.Model != "" {
		args = append(args, "--model", profile.Model)
	}
	args = append(args, profile.Worker.Args...)
	args = append(args, extraArgs...)
	args = append(args, prompt)
	return Invocation{Command: profile.Worker.Command, Args: args, Env: profile.Worker.Env}
}

// buildGeneric appends the prompt as the final positional argument.
func buildGeneric(profile *config.AgentProfile, prompt string, extraArgs []string) Invocation {
	args := append([]string{}, profile.Worker.Args...)
	args = append(args, extraArgs...)
	args = append(args, prompt)
	return Invocation{Command: profile.Worker.Command, Args: args, Env: profile.Worker.Env}
}
