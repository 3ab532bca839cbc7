// Package notify sends a best-effort wake notification after a run
// completes. Delivery failures are logged and swallowed: the run's
// outcome is already persisted, the notification is only a convenience.
package notify

import (
	"context"
	"log"
	"os/exec"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// Notifier runs a configured shell command with the run summary as its
// final argument.
type Notifier struct {
	command string
	timeout time.Duration

	// Swappable in tests.
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// New creates a notifier for the given command line. An empty command
// disables notification.
func New(command string) *Notifier {
	return &Notifier{
		command: command,
		timeout: defaultTimeout,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

// Send delivers the summary. It never returns an error; failures are
// logged and swallowed.
func (n *Notifier) Send(ctx context.Context, summary string) {
	if n.command == "" {
		return
	}

	fields := strings.Fields(n.command)
	args := append(fields[1:], summary)

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	if out, err := n.run(ctx, fields[0], args...); err != nil {
		log.Printf("WARNING: wake notification failed: %v (output: %s)", err, strings.TrimSpace(string(out)))
	}
}
