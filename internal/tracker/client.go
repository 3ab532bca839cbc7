// Package tracker drives the bd issue-tracker CLI as a subprocess,
// JSON in and out. The tracker owns task storage and the dependency
// graph; this client only reads and mutates it at the command boundary.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// execFunc runs one tracker invocation and returns its stdout.
// Swappable in tests.
type execFunc func(ctx context.Context, args ...string) ([]byte, error)

// Client invokes the bd CLI.
type Client struct {
	bin  string
	dir  string
	exec execFunc
}

// New creates a client for the given bd binary, run from workDir.
func New(bin, workDir string) *Client {
	if bin == "" {
		bin = "bd"
	}
	c := &Client{bin: bin, dir: workDir}
	c.exec = c.run
	return c
}

func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.bin, args...)
	cmd.Dir = c.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("bd %s failed: %w (output: %s)",
			strings.Join(args, " "), err, strings.TrimSpace(stderr.String()+stdout.String()))
	}
	return stdout.Bytes(), nil
}

// Ready returns tasks whose status is open and whose dependencies are all
// closed, scoped to the given parent epic. Empty output is no data.
func (c *Client) Ready(ctx context.Context, epicID string, limit int) ([]Summary, error) {
	args := []string{"ready", "--json"}
	if epicID != "" {
		args = append(args, "--parent", epicID)
	}
	if limit > 0 {
		args = append(args, "--limit", strconv.Itoa(limit))
	}
	out, err := c.exec(ctx, args...)
	if err != nil {
		return nil, err
	}
	return decodeSummaries(out), nil
}

// Show fetches the full task record, normalizing the object-or-array
// shape the CLI produces.
func (c *Client) Show(ctx context.Context, id string) (*Task, error) {
	out, err := c.exec(ctx, "show", id, "--json")
	if err != nil {
		return nil, err
	}
	return decodeTask(out)
}

// Labels returns the label set attached to a task.
func (c *Client) Labels(ctx context.Context, id string) ([]string, error) {
	out, err := c.exec(ctx, "label", "list", id, "--json")
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return nil, nil
	}
	var labels []string
	if err := json.Unmarshal(trimmed, &labels); err != nil {
		return nil, nil
	}
	return labels, nil
}

// SetStatus updates a task's status.
func (c *Client) SetStatus(ctx context.Context, id, status string) error {
	_, err := c.exec(ctx, "update", id, "--status", status)
	return err
}

// Comment appends a comment to a task.
func (c *Client) Comment(ctx context.Context, id, text string) error {
	_, err := c.exec(ctx, "comment", id, text)
	return err
}

// AddDependency records that id is blocked by dependsOn.
func (c *Client) AddDependency(ctx context.Context, id, dependsOn string) error {
	_, err := c.exec(ctx, "dep", "add", id, dependsOn)
	return err
}

// SetParent attaches a task to a parent epic.
func (c *Client) SetParent(ctx context.Context, id, parent string) error {
	_, err := c.exec(ctx, "update", id, "--parent", parent)
	return err
}

// ListByParent returns all tasks whose parent is the given id, in
// storage order. Callers needing plan order sort with taskid.
func (c *Client) ListByParent(ctx context.Context, parent string) ([]Summary, error) {
	out, err := c.exec(ctx, "list", "--parent", parent, "--json")
	if err != nil {
		return nil, err
	}
	return decodeSummaries(out), nil
}

// List returns all tasks known to the tracker, in storage order.
func (c *Client) List(ctx context.Context) ([]Summary, error) {
	out, err := c.exec(ctx, "list", "--json")
	if err != nil {
		return nil, err
	}
	return decodeSummaries(out), nil
}

// Create creates a task with an explicit id. Creation is idempotent: if
// the id already exists the existing id is returned without error.
func (c *Client) Create(ctx context.Context, id, title string) (string, error) {
	_, err := c.exec(ctx, "create", "--id", id, "--title", title, "--json")
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return id, nil
		}
		return "", err
	}
	return id, nil
}
