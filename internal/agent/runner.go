package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// Outcome classifies how an attempt ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeTimeout Outcome = "timeout"
)

// Attempt records one subprocess execution. Attempts are transient and
// survive only in logs and failure comments.
type Attempt struct {
	Number     int
	StartedAt  time.Time
	FinishedAt time.Time
	ExitCode   int
	Tail       string
	Outcome    Outcome
}

// RunOptions configures a single execution.
type RunOptions struct {
	Timeout   time.Duration // wall-clock limit; 0 means no limit
	Dir       string        // working directory for the subprocess
	TailBytes int           // bounded tail size; defaults to 4096
}

const defaultTailBytes = 4096

// tailBuffer retains the last max bytes written to it. Safe for
// concurrent writers since stdout and stderr drain in parallel.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	if max <= 0 {
		max = defaultTailBytes
	}
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// newCommand creates an exec.Cmd with process group isolation so the
// whole subprocess tree can be terminated together.
func newCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = 5 * time.Second
	return cmd
}

// killProcessGroup sends SIGKILL to the entire process group (negative
// PID), preventing orphaned grandchildren.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill process group: %w", err)
	}
	return nil
}

// Run spawns exactly one subprocess for the invocation, streams its
// stdout and stderr byte-for-byte to sink while retaining a bounded
// tail, and resolves when the process exits or the timeout fires.
//
// Classification order matters: a fired timeout always classifies the
// attempt as OutcomeTimeout, even if the observed exit code is 0. A
// process that exits cleanly right as it is killed must not be reported
// as a success.
func Run(ctx context.Context, inv Invocation, sink io.Writer, opts RunOptions) (*Attempt, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := newCommand(runCtx, inv.Command, inv.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = os.Environ()
	for k, v := range inv.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	tail := newTailBuffer(opts.TailBytes)
	out := io.Writer(tail)
	if sink != nil {
		out = io.MultiWriter(sink, tail)
	}

	attempt := &Attempt{Number: 1, StartedAt: time.Now()}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", inv.Command, err)
	}

	// Drain both pipes before Wait so output larger than the pipe buffer
	// cannot deadlock the subprocess.
	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(out, stdoutPipe)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(out, stderrPipe)
		return err
	})
	_ = g.Wait()

	waitErr := cmd.Wait()

	attempt.FinishedAt = time.Now()
	attempt.Tail = tail.String()
	attempt.ExitCode = exitCode(waitErr)
	attempt.Outcome = classify(errors.Is(runCtx.Err(), context.DeadlineExceeded), attempt.ExitCode)

	return attempt, nil
}

func exitCode(waitErr error) int {
	if waitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// classify resolves the outcome. The timeout check comes first: it wins
// over any exit code.
func classify(timedOut bool, code int) Outcome {
	switch {
	case timedOut:
		return OutcomeTimeout
	case code == 0:
		return OutcomeSuccess
	default:
		return OutcomeFailed
	}
}
