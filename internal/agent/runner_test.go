package agent

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func shInvocation(script string) Invocation {
	return Invocation{Command: "sh", Args: []string{"-c", script}}
}

func TestRunSuccess(t *testing.T) {
	var sink bytes.Buffer
	att, err := Run(context.Background(), shInvocation("echo hello"), &sink, RunOptions{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if att.Outcome != OutcomeSuccess {
		t.Errorf("outcome = %s, want success", att.Outcome)
	}
	if att.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", att.ExitCode)
	}
	if !strings.Contains(sink.String(), "hello") {
		t.Errorf("sink missing output: %q", sink.String())
	}
	if !strings.Contains(att.Tail, "hello") {
		t.Errorf("tail missing output: %q", att.Tail)
	}
}

func TestRunFailure(t *testing.T) {
	att, err := Run(context.Background(), shInvocation("echo broken >&2; exit 3"), nil, RunOptions{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if att.Outcome != OutcomeFailed {
		t.Errorf("outcome = %s, want failed", att.Outcome)
	}
	if att.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", att.ExitCode)
	}
	if !strings.Contains(att.Tail, "broken") {
		t.Errorf("stderr should land in the tail, got %q", att.Tail)
	}
}

func TestRunTimeout(t *testing.T) {
	start := time.Now()
	att, err := Run(context.Background(), shInvocation("sleep 10"), nil, RunOptions{Timeout: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if att.Outcome != OutcomeTimeout {
		t.Errorf("outcome = %s, want timeout", att.Outcome)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout took %s, process was not killed promptly", elapsed)
	}
}

func TestClassifyTimeoutWinsOverExitZero(t *testing.T) {
	// The ordering guard: a process observed exiting 0 after the timeout
	// fired must still be reported as a timeout, never a success.
	if got := classify(true, 0); got != OutcomeTimeout {
		t.Errorf("classify(timedOut, exit 0) = %s, want timeout", got)
	}
	if got := classify(true, 1); got != OutcomeTimeout {
		t.Errorf("classify(timedOut, exit 1) = %s, want timeout", got)
	}
	if got := classify(false, 0); got != OutcomeSuccess {
		t.Errorf("classify(clean, exit 0) = %s, want success", got)
	}
	if got := classify(false, 2); got != OutcomeFailed {
		t.Errorf("classify(clean, exit 2) = %s, want failed", got)
	}
}

func TestRunBoundedTail(t *testing.T) {
	var sink bytes.Buffer
	att, err := Run(context.Background(),
		shInvocation("i=0; while [ $i -lt 500 ]; do echo line-$i; i=$((i+1)); done"),
		&sink, RunOptions{Timeout: 10 * time.Second, TailBytes: 256})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(att.Tail) > 256 {
		t.Errorf("tail length = %d, want <= 256", len(att.Tail))
	}
	if !strings.Contains(att.Tail, "line-499") {
		t.Errorf("tail should keep the end of the output, got %q", att.Tail)
	}
	// The sink gets everything byte-for-byte.
	if !strings.Contains(sink.String(), "line-0\n") || !strings.Contains(sink.String(), "line-499") {
		t.Errorf("sink should receive the full stream")
	}
}

func TestRunEnvOverrides(t *testing.T) {
	inv := Invocation{
		Command: "sh",
		Args:    []string{"-c", "echo value=$RALPH_TEST_VAR"},
		Env:     map[string]string{"RALPH_TEST_VAR": "wired"},
	}
	att, err := Run(context.Background(), inv, nil, RunOptions{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(att.Tail, "value=wired") {
		t.Errorf("env override not applied, tail = %q", att.Tail)
	}
}

func TestRunMissingBinary(t *testing.T) {
	_, err := Run(context.Background(), Invocation{Command: "ralph-no-such-binary"}, nil, RunOptions{})
	if err == nil {
		t.Fatal("expected spawn error for a missing binary")
	}
}
