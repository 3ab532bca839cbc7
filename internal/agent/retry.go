package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// RetryConfig configures the retry-capable runner used by standalone
// delegation.
type RetryConfig struct {
	MaxAttempts   int           // attempts per dispatch (default 3)
	InitialDelay  time.Duration // delay before the second attempt (default 1s)
	BackoffFactor float64       // multiplier applied after each failure (default 1.5)
	MaxDelay      time.Duration // cap applied after jitter; 0 means uncapped
	Jitter        bool          // perturb each delay by +/-25%
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Second,
		BackoffFactor: 1.5,
		MaxDelay:      30 * time.Second,
		Jitter:        true,
	}
}

// delaySchedule produces the sleep durations between attempts. The base
// sequence comes from an exponential backoff policy with randomization
// disabled; jitter and the cap are applied on top so a jittered delay
// can never exceed the configured maximum.
type delaySchedule struct {
	policy *backoff.ExponentialBackOff
	cfg    RetryConfig
	rng    *rand.Rand
}

func newDelaySchedule(cfg RetryConfig) *delaySchedule {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.InitialDelay
	policy.Multiplier = cfg.BackoffFactor
	policy.RandomizationFactor = 0
	policy.MaxInterval = time.Duration(1<<62 - 1)
	policy.MaxElapsedTime = 0
	policy.Reset()

	return &delaySchedule{
		policy: policy,
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the delay to sleep before the next attempt. Delays are
// always computed before the attempt they precede, never retroactively.
func (s *delaySchedule) Next() time.Duration {
	d := s.policy.NextBackOff()
	if s.cfg.Jitter {
		// +/-25% of the un-jittered value.
		factor := 0.75 + s.rng.Float64()*0.5
		d = time.Duration(float64(d) * factor)
	}
	if s.cfg.MaxDelay > 0 && d > s.cfg.MaxDelay {
		d = s.cfg.MaxDelay
	}
	return d
}

// failurePatterns maps a worker kind to output substrings that identify
// known transient failures. Matches are logged for diagnosis; retry
// behavior treats all non-zero exits identically.
var failurePatterns = map[string][]string{
	"claude": {
		"Connection error",
		"overloaded_error",
		"rate_limit_error",
		"stream disconnected",
	},
	"codex": {
		"stream disconnected",
		"connection reset",
	},
}

// DetectFailure scans attempt output for a worker-specific transient
// failure pattern. Returns the matched pattern and whether one matched.
func DetectFailure(kind, output string) (string, bool) {
	for _, p := range failurePatterns[kind] {
		if strings.Contains(output, p) {
			return p, true
		}
	}
	return "", false
}

// BreakerRegistry manages per-worker-kind circuit breakers. A worker
// binary that fails five times in a row trips its breaker and stops
// further dispatch attempts until it cools down.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerRegistry creates an empty registry.
func NewBreakerRegistry() *BreakerRegistry {
	return &BreakerRegistry{breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

// Get returns the circuit breaker for the given worker kind, creating
// it on first use.
func (r *BreakerRegistry) Get(kind string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[kind]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        kind,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("circuit breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			// User cancellation is not a worker failure.
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return false
		},
	})

	r.breakers[kind] = cb
	return cb
}

// AttemptLog receives the per-attempt section headers ahead of streamed
// worker output. logs.TaskLog satisfies it.
type AttemptLog interface {
	Write(p []byte) (int, error)
	Section(title string) error
}

// errAttemptFailed marks a non-success outcome for breaker accounting.
var errAttemptFailed = errors.New("attempt did not succeed")

// RetryRunner wraps repeated Run invocations with backoff, jitter, and a
// circuit breaker per worker kind.
type RetryRunner struct {
	cfg      RetryConfig
	breakers *BreakerRegistry

	// Swappable in tests.
	run   func(ctx context.Context, inv Invocation, sink io.Writer, opts RunOptions) (*Attempt, error)
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryRunner creates a retry runner with the given configuration.
func NewRetryRunner(cfg RetryConfig) *RetryRunner {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultRetryConfig().MaxAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultRetryConfig().InitialDelay
	}
	if cfg.BackoffFactor <= 1 {
		cfg.BackoffFactor = DefaultRetryConfig().BackoffFactor
	}

	return &RetryRunner{
		cfg:      cfg,
		breakers: NewBreakerRegistry(),
		run:      Run,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run executes up to MaxAttempts attempts of the invocation, writing a
// timestamped section to alog ahead of each one. It returns the final
// attempt; a nil error with a non-success outcome means the retries were
// exhausted.
func (r *RetryRunner) Run(ctx context.Context, kind string, inv Invocation, alog AttemptLog, opts RunOptions) (*Attempt, error) {
	cb := r.breakers.Get(kind)
	sched := newDelaySchedule(r.cfg)

	var last *Attempt
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if err := alog.Section(fmt.Sprintf("attempt %d/%d: %s", attempt, r.cfg.MaxAttempts, inv.Command)); err != nil {
			return nil, fmt.Errorf("failed to write log section: %w", err)
		}

		result, err := cb.Execute(func() (interface{}, error) {
			att, runErr := r.run(ctx, inv, alog, opts)
			if runErr != nil {
				return nil, runErr
			}
			if att.Outcome != OutcomeSuccess {
				return att, errAttemptFailed
			}
			return att, nil
		})

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return last, fmt.Errorf("worker %q circuit open: %w", kind, err)
		}
		if err != nil && !errors.Is(err, errAttemptFailed) {
			return last, err
		}

		att := result.(*Attempt)
		att.Number = attempt
		last = att

		if att.Outcome == OutcomeSuccess {
			return att, nil
		}

		if pattern, ok := DetectFailure(kind, att.Tail); ok {
			log.Printf("detected known %s failure pattern %q on attempt %d", kind, pattern, attempt)
		}

		if attempt < r.cfg.MaxAttempts {
			delay := sched.Next()
			log.Printf("attempt %d/%d %s (exit %d), retrying in %s",
				attempt, r.cfg.MaxAttempts, att.Outcome, att.ExitCode, delay.Round(time.Millisecond))
			if err := r.sleep(ctx, delay); err != nil {
				return last, err
			}
		}
	}

	return last, nil
}
