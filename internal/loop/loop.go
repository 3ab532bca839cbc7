// Package loop drives the run: per iteration it selects the next ready
// task under the epic, routes it to an agent profile, dispatches the
// worker process, and updates tracker status and execution metadata from
// the outcome. Exactly one task is in flight at any time.
package loop

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gammazero/toposort"

	"github.com/ralphloop/ralph/internal/agent"
	"github.com/ralphloop/ralph/internal/config"
	"github.com/ralphloop/ralph/internal/events"
	"github.com/ralphloop/ralph/internal/logs"
	"github.com/ralphloop/ralph/internal/metadata"
	"github.com/ralphloop/ralph/internal/router"
	"github.com/ralphloop/ralph/internal/taskid"
	"github.com/ralphloop/ralph/internal/tracker"
)

// FailureThreshold is the failure count at which a task is blocked.
// Reaching it is a one-way transition; only a human unblocks the task.
const FailureThreshold = 5

const (
	defaultTimeout    = time.Hour
	defaultReadyLimit = 10
	defaultIterations = 50
)

// Tracker is the slice of the tracker client the loop needs.
type Tracker interface {
	Ready(ctx context.Context, epicID string, limit int) ([]tracker.Summary, error)
	Show(ctx context.Context, id string) (*tracker.Task, error)
	Labels(ctx context.Context, id string) ([]string, error)
	SetStatus(ctx context.Context, id, status string) error
	Comment(ctx context.Context, id, text string) error
	ListByParent(ctx context.Context, parent string) ([]tracker.Summary, error)
}

// Store is the slice of the metadata store the loop needs.
type Store interface {
	GetOrCreate(ctx context.Context, taskID string) (*metadata.Record, error)
	Apply(ctx context.Context, taskID string, u metadata.Update) error
}

// DispatchFunc runs one worker invocation. agent.Run in production.
type DispatchFunc func(ctx context.Context, inv agent.Invocation, sink io.Writer, opts agent.RunOptions) (*agent.Attempt, error)

// TaskSink receives streamed worker output for one task.
type TaskSink interface {
	io.Writer
	Section(title string) error
	Close() error
}

// Options configures a run.
type Options struct {
	EpicID        string
	MaxIterations int           // defaults to 50
	Timeout       time.Duration // per-dispatch wall clock, defaults to 1h
	ReadyLimit    int           // tracker query limit, defaults to 10
	LogDir        string
	RepoDir       string // working directory for dispatched workers
}

// Result summarizes a completed run.
type Result struct {
	EpicID     string
	Reason     string
	Iterations int
	Succeeded  int
	Failed     int
	Blocked    int
}

// Summary renders the result as a single line for notifications.
func (r Result) Summary() string {
	return fmt.Sprintf("epic %s: %s after %d iterations (%d succeeded, %d failed, %d blocked)",
		r.EpicID, r.Reason, r.Iterations, r.Succeeded, r.Failed, r.Blocked)
}

// Loop is the single-threaded execution driver.
type Loop struct {
	tracker  Tracker
	store    Store
	table    map[string]*config.AgentProfile
	fallback *config.AgentProfile
	bus      *events.Bus
	opts     Options

	// Swappable in tests.
	dispatch DispatchFunc
	openLog  func(taskID string) (TaskSink, error)
	readFile func(path string) ([]byte, error)
}

// New creates a loop. bus may be nil when nothing subscribes.
func New(tr Tracker, store Store, table map[string]*config.AgentProfile, fallback *config.AgentProfile, bus *events.Bus, opts Options) *Loop {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = defaultIterations
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.ReadyLimit <= 0 {
		opts.ReadyLimit = defaultReadyLimit
	}

	l := &Loop{
		tracker:  tr,
		store:    store,
		table:    table,
		fallback: fallback,
		bus:      bus,
		opts:     opts,
		dispatch: agent.Run,
		readFile: os.ReadFile,
	}
	l.openLog = func(taskID string) (TaskSink, error) {
		return logs.Open(opts.LogDir, taskID)
	}
	return l
}

// Run executes iterations until the epic halts, no ready tasks remain,
// or the iteration cap is reached. Ready tasks are re-queried fresh
// every iteration so externally completed dependencies are picked up
// without a restart.
func (l *Loop) Run(ctx context.Context) (*Result, error) {
	if err := l.validatePlan(ctx); err != nil {
		return nil, err
	}

	res := &Result{EpicID: l.opts.EpicID}
	defer l.publishFinished(res)

	for res.Iterations < l.opts.MaxIterations {
		if err := ctx.Err(); err != nil {
			res.Reason = "canceled"
			return res, err
		}
		res.Iterations++

		halted, err := l.epicHalted(ctx, res)
		if err != nil {
			return res, err
		}
		if halted {
			return res, nil
		}

		ready, err := l.readyTasks(ctx)
		if err != nil {
			return res, err
		}
		if len(ready) == 0 {
			res.Reason = "no ready tasks"
			return res, nil
		}

		if err := l.runIteration(ctx, ready[0].ID, res); err != nil {
			return res, err
		}
	}

	res.Reason = "iteration limit reached"
	return res, nil
}

// epicHalted reports whether the epic's own status stops the run.
func (l *Loop) epicHalted(ctx context.Context, res *Result) (bool, error) {
	epic, err := l.tracker.Show(ctx, l.opts.EpicID)
	if err != nil {
		return false, fmt.Errorf("failed to check epic %s: %w", l.opts.EpicID, err)
	}
	if epic.Status == tracker.StatusBlocked || epic.Status == tracker.StatusClosed {
		res.Reason = "epic " + epic.Status
		return true, nil
	}
	return false, nil
}

// readyTasks queries ready tasks scoped to the epic, falling back to an
// unscoped query filtered by id prefix or parent link. Some tracker
// configurations do not propagate parent links to programmatically
// created ids, which makes the scoped query come back empty.
func (l *Loop) readyTasks(ctx context.Context) ([]tracker.Summary, error) {
	ready, err := l.tracker.Ready(ctx, l.opts.EpicID, l.opts.ReadyLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ready tasks: %w", err)
	}

	if len(ready) == 0 {
		all, err := l.tracker.Ready(ctx, "", l.opts.ReadyLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to query ready tasks (unscoped): %w", err)
		}
		prefix := l.opts.EpicID + "."
		for _, s := range all {
			if strings.HasPrefix(s.ID, prefix) || s.ParentID == l.opts.EpicID {
				ready = append(ready, s)
			}
		}
	}

	// Plan order, not storage order.
	sort.Slice(ready, func(i, j int) bool {
		return taskid.Less(ready[i].ID, ready[j].ID)
	})
	return ready, nil
}

// runIteration dispatches a single task end to end.
func (l *Loop) runIteration(ctx context.Context, taskID string, res *Result) error {
	task, err := l.tracker.Show(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to fetch task %s: %w", taskID, err)
	}

	rec, err := l.store.GetOrCreate(ctx, task.ID)
	if err != nil {
		return err
	}
	execCount := rec.ExecutionCount + 1
	if err := l.store.Apply(ctx, task.ID, metadata.Update{ExecutionCount: &execCount}); err != nil {
		return err
	}

	// The threshold check runs before dispatch so a task blocked in a
	// previous run never gets another attempt.
	if rec.FailureCount >= FailureThreshold {
		return l.blockTask(ctx, task.ID, rec.FailureCount, res)
	}

	if err := l.tracker.SetStatus(ctx, task.ID, tracker.StatusInProgress); err != nil {
		return fmt.Errorf("failed to mark %s in progress: %w", task.ID, err)
	}

	resolution := router.Resolve(task.Labels, l.table, l.fallback)
	switch resolution.FallbackReason {
	case router.ReasonNoLabels:
		log.Printf("task %s has no labels, using fallback profile %q", task.ID, resolution.Profile.Name)
	case router.ReasonNoMatch:
		log.Printf("task %s labels %v match no profile, using fallback %q", task.ID, task.Labels, resolution.Profile.Name)
	default:
		if extra := router.ExtraMatches(task.Labels, l.table, resolution.MatchedLabel); len(extra) > 0 {
			log.Printf("task %s matches multiple profiles, using %q (also matched: %v)",
				task.ID, resolution.MatchedLabel, extra)
		}
	}

	prompt, err := l.assemblePrompt(ctx, task, resolution.Profile)
	if err != nil {
		return err
	}

	attempt, err := l.dispatchTask(ctx, task, resolution.Profile, prompt)
	if err != nil {
		return err
	}

	return l.recordOutcome(ctx, task.ID, attempt, rec.FailureCount, res)
}

func (l *Loop) assemblePrompt(ctx context.Context, task *tracker.Task, profile *config.AgentProfile) (string, error) {
	guidance := ""
	if profile.Instructions != "" {
		data, err := l.readFile(profile.Instructions)
		if err != nil {
			log.Printf("WARNING: failed to read instructions %s: %v", profile.Instructions, err)
		} else {
			guidance = string(data)
		}
	}

	parent := task.ParentID
	if parent == "" {
		parent = l.opts.EpicID
	}
	siblings, err := l.tracker.ListByParent(ctx, parent)
	if err != nil {
		return "", fmt.Errorf("failed to list sibling tasks of %s: %w", parent, err)
	}

	return BuildPrompt(task, guidance, siblings), nil
}

func (l *Loop) dispatchTask(ctx context.Context, task *tracker.Task, profile *config.AgentProfile, prompt string) (*agent.Attempt, error) {
	sink, err := l.openLog(task.ID)
	if err != nil {
		return nil, err
	}
	defer sink.Close()

	kind := workerKind(profile)
	inv := agent.Build(kind, profile, prompt, nil)

	if err := sink.Section(fmt.Sprintf("dispatch %s via %s", task.ID, kind)); err != nil {
		return nil, fmt.Errorf("failed to write log section: %w", err)
	}

	l.publish(events.TopicTask, events.TaskDispatchedEvent{
		ID:        task.ID,
		Title:     task.Title,
		Profile:   profile.Name,
		Timestamp: time.Now(),
	})
	log.Printf("dispatching %s (%s) via %s", task.ID, task.Title, kind)

	attempt, err := l.dispatch(ctx, inv, sink, agent.RunOptions{
		Timeout: l.opts.Timeout,
		Dir:     l.opts.RepoDir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dispatch %s: %w", task.ID, err)
	}
	return attempt, nil
}

// recordOutcome updates tracker and metadata from the finished attempt.
// On success only last_success_at is recorded; closing the task is the
// worker's responsibility, and a worker that exits 0 without closing its
// task will be re-selected on the next iteration.
func (l *Loop) recordOutcome(ctx context.Context, taskID string, attempt *agent.Attempt, priorFailures int, res *Result) error {
	if attempt.Outcome == agent.OutcomeSuccess {
		now := time.Now()
		if err := l.store.Apply(ctx, taskID, metadata.Update{LastSuccessAt: &now}); err != nil {
			return err
		}
		res.Succeeded++
		l.publish(events.TopicTask, events.TaskSucceededEvent{
			ID:        taskID,
			Duration:  attempt.FinishedAt.Sub(attempt.StartedAt),
			Timestamp: time.Now(),
		})
		log.Printf("task %s succeeded in %s", taskID, attempt.FinishedAt.Sub(attempt.StartedAt).Round(time.Second))
		return nil
	}

	if err := l.tracker.SetStatus(ctx, taskID, tracker.StatusOpen); err != nil {
		return fmt.Errorf("failed to reopen %s: %w", taskID, err)
	}

	comment := fmt.Sprintf("dispatch %s (exit code %d)\n\noutput tail:\n%s",
		attempt.Outcome, attempt.ExitCode, attempt.Tail)
	if err := l.tracker.Comment(ctx, taskID, comment); err != nil {
		return fmt.Errorf("failed to comment on %s: %w", taskID, err)
	}

	failures := priorFailures + 1
	now := time.Now()
	if err := l.store.Apply(ctx, taskID, metadata.Update{
		FailureCount:  &failures,
		LastFailureAt: &now,
	}); err != nil {
		return err
	}

	res.Failed++
	l.publish(events.TopicTask, events.TaskFailedEvent{
		ID:           taskID,
		Outcome:      string(attempt.Outcome),
		ExitCode:     attempt.ExitCode,
		FailureCount: failures,
		Timestamp:    time.Now(),
	})
	log.Printf("task %s %s (exit %d), failure %d/%d",
		taskID, attempt.Outcome, attempt.ExitCode, failures, FailureThreshold)

	if failures >= FailureThreshold {
		return l.blockTask(ctx, taskID, failures, res)
	}
	return nil
}

// blockTask performs the one-way transition to blocked.
func (l *Loop) blockTask(ctx context.Context, taskID string, failures int, res *Result) error {
	if err := l.tracker.SetStatus(ctx, taskID, tracker.StatusBlocked); err != nil {
		return fmt.Errorf("failed to block %s: %w", taskID, err)
	}
	comment := fmt.Sprintf("blocked after %d failures; manual intervention required", FailureThreshold)
	if err := l.tracker.Comment(ctx, taskID, comment); err != nil {
		return fmt.Errorf("failed to comment on %s: %w", taskID, err)
	}

	res.Blocked++
	l.publish(events.TopicTask, events.TaskBlockedEvent{
		ID:           taskID,
		FailureCount: failures,
		Timestamp:    time.Now(),
	})
	log.Printf("task %s blocked after %d failures", taskID, failures)
	return nil
}

// validatePlan fetches the epic subtree and topologically sorts its
// dependency graph. A cycle would starve the ready queue forever, so it
// is a startup-fatal error.
func (l *Loop) validatePlan(ctx context.Context) error {
	ids, deps, err := l.collectSubtree(ctx, l.opts.EpicID)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	var edges []toposort.Edge
	for _, id := range ids {
		if len(deps[id]) == 0 {
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, dep := range deps[id] {
			edges = append(edges, toposort.Edge{dep, id})
		}
	}

	if _, err := toposort.Toposort(edges); err != nil {
		return fmt.Errorf("dependency cycle under epic %s: %w", l.opts.EpicID, err)
	}
	return nil
}

// collectSubtree walks parent links breadth-first from the epic and
// returns the subtree's task ids with their dependency lists.
func (l *Loop) collectSubtree(ctx context.Context, epicID string) ([]string, map[string][]string, error) {
	var ids []string
	deps := make(map[string][]string)
	visited := map[string]bool{epicID: true}
	queue := []string{epicID}

	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]

		children, err := l.tracker.ListByParent(ctx, parent)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to list children of %s: %w", parent, err)
		}
		for _, child := range children {
			if visited[child.ID] {
				continue
			}
			visited[child.ID] = true
			queue = append(queue, child.ID)

			task, err := l.tracker.Show(ctx, child.ID)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to fetch task %s: %w", child.ID, err)
			}
			ids = append(ids, task.ID)
			deps[task.ID] = task.Dependencies
		}
	}
	return ids, deps, nil
}

func (l *Loop) publish(topic string, ev events.Event) {
	if l.bus != nil {
		l.bus.Publish(topic, ev)
	}
}

func (l *Loop) publishFinished(res *Result) {
	l.publish(events.TopicRun, events.RunFinishedEvent{
		EpicID:     res.EpicID,
		Reason:     res.Reason,
		Iterations: res.Iterations,
		Succeeded:  res.Succeeded,
		Failed:     res.Failed,
		Blocked:    res.Blocked,
		Timestamp:  time.Now(),
	})
}

// workerKind derives the invocation-builder key from the profile's
// worker binary name.
func workerKind(profile *config.AgentProfile) string {
	return filepath.Base(profile.Worker.Command)
}
