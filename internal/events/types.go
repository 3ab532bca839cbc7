package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask = "task"
	TopicRun  = "run"
)

// Event type constants
const (
	EventTypeTaskDispatched = "task.dispatched"
	EventTypeTaskSucceeded  = "task.succeeded"
	EventTypeTaskFailed     = "task.failed"
	EventTypeTaskBlocked    = "task.blocked"
	EventTypeRunFinished    = "run.finished"
)

// TaskDispatchedEvent is published when a task is handed to a worker.
type TaskDispatchedEvent struct {
	ID        string
	Title     string
	Profile   string
	Timestamp time.Time
}

func (e TaskDispatchedEvent) EventType() string { return EventTypeTaskDispatched }
func (e TaskDispatchedEvent) TaskID() string    { return e.ID }

// TaskSucceededEvent is published when a worker exits 0.
type TaskSucceededEvent struct {
	ID        string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskSucceededEvent) EventType() string { return EventTypeTaskSucceeded }
func (e TaskSucceededEvent) TaskID() string    { return e.ID }

// TaskFailedEvent is published when a dispatch fails or times out.
type TaskFailedEvent struct {
	ID           string
	Outcome      string // "failed" or "timeout"
	ExitCode     int
	FailureCount int
	Timestamp    time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskID() string    { return e.ID }

// TaskBlockedEvent is published when a task hits the failure threshold.
type TaskBlockedEvent struct {
	ID           string
	FailureCount int
	Timestamp    time.Time
}

func (e TaskBlockedEvent) EventType() string { return EventTypeTaskBlocked }
func (e TaskBlockedEvent) TaskID() string    { return e.ID }

// RunFinishedEvent is published once when the loop terminates.
type RunFinishedEvent struct {
	EpicID     string
	Reason     string
	Iterations int
	Succeeded  int
	Failed     int
	Blocked    int
	Timestamp  time.Time
}

func (e RunFinishedEvent) EventType() string { return EventTypeRunFinished }
func (e RunFinishedEvent) TaskID() string    { return "" }
