// Package tasks defines the task record shared by the GoQueue scheduler, its event hub
// and the observability components built on top of them.
package tasks

import (
	"time"
)

// Task is a point-in-time view of a unit of work owned by a queue.
//
// The queue is the only writer of a Task. Everything handed out to callers, listeners
// and stores is a copy, so reading its fields never races with the dispatcher.
type Task struct {
	// ID is unique among the tasks a queue currently holds. It is either supplied by the
	// caller or generated as "task_<n>".
	ID string `json:"id"`

	// Priority determines the lane the task waits in. See Priority for ordering rules.
	Priority Priority `json:"priority"`

	// State is the lifecycle state at the moment the copy was taken.
	State State `json:"state"`

	// Attempts counts how many retries have been scheduled for this task.
	Attempts int `json:"attempts"`

	// Metadata is caller-supplied and never interpreted by the queue.
	Metadata map[string]any `json:"metadata,omitempty"`

	// EnqueuedAt is the time the task was first scheduled.
	EnqueuedAt time.Time `json:"enqueued_at"`

	// StartedAt is the time of the most recent dispatch. Zero until first dispatched.
	StartedAt time.Time `json:"started_at,omitempty"`
}

// Type returns Metadata["type"] when it is a non-empty string, otherwise "unknown".
// Metrics and stores use it as a label.
func (t Task) Type() string {
	if v, ok := t.Metadata["type"].(string); ok && v != "" {
		return v
	}
	return "unknown"
}

// Priority orders pending work.
//
// High tasks are always dispatched before Normal and Low tasks. Normal and Low share a
// single FIFO lane and are not distinguished from each other when dispatching.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

// Normalize coerces unknown priorities to PriorityNormal.
func (p Priority) Normalize() Priority {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return p
	default:
		return PriorityNormal
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// ParsePriority maps "low", "normal"/"default" and "high" to a Priority.
func ParsePriority(s string) (Priority, bool) {
	switch s {
	case "low":
		return PriorityLow, true
	case "normal", "default", "":
		return PriorityNormal, true
	case "high":
		return PriorityHigh, true
	}
	return PriorityNormal, false
}

// State is the lifecycle state of a task.
type State int

const (
	StatePending State = iota
	StateActive
	StateRetrying
	StateCompleted
	StateFailed
	StateCanceled
)

var stateNames = [...]string{
	StatePending:   "pending",
	StateActive:    "active",
	StateRetrying:  "retrying",
	StateCompleted: "completed",
	StateFailed:    "failed",
	StateCanceled:  "canceled",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCanceled
}

// MarshalText renders the state by name so JSON payloads stay readable.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// MarshalText renders the priority by name.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (p *Priority) UnmarshalText(b []byte) error {
	v, _ := ParsePriority(string(b))
	*p = v
	return nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	*s = StatePending
	return nil
}
