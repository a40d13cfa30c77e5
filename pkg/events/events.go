// Package events implements the typed publish/subscribe hub a queue uses to announce task
// and queue lifecycle transitions.
//
// Delivery is synchronous and ordered by subscription. Each emission iterates over a
// snapshot of the listener list, so listeners added or removed while an event is being
// delivered only affect later emissions. A listener that returns an error or panics is
// reported to the hub's logger and delivery continues with the next listener.
package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/guido-cesarano/goqueue/pkg/tasks"
)

// Kind identifies an event type.
type Kind int

const (
	TaskAdded Kind = iota
	TaskComplete
	TaskError
	TaskRetry
	TaskCanceled
	QueuePaused
	QueueResumed
	QueueCleared
	QueueEmpty

	numKinds
)

var kindNames = [...]string{
	TaskAdded:    "task_added",
	TaskComplete: "task_complete",
	TaskError:    "task_error",
	TaskRetry:    "task_retry",
	TaskCanceled: "task_canceled",
	QueuePaused:  "queue_paused",
	QueueResumed: "queue_resumed",
	QueueCleared: "queue_cleared",
	QueueEmpty:   "queue_empty",
}

func (k Kind) String() string {
	if !k.valid() {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

func (k Kind) valid() bool {
	return k >= 0 && k < numKinds
}

// Kinds lists every event kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, numKinds)
	for k := Kind(0); k < numKinds; k++ {
		out = append(out, k)
	}
	return out
}

// Event is a single lifecycle notification.
//
// Task is populated for task events. Result is set for TaskComplete, Err for TaskError
// and TaskRetry (the failure that triggered the retry) and TaskCanceled, Attempt for
// TaskRetry.
type Event struct {
	ID      uuid.UUID
	Kind    Kind
	Time    time.Time
	Task    tasks.Task
	Result  any
	Err     error
	Attempt int
}

// New stamps an event of the given kind with a fresh ID and the current time.
func New(kind Kind) Event {
	return Event{
		ID:   uuid.New(),
		Kind: kind,
		Time: time.Now().UTC(),
	}
}

// ForTask is New with the task snapshot attached.
func ForTask(kind Kind, task tasks.Task) Event {
	e := New(kind)
	e.Task = task
	return e
}

// Listener receives events. A returned error is logged by the hub and otherwise ignored.
type Listener func(Event) error

// ListenerID identifies a registration for Off.
type ListenerID uint64
