package queue

import (
	"context"
	"time"

	"github.com/guido-cesarano/goqueue/pkg/events"
	"github.com/guido-cesarano/goqueue/pkg/tasks"
	"github.com/rs/zerolog"
)

const (
	DefaultConcurrency = 1
	DefaultRetryDelay  = time.Second
)

// Option configures a Queue at construction.
type Option func(*Queue)

// WithConcurrency sets how many tasks may be active at once. Values below 1 become 1.
func WithConcurrency(n int) Option {
	return func(q *Queue) {
		if n < 1 {
			n = 1
		}
		q.concurrency = n
	}
}

// WithAutoStart controls whether the queue dispatches right away. A queue created with
// WithAutoStart(false) starts paused and waits for Resume.
func WithAutoStart(start bool) Option {
	return func(q *Queue) {
		q.paused = !start
	}
}

// WithRetryLimit sets how many times a failed task is retried before it fails for good.
func WithRetryLimit(n int) Option {
	return func(q *Queue) {
		if n < 0 {
			n = 0
		}
		q.retryLimit = n
	}
}

// WithRetryDelay installs a FixedBackoff with delay d.
func WithRetryDelay(d time.Duration) Option {
	return func(q *Queue) {
		if d < 0 {
			d = 0
		}
		q.backoff = FixedBackoff{Delay: d}
	}
}

// WithBackoff replaces the retry delay strategy.
func WithBackoff(b Backoff) Option {
	return func(q *Queue) {
		if b != nil {
			q.backoff = b
		}
	}
}

// WithLogger sets the queue's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(q *Queue) {
		q.log = log
	}
}

// WithBaseContext sets the parent of every task context. Canceling it signals every
// task the queue holds.
func WithBaseContext(ctx context.Context) Option {
	return func(q *Queue) {
		if ctx != nil {
			q.baseCtx = ctx
		}
	}
}

// WithHub makes the queue publish through an existing hub. The caller keeps owning it:
// Destroy only removes the listeners registered through the queue.
func WithHub(h *events.Hub) Option {
	return func(q *Queue) {
		if h != nil {
			q.hub = h
		}
	}
}

type taskOptions struct {
	priority tasks.Priority
	id       string
	metadata map[string]any
}

// TaskOption configures a single Schedule call.
type TaskOption func(*taskOptions)

// WithPriority sets the task priority. Unknown values are treated as PriorityNormal.
func WithPriority(p tasks.Priority) TaskOption {
	return func(o *taskOptions) {
		o.priority = p.Normalize()
	}
}

// WithID sets the task ID instead of generating one.
func WithID(id string) TaskOption {
	return func(o *taskOptions) {
		o.id = id
	}
}

// WithMetadata attaches caller data to the task. The map is not copied.
func WithMetadata(md map[string]any) TaskOption {
	return func(o *taskOptions) {
		o.metadata = md
	}
}
