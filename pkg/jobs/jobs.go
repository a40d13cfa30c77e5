// Package jobs maps task types to handlers. A handler receives the raw JSON payload the
// task was submitted with and runs inside a queue slot.
//
// Built-in types:
//   - email: simulated call to a mail service (200ms)
//   - image_resize: simulated CPU work (500ms)
//   - slow: simulation task (5s)
//   - anything else: generic handler (100ms)
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/guido-cesarano/goqueue/pkg/logger"
	"github.com/guido-cesarano/goqueue/pkg/queue"
	"github.com/rs/zerolog"
)

// Handler processes one task payload.
type Handler func(ctx context.Context, payload json.RawMessage) (any, error)

// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	fallback Handler
}

// NewRegistry returns a registry whose unknown types are handled by fallback. A nil
// fallback makes unknown types fail.
func NewRegistry(fallback Handler) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		fallback: fallback,
	}
}

// Register binds h to taskType, replacing any previous handler.
func (r *Registry) Register(taskType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskType] = h
}

// Lookup returns the handler for taskType, falling back to the generic one.
func (r *Registry) Lookup(taskType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.handlers[taskType]; ok {
		return h, true
	}
	return r.fallback, r.fallback != nil
}

// Payload binds a handler and its input into something the queue can run. The handler
// is resolved when the task runs, not when it is scheduled.
func (r *Registry) Payload(taskType string, payload json.RawMessage) queue.Payload {
	return func(ctx context.Context) (any, error) {
		h, ok := r.Lookup(taskType)
		if !ok {
			return nil, fmt.Errorf("jobs: no handler for type %q", taskType)
		}
		return h(ctx, payload)
	}
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Defaults returns a registry with the built-in handlers.
func Defaults() *Registry {
	log := logger.Component("jobs")
	r := NewRegistry(Generic(log, 100*time.Millisecond))
	r.Register("email", Simulated(log, "Sending email...", 200*time.Millisecond))
	r.Register("image_resize", Simulated(log, "Resizing image...", 500*time.Millisecond))
	r.Register("slow", Simulated(log, "Processing slow simulation task (5s)...", 5*time.Second))
	return r
}

// Simulated returns a handler that logs msg and holds its slot for d.
func Simulated(log zerolog.Logger, msg string, d time.Duration) Handler {
	return func(ctx context.Context, _ json.RawMessage) (any, error) {
		log.Info().Msg(msg)
		if err := sleep(ctx, d); err != nil {
			return nil, err
		}
		return completed(), nil
	}
}

type genericInput struct {
	// Fail makes the attempt fail, to exercise retries and the dead letter queue.
	Fail bool `json:"fail"`
}

// Generic returns the handler used for unknown types. A payload of {"fail": true} makes
// every attempt fail.
func Generic(log zerolog.Logger, d time.Duration) Handler {
	return func(ctx context.Context, payload json.RawMessage) (any, error) {
		var in genericInput
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &in); err != nil {
				log.Debug().Err(err).Msg("Ignoring non-object payload")
			}
		}
		log.Info().Msg("Processing task")
		if err := sleep(ctx, d); err != nil {
			return nil, err
		}
		if in.Fail {
			return nil, fmt.Errorf("simulated failure")
		}
		return completed(), nil
	}
}

func completed() map[string]string {
	return map[string]string{"status": "completed", "timestamp": time.Now().Format(time.RFC3339)}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
