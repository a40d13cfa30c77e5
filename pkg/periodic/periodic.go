// Package periodic schedules recurring work into a queue using cron expressions.
// Expressions take an optional leading seconds field ("*/5 * * * * *") and the usual
// descriptors ("@every 1m", "@hourly").
package periodic

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/guido-cesarano/goqueue/pkg/queue"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ErrNilPayload is returned by Add when fn is nil.
var ErrNilPayload = errors.New("periodic: nil payload")

// Scheduler fires cron entries into a queue. Every firing schedules a fresh task with the
// ID "<name>-<uuid>", so runs never collide with each other.
type Scheduler struct {
	q    *queue.Queue
	cron *cron.Cron
	log  zerolog.Logger
}

// New creates a scheduler feeding q. It does not fire until Start is called.
func New(q *queue.Queue, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		q:    q,
		cron: cron.New(cron.WithSeconds()),
		log:  log,
	}
}

// Add registers fn under name. opts are applied to every scheduled task; the task ID is
// always generated.
func (s *Scheduler) Add(name, spec string, fn queue.Payload, opts ...queue.TaskOption) (cron.EntryID, error) {
	if fn == nil {
		return 0, ErrNilPayload
	}
	id, err := s.cron.AddFunc(spec, func() {
		runID := fmt.Sprintf("%s-%s", name, uuid.NewString())
		taskOpts := append(append([]queue.TaskOption{}, opts...), queue.WithID(runID))
		h := s.q.Schedule(fn, taskOpts...)

		select {
		case <-h.Done():
			if _, err := h.Wait(context.Background()); err != nil {
				s.log.Error().Err(err).Str("name", name).Str("task_id", runID).Msg("Failed to schedule periodic task")
				return
			}
		default:
		}
		s.log.Info().Str("name", name).Str("spec", spec).Str("task_id", runID).Msg("Periodic task scheduled")
	})
	if err != nil {
		return 0, fmt.Errorf("periodic: parse %q: %w", spec, err)
	}
	s.log.Debug().Str("name", name).Str("spec", spec).Int("entry", int(id)).Msg("Periodic entry added")
	return id, nil
}

// Remove unregisters an entry. Runs already scheduled are unaffected.
func (s *Scheduler) Remove(id cron.EntryID) {
	s.cron.Remove(id)
}

// Entries returns a snapshot of the registered entries.
func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}

// Start begins firing entries in a background goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts firing. The returned context is done once in-flight firings have returned.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
