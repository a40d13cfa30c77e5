package periodic

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/guido-cesarano/goqueue/pkg/events"
	"github.com/guido-cesarano/goqueue/pkg/queue"
	"github.com/guido-cesarano/goqueue/pkg/tasks"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerFiresIntoQueue(t *testing.T) {
	q := queue.New(queue.WithConcurrency(2))
	defer q.Destroy()

	var mu sync.Mutex
	var added []tasks.Task
	q.On(events.TaskAdded, func(e events.Event) error {
		mu.Lock()
		added = append(added, e.Task)
		mu.Unlock()
		return nil
	})

	s := New(q, zerolog.Nop())
	_, err := s.Add("report", "@every 1s", func(ctx context.Context) (any, error) {
		return "done", nil
	}, queue.WithPriority(tasks.PriorityHigh), queue.WithID("ignored"))
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(added) >= 2
	}, 5*time.Second, 50*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, strings.HasPrefix(added[0].ID, "report-"), added[0].ID)
	assert.NotEqual(t, added[0].ID, added[1].ID)
	assert.Equal(t, tasks.PriorityHigh, added[0].Priority)
}

func TestSchedulerRejectsBadInput(t *testing.T) {
	q := queue.New()
	defer q.Destroy()
	s := New(q, zerolog.Nop())

	_, err := s.Add("bad", "not a cron spec", func(ctx context.Context) (any, error) { return nil, nil })
	assert.Error(t, err)

	_, err = s.Add("nil", "@every 1s", nil)
	assert.ErrorIs(t, err, ErrNilPayload)

	assert.Empty(t, s.Entries())
}

func TestSchedulerRemove(t *testing.T) {
	q := queue.New()
	defer q.Destroy()
	s := New(q, zerolog.Nop())

	id, err := s.Add("tick", "*/5 * * * * *", func(ctx context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)
	require.Len(t, s.Entries(), 1)

	s.Remove(id)
	assert.Empty(t, s.Entries())
}

func TestSchedulerLogsRejectedRuns(t *testing.T) {
	q := queue.New()
	q.Destroy()

	var buf bytes.Buffer
	var mu sync.Mutex
	log := zerolog.New(&lockedWriter{mu: &mu, w: &buf})
	s := New(q, log)

	_, err := s.Add("late", "@every 1s", func(ctx context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return strings.Contains(buf.String(), "Failed to schedule periodic task")
	}, 5*time.Second, 50*time.Millisecond)
}

type lockedWriter struct {
	mu *sync.Mutex
	w  *bytes.Buffer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
