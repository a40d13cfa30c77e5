package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/guido-cesarano/goqueue/pkg/queue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	q := queue.New(queue.WithRetryLimit(1), queue.WithRetryDelay(time.Millisecond))
	detach := c.Attach(q)
	defer detach()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	email := map[string]any{"type": "email"}
	_, err := q.Schedule(func(ctx context.Context) (any, error) { return "sent", nil },
		queue.WithMetadata(email)).Wait(ctx)
	require.NoError(t, err)

	_, err = q.Schedule(func(ctx context.Context) (any, error) { return nil, errors.New("nope") },
		queue.WithMetadata(email)).Wait(ctx)
	require.Error(t, err)

	_, err = q.Schedule(func(ctx context.Context) (any, error) { return nil, nil }).Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasksProcessed.WithLabelValues("success", "email")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasksProcessed.WithLabelValues("retry", "email")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasksProcessed.WithLabelValues("failed", "email")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasksProcessed.WithLabelValues("success", "unknown")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.eventsTotal.WithLabelValues("task_added")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.queueDepth.WithLabelValues("active")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.queueDepth.WithLabelValues("pending")))

	// one histogram series per task type
	assert.Equal(t, 2, testutil.CollectAndCount(c.taskDuration))
}

func TestCollectorTracksDepthAndCancellation(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	q := queue.New(queue.WithAutoStart(false))
	defer c.Attach(q)()

	q.Schedule(func(ctx context.Context) (any, error) { return nil, nil }, queue.WithID("a"))
	q.Schedule(func(ctx context.Context) (any, error) { return nil, nil }, queue.WithID("b"))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.queueDepth.WithLabelValues("pending")))

	require.True(t, q.CancelTask("a"))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.queueDepth.WithLabelValues("pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasksProcessed.WithLabelValues("canceled", "unknown")))
}

func TestCollectorRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) }, "duplicate registration must be rejected by the registry")
}
