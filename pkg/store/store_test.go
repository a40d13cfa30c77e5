package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/guido-cesarano/goqueue/pkg/queue"
	"github.com/guido-cesarano/goqueue/pkg/tasks"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T, opts ...Option) (*miniredis.Miniredis, *Store) {
	t.Helper()
	s := miniredis.RunT(t)
	st := New(s.Addr(), opts...)
	t.Cleanup(func() { st.Close() })
	return s, st
}

func TestTaskResult(t *testing.T) {
	s, st := setupTestRedis(t)
	ctx := context.Background()

	taskID := "result-test-id"
	expectedResult := map[string]string{"status": "success"}

	// Set Result
	require.NoError(t, st.SetResult(ctx, taskID, expectedResult))

	// Get Result
	resultJSON, err := st.GetResult(ctx, taskID)
	require.NoError(t, err)

	var result map[string]string
	require.NoError(t, json.Unmarshal([]byte(resultJSON), &result))
	assert.Equal(t, "success", result["status"])

	// Verify TTL (miniredis supports TTL)
	assert.Equal(t, DefaultResultTTL, s.TTL("result:"+taskID))

	_, err = st.GetResult(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHistoryIsCapped(t *testing.T) {
	_, st := setupTestRedis(t, WithHistoryLimit(3))
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, st.RecordCompleted(ctx, tasks.Task{ID: id}))
	}

	records, err := st.Inspect(ctx, CompletedList, 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "c", records[0].Task.ID)
	assert.Equal(t, "e", records[2].Task.ID)
}

func TestDeadLetterQueue(t *testing.T) {
	s, st := setupTestRedis(t, WithHistoryLimit(1))
	ctx := context.Background()

	require.NoError(t, st.RecordFailed(ctx, tasks.Task{ID: "x", Attempts: 3}, errors.New("boom")))
	require.NoError(t, st.RecordFailed(ctx, tasks.Task{ID: "y"}, nil))

	records, err := st.Inspect(ctx, DeadLetterList, 0)
	require.NoError(t, err)
	// the DLQ ignores the history limit; Inspect with limit 0 falls back to it
	assert.Len(t, records, 1)
	assert.Equal(t, "boom", records[0].Error)
	assert.Equal(t, 3, records[0].Task.Attempts)

	list, err := s.List(DeadLetterList)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestInspectSkipsMalformed(t *testing.T) {
	s, st := setupTestRedis(t)
	ctx := context.Background()

	s.RPush(CanceledList, "not-json")
	require.NoError(t, st.RecordCanceled(ctx, tasks.Task{ID: "ok"}, queue.ErrCanceled))

	records, err := st.Inspect(ctx, CanceledList, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ok", records[0].Task.ID)
	assert.Equal(t, "task canceled", records[0].Error)
}

func TestDepths(t *testing.T) {
	_, st := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, st.RecordCompleted(ctx, tasks.Task{ID: "a"}))
	require.NoError(t, st.RecordFailed(ctx, tasks.Task{ID: "b"}, errors.New("x")))

	depths := st.Depths(ctx)
	assert.Equal(t, int64(1), depths[CompletedList])
	assert.Equal(t, int64(1), depths[DeadLetterList])
	assert.Equal(t, int64(0), depths[CanceledList])
}

func TestRateLimit(t *testing.T) {
	_, st := setupTestRedis(t)
	ctx := context.Background()

	key := "ratelimit:test"
	limit := 1 // 1 token per second
	burst := 1 // Capacity 1

	// First call should succeed
	allowed, err := st.Allow(ctx, key, limit, burst)
	require.NoError(t, err)
	assert.True(t, allowed, "Expected first call to be allowed")

	// Second call immediately after should fail (burst consumed)
	allowed, err = st.Allow(ctx, key, limit, burst)
	require.NoError(t, err)
	assert.False(t, allowed, "Expected second call to be denied")

	// Wait for refill (1.1s)
	time.Sleep(1100 * time.Millisecond)

	// Third call should succeed
	allowed, err = st.Allow(ctx, key, limit, burst)
	require.NoError(t, err)
	assert.True(t, allowed, "Expected third call to be allowed after refill")
}

func TestAttachRecordsOutcomes(t *testing.T) {
	_, st := setupTestRedis(t)
	ctx := context.Background()

	q := queue.New(queue.WithConcurrency(2))
	detach := st.Attach(q)

	ok := q.Schedule(func(ctx context.Context) (any, error) {
		return map[string]int{"sum": 3}, nil
	}, queue.WithID("good"), queue.WithMetadata(map[string]any{"type": "email"}))
	bad := q.Schedule(func(ctx context.Context) (any, error) {
		return nil, errors.New("smtp down")
	}, queue.WithID("bad"))

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := ok.Wait(waitCtx)
	require.NoError(t, err)
	_, err = bad.Wait(waitCtx)
	require.EqualError(t, err, "smtp down")

	result, err := st.GetResult(ctx, "good")
	require.NoError(t, err)
	assert.JSONEq(t, `{"sum":3}`, result)

	completed, err := st.Inspect(ctx, CompletedList, 10)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, "email", completed[0].Task.Type())
	assert.Equal(t, tasks.StateCompleted, completed[0].Task.State)

	dead, err := st.Inspect(ctx, DeadLetterList, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "smtp down", dead[0].Error)

	detach()
	_, err = q.Schedule(func(ctx context.Context) (any, error) { return 1, nil }, queue.WithID("after")).Wait(waitCtx)
	require.NoError(t, err)
	_, err = st.GetResult(ctx, "after")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAttachRecordsCancellation(t *testing.T) {
	_, st := setupTestRedis(t)
	ctx := context.Background()

	q := queue.New(queue.WithAutoStart(false))
	defer st.Attach(q)()

	q.Schedule(func(ctx context.Context) (any, error) { return nil, nil }, queue.WithID("dropme"))
	require.True(t, q.RemoveTask("dropme"))

	records, err := st.Inspect(ctx, CanceledList, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "dropme", records[0].Task.ID)
	assert.Contains(t, records[0].Error, "removed from queue")
}

func TestStoreWithExistingClient(t *testing.T) {
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	st := NewWithClient(rdb, WithResultTTL(time.Minute))
	defer st.Close()

	require.NoError(t, st.Ping(context.Background()))
	require.NoError(t, st.SetResult(context.Background(), "id", 1))
	assert.Equal(t, time.Minute, s.TTL("result:id"))
}
