// Package store records task outcomes in Redis. It keeps:
//   - results of completed tasks under "result:{taskID}" with a TTL
//   - a capped history of completed tasks (completed_queue)
//   - a Dead Letter Queue of tasks that exhausted their retries (dead_letter_queue)
//   - a capped list of canceled tasks (canceled_queue)
//
// It also provides a Redis token-bucket rate limiter. Queued work itself is never
// persisted; the store only sees tasks once they have settled.
//
// The Store type is the main entry point; Attach wires it to a queue's events.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/guido-cesarano/goqueue/pkg/events"
	"github.com/guido-cesarano/goqueue/pkg/logger"
	"github.com/guido-cesarano/goqueue/pkg/queue"
	"github.com/guido-cesarano/goqueue/pkg/tasks"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis keys used by the store.
const (
	CompletedList  = "completed_queue"
	DeadLetterList = "dead_letter_queue"
	CanceledList   = "canceled_queue"

	resultKeyPrefix = "result:"
)

const (
	DefaultResultTTL    = 24 * time.Hour
	DefaultHistoryLimit = 100
	listenerTimeout     = 2 * time.Second
)

// ErrNotFound is returned by GetResult when no result is stored for the task.
var ErrNotFound = errors.New("result not found")

// Record is the JSON document stored in the history lists.
type Record struct {
	Task       tasks.Task `json:"task"`
	Error      string     `json:"error,omitempty"`
	FinishedAt time.Time  `json:"finished_at"`
}

// Store wraps a Redis client.
type Store struct {
	rdb          *redis.Client
	resultTTL    time.Duration
	historyLimit int64
	log          zerolog.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithResultTTL sets how long results are kept.
func WithResultTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.resultTTL = ttl
		}
	}
}

// WithHistoryLimit caps the completed and canceled lists.
func WithHistoryLimit(n int64) Option {
	return func(s *Store) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// WithLogger sets the store's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) {
		s.log = log
	}
}

// New creates a store connected to the Redis server at addr ("host:port").
//
// Example:
//
//	st := store.New("localhost:6379")
func New(addr string, opts ...Option) *Store {
	return NewWithClient(redis.NewClient(&redis.Options{Addr: addr}), opts...)
}

// NewWithClient creates a store on an existing client.
func NewWithClient(rdb *redis.Client, opts ...Option) *Store {
	s := &Store{
		rdb:          rdb,
		resultTTL:    DefaultResultTTL,
		historyLimit: DefaultHistoryLimit,
		log:          logger.Component("store"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// SetResult stores the JSON encoding of result under "result:{taskID}" with the
// configured TTL.
func (s *Store) SetResult(ctx context.Context, taskID string, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("store: encode result for %s: %w", taskID, err)
	}
	return s.rdb.Set(ctx, resultKeyPrefix+taskID, data, s.resultTTL).Err()
}

// GetResult returns the raw JSON result of a task, or ErrNotFound.
func (s *Store) GetResult(ctx context.Context, taskID string) (string, error) {
	res, err := s.rdb.Get(ctx, resultKeyPrefix+taskID).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return res, err
}

// RecordCompleted appends task to the completed history, keeping the most recent
// historyLimit entries.
func (s *Store) RecordCompleted(ctx context.Context, task tasks.Task) error {
	return s.pushCapped(ctx, CompletedList, Record{Task: task, FinishedAt: time.Now().UTC()})
}

// RecordCanceled appends task to the canceled history.
func (s *Store) RecordCanceled(ctx context.Context, task tasks.Task, cause error) error {
	rec := Record{Task: task, FinishedAt: time.Now().UTC()}
	if cause != nil {
		rec.Error = cause.Error()
	}
	return s.pushCapped(ctx, CanceledList, rec)
}

// RecordFailed moves a permanently failed task to the Dead Letter Queue. The DLQ is not
// capped so entries can be inspected or replayed by hand.
func (s *Store) RecordFailed(ctx context.Context, task tasks.Task, cause error) error {
	rec := Record{Task: task, FinishedAt: time.Now().UTC()}
	if cause != nil {
		rec.Error = cause.Error()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: encode record for %s: %w", task.ID, err)
	}
	return s.rdb.RPush(ctx, DeadLetterList, data).Err()
}

func (s *Store) pushCapped(ctx context.Context, list string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: encode record for %s: %w", rec.Task.ID, err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, list, data)
	// Trim to the most recent entries (keep tail)
	pipe.LTrim(ctx, list, -s.historyLimit, -1)
	_, err = pipe.Exec(ctx)
	return err
}

// Inspect returns up to limit records from the head of a history list without removing
// them. Malformed entries are skipped.
func (s *Store) Inspect(ctx context.Context, list string, limit int64) ([]Record, error) {
	if limit <= 0 {
		limit = s.historyLimit
	}
	raw, err := s.rdb.LRange(ctx, list, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(raw))
	for _, item := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			s.log.Warn().Err(err).Str("list", list).Msg("Skipping malformed record")
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Depths returns the length of every history list.
func (s *Store) Depths(ctx context.Context) map[string]int64 {
	depths := make(map[string]int64)
	for _, list := range []string{CompletedList, DeadLetterList, CanceledList} {
		if n, err := s.rdb.LLen(ctx, list).Result(); err == nil {
			depths[list] = n
		}
	}
	return depths
}

// Attach subscribes the store to q's settlement events. The returned function removes
// the subscriptions.
func (s *Store) Attach(q *queue.Queue) (detach func()) {
	withTimeout := func(fn func(ctx context.Context, e events.Event) error) events.Listener {
		return func(e events.Event) error {
			ctx, cancel := context.WithTimeout(context.Background(), listenerTimeout)
			defer cancel()
			return fn(ctx, e)
		}
	}

	subs := map[events.Kind]events.ListenerID{
		events.TaskComplete: q.On(events.TaskComplete, withTimeout(func(ctx context.Context, e events.Event) error {
			if err := s.SetResult(ctx, e.Task.ID, e.Result); err != nil {
				return err
			}
			return s.RecordCompleted(ctx, e.Task)
		})),
		events.TaskError: q.On(events.TaskError, withTimeout(func(ctx context.Context, e events.Event) error {
			return s.RecordFailed(ctx, e.Task, e.Err)
		})),
		events.TaskCanceled: q.On(events.TaskCanceled, withTimeout(func(ctx context.Context, e events.Event) error {
			return s.RecordCanceled(ctx, e.Task, e.Err)
		})),
	}

	return func() {
		for kind, id := range subs {
			q.Off(kind, id)
		}
	}
}
