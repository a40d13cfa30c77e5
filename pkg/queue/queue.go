// Package queue provides an in-process, bounded-concurrency task scheduler.
// It supports:
//   - At most N concurrently active tasks, enforced by a single serialized dispatcher
//   - Priority lanes (High ahead of Normal/Low, FIFO within a lane)
//   - Retries with a configurable backoff, retried work re-entering at the front
//   - Cooperative cancellation of pending and in-flight tasks via context.Context
//   - Lifecycle events published through an events.Hub
//
// Events are delivered one at a time, in the order of the transitions that produced
// them, and a handle settles only after every event that precedes its settlement has
// been delivered. Listeners may call back into the queue, but must not block waiting on
// a handle: its settlement is queued behind the listener that is running.
//
// The Queue type is the main entry point.
package queue

import (
	"cmp"
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guido-cesarano/goqueue/pkg/events"
	"github.com/guido-cesarano/goqueue/pkg/logger"
	"github.com/guido-cesarano/goqueue/pkg/tasks"
	"github.com/rs/zerolog"
)

// Payload performs a unit of work. It must return promptly once ctx is done.
type Payload func(ctx context.Context) (any, error)

// Status is a point-in-time snapshot of the queue.
type Status struct {
	Pending     int  `json:"pending"`
	Active      int  `json:"active"`
	Paused      bool `json:"paused"`
	Concurrency int  `json:"concurrency"`
}

type job struct {
	task   tasks.Task
	fn     Payload
	ctx    context.Context
	cancel context.CancelFunc
	handle *Handle
}

// Queue schedules payloads with bounded concurrency.
//
// Structure:
//   - pending: tasks waiting for a slot, ordered retry lane > High > Normal/Low
//   - active: tasks holding a slot, including tasks waiting out a retry delay
//
// A task is in at most one of the two at any time. Both are guarded by mu, and every
// transition between them happens while mu is held, so the capacity check and slot
// reservation are atomic no matter how many goroutines trigger dispatch.
type Queue struct {
	mu      sync.Mutex
	pending *pendingStore
	active  map[string]*job
	paused  bool
	closed  bool
	// idle is set once QueueEmpty has been announced for the current quiet period.
	idle bool

	// outbox holds deliveries in transition order; delivering is set while a
	// goroutine drains it.
	outbox     []func()
	delivering bool

	concurrency int
	retryLimit  int
	backoff     Backoff
	baseCtx     context.Context

	seq atomic.Uint64
	hub *events.Hub
	// ownsHub is false for a hub passed in with WithHub.
	ownsHub bool
	subsMu  sync.Mutex
	subs    map[events.Kind]map[events.ListenerID]struct{}
	log     zerolog.Logger
}

// New creates a queue. Defaults: concurrency 1, auto start, no retries, 1s retry delay.
//
// Example:
//
//	q := queue.New(queue.WithConcurrency(4), queue.WithRetryLimit(3))
//	h := q.Schedule(func(ctx context.Context) (any, error) { return "ok", nil })
//	result, err := h.Wait(ctx)
func New(opts ...Option) *Queue {
	q := &Queue{
		pending:     newPendingStore(),
		active:      make(map[string]*job),
		idle:        true,
		concurrency: DefaultConcurrency,
		backoff:     FixedBackoff{Delay: DefaultRetryDelay},
		baseCtx:     context.Background(),
		subs:        make(map[events.Kind]map[events.ListenerID]struct{}),
		log:         logger.Component("queue"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	if q.hub == nil {
		q.hub = events.NewHub(events.WithLogger(q.log))
		q.ownsHub = true
	}
	return q
}

// effects collects what a critical section decided to do once mu is released:
// events to emit, handles to settle (after the events, so listeners observe a
// transition before the caller does), retry timers to arm (after TaskRetry is
// delivered) and jobs to launch.
type effects struct {
	events  []events.Event
	settles []settlement
	retries []retry
	start   []*job
}

type retry struct {
	job   *job
	delay time.Duration
}

type settlement struct {
	handle *Handle
	result any
	err    error
}

func (fx *effects) emit(e events.Event) {
	fx.events = append(fx.events, e)
}

func (fx *effects) resolve(j *job, result any, err error) {
	fx.settles = append(fx.settles, settlement{handle: j.handle, result: result, err: err})
}

// unlockAndApply queues fx's deliveries behind those of earlier transitions, releases
// mu, launches dispatched jobs and drains the outbox unless another goroutine already
// is. mu must be held.
func (q *Queue) unlockAndApply(fx *effects) {
	for _, e := range fx.events {
		q.outbox = append(q.outbox, func() { q.hub.Emit(e) })
	}
	for _, s := range fx.settles {
		q.outbox = append(q.outbox, func() { s.handle.settle(s.result, s.err) })
	}
	for _, r := range fx.retries {
		q.outbox = append(q.outbox, func() { go q.retryAfter(r.job, r.delay) })
	}
	drain := !q.delivering && len(q.outbox) > 0
	if drain {
		q.delivering = true
	}
	q.mu.Unlock()

	for _, j := range fx.start {
		go q.run(j)
	}
	if drain {
		q.drain()
	}
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		batch := q.outbox
		q.outbox = nil
		if len(batch) == 0 {
			q.delivering = false
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()

		for _, deliver := range batch {
			deliver()
		}
	}
}

// Schedule adds fn as a pending task and returns its handle. It never blocks on the
// task and never fails synchronously: a nil payload, a duplicate ID or a destroyed queue
// produce an already rejected handle.
func (q *Queue) Schedule(fn Payload, opts ...TaskOption) *Handle {
	o := taskOptions{priority: tasks.PriorityNormal}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.id == "" {
		o.id = fmt.Sprintf("task_%d", q.seq.Add(1))
	}
	if fn == nil {
		return rejectedHandle(o.id, ErrNilPayload)
	}
	if o.metadata == nil {
		o.metadata = map[string]any{}
	}

	ctx, cancel := context.WithCancel(q.baseCtx)
	j := &job{
		task: tasks.Task{
			ID:         o.id,
			Priority:   o.priority,
			State:      tasks.StatePending,
			Metadata:   o.metadata,
			EnqueuedAt: time.Now(),
		},
		fn:     fn,
		ctx:    ctx,
		cancel: cancel,
		handle: newHandle(o.id),
	}

	fx := &effects{}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		cancel()
		return rejectedHandle(o.id, ErrClosed)
	}
	if q.pending.Has(o.id) || q.active[o.id] != nil {
		q.mu.Unlock()
		cancel()
		return rejectedHandle(o.id, fmt.Errorf("%w: %s", ErrDuplicateTask, o.id))
	}
	q.pending.Push(j)
	q.idle = false
	fx.emit(events.ForTask(events.TaskAdded, j.task))
	q.dispatchLocked(fx)
	q.unlockAndApply(fx)
	return j.handle
}

// dispatchLocked moves pending jobs into free slots. mu must be held.
func (q *Queue) dispatchLocked(fx *effects) {
	for !q.paused && !q.closed && len(q.active) < q.concurrency && q.pending.Len() > 0 {
		j := q.pending.Pop()
		j.task.State = tasks.StateActive
		j.task.StartedAt = time.Now()
		q.active[j.task.ID] = j
		fx.start = append(fx.start, j)

		q.log.Debug().
			Str("task_id", j.task.ID).
			Str("priority", j.task.Priority.String()).
			Int("attempts", j.task.Attempts).
			Int("active", len(q.active)).
			Msg("Dispatching task")
	}
}

// idleCheckLocked announces QueueEmpty once per transition into quiescence.
func (q *Queue) idleCheckLocked(fx *effects) {
	if q.idle || q.pending.Len() > 0 || len(q.active) > 0 {
		return
	}
	q.idle = true
	fx.emit(events.New(events.QueueEmpty))
}

func (q *Queue) run(j *job) {
	if j.ctx.Err() != nil {
		// canceled between slot reservation and launch
		q.settle(j, nil, j.ctx.Err())
		return
	}
	result, err := q.invoke(j)
	q.settle(j, result, err)
}

func (q *Queue) invoke(j *job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
			q.log.Error().
				Str("task_id", j.task.ID).
				Bytes("stack", debug.Stack()).
				Msg("Task panicked")
		}
	}()
	return j.fn(j.ctx)
}

func (q *Queue) settle(j *job, result any, err error) {
	fx := &effects{}
	q.mu.Lock()
	if q.active[j.task.ID] != j || j.task.State != tasks.StateActive {
		// canceled or destroyed while running; its handle is already settled
		q.mu.Unlock()
		return
	}

	switch {
	case err == nil:
		j.task.State = tasks.StateCompleted
		delete(q.active, j.task.ID)
		j.cancel()
		e := events.ForTask(events.TaskComplete, j.task)
		e.Result = result
		fx.emit(e)
		fx.resolve(j, result, nil)
		q.log.Debug().Str("task_id", j.task.ID).Msg("Task completed")

	case j.ctx.Err() != nil:
		j.task.State = tasks.StateCanceled
		delete(q.active, j.task.ID)
		j.cancel()
		e := events.ForTask(events.TaskCanceled, j.task)
		e.Err = errSignaled
		fx.emit(e)
		fx.resolve(j, nil, errSignaled)
		q.log.Info().Str("task_id", j.task.ID).Msg("Task aborted")

	case j.task.Attempts < q.retryLimit:
		j.task.Attempts++
		j.task.State = tasks.StateRetrying
		delay := q.backoff.Next(j.task.Attempts)
		e := events.ForTask(events.TaskRetry, j.task)
		e.Err = err
		e.Attempt = j.task.Attempts
		fx.emit(e)
		q.log.Warn().
			Err(err).
			Str("task_id", j.task.ID).
			Int("attempt", j.task.Attempts).
			Dur("delay", delay).
			Msg("Task failed, retrying")
		fx.retries = append(fx.retries, retry{job: j, delay: delay})

	default:
		j.task.State = tasks.StateFailed
		delete(q.active, j.task.ID)
		j.cancel()
		e := events.ForTask(events.TaskError, j.task)
		e.Err = err
		fx.emit(e)
		fx.resolve(j, nil, err)
		q.log.Error().
			Err(err).
			Str("task_id", j.task.ID).
			Int("attempts", j.task.Attempts).
			Msg("Task failed")
	}

	q.idleCheckLocked(fx)
	q.dispatchLocked(fx)
	q.unlockAndApply(fx)
}

// retryAfter waits out the backoff while the task keeps its slot, then moves it to the
// front of the pending store.
func (q *Queue) retryAfter(j *job, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-j.ctx.Done():
		q.abortRetry(j)
		return
	case <-timer.C:
	}

	fx := &effects{}
	q.mu.Lock()
	if q.active[j.task.ID] != j || j.task.State != tasks.StateRetrying {
		q.mu.Unlock()
		return
	}
	delete(q.active, j.task.ID)
	j.task.State = tasks.StatePending
	q.pending.PushFront(j)
	q.dispatchLocked(fx)
	q.unlockAndApply(fx)
}

// abortRetry settles a retrying task whose context ended during the delay. Tasks
// canceled through CancelTask or Destroy are already settled and left alone.
func (q *Queue) abortRetry(j *job) {
	fx := &effects{}
	q.mu.Lock()
	if q.active[j.task.ID] != j || j.task.State != tasks.StateRetrying {
		q.mu.Unlock()
		return
	}
	j.task.State = tasks.StateCanceled
	delete(q.active, j.task.ID)
	e := events.ForTask(events.TaskCanceled, j.task)
	e.Err = errSignaled
	fx.emit(e)
	fx.resolve(j, nil, errSignaled)
	q.idleCheckLocked(fx)
	q.dispatchLocked(fx)
	q.unlockAndApply(fx)
}

// Pause stops dispatching new tasks. Active tasks keep running. Pausing a paused queue
// is a no-op.
func (q *Queue) Pause() {
	fx := &effects{}
	q.mu.Lock()
	if !q.paused {
		q.paused = true
		fx.emit(events.New(events.QueuePaused))
		q.log.Info().Msg("Queue paused")
	}
	q.unlockAndApply(fx)
}

// Resume re-enables dispatching and fills free slots. QueueResumed is only emitted when
// the queue was actually paused.
func (q *Queue) Resume() {
	fx := &effects{}
	q.mu.Lock()
	if q.paused {
		q.paused = false
		fx.emit(events.New(events.QueueResumed))
		q.log.Info().Msg("Queue resumed")
	}
	q.dispatchLocked(fx)
	q.unlockAndApply(fx)
}

// Clear drops every pending task. Their handles are rejected with a cancellation error
// and a single QueueCleared event is emitted. Active tasks are unaffected.
func (q *Queue) Clear() {
	fx := &effects{}
	q.mu.Lock()
	dropped := q.pending.Drain()
	for _, j := range dropped {
		j.cancel()
		j.task.State = tasks.StateCanceled
		fx.resolve(j, nil, errCleared)
	}
	fx.emit(events.New(events.QueueCleared))
	q.idleCheckLocked(fx)
	q.log.Info().Int("dropped", len(dropped)).Msg("Queue cleared")
	q.unlockAndApply(fx)
}

// RemoveTask cancels a task that has not been dispatched yet. It reports whether a
// pending task with id was found. Active tasks are left alone; see CancelTask.
func (q *Queue) RemoveTask(id string) bool {
	fx := &effects{}
	q.mu.Lock()
	found := q.removeLocked(id, fx)
	q.unlockAndApply(fx)
	return found
}

func (q *Queue) removeLocked(id string, fx *effects) bool {
	j := q.pending.Remove(id)
	if j == nil {
		return false
	}
	j.cancel()
	j.task.State = tasks.StateCanceled
	e := events.ForTask(events.TaskCanceled, j.task)
	e.Err = errRemoved
	fx.emit(e)
	fx.resolve(j, nil, errRemoved)
	q.idleCheckLocked(fx)
	q.log.Info().Str("task_id", id).Msg("Pending task removed")
	return true
}

// CancelTask cancels a pending or active task. For an active task the context handed
// to its payload is canceled and its slot is released right away; the payload itself is
// expected to notice ctx.Done() and return. Whatever it returns afterwards is discarded.
func (q *Queue) CancelTask(id string) bool {
	fx := &effects{}
	q.mu.Lock()
	found := q.removeLocked(id, fx)
	if !found {
		if j, ok := q.active[id]; ok {
			found = true
			j.cancel()
			j.task.State = tasks.StateCanceled
			delete(q.active, id)
			e := events.ForTask(events.TaskCanceled, j.task)
			e.Err = errAborted
			fx.emit(e)
			fx.resolve(j, nil, errAborted)
			q.idleCheckLocked(fx)
			q.dispatchLocked(fx)
			q.log.Info().Str("task_id", id).Msg("Active task canceled")
		}
	}
	q.unlockAndApply(fx)
	return found
}

// Destroy cancels every task, rejects every outstanding handle, drops the event
// subscriptions and closes the queue for good. Later Schedule calls are rejected with
// ErrClosed. Calling Destroy again is a no-op.
//
// A hub created by the queue is reset. On a hub passed in with WithHub only the
// subscriptions made through the queue's On and Once are removed.
func (q *Queue) Destroy() {
	fx := &effects{}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	dropped := 0
	for id, j := range q.active {
		j.cancel()
		j.task.State = tasks.StateCanceled
		delete(q.active, id)
		fx.resolve(j, nil, errDestroyed)
		dropped++
	}
	for _, j := range q.pending.Drain() {
		j.cancel()
		j.task.State = tasks.StateCanceled
		fx.resolve(j, nil, errDestroyed)
		dropped++
	}
	q.idle = true
	q.log.Info().Int("dropped", dropped).Msg("Queue destroyed")
	q.unlockAndApply(fx)

	q.unsubscribeAll()
}

func (q *Queue) unsubscribeAll() {
	if q.ownsHub {
		q.hub.Reset()
		return
	}
	q.subsMu.Lock()
	defer q.subsMu.Unlock()
	for kind, ids := range q.subs {
		for id := range ids {
			q.hub.Off(kind, id)
		}
	}
	clear(q.subs)
}

func (q *Queue) track(kind events.Kind, id events.ListenerID) events.ListenerID {
	if id == 0 {
		return 0
	}
	q.subsMu.Lock()
	defer q.subsMu.Unlock()
	if q.subs[kind] == nil {
		q.subs[kind] = make(map[events.ListenerID]struct{})
	}
	q.subs[kind][id] = struct{}{}
	return id
}

// Status returns a snapshot of queue counters.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Status{
		Pending:     q.pending.Len(),
		Active:      len(q.active),
		Paused:      q.paused,
		Concurrency: q.concurrency,
	}
}

// TaskState looks a task up in the pending store, then the active set. ok is false
// when the task is unknown or has already reached a terminal state.
func (q *Queue) TaskState(id string) (state tasks.State, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if j := q.pending.Get(id); j != nil {
		return j.task.State, true
	}
	if j, found := q.active[id]; found {
		return j.task.State, true
	}
	return 0, false
}

// Pending returns snapshots of the pending tasks in dispatch order.
func (q *Queue) Pending() []tasks.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := q.pending.Jobs()
	out := make([]tasks.Task, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.task)
	}
	return out
}

// Active returns snapshots of the active tasks, oldest dispatch first.
func (q *Queue) Active() []tasks.Task {
	q.mu.Lock()
	out := make([]tasks.Task, 0, len(q.active))
	for _, j := range q.active {
		out = append(out, j.task)
	}
	q.mu.Unlock()

	slices.SortFunc(out, func(a, b tasks.Task) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Hub returns the hub the queue publishes to.
func (q *Queue) Hub() *events.Hub { return q.hub }

// On subscribes fn to kind. See events.Hub.On.
func (q *Queue) On(kind events.Kind, fn events.Listener) events.ListenerID {
	return q.track(kind, q.hub.On(kind, fn))
}

// Once subscribes fn to the next event of kind. See events.Hub.Once.
func (q *Queue) Once(kind events.Kind, fn events.Listener) events.ListenerID {
	return q.track(kind, q.hub.Once(kind, fn))
}

// Off removes a subscription. See events.Hub.Off.
func (q *Queue) Off(kind events.Kind, id events.ListenerID) bool {
	q.subsMu.Lock()
	delete(q.subs[kind], id)
	q.subsMu.Unlock()
	return q.hub.Off(kind, id)
}
