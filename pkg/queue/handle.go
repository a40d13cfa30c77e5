package queue

import (
	"context"
	"sync"
)

// Handle is the caller's view of a scheduled task. It settles exactly once with the
// payload's result, the payload's final error, or a cancellation error.
type Handle struct {
	id   string
	done chan struct{}
	once sync.Once

	result any
	err    error
}

func newHandle(id string) *Handle {
	return &Handle{id: id, done: make(chan struct{})}
}

// rejectedHandle is settled before it is returned.
func rejectedHandle(id string, err error) *Handle {
	h := newHandle(id)
	h.settle(nil, err)
	return h
}

// ID returns the task ID.
func (h *Handle) ID() string { return h.id }

// Done is closed once the handle has settled.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the handle settles or ctx is done. A ctx error does not cancel the
// task; use Queue.CancelTask for that.
func (h *Handle) Wait(ctx context.Context) (any, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Settled reports whether the handle has settled.
func (h *Handle) Settled() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *Handle) settle(result any, err error) bool {
	settled := false
	h.once.Do(func() {
		h.result = result
		h.err = err
		settled = true
		close(h.done)
	})
	return settled
}
