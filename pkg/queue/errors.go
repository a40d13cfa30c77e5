package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrCanceled is wrapped by every error a handle settles with because its task was
	// removed, canceled, cleared or destroyed. It never wraps a payload failure.
	ErrCanceled = errors.New("task canceled")

	// ErrClosed rejects tasks scheduled after Destroy.
	ErrClosed = errors.New("queue is closed")

	// ErrDuplicateTask rejects a task whose ID is already pending or active.
	ErrDuplicateTask = errors.New("task id already queued")

	// ErrNilPayload rejects a task without a payload.
	ErrNilPayload = errors.New("task payload is nil")
)

// IsCanceled reports whether err stems from cancellation rather than a payload failure.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}

func canceledError(reason string) error {
	return fmt.Errorf("%w: %s", ErrCanceled, reason)
}

var (
	errRemoved   = canceledError("removed from queue")
	errAborted   = canceledError("canceled during execution")
	errSignaled  = canceledError("aborted")
	errCleared   = canceledError("queue cleared")
	errDestroyed = canceledError("queue destroyed")
)
