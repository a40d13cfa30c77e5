package queue

import (
	"math"
	"time"
)

// Backoff computes the delay before a retry. attempt starts at 1 for the first retry.
type Backoff interface {
	Next(attempt int) time.Duration
}

// FixedBackoff waits the same delay before every retry.
type FixedBackoff struct {
	Delay time.Duration
}

func (b FixedBackoff) Next(int) time.Duration { return b.Delay }

// LinearBackoff waits Base + Step*(attempt-1).
type LinearBackoff struct {
	Base time.Duration
	Step time.Duration
}

func (b LinearBackoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return b.Base + b.Step*time.Duration(attempt-1)
}

// ExponentialBackoff waits Base * 2^(attempt-1), capped at Max when Max > 0. Without a
// cap a delay that does not fit in a time.Duration saturates at math.MaxInt64.
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

func (b ExponentialBackoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 32 {
		attempt = 32
	}
	factor := time.Duration(1) << uint(attempt-1)
	if b.Base > math.MaxInt64/factor {
		if b.Max > 0 {
			return b.Max
		}
		return math.MaxInt64
	}
	d := b.Base * factor
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}
