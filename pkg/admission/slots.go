package admission

import (
	"context"
	"sync"
	"time"
)

// SlotLimiter bounds the number of simultaneous in-flight downstream
// calls across all agents. It is a counting semaphore built on a
// buffered channel so acquisition can block with a deadline instead of
// failing immediately: a caller that cannot get a slot within the
// timeout is denied, never queued indefinitely.
type SlotLimiter struct {
	slots   chan struct{}
	timeout time.Duration
}

// NewSlotLimiter creates a limiter with the given capacity and acquire
// timeout.
func NewSlotLimiter(capacity int, timeout time.Duration) *SlotLimiter {
	return &SlotLimiter{
		slots:   make(chan struct{}, capacity),
		timeout: timeout,
	}
}

// Acquire reserves one slot, waiting up to the configured timeout.
// On success it returns a release function and true; the release
// function returns the slot exactly once regardless of how many times
// it is called. On timeout or context cancellation it returns nil and
// false.
func (l *SlotLimiter) Acquire(ctx context.Context) (func(), bool) {
	select {
	case l.slots <- struct{}{}:
	default:
		// No free slot right now; wait with a deadline.
		timer := time.NewTimer(l.timeout)
		defer timer.Stop()
		select {
		case l.slots <- struct{}{}:
		case <-timer.C:
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-l.slots })
	}, true
}

// Capacity returns the configured slot count.
func (l *SlotLimiter) Capacity() int { return cap(l.slots) }

// InFlight returns the number of slots currently held.
func (l *SlotLimiter) InFlight() int { return len(l.slots) }
