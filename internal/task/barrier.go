package task

import (
	"context"
	"sync"
)

// Barrier is a wait-list of goroutines parked on Wait, resumed together by
// resumeFirst/resumeAll-style predicates (spec §3 "Barrier"). It backs every
// subscriber/publisher/listener fan-out in internal/message and every
// protocol ack wait in internal/radio, internal/busmaster and
// internal/mqttsn.
type Barrier struct {
	mu      sync.Mutex
	waiters []*waiter
}

type waiter struct {
	ch    chan any
	match func(any) bool
}

// NewBarrier returns an empty Barrier.
func NewBarrier() *Barrier { return &Barrier{} }

// Wait registers the calling goroutine on the barrier and blocks until a
// Resume call delivers a value this waiter accepts (match is nil to accept
// anything), or ctx is done. On cancellation the waiter is removed from the
// wait-list before returning, mirroring the spec's cancellation contract.
func (b *Barrier) Wait(ctx context.Context, match func(any) bool) (any, error) {
	w := &waiter{ch: make(chan any, 1), match: match}
	b.mu.Lock()
	b.waiters = append(b.waiters, w)
	b.mu.Unlock()

	select {
	case v := <-w.ch:
		return v, nil
	case <-ctx.Done():
		b.remove(w)
		// A resume may have raced the cancellation and already been queued
		// in the buffered channel; drain it so it is not silently dropped
		// by a future waiter reusing the same barrier.
		select {
		case v := <-w.ch:
			return v, nil
		default:
		}
		return nil, ctx.Err()
	}
}

func (b *Barrier) remove(target *waiter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, w := range b.waiters {
		if w == target {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			return
		}
	}
}

// ResumeFirst wakes the first waiter whose match accepts value, removing it
// from the wait-list. It reports whether any waiter was resumed.
func (b *Barrier) ResumeFirst(value any) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, w := range b.waiters {
		if w.match == nil || w.match(value) {
			w.ch <- value
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// ResumeAll wakes every waiter whose match accepts value, removing each from
// the wait-list, and reports how many were resumed.
func (b *Barrier) ResumeAll(value any) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.waiters[:0]
	resumed := 0
	for _, w := range b.waiters {
		if w.match == nil || w.match(value) {
			w.ch <- value
			resumed++
		} else {
			remaining = append(remaining, w)
		}
	}
	b.waiters = remaining
	return resumed
}

// Len reports the number of parked waiters, for diagnostics and tests.
func (b *Barrier) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.waiters)
}
