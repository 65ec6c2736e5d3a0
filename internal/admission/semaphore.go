// SPDX-License-Identifier: MIT

// Package admission bounds the number of concurrent operations admitted
// against the device. The device runs a single-threaded embedded HTTP stack;
// batch operations (e.g. applying a saved config with many per-item writes)
// must not starve it.
package admission

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/chrisgleissner/c64bridge/internal/metrics"
)

// ReleaseFunc returns the held slot. Calling it more than once is a no-op.
type ReleaseFunc func()

// Semaphore admits at most limit concurrent holders. Waiters are queued and
// promoted in FIFO order; a release hands the slot directly to the next
// waiter so the active count never exceeds limit.
type Semaphore struct {
	mu      sync.Mutex
	limit   int
	active  int
	waiters *list.List // of chan struct{}
	name    string
}

// NewSemaphore creates a semaphore with the given concurrency limit.
// It returns an error for limit < 1.
func NewSemaphore(name string, limit int) (*Semaphore, error) {
	if limit < 1 {
		return nil, fmt.Errorf("admission: limit must be >= 1, got %d", limit)
	}
	return &Semaphore{
		limit:   limit,
		waiters: list.New(),
		name:    name,
	}, nil
}

// Acquire blocks until a slot is free or ctx is done. On success it returns
// a release callback; the caller must invoke it exactly once.
func (s *Semaphore) Acquire(ctx context.Context) (ReleaseFunc, error) {
	s.mu.Lock()
	if s.active < s.limit && s.waiters.Len() == 0 {
		s.active++
		metrics.SetSemaphoreInFlight(s.name, s.active)
		s.mu.Unlock()
		return s.releaseOnce(), nil
	}

	ready := make(chan struct{})
	elem := s.waiters.PushBack(ready)
	s.mu.Unlock()

	select {
	case <-ready:
		// Slot was transferred by a releasing holder; active is already
		// accounted for.
		return s.releaseOnce(), nil
	case <-ctx.Done():
		s.mu.Lock()
		select {
		case <-ready:
			// Promotion raced the cancellation; give the slot back.
			s.releaseLocked()
			s.mu.Unlock()
		default:
			s.waiters.Remove(elem)
			s.mu.Unlock()
		}
		return nil, ctx.Err()
	}
}

// TryAcquire grants a slot without blocking, or reports false.
func (s *Semaphore) TryAcquire() (ReleaseFunc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active >= s.limit || s.waiters.Len() > 0 {
		return nil, false
	}
	s.active++
	metrics.SetSemaphoreInFlight(s.name, s.active)
	return s.releaseOnce(), true
}

// InFlight returns the current number of active holders.
func (s *Semaphore) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Waiting returns the current queue depth.
func (s *Semaphore) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters.Len()
}

func (s *Semaphore) releaseOnce() ReleaseFunc {
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.releaseLocked()
			s.mu.Unlock()
		})
	}
}

// releaseLocked frees one slot. If a waiter is queued the slot transfers to
// it directly, keeping active constant, so the count can never overshoot.
func (s *Semaphore) releaseLocked() {
	if front := s.waiters.Front(); front != nil {
		s.waiters.Remove(front)
		close(front.Value.(chan struct{}))
		metrics.SetSemaphoreInFlight(s.name, s.active)
		return
	}
	s.active--
	metrics.SetSemaphoreInFlight(s.name, s.active)
}
