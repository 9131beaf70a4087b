package sched

import (
	"context"
	"fmt"
)

// Semaphore is a binary or counting semaphore with a wait list of takers.
type Semaphore struct {
	k      *Kernel
	name   string
	count  uint32
	max    uint32
	takers *waitList
}

// NewBinarySemaphore creates an empty binary semaphore: it must be given before it can be taken.
func (k *Kernel) NewBinarySemaphore(name string) (*Semaphore, error) {
	return k.NewCountingSemaphore(name, 1, 0)
}

// NewCountingSemaphore creates a semaphore holding initial of at most max tokens.
func (k *Kernel) NewCountingSemaphore(name string, max, initial uint32) (*Semaphore, error) {
	if max == 0 || initial > max {
		return nil, fmt.Errorf("semaphore %q: invalid count %d/%d", name, initial, max)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.heap.alloc(objectHeader); err != nil {
		return nil, fmt.Errorf("create semaphore %q: %w", name, err)
	}
	s := &Semaphore{k: k, name: name, count: initial, max: max}
	s.takers = newWaitList(s, k.cfg.WakePolicy)
	return s, nil
}

// Name identifies the semaphore in blocker reports and traces.
func (s *Semaphore) Name() string { return s.name }

// Take obtains a token, blocking the calling task for up to timeout ticks.
// It reports false on timeout; timeout 0 never blocks.
func (s *Semaphore) Take(ctx context.Context, timeout Tick) (bool, error) {
	t, err := s.k.enter(ctx)
	if err != nil {
		return false, err
	}

	s.k.mu.Lock()
	if s.count > 0 {
		s.count--
		s.k.mu.Unlock()
		return true, nil
	}
	if timeout == 0 {
		s.k.mu.Unlock()
		return false, nil
	}
	s.k.blockLocked(t, s.takers, timeout, s.name)
	s.k.mu.Unlock()

	r, err := s.k.park(t)
	if err != nil {
		return false, err
	}
	return r == wakeEvent, nil
}

// Give releases a token. With takers waiting, the token goes straight to the
// first of them. It reports false when the semaphore is already full.
// Give never blocks and may be called from outside any task.
func (s *Semaphore) Give() bool {
	s.k.mu.Lock()
	defer s.k.mu.Unlock()

	if t := s.takers.popFront(); t != nil {
		s.k.readyLocked(t, wakeEvent)
		return true
	}
	if s.count >= s.max {
		return false
	}
	s.count++
	return true
}

// Count returns the tokens currently available.
func (s *Semaphore) Count() uint32 {
	s.k.mu.Lock()
	defer s.k.mu.Unlock()
	return s.count
}

// Waiters returns the number of tasks blocked in Take.
func (s *Semaphore) Waiters() int {
	s.k.mu.Lock()
	defer s.k.mu.Unlock()
	return s.takers.len()
}
