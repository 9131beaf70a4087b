package sched

import (
	"context"
	"fmt"

	"github.com/emirpasic/gods/queues/circularbuffer"
)

// Queue is a bounded FIFO of items with a wait list on each side.
type Queue[T any] struct {
	k         *Kernel
	name      string
	items     *circularbuffer.Queue
	senders   *waitList
	receivers *waitList
}

// NewQueue creates a queue of the given length on k.
func NewQueue[T any](k *Kernel, name string, length int) (*Queue[T], error) {
	if length <= 0 {
		return nil, fmt.Errorf("queue %q: invalid length %d", name, length)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.heap.alloc(objectHeader + uint64(length)*wordSize); err != nil {
		return nil, fmt.Errorf("create queue %q: %w", name, err)
	}
	q := &Queue[T]{k: k, name: name, items: circularbuffer.New(length)}
	q.senders = newWaitList(q, k.cfg.WakePolicy)
	q.receivers = newWaitList(q, k.cfg.WakePolicy)
	return q, nil
}

// Name identifies the queue in blocker reports and traces.
func (q *Queue[T]) Name() string { return q.name }

// Send appends v, blocking the calling task for up to timeout ticks while the
// queue is full. A waiting receiver gets v directly.
func (q *Queue[T]) Send(ctx context.Context, v T, timeout Tick) (bool, error) {
	t, err := q.k.enter(ctx)
	if err != nil {
		return false, err
	}

	q.k.mu.Lock()
	if r := q.receivers.popFront(); r != nil {
		r.item = v
		q.k.readyLocked(r, wakeEvent)
		q.k.mu.Unlock()
		return true, nil
	}
	if !q.items.Full() {
		q.items.Enqueue(v)
		q.k.mu.Unlock()
		return true, nil
	}
	if timeout == 0 {
		q.k.mu.Unlock()
		return false, nil
	}
	t.item = v
	q.k.blockLocked(t, q.senders, timeout, q.name+"/send")
	q.k.mu.Unlock()

	r, err := q.k.park(t)
	if err != nil {
		return false, err
	}
	return r == wakeEvent, nil
}

// Receive removes the oldest item, blocking the calling task for up to timeout
// ticks while the queue is empty.
func (q *Queue[T]) Receive(ctx context.Context, timeout Tick) (T, bool, error) {
	var zero T
	t, err := q.k.enter(ctx)
	if err != nil {
		return zero, false, err
	}

	q.k.mu.Lock()
	if v, ok := q.items.Dequeue(); ok {
		// room was made: admit the first blocked sender
		if s := q.senders.popFront(); s != nil {
			q.items.Enqueue(s.item)
			s.item = nil
			q.k.readyLocked(s, wakeEvent)
		}
		q.k.mu.Unlock()
		item, _ := v.(T)
		return item, true, nil
	}
	if timeout == 0 {
		q.k.mu.Unlock()
		return zero, false, nil
	}
	q.k.blockLocked(t, q.receivers, timeout, q.name+"/receive")
	q.k.mu.Unlock()

	r, err := q.k.park(t)
	if err != nil || r != wakeEvent {
		return zero, false, err
	}

	q.k.mu.Lock()
	item, _ := t.item.(T)
	t.item = nil
	q.k.mu.Unlock()
	return item, true, nil
}

// Len returns the number of items waiting in the queue.
func (q *Queue[T]) Len() int {
	q.k.mu.Lock()
	defer q.k.mu.Unlock()
	return q.items.Size()
}
