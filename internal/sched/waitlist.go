package sched

import (
	"github.com/emirpasic/gods/lists/doublylinkedlist"
)

// Waitable is an event object tasks can block on.
type Waitable interface {
	Name() string
}

// waitList is the ordered set of tasks blocked on one side of a Waitable.
// All methods require Kernel.mu.
type waitList struct {
	owner   Waitable
	byPrio  bool
	waiters *doublylinkedlist.List
}

func newWaitList(owner Waitable, policy string) *waitList {
	return &waitList{
		owner:   owner,
		byPrio:  policy == WakePriority,
		waiters: doublylinkedlist.New(),
	}
}

// insert queues t behind every waiter of equal or higher priority.
func (w *waitList) insert(t *Task) {
	if !w.byPrio {
		w.waiters.Add(t)
		return
	}
	it := w.waiters.Iterator()
	for it.Next() {
		if it.Value().(*Task).Priority < t.Priority {
			w.waiters.Insert(it.Index(), t)
			return
		}
	}
	w.waiters.Add(t)
}

// popFront removes and returns the task to wake next, or nil.
func (w *waitList) popFront() *Task {
	v, ok := w.waiters.Get(0)
	if !ok {
		return nil
	}
	w.waiters.Remove(0)
	return v.(*Task)
}

func (w *waitList) remove(t *Task) {
	if i := w.waiters.IndexOf(t); i >= 0 {
		w.waiters.Remove(i)
	}
}

func (w *waitList) contains(t *Task) bool {
	return w.waiters.IndexOf(t) >= 0
}

func (w *waitList) len() int {
	return w.waiters.Size()
}
