package sched

import (
	"context"
	"fmt"
)

// NotifyAction selects how Notify combines value with the task's notification value.
type NotifyAction int

const (
	NoAction                 NotifyAction = iota // mark pending, leave the value alone
	SetBits                                      // value |= v
	Increment                                    // value++
	SetValueWithOverwrite                        // value = v
	SetValueWithoutOverwrite                     // value = v unless one is already pending
)

func (a NotifyAction) String() string {
	switch a {
	case NoAction:
		return "NoAction"
	case SetBits:
		return "SetBits"
	case Increment:
		return "Increment"
	case SetValueWithOverwrite:
		return "SetValueWithOverwrite"
	case SetValueWithoutOverwrite:
		return "SetValueWithoutOverwrite"
	default:
		return "Unknown"
	}
}

// Notify delivers value to the task's notification slot. A task waiting in
// NotifyWait is readied before Notify returns. It reports false only for
// SetValueWithoutOverwrite when a value was already pending.
// Notify never blocks and may be called from outside any task.
func (k *Kernel) Notify(id TaskID, value uint32, action NotifyAction) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	t, ok := k.tasks[id]
	if !ok || t.state == StateDeleted {
		return false, fmt.Errorf("notify task %d: %w", id, ErrNoSuchTask)
	}

	prev := t.noteState
	switch action {
	case NoAction:
	case SetBits:
		t.noteValue |= value
	case Increment:
		t.noteValue++
	case SetValueWithOverwrite:
		t.noteValue = value
	case SetValueWithoutOverwrite:
		if prev == noteReceived {
			return false, nil
		}
		t.noteValue = value
	default:
		return false, fmt.Errorf("notify task %d: unknown action %d", id, action)
	}
	t.noteState = noteReceived
	k.emitLocked(EventNotify, t, fmt.Sprintf("%s 0x%X", action, value))

	if prev == noteWaiting {
		k.readyLocked(t, wakeNotified)
	}
	return true, nil
}

// NotifyWait waits up to timeout ticks for a notification to the calling task.
// Bits in clearOnEntry are cleared before waiting when nothing is pending; bits
// in clearOnExit are cleared after a notification is consumed. It returns the
// notification value and whether one was received.
func (k *Kernel) NotifyWait(ctx context.Context, clearOnEntry, clearOnExit uint32, timeout Tick) (uint32, bool, error) {
	t, err := k.enter(ctx)
	if err != nil {
		return 0, false, err
	}

	k.mu.Lock()
	if t.noteState != noteReceived {
		t.noteValue &^= clearOnEntry
		if timeout > 0 {
			t.noteState = noteWaiting
			k.blockLocked(t, nil, timeout, "notification")
			k.mu.Unlock()

			if _, err := k.park(t); err != nil {
				return 0, false, err
			}
			k.mu.Lock()
		}
	}
	defer k.mu.Unlock()

	value := t.noteValue
	received := t.noteState == noteReceived
	if received {
		t.noteValue &^= clearOnExit
	}
	t.noteState = noteIdle
	return value, received, nil
}

// NotifyStateClear drops a pending notification without touching its value.
// It reports whether one was pending.
func (k *Kernel) NotifyStateClear(id TaskID) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	t, ok := k.tasks[id]
	if !ok {
		return false, fmt.Errorf("clear notification of task %d: %w", id, ErrNoSuchTask)
	}
	if t.noteState != noteReceived {
		return false, nil
	}
	t.noteState = noteIdle
	return true, nil
}
