package sched

import "fmt"

// BlockReason says why a task is not executing.
type BlockReason int

const (
	NotBlocked BlockReason = iota
	BlockedForEvent
	BlockedForNotification
	BlockedForTime
)

func (r BlockReason) String() string {
	switch r {
	case NotBlocked:
		return "NotBlocked"
	case BlockedForEvent:
		return "BlockedForEvent"
	case BlockedForNotification:
		return "BlockedForNotification"
	case BlockedForTime:
		return "BlockedForTime"
	default:
		return "Unknown"
	}
}

// BlockerStatus is a snapshot of a task's blocking reason.
// Object is set only for BlockedForEvent, UntilTick only for BlockedForTime.
type BlockerStatus struct {
	Reason    BlockReason
	Object    Waitable
	UntilTick Tick
}

func (s BlockerStatus) String() string {
	switch s.Reason {
	case BlockedForEvent:
		return fmt.Sprintf("%s(%s)", s.Reason, s.Object.Name())
	case BlockedForTime:
		return fmt.Sprintf("%s(%d)", s.Reason, s.UntilTick)
	default:
		return s.Reason.String()
	}
}

// Blocker reports why the task is currently not running. The snapshot is taken
// under the kernel lock so wait list membership, the notification wait and the
// deadline are read together. A task asking about itself is running and so
// always gets NotBlocked.
func (k *Kernel) Blocker(id TaskID) (BlockerStatus, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	t, ok := k.tasks[id]
	if !ok {
		return BlockerStatus{}, fmt.Errorf("blocker of task %d: %w", id, ErrNoSuchTask)
	}
	return blockerLocked(t), nil
}

// Inspect returns the task state together with its blocker, read in one snapshot.
func (k *Kernel) Inspect(id TaskID) (TaskState, BlockerStatus, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	t, ok := k.tasks[id]
	if !ok {
		return StateDeleted, BlockerStatus{}, fmt.Errorf("inspect task %d: %w", id, ErrNoSuchTask)
	}
	return t.state, blockerLocked(t), nil
}

// blockerLocked resolves in a fixed order: event wait list, notification wait, deadline.
func blockerLocked(t *Task) BlockerStatus {
	switch {
	case t.eventList != nil && t.eventList.contains(t):
		return BlockerStatus{Reason: BlockedForEvent, Object: t.eventList.owner}
	case t.noteState == noteWaiting:
		return BlockerStatus{Reason: BlockedForNotification}
	case t.delayed:
		return BlockerStatus{Reason: BlockedForTime, UntilTick: t.wakeAt}
	default:
		return BlockerStatus{Reason: NotBlocked}
	}
}
