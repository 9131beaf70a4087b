package sched

import "context"

// TaskID uniquely identifies a task in the kernel. It is the task handle.
type TaskID uint64

// Tick is the kernel unit of time.
type Tick uint64

// MaxDelay blocks without a deadline.
const MaxDelay = ^Tick(0)

// IdlePriority is the lowest task priority.
const IdlePriority = 0

// TaskState is the scheduler-level state of a task.
type TaskState int

const (
	StateReady TaskState = iota
	StateRunning
	StateBlocked
	StateSuspended
	StateDeleted
)

func (s TaskState) String() string {
	switch s {
	case StateReady:
		return "Ready"
	case StateRunning:
		return "Running"
	case StateBlocked:
		return "Blocked"
	case StateSuspended:
		return "Suspended"
	case StateDeleted:
		return "Deleted"
	default:
		return "Unknown"
	}
}

// wakeReason tells a parked task why it was made ready.
type wakeReason int

const (
	wakeEvent wakeReason = iota // token or item handed over by the releasing side
	wakeNotified
	wakeDelayElapsed
	wakeTimeout // deadline raced the event and won, or the task was resumed
)

type noteState int

const (
	noteIdle noteState = iota
	noteWaiting
	noteReceived
)

// Task represents one schedulable task unit.
type Task struct {
	ID         TaskID
	Name       string
	Priority   int                             // 0 (idle) up to max_priorities-1, higher runs first
	StackDepth uint16                          // in words; 0 means minimal_stack_size
	Run        func(ctx context.Context) error // task body; returning ends the task

	// Everything below is owned by the kernel and guarded by Kernel.mu.
	ctx       context.Context
	cancel    context.CancelFunc
	state     TaskState
	eventList *waitList // non-nil while the task waits on an event object
	item      any       // item handed over by a queue on wakeEvent
	delayed   bool      // true while the task sits in the delayed set
	wakeAt    Tick
	noteValue uint32
	noteState noteState
	suspend   bool // suspension requested while running; applied at the next checkpoint
	wake      chan wakeReason
	heapCost  uint64
	done      chan struct{}
	err       error
}

// NewTask creates a new task with a clamped priority.
// NOTE: ID is assigned when the task is added to a kernel.
func NewTask(name string, priority int, stackDepth uint16, work func(ctx context.Context) error) *Task {
	if priority < IdlePriority {
		priority = IdlePriority
	}

	return &Task{
		Name:       name,
		Priority:   priority,
		StackDepth: stackDepth,
		Run:        work,
	}
}

// Done is closed once the task body has returned and the task is reaped.
// Valid after the task has been added to a kernel.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err is the error the task body returned. Valid once Done is closed.
func (t *Task) Err() error { return t.err }

type taskKey struct{}

func taskFromContext(ctx context.Context) (*Task, bool) {
	t, ok := ctx.Value(taskKey{}).(*Task)
	return t, ok
}
