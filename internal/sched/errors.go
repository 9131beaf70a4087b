package sched

import "errors"

var (
	// ErrNoSuchTask is returned for a handle that was never issued or whose task has been reaped.
	ErrNoSuchTask = errors.New("no such task")
	// ErrDuplicateTask is returned when a task is added twice.
	ErrDuplicateTask = errors.New("task already added")
	// ErrTaskDeleted is returned from a blocking call whose task was deleted while it waited.
	ErrTaskDeleted = errors.New("task deleted")
	// ErrNotInTask is returned when a blocking call is made outside of a task body.
	ErrNotInTask = errors.New("context does not belong to a task")
	// ErrHeapExhausted is returned when the heap budget cannot cover a new object.
	ErrHeapExhausted = errors.New("heap exhausted")
	// ErrSuspendDisabled is returned by Suspend and Resume when task suspension is compiled out.
	ErrSuspendDisabled = errors.New("task suspension disabled")
	// ErrKernelStopped is returned by Add once the kernel has shut down.
	ErrKernelStopped = errors.New("kernel stopped")
)
