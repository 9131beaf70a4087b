// internal/sched/kernel.go

package sched

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"fortio.org/safecast"
	"github.com/emirpasic/gods/trees/redblacktree"
	"go.uber.org/zap"
)

// Kernel owns every piece of scheduler state that a blocking transition touches:
// task states, event wait lists (through the objects it creates), the delayed
// set, notification slots and the tick counter. One mutex makes each transition
// indivisible for every other task and for the tick.
type Kernel struct {
	mu        sync.Mutex         // protects the kernel state
	cfg       Config             // sanitized configuration
	log       *zap.Logger        // never nil
	clock     *TickClock         // paces Run; Advance works without it
	tick      Tick               // current tick count
	nextID    TaskID             // next handle to issue; handles start at 1
	tasks     map[TaskID]*Task   // live and not yet reaped tasks
	delayed   *redblacktree.Tree // tasks with a deadline ordered by wake tick and task ID
	heap      heapBudget         // total_heap_size accounting
	events    chan Event         // transition stream, drops when nobody listens
	dropped   uint64             // events dropped on a full channel
	stopped   bool               // no new tasks once set
	closed    bool               // events channel closed
	wg        sync.WaitGroup     // task goroutines
	stackSize uint16             // minimal_stack_size in words

	// trace-related
	csvFile   *os.File
	csvWriter *csv.Writer
}

// New creates a new Kernel with the given configuration. A nil logger logs nothing.
func New(cfg Config, log *zap.Logger) *Kernel {
	cfg = cfg.sanitize()
	if log == nil {
		log = zap.NewNop()
	}
	heapSize, err := safecast.Conv[uint64](cfg.TotalHeapSize)
	if err != nil {
		heapSize = uint64(DefaultConfig().TotalHeapSize)
	}
	stackSize, err := safecast.Conv[uint16](cfg.MinimalStackSize)
	if err != nil {
		stackSize = 60
	}

	return &Kernel{
		cfg:       cfg,
		log:       log,
		clock:     NewTickClock(256),
		nextID:    1,
		tasks:     make(map[TaskID]*Task),
		delayed:   redblacktree.NewWith(cmp),
		heap:      heapBudget{total: heapSize},
		events:    make(chan Event, cfg.EventBuffer),
		stackSize: stackSize,
	}
}

// Config returns the effective configuration.
func (k *Kernel) Config() Config { return k.cfg }

// Events exposes the read-only transition stream. Run consumes it; use one or the other.
func (k *Kernel) Events() <-chan Event { return k.events }

// EnableTraceCSV opens the given file path for CSV tracing of events.
// Must be called before Run().
func (k *Kernel) EnableTraceCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create trace %s: %w", path, err)
	}
	w := csv.NewWriter(f)

	// write header
	if err := w.Write([]string{"timestamp", "tick", "event", "task_id", "task", "detail"}); err != nil {
		f.Close()
		return fmt.Errorf("write trace header: %w", err)
	}
	w.Flush()
	k.csvFile = f
	k.csvWriter = w
	return nil
}

// Run drives the tick from the wall clock until ctx is done, then deletes every
// task, waits for their goroutines and returns.
func (k *Kernel) Run(ctx context.Context) error {
	k.clock.Start(time.Duration(k.cfg.TickMS) * time.Millisecond)
	go k.loop(ctx)

	// consume events
	for ev := range k.events {
		k.handleEvent(ev)
	}

	if k.csvFile != nil {
		k.csvWriter.Flush()
		if err := k.csvWriter.Error(); err != nil {
			k.csvFile.Close()
			return fmt.Errorf("flush trace: %w", err)
		}
		return k.csvFile.Close()
	}
	return nil
}

func (k *Kernel) loop(ctx context.Context) {
	defer func() {
		// stop the underlying clock to release its goroutine
		k.clock.Stop()
		k.Shutdown()
		k.mu.Lock()
		k.closed = true
		close(k.events)
		k.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-k.clock.Ch:
			if !ok {
				return
			}
			k.Advance(1)
		}
	}
}

// Advance moves the tick forward n times, readying every task whose deadline
// has been reached. Run calls it once per clock pulse; tests call it directly.
func (k *Kernel) Advance(n Tick) {
	for i := Tick(0); i < n; i++ {
		k.mu.Lock()
		k.tick++
		for {
			node := k.delayed.Left()
			if node == nil {
				break
			}
			key := node.Key.(delayKey)
			if key.wake > k.tick {
				break
			}
			t := node.Value.(*Task)
			reason := wakeDelayElapsed
			if t.eventList != nil || t.noteState == noteWaiting {
				reason = wakeTimeout
			}
			k.readyLocked(t, reason)
		}
		k.emitLocked(EventTick, nil, "")
		k.mu.Unlock()
	}
}

// TickCount returns the current tick.
func (k *Kernel) TickCount() Tick {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.tick
}

// HeapFree returns the unallocated part of the heap budget.
func (k *Kernel) HeapFree() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.heap.available()
}

// Add charges the task to the heap budget, assigns its handle and starts it.
func (k *Kernel) Add(t *Task) (TaskID, error) {
	if t.Run == nil {
		return 0, fmt.Errorf("task %q has no body", t.Name)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.stopped {
		return 0, ErrKernelStopped
	}
	if t.ID != 0 {
		return 0, fmt.Errorf("task %d: %w", t.ID, ErrDuplicateTask)
	}

	if t.StackDepth == 0 {
		t.StackDepth = k.stackSize
	}
	if t.Priority >= k.cfg.MaxPriorities {
		t.Priority = k.cfg.MaxPriorities - 1
	}
	if len(t.Name) > k.cfg.MaxTaskNameLen {
		t.Name = t.Name[:k.cfg.MaxTaskNameLen]
	}

	cost := tcbSize + uint64(t.StackDepth)*wordSize
	if err := k.heap.alloc(cost); err != nil {
		k.log.Error("task allocation failed", zap.String("task", t.Name), zap.Error(err))
		return 0, fmt.Errorf("create task %q: %w", t.Name, err)
	}

	t.ID = k.nextID
	k.nextID++
	t.heapCost = cost
	t.state = StateRunning
	t.wake = make(chan wakeReason, 1)
	t.done = make(chan struct{})
	t.ctx, t.cancel = context.WithCancel(context.WithValue(context.Background(), taskKey{}, t))
	k.tasks[t.ID] = t
	k.emitLocked(EventCreate, t, fmt.Sprintf("priority=%d stack=%d", t.Priority, t.StackDepth))

	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		err := t.Run(t.ctx)
		k.retire(t, err)
	}()

	k.log.Debug("task created", zap.Uint64("id", uint64(t.ID)), zap.String("task", t.Name), zap.Int("priority", t.Priority))
	return t.ID, nil
}

// retire reaps a task whose body has returned.
func (k *Kernel) retire(t *Task, err error) {
	k.mu.Lock()
	if t.state != StateDeleted {
		k.retractLocked(t)
		t.state = StateDeleted
		k.emitLocked(EventExit, t, "")
	}
	t.cancel()
	t.err = err
	k.heap.free(t.heapCost)
	delete(k.tasks, t.ID)
	k.mu.Unlock()
	close(t.done)
	k.log.Debug("task exited", zap.Uint64("id", uint64(t.ID)), zap.String("task", t.Name), zap.Error(err))
}

// Delete removes the task from whichever wait list or deadline set holds it,
// marks it Deleted and cancels its context. A task may delete itself.
func (k *Kernel) Delete(id TaskID) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	t, ok := k.tasks[id]
	if !ok {
		return fmt.Errorf("delete task %d: %w", id, ErrNoSuchTask)
	}
	if t.state == StateDeleted {
		return nil
	}
	k.retractLocked(t)
	t.state = StateDeleted
	t.cancel()
	k.emitLocked(EventDelete, t, "")
	return nil
}

// Shutdown refuses new tasks, deletes every live one and waits for their bodies to return.
func (k *Kernel) Shutdown() {
	k.mu.Lock()
	k.stopped = true
	for _, t := range k.tasks {
		if t.state != StateDeleted {
			k.retractLocked(t)
			t.state = StateDeleted
			t.cancel()
			k.emitLocked(EventDelete, t, "shutdown")
		}
	}
	k.mu.Unlock()
	k.wg.Wait()
}

// State reports the scheduler state of a task. Reaped tasks report Deleted.
func (k *Kernel) State(id TaskID) (TaskState, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if t, ok := k.tasks[id]; ok {
		return t.state, nil
	}
	if id != 0 && id < k.nextID {
		return StateDeleted, nil
	}
	return StateDeleted, fmt.Errorf("state of task %d: %w", id, ErrNoSuchTask)
}

// CurrentTask returns the handle of the task whose body ctx was derived from.
func (k *Kernel) CurrentTask(ctx context.Context) (TaskID, error) {
	t, ok := taskFromContext(ctx)
	if !ok {
		return 0, ErrNotInTask
	}
	return t.ID, nil
}

// Yield is a scheduling checkpoint: it applies a pending suspension and lets
// other goroutines run.
func (k *Kernel) Yield(ctx context.Context) error {
	if _, err := k.enter(ctx); err != nil {
		return err
	}
	runtime.Gosched()
	return nil
}

// Suspend stops a task until Resume. A blocked task is taken off its wait list
// and deadline; its pending call reports a timeout once resumed. A running task
// other than the caller is suspended at its next kernel call.
func (k *Kernel) Suspend(ctx context.Context, id TaskID) error {
	if !k.cfg.IncludeTaskSuspend {
		return ErrSuspendDisabled
	}
	caller, _ := taskFromContext(ctx)

	k.mu.Lock()
	t, ok := k.tasks[id]
	if !ok || t.state == StateDeleted {
		k.mu.Unlock()
		return fmt.Errorf("suspend task %d: %w", id, ErrNoSuchTask)
	}

	switch t.state {
	case StateSuspended:
		k.mu.Unlock()
		return nil
	case StateBlocked:
		k.retractLocked(t)
		t.state = StateSuspended
		k.emitLocked(EventSuspend, t, "")
		k.mu.Unlock()
		return nil
	}

	if t != caller {
		t.suspend = true
		k.mu.Unlock()
		return nil
	}
	t.state = StateSuspended
	k.emitLocked(EventSuspend, t, "self")
	k.mu.Unlock()
	_, err := k.park(t)
	return err
}

// Resume readies a suspended task or cancels a pending suspension.
func (k *Kernel) Resume(id TaskID) error {
	if !k.cfg.IncludeTaskSuspend {
		return ErrSuspendDisabled
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	t, ok := k.tasks[id]
	if !ok || t.state == StateDeleted {
		return fmt.Errorf("resume task %d: %w", id, ErrNoSuchTask)
	}
	if t.suspend {
		t.suspend = false
		return nil
	}
	if t.state != StateSuspended {
		return nil
	}
	t.state = StateReady
	k.signal(t, wakeTimeout)
	k.emitLocked(EventResume, t, "")
	return nil
}

// enter resolves the calling task and applies a pending suspension.
func (k *Kernel) enter(ctx context.Context) (*Task, error) {
	t, ok := taskFromContext(ctx)
	if !ok {
		return nil, ErrNotInTask
	}

	k.mu.Lock()
	if k.tasks[t.ID] != t || t.state == StateDeleted {
		k.mu.Unlock()
		return nil, ErrTaskDeleted
	}
	if !t.suspend {
		k.mu.Unlock()
		return t, nil
	}
	t.suspend = false
	t.state = StateSuspended
	k.emitLocked(EventSuspend, t, "deferred")
	k.mu.Unlock()

	if _, err := k.park(t); err != nil {
		return nil, err
	}
	return t, nil
}

// blockLocked moves the calling task into Blocked. list may be nil for pure
// delays and notification waits; timeout MaxDelay waits without a deadline
// unless task suspension is compiled out.
func (k *Kernel) blockLocked(t *Task, list *waitList, timeout Tick, detail string) {
	t.state = StateBlocked
	if list != nil {
		list.insert(t)
		t.eventList = list
	}
	if timeout != MaxDelay || !k.cfg.IncludeTaskSuspend {
		k.addDelayLocked(t, deadline(k.tick, timeout))
	}
	k.emitLocked(EventBlock, t, detail)
}

func (k *Kernel) addDelayLocked(t *Task, wake Tick) {
	t.wakeAt = wake
	t.delayed = true
	k.delayed.Put(delayKey{wake: wake, id: t.ID}, t)
}

// retractLocked drops every registration the task holds without waking it.
func (k *Kernel) retractLocked(t *Task) {
	if t.eventList != nil {
		t.eventList.remove(t)
		t.eventList = nil
	}
	if t.delayed {
		k.delayed.Remove(delayKey{wake: t.wakeAt, id: t.ID})
		t.delayed = false
	}
	if t.noteState == noteWaiting {
		t.noteState = noteIdle
	}
	t.item = nil
}

// readyLocked resolves a blocked task: the losing registration of an
// event/deadline race is retracted in the same step.
func (k *Kernel) readyLocked(t *Task, reason wakeReason) {
	item := t.item
	k.retractLocked(t)
	if reason == wakeEvent {
		t.item = item
	}
	t.state = StateReady
	k.signal(t, reason)

	kind := EventWake
	if reason == wakeTimeout {
		kind = EventTimeout
	}
	k.emitLocked(kind, t, "")
}

func (k *Kernel) signal(t *Task, reason wakeReason) {
	select {
	case t.wake <- reason:
	default:
	}
}

// park suspends the goroutine of a task that has registered itself as blocked.
func (k *Kernel) park(t *Task) (wakeReason, error) {
	select {
	case r := <-t.wake:
		k.mu.Lock()
		defer k.mu.Unlock()
		if t.state == StateDeleted {
			return r, ErrTaskDeleted
		}
		if t.state == StateReady {
			t.state = StateRunning
		}
		return r, nil
	case <-t.ctx.Done():
		return wakeTimeout, ErrTaskDeleted
	}
}

func (k *Kernel) emitLocked(kind EventKind, t *Task, detail string) {
	if k.closed {
		return
	}
	ev := Event{Time: time.Now(), Tick: k.tick, Kind: kind, Detail: detail}
	if t != nil {
		ev.TaskID = t.ID
		ev.Task = t.Name
	}
	select {
	case k.events <- ev:
	default:
		k.dropped++
	}
}

// deadline adds d to now, saturating at MaxDelay.
func deadline(now, d Tick) Tick {
	if d > MaxDelay-now {
		return MaxDelay
	}
	return now + d
}

// delayKey is used as a key in the red-black tree.
type delayKey struct {
	wake Tick
	id   TaskID
}

// cmp orders the delayed set by wake tick, then by task ID.
func cmp(a, b any) int {
	ka, kb := a.(delayKey), b.(delayKey)
	switch {
	case ka.wake < kb.wake:
		return -1
	case ka.wake > kb.wake:
		return 1
	case ka.id < kb.id:
		return -1
	case ka.id > kb.id:
		return 1
	default:
		return 0
	}
}
