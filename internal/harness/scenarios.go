package harness

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"vblock/internal/job"
	"vblock/internal/sched"
)

// anyState skips the task state check in expect.
const anyState sched.TaskState = -1

type scenario struct {
	name string
	run  func(ctx context.Context) error
}

func (h *Harness) scenarios() []scenario {
	return []scenario{
		{"A/event", h.blockedForEvent},
		{"B/notification", h.blockedForNotification},
		{"C/time", h.blockedForTime},
		{"D/self", h.selfNotBlocked},
	}
}

// blockedForEvent: a worker waits on the shared semaphore the tester holds.
func (h *Harness) blockedForEvent(ctx context.Context) error {
	const name = "A/event"
	ok, err := h.sem.Take(ctx, sched.MaxDelay)
	if err != nil {
		return err
	}
	if !ok {
		return &AssertionError{name, "take shared semaphore", "timed out"}
	}

	id, err := h.spawn("SemWait", job.WaitForSemaphore(h.sem, h.log.Named("sem-wait")))
	if err != nil {
		return err
	}
	defer h.k.Delete(id)

	if err := h.settle(ctx); err != nil {
		return err
	}
	st, err := h.expect(name, id, sched.StateBlocked, sched.BlockedForEvent)
	if err != nil {
		return err
	}
	if st.Object != sched.Waitable(h.sem) {
		return &AssertionError{name, "blocking object", fmt.Sprintf("got %s, want %s", st.Object.Name(), h.sem.Name())}
	}

	h.sem.Give()
	if err := h.settle(ctx); err != nil {
		return err
	}
	_, err = h.expect(name, id, anyState, sched.NotBlocked)
	return err
}

// blockedForNotification: a worker waits for a direct notification.
func (h *Harness) blockedForNotification(ctx context.Context) error {
	const name = "B/notification"
	var received atomic.Bool
	id, err := h.spawn("NoteWait", job.WaitForNotification(h.k, h.log.Named("notify-wait"), func(uint32) { received.Store(true) }))
	if err != nil {
		return err
	}
	defer h.k.Delete(id)

	if err := h.settle(ctx); err != nil {
		return err
	}
	if _, err := h.expect(name, id, sched.StateBlocked, sched.BlockedForNotification); err != nil {
		return err
	}

	if _, err := h.k.Notify(id, NotifyValue, sched.NoAction); err != nil {
		return err
	}
	if err := h.settle(ctx); err != nil {
		return err
	}
	if _, err := h.expect(name, id, anyState, sched.NotBlocked); err != nil {
		return err
	}
	if !received.Load() {
		return &AssertionError{name, "delivery", "worker never saw the notification"}
	}
	return nil
}

// blockedForTime: a worker sleeps in a loop; the reported deadline must be the
// one it announced.
func (h *Harness) blockedForTime(ctx context.Context) error {
	const name = "C/time"
	var announced atomic.Uint64
	id, err := h.spawn("Sleeper", job.AlwaysDelay(h.k, h.opts.SleeperDelay, h.log.Named("sleeper"), func(w sched.Tick) {
		announced.Store(uint64(w))
	}))
	if err != nil {
		return err
	}
	defer h.k.Delete(id)

	if err := h.settle(ctx); err != nil {
		return err
	}
	st, err := h.expect(name, id, sched.StateBlocked, sched.BlockedForTime)
	if err != nil {
		return err
	}
	if uint64(st.UntilTick) != announced.Load() {
		return &AssertionError{name, "wake tick", fmt.Sprintf("reported %d, sleeper announced %d", st.UntilTick, announced.Load())}
	}
	h.log.Info("sleeper waking up", zap.Uint64("tick", uint64(st.UntilTick)))
	return nil
}

// selfNotBlocked: the tester is running, so it cannot see itself blocked.
func (h *Harness) selfNotBlocked(ctx context.Context) error {
	self, err := h.k.CurrentTask(ctx)
	if err != nil {
		return err
	}
	_, err = h.expect("D/self", self, sched.StateRunning, sched.NotBlocked)
	return err
}

func (h *Harness) spawn(name string, body func(context.Context) error) (sched.TaskID, error) {
	id, err := h.k.Add(sched.NewTask(name, h.opts.Priority, 0, body))
	if err != nil {
		return 0, fmt.Errorf("create %s task: %w", name, err)
	}
	return id, nil
}

func (h *Harness) settle(ctx context.Context) error {
	return h.k.Delay(ctx, h.opts.Settle)
}

// expect checks the reason and, unless state is anyState, the task state. A
// NotBlocked expectation also requires the task not to be in state Blocked.
func (h *Harness) expect(scenario string, id sched.TaskID, state sched.TaskState, reason sched.BlockReason) (sched.BlockerStatus, error) {
	got, st, err := h.k.Inspect(id)
	if err != nil {
		return st, err
	}

	if st.Reason != reason {
		return st, &AssertionError{scenario, "blocking reason", fmt.Sprintf("got %s, want %s", st, reason)}
	}
	switch {
	case state != anyState && got != state:
		return st, &AssertionError{scenario, "task state", fmt.Sprintf("got %s, want %s", got, state)}
	case reason == sched.NotBlocked && got == sched.StateBlocked:
		return st, &AssertionError{scenario, "task state", "classified NotBlocked while Blocked"}
	}
	return st, nil
}
