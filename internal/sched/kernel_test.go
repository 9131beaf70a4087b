package sched

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAssignsHandlesAndClamps(t *testing.T) {
	k := newTestKernel(t)

	task := NewTask("a-very-long-task-name", 99, 0, park)
	id, err := k.Add(task)
	require.NoError(t, err)
	assert.Equal(t, TaskID(1), id)
	assert.Equal(t, k.Config().MaxPriorities-1, task.Priority)
	assert.Len(t, task.Name, k.Config().MaxTaskNameLen)
	assert.Equal(t, uint16(60), task.StackDepth)

	_, err = k.Add(task)
	assert.ErrorIs(t, err, ErrDuplicateTask)

	assert.Equal(t, IdlePriority, NewTask("low", -3, 0, park).Priority)
}

func TestAddFailsWhenHeapExhausted(t *testing.T) {
	k := newTestKernel(t, func(c *Config) { c.TotalHeapSize = 1024 })

	_, err := k.Add(NewTask("fits", 1, 60, park))
	require.NoError(t, err)
	_, err = k.Add(NewTask("too-big", 1, 200, park))
	assert.ErrorIs(t, err, ErrHeapExhausted)

	_, err = k.NewCountingSemaphore("sem", 4, 0)
	require.NoError(t, err)
}

func TestHeapReturnedWhenTaskExits(t *testing.T) {
	k := newTestKernel(t)
	before := k.HeapFree()

	require.NoError(t, inTask(t, k, func(context.Context) error { return nil }))
	assert.Equal(t, before, k.HeapFree())
}

func TestDeleteWhileBlockedRetractsRegistrations(t *testing.T) {
	k := newTestKernel(t)
	sem, err := k.NewBinarySemaphore("held")
	require.NoError(t, err)

	victim := NewTask("victim", 1, 0, func(ctx context.Context) error {
		_, err := sem.Take(ctx, 500)
		return err
	})
	id, err := k.Add(victim)
	require.NoError(t, err)
	eventually(t, blockerIs(k, id, BlockedForEvent), "victim never blocked")

	require.NoError(t, k.Delete(id))
	assert.Zero(t, sem.Waiters())

	assert.ErrorIs(t, waitDone(t, victim), ErrTaskDeleted)

	state, err := k.State(id)
	require.NoError(t, err)
	assert.Equal(t, StateDeleted, state)
	_, err = k.Blocker(id)
	assert.ErrorIs(t, err, ErrNoSuchTask)

	// the deadline went with it
	k.Advance(600)
	assert.True(t, sem.Give())
	assert.Equal(t, uint32(1), sem.Count())
}

func TestDeleteSleepingTask(t *testing.T) {
	k := newTestKernel(t)

	id := spawn(t, k, "sleeper", 1, func(ctx context.Context) error {
		for {
			if err := k.Delay(ctx, 1000); err != nil {
				return err
			}
		}
	})
	eventually(t, blockerIs(k, id, BlockedForTime), "sleeper never delayed")

	require.NoError(t, k.Delete(id))
	assert.Zero(t, k.delayedLen())
	assert.ErrorIs(t, k.Delete(99), ErrNoSuchTask)
}

func TestStateUnknownTask(t *testing.T) {
	k := newTestKernel(t)
	_, err := k.State(5)
	assert.ErrorIs(t, err, ErrNoSuchTask)
}

func TestBlockingCallOutsideTask(t *testing.T) {
	k := newTestKernel(t)
	sem, err := k.NewBinarySemaphore("s")
	require.NoError(t, err)

	_, err = sem.Take(context.Background(), 0)
	assert.ErrorIs(t, err, ErrNotInTask)
	assert.ErrorIs(t, k.Delay(context.Background(), 1), ErrNotInTask)
	_, err = k.CurrentTask(context.Background())
	assert.ErrorIs(t, err, ErrNotInTask)
}

func TestTakeWithZeroTimeoutNeverBlocks(t *testing.T) {
	k := newTestKernel(t)
	sem, err := k.NewCountingSemaphore("pool", 2, 1)
	require.NoError(t, err)

	err = inTask(t, k, func(ctx context.Context) error {
		for i, want := range []bool{true, false, false} {
			ok, err := sem.Take(ctx, 0)
			if err != nil {
				return err
			}
			if ok != want {
				return fmt.Errorf("take %d: got %v, want %v", i, ok, want)
			}
		}
		return nil
	})
	require.NoError(t, err)

	assert.True(t, sem.Give())
	assert.True(t, sem.Give())
	assert.False(t, sem.Give(), "give beyond max must fail")
}

func TestSemaphoreRejectsInvalidCounts(t *testing.T) {
	k := newTestKernel(t)
	_, err := k.NewCountingSemaphore("bad", 0, 0)
	assert.Error(t, err)
	_, err = k.NewCountingSemaphore("bad", 1, 2)
	assert.Error(t, err)
}

func TestGiveWakeOrder(t *testing.T) {
	tests := []struct {
		policy string
		want   []string
	}{
		{WakePriority, []string{"high", "low-1", "low-2"}},
		{WakeFIFO, []string{"low-1", "high", "low-2"}},
	}

	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			k := newTestKernel(t, func(c *Config) { c.WakePolicy = tt.policy })
			sem, err := k.NewBinarySemaphore("gate")
			require.NoError(t, err)

			order := make(chan string, 3)
			waiter := func(name string) func(ctx context.Context) error {
				return func(ctx context.Context) error {
					if _, err := sem.Take(ctx, MaxDelay); err != nil {
						return err
					}
					order <- name
					return park(ctx)
				}
			}

			// enqueue one at a time so arrival order is known
			for i, w := range []struct {
				name string
				prio int
			}{{"low-1", 1}, {"high", 3}, {"low-2", 1}} {
				spawn(t, k, w.name, w.prio, waiter(w.name))
				n := i + 1
				eventually(t, func() bool { return sem.Waiters() == n }, "waiter did not enqueue")
			}

			for _, want := range tt.want {
				require.True(t, sem.Give())
				assert.Equal(t, want, <-order)
			}
		})
	}
}

func TestSuspendBlockedTask(t *testing.T) {
	k := newTestKernel(t)
	sem, err := k.NewBinarySemaphore("s")
	require.NoError(t, err)

	result := make(chan bool, 1)
	id := spawn(t, k, "w", 1, func(ctx context.Context) error {
		ok, err := sem.Take(ctx, MaxDelay)
		if err != nil {
			return err
		}
		result <- ok
		return park(ctx)
	})
	eventually(t, blockerIs(k, id, BlockedForEvent), "never blocked")

	require.NoError(t, k.Suspend(context.Background(), id))
	state, err := k.State(id)
	require.NoError(t, err)
	assert.Equal(t, StateSuspended, state)
	st, err := k.Blocker(id)
	require.NoError(t, err)
	assert.Equal(t, NotBlocked, st.Reason)
	assert.Zero(t, sem.Waiters())

	assert.True(t, sem.Give(), "token is banked while the task is suspended")
	require.NoError(t, k.Resume(id))
	assert.False(t, <-result, "resumed take reports a timeout")
	assert.Equal(t, uint32(1), sem.Count())
}

func TestSuspendRunningTaskAppliesAtCheckpoint(t *testing.T) {
	k := newTestKernel(t)

	release := make(chan struct{})
	passed := make(chan struct{})
	id := spawn(t, k, "runner", 1, func(ctx context.Context) error {
		<-release
		if err := k.Yield(ctx); err != nil {
			return err
		}
		close(passed)
		return park(ctx)
	})

	require.NoError(t, k.Suspend(context.Background(), id))
	close(release)
	eventually(t, stateIs(k, id, StateSuspended), "pending suspension not applied")

	select {
	case <-passed:
		t.Fatal("suspended task passed its checkpoint")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, k.Resume(id))
	<-passed
}

func TestSelfSuspend(t *testing.T) {
	k := newTestKernel(t)

	resumed := make(chan struct{})
	id := spawn(t, k, "self", 1, func(ctx context.Context) error {
		self, err := k.CurrentTask(ctx)
		if err != nil {
			return err
		}
		if err := k.Suspend(ctx, self); err != nil {
			return err
		}
		close(resumed)
		return park(ctx)
	})

	eventually(t, stateIs(k, id, StateSuspended), "task did not suspend itself")
	require.NoError(t, k.Resume(id))
	<-resumed
	eventually(t, stateIs(k, id, StateRunning), "task did not run again")
}

func TestSuspendDisabled(t *testing.T) {
	k := newTestKernel(t, func(c *Config) { c.IncludeTaskSuspend = false })
	sem, err := k.NewBinarySemaphore("s")
	require.NoError(t, err)

	id := spawn(t, k, "w", 1, func(ctx context.Context) error {
		_, err := sem.Take(ctx, MaxDelay)
		return err
	})
	eventually(t, blockerIs(k, id, BlockedForEvent), "never blocked")

	// without suspension an indefinite wait still carries a deadline, but the
	// event reason wins
	assert.Equal(t, 1, k.delayedLen())

	assert.ErrorIs(t, k.Suspend(context.Background(), id), ErrSuspendDisabled)
	assert.ErrorIs(t, k.Resume(id), ErrSuspendDisabled)
}

func TestDelayZeroDoesNotBlock(t *testing.T) {
	k := newTestKernel(t)
	require.NoError(t, inTask(t, k, func(ctx context.Context) error {
		return k.Delay(ctx, 0)
	}))
}

func TestDelayUntil(t *testing.T) {
	k := newTestKernel(t)

	var prev Tick
	blocked := make(chan bool, 2)
	proceed := make(chan struct{})
	id := spawn(t, k, "periodic", 1, func(ctx context.Context) error {
		for i := 0; i < 2; i++ {
			ok, err := k.DelayUntil(ctx, &prev, 10)
			if err != nil {
				return err
			}
			blocked <- ok
			<-proceed
		}
		return park(ctx)
	})

	eventually(t, blockerIs(k, id, BlockedForTime), "never delayed")
	st, err := k.Blocker(id)
	require.NoError(t, err)
	assert.Equal(t, Tick(10), st.UntilTick)

	k.Advance(10)
	assert.True(t, <-blocked)

	// overshoot the second period so it is already due
	k.Advance(15)
	close(proceed)
	assert.False(t, <-blocked)
	assert.Equal(t, Tick(20), prev)
}

func TestNotifyActions(t *testing.T) {
	k := newTestKernel(t)

	err := inTask(t, k, func(ctx context.Context) error {
		self, err := k.CurrentTask(ctx)
		if err != nil {
			return err
		}
		check := func(value uint32, action NotifyAction, clearOnExit, want uint32) error {
			if _, err := k.Notify(self, value, action); err != nil {
				return err
			}
			got, ok, err := k.NotifyWait(ctx, 0, clearOnExit, 0)
			if err != nil {
				return err
			}
			if !ok || got != want {
				return fmt.Errorf("%s(0x%X): got 0x%X/%v, want 0x%X", action, value, got, ok, want)
			}
			return nil
		}

		steps := []struct {
			value       uint32
			action      NotifyAction
			clearOnExit uint32
			want        uint32
		}{
			{0x0F, SetValueWithOverwrite, 0, 0x0F},
			{0xF0, SetBits, 0, 0xFF},
			{0, Increment, 0, 0x100},
			{0xDC, NoAction, 0xFFFFFFFF, 0x100},
			{0, Increment, 0, 0x01},
		}
		for _, s := range steps {
			if err := check(s.value, s.action, s.clearOnExit, s.want); err != nil {
				return err
			}
		}

		// nothing pending: a zero timeout returns at once
		if _, ok, err := k.NotifyWait(ctx, 0, 0, 0); err != nil || ok {
			return fmt.Errorf("empty wait returned ok=%v err=%v", ok, err)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestNotifyWithoutOverwrite(t *testing.T) {
	k := newTestKernel(t)
	id := spawn(t, k, "target", 1, park)

	ok, err := k.Notify(id, 1, SetValueWithoutOverwrite)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = k.Notify(id, 2, SetValueWithoutOverwrite)
	require.NoError(t, err)
	assert.False(t, ok, "pending value must not be overwritten")

	cleared, err := k.NotifyStateClear(id)
	require.NoError(t, err)
	assert.True(t, cleared)
	ok, err = k.Notify(id, 3, SetValueWithoutOverwrite)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = k.Notify(77, 1, SetBits)
	assert.ErrorIs(t, err, ErrNoSuchTask)
}

func TestNotifyClearOnEntry(t *testing.T) {
	k := newTestKernel(t)

	got := make(chan uint32, 1)
	id := spawn(t, k, "bits", 1, func(ctx context.Context) error {
		self, _ := k.CurrentTask(ctx)
		// leave a stale value behind, consumed and kept
		if _, err := k.Notify(self, 0xFF, SetValueWithOverwrite); err != nil {
			return err
		}
		if _, _, err := k.NotifyWait(ctx, 0, 0, 0); err != nil {
			return err
		}
		v, ok, err := k.NotifyWait(ctx, 0x0F, 0, MaxDelay)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("no notification")
		}
		got <- v
		return nil
	})

	eventually(t, blockerIs(k, id, BlockedForNotification), "never waited")
	_, err := k.Notify(id, 0x100, SetBits)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1F0), <-got)
}

func TestRunDrivesTicksAndStopsTasks(t *testing.T) {
	k := newTestKernel(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- k.Run(ctx) }()

	woke := make(chan struct{})
	_, err := k.Add(NewTask("sleeper", 1, 0, func(ctx context.Context) error {
		if err := k.Delay(ctx, 3); err != nil {
			return err
		}
		close(woke)
		return park(ctx)
	}))
	require.NoError(t, err)

	select {
	case <-woke:
	case <-time.After(2 * time.Second):
		t.Fatal("wall clock ticks never woke the sleeper")
	}

	cancel()
	require.NoError(t, <-done)
	assert.GreaterOrEqual(t, k.TickCount(), Tick(3))

	_, err = k.Add(NewTask("late", 1, 0, park))
	assert.ErrorIs(t, err, ErrKernelStopped)
}

func (k *Kernel) delayedLen() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.delayed.Size()
}
