package sched

import (
	"context"
	"strconv"
)

// Delay blocks the calling task for ticks ticks counted from now. Delay(ctx, 0)
// only yields.
func (k *Kernel) Delay(ctx context.Context, ticks Tick) error {
	t, err := k.enter(ctx)
	if err != nil {
		return err
	}
	if ticks == 0 {
		return k.Yield(ctx)
	}

	k.mu.Lock()
	k.sleepLocked(t, deadline(k.tick, ticks))
	k.mu.Unlock()

	_, err = k.park(t)
	return err
}

// DelayUntil blocks the calling task until *prev+increment and advances *prev
// to that tick, giving a fixed period regardless of how long the task ran. It
// reports false without blocking when the target tick has already passed.
func (k *Kernel) DelayUntil(ctx context.Context, prev *Tick, increment Tick) (bool, error) {
	t, err := k.enter(ctx)
	if err != nil {
		return false, err
	}

	k.mu.Lock()
	target := deadline(*prev, increment)
	*prev = target
	if target <= k.tick {
		k.mu.Unlock()
		return false, nil
	}
	k.sleepLocked(t, target)
	k.mu.Unlock()

	if _, err := k.park(t); err != nil {
		return false, err
	}
	return true, nil
}

func (k *Kernel) sleepLocked(t *Task, wake Tick) {
	t.state = StateBlocked
	k.addDelayLocked(t, wake)
	k.emitLocked(EventBlock, t, "until "+strconv.FormatUint(uint64(wake), 10))
}
