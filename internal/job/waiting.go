package job

import (
	"context"

	"go.uber.org/zap"

	"vblock/internal/sched"
)

// Park idles without blocking in the kernel until the task is deleted, so a
// blocker query on it reports NotBlocked.
func Park(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// WaitForSemaphore takes sem with no deadline, hands the token straight back and parks.
func WaitForSemaphore(sem *sched.Semaphore, log *zap.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		log.Info("waiting for semaphore", zap.String("semaphore", sem.Name()))
		for {
			ok, err := sem.Take(ctx, sched.MaxDelay)
			if err != nil {
				return err
			}
			if ok {
				break
			}
		}
		log.Info("semaphore received", zap.String("semaphore", sem.Name()))
		sem.Give()
		return Park(ctx)
	}
}

// WaitForNotification waits for a notification with no deadline and parks.
// received, when set, gets the delivered value.
func WaitForNotification(k *sched.Kernel, log *zap.Logger, received func(uint32)) func(context.Context) error {
	return func(ctx context.Context) error {
		log.Info("waiting for notification")
		for {
			v, ok, err := k.NotifyWait(ctx, 0, 0, sched.MaxDelay)
			if err != nil {
				return err
			}
			if ok {
				log.Info("notification received", zap.Uint32("value", v))
				if received != nil {
					received(v)
				}
				break
			}
		}
		return Park(ctx)
	}
}

// AlwaysDelay sleeps for delay ticks forever. scheduled, when set, gets the
// wake tick of each delay before the task blocks.
func AlwaysDelay(k *sched.Kernel, delay sched.Tick, log *zap.Logger, scheduled func(sched.Tick)) func(context.Context) error {
	return func(ctx context.Context) error {
		for {
			// anchor the delay at the tick we announce, so a tick landing
			// between the two calls cannot move the deadline
			from := k.TickCount()
			log.Info("sleeping", zap.Uint64("wake_tick", uint64(from+delay)))
			if scheduled != nil {
				scheduled(from + delay)
			}
			if _, err := k.DelayUntil(ctx, &from, delay); err != nil {
				return err
			}
		}
	}
}
