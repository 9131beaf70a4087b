// Package harness runs the blocker classification scenarios as kernel tasks.
package harness

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"vblock/internal/sched"
)

// Defaults mirror the reference test program.
const (
	DefaultSettle       sched.Tick = 100
	DefaultSleeperDelay sched.Tick = 1000
	NotifyValue         uint32     = 0xDC
)

// Options tune the harness timing.
type Options struct {
	Settle       sched.Tick // ticks the tester waits for a worker to reach its state
	SleeperDelay sched.Tick // delay the sleeper loops on
	Priority     int        // priority of tester and workers
}

// AssertionError is a failed check in a scenario. It is fatal to the run.
type AssertionError struct {
	Scenario string
	Check    string
	Detail   string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("scenario %s: %s: %s", e.Scenario, e.Check, e.Detail)
}

// Result is the outcome of one scenario.
type Result struct {
	Scenario string
	Err      error
}

// Harness drives worker tasks through the scenarios and checks what the
// kernel reports about them.
type Harness struct {
	k    *sched.Kernel
	log  *zap.Logger
	opts Options
	sem  *sched.Semaphore
}

// New prepares a harness on k. The shared semaphore is created given, so the
// tester can take it first.
func New(k *sched.Kernel, log *zap.Logger, opts Options) (*Harness, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Settle == 0 {
		opts.Settle = DefaultSettle
	}
	if opts.SleeperDelay == 0 {
		opts.SleeperDelay = DefaultSleeperDelay
	}
	if opts.Priority <= sched.IdlePriority {
		opts.Priority = sched.IdlePriority + 1
	}

	sem, err := k.NewBinarySemaphore("xSharedSem")
	if err != nil {
		return nil, fmt.Errorf("create shared semaphore: %w", err)
	}
	sem.Give()

	return &Harness{k: k, log: log, opts: opts, sem: sem}, nil
}

// Run executes every scenario inside a tester task and returns the results in
// order. It stops at the first failing scenario; the returned error is that
// scenario's error.
func (h *Harness) Run(ctx context.Context) ([]Result, error) {
	var results []Result
	tester := sched.NewTask("test", h.opts.Priority, 0, func(tctx context.Context) error {
		for _, sc := range h.scenarios() {
			err := sc.run(tctx)
			results = append(results, Result{Scenario: sc.name, Err: err})
			if err != nil {
				h.log.Error("scenario failed", zap.String("scenario", sc.name), zap.Error(err))
				return err
			}
			h.log.Info("scenario passed", zap.String("scenario", sc.name))
		}
		return nil
	})
	if _, err := h.k.Add(tester); err != nil {
		return nil, fmt.Errorf("create tester task: %w", err)
	}

	select {
	case <-tester.Done():
		return results, tester.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IsAssertion reports whether err is a failed scenario check rather than an
// infrastructure failure.
func IsAssertion(err error) bool {
	var ae *AssertionError
	return errors.As(err, &ae)
}
