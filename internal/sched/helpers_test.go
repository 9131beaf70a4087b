package sched

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestKernel(t *testing.T, mutate ...func(*Config)) *Kernel {
	t.Helper()
	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	k := New(cfg, zaptest.NewLogger(t))
	t.Cleanup(k.Shutdown)
	return k
}

func spawn(t *testing.T, k *Kernel, name string, priority int, body func(ctx context.Context) error) TaskID {
	t.Helper()
	id, err := k.Add(NewTask(name, priority, 0, body))
	require.NoError(t, err)
	return id
}

// inTask runs body as a task and waits for it to return.
func inTask(t *testing.T, k *Kernel, body func(ctx context.Context) error) error {
	t.Helper()
	task := NewTask("probe", IdlePriority+1, 0, body)
	_, err := k.Add(task)
	require.NoError(t, err)
	return waitDone(t, task)
}

func waitDone(t *testing.T, task *Task) error {
	t.Helper()
	select {
	case <-task.Done():
		return task.Err()
	case <-time.After(2 * time.Second):
		t.Fatalf("task %q did not finish", task.Name)
		return nil
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond, msg)
}

func blockerIs(k *Kernel, id TaskID, reason BlockReason) func() bool {
	return func() bool {
		st, err := k.Blocker(id)
		return err == nil && st.Reason == reason
	}
}

func stateIs(k *Kernel, id TaskID, want TaskState) func() bool {
	return func() bool {
		st, err := k.State(id)
		return err == nil && st == want
	}
}

// park idles until the task is deleted.
func park(ctx context.Context) error {
	<-ctx.Done()
	return nil
}
