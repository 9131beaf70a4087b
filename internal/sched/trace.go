package sched

import (
	"strconv"
	"time"

	"go.uber.org/zap"
)

// handleEvent logs one transition and appends it to the CSV trace.
func (k *Kernel) handleEvent(ev Event) {
	// ticks occur periodically; keep them out of the log for brevity
	if ev.Kind != EventTick {
		k.log.Debug(ev.Kind.String(),
			zap.Uint64("tick", uint64(ev.Tick)),
			zap.Uint64("id", uint64(ev.TaskID)),
			zap.String("task", ev.Task),
			zap.String("detail", ev.Detail),
		)
	}

	if k.csvWriter == nil || ev.Kind == EventTick {
		return
	}
	rec := []string{
		ev.Time.Format(time.RFC3339Nano),
		strconv.FormatUint(uint64(ev.Tick), 10),
		ev.Kind.String(),
		strconv.FormatUint(uint64(ev.TaskID), 10),
		ev.Task,
		ev.Detail,
	}
	if err := k.csvWriter.Write(rec); err != nil {
		k.log.Warn("trace write failed", zap.Error(err))
		return
	}
	k.csvWriter.Flush()
}

// Dropped returns how many events were discarded because the stream was full.
func (k *Kernel) Dropped() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.dropped
}
