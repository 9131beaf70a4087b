package sched

import (
	"fmt"
)

const (
	wordSize     = 8
	tcbSize      = 256 // bytes charged per task control block
	objectHeader = 96  // bytes charged per semaphore or queue
)

// heapBudget accounts kernel allocations against total_heap_size.
// It does not model placement or fragmentation. Guarded by Kernel.mu.
type heapBudget struct {
	total uint64
	used  uint64
}

func (h *heapBudget) alloc(n uint64) error {
	if n > h.total-h.used {
		return fmt.Errorf("allocate %d bytes with %d free: %w", n, h.total-h.used, ErrHeapExhausted)
	}
	h.used += n
	return nil
}

func (h *heapBudget) free(n uint64) {
	if n > h.used {
		n = h.used
	}
	h.used -= n
}

func (h *heapBudget) available() uint64 {
	return h.total - h.used
}
