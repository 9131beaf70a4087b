// internal/sched/event.go

package sched

import (
	"time"
)

// EventKind represents the type of kernel event
type EventKind int

const (
	EventTick EventKind = iota
	EventCreate
	EventBlock
	EventWake
	EventTimeout
	EventNotify
	EventSuspend
	EventResume
	EventDelete
	EventExit
)

// Event is emitted on every task transition (and every tick).
type Event struct {
	Time   time.Time
	Tick   Tick
	Kind   EventKind
	TaskID TaskID
	Task   string
	Detail string // blocking reason, object name or notified value
}

func (ek EventKind) String() string {
	switch ek {
	case EventTick:
		return "Tick"
	case EventCreate:
		return "Create"
	case EventBlock:
		return "Block"
	case EventWake:
		return "Wake"
	case EventTimeout:
		return "Timeout"
	case EventNotify:
		return "Notify"
	case EventSuspend:
		return "Suspend"
	case EventResume:
		return "Resume"
	case EventDelete:
		return "Delete"
	case EventExit:
		return "Exit"
	default:
		return "Unknown"
	}
}
