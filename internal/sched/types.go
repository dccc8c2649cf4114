package sched

import (
	"time"

	"parallax/internal/clock"
	"parallax/internal/task"
)

// Event types published on the bus, if one is attached.
const (
	EventAdmitted = "task.admitted"
	EventRetired  = "task.retired"
)

// TaskEvent is the payload carried by EventAdmitted and EventRetired.
type TaskEvent struct {
	Name        string
	AdmittedAt  clock.Millis
	Duration    clock.Millis
	Invocations uint64
	Elapsed     clock.Millis // at retirement; zero for EventAdmitted
}

// entry is the bookkeeping record for one admitted task.
//
// The task pointer is borrowed, never owned: the caller keeps the task
// alive for at least the scheduled duration.
type entry struct {
	task        *task.Task
	start       clock.Millis
	duration    clock.Millis
	invocations uint64
}

// EntryInfo is one entry's introspection view.
type EntryInfo struct {
	Name        string
	AdmittedAt  clock.Millis
	Duration    clock.Millis
	Elapsed     clock.Millis
	Remaining   clock.Millis
	Invocations uint64
}

// Snapshot is a point-in-time view of the scheduler's entry collection.
// All Elapsed/Remaining values share one clock reading.
type Snapshot struct {
	Now     clock.Millis
	Taken   time.Time
	Entries []EntryInfo
}
