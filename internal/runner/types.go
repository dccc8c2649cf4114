package runner

import (
	"time"

	"github.com/robfig/cron/v3"

	"parallax/internal/sched"
	"parallax/internal/storage"
	"parallax/internal/task"
)

// Config controls the runner service.
type Config struct {
	// PollInterval is the period between scheduler ticks.
	PollInterval time.Duration

	// Watchdog enables systemd READY/WATCHDOG/STOPPING notifications.
	// A no-op when the process does not run under systemd.
	Watchdog bool

	// HistorySize bounds the in-memory ring of retired entries (default 200).
	HistorySize int

	// OverrunWarnEvery rate-limits "tick overran poll interval" warnings
	// (default: one per 10s).
	OverrunWarnEvery time.Duration
}

// Program is one resolved program entry: a registered action bound to a
// run duration, optionally re-admitted on a schedule.
type Program struct {
	Name     string
	Duration time.Duration
	Schedule string // raw spec; empty = admit once at Start

	spec    ParsedSpec
	hasSpec bool
	tsk     *task.Task
	entryID cron.EntryID
}

// ScheduleInfo describes one re-admission schedule for snapshots.
type ScheduleInfo struct {
	Name     string
	Spec     string
	Duration time.Duration
	Next     time.Time
	Prev     time.Time
}

// Snapshot is a point-in-time view of the runner and its scheduler.
type Snapshot struct {
	Running      bool
	PollInterval time.Duration
	Ticks        uint64
	Scheduler    sched.Snapshot
	Schedules    []ScheduleInfo
	History      []storage.RunRecord
}
