package sched

import (
	"time"

	"parallax/internal/clock"
	"parallax/internal/eventbus"
	"parallax/internal/task"
	logx "parallax/pkg/logx"
)

// Scheduler owns a collection of scheduled entries and executes them on
// every Tick until their duration elapses. It is the sole owner of its
// entry storage; tasks themselves are borrowed from the caller.
//
// Not safe for concurrent use. See the package documentation.
type Scheduler struct {
	clk     clock.Clock
	log     logx.Logger
	bus     eventbus.Bus // may be nil
	entries []entry
}

// New creates a scheduler polling the given clock.
// The logger may be the zero value; the bus may be nil.
func New(clk clock.Clock, log logx.Logger, bus eventbus.Bus) *Scheduler {
	if clk == nil {
		clk = clock.System()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{clk: clk, log: log, bus: bus}
}

// Schedule admits t for the given duration, starting at the current clock
// reading. A zero (or negative) duration is legal: the entry expires on
// the very next Tick without ever being invoked.
//
// The caller must keep t valid for at least the full duration. Durations
// are capped at half the counter range (clock.Span); see package clock.
func (s *Scheduler) Schedule(t *task.Task, d time.Duration) {
	s.admit(t, clock.FromDuration(d))
}

// ScheduleMillis is Schedule with the duration already in counter ticks.
func (s *Scheduler) ScheduleMillis(t *task.Task, d clock.Millis) {
	s.admit(t, d)
}

func (s *Scheduler) admit(t *task.Task, d clock.Millis) {
	if d > clock.Span {
		s.log.Warn("duration exceeds measurable span; capping",
			logx.String("task", t.Name()),
			logx.Uint32("duration_ms", uint32(d)),
			logx.Uint32("cap_ms", uint32(clock.Span)))
		d = clock.Span
	}
	now := s.clk.Now()
	s.entries = append(s.entries, entry{task: t, start: now, duration: d})

	s.log.Debug("task admitted",
		logx.String("task", t.Name()),
		logx.Uint32("start_ms", uint32(now)),
		logx.Uint32("duration_ms", uint32(d)))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventAdmitted, Data: TaskEvent{
			Name:       t.Name(),
			AdmittedAt: now,
			Duration:   d,
		}})
	}
}

// Tick advances the scheduler by one poll cycle.
//
// The clock is read exactly once; every entry processed in this call sees
// the same reading. Each still-live entry is invoked exactly once; each
// entry whose elapsed time has reached its duration is retired without
// being invoked. Entries admitted from within a task run first on the
// next Tick.
//
// A panicking task is not recovered: fault isolation between tasks is the
// host's job, not the scheduler's.
func (s *Scheduler) Tick() {
	now := s.clk.Now()

	// Entries appended during this pass (a task calling Schedule) sit past
	// n and are deliberately not visited until the next Tick.
	n := len(s.entries)
	keep := 0
	for i := 0; i < n; i++ {
		e := s.entries[i]
		elapsed := clock.Since(now, e.start)
		if elapsed < e.duration {
			e.invocations++
			// Compact before invoking: the invocation may append new
			// entries and reallocate the slice.
			s.entries[keep] = e
			keep++
			e.task.Invoke()
			continue
		}
		s.retire(e, elapsed)
	}

	// Shift reentrant admissions down over the retired slots.
	if keep < n {
		m := copy(s.entries[keep:], s.entries[n:])
		tail := keep + m
		for i := tail; i < len(s.entries); i++ {
			s.entries[i] = entry{}
		}
		s.entries = s.entries[:tail]
	}
}

func (s *Scheduler) retire(e entry, elapsed clock.Millis) {
	s.log.Debug("task retired",
		logx.String("task", e.task.Name()),
		logx.Uint32("elapsed_ms", uint32(elapsed)),
		logx.Uint64("invocations", e.invocations))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventRetired, Data: TaskEvent{
			Name:        e.task.Name(),
			AdmittedAt:  e.start,
			Duration:    e.duration,
			Invocations: e.invocations,
			Elapsed:     elapsed,
		}})
	}
}

// Len reports the number of entries currently admitted.
func (s *Scheduler) Len() int { return len(s.entries) }
