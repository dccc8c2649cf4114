package sched

import (
	"time"

	"parallax/internal/clock"
)

// TakeSnapshot returns a point-in-time view of every admitted entry.
// Like Tick, it reads the clock once so all entries share one reading.
func (s *Scheduler) TakeSnapshot() Snapshot {
	now := s.clk.Now()

	items := make([]EntryInfo, 0, len(s.entries))
	for i := range s.entries {
		e := &s.entries[i]
		elapsed := clock.Since(now, e.start)
		it := EntryInfo{
			Name:        e.task.Name(),
			AdmittedAt:  e.start,
			Duration:    e.duration,
			Elapsed:     elapsed,
			Invocations: e.invocations,
		}
		if elapsed < e.duration {
			it.Remaining = e.duration - elapsed
		}
		items = append(items, it)
	}

	return Snapshot{Now: now, Taken: time.Now(), Entries: items}
}
