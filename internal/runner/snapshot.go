package runner

// Snapshot returns a point-in-time view of the runner: lifecycle state,
// the core's entry collection, re-admission schedules, and recent history.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	running := s.stopCh != nil
	c := s.c
	program := make([]*Program, len(s.program))
	copy(program, s.program)
	interval := s.cfg.PollInterval
	s.mu.Unlock()

	s.tickMu.Lock()
	core := s.sched.TakeSnapshot()
	s.tickMu.Unlock()

	schedules := make([]ScheduleInfo, 0, len(program))
	for _, p := range program {
		if !p.hasSpec {
			continue
		}
		it := ScheduleInfo{Name: p.Name, Spec: p.Schedule, Duration: p.Duration}
		if c != nil && p.entryID != 0 {
			e := c.Entry(p.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		schedules = append(schedules, it)
	}

	return Snapshot{
		Running:      running,
		PollInterval: interval,
		Ticks:        s.ticks.Load(),
		Scheduler:    core,
		Schedules:    schedules,
		History:      s.History(),
	}
}
