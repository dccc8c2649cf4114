package runner

import (
	"context"
	"time"

	"parallax/internal/eventbus"
	"parallax/internal/sched"
	"parallax/internal/storage"
	logx "parallax/pkg/logx"
)

// recorder consumes scheduler lifecycle events and turns retirements into
// history entries and, when a store is configured, persisted run records.
// It exits when the subscription channel is closed by Stop.
func (s *Service) recorder(ctx context.Context, ch <-chan eventbus.Event) {
	defer s.wg.Done()

	for e := range ch {
		if e.Type != sched.EventRetired {
			continue
		}
		ev, ok := e.Data.(sched.TaskEvent)
		if !ok {
			continue
		}

		elapsed := time.Duration(ev.Elapsed) * time.Millisecond
		rec := storage.RunRecord{
			Name:        ev.Name,
			AdmittedAt:  e.Time.Add(-elapsed),
			RetiredAt:   e.Time,
			DurationMS:  uint32(ev.Duration),
			ElapsedMS:   uint32(ev.Elapsed),
			Invocations: ev.Invocations,
		}

		s.hmu.Lock()
		s.history = append(s.history, rec)
		if len(s.history) > s.cfg.HistorySize {
			s.history = s.history[len(s.history)-s.cfg.HistorySize:]
		}
		s.hmu.Unlock()

		if s.store != nil {
			wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := s.store.AppendRun(wctx, rec)
			cancel()
			if err != nil {
				s.log.Warn("run record not persisted",
					logx.String("task", rec.Name), logx.Err(err))
			}
		}
	}
}

// History returns a copy of the in-memory ring of retired entries,
// oldest first.
func (s *Service) History() []storage.RunRecord {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	out := make([]storage.RunRecord, len(s.history))
	copy(out, s.history)
	return out
}
