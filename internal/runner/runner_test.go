package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"parallax/internal/clock"
	"parallax/internal/config"
	"parallax/internal/storage"
	logx "parallax/pkg/logx"
)

// fakeClock is a goroutine-safe manual clock: the test advances it while
// the poll loop reads it.
type fakeClock struct {
	now atomic.Uint32
}

func (f *fakeClock) Now() clock.Millis { return clock.Millis(f.now.Load()) }
func (f *fakeClock) advance(ms uint32) { f.now.Add(ms) }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(2 * time.Millisecond):
		}
	}
}

// memStore is an in-memory storage.Store for lifecycle tests.
type memStore struct {
	mu   sync.Mutex
	runs []storage.RunRecord
}

func (m *memStore) AppendRun(_ context.Context, r storage.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
	return nil
}

func (m *memStore) RecentRuns(_ context.Context, limit int) ([]storage.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := m.runs
	if limit > 0 && len(runs) > limit {
		runs = runs[len(runs)-limit:]
	}
	out := make([]storage.RunRecord, len(runs))
	copy(out, runs)
	return out, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) appended() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

func TestRegisterAction(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil, nil, &fakeClock{})

	if err := s.RegisterAction("blink", func() {}); err != nil {
		t.Fatalf("RegisterAction: %v", err)
	}
	if err := s.RegisterAction("blink", func() {}); err == nil {
		t.Fatal("expected error for duplicate action")
	}
	if err := s.RegisterAction("", func() {}); err == nil {
		t.Fatal("expected error for empty name")
	}
	if err := s.RegisterAction("nilfn", nil); err == nil {
		t.Fatal("expected error for nil function")
	}
}

func TestApplyProgramResolution(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil, nil, &fakeClock{})
	if err := s.RegisterAction("blink", func() {}); err != nil {
		t.Fatalf("RegisterAction: %v", err)
	}

	tests := []struct {
		name    string
		entries []config.ProgramEntry
		ok      bool
	}{
		{
			name:    "action defaults to name",
			entries: []config.ProgramEntry{{Name: "blink", Duration: "1s"}},
			ok:      true,
		},
		{
			name:    "explicit action",
			entries: []config.ProgramEntry{{Name: "led", Action: "blink", Duration: "1s", Schedule: "@every 1m"}},
			ok:      true,
		},
		{
			name:    "unknown action",
			entries: []config.ProgramEntry{{Name: "nope", Duration: "1s"}},
		},
		{
			name:    "bad schedule",
			entries: []config.ProgramEntry{{Name: "blink", Duration: "1s", Schedule: "whenever"}},
		},
		{
			name:    "bad duration",
			entries: []config.ProgramEntry{{Name: "blink", Duration: "later"}},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := s.ApplyProgram(tt.entries)
			if tt.ok && err != nil {
				t.Fatalf("ApplyProgram: %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestRunnerLifecycle(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{}
	var n atomic.Int64

	s := New(Config{PollInterval: time.Millisecond, HistorySize: 10}, logx.Nop(), nil, nil, clk)
	if err := s.RegisterAction("count", func() { n.Add(1) }); err != nil {
		t.Fatalf("RegisterAction: %v", err)
	}
	err := s.ApplyProgram([]config.ProgramEntry{
		{Name: "count", Duration: "50ms"},
		{Name: "scheduled", Action: "count", Duration: "10ms", Schedule: "@every 1h"},
	})
	if err != nil {
		t.Fatalf("ApplyProgram: %v", err)
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	// The one-shot entry is live (clock frozen at 0) and runs every poll.
	waitFor(t, "task invocations", func() bool { return n.Load() >= 3 })

	snap := s.Snapshot()
	if !snap.Running {
		t.Fatal("Snapshot.Running = false, want true")
	}
	if len(snap.Schedules) != 1 || snap.Schedules[0].Name != "scheduled" {
		t.Fatalf("Schedules = %+v, want the @every entry", snap.Schedules)
	}
	if snap.Schedules[0].Next.IsZero() {
		t.Fatal("schedule Next not populated")
	}

	// Let the entry expire; the recorder should log exactly one run.
	clk.advance(60)
	waitFor(t, "retirement record", func() bool { return len(s.History()) == 1 })

	settled := n.Load()
	time.Sleep(15 * time.Millisecond)
	if got := n.Load(); got != settled {
		t.Fatalf("task still running after expiry: %d -> %d", settled, got)
	}

	rec := s.History()[0]
	if rec.Name != "count" || rec.DurationMS != 50 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Invocations != uint64(settled) {
		t.Fatalf("Invocations = %d, want %d", rec.Invocations, settled)
	}

	snap = s.Snapshot()
	if len(snap.Scheduler.Entries) != 0 {
		t.Fatalf("core entries after expiry = %d, want 0", len(snap.Scheduler.Entries))
	}
	if snap.Ticks == 0 {
		t.Fatal("Ticks = 0, want > 0")
	}

	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if s.Snapshot().Running {
		t.Fatal("Running after Stop")
	}
}

func TestApplyProgramWhileRunning(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{}
	s := New(Config{PollInterval: time.Millisecond}, logx.Nop(), nil, nil, clk)
	if err := s.RegisterAction("noop", func() {}); err != nil {
		t.Fatalf("RegisterAction: %v", err)
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(ctx)

	err := s.ApplyProgram([]config.ProgramEntry{
		{Name: "noop", Duration: "1s", Schedule: "@every 30m"},
	})
	if err != nil {
		t.Fatalf("ApplyProgram while running: %v", err)
	}

	snap := s.Snapshot()
	if len(snap.Schedules) != 1 || snap.Schedules[0].Next.IsZero() {
		t.Fatalf("rebuilt schedules = %+v", snap.Schedules)
	}
}

func TestHistorySeededFromStore(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{}
	st := &memStore{runs: []storage.RunRecord{
		{Name: "old-a", DurationMS: 10, Invocations: 3},
		{Name: "old-b", DurationMS: 20, Invocations: 7},
	}}

	s := New(Config{PollInterval: time.Millisecond, HistorySize: 10}, logx.Nop(), nil, st, clk)
	if err := s.RegisterAction("count", func() {}); err != nil {
		t.Fatalf("RegisterAction: %v", err)
	}
	err := s.ApplyProgram([]config.ProgramEntry{{Name: "count", Duration: "30ms"}})
	if err != nil {
		t.Fatalf("ApplyProgram: %v", err)
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(ctx)

	// Persisted runs are visible immediately, oldest first.
	hist := s.History()
	if len(hist) != 2 || hist[0].Name != "old-a" || hist[1].Name != "old-b" {
		t.Fatalf("seeded history = %+v, want old-a then old-b", hist)
	}
	if got := s.Snapshot().History; len(got) != 2 {
		t.Fatalf("Snapshot history = %d records, want 2", len(got))
	}

	// The seed is history only: the core starts with just this run's entry.
	if got := s.Snapshot().Scheduler.Entries; len(got) != 1 || got[0].Name != "count" {
		t.Fatalf("core entries after seeded start = %+v, want only the live entry", got)
	}

	// A fresh retirement lands after the seeded records and is persisted.
	clk.advance(40)
	waitFor(t, "retirement appended to history", func() bool { return len(s.History()) == 3 })
	if rec := s.History()[2]; rec.Name != "count" || rec.DurationMS != 30 {
		t.Fatalf("new record = %+v", rec)
	}
	waitFor(t, "retirement persisted", func() bool { return st.appended() == 3 })
}
