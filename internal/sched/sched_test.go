package sched

import (
	"math"
	"testing"
	"time"

	"parallax/internal/clock"
	"parallax/internal/eventbus"
	"parallax/internal/task"
	logx "parallax/pkg/logx"
)

func newTestScheduler(start clock.Millis) (*Scheduler, *clock.Manual) {
	clk := clock.NewManual(start)
	return New(clk, logx.Nop(), nil), clk
}

func TestSingleExecutionPerTick(t *testing.T) {
	t.Parallel()
	s, clk := newTestScheduler(0)

	n := 0
	s.ScheduleMillis(task.New("t", func() { n++ }), 100)

	for i := 1; i <= 5; i++ {
		s.Tick()
		if n != i {
			t.Fatalf("after tick %d: invocations = %d, want %d", i, n, i)
		}
		clk.Advance(10)
	}
}

func TestExactExpiryBoundary(t *testing.T) {
	t.Parallel()
	s, clk := newTestScheduler(50)

	n := 0
	s.ScheduleMillis(task.New("t", func() { n++ }), 10)

	// elapsed = 9 < 10: still live, invoked.
	clk.Advance(9)
	s.Tick()
	if n != 1 {
		t.Fatalf("invocations at elapsed 9 = %d, want 1", n)
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}

	// elapsed = 10 >= 10: retired without being invoked.
	clk.Advance(1)
	s.Tick()
	if n != 1 {
		t.Fatalf("invocations at elapsed 10 = %d, want 1 (expiry tick must not invoke)", n)
	}
	if s.Len() != 0 {
		t.Fatalf("Len() after expiry = %d, want 0", s.Len())
	}
}

func TestZeroDurationImmediateExpiry(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(7)

	invoked := false
	s.Schedule(task.New("zero", func() { invoked = true }), 0)

	s.Tick()
	if invoked {
		t.Fatal("zero-duration task must never be invoked")
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}
}

func TestNegativeDurationClampsToZero(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(0)

	invoked := false
	s.Schedule(task.New("neg", func() { invoked = true }), -time.Second)
	s.Tick()
	if invoked || s.Len() != 0 {
		t.Fatalf("negative duration: invoked=%v Len=%d, want false/0", invoked, s.Len())
	}
}

func TestIndependentDurations(t *testing.T) {
	t.Parallel()
	s, clk := newTestScheduler(0)

	counts := map[string]int{}
	mk := func(name string) *task.Task {
		return task.New(name, func() { counts[name]++ })
	}
	// Admission order deliberately interleaved with expiry order.
	s.ScheduleMillis(mk("long"), 15)
	s.ScheduleMillis(mk("short"), 5)
	s.ScheduleMillis(mk("mid"), 10)

	// Ticks at elapsed 0, 5, 10; live entries only.
	for i := 0; i < 3; i++ {
		s.Tick()
		clk.Advance(5)
	}

	if counts["short"] != 1 {
		t.Fatalf("short invocations = %d, want 1", counts["short"])
	}
	if counts["mid"] != 2 {
		t.Fatalf("mid invocations = %d, want 2", counts["mid"])
	}
	if counts["long"] != 3 {
		t.Fatalf("long invocations = %d, want 3", counts["long"])
	}

	// clock is at 15 now: the last entry retires on the next tick.
	s.Tick()
	if counts["long"] != 3 {
		t.Fatalf("long invoked on its expiry tick (count %d)", counts["long"])
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}
}

func TestWraparound(t *testing.T) {
	t.Parallel()
	// Admit 5 ticks before the counter wraps; duration 10 spans the wrap.
	start := clock.Millis(math.MaxUint32 - 4) // W-5
	s, clk := newTestScheduler(start)

	n := 0
	s.ScheduleMillis(task.New("wrap", func() { n++ }), 10)

	// Before the wrap: now = W-1, elapsed 4 < 10.
	clk.Advance(4)
	s.Tick()
	if n != 1 {
		t.Fatalf("invocations before wrap = %d, want 1", n)
	}

	// After the wrap: now = 3, elapsed 8 < 10.
	clk.Set(3)
	s.Tick()
	if n != 2 {
		t.Fatalf("invocations after wrap = %d, want 2", n)
	}
	if s.Len() != 1 {
		t.Fatalf("Len() after wrap = %d, want 1", s.Len())
	}

	// now = 5, elapsed 10 >= 10: retired.
	clk.Set(5)
	s.Tick()
	if n != 2 || s.Len() != 0 {
		t.Fatalf("after true expiry: invocations=%d Len=%d, want 2/0", n, s.Len())
	}
}

func TestNoLeakAfterFullRetirement(t *testing.T) {
	t.Parallel()
	s, clk := newTestScheduler(0)

	n := 0
	for i := 0; i < 4; i++ {
		s.ScheduleMillis(task.New("t", func() { n++ }), clock.Millis(10+i))
	}

	clk.Advance(100)
	s.Tick()
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}

	before := n
	for i := 0; i < 3; i++ {
		clk.Advance(10)
		s.Tick()
	}
	if n != before {
		t.Fatalf("retired tasks still invoked: %d -> %d", before, n)
	}
}

func TestRemovalKeepsSurvivorsIntact(t *testing.T) {
	t.Parallel()
	s, clk := newTestScheduler(0)

	counts := map[string]int{}
	mk := func(name string, d clock.Millis) {
		s.ScheduleMillis(task.New(name, func() { counts[name]++ }), d)
	}
	// Expiring entries at head, middle, and tail positions in one pass.
	mk("head-exp", 5)
	mk("live-1", 50)
	mk("mid-exp", 5)
	mk("live-2", 50)
	mk("tail-exp", 5)

	clk.Advance(10)
	s.Tick()
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	for _, name := range []string{"head-exp", "mid-exp", "tail-exp"} {
		if counts[name] != 0 {
			t.Fatalf("%s invoked %d times, want 0", name, counts[name])
		}
	}

	// Survivors keep executing across further ticks.
	clk.Advance(10)
	s.Tick()
	if counts["live-1"] != 2 || counts["live-2"] != 2 {
		t.Fatalf("survivors: live-1=%d live-2=%d, want 2/2", counts["live-1"], counts["live-2"])
	}
}

func TestRemoveSoleEntry(t *testing.T) {
	t.Parallel()
	s, clk := newTestScheduler(0)
	s.ScheduleMillis(task.New("only", nil), 5)

	clk.Advance(5)
	s.Tick()
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}
	s.Tick() // empty collection is fine to keep polling
}

func TestReentrantScheduleDeferredToNextTick(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(0)

	childRuns := 0
	var parent *task.Task
	parent = task.New("parent", func() {
		s.ScheduleMillis(task.New("child", func() { childRuns++ }), 100)
	})
	s.ScheduleMillis(parent, 100)

	s.Tick()
	if childRuns != 0 {
		t.Fatalf("child ran %d times within the admitting tick, want 0", childRuns)
	}
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}

	s.Tick()
	// Second tick: parent admits another child, first child runs once.
	if childRuns != 1 {
		t.Fatalf("child runs after second tick = %d, want 1", childRuns)
	}
	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}
}

func TestReentrantScheduleSurvivesRetirementShift(t *testing.T) {
	t.Parallel()
	s, clk := newTestScheduler(0)

	childRuns := 0
	s.ScheduleMillis(task.New("doomed", nil), 5)
	s.ScheduleMillis(task.New("spawner", func() {
		s.ScheduleMillis(task.New("child", func() { childRuns++ }), 100)
	}), 50)

	// "doomed" retires in the same pass that "spawner" admits "child";
	// the admission must survive the compaction shift.
	clk.Advance(10)
	s.Tick()
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 (spawner + child)", s.Len())
	}
	s.Tick()
	if childRuns != 1 {
		t.Fatalf("child runs = %d, want 1", childRuns)
	}
}

func TestLifecycleEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	clk := clock.NewManual(100)
	s := New(clk, logx.Nop(), bus)

	s.ScheduleMillis(task.New("observed", nil), 10)
	e := <-ch
	if e.Type != EventAdmitted {
		t.Fatalf("first event = %q, want %q", e.Type, EventAdmitted)
	}
	adm, ok := e.Data.(TaskEvent)
	if !ok {
		t.Fatalf("event data type %T, want TaskEvent", e.Data)
	}
	if adm.Name != "observed" || adm.AdmittedAt != 100 || adm.Duration != 10 {
		t.Fatalf("unexpected admit payload: %+v", adm)
	}

	clk.Advance(3)
	s.Tick() // live, invoked
	clk.Advance(7)
	s.Tick() // retired

	e = <-ch
	if e.Type != EventRetired {
		t.Fatalf("second event = %q, want %q", e.Type, EventRetired)
	}
	ret := e.Data.(TaskEvent)
	if ret.Invocations != 1 || ret.Elapsed != 10 {
		t.Fatalf("unexpected retire payload: %+v", ret)
	}
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	s, clk := newTestScheduler(0)
	s.ScheduleMillis(task.New("a", nil), 20)
	clk.Advance(5)
	s.ScheduleMillis(task.New("b", nil), 30)
	clk.Advance(5)
	s.Tick()

	snap := s.TakeSnapshot()
	if snap.Now != 10 {
		t.Fatalf("snapshot Now = %d, want 10", snap.Now)
	}
	if len(snap.Entries) != 2 {
		t.Fatalf("snapshot entries = %d, want 2", len(snap.Entries))
	}
	a, b := snap.Entries[0], snap.Entries[1]
	if a.Name != "a" || a.Elapsed != 10 || a.Remaining != 10 || a.Invocations != 1 {
		t.Fatalf("entry a: %+v", a)
	}
	if b.Name != "b" || b.Elapsed != 5 || b.Remaining != 25 {
		t.Fatalf("entry b: %+v", b)
	}
}

func TestOverlongDurationCapped(t *testing.T) {
	t.Parallel()
	s, clk := newTestScheduler(0)

	// A full counter range plus a little would wrap to ~5ms if converted
	// modularly; it must land on the Span cap instead.
	n := 0
	s.Schedule(task.New("long", func() { n++ }), (time.Duration(math.MaxUint32)+5)*time.Millisecond)

	snap := s.TakeSnapshot()
	if len(snap.Entries) != 1 {
		t.Fatalf("Len() = %d, want 1", len(snap.Entries))
	}
	if got := snap.Entries[0].Duration; got != clock.Span {
		t.Fatalf("admitted duration = %d, want cap %d", got, clock.Span)
	}

	// Well past the would-be wrapped value: still live and running.
	clk.Set(10)
	s.Tick()
	if n != 1 || s.Len() != 1 {
		t.Fatalf("after tick: invocations = %d, Len() = %d, want 1 and 1", n, s.Len())
	}
}
