package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"parallax/internal/clock"
	"parallax/internal/config"
	"parallax/internal/eventbus"
	"parallax/internal/sched"
	"parallax/internal/storage"
	"parallax/internal/task"
	logx "parallax/pkg/logx"
)

// Service drives the scheduler core from a polling loop.
type Service struct {
	log logx.Logger
	cfg Config

	bus   eventbus.Bus
	store storage.Store // may be nil

	// tickMu serializes every touch of the core: the poll loop, cron-fired
	// admissions, and snapshots. The core itself has no locks by contract.
	tickMu sync.Mutex
	clk    clock.Clock
	sched  *sched.Scheduler

	// mu guards lifecycle and program state.
	mu      sync.Mutex
	actions map[string]task.Func
	program []*Program
	c       *cron.Cron
	parser  cron.Parser
	stopCh  chan struct{}

	overrun *rate.Limiter
	ticks   atomic.Uint64
	wg      sync.WaitGroup

	recUnsub func()

	hmu     sync.Mutex
	history []storage.RunRecord
}

// New creates a runner around a fresh scheduler core.
// A nil bus gets an internal one; a nil store disables persistence;
// a nil clk uses the system millisecond counter.
func New(cfg Config, log logx.Logger, bus eventbus.Bus, store storage.Store, clk clock.Clock) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	if clk == nil {
		clk = clock.System()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = config.DefaultPollInterval
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	if cfg.OverrunWarnEvery <= 0 {
		cfg.OverrunWarnEvery = 10 * time.Second
	}

	return &Service{
		log:     log,
		cfg:     cfg,
		bus:     bus,
		store:   store,
		clk:     clk,
		sched:   sched.New(clk, log, bus),
		actions: map[string]task.Func{},
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		overrun: rate.NewLimiter(rate.Every(cfg.OverrunWarnEvery), 1),
	}
}

// RegisterAction makes fn available to program entries under the given name.
// Must be called before ApplyProgram resolves a program that uses it.
func (s *Service) RegisterAction(name string, fn task.Func) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("action name required")
	}
	if fn == nil {
		return fmt.Errorf("action %q: nil function", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actions[name]; ok {
		return fmt.Errorf("action %q already registered", name)
	}
	s.actions[name] = fn
	return nil
}

// ApplyProgram resolves config program entries against the action registry
// and installs them. Safe to call while running: re-admission schedules are
// rebuilt; entries already admitted keep running out their duration.
// One-shot entries (no schedule) are admitted at Start only.
func (s *Service) ApplyProgram(entries []config.ProgramEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	resolved := make([]*Program, 0, len(entries))
	for i, e := range entries {
		path := fmt.Sprintf("program[%d]", i)
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return errors.New(path + ": name required")
		}
		action := strings.TrimSpace(e.Action)
		if action == "" {
			action = name
		}
		fn, ok := s.actions[action]
		if !ok {
			return fmt.Errorf("%s: unknown action %q", path, action)
		}
		d, err := config.ParseDurationField(path+".duration", e.Duration)
		if err != nil {
			return err
		}
		p := &Program{
			Name:     name,
			Duration: d,
			Schedule: strings.TrimSpace(e.Schedule),
			tsk:      task.New(name, fn),
		}
		if p.Schedule != "" {
			ps, err := ParseSchedule(p.Schedule)
			if err != nil {
				return fmt.Errorf("%s.schedule: %w", path, err)
			}
			p.spec = ps
			p.hasSpec = true
		}
		resolved = append(resolved, p)
	}

	s.program = resolved
	if s.stopCh != nil {
		s.restartCronLocked()
	}
	return nil
}

// Start begins polling. Idempotent: a second Start while running is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return nil
	}
	s.stopCh = make(chan struct{})

	// Seed the history ring from persisted runs so Snapshot and History
	// show continuity across restarts. Scheduler state itself is never
	// restored; the core always starts empty.
	if s.store != nil {
		if recs, err := s.store.RecentRuns(ctx, s.cfg.HistorySize); err != nil {
			s.log.Warn("run history not loaded", logx.Err(err))
		} else if len(recs) > 0 {
			s.hmu.Lock()
			if len(s.history) == 0 {
				s.history = recs
			}
			s.hmu.Unlock()
			s.log.Debug("run history loaded", logx.Int("records", len(recs)))
		}
	}

	// Recorder first so no retirement event is missed.
	ch, unsub := s.bus.Subscribe(128)
	s.recUnsub = unsub
	s.wg.Add(1)
	go s.recorder(ctx, ch)

	s.c = cron.New(cron.WithParser(s.parser))
	scheduled := 0
	for _, p := range s.program {
		if p.hasSpec {
			s.addCronLocked(p)
			scheduled++
		}
	}
	s.c.Start()

	// One-shot entries run from now.
	for _, p := range s.program {
		if !p.hasSpec {
			s.admit(p)
		}
	}

	var wd time.Duration
	if s.cfg.Watchdog {
		_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
		wd, _ = daemon.SdWatchdogEnabled(false)
	}

	stopCh := s.stopCh
	s.wg.Add(1)
	go s.pollLoop(ctx, stopCh, s.cfg.PollInterval, wd)

	s.log.Info("runner started",
		logx.Duration("poll_interval", s.cfg.PollInterval),
		logx.Int("program", len(s.program)),
		logx.Int("schedules", scheduled),
		logx.Bool("watchdog", wd > 0))
	return nil
}

// Stop halts polling and waits for the loop and recorder to exit.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return nil
	}
	close(s.stopCh)
	s.stopCh = nil
	if s.c != nil {
		<-s.c.Stop().Done()
		s.c = nil
	}
	if s.recUnsub != nil {
		s.recUnsub()
		s.recUnsub = nil
	}
	watchdog := s.cfg.Watchdog
	s.mu.Unlock()

	if watchdog {
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("stop timed out waiting for workers", logx.Err(ctx.Err()))
		return ctx.Err()
	}

	s.log.Info("runner stopped", logx.Uint64("ticks", s.ticks.Load()))
	return nil
}

// restartCronLocked rebuilds the cron instance from the current program.
// Caller holds s.mu and the service is running.
func (s *Service) restartCronLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	s.c = cron.New(cron.WithParser(s.parser))
	for _, p := range s.program {
		if p.hasSpec {
			s.addCronLocked(p)
		}
	}
	s.c.Start()
	s.log.Debug("re-admission schedules rebuilt", logx.Int("program", len(s.program)))
}

func (s *Service) addCronLocked(p *Program) {
	spec := p.spec.Cron
	if p.spec.Kind == SpecInterval {
		spec = "@every " + p.spec.Every.String()
	}
	id, err := s.c.AddFunc(spec, func() { s.admit(p) })
	if err != nil {
		// ParseSchedule accepted the spec but robfig/cron did not
		// (e.g. a malformed field count); the entry simply never fires.
		s.log.Error("schedule register failed",
			logx.String("task", p.Name), logx.String("spec", spec), logx.Err(err))
		return
	}
	p.entryID = id
	s.log.Debug("schedule registered",
		logx.String("task", p.Name),
		logx.String("spec", spec),
		logx.Duration("duration", p.Duration))
}

// admit hands one program entry to the core under the tick lock.
func (s *Service) admit(p *Program) {
	s.tickMu.Lock()
	s.sched.Schedule(p.tsk, p.Duration)
	s.tickMu.Unlock()
}

func (s *Service) pollLoop(ctx context.Context, stopCh <-chan struct{}, interval, watchdog time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastKick time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			start := time.Now()
			s.tickMu.Lock()
			s.sched.Tick()
			s.tickMu.Unlock()
			s.ticks.Add(1)

			if took := time.Since(start); took > interval && s.overrun.Allow() {
				s.log.Warn("tick overran poll interval",
					logx.Duration("took", took),
					logx.Duration("interval", interval))
			}

			// systemd expects a kick at least twice per watchdog window.
			if watchdog > 0 && time.Since(lastKick) >= watchdog/2 {
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				lastKick = time.Now()
			}
		}
	}
}
