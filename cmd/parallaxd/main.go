package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"parallax/internal/config"
	"parallax/internal/eventbus"
	"parallax/internal/runner"
	"parallax/internal/storage"
	logx "parallax/pkg/logx"
)

func main() {
	var (
		cfgPath string
		watch   bool
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.BoolVar(&watch, "watch", true, "reload config when the file changes")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal: config:", err)
		os.Exit(1)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.ConsoleLogging(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	defer logSvc.Close()
	mgr.SetLogger(log)

	var store storage.Store
	if cfg.Storage != nil {
		busy, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		store, err = storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}, log)
		if err != nil {
			log.Error("storage init failed", logx.Err(err))
			os.Exit(1)
		}
	}

	interval, _ := cfg.PollInterval() // validated by Load
	run := runner.New(runner.Config{
		PollInterval: interval,
		Watchdog:     cfg.Poll.Watchdog,
	}, log, eventbus.New(), store, nil)

	registerBuiltins(run, log)

	if err := run.ApplyProgram(cfg.Program); err != nil {
		log.Error("program rejected", logx.Err(err))
		os.Exit(1)
	}

	if err := run.Start(ctx); err != nil {
		log.Error("start failed", logx.Err(err))
		os.Exit(1)
	}

	if watch {
		// Apply reloaded configs; a program that doesn't resolve keeps the
		// previous one running untouched.
		updates := mgr.Subscribe(2)
		go func() {
			for c := range updates {
				logSvc.Apply(logx.Config{
					Level:   c.Logging.Level,
					Console: c.ConsoleLogging(),
					File: logx.FileConfig{
						Enabled: c.Logging.File.Enabled,
						Path:    c.Logging.File.Path,
					},
				})
				if err := run.ApplyProgram(c.Program); err != nil {
					log.Warn("reloaded program rejected; keeping previous", logx.Err(err))
					continue
				}
				log.Info("program reloaded", logx.Int("entries", len(c.Program)))
			}
		}()
		go func() { _ = mgr.Watch(ctx) }()
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := run.Stop(stopCtx); err != nil {
		log.Warn("shutdown incomplete", logx.Err(err))
	}
	if store != nil {
		_ = store.Close()
	}
}

// registerBuiltins installs the stock actions a bare daemon can schedule
// from config without any host code.
func registerBuiltins(run *runner.Service, log logx.Logger) {
	beats := 0
	mustRegister(run, "heartbeat", func() {
		beats++
		log.Debug("heartbeat", logx.Int("beat", beats))
	})

	state := false
	mustRegister(run, "blink", func() {
		state = !state
		log.Trace("blink", logx.Bool("on", state))
	})

	mustRegister(run, "noop", func() {})
}

func mustRegister(run *runner.Service, name string, fn func()) {
	if err := run.RegisterAction(name, fn); err != nil {
		panic(err)
	}
}
