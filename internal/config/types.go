package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the daemon configuration. All durations are Go duration
// strings (e.g. "10ms", "5s", "2h30m").
type Config struct {
	Logging LoggingConfig  `json:"logging"`
	Poll    PollConfig     `json:"poll"`
	Storage *StorageConfig `json:"storage,omitempty"`

	// Program lists the tasks the runner admits into the scheduler.
	Program []ProgramEntry `json:"program"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console *bool         `json:"console,omitempty"` // pointer: omitted defaults to true
	File    FileLogConfig `json:"file,omitempty"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// PollConfig controls the main polling loop.
//
// Defaults (when fields are omitted/zero):
//   - interval: "10ms"
//   - watchdog: false
type PollConfig struct {
	// Interval between scheduler ticks.
	Interval string `json:"interval,omitempty"`

	// Watchdog enables systemd readiness + watchdog notifications.
	Watchdog bool `json:"watchdog,omitempty"`
}

// StorageConfig controls run-history persistence.
//
// Driver values:
//   - "none"/empty: disabled
//   - "file": append-only JSONL
//   - "sqlite": SQLite database file (build with -tags sqlite)
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// ProgramEntry binds a registered action to a run duration.
//
// With no schedule the entry is admitted once at startup. With a schedule
// (cron expression, "@every 5m", or a plain duration like "1m") the entry
// is re-admitted every time the schedule fires.
type ProgramEntry struct {
	Name     string `json:"name"`
	Action   string `json:"action,omitempty"` // defaults to name
	Duration string `json:"duration"`
	Schedule string `json:"schedule,omitempty"`
}

// DefaultPollInterval is used when poll.interval is omitted.
const DefaultPollInterval = 10 * time.Millisecond

// PollInterval returns the resolved tick interval.
func (c *Config) PollInterval() (time.Duration, error) {
	return ParseDurationOrDefault("poll.interval", c.Poll.Interval, DefaultPollInterval)
}

// ConsoleLogging reports whether console output is enabled (default true).
func (c *Config) ConsoleLogging() bool {
	return c.Logging.Console == nil || *c.Logging.Console
}

// Validate checks the config for structural errors. Schedule strings are
// validated by the runner, which owns the spec syntax.
func (c *Config) Validate() error {
	if _, err := c.PollInterval(); err != nil {
		return err
	}
	if c.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}

	seen := map[string]bool{}
	for i, p := range c.Program {
		path := fmt.Sprintf("program[%d]", i)
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return errors.New(path + ": name is required")
		}
		if seen[name] {
			return fmt.Errorf("%s: duplicate name %q", path, name)
		}
		seen[name] = true
		if strings.TrimSpace(p.Duration) == "" {
			return errors.New(path + ": duration is required")
		}
		if _, err := ParseDurationField(path+".duration", p.Duration); err != nil {
			return err
		}
	}
	return nil
}
