// Package runner hosts the scheduler core inside a long-running process.
//
// # Overview
//
// The scheduler itself (internal/sched) is single-threaded and passive: it
// only does work when something calls Tick. The runner provides that
// something, a polling loop on a time.Ticker, plus the surrounding
// service plumbing:
//
//   - an action registry mapping config names to task functions
//   - one-shot admission of program entries at start
//   - optional cron/interval re-admission (robfig/cron)
//   - a bounded history of retired entries, optionally persisted and
//     reloaded at start
//   - systemd readiness and watchdog notifications
//
// # Concurrency
//
// The scheduler's single-thread contract is honored with one mutex: the
// poll loop and cron-fired admissions both take it before touching the
// core. Tasks therefore still run strictly one at a time, in poll order;
// the cooperative model is preserved, cron only decides when an entry is
// (re)admitted.
//
// # Lifecycle
//
// New -> RegisterAction* -> ApplyProgram -> Start ... Stop. Start and Stop
// are idempotent. ApplyProgram may be called while running (config hot
// reload): re-admission schedules are rebuilt, already-admitted entries
// run out their remaining duration untouched.
package runner
