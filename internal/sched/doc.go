// Package sched implements the cooperative, time-bounded task scheduler at
// the heart of parallax.
//
// # Overview
//
// Callers admit a task together with a duration; the scheduler re-invokes
// the task once per poll cycle for as long as the duration has not elapsed,
// then retires it. There is no preemption, no priority, and no inter-task
// coordination: tasks are expected to be short, non-blocking, and safe to
// call once per cycle.
//
// # Time
//
// The scheduler runs on a fixed-width uint32 millisecond counter
// (clock.Millis). Elapsed time is computed with modular unsigned
// subtraction, so scheduling stays correct across one counter wrap provided
// no single duration exceeds half the counter range (clock.Span).
//
// # Concurrency
//
// The scheduler is single-threaded by contract. Schedule and Tick must be
// called from one logical thread of control; there are no internal locks.
// Hosts that drive it from multiple goroutines must serialize access
// themselves (internal/runner does exactly that).
//
// # Execution order
//
// Entries happen to run in admission order, but this is not part of the
// contract: any order satisfies the scheduling semantics and callers must
// not depend on it.
package sched
