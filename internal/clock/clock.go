// Package clock provides the monotonic millisecond counter the scheduler
// runs on.
//
// The counter is deliberately a fixed-width uint32, the width of a typical
// embedded millis() source: it overflows after ~49.7 days and wraps to zero.
// All elapsed-time math in this repo goes through Since(), which is
// wraparound-correct across a single overflow.
package clock

import (
	"math"
	"time"
)

// Millis is a reading of the fixed-width millisecond counter.
// Arithmetic on Millis is modular: the counter wraps at 2^32.
type Millis uint32

// Span is the largest single interval that can be measured reliably.
// An entry whose duration exceeds half the counter range can be misread
// after a wrap, so callers must keep durations under ~24.8 days.
const Span = Millis(1) << 31

// Since returns now - start as modular unsigned subtraction.
//
// This is the load-bearing piece of the whole design: unsigned subtraction
// self-corrects across one counter wrap, so an entry admitted just before
// overflow still measures its elapsed time correctly just after.
func Since(now, start Millis) Millis {
	return now - start
}

// FromDuration converts a wall duration to counter ticks.
// Negative durations clamp to zero; durations past the counter range
// saturate to the counter maximum rather than wrapping, so an over-span
// value is still visible as over-span to the scheduler's cap.
func FromDuration(d time.Duration) Millis {
	if d <= 0 {
		return 0
	}
	ms := uint64(d / time.Millisecond)
	if ms > math.MaxUint32 {
		return Millis(math.MaxUint32)
	}
	return Millis(ms)
}

// Clock is the counter source the scheduler polls.
type Clock interface {
	Now() Millis
}

// System returns a Clock backed by the process monotonic clock,
// truncated to the uint32 millisecond counter.
func System() Clock {
	return &systemClock{start: time.Now()}
}

type systemClock struct {
	start time.Time
}

func (c *systemClock) Now() Millis {
	// time.Since uses the monotonic reading; truncation to uint32 gives the
	// same wrap behavior as a hardware millis() counter.
	return Millis(uint64(time.Since(c.start) / time.Millisecond))
}

// Manual is a hand-driven Clock for tests and simulation.
// It is not safe for concurrent use, same as the scheduler it feeds.
type Manual struct {
	now Millis
}

// NewManual returns a Manual clock starting at the given reading.
func NewManual(start Millis) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() Millis { return m.now }

// Set moves the clock to an absolute reading. Moving backwards is allowed
// (the counter is modular; "backwards" is indistinguishable from a long jump).
func (m *Manual) Set(now Millis) { m.now = now }

// Advance moves the clock forward by d ticks, wrapping modularly.
func (m *Manual) Advance(d Millis) { m.now += d }
