package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord describes one completed (retired) scheduler entry.
// Keep it compact and schema-stable.
type RunRecord struct {
	Name        string    `json:"name"`
	AdmittedAt  time.Time `json:"admitted_at"`
	RetiredAt   time.Time `json:"retired_at"`
	DurationMS  uint32    `json:"duration_ms"`
	ElapsedMS   uint32    `json:"elapsed_ms"`
	Invocations uint64    `json:"invocations"`
}
