// Package storage persists run history: one record per retired scheduler
// entry. It never stores schedule state, so a restart always begins with
// an empty scheduler.
//
// Drivers:
//   - "file": dependency-free JSONL backend
//   - "sqlite": SQLite database file (optional build tag)
package storage
