// Package storage persists the run ledger: one entry per task execution and
// one record per snapshot attempt.
//
// Drivers:
//   - "file": JSON Lines files next to each other, compacted when they grow
//   - "sqlite": a single SQLite database (modernc.org/sqlite, no cgo)
package storage
