package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// Keep bounds how many entries per kind survive compaction (file) or
	// pruning (sqlite). 0 means DefaultKeep.
	Keep int
}

const DefaultKeep = 5000

// RunEntry is one finished task execution.
type RunEntry struct {
	Task     string        `json:"task"`
	RunID    string        `json:"run_id"`
	Trigger  string        `json:"trigger,omitempty"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// BackupRecord is one snapshot attempt.
type BackupRecord struct {
	Repository string        `json:"repository"`
	Snapshot   string        `json:"snapshot"`
	Started    time.Time     `json:"started"`
	Duration   time.Duration `json:"duration"`
	Status     string        `json:"status"`
	Error      string        `json:"error,omitempty"`
}
