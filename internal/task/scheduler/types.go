package scheduler

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"escar/internal/task"
	"escar/internal/task/engine"
	logx "escar/pkg/logx"
)

// Config controls the scheduler (trigger) service.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ for cron policies, e.g. "Europe/Berlin"

	// Overrides replaces the policy of a registered task by name.
	Overrides map[string]Policy
}

type HistoryItem = engine.HistoryItem

type entry struct {
	task    task.Task
	policy  Policy
	timeout time.Duration
	state   *engine.RunState
	id      cron.EntryID
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	engine *engine.Service

	c       *cron.Cron
	entries []*entry
	byName  map[string]*entry
}

type ScheduleInfo struct {
	Name    string
	Policy  string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
	Running bool
}

type Snapshot struct {
	Enabled  bool
	Timezone string

	// Executor diagnostics (task engine).
	InFlight       int
	Started        uint64
	Skipped        uint64
	Failed         uint64
	DefaultTimeout time.Duration

	Schedules []ScheduleInfo
	History   []HistoryItem
}
