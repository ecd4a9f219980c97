package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"escar/internal/task"
	"escar/internal/task/engine"
	logx "escar/pkg/logx"
)

var (
	ErrDuplicateTask = errors.New("task already registered")
	ErrUnknownTask   = errors.New("unknown task")
)

const (
	triggerSchedule = "schedule"
	triggerManual   = "manual"
)

func New(cfg Config, eng *engine.Service, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:    cfg,
		log:    log,
		engine: eng,
		byName: map[string]*entry{},
	}
	return s
}

// RegisterOption configures a single registration.
type RegisterOption func(*entry)

// WithTimeout bounds each execution of the task.
func WithTimeout(d time.Duration) RegisterOption { return func(e *entry) { e.timeout = d } }

// Register binds t to p. Names are unique; registering a name twice fails.
// Registering after Start schedules the task immediately.
func (s *Service) Register(t task.Task, p Policy, opts ...RegisterOption) error {
	if t == nil {
		return errors.New("task required")
	}
	name := strings.TrimSpace(t.Name())
	if name == "" {
		return errors.New("task name required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, name)
	}
	if o, ok := s.cfg.Overrides[name]; ok && o != nil {
		p = o
	}
	if p == nil {
		return fmt.Errorf("task %s: policy required", name)
	}

	e := &entry{task: t, policy: p, state: &engine.RunState{}}
	for _, o := range opts {
		o(e)
	}
	s.entries = append(s.entries, e)
	s.byName[name] = e

	if s.c != nil {
		s.scheduleLocked(e)
	}
	s.log.Debug("task registered", logx.String("task", name), logx.String("policy", p.String()))
	return nil
}

func (s *Service) scheduleLocked(e *entry) {
	e.id = s.c.Schedule(e.policy, cron.FuncJob(func() { s.fire(e, triggerSchedule) }))
	if s.log.Enabled(logx.LevelDebug) {
		s.log.Debug("task scheduled", logx.String("task", e.task.Name()), logx.Time("next", e.policy.Next(time.Now().In(s.loc))))
	}
}

// fire hands one execution to the engine. Overlap skips are normal
// operation; any other refusal is a warning.
func (s *Service) fire(e *entry, trigger string) error {
	err := s.engine.Submit(engine.Task{
		Name:    e.task.Name(),
		Trigger: trigger,
		Timeout: e.timeout,
		Run:     e.task.Execute,
		State:   e.state,
	})
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrOverlapSkip):
		s.log.Debug("trigger skipped; previous execution still running", logx.String("task", e.task.Name()), logx.String("trigger", trigger))
	default:
		s.log.Warn("trigger not executed", logx.String("task", e.task.Name()), logx.Err(err))
	}
	return err
}

// RunNow triggers an out-of-schedule execution under the same overlap rule.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	e := s.byName[strings.TrimSpace(name)]
	s.mu.Unlock()
	if e == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return s.fire(e, triggerManual)
}

// Start begins triggering every registered task. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled; no periodic work will run")
		return
	}
	s.engine.Start(ctx)

	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithLocation(s.loc))
	for _, e := range s.entries {
		s.scheduleLocked(e)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("tasks", len(s.entries)))
}

// Stop stops issuing new executions, then cancels and waits for in-flight
// ones, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		// Done fires once running cron jobs return; ours only submit.
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	err := s.engine.Stop(ctx)
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)), logx.Err(err))
	return err
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
