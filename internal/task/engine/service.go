package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"

	"escar/internal/eventbus"
	rtsup "escar/internal/runtime/supervisor"
	logx "escar/pkg/logx"
)

// slowTask promotes completion logs from debug to info.
const slowTask = 750 * time.Millisecond

// Service runs each accepted execution in its own supervised goroutine, so
// tasks never wait for each other. Overlap is gated per RunState.
type Service struct {
	mu    sync.Mutex
	cfg   Config
	log   logx.Logger
	bus   eventbus.Bus
	clock clock.Clock
	sup   *rtsup.Supervisor

	stateMu sync.Mutex
	states  map[string]*RunState

	hmu     sync.Mutex
	history []HistoryItem

	idSeq    atomic.Uint64
	inFlight atomic.Int32
	started  atomic.Uint64
	skipped  atomic.Uint64
	failed   atomic.Uint64
}

type Option func(*Service)

func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

func New(cfg Config, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	s := &Service{
		cfg:    cfg,
		log:    log,
		bus:    bus,
		clock:  clock.WallClock,
		states: make(map[string]*RunState),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start is idempotent. Executions inherit ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithClock(s.clock),
		// a failing task must not take the sidecar down
		rtsup.WithCancelOnError(false),
	)
	s.log.Info("task engine started", logx.Duration("default_timeout", s.cfg.DefaultTimeout))
}

// Stop cancels in-flight executions and waits for them, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}

	sup.Cancel()
	if err := sup.Wait(ctx); err != nil && ctx.Err() != nil {
		s.log.Warn("task engine stop timed out", logx.Int("in_flight", int(s.inFlight.Load())), logx.Err(ctx.Err()))
		return ctx.Err()
	}
	s.log.Info("task engine stopped")
	return nil
}

// Submit starts t in a new goroutine unless the previous execution sharing
// its RunState is still running, in which case it returns ErrOverlapSkip.
func (s *Service) Submit(t Task) error {
	if t.Run == nil {
		return fmt.Errorf("task Run is nil")
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return fmt.Errorf("task Name is required")
	}
	now := s.clock.Now()
	if t.ID == "" {
		t.ID = fmt.Sprintf("run-%x-%x", now.UnixNano(), s.idSeq.Add(1))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Holding mu keeps Stop from waiting on the supervisor while we add to it.
	if s.sup == nil {
		return ErrStopped
	}

	st := t.State
	if st == nil {
		st = s.stateFor(t.Name)
	}
	if !st.tryAcquire() {
		s.skipped.Add(1)
		s.publish(eventbus.TaskSkipped, now, TaskEvent{ID: t.ID, Name: t.Name, Trigger: t.Trigger, Started: now, Error: ErrOverlapSkip.Error()})
		s.log.Debug("task skipped due to overlap", logx.String("task", t.Name), logx.String("id", t.ID))
		return ErrOverlapSkip
	}

	if t.Timeout <= 0 {
		t.Timeout = s.cfg.DefaultTimeout
	}
	s.inFlight.Add(1)
	s.started.Add(1)
	s.sup.Go0("task."+t.Name, func(ctx context.Context) {
		defer s.inFlight.Add(-1)
		defer st.release()
		s.exec(ctx, t)
	})
	return nil
}

func (s *Service) exec(ctx context.Context, t Task) {
	start := s.clock.Now()
	s.log.Debug("task.started", logx.String("task", t.Name), logx.String("trigger", t.Trigger))
	s.publish(eventbus.TaskStarted, start, TaskEvent{ID: t.ID, Name: t.Name, Trigger: t.Trigger, Started: start})

	runCtx := ctx
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	err := s.runGuarded(runCtx, t)

	dur := s.clock.Now().Sub(start)
	item := HistoryItem{ID: t.ID, Name: t.Name, Trigger: t.Trigger, Started: start, Duration: dur}
	ev := TaskEvent{ID: t.ID, Name: t.Name, Trigger: t.Trigger, Started: start, Duration: dur}
	switch {
	case err != nil:
		s.failed.Add(1)
		item.Error = err.Error()
		ev.Error = item.Error
		s.log.Warn("task.failed", logx.String("task", t.Name), logx.Err(err), logx.Duration("dur", dur))
	case dur >= slowTask:
		s.log.Info("task.completed", logx.String("task", t.Name), logx.Duration("dur", dur))
	default:
		s.log.Debug("task.completed", logx.String("task", t.Name), logx.Duration("dur", dur))
	}
	s.publish(eventbus.TaskFinished, s.clock.Now(), ev)
	s.record(item)
}

func (s *Service) runGuarded(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Task: t.Name, Value: r}
			s.log.Error("task.panic", logx.String("task", t.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return t.Run(ctx)
}

func (s *Service) record(item HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if n := s.cfg.HistorySize; len(s.history) > n {
		s.history = s.history[len(s.history)-n:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, at time.Time, ev TaskEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: ev})
}

func (s *Service) stateFor(name string) *RunState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	st := s.states[name]
	if st == nil {
		st = &RunState{}
		s.states[name] = st
	}
	return st
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	running := s.sup != nil
	cfg := s.cfg
	s.mu.Unlock()

	s.hmu.Lock()
	h := make([]HistoryItem, len(s.history))
	copy(h, s.history)
	s.hmu.Unlock()

	return Snapshot{
		Running:        running,
		InFlight:       int(s.inFlight.Load()),
		Started:        s.started.Load(),
		Skipped:        s.skipped.Load(),
		Failed:         s.failed.Load(),
		DefaultTimeout: cfg.DefaultTimeout,
		History:        h,
	}
}
