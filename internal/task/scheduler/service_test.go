package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"escar/internal/task"
	"escar/internal/task/engine"
	logx "escar/pkg/logx"
)

func newScheduler(t *testing.T, cfg Config) *Service {
	t.Helper()
	s := New(cfg, engine.New(engine.Config{}, logx.Nop(), nil), logx.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func every(t *testing.T, d time.Duration) Policy {
	t.Helper()
	p, err := Interval(d)
	require.NoError(t, err)
	return p
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 5*time.Millisecond)
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	s := newScheduler(t, Config{Enabled: true})
	tk := task.Func{TaskName: "monitor", Fn: func(context.Context) error { return nil }}

	require.NoError(t, s.Register(tk, every(t, time.Hour)))
	err := s.Register(tk, every(t, time.Minute))
	require.ErrorIs(t, err, ErrDuplicateTask)
	require.Len(t, s.Snapshot().Schedules, 1)
}

func TestRegisterRequiresPolicy(t *testing.T) {
	s := newScheduler(t, Config{Enabled: true})
	err := s.Register(task.Func{TaskName: "x", Fn: func(context.Context) error { return nil }}, nil)
	require.Error(t, err)
}

func TestTasksFireIndependently(t *testing.T) {
	s := newScheduler(t, Config{Enabled: true})

	var fast atomic.Int32
	block := make(chan struct{})
	defer close(block)

	require.NoError(t, s.Register(task.Func{TaskName: "fast", Fn: func(context.Context) error {
		fast.Add(1)
		return nil
	}}, every(t, 20*time.Millisecond)))
	require.NoError(t, s.Register(task.Func{TaskName: "stuck", Fn: func(ctx context.Context) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	}}, every(t, 20*time.Millisecond)))

	s.Start(context.Background())
	eventually(t, func() bool { return fast.Load() >= 3 })
	eventually(t, func() bool { return s.Snapshot().Skipped > 0 })
}

func TestSlowTaskNeverOverlaps(t *testing.T) {
	s := newScheduler(t, Config{Enabled: true})

	var running, maxRunning, runs atomic.Int32
	require.NoError(t, s.Register(task.Func{TaskName: "slow", Fn: func(ctx context.Context) error {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		runs.Add(1)
		select {
		case <-time.After(60 * time.Millisecond):
		case <-ctx.Done():
		}
		return nil
	}}, every(t, 10*time.Millisecond)))

	s.Start(context.Background())
	eventually(t, func() bool { return runs.Load() >= 3 })
	require.Equal(t, int32(1), maxRunning.Load())
}

func TestFailingAndPanickingTasksDoNotStopOthers(t *testing.T) {
	s := newScheduler(t, Config{Enabled: true})

	var ok atomic.Int32
	require.NoError(t, s.Register(task.Func{TaskName: "panics", Fn: func(context.Context) error { panic("boom") }}, every(t, 15*time.Millisecond)))
	require.NoError(t, s.Register(task.Func{TaskName: "errors", Fn: func(context.Context) error { return errors.New("nope") }}, every(t, 15*time.Millisecond)))
	require.NoError(t, s.Register(task.Func{TaskName: "healthy", Fn: func(context.Context) error { ok.Add(1); return nil }}, every(t, 15*time.Millisecond)))

	s.Start(context.Background())
	eventually(t, func() bool { return ok.Load() >= 3 && s.Snapshot().Failed >= 4 })
}

func TestRunNow(t *testing.T) {
	s := newScheduler(t, Config{Enabled: true})

	ran := make(chan struct{}, 1)
	require.NoError(t, s.Register(task.Func{TaskName: "backup", Fn: func(context.Context) error {
		ran <- struct{}{}
		return nil
	}}, every(t, time.Hour)))
	s.Start(context.Background())

	require.NoError(t, s.RunNow("backup"))
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("RunNow did not execute")
	}
	require.ErrorIs(t, s.RunNow("missing"), ErrUnknownTask)
}

func TestStopCancelsInFlightAndStopsFiring(t *testing.T) {
	s := New(Config{Enabled: true}, engine.New(engine.Config{}, logx.Nop(), nil), logx.Nop())

	var runs atomic.Int32
	canceled := make(chan struct{})
	require.NoError(t, s.Register(task.Func{TaskName: "long", Fn: func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			<-ctx.Done()
			close(canceled)
		}
		return ctx.Err()
	}}, every(t, 10*time.Millisecond)))
	s.Start(context.Background())
	eventually(t, func() bool { return runs.Load() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	<-canceled

	after := runs.Load()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, after, runs.Load())
}

func TestDisabledSchedulerDoesNotFire(t *testing.T) {
	s := newScheduler(t, Config{Enabled: false})
	var runs atomic.Int32
	require.NoError(t, s.Register(task.Func{TaskName: "x", Fn: func(context.Context) error { runs.Add(1); return nil }}, every(t, 5*time.Millisecond)))
	s.Start(context.Background())
	time.Sleep(40 * time.Millisecond)
	require.Zero(t, runs.Load())
}

func TestOverrideReplacesPolicy(t *testing.T) {
	override := every(t, 15*time.Millisecond)
	s := newScheduler(t, Config{Enabled: true, Overrides: map[string]Policy{"fs": override}})

	var runs atomic.Int32
	require.NoError(t, s.Register(task.Func{TaskName: "fs", Fn: func(context.Context) error { runs.Add(1); return nil }}, every(t, time.Hour)))
	require.Equal(t, "every 15ms", s.Snapshot().Schedules[0].Policy)

	s.Start(context.Background())
	eventually(t, func() bool { return runs.Load() >= 2 })
}
