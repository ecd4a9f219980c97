package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"escar/internal/eventbus"
	logx "escar/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newStarted(t *testing.T, cfg Config, bus eventbus.Bus) *Service {
	t.Helper()
	s := New(cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubmitSkipsWhileRunning(t *testing.T) {
	s := newStarted(t, Config{}, nil)

	release := make(chan struct{})
	var runs atomic.Int32
	task := Task{Name: "slow", Run: func(ctx context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}}

	require.NoError(t, s.Submit(task))
	waitFor(t, func() bool { return runs.Load() == 1 })

	require.ErrorIs(t, s.Submit(task), ErrOverlapSkip)

	close(release)
	waitFor(t, func() bool { return s.Snapshot().InFlight == 0 })

	require.NoError(t, s.Submit(Task{Name: "slow", Run: func(context.Context) error { runs.Add(1); return nil }}))
	waitFor(t, func() bool { return runs.Load() == 2 })
	require.Equal(t, uint64(1), s.Snapshot().Skipped)
}

func TestDifferentTasksRunConcurrently(t *testing.T) {
	s := newStarted(t, Config{}, nil)

	block := make(chan struct{})
	defer close(block)
	require.NoError(t, s.Submit(Task{Name: "a", Run: func(ctx context.Context) error { <-block; return nil }}))

	done := make(chan struct{})
	require.NoError(t, s.Submit(Task{Name: "b", Run: func(ctx context.Context) error { close(done); return nil }}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task b waited for task a")
	}
}

func TestPanicIsRecoveredAndRecorded(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	s := newStarted(t, Config{}, bus)

	require.NoError(t, s.Submit(Task{Name: "bad", Run: func(context.Context) error { panic("kaboom") }}))
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })

	h := s.Snapshot().History[0]
	require.Contains(t, h.Error, "kaboom")
	require.Equal(t, uint64(1), s.Snapshot().Failed)

	var finished *TaskEvent
	for finished == nil {
		select {
		case ev := <-events:
			if ev.Type == eventbus.TaskFinished {
				te := ev.Data.(TaskEvent)
				finished = &te
			}
		case <-time.After(2 * time.Second):
			t.Fatal("no finished event")
		}
	}
	require.Equal(t, "bad", finished.Name)
	require.NotEmpty(t, finished.Error)

	// The gate is released after a panic.
	ran := make(chan struct{})
	require.NoError(t, s.Submit(Task{Name: "bad", Run: func(context.Context) error { close(ran); return nil }}))
	<-ran
}

func TestErrorsAreNotRetried(t *testing.T) {
	s := newStarted(t, Config{}, nil)

	var runs atomic.Int32
	require.NoError(t, s.Submit(Task{Name: "fail", Run: func(context.Context) error {
		runs.Add(1)
		return errors.New("remote down")
	}}))
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(1), runs.Load())
	require.Equal(t, "remote down", s.Snapshot().History[0].Error)
}

func TestDefaultTimeoutApplies(t *testing.T) {
	s := newStarted(t, Config{DefaultTimeout: 20 * time.Millisecond}, nil)

	require.NoError(t, s.Submit(Task{Name: "hang", Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}))
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	require.Equal(t, context.DeadlineExceeded.Error(), s.Snapshot().History[0].Error)
}

func TestStopCancelsInFlightAndRejectsNew(t *testing.T) {
	s := New(Config{}, logx.Nop(), nil)
	s.Start(context.Background())

	started := make(chan struct{})
	require.NoError(t, s.Submit(Task{Name: "loop", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.ErrorIs(t, s.Submit(Task{Name: "late", Run: func(context.Context) error { return nil }}), ErrStopped)
}

func TestHistoryIsBounded(t *testing.T) {
	s := newStarted(t, Config{HistorySize: 2}, nil)
	for i := 0; i < 4; i++ {
		require.NoError(t, s.Submit(Task{Name: "quick", Run: func(context.Context) error { return nil }}))
		n := i + 1
		waitFor(t, func() bool { return s.Snapshot().Started == uint64(n) && s.Snapshot().InFlight == 0 })
	}
	require.Len(t, s.Snapshot().History, 2)
}
