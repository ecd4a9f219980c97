package process

import (
	"context"
	"errors"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "escar/pkg/logx"
	"escar/pkg/systemdmanager"
)

func lookPath(t *testing.T, name string) string {
	t.Helper()
	p, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
	return p
}

func newTestSupervisor(cfg Config, opts ...Option) *Supervisor {
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = 200 * time.Millisecond
	}
	s := NewSupervisor(cfg, logx.Nop(), opts...)
	s.isRoot = func() bool { return true }
	return s
}

func TestBuildArgv(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		command string
		root    bool
		want    []string
	}{
		{"root", "/usr/bin/es  -d ", true, []string{"/usr/bin/es", "-d"}},
		{"non-root gets sudo", "/usr/bin/es -d", false, []string{"/usr/bin/sudo", "-n", "-E", "/usr/bin/es", "-d"}},
		{"blank tokens skipped", "  a \t b  ", true, []string{"a", "b"}},
		{"empty", "   ", false, nil},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, BuildArgv(tt.command, tt.root), tt.name)
	}
}

func TestOutputBufferIsBounded(t *testing.T) {
	t.Parallel()
	var b outputBuffer
	chunk := strings.Repeat("x", 1000)
	for i := 0; i < 100; i++ {
		n, err := b.Write([]byte(chunk))
		require.NoError(t, err)
		require.Equal(t, len(chunk), n)
	}
	out := b.String()
	require.True(t, strings.HasSuffix(out, "[output truncated]"))
	require.LessOrEqual(t, len(out), maxOutput+len("\n[output truncated]"))
}

func TestStartSucceedsWhenStillRunning(t *testing.T) {
	sleep := lookPath(t, "sleep")
	s := newTestSupervisor(Config{StartupCommand: sleep + " 30"})

	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.current.cmd.Process.Kill() })
	require.True(t, s.current.running())

	// A second start while the first command runs is a no-op.
	first := s.current
	require.NoError(t, s.Start(context.Background()))
	require.Same(t, first, s.current)
}

func TestStartSucceedsOnExitZero(t *testing.T) {
	s := newTestSupervisor(Config{StartupCommand: lookPath(t, "true")})
	require.NoError(t, s.Start(context.Background()))
}

func TestStartNonzeroExitCapturesOutput(t *testing.T) {
	ls := lookPath(t, "ls")
	s := newTestSupervisor(Config{StartupCommand: ls + " /definitely/not/here"})

	err := s.Start(context.Background())
	var perr *ProcessError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "start", perr.Op)
	require.NotZero(t, perr.ExitCode)
	require.Contains(t, perr.Output, "/definitely/not/here")
}

func TestStartSpawnFailure(t *testing.T) {
	s := newTestSupervisor(Config{StartupCommand: "/nonexistent/elasticsearch -d"})
	err := s.Start(context.Background())
	var perr *ProcessError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, -1, perr.ExitCode)
}

func TestEmptyCommand(t *testing.T) {
	s := newTestSupervisor(Config{})
	require.ErrorIs(t, s.Stop(context.Background()), ErrNoCommand)
}

func TestEnvironmentAndWorkingDir(t *testing.T) {
	env := lookPath(t, "env")
	s := newTestSupervisor(Config{StartupCommand: env, DataDir: "/var/lib/es-data"})
	h, err := s.run(context.Background(), "start", s.cfg.StartupCommand)
	require.NoError(t, err)
	<-h.done
	require.Contains(t, h.out.String(), "DATA_DIR=/var/lib/es-data")
	require.Equal(t, "/", h.cmd.Dir)
}

func TestStopStillRunningIsReported(t *testing.T) {
	sleep := lookPath(t, "sleep")
	s := newTestSupervisor(Config{StopCommand: sleep + " 30", GracePeriod: 50 * time.Millisecond})

	h, err := s.run(context.Background(), "stop", s.cfg.StopCommand)
	t.Cleanup(func() { _ = h.cmd.Process.Kill() })
	require.ErrorIs(t, err, ErrStillRunning)
}

func TestStopNonzeroExit(t *testing.T) {
	s := newTestSupervisor(Config{StopCommand: lookPath(t, "false")})
	err := s.Stop(context.Background())
	var perr *ProcessError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "stop", perr.Op)
	require.Equal(t, 1, perr.ExitCode)
}

func TestTCPProbeAndRefresh(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	s := newTestSupervisor(Config{}, WithProbe(TCPProbe{Address: addr, Timeout: time.Second}))
	require.False(t, s.IsLive())
	require.True(t, s.Refresh(context.Background()))
	require.True(t, s.IsLive())
	require.False(t, s.LastProbe().IsZero())

	require.NoError(t, ln.Close())
	require.False(t, s.Refresh(context.Background()))
	require.False(t, s.IsLive())
}

type fakeUnits struct {
	status *systemdmanager.UnitStatus
	err    error
}

func (f fakeUnits) StatusContext(context.Context, string) (*systemdmanager.UnitStatus, error) {
	return f.status, f.err
}

func TestSystemdProbe(t *testing.T) {
	t.Parallel()
	ok, err := SystemdProbe{Manager: fakeUnits{status: &systemdmanager.UnitStatus{Active: "active"}}, Unit: "elasticsearch"}.Check(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = SystemdProbe{Manager: fakeUnits{status: &systemdmanager.UnitStatus{Active: "failed"}}}.Check(context.Background())
	require.NoError(t, err)
	require.False(t, ok)

	_, err = SystemdProbe{Manager: fakeUnits{err: errors.New("bus down")}}.Check(context.Background())
	require.Error(t, err)
}

type stubProbe struct{ live bool }

func (p *stubProbe) Check(context.Context) (bool, error) { return p.live, nil }

func TestMonitorTaskAutoStart(t *testing.T) {
	probe := &stubProbe{}
	s := newTestSupervisor(Config{StartupCommand: lookPath(t, "true")}, WithProbe(probe))
	task := &MonitorTask{Supervisor: s, AutoStart: true, Log: logx.Nop()}

	require.NoError(t, task.Execute(context.Background()))
	require.NotNil(t, s.current, "auto-start should run the startup command")

	s.current = nil
	probe.live = true
	require.NoError(t, task.Execute(context.Background()))
	require.Nil(t, s.current, "live server must not be started")
	require.True(t, s.IsLive())
}

func TestMonitorTaskWithoutAutoStart(t *testing.T) {
	s := newTestSupervisor(Config{StartupCommand: "/nonexistent"}, WithProbe(&stubProbe{}))
	task := &MonitorTask{Supervisor: s, Log: logx.Nop()}
	require.NoError(t, task.Execute(context.Background()))
	require.Nil(t, s.current)
}

func TestWatchdogTask(t *testing.T) {
	t.Parallel()
	calls := 0
	task := &WatchdogTask{notify: func() (bool, error) { calls++; return true, nil }}
	require.NoError(t, task.Execute(context.Background()))
	require.Equal(t, 1, calls)
	require.Equal(t, "systemd-watchdog", task.Name())
}
