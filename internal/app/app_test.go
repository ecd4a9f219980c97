package app

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"escar/internal/backup"
	"escar/internal/config"
	"escar/internal/eventbus"
	"escar/internal/monitoring"
	"escar/internal/process"
	"escar/internal/storage"
	"escar/internal/task/engine"
	"escar/internal/task/scheduler"
	logx "escar/pkg/logx"
)

func baseConfig() *config.Config {
	return &config.Config{
		Scheduler: config.SchedulerConfig{Enabled: true},
		Server: config.ServerConfig{
			StartupCommand: "/usr/share/elasticsearch/bin/elasticsearch -d",
			Probe:          config.ProbeConfig{Kind: "tcp", Address: "127.0.0.1:1"},
		},
		Backup: config.BackupConfig{Enabled: true, Hour: 3, Bucket: "es-backups", Region: "us-east-1", BasePath: "prod"},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{name: "ok", mutate: func(*config.Config) {}},
		{
			name:    "bad override",
			mutate:  func(c *config.Config) { c.Scheduler.Overrides = map[string]string{"snapshot-backup": "daily:25"} },
			wantErr: "scheduler.overrides.snapshot-backup",
		},
		{
			name:    "bad timezone",
			mutate:  func(c *config.Config) { c.Scheduler.Timezone = "Mars/Olympus" },
			wantErr: "scheduler.timezone",
		},
		{
			name:    "sqlite without path",
			mutate:  func(c *config.Config) { c.Storage = &config.StorageConfig{Driver: "sqlite"} },
			wantErr: "storage.path is required",
		},
		{
			name:    "bad probe interval",
			mutate:  func(c *config.Config) { c.Server.Probe.Interval = "soon" },
			wantErr: "server.probe.interval",
		},
		{
			name:    "missing startup command",
			mutate:  func(c *config.Config) { c.Server.StartupCommand = " " },
			wantErr: "startup_command",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig()
			tc.mutate(cfg)
			err := validate(cfg)
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in      *config.StorageConfig
		want    storage.Config
		enabled bool
	}{
		{in: nil},
		{in: &config.StorageConfig{Driver: "none"}},
		{in: &config.StorageConfig{Driver: "file"}, want: storage.Config{Driver: "file", Path: "./escar_store"}, enabled: true},
		{
			in:      &config.StorageConfig{Driver: "SQLite", Path: "/var/lib/escar/ledger.db"},
			want:    storage.Config{Driver: "sqlite", Path: "/var/lib/escar/ledger.db", BusyTimeout: time.Second},
			enabled: true,
		},
	}
	for _, tc := range cases {
		cfg := baseConfig()
		cfg.Storage = tc.in
		got, enabled, err := mapStorageConfig(cfg)
		require.NoError(t, err)
		require.Equal(t, tc.enabled, enabled)
		require.Equal(t, tc.want, got)
	}
}

func TestMapProbeDefaults(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	cfg.Server.Probe = config.ProbeConfig{}
	pc, err := mapProbeConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, probeSettings{kind: "tcp", address: defaultProbeAddress, interval: defaultProbeInterval, timeout: defaultProbeTimeout}, pc)
}

type stubProbe struct{}

func (stubProbe) Check(context.Context) (bool, error) { return false, nil }

func TestRegisterTasks(t *testing.T) {
	t.Parallel()
	p, err := scheduler.ParsePolicy("2m")
	require.NoError(t, err)

	eng := engine.New(engine.Config{}, logx.Nop(), nil)
	s := scheduler.New(scheduler.Config{
		Enabled:   true,
		Overrides: map[string]scheduler.Policy{"fs-stats-monitor": p},
	}, eng, logx.Nop())

	proc := process.NewSupervisor(process.Config{StartupCommand: "true"}, logx.Nop(), process.WithProbe(stubProbe{}))
	mgr := backup.NewManager(backup.Config{Bucket: "b"}, nil, logx.Nop())
	ts := taskSet{
		monitor:        &process.MonitorTask{Supervisor: proc, Log: logx.Nop()},
		probeInterval:  10 * time.Second,
		monitorTimeout: 8 * time.Second,
		fsStats:        monitoring.NewFsStatsTask(nil, proc, &monitoring.Cell{}, logx.Nop()),
		fsInterval:     time.Minute,
		snapshot:       backup.NewSnapshotTask(mgr, proc, nil, nil),
		backupHour:     3,
	}
	require.NoError(t, registerTasks(s, ts))

	got := map[string]scheduler.ScheduleInfo{}
	for _, si := range s.Snapshot().Schedules {
		got[si.Name] = si
	}
	require.Len(t, got, 3)
	require.Equal(t, "every 10s", got["process-monitor"].Policy)
	require.Equal(t, 8*time.Second, got["process-monitor"].Timeout)
	require.Equal(t, "every 2m0s", got["fs-stats-monitor"].Policy)
	require.Equal(t, "daily 03:00 UTC", got["snapshot-backup"].Policy)

	// Names are unique, so wiring the same set twice fails.
	require.ErrorIs(t, registerTasks(s, ts), scheduler.ErrDuplicateTask)
}

func TestRegisterTasksRejectsBadHour(t *testing.T) {
	t.Parallel()
	s := scheduler.New(scheduler.Config{}, engine.New(engine.Config{}, logx.Nop(), nil), logx.Nop())
	mgr := backup.NewManager(backup.Config{Bucket: "b"}, nil, logx.Nop())
	err := registerTasks(s, taskSet{snapshot: backup.NewSnapshotTask(mgr, nil, nil, nil), backupHour: 24})
	require.Error(t, err)
}

func TestRecordEvent(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "ledger")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	started := time.Date(2014, 4, 10, 3, 0, 0, 0, time.UTC)

	require.NoError(t, recordEvent(ctx, eventbus.Event{
		Type: eventbus.TaskFinished,
		Data: engine.TaskEvent{ID: "r1", Name: "fs-stats-monitor", Trigger: "schedule", Started: started, Duration: time.Second},
	}, st))
	require.NoError(t, recordEvent(ctx, eventbus.Event{
		Type: eventbus.BackupCreated,
		Data: backup.Record{Repository: "20140410", Snapshot: "snapshot_201404100300", Started: started, Status: backup.StatusCompleted},
	}, st))
	// Unknown types and foreign payloads are ignored.
	require.NoError(t, recordEvent(ctx, eventbus.Event{Type: eventbus.TaskStarted, Data: engine.TaskEvent{Name: "x"}}, st))
	require.NoError(t, recordEvent(ctx, eventbus.Event{Type: eventbus.TaskFinished, Data: "garbage"}, st))

	runs, err := st.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "fs-stats-monitor", runs[0].Task)
	require.Equal(t, "r1", runs[0].RunID)

	backups, err := st.RecentBackups(ctx, 10)
	require.NoError(t, err)
	require.Len(t, backups, 1)
	require.Equal(t, "snapshot_201404100300", backups[0].Snapshot)
	require.Equal(t, backup.StatusCompleted, backups[0].Status)
}

func TestRecordEventsStopsOnClose(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "ledger")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		recordEvents(context.Background(), events, st, logx.Nop())
	}()

	bus.Publish(eventbus.Event{Type: eventbus.TaskFinished, Data: engine.TaskEvent{ID: "a", Name: "process-monitor"}})
	require.Eventually(t, func() bool {
		runs, err := st.RecentRuns(context.Background(), -1)
		return err == nil && len(runs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	unsub()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("recordEvents did not return after unsubscribe")
	}
}

const lifecycleYAML = `
logging:
  level: error
scheduler:
  enabled: true
server:
  startup_command: /bin/true
  grace_period: 100ms
  probe:
    kind: tcp
    address: 127.0.0.1:1
    timeout: 200ms
backup:
  enabled: true
  hour: 3
  bucket: es-backups
  region: us-east-1
  base_path: prod
metrics:
  enabled: false
`

type notifications struct {
	mu     sync.Mutex
	states []string
}

func (n *notifications) notify(state string) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.states = append(n.states, state)
	return true, nil
}

func (n *notifications) get() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.states...)
}

func TestAppLifecycle(t *testing.T) {
	dir := t.TempDir()
	body := lifecycleYAML + "storage:\n  driver: file\n  path: " + filepath.Join(dir, "ledger") + "\n"
	path := filepath.Join(dir, "escar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	ctx := context.Background()
	a, err := New(ctx, path)
	require.NoError(t, err)
	n := &notifications{}
	a.notify = n.notify

	require.NoError(t, a.Start(ctx))
	require.Equal(t, []string{"READY=1"}, n.get())

	// The initial process-monitor run lands in the ledger.
	require.Eventually(t, func() bool {
		runs, err := a.store.RecentRuns(ctx, -1)
		if err != nil {
			return false
		}
		for _, r := range runs {
			if r.Task == "process-monitor" {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	ok, detail := a.health()
	require.True(t, ok)
	require.Equal(t, false, detail.(map[string]any)["server_live"])

	stopCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(stopCtx, StopSignal))
	require.Equal(t, []string{"READY=1", "STOPPING=1"}, n.get())

	select {
	case <-a.Done():
	default:
		t.Fatal("Done should be closed after Stop")
	}
	require.Nil(t, a.store)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "escar.yaml")
	bad := strings.Replace(lifecycleYAML, "hour: 3", "hour: 30", 1)
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o644))

	_, err := New(context.Background(), path)
	require.Error(t, err)
	require.True(t, errors.Is(err, config.ErrInvalid), "err = %v", err)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "escar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestStopRunsServerStopCommand(t *testing.T) {
	touch, err := exec.LookPath("touch")
	if err != nil {
		t.Skipf("touch not available: %v", err)
	}
	marker := filepath.Join(t.TempDir(), "stopped")
	body := strings.Replace(lifecycleYAML, "  grace_period: 100ms\n",
		"  grace_period: 100ms\n  stop_on_exit: true\n  sudo: never\n  stop_command: "+touch+" "+marker+"\n", 1)

	ctx := context.Background()
	a, err := New(ctx, writeConfig(t, body))
	require.NoError(t, err)
	a.notify = (&notifications{}).notify
	require.NoError(t, a.Start(ctx))

	stopCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(stopCtx, StopSignal))

	_, err = os.Stat(marker)
	require.NoError(t, err, "stop command did not run")
}

func TestStopIgnoresFailingServerStopCommand(t *testing.T) {
	falseBin, err := exec.LookPath("false")
	if err != nil {
		t.Skipf("false not available: %v", err)
	}
	body := strings.Replace(lifecycleYAML, "  grace_period: 100ms\n",
		"  grace_period: 100ms\n  stop_on_exit: true\n  sudo: never\n  stop_command: "+falseBin+"\n", 1)

	ctx := context.Background()
	a, err := New(ctx, writeConfig(t, body))
	require.NoError(t, err)
	a.notify = (&notifications{}).notify
	require.NoError(t, a.Start(ctx))

	stopCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(stopCtx, StopSignal))
}

func TestStopOnExitNeedsStopCommand(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	cfg.Server.StopOnExit = true
	require.ErrorContains(t, validate(cfg), "server.stop_command is required")

	cfg.Server.StopCommand = "/usr/bin/pkill -f elasticsearch"
	require.NoError(t, validate(cfg))

	cfg.Server.Sudo = "sometimes"
	require.ErrorContains(t, validate(cfg), "server.sudo")
}

func TestLedgerDetail(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "ledger")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	a := &App{store: st, log: logx.Nop()}
	ctx := context.Background()

	detail := map[string]any{}
	a.ledgerDetail(ctx, detail)
	require.Empty(t, detail)

	started := time.Date(2014, 4, 10, 3, 0, 0, 0, time.UTC)
	require.NoError(t, st.AppendRun(ctx, storage.RunEntry{Task: "fs-stats-monitor", RunID: "1", Started: started, Error: "boom"}))
	require.NoError(t, st.AppendRun(ctx, storage.RunEntry{Task: "process-monitor", RunID: "2", Started: started.Add(time.Minute)}))
	require.NoError(t, st.AppendBackup(ctx, storage.BackupRecord{Repository: "20140409", Snapshot: "snapshot_201404090300", Status: backup.StatusCompleted}))
	require.NoError(t, st.AppendBackup(ctx, storage.BackupRecord{
		Repository: "20140410", Snapshot: "snapshot_201404100300", Started: started,
		Status: backup.StatusFailed, Error: "PARTIAL",
	}))

	a.ledgerDetail(ctx, detail)
	last, ok := detail["last_backup"].(map[string]any)
	require.True(t, ok, "detail = %v", detail)
	require.Equal(t, "snapshot_201404100300", last["snapshot"])
	require.Equal(t, backup.StatusFailed, last["status"])
	require.Equal(t, "PARTIAL", last["error"])

	failed, ok := detail["last_failed_run"].(map[string]any)
	require.True(t, ok, "detail = %v", detail)
	require.Equal(t, "fs-stats-monitor", failed["task"])
	require.Equal(t, "boom", failed["error"])
}

func TestMonitorBudgetCoversTwoProbes(t *testing.T) {
	t.Parallel()
	got := monitorBudget(2*time.Second, 5*time.Second)
	require.GreaterOrEqual(t, got, 2*2*time.Second+5*time.Second)
}
