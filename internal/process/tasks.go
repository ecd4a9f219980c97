package process

import (
	"context"

	logx "escar/pkg/logx"
	"escar/pkg/systemdmanager"
)

// MonitorTask refreshes the cached liveness and, when AutoStart is set,
// starts the server if the probe reports it down.
type MonitorTask struct {
	Supervisor *Supervisor
	AutoStart  bool
	Log        logx.Logger
}

func (t *MonitorTask) Name() string { return "process-monitor" }

func (t *MonitorTask) Execute(ctx context.Context) error {
	if t.Supervisor.Refresh(ctx) || !t.AutoStart {
		return nil
	}
	t.Log.Info("server is down; starting")
	if err := t.Supervisor.Start(ctx); err != nil {
		return err
	}
	t.Supervisor.Refresh(ctx)
	return nil
}

// WatchdogTask pings the systemd watchdog of the sidecar's own unit.
type WatchdogTask struct {
	notify func() (bool, error)
}

func NewWatchdogTask() *WatchdogTask { return &WatchdogTask{notify: systemdmanager.NotifyWatchdog} }

func (t *WatchdogTask) Name() string { return "systemd-watchdog" }

func (t *WatchdogTask) Execute(context.Context) error {
	_, err := t.notify()
	return err
}
