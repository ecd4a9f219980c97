package systemdmanager

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notify sends state to the service manager. It reports false (and no error)
// when the process isn't running under systemd with NOTIFY_SOCKET set.
func Notify(state string) (bool, error) {
	return daemon.SdNotify(false, state)
}

func NotifyReady() (bool, error)    { return Notify(daemon.SdNotifyReady) }
func NotifyStopping() (bool, error) { return Notify(daemon.SdNotifyStopping) }
func NotifyWatchdog() (bool, error) { return Notify(daemon.SdNotifyWatchdog) }

// WatchdogInterval returns the recommended ping interval (half of
// WATCHDOG_USEC), or 0 when the unit has no watchdog configured.
func WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0
	}
	return d / 2
}
