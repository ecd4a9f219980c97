package app

import (
	"time"

	"escar/internal/backup"
	"escar/internal/monitoring"
	"escar/internal/process"
	"escar/internal/task"
	"escar/internal/task/scheduler"
)

// taskSet is everything the sidecar schedules. Nil tasks are not registered.
type taskSet struct {
	monitor       *process.MonitorTask
	probeInterval time.Duration
	// monitorTimeout covers a probe plus an auto-start grace period.
	monitorTimeout time.Duration

	fsStats    *monitoring.FsStatsTask
	fsInterval time.Duration

	snapshot   *backup.SnapshotTask
	backupHour int

	watchdog      *process.WatchdogTask
	watchdogEvery time.Duration
}

// monitorBudget bounds one process-monitor run: a probe, an auto-start
// grace period and the follow-up probe.
func monitorBudget(probeTimeout, grace time.Duration) time.Duration {
	return 2*probeTimeout + grace + time.Second
}

type registration struct {
	task   task.Task
	policy func() (scheduler.Policy, error)
	opts   []scheduler.RegisterOption
}

func (ts taskSet) registrations() []registration {
	var regs []registration
	if ts.monitor != nil {
		regs = append(regs, registration{
			task:   ts.monitor,
			policy: func() (scheduler.Policy, error) { return scheduler.Interval(ts.probeInterval) },
			opts:   []scheduler.RegisterOption{scheduler.WithTimeout(ts.monitorTimeout)},
		})
	}
	if ts.fsStats != nil {
		regs = append(regs, registration{
			task:   ts.fsStats,
			policy: func() (scheduler.Policy, error) { return scheduler.Interval(ts.fsInterval) },
			opts:   []scheduler.RegisterOption{scheduler.WithTimeout(ts.fsInterval)},
		})
	}
	if ts.snapshot != nil {
		regs = append(regs, registration{
			task:   ts.snapshot,
			policy: func() (scheduler.Policy, error) { return scheduler.DailyAt(ts.backupHour) },
		})
	}
	if ts.watchdog != nil {
		regs = append(regs, registration{
			task:   ts.watchdog,
			policy: func() (scheduler.Policy, error) { return scheduler.Interval(ts.watchdogEvery) },
		})
	}
	return regs
}

func registerTasks(s *scheduler.Service, ts taskSet) error {
	for _, r := range ts.registrations() {
		p, err := r.policy()
		if err != nil {
			return err
		}
		if err := s.Register(r.task, p, r.opts...); err != nil {
			return err
		}
	}
	return nil
}
