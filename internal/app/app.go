// Package app wires the sidecar together: config, logging, the Elasticsearch
// client, the process supervisor, scheduled tasks, the run ledger and the
// observability server.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"escar/internal/backup"
	"escar/internal/config"
	"escar/internal/elastic"
	"escar/internal/eventbus"
	"escar/internal/monitoring"
	"escar/internal/observability"
	"escar/internal/process"
	rtsup "escar/internal/runtime/supervisor"
	"escar/internal/storage"
	"escar/internal/task/engine"
	"escar/internal/task/scheduler"
	logx "escar/pkg/logx"
	"escar/pkg/systemdmanager"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	es     *elastic.Client
	proc   *process.Supervisor
	units  *systemdmanager.ServiceManager
	backup *backup.Manager
	cell   *monitoring.Cell

	// stopOnExit runs the server's stop command during Stop.
	stopOnExit bool

	engine *engine.Service
	sched  *scheduler.Service
	obs    *observability.Service

	notify func(state string) (bool, error)
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{
		cfgm:   cfgm,
		log:    log,
		logs:   logSvc,
		bus:    eventbus.New(),
		cell:   &monitoring.Cell{},
		notify: systemdmanager.Notify,
	}
	if err := a.build(ctx, cfg); err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config) error {
	root := a.logs.Logger()

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return err
	} else if enabled {
		st, err := storage.Open(sc, root)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	esCfg, err := mapElasticConfig(cfg)
	if err != nil {
		return err
	}
	if a.es, err = elastic.New(esCfg, root.With(logx.String("comp", "elastic"))); err != nil {
		return err
	}

	procCfg, err := mapProcessConfig(cfg)
	if err != nil {
		return err
	}
	probeCfg, err := mapProbeConfig(cfg)
	if err != nil {
		return err
	}
	a.proc = process.NewSupervisor(procCfg, root.With(logx.String("comp", "process")), process.WithProbe(a.probe(ctx, probeCfg)))
	a.stopOnExit = cfg.Server.StopOnExit

	a.backup = backup.NewManager(mapBackupConfig(cfg), a.es, root)

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return err
	}
	a.engine = engine.New(engCfg, root.With(logx.String("comp", "taskengine")), a.bus)

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return err
	}
	a.sched = scheduler.New(schedCfg, a.engine, root.With(logx.String("comp", "scheduler")))

	ts, err := a.tasks(ctx, cfg, probeCfg, procCfg)
	if err != nil {
		return err
	}
	if err := registerTasks(a.sched, ts); err != nil {
		return err
	}

	reg, err := observability.NewRegistry(
		monitoring.NewCollector(a.cell),
		observability.NewSchedulerCollector(a.sched.Snapshot),
	)
	if err != nil {
		return err
	}
	a.obs = observability.New(mapObservabilityConfig(cfg), reg, a.health, root)
	return nil
}

func (a *App) probe(ctx context.Context, pc probeSettings) process.Probe {
	if pc.kind == "systemd" {
		sm, err := systemdmanager.NewServiceManagerContext(ctx)
		if err == nil {
			a.units = sm
			return process.SystemdProbe{Manager: sm, Unit: pc.unit}
		}
		a.log.Warn("systemd probe unavailable; falling back to tcp", logx.String("unit", pc.unit), logx.Err(err))
	}
	return process.TCPProbe{Address: pc.address, Timeout: pc.timeout}
}

func (a *App) tasks(ctx context.Context, cfg *config.Config, pc probeSettings, procCfg process.Config) (taskSet, error) {
	fsInterval, err := mapFsStatsInterval(cfg)
	if err != nil {
		return taskSet{}, err
	}
	ts := taskSet{
		monitor: &process.MonitorTask{
			Supervisor: a.proc,
			AutoStart:  cfg.Server.AutoStart,
			Log:        a.logs.Logger().With(logx.String("comp", "process-monitor")),
		},
		probeInterval:  pc.interval,
		monitorTimeout: monitorBudget(pc.timeout, procCfg.GracePeriod),
		fsStats:        monitoring.NewFsStatsTask(a.es, a.proc, a.cell, a.logs.Logger()),
		fsInterval:     fsInterval,
	}

	if cfg.Backup.Enabled {
		var checker backup.BucketChecker
		if cfg.Backup.VerifyBucket {
			c, err := backup.NewS3BucketChecker(ctx, cfg.Backup.Region)
			if err != nil {
				a.log.Warn("bucket preflight disabled", logx.Err(err))
			} else {
				checker = c
			}
		}
		ts.snapshot = backup.NewSnapshotTask(a.backup, a.proc, checker, a.bus)
		ts.backupHour = cfg.Backup.Hour
	}

	if wd := systemdmanager.WatchdogInterval(); wd > 0 {
		ts.watchdog = process.NewWatchdogTask()
		ts.watchdogEvery = wd
	}
	return ts, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.proc.Refresh(runCtx)
	a.sched.Start(runCtx)
	a.obs.Start(runCtx)

	if a.store != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("ledger", func(c context.Context) {
			defer unsub()
			recordEvents(c, events, a.store, a.log.With(logx.String("comp", "ledger")))
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	// First liveness check and auto-start happen now, not one interval in.
	if err := a.sched.RunNow("process-monitor"); err != nil {
		a.log.Debug("initial process monitor run not started", logx.Err(err))
	}

	if sent, err := a.notify("READY=1"); err != nil {
		a.log.Warn("sd_notify READY failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify READY sent")
	}
	a.log.Info("app started", logx.String("config", a.cfgm.Path()))
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLoggingConfig(next))
	a.obs.Reconfigure(ctx, mapObservabilityConfig(next))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	if len(restart) > 0 {
		a.log.Warn("config sections changed that take effect after restart", logx.Strs("sections", restart))
	}
}

func (a *App) health() (bool, any) {
	snap := a.sched.Snapshot()
	stats := a.cell.Load()
	detail := map[string]any{
		"server_live":     a.proc.IsLive(),
		"last_probe":      a.proc.LastProbe(),
		"tasks_started":   snap.Started,
		"tasks_failed":    snap.Failed,
		"tasks_in_flight": snap.InFlight,
		"fs_collected_at": stats.CollectedAt,
	}
	if a.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), healthLedgerTimeout)
		defer cancel()
		a.ledgerDetail(ctx, detail)
	}
	ok := a.sup != nil && a.sup.Context().Err() == nil
	return ok, detail
}

const (
	healthLedgerTimeout = 500 * time.Millisecond
	// healthRunWindow is how many recent runs /healthz scans for a failure.
	healthRunWindow = 50
)

// ledgerDetail adds the newest backup attempt and the latest failed run.
// Ledger read errors only cost the extra fields.
func (a *App) ledgerDetail(ctx context.Context, detail map[string]any) {
	if backups, err := a.store.RecentBackups(ctx, 1); err != nil {
		a.log.Debug("ledger read failed", logx.Err(err))
	} else if len(backups) > 0 {
		b := backups[0]
		detail["last_backup"] = map[string]any{
			"repository": b.Repository,
			"snapshot":   b.Snapshot,
			"started":    b.Started,
			"status":     b.Status,
			"error":      b.Error,
		}
	}

	runs, err := a.store.RecentRuns(ctx, healthRunWindow)
	if err != nil {
		a.log.Debug("ledger read failed", logx.Err(err))
		return
	}
	for _, r := range runs {
		if r.Error != "" {
			detail["last_failed_run"] = map[string]any{
				"task":    r.Task,
				"started": r.Started,
				"error":   r.Error,
			}
			return
		}
	}
}

// Restore registers the restore repository and restores a snapshot. It
// needs no running scheduler.
func (a *App) Restore(ctx context.Context, req backup.RestoreRequest) error {
	return a.backup.Restore(ctx, req)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources()
		return a.logs.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := a.notify("STOPPING=1"); err != nil {
		a.log.Debug("sd_notify STOPPING failed", logx.Err(err))
	}

	a.sup.Cancel()

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("scheduler", 10*time.Second, a.sched.Stop)
	if a.stopOnExit {
		// Best-effort: a failed stop command is logged, not returned.
		step("server", a.proc.GracePeriod()+2*time.Second, func(c context.Context) error {
			if err := a.proc.Stop(c); err != nil {
				a.log.Warn("server stop command failed", logx.Err(err))
			}
			return nil
		})
	}
	step("observability", time.Second, func(c context.Context) error { a.obs.Stop(c); return nil })
	step("supervisor", 2*time.Second, a.sup.Wait)
	a.closeResources()

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	if err := errors.Join(errs...); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) closeResources() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
		a.store = nil
	}
	if a.units != nil {
		_ = a.units.Close()
		a.units = nil
	}
}
