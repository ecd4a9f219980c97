package app

import (
	"fmt"
	"strings"
	"time"

	"escar/internal/backup"
	"escar/internal/config"
	"escar/internal/elastic"
	"escar/internal/observability"
	"escar/internal/process"
	"escar/internal/storage"
	"escar/internal/task/engine"
	"escar/internal/task/scheduler"
	logx "escar/pkg/logx"
)

const (
	defaultProbeInterval   = 10 * time.Second
	defaultProbeTimeout    = 2 * time.Second
	defaultProbeAddress    = "127.0.0.1:9200"
	defaultFsStatsInterval = 60 * time.Second
	defaultHistorySize     = 200

	// Floors for periodic work against the managed server.
	minProbeInterval   = time.Second
	minFsStatsInterval = time.Second
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		Format:  cfg.Logging.Format,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{HistorySize: defaultHistorySize}
	if cfg.TaskEngine == nil {
		return out, nil
	}
	d, err := config.ParseDurationField("task_engine.default_timeout", cfg.TaskEngine.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	out.DefaultTimeout = d
	if cfg.TaskEngine.HistorySize > 0 {
		out.HistorySize = cfg.TaskEngine.HistorySize
	}
	return out, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	out := scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: strings.TrimSpace(cfg.Scheduler.Timezone),
	}
	if out.Timezone != "" {
		if _, err := time.LoadLocation(out.Timezone); err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", out.Timezone, err)
		}
	}
	if len(cfg.Scheduler.Overrides) > 0 {
		out.Overrides = make(map[string]scheduler.Policy, len(cfg.Scheduler.Overrides))
		for name, raw := range cfg.Scheduler.Overrides {
			p, err := scheduler.ParsePolicy(raw)
			if err != nil {
				return scheduler.Config{}, fmt.Errorf("scheduler.overrides.%s: %w", name, err)
			}
			out.Overrides[name] = p
		}
	}
	return out, nil
}

func mapProcessConfig(cfg *config.Config) (process.Config, error) {
	grace, err := config.ParseDurationOrDefault("server.grace_period", cfg.Server.GracePeriod, process.DefaultGracePeriod)
	if err != nil {
		return process.Config{}, err
	}
	return process.Config{
		StartupCommand: cfg.Server.StartupCommand,
		StopCommand:    cfg.Server.StopCommand,
		DataDir:        cfg.Server.DataDir,
		GracePeriod:    grace,
		Sudo:           strings.ToLower(strings.TrimSpace(cfg.Server.Sudo)),
	}, nil
}

type probeSettings struct {
	kind     string
	address  string
	unit     string
	interval time.Duration
	timeout  time.Duration
}

func mapProbeConfig(cfg *config.Config) (probeSettings, error) {
	pc := cfg.Server.Probe
	interval, err := config.ParseDurationAtLeast("server.probe.interval", pc.Interval, defaultProbeInterval, minProbeInterval)
	if err != nil {
		return probeSettings{}, err
	}
	timeout, err := config.ParseDurationOrDefault("server.probe.timeout", pc.Timeout, defaultProbeTimeout)
	if err != nil {
		return probeSettings{}, err
	}
	kind := strings.ToLower(strings.TrimSpace(pc.Kind))
	if kind == "" {
		kind = "tcp"
	}
	addr := strings.TrimSpace(pc.Address)
	if addr == "" {
		addr = defaultProbeAddress
	}
	return probeSettings{kind: kind, address: addr, unit: strings.TrimSpace(pc.Unit), interval: interval, timeout: timeout}, nil
}

func mapElasticConfig(cfg *config.Config) (elastic.Config, error) {
	timeout, err := config.ParseDurationField("elasticsearch.request_timeout", cfg.Elasticsearch.RequestTimeout)
	if err != nil {
		return elastic.Config{}, err
	}
	return elastic.Config{
		Addresses:      cfg.Elasticsearch.Addresses,
		Username:       cfg.Elasticsearch.Username,
		Password:       cfg.Elasticsearch.Password,
		RatePerSec:     cfg.Elasticsearch.RatePerSec,
		RequestTimeout: timeout,
	}, nil
}

func mapBackupConfig(cfg *config.Config) backup.Config {
	b := cfg.Backup
	return backup.Config{
		Type:            b.Type,
		Bucket:          b.Bucket,
		Region:          b.Region,
		BasePath:        b.BasePath,
		RestoreBasePath: b.RestoreBasePath,
		Options: backup.Options{
			Compress:             b.Compress,
			ServerSideEncryption: b.ServerSideEncryption,
			ChunkSize:            b.ChunkSize,
			MaxRetries:           b.MaxRetries,
		},
		Indices:            b.Indices,
		IgnoreUnavailable:  b.IgnoreUnavailable,
		IncludeGlobalState: b.IncludeGlobalState,
		WaitForCompletion:  b.WaitForCompletion,
		IncludeIndexName:   b.IncludeIndexName,
		VerifyBucket:       b.VerifyBucket,
	}
}

func mapFsStatsInterval(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationAtLeast("monitoring.fs_stats_interval", cfg.Monitoring.FsStatsInterval, defaultFsStatsInterval, minFsStatsInterval)
}

func mapObservabilityConfig(cfg *config.Config) observability.Config {
	return observability.Config{
		Enabled:      cfg.Metrics.Enabled,
		Addr:         cfg.Metrics.Addr,
		MetricsPath:  cfg.Metrics.Path,
		Pprof:        cfg.Metrics.Pprof,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		if path == "" {
			path = "./escar_store"
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// validate is the reload validator: the config package's checks plus every
// mapping the app performs, so a bad hot-reload is rejected before commit.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapTaskEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapProcessConfig(cfg); err != nil {
		return err
	}
	if _, err := mapProbeConfig(cfg); err != nil {
		return err
	}
	if _, err := mapElasticConfig(cfg); err != nil {
		return err
	}
	if _, err := mapFsStatsInterval(cfg); err != nil {
		return err
	}
	_, _, err := mapStorageConfig(cfg)
	return err
}
