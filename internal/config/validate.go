package config

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalid = errors.New("invalid config")

// Validate checks the fields the sidecar cannot run without and every
// duration string. It returns all problems joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "", "console", "json":
	default:
		bad("logging.format %q (want console or json)", cfg.Logging.Format)
	}

	if strings.TrimSpace(cfg.Server.StartupCommand) == "" {
		bad("server.startup_command is required")
	}
	if cfg.Server.StopOnExit && strings.TrimSpace(cfg.Server.StopCommand) == "" {
		bad("server.stop_command is required when server.stop_on_exit is set")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Server.Sudo)) {
	case "", "auto", "always", "never":
	default:
		bad("server.sudo %q (want auto, always or never)", cfg.Server.Sudo)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Server.Probe.Kind)) {
	case "", "tcp":
	case "systemd":
		if strings.TrimSpace(cfg.Server.Probe.Unit) == "" {
			bad("server.probe.unit is required for kind systemd")
		}
	default:
		bad("server.probe.kind %q (want tcp or systemd)", cfg.Server.Probe.Kind)
	}

	if cfg.Backup.Enabled {
		if cfg.Backup.Hour < 0 || cfg.Backup.Hour > 23 {
			bad("backup.hour %d out of range 0-23", cfg.Backup.Hour)
		}
		switch strings.ToLower(strings.TrimSpace(cfg.Backup.Type)) {
		case "", "s3", "gcs", "azure":
			if strings.TrimSpace(cfg.Backup.Bucket) == "" {
				bad("backup.bucket is required")
			}
		case "fs":
		default:
			bad("backup.type %q (want s3, fs, gcs or azure)", cfg.Backup.Type)
		}
		if cfg.Backup.MaxRetries < 0 {
			bad("backup.max_retries must be >= 0")
		}
	}

	if cfg.Elasticsearch.RatePerSec < 0 {
		bad("elasticsearch.rate_per_sec must be >= 0")
	}
	if cfg.TaskEngine != nil && cfg.TaskEngine.HistorySize < 0 {
		bad("task_engine.history_size must be >= 0")
	}

	durations := map[string]string{
		"server.grace_period":           cfg.Server.GracePeriod,
		"server.probe.interval":         cfg.Server.Probe.Interval,
		"server.probe.timeout":          cfg.Server.Probe.Timeout,
		"elasticsearch.request_timeout": cfg.Elasticsearch.RequestTimeout,
		"monitoring.fs_stats_interval":  cfg.Monitoring.FsStatsInterval,
	}
	if cfg.TaskEngine != nil {
		durations["task_engine.default_timeout"] = cfg.TaskEngine.DefaultTimeout
	}
	if cfg.Storage != nil {
		durations["storage.busy_timeout"] = cfg.Storage.BusyTimeout
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			bad("storage.driver %q (want file or sqlite)", cfg.Storage.Driver)
		}
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
		}
	}

	return errors.Join(errs...)
}
