package config

import (
	"reflect"
	"sort"
	"strings"

	logx "escar/pkg/logx"
)

// hotSections can be applied without restarting the sidecar.
var hotSections = map[string]bool{"logging": true, "metrics": true}

// SummarizeConfigChange returns (1) a sorted list of changed sections,
// (2) safe structured attrs for logging (never includes passwords), and
// (3) the changed sections that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.String("logging.format", newCfg.Logging.Format),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	oTE, nTE := derefTaskEngine(oldCfg.TaskEngine), derefTaskEngine(newCfg.TaskEngine)
	if (oldCfg.TaskEngine != nil) != (newCfg.TaskEngine != nil) || oTE != nTE {
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.String("task_engine.default_timeout", strings.TrimSpace(nTE.DefaultTimeout)),
			logx.Int("task_engine.history_size", nTE.HistorySize),
		)
	}

	if !reflect.DeepEqual(oldCfg.Server, newCfg.Server) {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.probe_kind", newCfg.Server.Probe.Kind),
			logx.String("server.grace_period", newCfg.Server.GracePeriod),
			logx.Bool("server.auto_start", newCfg.Server.AutoStart),
		)
	}

	// Elasticsearch (never log the password)
	oES, nES := oldCfg.Elasticsearch, newCfg.Elasticsearch
	if !reflect.DeepEqual(oES.Addresses, nES.Addresses) ||
		oES.Username != nES.Username ||
		oES.Password != nES.Password ||
		oES.RatePerSec != nES.RatePerSec ||
		strings.TrimSpace(oES.RequestTimeout) != strings.TrimSpace(nES.RequestTimeout) {
		changed = append(changed, "elasticsearch")
		attrs = append(attrs,
			logx.Int("elasticsearch.address_count", len(nES.Addresses)),
			logx.Bool("elasticsearch.auth_set", nES.Username != ""),
			logx.Float64("elasticsearch.rate_per_sec", nES.RatePerSec),
		)
	}

	if oldCfg.Backup != newCfg.Backup {
		changed = append(changed, "backup")
		attrs = append(attrs,
			logx.Bool("backup.enabled", newCfg.Backup.Enabled),
			logx.Int("backup.hour", newCfg.Backup.Hour),
			logx.String("backup.type", newCfg.Backup.Type),
			logx.String("backup.bucket", newCfg.Backup.Bucket),
		)
	}

	if oldCfg.Monitoring != newCfg.Monitoring {
		changed = append(changed, "monitoring")
		attrs = append(attrs, logx.String("monitoring.fs_stats_interval", newCfg.Monitoring.FsStatsInterval))
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(newCfg.Metrics.Addr)),
			logx.Bool("metrics.pprof", newCfg.Metrics.Pprof),
		)
	}

	// Storage: nil means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	sort.Strings(changed)
	restart := make([]string, 0, len(changed))
	for _, s := range changed {
		if !hotSections[s] {
			restart = append(restart, s)
		}
	}
	return changed, attrs, restart
}

func derefTaskEngine(te *TaskEngineConfig) TaskEngineConfig {
	if te == nil {
		return TaskEngineConfig{}
	}
	return *te
}
