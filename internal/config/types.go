package config

// Config is the root of the sidecar's config file (JSON or YAML).
type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Scheduler controls trigger behavior.
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls execution settings for scheduled tasks.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Server        ServerConfig        `json:"server"`
	Elasticsearch ElasticsearchConfig `json:"elasticsearch"`
	Backup        BackupConfig        `json:"backup"`
	Monitoring    MonitoringConfig    `json:"monitoring"`
	Metrics       MetricsConfig       `json:"metrics"`
	Storage       *StorageConfig      `json:"storage,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	Format  string      `json:"format,omitempty"` // console (default) or json
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the scheduler (trigger) service.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Trigger timezone for cron expressions. Daily policies are always UTC.
	Timezone string `json:"timezone,omitempty"`

	// Overrides replaces a task's built-in schedule, keyed by task name.
	// Values use the scheduler's schedule syntax ("30s", "daily:4", "*/5 * * * *").
	Overrides map[string]string `json:"overrides,omitempty"`
}

// TaskEngineConfig controls the task execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - default_timeout: "0s" (disabled)
//   - history_size: 200
type TaskEngineConfig struct {
	// DefaultTimeout is applied to every execution when the task itself
	// doesn't declare one. Use "0s" to disable.
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// ServerConfig describes the managed Elasticsearch process.
type ServerConfig struct {
	StartupCommand string `json:"startup_command"`
	StopCommand    string `json:"stop_command"`
	DataDir        string `json:"data_dir"`

	// GracePeriod is how long start/stop wait before inspecting the
	// spawned command. Default "5s".
	GracePeriod string `json:"grace_period,omitempty"`

	Probe ProbeConfig `json:"probe"`

	// AutoStart makes the process monitor start the server when the probe
	// reports it down.
	AutoStart bool `json:"auto_start,omitempty"`

	// StopOnExit runs StopCommand when the sidecar shuts down.
	StopOnExit bool `json:"stop_on_exit,omitempty"`

	// Sudo controls the "/usr/bin/sudo -n -E" prefix: "auto" (default,
	// unless root), "always" or "never".
	Sudo string `json:"sudo,omitempty"`
}

// ProbeConfig selects the liveness probe.
//
// kind "tcp" dials Address; kind "systemd" checks Unit's ActiveState.
type ProbeConfig struct {
	Kind     string `json:"kind"`
	Address  string `json:"address,omitempty"`
	Unit     string `json:"unit,omitempty"`
	Interval string `json:"interval,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

type ElasticsearchConfig struct {
	Addresses []string `json:"addresses"`
	Username  string   `json:"username,omitempty"`
	Password  string   `json:"password,omitempty"` // never logged

	// RatePerSec bounds admin API calls. 0 means unlimited.
	RatePerSec     float64 `json:"rate_per_sec,omitempty"`
	RequestTimeout string  `json:"request_timeout,omitempty"`
}

// BackupConfig controls snapshot repositories and the daily snapshot task.
type BackupConfig struct {
	Enabled bool `json:"enabled"`
	// Hour of day (UTC, 0-23) the snapshot task fires.
	Hour int `json:"hour"`

	Type            string `json:"type,omitempty"` // s3 (default), fs, gcs, azure
	Bucket          string `json:"bucket"`
	Region          string `json:"region"`
	BasePath        string `json:"base_path"`
	RestoreBasePath string `json:"restore_base_path,omitempty"`

	Compress             bool   `json:"compress,omitempty"`
	ServerSideEncryption bool   `json:"server_side_encryption,omitempty"`
	ChunkSize            string `json:"chunk_size,omitempty"`
	MaxRetries           int    `json:"max_retries,omitempty"`

	Indices            string `json:"indices,omitempty"`
	IgnoreUnavailable  bool   `json:"ignore_unavailable,omitempty"`
	IncludeGlobalState bool   `json:"include_global_state,omitempty"`
	WaitForCompletion  bool   `json:"wait_for_completion,omitempty"`
	IncludeIndexName   bool   `json:"include_index_name,omitempty"`

	// VerifyBucket runs an S3 HeadBucket before creating the day's repository.
	VerifyBucket bool `json:"verify_bucket,omitempty"`
}

type MonitoringConfig struct {
	// FsStatsInterval defaults to "60s".
	FsStatsInterval string `json:"fs_stats_interval,omitempty"`
}

// MetricsConfig controls the observability HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9108").
//   - pprof is only mounted when Pprof is true.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9108"
	Path    string `json:"path,omitempty"` // default: "/metrics"
	Pprof   bool   `json:"pprof,omitempty"`
}

// StorageConfig controls the run ledger.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./escar_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
