package backup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"escar/internal/elastic"
	"escar/internal/eventbus"
	logx "escar/pkg/logx"
)

const (
	snapshotDateFormat = "200601021504"
	allIndices         = "_all"
)

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Record is the outcome of one snapshot attempt. It is published on the bus
// as eventbus.BackupCreated.
type Record struct {
	Repository string
	Snapshot   string
	Started    time.Time
	Duration   time.Duration
	Status     string
	Error      string
}

// Liveness reports whether the managed server is up.
type Liveness interface {
	IsLive() bool
}

// SnapshotTask takes the daily snapshot into the day's repository.
type SnapshotTask struct {
	m       *Manager
	live    Liveness
	checker BucketChecker
	bus     eventbus.Bus
}

// NewSnapshotTask returns the daily snapshot task. checker and bus may be nil.
func NewSnapshotTask(m *Manager, live Liveness, checker BucketChecker, bus eventbus.Bus) *SnapshotTask {
	return &SnapshotTask{m: m, live: live, checker: checker, bus: bus}
}

func (t *SnapshotTask) Name() string { return "snapshot-backup" }

func (t *SnapshotTask) Execute(ctx context.Context) error {
	log := t.m.log
	if t.live != nil && !t.live.IsLive() {
		log.Info("server is not live; skipping snapshot")
		return nil
	}
	cfg := t.m.cfg

	if cfg.VerifyBucket && t.checker != nil && cfg.repoType() == TypeS3 {
		if err := t.checker.CheckBucket(ctx, cfg.Bucket); err != nil {
			return fmt.Errorf("bucket preflight: %w", err)
		}
	}

	repo, err := t.m.CreateOrGetBackupRepository(ctx)
	if err != nil {
		return err
	}

	started := t.m.clock.Now()
	indices := normalizeIndices(cfg.Indices)
	name := snapshotName(indices, cfg.IncludeIndexName, started)
	req := elastic.SnapshotRequest{
		Indices:            indices,
		IgnoreUnavailable:  cfg.IgnoreUnavailable,
		IncludeGlobalState: cfg.IncludeGlobalState,
	}

	log.Info("creating snapshot",
		logx.String("repository", repo),
		logx.String("snapshot", name),
		logx.String("indices", indices),
		logx.Bool("wait", cfg.WaitForCompletion),
	)
	res, err := t.m.es.CreateSnapshot(ctx, repo, name, req, cfg.WaitForCompletion)
	if err == nil {
		err = snapshotOutcome(res)
	}

	rec := Record{
		Repository: repo,
		Snapshot:   name,
		Started:    started,
		Duration:   t.m.clock.Now().Sub(started),
		Status:     StatusCompleted,
	}
	if err != nil {
		rec.Status = StatusFailed
		rec.Error = err.Error()
	}
	if t.bus != nil {
		t.bus.Publish(eventbus.Event{Type: eventbus.BackupCreated, Time: rec.Started, Data: rec})
	}
	if err != nil {
		return fmt.Errorf("snapshot %s/%s: %w", repo, name, err)
	}
	log.Info("snapshot done",
		logx.String("repository", repo),
		logx.String("snapshot", name),
		logx.Duration("took", rec.Duration),
	)
	return nil
}

func snapshotOutcome(res *elastic.SnapshotResult) error {
	if res == nil || res.Snapshot == nil {
		return nil
	}
	switch res.Snapshot.State {
	case "", "SUCCESS", "IN_PROGRESS":
		return nil
	default:
		return fmt.Errorf("snapshot state %s (%d/%d shards failed)",
			res.Snapshot.State, res.Snapshot.Shards.Failed, res.Snapshot.Shards.Total)
	}
}

func normalizeIndices(raw string) string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return allIndices
	}
	return strings.Join(out, ",")
}

// snapshotName builds snapshot_<yyyyMMddHHmm>, or <indices>_<yyyyMMddHHmm>
// with includeIndexName. Snapshot names must be lowercase and may not carry
// commas, wildcards or path characters.
func snapshotName(indices string, includeIndexName bool, at time.Time) string {
	stamp := at.UTC().Format(snapshotDateFormat)
	if !includeIndexName {
		return "snapshot_" + stamp
	}
	prefix := strings.Map(func(r rune) rune {
		switch r {
		case ',', ' ', '/', '\\', '*', '?', '"', '<', '>', '|', '#':
			return '_'
		}
		return r
	}, strings.ToLower(indices))
	return prefix + "_" + stamp
}
