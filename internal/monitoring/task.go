package monitoring

import (
	"context"
	"sort"

	"github.com/juju/clock"

	"escar/internal/elastic"
	logx "escar/pkg/logx"
)

type StatsSource interface {
	LocalFsStats(ctx context.Context) (*elastic.NodesStats, error)
}

type Liveness interface {
	IsLive() bool
}

// FsStatsTask refreshes the Cell from the node's fs stats.
type FsStatsTask struct {
	src   StatsSource
	live  Liveness
	cell  *Cell
	clock clock.Clock
	log   logx.Logger
}

type Option func(*FsStatsTask)

func WithClock(c clock.Clock) Option { return func(t *FsStatsTask) { t.clock = c } }

func NewFsStatsTask(src StatsSource, live Liveness, cell *Cell, log logx.Logger, opts ...Option) *FsStatsTask {
	if log.IsZero() {
		log = logx.Nop()
	}
	t := &FsStatsTask{
		src:   src,
		live:  live,
		cell:  cell,
		clock: clock.WallClock,
		log:   log.With(logx.String("comp", "fs_stats")),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *FsStatsTask) Name() string { return "fs-stats-monitor" }

// Execute never fails: a missed sample keeps the previous one.
func (t *FsStatsTask) Execute(ctx context.Context) error {
	if !t.live.IsLive() {
		t.log.Info("elasticsearch is not yet started, check back again later")
		return nil
	}

	resp, err := t.src.LocalFsStats(ctx)
	if err != nil {
		t.log.Warn("failed to load fs stats", logx.Err(err))
		return nil
	}
	node, ok := firstNode(resp)
	if !ok {
		t.log.Info("fs info is not available (node stats is not available)")
		return nil
	}
	if node.Fs == nil || node.Fs.Total == nil {
		t.log.Info("fs info is not available", logx.String("node", node.Name))
		return nil
	}

	s := Stats{
		TotalBytes:     node.Fs.Total.TotalInBytes,
		FreeBytes:      node.Fs.Total.FreeInBytes,
		AvailableBytes: node.Fs.Total.AvailableInBytes,
		CollectedAt:    t.clock.Now(),
	}
	if io := node.Fs.IOStats; io != nil && io.Total != nil {
		s.DiskReads = io.Total.ReadOperations
		s.DiskWrites = io.Total.WriteOperations
		s.DiskReadBytes = io.Total.ReadKilobytes * 1024
		s.DiskWriteBytes = io.Total.WriteKilobytes * 1024
		s.DiskServiceTime = float64(io.Total.IOTimeInMillis)
	}
	s.AvailableDiskPercent = availablePercent(s.AvailableBytes, s.TotalBytes)
	if s.TotalBytes <= 0 {
		t.log.Debug("node reports zero total bytes", logx.String("node", node.Name))
	}
	t.cell.Store(s)
	return nil
}

// firstNode picks the lowest node id so repeated calls agree.
func firstNode(resp *elastic.NodesStats) (elastic.NodeStats, bool) {
	if resp == nil || len(resp.Nodes) == 0 {
		return elastic.NodeStats{}, false
	}
	ids := make([]string, 0, len(resp.Nodes))
	for id := range resp.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return resp.Nodes[ids[0]], true
}
