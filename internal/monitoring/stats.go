// Package monitoring samples filesystem stats of the managed node and
// exports the latest sample as Prometheus gauges.
package monitoring

import (
	"sync/atomic"
	"time"
)

// Stats is one filesystem sample. Disk I/O counters are zero when the node
// does not report them.
type Stats struct {
	TotalBytes     int64
	FreeBytes      int64
	AvailableBytes int64

	DiskReads       int64
	DiskWrites      int64
	DiskReadBytes   int64
	DiskWriteBytes  int64
	DiskQueue       float64
	DiskServiceTime float64

	AvailableDiskPercent int64
	CollectedAt          time.Time
}

// Cell holds the last good Stats. Readers always see a whole sample.
type Cell struct {
	p atomic.Pointer[Stats]
}

// Load returns the latest sample, or the zero Stats before the first one.
func (c *Cell) Load() Stats {
	if s := c.p.Load(); s != nil {
		return *s
	}
	return Stats{}
}

func (c *Cell) Store(s Stats) { c.p.Store(&s) }

// availablePercent is available*100/total, 0 for an empty or unknown disk.
func availablePercent(available, total int64) int64 {
	if total <= 0 {
		return 0
	}
	return available * 100 / total
}
