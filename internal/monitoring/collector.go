package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "escar"
	subsystem = "fs"
)

type gauge struct {
	desc  *prometheus.Desc
	value func(Stats) float64
}

// Collector exports the Cell. Each scrape reads the cell once, so all
// gauges of a scrape come from the same sample.
type Collector struct {
	cell   *Cell
	gauges []gauge
	last   *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

func newDesc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, nil, nil)
}

func NewCollector(cell *Cell) *Collector {
	return &Collector{
		cell: cell,
		gauges: []gauge{
			{newDesc("total_bytes", "Total bytes of the data filesystem."), func(s Stats) float64 { return float64(s.TotalBytes) }},
			{newDesc("free_bytes", "Free bytes of the data filesystem."), func(s Stats) float64 { return float64(s.FreeBytes) }},
			{newDesc("available_bytes", "Bytes available to Elasticsearch."), func(s Stats) float64 { return float64(s.AvailableBytes) }},
			{newDesc("disk_reads", "Completed read operations."), func(s Stats) float64 { return float64(s.DiskReads) }},
			{newDesc("disk_writes", "Completed write operations."), func(s Stats) float64 { return float64(s.DiskWrites) }},
			{newDesc("disk_read_bytes", "Bytes read."), func(s Stats) float64 { return float64(s.DiskReadBytes) }},
			{newDesc("disk_write_bytes", "Bytes written."), func(s Stats) float64 { return float64(s.DiskWriteBytes) }},
			{newDesc("disk_queue", "Disk queue length, 0 when unknown."), func(s Stats) float64 { return s.DiskQueue }},
			{newDesc("disk_service_time", "Time spent doing I/O in milliseconds."), func(s Stats) float64 { return s.DiskServiceTime }},
			{newDesc("available_disk_percent", "Available bytes as an integer percentage of total."), func(s Stats) float64 { return float64(s.AvailableDiskPercent) }},
		},
		last: newDesc("last_sample_timestamp_seconds", "Unix time of the latest sample."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, g := range c.gauges {
		ch <- g.desc
	}
	ch <- c.last
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.cell.Load()
	for _, g := range c.gauges {
		ch <- prometheus.MustNewConstMetric(g.desc, prometheus.GaugeValue, g.value(s))
	}
	var ts float64
	if !s.CollectedAt.IsZero() {
		ts = float64(s.CollectedAt.Unix())
	}
	ch <- prometheus.MustNewConstMetric(c.last, prometheus.GaugeValue, ts)
}
