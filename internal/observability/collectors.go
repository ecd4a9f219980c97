package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"escar/internal/task/scheduler"
)

// SchedulerCollector exports scheduler and engine counters from one
// Snapshot per scrape.
type SchedulerCollector struct {
	snapshot func() scheduler.Snapshot

	started  *prometheus.Desc
	skipped  *prometheus.Desc
	failed   *prometheus.Desc
	inFlight *prometheus.Desc
	nextFire *prometheus.Desc
	running  *prometheus.Desc
}

var _ prometheus.Collector = (*SchedulerCollector)(nil)

func NewSchedulerCollector(snapshot func() scheduler.Snapshot) *SchedulerCollector {
	name := func(n string) string { return prometheus.BuildFQName("escar", "tasks", n) }
	return &SchedulerCollector{
		snapshot: snapshot,
		started:  prometheus.NewDesc(name("started_total"), "Task executions started.", nil, nil),
		skipped:  prometheus.NewDesc(name("skipped_total"), "Fires skipped because the previous run was still in flight.", nil, nil),
		failed:   prometheus.NewDesc(name("failed_total"), "Task executions that returned an error or panicked.", nil, nil),
		inFlight: prometheus.NewDesc(name("in_flight"), "Task executions currently running.", nil, nil),
		nextFire: prometheus.NewDesc(name("next_fire_timestamp_seconds"), "Unix time of the next scheduled fire.", []string{"task"}, nil),
		running:  prometheus.NewDesc(name("running"), "1 while an execution of the task is in flight.", []string{"task"}, nil),
	}
}

func (c *SchedulerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.started
	ch <- c.skipped
	ch <- c.failed
	ch <- c.inFlight
	ch <- c.nextFire
	ch <- c.running
}

func (c *SchedulerCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.snapshot()
	ch <- prometheus.MustNewConstMetric(c.started, prometheus.CounterValue, float64(s.Started))
	ch <- prometheus.MustNewConstMetric(c.skipped, prometheus.CounterValue, float64(s.Skipped))
	ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(s.Failed))
	ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, float64(s.InFlight))
	for _, sc := range s.Schedules {
		var next float64
		if !sc.Next.IsZero() {
			next = float64(sc.Next.Unix())
		}
		ch <- prometheus.MustNewConstMetric(c.nextFire, prometheus.GaugeValue, next, sc.Name)
		var running float64
		if sc.Running {
			running = 1
		}
		ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, running, sc.Name)
	}
}

// NewRegistry returns a registry with the Go runtime and process collectors
// plus extra.
func NewRegistry(extra ...prometheus.Collector) (*prometheus.Registry, error) {
	r := prometheus.NewRegistry()
	base := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range append(base, extra...) {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}
