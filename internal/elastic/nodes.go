package elastic

import (
	"context"
	"fmt"
)

// FsTotals mirrors nodes.<id>.fs.total.
type FsTotals struct {
	TotalInBytes     int64 `json:"total_in_bytes"`
	FreeInBytes      int64 `json:"free_in_bytes"`
	AvailableInBytes int64 `json:"available_in_bytes"`
}

// IOStatsTotal mirrors nodes.<id>.fs.io_stats.total (linux nodes only).
type IOStatsTotal struct {
	Operations      int64 `json:"operations"`
	ReadOperations  int64 `json:"read_operations"`
	WriteOperations int64 `json:"write_operations"`
	ReadKilobytes   int64 `json:"read_kilobytes"`
	WriteKilobytes  int64 `json:"write_kilobytes"`
	IOTimeInMillis  int64 `json:"io_time_in_millis"`
}

type FsIOStats struct {
	Total *IOStatsTotal `json:"total"`
}

type FsStats struct {
	Timestamp int64      `json:"timestamp"`
	Total     *FsTotals  `json:"total"`
	IOStats   *FsIOStats `json:"io_stats,omitempty"`
}

type NodeStats struct {
	Name string   `json:"name"`
	Fs   *FsStats `json:"fs"`
}

type NodesStats struct {
	ClusterName string               `json:"cluster_name"`
	Nodes       map[string]NodeStats `json:"nodes"`
}

// LocalFsStats returns fs stats of the node the client is connected to.
func (c *Client) LocalFsStats(ctx context.Context) (*NodesStats, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.es.Nodes.Stats(
		c.es.Nodes.Stats.WithNodeID("_local"),
		c.es.Nodes.Stats.WithMetric("fs"),
		c.es.Nodes.Stats.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch nodes stats: %w", err)
	}
	var out NodesStats
	if err := decode("nodes stats", res, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
