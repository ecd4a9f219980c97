package elastic

import (
	"context"
	"fmt"
	"net/http"
)

// Repository is the body of PUT _snapshot/<name>.
type Repository struct {
	Type     string         `json:"type"`
	Settings map[string]any `json:"settings"`
}

type acknowledged struct {
	Acknowledged bool `json:"acknowledged"`
}

// RepositoryExists reports whether the named snapshot repository is registered.
func (c *Client) RepositoryExists(ctx context.Context, name string) (bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.es.Snapshot.GetRepository(
		c.es.Snapshot.GetRepository.WithRepository(name),
		c.es.Snapshot.GetRepository.WithContext(ctx),
	)
	if err != nil {
		return false, fmt.Errorf("elasticsearch get repository: %w", err)
	}
	if res.StatusCode == http.StatusNotFound {
		res.Body.Close()
		return false, nil
	}
	var repos map[string]Repository
	if err := decode("get repository", res, &repos); err != nil {
		return false, err
	}
	_, ok := repos[name]
	return ok, nil
}

// CreateRepository registers name and returns the acknowledged flag.
func (c *Client) CreateRepository(ctx context.Context, name string, repo Repository) (bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	body, err := jsonBody(repo)
	if err != nil {
		return false, err
	}
	res, err := c.es.Snapshot.CreateRepository(name, body, c.es.Snapshot.CreateRepository.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("elasticsearch create repository: %w", err)
	}
	var ack acknowledged
	if err := decode("create repository", res, &ack); err != nil {
		return false, err
	}
	return ack.Acknowledged, nil
}

// SnapshotRequest is the body of PUT _snapshot/<repo>/<snapshot>.
type SnapshotRequest struct {
	Indices            string `json:"indices"`
	IgnoreUnavailable  bool   `json:"ignore_unavailable"`
	IncludeGlobalState bool   `json:"include_global_state"`
}

type SnapshotInfo struct {
	Snapshot string   `json:"snapshot"`
	State    string   `json:"state"`
	Indices  []string `json:"indices"`
	Shards   struct {
		Total      int `json:"total"`
		Failed     int `json:"failed"`
		Successful int `json:"successful"`
	} `json:"shards"`
}

// SnapshotResult carries Snapshot only when the call waited for completion.
type SnapshotResult struct {
	Accepted bool          `json:"accepted"`
	Snapshot *SnapshotInfo `json:"snapshot,omitempty"`
}

// CreateSnapshot starts a snapshot. With wait set the call blocks until it
// finishes; callers should pass a context without a short deadline.
func (c *Client) CreateSnapshot(ctx context.Context, repo, snapshot string, req SnapshotRequest, wait bool) (*SnapshotResult, error) {
	if !wait {
		var cancel context.CancelFunc
		ctx, cancel = c.withTimeout(ctx)
		defer cancel()
	}
	body, err := jsonBody(req)
	if err != nil {
		return nil, err
	}
	res, err := c.es.Snapshot.Create(repo, snapshot,
		c.es.Snapshot.Create.WithBody(body),
		c.es.Snapshot.Create.WithWaitForCompletion(wait),
		c.es.Snapshot.Create.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch create snapshot: %w", err)
	}
	var out SnapshotResult
	if err := decode("create snapshot", res, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RestoreRequest is the body of POST _snapshot/<repo>/<snapshot>/_restore.
type RestoreRequest struct {
	Indices            string `json:"indices,omitempty"`
	IgnoreUnavailable  bool   `json:"ignore_unavailable"`
	IncludeGlobalState bool   `json:"include_global_state"`
}

func (c *Client) RestoreSnapshot(ctx context.Context, repo, snapshot string, req RestoreRequest, wait bool) error {
	if !wait {
		var cancel context.CancelFunc
		ctx, cancel = c.withTimeout(ctx)
		defer cancel()
	}
	body, err := jsonBody(req)
	if err != nil {
		return err
	}
	res, err := c.es.Snapshot.Restore(repo, snapshot,
		c.es.Snapshot.Restore.WithBody(body),
		c.es.Snapshot.Restore.WithWaitForCompletion(wait),
		c.es.Snapshot.Restore.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch restore snapshot: %w", err)
	}
	return decode("restore snapshot", res, nil)
}
