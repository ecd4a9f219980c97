package backup

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"escar/internal/elastic"
	logx "escar/pkg/logx"
)

var (
	ErrMissingSnapshot = errors.New("restore requires a snapshot name")
	// ErrSnapshotNotFound means the repository holds no snapshot of that name.
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// RestoreRequest names the backup to restore. An empty Repository defaults to
// BasePathSuffix, which is how daily repositories are laid out in storage.
type RestoreRequest struct {
	Repository     string
	BasePathSuffix string
	Snapshot       string
	Indices        string
}

// Restore registers the restore repository and triggers the restore. It
// waits for completion when the backup config says so.
func (m *Manager) Restore(ctx context.Context, req RestoreRequest) error {
	if strings.TrimSpace(req.Snapshot) == "" {
		return ErrMissingSnapshot
	}
	repo := strings.TrimSpace(req.Repository)
	if repo == "" {
		repo = strings.Trim(strings.TrimSpace(req.BasePathSuffix), "/")
	}
	if err := m.CreateRestoreRepository(ctx, repo, req.BasePathSuffix); err != nil {
		return err
	}

	body := elastic.RestoreRequest{
		IgnoreUnavailable:  m.cfg.IgnoreUnavailable,
		IncludeGlobalState: m.cfg.IncludeGlobalState,
	}
	if idx := strings.TrimSpace(req.Indices); idx != "" {
		body.Indices = normalizeIndices(idx)
	}
	m.log.Info("restoring snapshot",
		logx.String("repository", repo),
		logx.String("snapshot", req.Snapshot),
		logx.String("indices", body.Indices),
	)
	if err := m.es.RestoreSnapshot(ctx, repo, req.Snapshot, body, m.cfg.WaitForCompletion); err != nil {
		if elastic.IsNotFound(err) {
			return fmt.Errorf("restore %s/%s: %w: %w", repo, req.Snapshot, ErrSnapshotNotFound, err)
		}
		return fmt.Errorf("restore %s/%s: %w", repo, req.Snapshot, err)
	}
	return nil
}
