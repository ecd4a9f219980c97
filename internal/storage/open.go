package storage

import (
	"context"
	"errors"
	"strings"

	logx "escar/pkg/logx"
)

// Store is the run ledger API.
//
// Recent* return the newest entries first.
type Store interface {
	AppendRun(ctx context.Context, e RunEntry) error
	AppendBackup(ctx context.Context, r BackupRecord) error
	RecentRuns(ctx context.Context, limit int) ([]RunEntry, error)
	RecentBackups(ctx context.Context, limit int) ([]BackupRecord, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Keep <= 0 {
		cfg.Keep = DefaultKeep
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(context.Background(), cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
