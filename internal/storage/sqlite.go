package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	logx "escar/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db   *sql.DB
	log  logx.Logger
	keep int

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, keep: cfg.Keep, pruneEvery: 500}

	if cfg.BusyTimeout > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendRun(ctx context.Context, e RunEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(task, run_id, trig, started, duration_ns, err) VALUES(?,?,?,?,?,?)`,
		e.Task, e.RunID, nullStr(e.Trigger), e.Started.UTC().Format(time.RFC3339Nano), int64(e.Duration), nullStr(e.Error),
	)
	if err == nil {
		s.maybePrune()
	}
	return err
}

func (s *sqliteStore) AppendBackup(ctx context.Context, r BackupRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO backups(repository, snapshot, started, duration_ns, status, err) VALUES(?,?,?,?,?,?)`,
		r.Repository, r.Snapshot, r.Started.UTC().Format(time.RFC3339Nano), int64(r.Duration), r.Status, nullStr(r.Error),
	)
	if err == nil {
		s.maybePrune()
	}
	return err
}

func (s *sqliteStore) RecentRuns(ctx context.Context, limit int) ([]RunEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT task, run_id, trig, started, duration_ns, err FROM runs ORDER BY id DESC LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunEntry
	for rows.Next() {
		var (
			e         RunEntry
			trig, msg sql.NullString
			started   string
			dur       int64
		)
		if err := rows.Scan(&e.Task, &e.RunID, &trig, &started, &dur, &msg); err != nil {
			return nil, err
		}
		e.Trigger, e.Error, e.Duration = trig.String, msg.String, time.Duration(dur)
		if e.Started, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("runs.started: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) RecentBackups(ctx context.Context, limit int) ([]BackupRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT repository, snapshot, started, duration_ns, status, err FROM backups ORDER BY id DESC LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BackupRecord
	for rows.Next() {
		var (
			r       BackupRecord
			msg     sql.NullString
			started string
			dur     int64
		)
		if err := rows.Scan(&r.Repository, &r.Snapshot, &started, &dur, &r.Status, &msg); err != nil {
			return nil, err
		}
		r.Error, r.Duration = msg.String, time.Duration(dur)
		if r.Started, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("backups.started: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) maybePrune() {
	if s.opCount.Add(1)%s.pruneEvery != 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := s.prune(ctx); err != nil {
		s.log.Debug("ledger prune failed", logx.Err(err))
	}
}

// prune keeps the newest keep rows of each table.
func (s *sqliteStore) prune(ctx context.Context) error {
	for _, table := range []string{"runs", "backups"} {
		q := `DELETE FROM ` + table + ` WHERE id <= (SELECT id FROM ` + table + ` ORDER BY id DESC LIMIT 1 OFFSET ?)`
		if _, err := s.db.ExecContext(ctx, q, s.keep); err != nil {
			return err
		}
	}
	return nil
}

// sqlLimit maps "no limit" to SQLite's -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
