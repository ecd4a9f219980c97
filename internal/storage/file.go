package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "escar/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.runs.jsonl    (append-only JSON Lines)
//   - <prefix>.backups.jsonl (append-only JSON Lines)
//
// A journal is rewritten down to the newest Keep entries once it holds
// twice that many.
type fileStore struct {
	log logx.Logger

	mu      sync.Mutex
	closed  bool
	runs    *journal[RunEntry]
	backups *journal[BackupRecord]
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	runs, err := openJournal[RunEntry](prefix+".runs.jsonl", cfg.Keep)
	if err != nil {
		return nil, err
	}
	backups, err := openJournal[BackupRecord](prefix+".backups.jsonl", cfg.Keep)
	if err != nil {
		_ = runs.close()
		return nil, err
	}
	log.Debug("file ledger opened",
		logx.String("prefix", prefix),
		logx.Int("runs", len(runs.recent)),
		logx.Int("backups", len(backups.recent)),
	)
	return &fileStore{log: log, runs: runs, backups: backups}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Join(s.runs.close(), s.backups.close())
}

func (s *fileStore) AppendRun(_ context.Context, e RunEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.runs.append(e, s.log)
}

func (s *fileStore) AppendBackup(_ context.Context, r BackupRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.backups.append(r, s.log)
}

func (s *fileStore) RecentRuns(_ context.Context, limit int) ([]RunEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.runs.newest(limit), nil
}

func (s *fileStore) RecentBackups(_ context.Context, limit int) ([]BackupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.backups.newest(limit), nil
}

// journal is one JSON Lines file plus an in-memory tail of it.
type journal[T any] struct {
	path   string
	f      *os.File
	keep   int
	lines  int
	recent []T // oldest first, at most keep
}

func openJournal[T any](path string, keep int) (*journal[T], error) {
	j := &journal[T]{path: path, keep: keep}
	if err := j.replay(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	j.f = f
	return j, nil
}

func (j *journal[T]) replay() error {
	f, err := os.Open(j.path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		j.lines++
		var v T
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			continue
		}
		j.push(v)
	}
	return sc.Err()
}

func (j *journal[T]) push(v T) {
	j.recent = append(j.recent, v)
	if len(j.recent) > j.keep {
		j.recent = append(j.recent[:0:0], j.recent[len(j.recent)-j.keep:]...)
	}
}

func (j *journal[T]) append(v T, log logx.Logger) error {
	if err := json.NewEncoder(j.f).Encode(v); err != nil {
		return err
	}
	j.lines++
	j.push(v)
	if j.lines >= 2*j.keep {
		if err := j.compact(); err != nil {
			log.Debug("ledger compact failed", logx.String("path", j.path), logx.Err(err))
		}
	}
	return nil
}

func (j *journal[T]) compact() error {
	tmp := j.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, v := range j.recent {
		if err := enc.Encode(v); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, j.path); err != nil {
		return err
	}
	nf, err := os.OpenFile(j.path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	_ = j.f.Close()
	j.f = nf
	j.lines = len(j.recent)
	return nil
}

// newest returns up to limit entries, newest first. limit <= 0 means all.
func (j *journal[T]) newest(limit int) []T {
	n := len(j.recent)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]T, 0, n)
	for i := len(j.recent) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, j.recent[i])
	}
	return out
}

func (j *journal[T]) close() error {
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}
