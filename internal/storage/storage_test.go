package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "escar/pkg/logx"
)

var drivers = []string{"file", "sqlite"}

func openTest(t *testing.T, driver, path string, keep int) Store {
	t.Helper()
	st, err := Open(Config{Driver: driver, Path: path, Keep: keep}, logx.Nop())
	require.NoError(t, err)
	require.NotNil(t, st)
	return st
}

func storePath(t *testing.T, driver string) string {
	if driver == "sqlite" {
		return filepath.Join(t.TempDir(), "ledger.db")
	}
	return filepath.Join(t.TempDir(), "ledger")
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", " none "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		require.NoError(t, err)
		require.Nil(t, st)
	}
	_, err := Open(Config{Driver: "redis"}, logx.Nop())
	require.ErrorContains(t, err, "unknown storage driver")

	_, err = Open(Config{Driver: "file"}, logx.Nop())
	require.Error(t, err)
}

func TestLedgerRoundTrip(t *testing.T) {
	t.Parallel()
	base := time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)
	for _, driver := range drivers {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			path := storePath(t, driver)
			st := openTest(t, driver, path, 0)

			for i := 0; i < 3; i++ {
				require.NoError(t, st.AppendRun(ctx, RunEntry{
					Task:     "fs-stats-monitor",
					RunID:    string(rune('a' + i)),
					Trigger:  "schedule",
					Started:  base.Add(time.Duration(i) * time.Minute),
					Duration: 15 * time.Millisecond,
				}))
			}
			require.NoError(t, st.AppendBackup(ctx, BackupRecord{
				Repository: "20240501",
				Snapshot:   "snapshot_202405010300",
				Started:    base,
				Duration:   2 * time.Second,
				Status:     "failed",
				Error:      "boom",
			}))

			runs, err := st.RecentRuns(ctx, 2)
			require.NoError(t, err)
			require.Len(t, runs, 2)
			require.Equal(t, "c", runs[0].RunID)
			require.Equal(t, "b", runs[1].RunID)
			require.True(t, base.Add(2*time.Minute).Equal(runs[0].Started))
			require.Equal(t, 15*time.Millisecond, runs[0].Duration)
			require.Equal(t, "schedule", runs[0].Trigger)
			require.NoError(t, st.Close())

			// Entries survive a reopen.
			st = openTest(t, driver, path, 0)
			defer st.Close()
			runs, err = st.RecentRuns(ctx, 0)
			require.NoError(t, err)
			require.Len(t, runs, 3)

			backups, err := st.RecentBackups(ctx, 10)
			require.NoError(t, err)
			require.Len(t, backups, 1)
			require.Equal(t, "snapshot_202405010300", backups[0].Snapshot)
			require.Equal(t, "failed", backups[0].Status)
			require.Equal(t, "boom", backups[0].Error)
			require.Equal(t, 2*time.Second, backups[0].Duration)
			require.True(t, base.Equal(backups[0].Started))
		})
	}
}

func TestFileLedgerCompacts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.json")
	st := openTest(t, "file", path, 3)

	for i := 0; i < 7; i++ {
		require.NoError(t, st.AppendRun(ctx, RunEntry{Task: "t", RunID: string(rune('a' + i))}))
	}
	require.NoError(t, st.Close())

	b, err := os.ReadFile(filepath.Join(filepath.Dir(path), "ledger.runs.jsonl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	// Compacted to 3 at the sixth append, then one more line.
	require.Len(t, lines, 4)

	st = openTest(t, "file", path, 3)
	defer st.Close()
	runs, err := st.RecentRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	require.Equal(t, "g", runs[0].RunID)
	require.Equal(t, "e", runs[2].RunID)
}

func TestFileLedgerSkipsCorruptLines(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "l.runs.jsonl"),
		[]byte("{\"task\":\"a\",\"run_id\":\"1\"}\nnot json\n{\"task\":\"b\",\"run_id\":\"2\"}\n"), 0o600))

	st := openTest(t, "file", filepath.Join(dir, "l"), 0)
	defer st.Close()
	runs, err := st.RecentRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "b", runs[0].Task)
}

func TestClosedFileStore(t *testing.T) {
	t.Parallel()
	st := openTest(t, "file", filepath.Join(t.TempDir(), "l"), 0)
	require.NoError(t, st.Close())
	require.NoError(t, st.Close())
	require.ErrorIs(t, st.AppendRun(context.Background(), RunEntry{}), ErrClosed)
}

func TestSQLitePrune(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTest(t, "sqlite", filepath.Join(t.TempDir(), "l.db"), 2)
	defer st.Close()
	for i := 0; i < 5; i++ {
		require.NoError(t, st.AppendRun(ctx, RunEntry{Task: "t", RunID: string(rune('a' + i)), Started: time.Unix(int64(i), 0)}))
	}
	require.NoError(t, st.(*sqliteStore).prune(ctx))
	runs, err := st.RecentRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "e", runs[0].RunID)
}
