package app

import (
	"context"
	"time"

	"escar/internal/backup"
	"escar/internal/eventbus"
	"escar/internal/storage"
	"escar/internal/task/engine"
	logx "escar/pkg/logx"
)

const ledgerWriteTimeout = 2 * time.Second

// recordEvents writes finished task runs and snapshot attempts to st until
// ctx is done or events is closed.
func recordEvents(ctx context.Context, events <-chan eventbus.Event, st storage.Store, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := recordEvent(ctx, e, st); err != nil {
				log.Warn("ledger write failed", logx.String("type", e.Type), logx.Err(err))
			}
		}
	}
}

func recordEvent(ctx context.Context, e eventbus.Event, st storage.Store) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerWriteTimeout)
	defer cancel()

	switch e.Type {
	case eventbus.TaskFinished:
		ev, ok := e.Data.(engine.TaskEvent)
		if !ok {
			return nil
		}
		return st.AppendRun(wctx, storage.RunEntry{
			Task:     ev.Name,
			RunID:    ev.ID,
			Trigger:  ev.Trigger,
			Started:  ev.Started,
			Duration: ev.Duration,
			Error:    ev.Error,
		})
	case eventbus.BackupCreated:
		rec, ok := e.Data.(backup.Record)
		if !ok {
			return nil
		}
		return st.AppendBackup(wctx, storage.BackupRecord{
			Repository: rec.Repository,
			Snapshot:   rec.Snapshot,
			Started:    rec.Started,
			Duration:   rec.Duration,
			Status:     rec.Status,
			Error:      rec.Error,
		})
	}
	return nil
}
