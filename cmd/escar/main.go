package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"escar/internal/app"
	"escar/internal/backup"
)

func main() {
	var (
		cfgPath string
		req     backup.RestoreRequest
	)
	flag.StringVar(&cfgPath, "config", "./escar.yaml", "path to config (yaml or json)")
	flag.StringVar(&req.Snapshot, "restore-snapshot", "", "restore this snapshot and exit")
	flag.StringVar(&req.BasePathSuffix, "restore-suffix", "", "path under backup.restore_base_path holding the snapshot")
	flag.StringVar(&req.Repository, "restore-repository", "", "repository name to register for the restore (default: the suffix)")
	flag.StringVar(&req.Indices, "restore-indices", "", "comma separated indices to restore (default: all)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if strings.TrimSpace(req.Snapshot) != "" {
		err := a.Restore(ctx, req)
		_ = a.Stop(context.Background(), app.StopUnknown)
		if err != nil {
			fmt.Fprintln(os.Stderr, "restore failed:", err)
			os.Exit(1)
		}
		return
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		fmt.Fprintln(os.Stderr, "stop:", err)
	}
	if reason == app.StopFatalError {
		if err := a.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "fatal:", err)
		}
		os.Exit(1)
	}
}
