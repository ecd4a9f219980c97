// Package process starts and stops the managed Elasticsearch server as an
// OS process and tracks whether it is live.
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"

	logx "escar/pkg/logx"
)

const DefaultGracePeriod = 5 * time.Second

// Sudo modes for the start and stop commands.
const (
	SudoAuto   = "auto" // prefix unless running as root
	SudoAlways = "always"
	SudoNever  = "never"
)

type Config struct {
	StartupCommand string
	StopCommand    string
	DataDir        string
	GracePeriod    time.Duration
	Sudo           string // "" means SudoAuto
}

// Supervisor issues start/stop commands and caches the last probe result.
//
// Success after the grace period is a heuristic: a command that is still
// running, or exited 0, counts as started.
type Supervisor struct {
	cfg   Config
	log   logx.Logger
	clock clock.Clock
	probe Probe

	isRoot func() bool

	live      atomic.Bool
	lastProbe atomic.Pointer[time.Time]

	mu      sync.Mutex
	current *handle // last start command
}

type handle struct {
	cmd  *exec.Cmd
	out  *outputBuffer
	done chan struct{}
	err  error // valid once done is closed
}

func (h *handle) running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

type Option func(*Supervisor)

func WithClock(c clock.Clock) Option { return func(s *Supervisor) { s.clock = c } }

func WithProbe(p Probe) Option { return func(s *Supervisor) { s.probe = p } }

func NewSupervisor(cfg Config, log logx.Logger, opts ...Option) *Supervisor {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	s := &Supervisor{
		cfg:    cfg,
		log:    log,
		clock:  clock.WallClock,
		isRoot: currentUserIsRoot,
	}
	switch cfg.Sudo {
	case SudoNever:
		s.isRoot = func() bool { return true }
	case SudoAlways:
		s.isRoot = func() bool { return false }
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// GracePeriod is how long Start and Stop wait before judging a command.
func (s *Supervisor) GracePeriod() time.Duration { return s.cfg.GracePeriod }

// IsLive returns the last probe result. It never blocks.
func (s *Supervisor) IsLive() bool { return s.live.Load() }

// LastProbe returns when the probe last ran (zero if never).
func (s *Supervisor) LastProbe() time.Time {
	if t := s.lastProbe.Load(); t != nil {
		return *t
	}
	return time.Time{}
}

// Refresh runs the probe and stores the result for IsLive. Without a probe
// the server is assumed live.
func (s *Supervisor) Refresh(ctx context.Context) bool {
	live := true
	if s.probe != nil {
		ok, err := s.probe.Check(ctx)
		if err != nil {
			s.log.Debug("liveness probe failed", logx.Err(err))
		}
		live = ok
	}
	now := s.clock.Now()
	s.lastProbe.Store(&now)
	if prev := s.live.Swap(live); prev != live {
		s.log.Info("server liveness changed", logx.Bool("live", live))
	}
	return live
}

// Start launches the startup command and judges it after the grace period.
// A previous start command that is still running is left alone.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.running() {
		s.log.Info("startup command still running; not starting again", logx.Int("pid", s.current.cmd.Process.Pid))
		return nil
	}

	h, err := s.run(ctx, "start", s.cfg.StartupCommand)
	if h != nil {
		s.current = h
	}
	if err != nil {
		return err
	}
	s.log.Info("server started", logx.Bool("still_running", h.running()))
	return nil
}

// Stop runs the stop command. Callers treat failures as best-effort.
func (s *Supervisor) Stop(ctx context.Context) error {
	_, err := s.run(ctx, "stop", s.cfg.StopCommand)
	if err != nil {
		return err
	}
	s.log.Info("server stop command completed")
	return nil
}

// run spawns command and waits up to the grace period for it to exit.
func (s *Supervisor) run(ctx context.Context, op, command string) (*handle, error) {
	argv := BuildArgv(command, s.isRoot())
	if len(argv) == 0 {
		return nil, &ProcessError{Op: op, ExitCode: -1, Err: ErrNoCommand}
	}

	// exec.Command, not CommandContext: the server must outlive the request.
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = "/"
	cmd.Env = append(os.Environ(), "DATA_DIR="+s.cfg.DataDir)
	out := &outputBuffer{}
	cmd.Stdout = out
	cmd.Stderr = out

	log := s.log.With(logx.String("op", op), logx.Strs("argv", argv))
	if err := cmd.Start(); err != nil {
		log.Error("command failed to spawn", logx.Err(err))
		return nil, &ProcessError{Op: op, ExitCode: -1, Err: err}
	}

	h := &handle{cmd: cmd, out: out, done: make(chan struct{})}
	go func() {
		h.err = cmd.Wait()
		close(h.done)
	}()

	select {
	case <-h.done:
	case <-s.clock.After(s.cfg.GracePeriod):
	case <-ctx.Done():
		return h, fmt.Errorf("%s: %w", op, ctx.Err())
	}

	if h.running() {
		if op == "stop" {
			log.Warn("stop command still running after grace period", logx.Duration("grace", s.cfg.GracePeriod))
			return h, &ProcessError{Op: op, ExitCode: -1, Output: out.String(), Err: ErrStillRunning}
		}
		return h, nil
	}

	if h.err == nil {
		return h, nil
	}
	code := -1
	var exitErr *exec.ExitError
	if errors.As(h.err, &exitErr) {
		code = exitErr.ExitCode()
	}
	perr := &ProcessError{Op: op, ExitCode: code, Output: out.String(), Err: h.err}
	log.Error("command exited with error", logx.Int("exit_code", code), logx.String("output", perr.Output))
	return h, perr
}
