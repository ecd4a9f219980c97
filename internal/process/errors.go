package process

import (
	"errors"
	"fmt"
)

var (
	// ErrStillRunning reports a stop command that hadn't exited when the
	// grace period elapsed.
	ErrStillRunning = errors.New("command still running after grace period")
	ErrNoCommand    = errors.New("no command configured")
)

// ProcessError is returned when a start or stop command fails to spawn or
// exits nonzero within the grace period. ExitCode is -1 when the command
// never produced one.
type ProcessError struct {
	Op       string // "start" or "stop"
	ExitCode int
	Output   string
	Err      error
}

func (e *ProcessError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("%s command exited with code %d", e.Op, e.ExitCode)
	}
	return fmt.Sprintf("%s command: %v", e.Op, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }
