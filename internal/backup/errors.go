package backup

import (
	"errors"
	"fmt"
)

// ErrCreateRepository matches every *CreateRepositoryError via errors.Is.
var ErrCreateRepository = errors.New("create repository failed")

var (
	errNotAcknowledged = errors.New("request not acknowledged")
	errEmptyName       = errors.New("empty repository name")
)

// Stage is the step of repository creation that failed.
type Stage string

const (
	StageParams Stage = "params"
	StageExists Stage = "exists"
	StageCreate Stage = "create"
	StageAck    Stage = "ack"
)

// CreateRepositoryError is returned for any failure while ensuring a
// snapshot repository.
type CreateRepositoryError struct {
	Name     string
	Stage    Stage
	Settings string
	Err      error
}

func (e *CreateRepositoryError) Error() string {
	return fmt.Sprintf("create repository %q failed at %s (%s): %v", e.Name, e.Stage, e.Settings, e.Err)
}

func (e *CreateRepositoryError) Unwrap() error { return e.Err }

func (e *CreateRepositoryError) Is(target error) bool { return target == ErrCreateRepository }
