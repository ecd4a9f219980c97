// Package task defines the unit of periodic work the scheduler drives.
package task

import "context"

// Task is a named unit of work. Execute should return promptly once ctx is
// canceled.
type Task interface {
	Name() string
	Execute(ctx context.Context) error
}

// Func adapts a plain function to Task.
type Func struct {
	TaskName string
	Fn       func(ctx context.Context) error
}

func (f Func) Name() string                      { return f.TaskName }
func (f Func) Execute(ctx context.Context) error { return f.Fn(ctx) }
