//go:build !linux

package systemdmanager

import "context"

// ServiceManager is unavailable off linux; every call fails with ErrUnsupported.
type ServiceManager struct{}

func NewServiceManagerContext(ctx context.Context) (*ServiceManager, error) {
	return nil, ErrUnsupported
}

func (sm *ServiceManager) Close() error { return nil }

func (sm *ServiceManager) StatusContext(ctx context.Context, unit string) (*UnitStatus, error) {
	return nil, ErrUnsupported
}
