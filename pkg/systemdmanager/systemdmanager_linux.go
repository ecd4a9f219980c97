//go:build linux

package systemdmanager

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

// ServiceManager answers unit state queries over the system D-Bus.
type ServiceManager struct {
	mu   sync.RWMutex
	conn *dbus.Conn
}

// NewServiceManagerContext connects to the system bus using ctx.
func NewServiceManagerContext(ctx context.Context) (*ServiceManager, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	return &ServiceManager{conn: conn}, nil
}

// Close closes the systemd connection.
func (sm *ServiceManager) Close() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.conn != nil {
		sm.conn.Close()
		sm.conn = nil
	}
	return nil
}

// StatusContext is a cheap status lookup intended for high-frequency checks.
//
// It uses ListUnitsByPatterns (lightweight) and only falls back to the unit
// property map when the unit isn't listed.
func (sm *ServiceManager) StatusContext(ctx context.Context, unit string) (*UnitStatus, error) {
	sm.mu.RLock()
	conn := sm.conn
	sm.mu.RUnlock()
	if conn == nil {
		return nil, ErrClosed
	}

	unitName := UnitName(unit)
	units, err := conn.ListUnitsByPatternsContext(ctx, nil, []string{unitName})
	if err == nil && len(units) > 0 {
		u := units[0]
		for _, x := range units {
			if x.Name == unitName {
				u = x
				break
			}
		}
		return normalize(&UnitStatus{
			Unit:      unitName,
			Active:    u.ActiveState,
			SubState:  u.SubState,
			LoadState: u.LoadState,
		}), nil
	}

	props, err := conn.GetUnitPropertiesContext(ctx, unitName)
	if err != nil {
		if isNoSuchUnitErr(err) {
			return notFound(unitName), nil
		}
		return nil, fmt.Errorf("failed to get status for %s: %w", unitName, err)
	}
	active, _ := getStringProperty(props, "ActiveState")
	sub, _ := getStringProperty(props, "SubState")
	load, _ := getStringProperty(props, "LoadState")
	return normalize(&UnitStatus{Unit: unitName, Active: active, SubState: sub, LoadState: load}), nil
}

func getStringProperty(props map[string]interface{}, key string) (string, bool) {
	v, ok := props[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
