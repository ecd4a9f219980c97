// Package systemdmanager talks to systemd: unit state over D-Bus for
// liveness probing, and sd_notify for the sidecar's own unit.
package systemdmanager

import (
	"errors"
	"strings"
)

var (
	ErrUnsupported = errors.New("systemdmanager: unsupported OS (linux only)")
	ErrClosed      = errors.New("systemdmanager: connection is closed")
)

// UnitStatus is the core state of a unit.
type UnitStatus struct {
	Unit      string
	Active    string // active, inactive, failed, activating, ...
	SubState  string // running, dead, ...
	LoadState string // loaded, not-found, ...
}

// IsActive reports ActiveState == "active".
func (s *UnitStatus) IsActive() bool { return s != nil && s.Active == "active" }

// UnitName appends ".service" when the name carries no unit suffix.
func UnitName(unit string) string {
	unit = strings.TrimSpace(unit)
	if unit == "" || strings.Contains(unit, ".") {
		return unit
	}
	return unit + ".service"
}

func notFound(unit string) *UnitStatus {
	return &UnitStatus{Unit: unit, Active: "unknown", SubState: "not-found", LoadState: "not-found"}
}

func normalize(st *UnitStatus) *UnitStatus {
	if st.LoadState == "not-found" || st.SubState == "not-found" {
		return notFound(st.Unit)
	}
	return st
}

func isNoSuchUnitErr(err error) bool {
	if err == nil {
		return false
	}
	es := err.Error()
	// systemd returns org.freedesktop.systemd1.NoSuchUnit for missing units.
	return strings.Contains(es, "NoSuchUnit") || strings.Contains(es, "not-found")
}
