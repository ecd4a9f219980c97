package process

import (
	"context"
	"fmt"
	"net"
	"time"

	"escar/pkg/systemdmanager"
)

// Probe answers whether the managed server is up.
type Probe interface {
	Check(ctx context.Context) (bool, error)
}

// TCPProbe reports live when Address accepts a TCP connection.
type TCPProbe struct {
	Address string
	Timeout time.Duration
}

func (p TCPProbe) Check(ctx context.Context) (bool, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return false, nil
	}
	_ = conn.Close()
	return true, nil
}

func (p TCPProbe) String() string { return "tcp " + p.Address }

// UnitStatuser is the slice of systemdmanager the unit probe needs.
type UnitStatuser interface {
	StatusContext(ctx context.Context, unit string) (*systemdmanager.UnitStatus, error)
}

// SystemdProbe reports live when the unit's ActiveState is "active".
type SystemdProbe struct {
	Manager UnitStatuser
	Unit    string
}

func (p SystemdProbe) Check(ctx context.Context) (bool, error) {
	st, err := p.Manager.StatusContext(ctx, p.Unit)
	if err != nil {
		return false, fmt.Errorf("unit %s status: %w", p.Unit, err)
	}
	return st.IsActive(), nil
}

func (p SystemdProbe) String() string { return "systemd " + systemdmanager.UnitName(p.Unit) }
