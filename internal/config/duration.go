package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses the Go duration at path. Blank is 0; negative
// values are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration %q is negative", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for blank or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	return ParseDurationAtLeast(path, raw, def, 0)
}

// ParseDurationAtLeast is ParseDurationOrDefault that also rejects a set
// value below floor. Periodic probes use it so a typo like "10ms" cannot
// hammer the managed server.
func ParseDurationAtLeast(path, raw string, def, floor time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return def, nil
	}
	if d < floor {
		return 0, fmt.Errorf("%s: %s is below the minimum %s", path, d, floor)
	}
	return d, nil
}
