package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	reHHMM  = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)
	reDaily = regexp.MustCompile(`^daily:(\d{1,2})$`)
)

// ParsePolicy parses an operator-supplied schedule string.
//
// Supported forms:
//   - Cron: "*/5 * * * *", "0 3 * * *", "@hourly" (or forced with "cron:")
//   - Daily UTC hour: "daily:3"
//   - Interval duration: "55m", "2h30m" (or "every:55m")
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
func ParsePolicy(raw string) (Policy, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("schedule required")
	}
	low := strings.ToLower(s)

	switch {
	case strings.HasPrefix(low, "cron:"):
		return Cron(s[len("cron:"):])
	case strings.HasPrefix(low, "every:"):
		return parseIntervalPolicy(strings.TrimSpace(s[len("every:"):]))
	}
	if m := reDaily.FindStringSubmatch(low); m != nil {
		h, _ := strconv.Atoi(m[1])
		return DailyAt(h)
	}
	// any whitespace or a leading '@' means cron
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		return Cron(s)
	}
	p, err := parseIntervalPolicy(s)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q (use cron like '*/5 * * * *', daily:H, HH:MM or a duration like '55m')", raw)
	}
	return p, nil
}

func parseIntervalPolicy(v string) (Policy, error) {
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return nil, fmt.Errorf("invalid minutes in %q", v)
		}
		return Interval(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute)
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return nil, fmt.Errorf("invalid interval %q: %w", v, err)
	}
	return Interval(d)
}
