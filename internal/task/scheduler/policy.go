package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Policy computes the next fire time strictly after t.
//
// Policies satisfy cron.Schedule so they can be handed to robfig/cron as is.
type Policy interface {
	cron.Schedule
	String() string
}

// cronParser accepts both 5-field and 6-field (with seconds) specs plus
// descriptors like @hourly.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type intervalPolicy struct{ every time.Duration }

// Interval fires every d, measured from the previous fire (or from start).
// Unlike cron.Every it keeps sub-second precision.
func Interval(d time.Duration) (Policy, error) {
	if d <= 0 {
		return nil, fmt.Errorf("interval must be > 0, got %s", d)
	}
	return intervalPolicy{every: d}, nil
}

func (p intervalPolicy) Next(t time.Time) time.Time { return t.Add(p.every) }
func (p intervalPolicy) String() string             { return "every " + p.every.String() }

type dailyPolicy struct{ hour int }

// DailyAt fires once a day at hour:00:00 UTC.
func DailyAt(hour int) (Policy, error) {
	if hour < 0 || hour > 23 {
		return nil, fmt.Errorf("daily hour must be within 0-23, got %d", hour)
	}
	return dailyPolicy{hour: hour}, nil
}

func (p dailyPolicy) Next(t time.Time) time.Time {
	u := t.UTC()
	next := time.Date(u.Year(), u.Month(), u.Day(), p.hour, 0, 0, 0, time.UTC)
	if !next.After(u) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (p dailyPolicy) String() string { return fmt.Sprintf("daily %02d:00 UTC", p.hour) }

type cronPolicy struct {
	expr  string
	sched cron.Schedule
}

// Cron parses a crontab expression. The scheduler's timezone applies unless
// the expression carries a CRON_TZ= prefix.
func Cron(expr string) (Policy, error) {
	expr = strings.TrimSpace(expr)
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return cronPolicy{expr: expr, sched: sched}, nil
}

func (p cronPolicy) Next(t time.Time) time.Time { return p.sched.Next(t) }
func (p cronPolicy) String() string             { return "cron " + p.expr }
