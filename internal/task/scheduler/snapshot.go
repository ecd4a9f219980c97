package scheduler

import "time"

// Snapshot exposes schedules and recent run history for diagnostics.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	tz := s.cfg.Timezone
	loc := s.loc
	c := s.c
	entries := make([]*entry, len(s.entries))
	copy(entries, s.entries)
	s.mu.Unlock()

	if loc == nil {
		loc = time.Local
	}
	if tz == "" {
		tz = loc.String()
	}

	items := make([]ScheduleInfo, 0, len(entries))
	for _, e := range entries {
		it := ScheduleInfo{
			Name:    e.task.Name(),
			Policy:  e.policy.String(),
			Timeout: e.timeout,
			Running: e.state.Running(),
		}
		if c != nil && e.id != 0 {
			ce := c.Entry(e.id)
			it.Next = ce.Next
			it.Prev = ce.Prev
		}
		items = append(items, it)
	}

	es := s.engine.Snapshot()
	return Snapshot{
		Enabled:        enabled,
		Timezone:       tz,
		InFlight:       es.InFlight,
		Started:        es.Started,
		Skipped:        es.Skipped,
		Failed:         es.Failed,
		DefaultTimeout: es.DefaultTimeout,
		Schedules:      items,
		History:        es.History,
	}
}
