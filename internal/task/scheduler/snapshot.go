package scheduler

import "time"

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Timezone: s.cfg.Timezone}
	if s.loc != nil {
		snap.Timezone = s.loc.String()
	}
	for _, d := range s.defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout, Spread: d.spread, Running: d.state.Running()}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		snap.Schedules = append(snap.Schedules, it)
	}
	eng := s.engine
	s.mu.Unlock()

	if eng != nil {
		snap.Engine = eng.Snapshot()
	}
	return snap
}

// NextRuns previews the next n fire times of spec from now in the scheduler
// timezone. It works whether or not the scheduler is running.
func (s *Service) NextRuns(spec string, n int) ([]time.Time, error) {
	ps, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}
	expr := ps.Cron
	if ps.Kind == SpecInterval {
		expr = "@every " + ps.Every.String()
	}
	sched, err := s.parser.Parse(expr)
	if err != nil {
		return nil, err
	}
	t := time.Now().In(s.Location())
	out := make([]time.Time, 0, n)
	for range n {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out, nil
}
