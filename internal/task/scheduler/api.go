package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"eventpulse/internal/task/engine"
	"eventpulse/pkg/logx"
)

// skipIfRunning is the default for every trigger: a slow run swallows the
// next tick instead of queueing behind itself.
var skipIfRunning = engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning}

// AddSchedule parses schedule with ParseSchedule and registers it.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) error {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	if ps.Kind == SpecInterval {
		return s.AddIntervalOpt(name, ps.Every, timeout, skipIfRunning, job)
	}
	return s.AddCronOpt(name, ps.Cron, timeout, skipIfRunning, job)
}

func (s *Service) AddCronOpt(name, spec string, timeout time.Duration, opt engine.TaskOptions, job Job) error {
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("schedule %q: %w", name, err)
	}
	return s.upsert(scheduleDef{name: name, spec: spec, timeout: timeout, job: job, opt: opt})
}

func (s *Service) AddIntervalOpt(name string, every, timeout time.Duration, opt engine.TaskOptions, job Job) error {
	if every <= 0 {
		return fmt.Errorf("schedule %q: interval must be > 0", name)
	}
	return s.upsert(scheduleDef{name: name, spec: "@every " + every.String(), timeout: timeout, job: job, opt: opt})
}

// AddDaily fires every day at HH:MM in the scheduler timezone.
func (s *Service) AddDaily(name, atHHMM string, timeout time.Duration, job Job) error {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return err
	}
	return s.AddCronOpt(name, fmt.Sprintf("%d %d * * *", m, h), timeout, skipIfRunning, job)
}

// Remove unregisters the schedule with the given name.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.removeLocked(strings.TrimSpace(name))
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// Trigger enqueues a registered schedule's job immediately, under the same
// overlap state as its timed runs.
func (s *Service) Trigger(name string) error {
	s.mu.Lock()
	var def *scheduleDef
	for i := range s.defs {
		if s.defs[i].name == name {
			d := s.defs[i]
			def = &d
			break
		}
	}
	s.mu.Unlock()
	if def == nil {
		return fmt.Errorf("schedule %q not found", name)
	}
	return s.enqueue(def)
}

func (s *Service) upsert(d scheduleDef) error {
	d.name = strings.TrimSpace(d.name)
	if d.name == "" {
		return errors.New("schedule name required")
	}
	if d.job == nil {
		return errors.New("schedule job required")
	}
	d.state = &engine.RunState{}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(d.name)
	s.defs = append(s.defs, d)
	if s.c == nil {
		return nil
	}
	nd := &s.defs[len(s.defs)-1]
	if err := s.addCronLocked(nd); err != nil {
		return err
	}
	s.log.Debug("schedule registered", logx.String("name", nd.name), logx.String("spec", nd.spec),
		logx.Time("next", s.c.Entry(nd.entryID).Next))
	return nil
}

func (s *Service) removeLocked(name string) bool {
	n := 0
	removed := false
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	def := *d
	job := cron.FuncJob(func() {
		if err := s.enqueue(&def); err != nil {
			s.reportEnqueueError(def.name, err)
		}
	})

	if every, ok := strings.CutPrefix(d.spec, "@every "); ok {
		if dur, err := time.ParseDuration(every); err == nil && dur > 0 {
			sched, spread := intervalWithSpread(dur, time.Now().In(s.loc), d.name)
			d.spread = spread
			d.entryID = s.c.Schedule(sched, job)
			return nil
		}
	}
	d.spread = 0
	id, err := s.c.AddJob(d.spec, job)
	if err != nil {
		return err
	}
	d.entryID = id
	return nil
}

func (s *Service) enqueue(d *scheduleDef) error {
	if s.engine == nil {
		return engine.ErrDisabled
	}
	return s.engine.Enqueue(engine.Task{
		Name:    d.name,
		Timeout: d.timeout,
		Run:     d.job,
		Opt:     d.opt,
		State:   d.state,
	})
}
