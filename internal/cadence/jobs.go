package cadence

import (
	"context"
	"errors"
	"time"

	"eventpulse/internal/domain"
	"eventpulse/internal/task/engine"
	"eventpulse/internal/task/scheduler"
	"eventpulse/pkg/logx"
)

const (
	JobHourly = "sweep.hourly"
	JobDaily  = "sweep.daily"
	JobPrune  = "ledger.prune"
)

// Schedules holds the trigger settings for the three cadence jobs.
type Schedules struct {
	HourlyEvery   time.Duration
	DailyAt       string // HH:MM
	PruneSchedule string // any scheduler.ParseSchedule form
	Timeout       time.Duration
}

// Register installs the hourly and daily sweeps and the ledger prune on
// sched. Existing registrations with the same names are replaced.
func (s *Sweeper) Register(sched *scheduler.Service, sc Schedules) error {
	every := sc.HourlyEvery
	if every <= 0 {
		every = time.Hour
	}
	opt := engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning}
	if err := sched.AddIntervalOpt(JobHourly, every, sc.Timeout, opt, s.SweepJob(domain.FrequencyHourly)); err != nil {
		return err
	}
	if err := sched.AddDaily(JobDaily, sc.DailyAt, sc.Timeout, s.SweepJob(domain.FrequencyDaily)); err != nil {
		return err
	}
	return sched.AddSchedule(JobPrune, sc.PruneSchedule, sc.Timeout, s.PruneJob())
}

// SweepJob adapts Sweep to an engine task. A store outage is not retried
// by the engine: the next trigger tries again.
func (s *Sweeper) SweepJob(f domain.Frequency) scheduler.Job {
	return func(ctx context.Context) error {
		_, err := s.Sweep(ctx, f)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrSweepInProgress):
			s.log.Info("sweep skipped: already running", logx.String("tier", f.String()))
			return nil
		case errors.Is(err, domain.ErrStoreUnavailable):
			return engine.NoRetry(err)
		default:
			return err
		}
	}
}

func (s *Sweeper) PruneJob() scheduler.Job {
	return func(ctx context.Context) error {
		_, err := s.Prune(ctx)
		if errors.Is(err, domain.ErrStoreUnavailable) {
			return engine.NoRetry(err)
		}
		return err
	}
}
