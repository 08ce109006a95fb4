// Package cadence runs the periodic sweeps that match every user of a
// frequency tier against the upcoming catalog and dispatch the results.
package cadence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"eventpulse/internal/dispatch"
	"eventpulse/internal/domain"
	"eventpulse/internal/eventbus"
	"eventpulse/internal/ledger"
	"eventpulse/internal/matching"
	"eventpulse/pkg/logx"
)

var (
	ErrSweepInProgress = errors.New("sweep already in progress for this tier")
	ErrTierNotSwept    = errors.New("frequency tier is never swept")
)

type UserSource interface {
	FindUsersByFrequency(ctx context.Context, f domain.Frequency) ([]domain.User, error)
}

type CatalogSource interface {
	Snapshot(ctx context.Context) ([]domain.Event, time.Time, error)
}

type Ledger interface {
	NotifiedEventIDs(ctx context.Context, userID string) (map[string]struct{}, error)
	Prune(ctx context.Context, olderThan time.Duration) (ledger.PruneResult, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, user domain.User, ev domain.Event, origin domain.Origin) (dispatch.Outcome, error)
}

type Config struct {
	HourlyLimit  int
	DailyLimit   int
	Workers      int
	Retention    time.Duration
	StoreTimeout time.Duration
}

// Report summarizes one sweep.
type Report struct {
	Tier      domain.Frequency `json:"tier"`
	Started   time.Time        `json:"started"`
	Duration  time.Duration    `json:"duration"`
	Users     int              `json:"users"`
	Delivered int              `json:"delivered"`
	Skipped   int              `json:"skipped"`
	Failed    int              `json:"failed"`
	Errors    int              `json:"errors"`
	Err       string           `json:"err,omitempty"`
}

type Sweeper struct {
	cfg      Config
	users    UserSource
	catalog  CatalogSource
	ledger   Ledger
	dispatch Dispatcher
	bus      eventbus.Bus
	log      logx.Logger

	running [domain.FrequencyOff]atomic.Bool

	mu   sync.Mutex
	last map[domain.Frequency]Report
}

func New(cfg Config, users UserSource, catalog CatalogSource, l Ledger, d Dispatcher, bus eventbus.Bus, log logx.Logger) *Sweeper {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 10 * time.Second
	}
	return &Sweeper{
		cfg:      cfg,
		users:    users,
		catalog:  catalog,
		ledger:   l,
		dispatch: d,
		bus:      bus,
		log:      log.Component("cadence"),
		last:     make(map[domain.Frequency]Report),
	}
}

// Limit is the per-user match cap for a tier.
func (s *Sweeper) Limit(f domain.Frequency) int {
	if f == domain.FrequencyHourly {
		return max(s.cfg.HourlyLimit, 1)
	}
	return max(s.cfg.DailyLimit, 1)
}

// Sweep evaluates every user of tier f once. Per-user failures are counted
// and skipped; a store outage aborts the whole sweep.
func (s *Sweeper) Sweep(ctx context.Context, f domain.Frequency) (Report, error) {
	if f == domain.FrequencyOff || !f.Valid() {
		return Report{Tier: f}, ErrTierNotSwept
	}
	guard := &s.running[f]
	if !guard.CompareAndSwap(false, true) {
		return Report{Tier: f}, ErrSweepInProgress
	}
	defer guard.Store(false)

	rep := Report{Tier: f, Started: time.Now()}
	err := s.sweep(ctx, f, &rep)
	rep.Duration = time.Since(rep.Started)
	if err != nil {
		rep.Err = err.Error()
	}
	s.finish(rep)
	return rep, err
}

func (s *Sweeper) sweep(ctx context.Context, f domain.Frequency, rep *Report) error {
	sctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	users, err := s.users.FindUsersByFrequency(sctx, f)
	cancel()
	if err != nil {
		return domain.StoreError("users.by_frequency", err)
	}
	rep.Users = len(users)
	if len(users) == 0 {
		return nil
	}

	sctx, cancel = context.WithTimeout(ctx, s.cfg.StoreTimeout)
	catalog, now, err := s.catalog.Snapshot(sctx)
	cancel()
	if err != nil {
		return err
	}

	var delivered, skipped, failed, errs atomic.Int64
	limit := s.Limit(f)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, u := range users {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			err := s.sweepUser(gctx, u, catalog, now, limit, func(o dispatch.Outcome) {
				switch o {
				case dispatch.Delivered:
					delivered.Add(1)
				case dispatch.Failed:
					failed.Add(1)
				default:
					skipped.Add(1)
				}
			})
			if err == nil {
				return nil
			}
			if errors.Is(err, domain.ErrStoreUnavailable) || gctx.Err() != nil {
				return err
			}
			errs.Add(1)
			s.log.Warn("sweep user failed", logx.String("user_id", u.ID), logx.Err(err))
			return nil
		})
	}
	err = g.Wait()

	rep.Delivered = int(delivered.Load())
	rep.Skipped = int(skipped.Load())
	rep.Failed = int(failed.Load())
	rep.Errors = int(errs.Load())
	if err == nil {
		err = ctx.Err()
	}
	return err
}

func (s *Sweeper) sweepUser(ctx context.Context, u domain.User, catalog []domain.Event, now time.Time, limit int, count func(dispatch.Outcome)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	sctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	seen, err := s.ledger.NotifiedEventIDs(sctx, u.ID)
	cancel()
	if err != nil {
		return err
	}
	crit, err := matching.Normalize(u.Preferences.Partial())
	if err != nil {
		return err
	}

	fresh := make([]domain.Event, 0, len(catalog))
	for _, ev := range catalog {
		if _, ok := seen[ev.ID]; !ok {
			fresh = append(fresh, ev)
		}
	}
	for _, ev := range matching.Match(crit, fresh, now, limit) {
		out, err := s.dispatch.Dispatch(ctx, u, ev, domain.OriginAuto)
		if err != nil {
			// the message may have gone out before the store failed
			if out == dispatch.Delivered {
				count(out)
			}
			return err
		}
		count(out)
	}
	return nil
}

func (s *Sweeper) finish(rep Report) {
	s.mu.Lock()
	s.last[rep.Tier] = rep
	s.mu.Unlock()

	fields := []logx.Field{
		logx.String("tier", rep.Tier.String()),
		logx.Int("users", rep.Users),
		logx.Int("delivered", rep.Delivered),
		logx.Int("skipped", rep.Skipped),
		logx.Int("failed", rep.Failed),
		logx.Int("errors", rep.Errors),
		logx.Duration("dur", rep.Duration),
	}
	if rep.Err != "" {
		s.log.Error("sweep aborted", append(fields, logx.String("err", rep.Err))...)
	} else {
		s.log.Info("sweep completed", fields...)
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.SweepCompleted, Data: rep})
}

// LastReports returns the most recent report per swept tier, hourly first.
func (s *Sweeper) LastReports() []Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Report, 0, len(s.last))
	for _, f := range []domain.Frequency{domain.FrequencyHourly, domain.FrequencyDaily} {
		if r, ok := s.last[f]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Prune retires ledger rows older than the configured retention.
func (s *Sweeper) Prune(ctx context.Context) (ledger.PruneResult, error) {
	sctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	res, err := s.ledger.Prune(sctx, s.cfg.Retention)
	if err != nil {
		return res, err
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.LedgerPruned, Data: res})
	return res, nil
}
