// Package ledger owns the per-(user, event) notification records. It is the
// only writer of notification status.
package ledger

import (
	"context"
	"errors"
	"time"

	"eventpulse/internal/domain"
	"eventpulse/internal/storage"
	"eventpulse/pkg/logx"

	"github.com/google/uuid"
)

// ErrInvalidTransition is returned when a mark targets a row that is no
// longer pending.
var ErrInvalidTransition = errors.New("notification is not pending")

// Handle identifies a pending ledger row.
type Handle struct {
	ID      string
	UserID  string
	EventID string
}

// PruneResult counts what a prune pass changed.
type PruneResult struct {
	FailedPending int64
	Deleted       int64
}

type Option func(*Service)

// WithClock replaces time.Now (tests).
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithPendingGrace sets how long a pending row may stay pending before a
// prune pass treats it as an interrupted delivery.
func WithPendingGrace(d time.Duration) Option { return func(s *Service) { s.grace = d } }

func WithLogger(log logx.Logger) Option { return func(s *Service) { s.log = log } }

type Service struct {
	store storage.NotificationStore
	now   func() time.Time
	grace time.Duration
	log   logx.Logger
}

func New(store storage.NotificationStore, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now, grace: 15 * time.Minute}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.log = s.log.Component("ledger")
	return s
}

func (s *Service) HasBeenNotified(ctx context.Context, userID, eventID string) (bool, error) {
	_, err := s.store.FindNotification(ctx, userID, eventID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrNotFound):
		return false, nil
	default:
		return false, domain.StoreError("ledger.has_been_notified", err)
	}
}

// RecordPending claims the pair. Exactly one caller wins for a given pair;
// the rest get domain.ErrDuplicatePair.
func (s *Service) RecordPending(ctx context.Context, userID, eventID string, origin domain.Origin) (Handle, error) {
	if origin == "" {
		origin = domain.OriginAuto
	}
	n := domain.Notification{
		ID:      uuid.NewString(),
		UserID:  userID,
		EventID: eventID,
		SentAt:  s.now(),
		Status:  domain.StatusPending,
		Origin:  origin,
	}
	if err := s.store.InsertNotification(ctx, n); err != nil {
		if errors.Is(err, domain.ErrDuplicatePair) {
			return Handle{}, domain.ErrDuplicatePair
		}
		return Handle{}, domain.StoreError("ledger.record_pending", err)
	}
	return Handle{ID: n.ID, UserID: userID, EventID: eventID}, nil
}

func (s *Service) MarkSent(ctx context.Context, h Handle) error {
	return s.mark(ctx, h, domain.StatusSent)
}

func (s *Service) MarkFailed(ctx context.Context, h Handle) error {
	return s.mark(ctx, h, domain.StatusFailed)
}

func (s *Service) mark(ctx context.Context, h Handle, to domain.Status) error {
	ok, err := s.store.UpdateNotificationStatus(ctx, h.ID, domain.StatusPending, to)
	if err != nil {
		return domain.StoreError("ledger.mark_"+string(to), err)
	}
	if !ok {
		return ErrInvalidTransition
	}
	return nil
}

// Prune first fails pending rows older than the grace window, then deletes
// every row whose sentAt is older than olderThan, whatever its status.
func (s *Service) Prune(ctx context.Context, olderThan time.Duration) (PruneResult, error) {
	now := s.now()
	var res PruneResult

	failed, err := s.store.FailPendingBefore(ctx, now.Add(-s.grace))
	if err != nil {
		return res, domain.StoreError("ledger.fail_pending", err)
	}
	res.FailedPending = failed

	deleted, err := s.store.DeleteNotificationsBefore(ctx, now.Add(-olderThan))
	if err != nil {
		return res, domain.StoreError("ledger.prune", err)
	}
	res.Deleted = deleted

	s.log.Info("ledger pruned",
		logx.Int64("failed_pending", res.FailedPending),
		logx.Int64("deleted", res.Deleted),
		logx.Duration("retention", olderThan),
	)
	return res, nil
}

// NotifiedEventIDs returns every event the user has a ledger row for,
// whatever its status.
func (s *Service) NotifiedEventIDs(ctx context.Context, userID string) (map[string]struct{}, error) {
	ids, err := s.store.NotifiedEventIDs(ctx, userID)
	if err != nil {
		return nil, domain.StoreError("ledger.notified_ids", err)
	}
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}
