package storage

import (
	"context"
	"errors"
	"time"

	"eventpulse/internal/domain"
)

var (
	// ErrUserExists is returned by InsertUser when the channel id is taken.
	ErrUserExists  = errors.New("user already exists")
	ErrEventExists = errors.New("event already exists")
)

// Config configures storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	URI         string        // mongo only
	Database    string        // mongo only
}

type UserStore interface {
	InsertUser(ctx context.Context, u *domain.User) error
	FindUserByID(ctx context.Context, id string) (domain.User, error)
	FindUserByChannelID(ctx context.Context, channelID int64) (domain.User, error)
	FindUsersByFrequency(ctx context.Context, f domain.Frequency) ([]domain.User, error)
	// UpdatePreferences writes only preferences and lastActiveAt.
	UpdatePreferences(ctx context.Context, id string, prefs domain.Preferences, activeAt time.Time) error
	CountUsers(ctx context.Context) (int64, error)
	CountUsersActiveSince(ctx context.Context, t time.Time) (int64, error)
}

type EventStore interface {
	// InsertEvent assigns ID (when empty) and Seq.
	InsertEvent(ctx context.Context, ev *domain.Event) error
	FindEvent(ctx context.Context, id string) (domain.Event, error)
	// FindUpcomingEvents returns events with StartDate >= q.StartFrom and,
	// when q.Types is set, a lowercased type in q.Types, in insertion order.
	FindUpcomingEvents(ctx context.Context, q domain.EventQuery) ([]domain.Event, error)
	CountEvents(ctx context.Context) (int64, error)
}

type NotificationStore interface {
	// InsertNotification is atomic per (UserID, EventID) and returns
	// domain.ErrDuplicatePair when the pair exists.
	InsertNotification(ctx context.Context, n domain.Notification) error
	FindNotification(ctx context.Context, userID, eventID string) (domain.Notification, error)
	// UpdateNotificationStatus moves a row from one status to another and
	// reports whether the row was in the expected status.
	UpdateNotificationStatus(ctx context.Context, id string, from, to domain.Status) (bool, error)
	FailPendingBefore(ctx context.Context, t time.Time) (int64, error)
	DeleteNotificationsBefore(ctx context.Context, t time.Time) (int64, error)
	NotifiedEventIDs(ctx context.Context, userID string) ([]string, error)
	CountNotifications(ctx context.Context) (int64, error)
	NotificationTimesSince(ctx context.Context, t time.Time) ([]time.Time, error)
}

// Store is the full persistence API.
type Store interface {
	UserStore
	EventStore
	NotificationStore
	Ping(ctx context.Context) error
	Close() error
}
