package storage

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"eventpulse/internal/domain"

	"github.com/google/uuid"
)

// Memory is a process-local Store. All operations take a single mutex, so
// the (user, event) uniqueness check and insert are atomic.
type Memory struct {
	mu sync.Mutex

	users     map[string]domain.User
	byChannel map[int64]string

	events []domain.Event
	evIdx  map[string]int

	notifs map[string]domain.Notification
	byPair map[[2]string]string
}

func NewMemory() *Memory {
	return &Memory{
		users:     map[string]domain.User{},
		byChannel: map[int64]string{},
		evIdx:     map[string]int{},
		notifs:    map[string]domain.Notification{},
		byPair:    map[[2]string]string{},
	}
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }

func (m *Memory) InsertUser(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byChannel[u.ChannelID]; ok {
		return ErrUserExists
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	m.users[u.ID] = cloneUser(*u)
	m.byChannel[u.ChannelID] = u.ID
	return nil
}

func (m *Memory) FindUserByID(_ context.Context, id string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *Memory) FindUserByChannelID(_ context.Context, channelID int64) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byChannel[channelID]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return cloneUser(m.users[id]), nil
}

func (m *Memory) FindUsersByFrequency(_ context.Context, f domain.Frequency) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.User
	for _, u := range m.users {
		if u.Preferences.Frequency == f {
			out = append(out, cloneUser(u))
		}
	}
	slices.SortFunc(out, func(a, b domain.User) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (m *Memory) UpdatePreferences(_ context.Context, id string, prefs domain.Preferences, activeAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.Preferences = prefs
	u.LastActiveAt = activeAt
	m.users[id] = cloneUser(u)
	return nil
}

func (m *Memory) CountUsers(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.users)), nil
}

func (m *Memory) CountUsersActiveSince(_ context.Context, t time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, u := range m.users {
		if !u.LastActiveAt.Before(t) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) InsertEvent(_ context.Context, ev *domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if _, ok := m.evIdx[ev.ID]; ok {
		return ErrEventExists
	}
	ev.Seq = int64(len(m.events) + 1)
	m.evIdx[ev.ID] = len(m.events)
	m.events = append(m.events, *ev)
	return nil
}

func (m *Memory) FindEvent(_ context.Context, id string) (domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.evIdx[id]
	if !ok {
		return domain.Event{}, domain.ErrNotFound
	}
	return m.events[i], nil
}

func (m *Memory) FindUpcomingEvents(_ context.Context, q domain.EventQuery) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Event
	for _, ev := range m.events {
		if ev.StartDate.Before(q.StartFrom) {
			continue
		}
		if len(q.Types) > 0 && !slices.Contains(q.Types, strings.ToLower(ev.Type)) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (m *Memory) CountEvents(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.events)), nil
}

func (m *Memory) InsertNotification(_ context.Context, n domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]string{n.UserID, n.EventID}
	if _, ok := m.byPair[key]; ok {
		return domain.ErrDuplicatePair
	}
	m.notifs[n.ID] = n
	m.byPair[key] = n.ID
	return nil
}

func (m *Memory) FindNotification(_ context.Context, userID, eventID string) (domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byPair[[2]string{userID, eventID}]
	if !ok {
		return domain.Notification{}, domain.ErrNotFound
	}
	return m.notifs[id], nil
}

func (m *Memory) UpdateNotificationStatus(_ context.Context, id string, from, to domain.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifs[id]
	if !ok || n.Status != from {
		return false, nil
	}
	n.Status = to
	m.notifs[id] = n
	return true, nil
}

func (m *Memory) FailPendingBefore(_ context.Context, t time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, row := range m.notifs {
		if row.Status == domain.StatusPending && row.SentAt.Before(t) {
			row.Status = domain.StatusFailed
			m.notifs[id] = row
			n++
		}
	}
	return n, nil
}

func (m *Memory) DeleteNotificationsBefore(_ context.Context, t time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, row := range m.notifs {
		if row.SentAt.Before(t) {
			delete(m.notifs, id)
			delete(m.byPair, [2]string{row.UserID, row.EventID})
			n++
		}
	}
	return n, nil
}

func (m *Memory) NotifiedEventIDs(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, row := range m.notifs {
		if row.UserID == userID {
			out = append(out, row.EventID)
		}
	}
	return out, nil
}

func (m *Memory) CountNotifications(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.notifs)), nil
}

func (m *Memory) NotificationTimesSince(_ context.Context, t time.Time) ([]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []time.Time
	for _, row := range m.notifs {
		if !row.SentAt.Before(t) {
			out = append(out, row.SentAt)
		}
	}
	return out, nil
}

func cloneUser(u domain.User) domain.User {
	p := u.Preferences
	p.EventTypes = slices.Clone(p.EventTypes)
	p.Keywords = slices.Clone(p.Keywords)
	if p.Budget != nil {
		b := *p.Budget
		p.Budget = &b
	}
	if p.MaxDistance != nil {
		d := *p.MaxDistance
		p.MaxDistance = &d
	}
	u.Preferences = p
	return u
}
