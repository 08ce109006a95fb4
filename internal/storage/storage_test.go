package storage

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"eventpulse/internal/domain"
	"eventpulse/pkg/logx"
)

type opener func(t *testing.T) Store

func drivers() map[string]opener {
	return map[string]opener{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"sqlite": func(t *testing.T) Store {
			st, err := Open(context.Background(), Config{
				Driver: "sqlite",
				Path:   filepath.Join(t.TempDir(), "eventpulse.db"),
			}, logx.Nop())
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			t.Cleanup(func() { _ = st.Close() })
			return st
		},
	}
}

func forEachDriver(t *testing.T, fn func(t *testing.T, st Store)) {
	for name, open := range drivers() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			fn(t, open(t))
		})
	}
}

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestUsers(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		u := &domain.User{ChannelID: 100, Username: "ana", CreatedAt: base, LastActiveAt: base,
			Preferences: domain.Preferences{Frequency: domain.FrequencyHourly, Keywords: []string{"jazz"}}}
		if err := st.InsertUser(ctx, u); err != nil {
			t.Fatalf("InsertUser: %v", err)
		}
		if u.ID == "" {
			t.Fatalf("id not assigned")
		}
		if err := st.InsertUser(ctx, &domain.User{ChannelID: 100}); !errors.Is(err, ErrUserExists) {
			t.Fatalf("expected ErrUserExists, got %v", err)
		}
		if err := st.InsertUser(ctx, &domain.User{ChannelID: 200, CreatedAt: base.Add(time.Minute), LastActiveAt: base}); err != nil {
			t.Fatalf("InsertUser 2: %v", err)
		}

		got, err := st.FindUserByChannelID(ctx, 100)
		if err != nil || got.ID != u.ID || got.Preferences.Frequency != domain.FrequencyHourly {
			t.Fatalf("FindUserByChannelID: %+v %v", got, err)
		}
		if _, err := st.FindUserByID(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		hourly, _ := st.FindUsersByFrequency(ctx, domain.FrequencyHourly)
		daily, _ := st.FindUsersByFrequency(ctx, domain.FrequencyDaily)
		if len(hourly) != 1 || len(daily) != 1 {
			t.Fatalf("hourly=%d daily=%d", len(hourly), len(daily))
		}

		prefs := got.Preferences
		prefs.Frequency = domain.FrequencyOff
		later := base.Add(24 * time.Hour)
		if err := st.UpdatePreferences(ctx, u.ID, prefs, later); err != nil {
			t.Fatalf("UpdatePreferences: %v", err)
		}
		if hourly, _ := st.FindUsersByFrequency(ctx, domain.FrequencyHourly); len(hourly) != 0 {
			t.Fatalf("user still hourly after update")
		}
		if n, _ := st.CountUsersActiveSince(ctx, base.Add(time.Hour)); n != 1 {
			t.Fatalf("active users=%d want 1", n)
		}
		if n, _ := st.CountUsers(ctx); n != 2 {
			t.Fatalf("users=%d want 2", n)
		}
	})
}

func TestUpcomingEvents(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		price := 12.5
		evs := []*domain.Event{
			{ID: "later", Title: "Later", Type: "Concert", StartDate: base.Add(48 * time.Hour), Price: &price, Tags: []string{"jazz"}},
			{ID: "past", Title: "Past", Type: "concert", StartDate: base.Add(-time.Hour)},
			{ID: "sooner", Title: "Sooner", Type: "workshop", StartDate: base.Add(time.Hour)},
		}
		for _, ev := range evs {
			if err := st.InsertEvent(ctx, ev); err != nil {
				t.Fatalf("InsertEvent: %v", err)
			}
		}
		if err := st.InsertEvent(ctx, &domain.Event{ID: "later", Title: "dup", StartDate: base}); !errors.Is(err, ErrEventExists) {
			t.Fatalf("expected ErrEventExists, got %v", err)
		}
		if evs[0].Seq == 0 || evs[2].Seq <= evs[0].Seq {
			t.Fatalf("seq not increasing: %d %d", evs[0].Seq, evs[2].Seq)
		}

		got, err := st.FindUpcomingEvents(ctx, domain.EventQuery{StartFrom: base})
		if err != nil {
			t.Fatalf("FindUpcomingEvents: %v", err)
		}
		var ids []string
		for _, ev := range got {
			ids = append(ids, ev.ID)
		}
		if want := []string{"later", "sooner"}; !slices.Equal(ids, want) {
			t.Fatalf("got %v want %v (insertion order)", ids, want)
		}
		if got[0].Price == nil || *got[0].Price != price || !slices.Equal(got[0].Tags, []string{"jazz"}) {
			t.Fatalf("fields lost: %+v", got[0])
		}

		got, _ = st.FindUpcomingEvents(ctx, domain.EventQuery{StartFrom: base, Types: []string{"concert"}})
		if len(got) != 1 || got[0].ID != "later" {
			t.Fatalf("type filter: %+v", got)
		}

		ev, err := st.FindEvent(ctx, "sooner")
		if err != nil || !ev.StartDate.Equal(base.Add(time.Hour)) {
			t.Fatalf("FindEvent: %+v %v", ev, err)
		}
	})
}

func TestNotificationLedgerRows(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		n := domain.Notification{ID: "n1", UserID: "u1", EventID: "e1", SentAt: base, Status: domain.StatusPending, Origin: domain.OriginAuto}
		if err := st.InsertNotification(ctx, n); err != nil {
			t.Fatalf("InsertNotification: %v", err)
		}
		dup := n
		dup.ID = "n2"
		if err := st.InsertNotification(ctx, dup); !errors.Is(err, domain.ErrDuplicatePair) {
			t.Fatalf("expected ErrDuplicatePair, got %v", err)
		}

		ok, err := st.UpdateNotificationStatus(ctx, "n1", domain.StatusPending, domain.StatusSent)
		if err != nil || !ok {
			t.Fatalf("pending->sent: ok=%v err=%v", ok, err)
		}
		ok, _ = st.UpdateNotificationStatus(ctx, "n1", domain.StatusPending, domain.StatusFailed)
		if ok {
			t.Fatalf("sent row moved backward")
		}
		got, _ := st.FindNotification(ctx, "u1", "e1")
		if got.Status != domain.StatusSent {
			t.Fatalf("status=%s want sent", got.Status)
		}

		stale := domain.Notification{ID: "n3", UserID: "u1", EventID: "e2", SentAt: base.Add(-time.Hour), Status: domain.StatusPending}
		if err := st.InsertNotification(ctx, stale); err != nil {
			t.Fatalf("insert stale: %v", err)
		}
		if n, _ := st.FailPendingBefore(ctx, base.Add(-30*time.Minute)); n != 1 {
			t.Fatalf("failed %d pending rows, want 1", n)
		}
		if got, _ := st.FindNotification(ctx, "u1", "e2"); got.Status != domain.StatusFailed {
			t.Fatalf("stale status=%s", got.Status)
		}

		ids, _ := st.NotifiedEventIDs(ctx, "u1")
		slices.Sort(ids)
		if !slices.Equal(ids, []string{"e1", "e2"}) {
			t.Fatalf("notified ids=%v", ids)
		}
		if times, _ := st.NotificationTimesSince(ctx, base); len(times) != 1 {
			t.Fatalf("times since base=%v", times)
		}

		if n, _ := st.DeleteNotificationsBefore(ctx, base); n != 1 {
			t.Fatalf("deleted %d, want 1", n)
		}
		if n, _ := st.CountNotifications(ctx); n != 1 {
			t.Fatalf("remaining=%d want 1", n)
		}
	})
}

func TestConcurrentInsertNotificationSingleWinner(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		const workers = 16
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := st.InsertNotification(ctx, domain.Notification{
					ID: string(rune('a' + i)), UserID: "u", EventID: "e", SentAt: base, Status: domain.StatusPending,
				})
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				} else if !errors.Is(err, domain.ErrDuplicatePair) {
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		if wins != 1 {
			t.Fatalf("wins=%d want 1", wins)
		}
		if n, _ := st.CountNotifications(ctx); n != 1 {
			t.Fatalf("rows=%d want 1", n)
		}
	})
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(context.Background(), Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatalf("expected error")
	}
}
