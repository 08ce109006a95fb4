package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"eventpulse/internal/domain"
	"eventpulse/pkg/logx"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (*sqliteStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}

	if _, err := db.ExecContext(ctx, migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	return domain.StoreError("ping", s.db.PingContext(ctx))
}

func (s *sqliteStore) Close() error { return s.db.Close() }

// users

const userCols = `id, channel_id, username, first_name, last_name, preferences, created_at_ns, last_active_ns`

func (s *sqliteStore) InsertUser(ctx context.Context, u *domain.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	prefs, err := json.Marshal(u.Preferences)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, channel_id, username, first_name, last_name, frequency, preferences, created_at_ns, last_active_ns)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(channel_id) DO NOTHING`,
		u.ID, u.ChannelID, u.Username, u.FirstName, u.LastName,
		u.Preferences.Frequency.String(), string(prefs), u.CreatedAt.UnixNano(), u.LastActiveAt.UnixNano(),
	)
	if err != nil {
		return domain.StoreError("users.insert", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserExists
	}
	return nil
}

func (s *sqliteStore) FindUserByID(ctx context.Context, id string) (domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = ?`, id)
	return scanUser(row, "users.find")
}

func (s *sqliteStore) FindUserByChannelID(ctx context.Context, channelID int64) (domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE channel_id = ?`, channelID)
	return scanUser(row, "users.find_channel")
}

func (s *sqliteStore) FindUsersByFrequency(ctx context.Context, f domain.Frequency) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userCols+` FROM users WHERE frequency = ? ORDER BY created_at_ns, id`, f.String())
	if err != nil {
		return nil, domain.StoreError("users.by_frequency", err)
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		u, err := scanUser(rows, "users.by_frequency")
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, domain.StoreError("users.by_frequency", rows.Err())
}

func (s *sqliteStore) UpdatePreferences(ctx context.Context, id string, prefs domain.Preferences, activeAt time.Time) error {
	b, err := json.Marshal(prefs)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET preferences = ?, frequency = ?, last_active_ns = ? WHERE id = ?`,
		string(b), prefs.Frequency.String(), activeAt.UnixNano(), id)
	if err != nil {
		return domain.StoreError("users.update_prefs", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *sqliteStore) CountUsers(ctx context.Context) (int64, error) {
	return s.count(ctx, "users.count", `SELECT COUNT(*) FROM users`)
}

func (s *sqliteStore) CountUsersActiveSince(ctx context.Context, t time.Time) (int64, error) {
	return s.count(ctx, "users.count_active", `SELECT COUNT(*) FROM users WHERE last_active_ns >= ?`, t.UnixNano())
}

type scanner interface{ Scan(dest ...any) error }

func scanUser(sc scanner, op string) (domain.User, error) {
	var (
		u                 domain.User
		prefs             string
		createdNS, lastNS int64
	)
	err := sc.Scan(&u.ID, &u.ChannelID, &u.Username, &u.FirstName, &u.LastName, &prefs, &createdNS, &lastNS)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.User{}, domain.StoreError(op, err)
	}
	if err := json.Unmarshal([]byte(prefs), &u.Preferences); err != nil {
		return domain.User{}, fmt.Errorf("%s: decode preferences of %s: %w", op, u.ID, err)
	}
	u.CreatedAt = time.Unix(0, createdNS)
	u.LastActiveAt = time.Unix(0, lastNS)
	return u, nil
}

// events

const eventCols = `seq, id, title, description, type, location, venue, start_ns, end_ns, price, url, image_url, tags, source`

func (s *sqliteStore) InsertEvent(ctx context.Context, ev *domain.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	tags, err := json.Marshal(ev.Tags)
	if err != nil {
		return err
	}
	var end sql.NullInt64
	if ev.EndDate != nil {
		end = sql.NullInt64{Int64: ev.EndDate.UnixNano(), Valid: true}
	}
	var price sql.NullFloat64
	if ev.Price != nil {
		price = sql.NullFloat64{Float64: *ev.Price, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events(id, title, description, type, type_lc, location, venue, start_ns, end_ns, price, url, image_url, tags, source)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO NOTHING`,
		ev.ID, ev.Title, ev.Description, ev.Type, strings.ToLower(strings.TrimSpace(ev.Type)),
		ev.Location, ev.Venue, ev.StartDate.UnixNano(), end, price, ev.URL, ev.ImageURL, string(tags), ev.Source,
	)
	if err != nil {
		return domain.StoreError("events.insert", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEventExists
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return domain.StoreError("events.insert", err)
	}
	ev.Seq = seq
	return nil
}

func (s *sqliteStore) FindEvent(ctx context.Context, id string) (domain.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventCols+` FROM events WHERE id = ?`, id)
	return scanEvent(row, "events.find")
}

func (s *sqliteStore) FindUpcomingEvents(ctx context.Context, q domain.EventQuery) ([]domain.Event, error) {
	query := `SELECT ` + eventCols + ` FROM events WHERE start_ns >= ?`
	args := []any{q.StartFrom.UnixNano()}
	if len(q.Types) > 0 {
		query += ` AND type_lc IN (` + strings.TrimSuffix(strings.Repeat("?,", len(q.Types)), ",") + `)`
		for _, t := range q.Types {
			args = append(args, t)
		}
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.StoreError("events.upcoming", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows, "events.upcoming")
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, domain.StoreError("events.upcoming", rows.Err())
}

func (s *sqliteStore) CountEvents(ctx context.Context) (int64, error) {
	return s.count(ctx, "events.count", `SELECT COUNT(*) FROM events`)
}

func scanEvent(sc scanner, op string) (domain.Event, error) {
	var (
		ev      domain.Event
		startNS int64
		endNS   sql.NullInt64
		price   sql.NullFloat64
		tags    string
	)
	err := sc.Scan(&ev.Seq, &ev.ID, &ev.Title, &ev.Description, &ev.Type, &ev.Location, &ev.Venue,
		&startNS, &endNS, &price, &ev.URL, &ev.ImageURL, &tags, &ev.Source)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Event{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Event{}, domain.StoreError(op, err)
	}
	ev.StartDate = time.Unix(0, startNS)
	if endNS.Valid {
		end := time.Unix(0, endNS.Int64)
		ev.EndDate = &end
	}
	if price.Valid {
		p := price.Float64
		ev.Price = &p
	}
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &ev.Tags); err != nil {
			return domain.Event{}, fmt.Errorf("%s: decode tags of %s: %w", op, ev.ID, err)
		}
	}
	return ev, nil
}

// notifications

func (s *sqliteStore) InsertNotification(ctx context.Context, n domain.Notification) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications(id, user_id, event_id, sent_at_ns, status, origin)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(user_id, event_id) DO NOTHING`,
		n.ID, n.UserID, n.EventID, n.SentAt.UnixNano(), string(n.Status), string(n.Origin),
	)
	if err != nil {
		return domain.StoreError("notifications.insert", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return domain.ErrDuplicatePair
	}
	return nil
}

func (s *sqliteStore) FindNotification(ctx context.Context, userID, eventID string) (domain.Notification, error) {
	var (
		n              domain.Notification
		sentNS         int64
		status, origin string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, event_id, sent_at_ns, status, origin FROM notifications WHERE user_id = ? AND event_id = ?`,
		userID, eventID,
	).Scan(&n.ID, &n.UserID, &n.EventID, &sentNS, &status, &origin)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Notification{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Notification{}, domain.StoreError("notifications.find", err)
	}
	n.SentAt = time.Unix(0, sentNS)
	n.Status = domain.Status(status)
	n.Origin = domain.Origin(origin)
	return n, nil
}

func (s *sqliteStore) UpdateNotificationStatus(ctx context.Context, id string, from, to domain.Status) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = ? WHERE id = ? AND status = ?`, string(to), id, string(from))
	if err != nil {
		return false, domain.StoreError("notifications.update_status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, domain.StoreError("notifications.update_status", err)
	}
	return n == 1, nil
}

func (s *sqliteStore) FailPendingBefore(ctx context.Context, t time.Time) (int64, error) {
	return s.exec(ctx, "notifications.fail_pending",
		`UPDATE notifications SET status = ? WHERE status = ? AND sent_at_ns < ?`,
		string(domain.StatusFailed), string(domain.StatusPending), t.UnixNano())
}

func (s *sqliteStore) DeleteNotificationsBefore(ctx context.Context, t time.Time) (int64, error) {
	return s.exec(ctx, "notifications.delete_before",
		`DELETE FROM notifications WHERE sent_at_ns < ?`, t.UnixNano())
}

func (s *sqliteStore) NotifiedEventIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT event_id FROM notifications WHERE user_id = ?`, userID)
	if err != nil {
		return nil, domain.StoreError("notifications.event_ids", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.StoreError("notifications.event_ids", err)
		}
		out = append(out, id)
	}
	return out, domain.StoreError("notifications.event_ids", rows.Err())
}

func (s *sqliteStore) CountNotifications(ctx context.Context) (int64, error) {
	return s.count(ctx, "notifications.count", `SELECT COUNT(*) FROM notifications`)
}

func (s *sqliteStore) NotificationTimesSince(ctx context.Context, t time.Time) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sent_at_ns FROM notifications WHERE sent_at_ns >= ? ORDER BY sent_at_ns`, t.UnixNano())
	if err != nil {
		return nil, domain.StoreError("notifications.times", err)
	}
	defer rows.Close()
	var out []time.Time
	for rows.Next() {
		var ns int64
		if err := rows.Scan(&ns); err != nil {
			return nil, domain.StoreError("notifications.times", err)
		}
		out = append(out, time.Unix(0, ns))
	}
	return out, domain.StoreError("notifications.times", rows.Err())
}

func (s *sqliteStore) count(ctx context.Context, op, query string, args ...any) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, domain.StoreError(op, err)
	}
	return n, nil
}

func (s *sqliteStore) exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, domain.StoreError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, domain.StoreError(op, err)
	}
	return n, nil
}
