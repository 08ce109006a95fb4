package matching

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"

	"eventpulse/internal/domain"
)

// Match filters catalog against c and returns at most limit events ordered
// by start date. Equal start dates keep catalog order. It never returns an
// event that started before now.
func Match(c Criteria, catalog []domain.Event, now time.Time, limit int) []domain.Event {
	if limit < 1 {
		limit = 1
	}
	out := make([]domain.Event, 0, min(limit, len(catalog)))
	for _, ev := range catalog {
		if accepts(c, ev, now) {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartDate.Before(out[j].StartDate)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func accepts(c Criteria, ev domain.Event, now time.Time) bool {
	if ev.StartDate.Before(now) {
		return false
	}
	if len(c.EventTypes) > 0 {
		if _, ok := c.EventTypes[strings.ToLower(strings.TrimSpace(ev.Type))]; !ok {
			return false
		}
	}
	if c.Location != nil && !containsFold(ev.Location, *c.Location) {
		return false
	}
	if c.Budget != nil && ev.Price != nil {
		p := *ev.Price
		if c.Budget.Min != nil && p < *c.Budget.Min {
			return false
		}
		if c.Budget.Max != nil && p > *c.Budget.Max {
			return false
		}
	}
	if len(c.Keywords) > 0 && !matchesKeyword(c.Keywords, ev) {
		return false
	}
	return true
}

func matchesKeyword(keywords map[string]struct{}, ev domain.Event) bool {
	for kw := range keywords {
		if containsFold(ev.Title, kw) || containsFold(ev.Description, kw) {
			return true
		}
		if slices.Contains(ev.Tags, kw) {
			return true
		}
	}
	return false
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// EventSource is the catalog read the Matcher needs.
type EventSource interface {
	FindUpcomingEvents(ctx context.Context, q domain.EventQuery) ([]domain.Event, error)
}

// Matcher runs Match against a persistent catalog.
type Matcher struct {
	events EventSource
	now    func() time.Time
}

func NewMatcher(events EventSource, now func() time.Time) *Matcher {
	if now == nil {
		now = time.Now
	}
	return &Matcher{events: events, now: now}
}

// Find loads upcoming events (pushing the date and type filters down to the
// store) and returns the best limit matches.
func (m *Matcher) Find(ctx context.Context, c Criteria, limit int) ([]domain.Event, error) {
	now := m.now()
	q := domain.EventQuery{StartFrom: now, Types: sortedKeys(c.EventTypes)}
	catalog, err := m.events.FindUpcomingEvents(ctx, q)
	if err != nil {
		return nil, domain.StoreError("events.upcoming", err)
	}
	return Match(c, catalog, now, limit), nil
}

// Snapshot loads every upcoming event once, for callers matching many users
// against the same catalog.
func (m *Matcher) Snapshot(ctx context.Context) ([]domain.Event, time.Time, error) {
	now := m.now()
	catalog, err := m.events.FindUpcomingEvents(ctx, domain.EventQuery{StartFrom: now})
	if err != nil {
		return nil, now, domain.StoreError("events.upcoming", err)
	}
	return catalog, now, nil
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
