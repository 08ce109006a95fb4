package ledger

import (
	"context"
	"time"

	"eventpulse/internal/domain"
)

// DayCount is the number of ledger rows created on one calendar day.
type DayCount struct {
	Day   string // 2006-01-02
	Count int
}

type Stats struct {
	Total  int64
	PerDay []DayCount // oldest first, one entry per day including empty ones
}

// Stats counts ledger rows in total and per day for the last days days
// (today included), bucketed in loc.
func (s *Service) Stats(ctx context.Context, days int, loc *time.Location) (Stats, error) {
	if days < 1 {
		days = 1
	}
	if loc == nil {
		loc = time.Local
	}
	total, err := s.store.CountNotifications(ctx)
	if err != nil {
		return Stats{}, domain.StoreError("ledger.count", err)
	}

	now := s.now().In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	from := today.AddDate(0, 0, -(days - 1))
	times, err := s.store.NotificationTimesSince(ctx, from)
	if err != nil {
		return Stats{}, domain.StoreError("ledger.times", err)
	}

	idx := make(map[string]int, days)
	out := Stats{Total: total, PerDay: make([]DayCount, days)}
	for i := range days {
		d := from.AddDate(0, 0, i).Format(time.DateOnly)
		out.PerDay[i].Day = d
		idx[d] = i
	}
	for _, t := range times {
		if i, ok := idx[t.In(loc).Format(time.DateOnly)]; ok {
			out.PerDay[i].Count++
		}
	}
	return out, nil
}
