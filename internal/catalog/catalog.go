// Package catalog loads event files (YAML or JSON) and inserts them into
// the event store.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"eventpulse/internal/config"
	"eventpulse/internal/domain"
	"eventpulse/internal/storage"
	"eventpulse/pkg/logx"
)

type Inserter interface {
	InsertEvent(ctx context.Context, ev *domain.Event) error
}

type Result struct {
	Inserted   int
	Duplicates int
}

// file accepts either a bare list or {"events": [...]}.
type file struct {
	Events []domain.Event `json:"events"`
}

// Load reads and validates every event in path. Times use RFC 3339. All
// validation errors are returned together.
func Load(path string) ([]domain.Event, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var events []domain.Event
	if err := config.DecodeFile(path, b, &events); err != nil {
		var f file
		if err2 := config.DecodeFile(path, b, &f); err2 != nil {
			return nil, fmt.Errorf("catalog %s: %w", path, err)
		}
		events = f.Events
	}

	var errs []error
	for i := range events {
		normalize(&events[i])
		if err := Validate(events[i]); err != nil {
			errs = append(errs, fmt.Errorf("event %d (%q): %w", i, events[i].Title, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return events, nil
}

func normalize(ev *domain.Event) {
	ev.Title = strings.TrimSpace(ev.Title)
	ev.Type = strings.ToLower(strings.TrimSpace(ev.Type))
	ev.Location = strings.TrimSpace(ev.Location)
	ev.Seq = 0
}

// Validate checks the fields the matcher relies on.
func Validate(ev domain.Event) error {
	switch {
	case ev.Title == "":
		return &domain.ValidationError{Field: "title", Msg: "required"}
	case ev.Type == "":
		return &domain.ValidationError{Field: "type", Msg: "required"}
	case ev.Location == "":
		return &domain.ValidationError{Field: "location", Msg: "required"}
	case ev.StartDate.IsZero():
		return &domain.ValidationError{Field: "startDate", Msg: "required"}
	case ev.Price != nil && *ev.Price < 0:
		return &domain.ValidationError{Field: "price", Value: fmt.Sprint(*ev.Price), Msg: "must be >= 0"}
	case ev.EndDate != nil && ev.EndDate.Before(ev.StartDate):
		return &domain.ValidationError{Field: "endDate", Value: ev.EndDate.String(), Msg: "before startDate"}
	}
	return nil
}

// Import inserts events one by one. Events whose id already exists are
// counted as duplicates, so re-running an import is harmless.
func Import(ctx context.Context, store Inserter, events []domain.Event, log logx.Logger) (Result, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	var res Result
	for i := range events {
		ev := events[i]
		err := store.InsertEvent(ctx, &ev)
		switch {
		case errors.Is(err, storage.ErrEventExists):
			res.Duplicates++
			log.Debug("event already imported", logx.String("id", ev.ID))
		case err != nil:
			return res, domain.StoreError("events.insert", err)
		default:
			res.Inserted++
		}
	}
	log.Info("catalog imported", logx.Int("inserted", res.Inserted), logx.Int("duplicates", res.Duplicates))
	return res, nil
}
