package matching

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"eventpulse/internal/domain"
)

func strp(s string) *string { return &s }
func fp(v float64) *float64 { return &v }

func ids(evs []domain.Event) []string {
	out := make([]string, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.ID)
	}
	return out
}

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func TestNormalizeCanonicalizes(t *testing.T) {
	t.Parallel()

	c, err := Normalize(domain.PartialPreferences{
		EventTypes: []string{" Concert", "concert", "", "JAZZ "},
		Location:   strp("  new   YORK "),
		Keywords:   []string{"Rock", " rock"},
		Budget:     &domain.Budget{Min: fp(-5)},
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if want := map[string]struct{}{"concert": {}, "jazz": {}}; !reflect.DeepEqual(c.EventTypes, want) {
		t.Fatalf("types=%v want %v", c.EventTypes, want)
	}
	if c.Location == nil || *c.Location != "New York" {
		t.Fatalf("location=%v", c.Location)
	}
	if len(c.Keywords) != 1 {
		t.Fatalf("keywords=%v", c.Keywords)
	}
	if c.Budget == nil || *c.Budget.Min != 0 || c.Budget.Max != nil {
		t.Fatalf("budget=%+v", c.Budget)
	}
	if c.Frequency != domain.FrequencyDaily {
		t.Fatalf("frequency=%v want daily", c.Frequency)
	}
}

func TestNormalizeEmptyFields(t *testing.T) {
	t.Parallel()

	c, err := Normalize(domain.PartialPreferences{Location: strp("   "), Budget: &domain.Budget{}})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if c.Location != nil || c.Budget != nil {
		t.Fatalf("expected unset location and budget, got %+v", c)
	}
}

func TestNormalizeRejectsBadFrequency(t *testing.T) {
	t.Parallel()

	_, err := Normalize(domain.PartialPreferences{Frequency: strp("weekly")})
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || ve.Field != "frequency" {
		t.Fatalf("expected frequency validation error, got %v", err)
	}
}

func TestMerge(t *testing.T) {
	t.Parallel()

	cur := domain.Preferences{EventTypes: []string{"art"}, Location: "Austin", Frequency: domain.FrequencyHourly}

	out, err := Merge(cur, domain.PartialPreferences{Keywords: []string{"Wine"}})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if out.Frequency != domain.FrequencyHourly || out.Location != "Austin" || !reflect.DeepEqual(out.EventTypes, []string{"art"}) {
		t.Fatalf("stored fields not kept: %+v", out)
	}
	if !reflect.DeepEqual(out.Keywords, []string{"wine"}) {
		t.Fatalf("keywords=%v", out.Keywords)
	}

	if _, err := Merge(cur, domain.PartialPreferences{Frequency: strp("sometimes")}); err == nil {
		t.Fatalf("expected validation error")
	}

	out, err = Merge(cur, domain.PartialPreferences{Frequency: strp("OFF")})
	if err != nil || out.Frequency != domain.FrequencyOff {
		t.Fatalf("frequency=%v err=%v", out.Frequency, err)
	}
}

func TestMatchFreeVersusPriced(t *testing.T) {
	t.Parallel()

	catalog := []domain.Event{
		{ID: "paid", Type: "Concert", Location: "New York, NY", StartDate: now.Add(48 * time.Hour), Price: fp(200)},
		{ID: "free", Type: "concert", Location: "Brooklyn, New York", StartDate: now.Add(72 * time.Hour), Price: fp(0)},
		{ID: "unpriced", Type: "concert", Location: "new york", StartDate: now.Add(96 * time.Hour)},
	}
	c, err := Normalize(domain.PartialPreferences{
		EventTypes: []string{"concert"},
		Location:   strp("new york"),
		Budget:     &domain.Budget{Max: fp(0)},
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	got := ids(Match(c, catalog, now, 10))
	if want := []string{"free", "unpriced"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestMatchFilters(t *testing.T) {
	t.Parallel()

	catalog := []domain.Event{
		{ID: "past", Type: "workshop", StartDate: now.Add(-time.Minute)},
		{ID: "edge", Type: "workshop", StartDate: now},
		{ID: "title", Type: "conference", Title: "AI Summit", StartDate: now.Add(time.Hour)},
		{ID: "tag", Type: "conference", Tags: []string{"ai"}, StartDate: now.Add(2 * time.Hour)},
		{ID: "tagcase", Type: "conference", Tags: []string{"AI"}, StartDate: now.Add(3 * time.Hour)},
		{ID: "desc", Type: "festival", Description: "Lots of wine", StartDate: now.Add(4 * time.Hour)},
	}

	tests := []struct {
		name string
		raw  domain.PartialPreferences
		want []string
	}{
		{"no constraints", domain.PartialPreferences{}, []string{"edge", "title", "tag", "tagcase", "desc"}},
		{"type", domain.PartialPreferences{EventTypes: []string{"Workshop"}}, []string{"edge"}},
		{"keyword title or exact tag", domain.PartialPreferences{Keywords: []string{"AI"}}, []string{"title", "tag"}},
		{"keyword description", domain.PartialPreferences{Keywords: []string{"wine"}}, []string{"desc"}},
		{"min above max", domain.PartialPreferences{Budget: &domain.Budget{Min: fp(10), Max: fp(5)}}, []string{"edge", "title", "tag", "tagcase", "desc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, err := Normalize(tt.raw)
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if got := ids(Match(c, catalog, now, 100)); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %v want %v", got, tt.want)
			}
		})
	}
}

func TestMatchOrderAndLimit(t *testing.T) {
	t.Parallel()

	at := now.Add(time.Hour)
	catalog := []domain.Event{
		{ID: "late", StartDate: now.Add(5 * time.Hour)},
		{ID: "a", StartDate: at},
		{ID: "b", StartDate: at},
		{ID: "early", StartDate: now.Add(30 * time.Minute)},
	}
	c, _ := Normalize(domain.PartialPreferences{})

	if got, want := ids(Match(c, catalog, now, 3)), []string{"early", "a", "b"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
	if got := Match(c, catalog, now, 0); len(got) != 1 {
		t.Fatalf("limit 0 should behave as 1, got %d", len(got))
	}
	if got := Match(c, nil, now, 3); len(got) != 0 {
		t.Fatalf("empty catalog should give no matches, got %v", got)
	}
}

type fakeEvents struct {
	events []domain.Event
	err    error
	last   domain.EventQuery
}

func (f *fakeEvents) FindUpcomingEvents(_ context.Context, q domain.EventQuery) ([]domain.Event, error) {
	f.last = q
	return f.events, f.err
}

func TestMatcherFind(t *testing.T) {
	t.Parallel()

	src := &fakeEvents{events: []domain.Event{
		{ID: "x", Type: "art", StartDate: now.Add(time.Hour)},
	}}
	m := NewMatcher(src, func() time.Time { return now })
	c, _ := Normalize(domain.PartialPreferences{EventTypes: []string{"art", "food"}})

	got, err := m.Find(context.Background(), c, 3)
	if err != nil || len(got) != 1 {
		t.Fatalf("Find: %v %v", got, err)
	}
	if !src.last.StartFrom.Equal(now) || !reflect.DeepEqual(src.last.Types, []string{"art", "food"}) {
		t.Fatalf("query not pushed down: %+v", src.last)
	}

	src.err = errors.New("boom")
	if _, err := m.Find(context.Background(), c, 3); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
}
