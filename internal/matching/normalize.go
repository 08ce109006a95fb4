package matching

import (
	"strings"
	"unicode"

	"eventpulse/internal/domain"
)

// Criteria is the canonical, ephemeral form of a user's preferences.
type Criteria struct {
	EventTypes map[string]struct{}
	Location   *string
	Budget     *domain.Budget
	Keywords   map[string]struct{}
	Frequency  domain.Frequency
}

// Normalize canonicalizes raw preferences. Missing fields mean "no
// constraint"; a missing frequency means daily. It fails only when a
// frequency is present and not one of the known tiers.
func Normalize(raw domain.PartialPreferences) (Criteria, error) {
	c := Criteria{
		EventTypes: toSet(canonicalList(raw.EventTypes)),
		Keywords:   toSet(canonicalList(raw.Keywords)),
		Budget:     canonicalBudget(raw.Budget),
		Frequency:  domain.FrequencyDaily,
	}
	if raw.Location != nil {
		if loc := CanonicalLocation(*raw.Location); loc != "" {
			c.Location = &loc
		}
	}
	if raw.Frequency != nil {
		f, err := domain.ParseFrequency(*raw.Frequency)
		if err != nil {
			return Criteria{}, err
		}
		c.Frequency = f
	}
	return c, nil
}

// Merge applies upd onto cur. Only provided fields replace stored ones; an
// absent frequency keeps the stored tier.
func Merge(cur domain.Preferences, upd domain.PartialPreferences) (domain.Preferences, error) {
	out := cur
	if upd.Frequency != nil {
		f, err := domain.ParseFrequency(*upd.Frequency)
		if err != nil {
			return cur, err
		}
		out.Frequency = f
	}
	if upd.EventTypes != nil {
		out.EventTypes = canonicalList(upd.EventTypes)
	}
	if upd.Keywords != nil {
		out.Keywords = canonicalList(upd.Keywords)
	}
	if upd.Location != nil {
		out.Location = CanonicalLocation(*upd.Location)
	}
	if upd.MaxDistance != nil {
		d := *upd.MaxDistance
		if d < 0 {
			d = 0
		}
		out.MaxDistance = &d
	}
	if upd.Budget != nil {
		out.Budget = canonicalBudget(upd.Budget)
	}
	return out, nil
}

// CanonicalLocation trims, collapses inner whitespace and title-cases each
// word: "  new   YORK " becomes "New York".
func CanonicalLocation(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		rs := []rune(strings.ToLower(w))
		rs[0] = unicode.ToUpper(rs[0])
		words[i] = string(rs)
	}
	return strings.Join(words, " ")
}

func canonicalList(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func canonicalBudget(b *domain.Budget) *domain.Budget {
	if b.IsZero() {
		return nil
	}
	out := &domain.Budget{}
	if b.Min != nil {
		v := max(*b.Min, 0)
		out.Min = &v
	}
	if b.Max != nil {
		v := max(*b.Max, 0)
		out.Max = &v
	}
	return out
}

func toSet(in []string) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for _, s := range in {
		out[s] = struct{}{}
	}
	return out
}
