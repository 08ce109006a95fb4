package extract

import (
	"context"
	"strings"
	"unicode"

	"eventpulse/internal/domain"
)

type typeRule struct {
	words []string
	typ   string
}

var (
	typeRules = []typeRule{
		{[]string{"concert"}, "concert"},
		{[]string{"workshop"}, "workshop"},
		{[]string{"conference"}, "conference"},
		{[]string{"festival"}, "festival"},
		{[]string{"sport"}, "sports"},
		{[]string{"art", "exhibition"}, "art"},
		{[]string{"food"}, "food"},
	}
	cities   = []string{"new york", "san francisco", "los angeles", "chicago", "austin", "miami"}
	keywords = []string{"jazz", "rock", "tech", "ai", "food", "wine", "family", "art"}
)

// Rules is the deterministic keyword extractor. A word matches when the
// message contains it at the start of a word, so "sports" hits "sport" but
// "party" does not hit "art".
type Rules struct{}

func (Rules) Extract(_ context.Context, message string) domain.PartialPreferences {
	text := wordText(message)
	var out domain.PartialPreferences

	for _, r := range typeRules {
		for _, w := range r.words {
			if hasWord(text, w) {
				out.EventTypes = append(out.EventTypes, r.typ)
				break
			}
		}
	}
	for _, c := range cities {
		if hasWord(text, c) {
			loc := c
			out.Location = &loc
			break
		}
	}
	switch {
	case hasWord(text, "free"):
		out.Budget = &domain.Budget{Max: ptr(0.0)}
	case hasWord(text, "cheap"):
		out.Budget = &domain.Budget{Max: ptr(50.0)}
	}
	for _, k := range keywords {
		if hasWord(text, k) {
			out.Keywords = append(out.Keywords, k)
		}
	}
	return out
}

// wordText lowercases s and replaces every non-alphanumeric rune with a
// single space, with a leading space so word starts are " "+word.
func wordText(s string) string {
	var b strings.Builder
	b.WriteByte(' ')
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return b.String()
}

func hasWord(text, w string) bool { return strings.Contains(text, " "+w) }

func ptr[T any](v T) *T { return &v }
