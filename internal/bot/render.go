package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"eventpulse/internal/cadence"
	"eventpulse/internal/domain"
	"eventpulse/internal/ledger"
	"eventpulse/internal/task/scheduler"
	"eventpulse/pkg/tgui"
)

const examples = "- 'I'm interested in jazz concerts in New York'\n" +
	"- 'Find tech conferences under $100'\n"

func welcomeText(firstName string) string {
	return "👋 Welcome to the AI Event Assistant, " + firstName + "!\n\n" +
		"I can help you discover events based on your preferences. " +
		"Just tell me what you're looking for, and I'll find matching events.\n\n" +
		"Here are some examples:\n" + examples +
		"- 'What's happening this weekend?'\n\n" +
		"You can also use these commands:\n" +
		"/preferences - View and update your preferences\n" +
		"/events - Get your matching events\n" +
		"/help - Show this help message"
}

func helpText() string {
	return "🤖 AI Event Assistant Help\n\n" +
		"I can help you discover events based on your preferences. " +
		"Just tell me what you're looking for in natural language.\n\n" +
		"Available commands:\n" +
		"/start - Start the bot and get a welcome message\n" +
		"/preferences - View and update your preferences\n" +
		"/events - Get your matching events\n" +
		"/help - Show this help message\n\n" +
		"Examples of queries:\n" + examples +
		"- 'Any free workshops this month?'\n" +
		"- 'What's happening this weekend?'"
}

func preferencesText(p domain.Preferences) tgui.H {
	types := strings.Join(p.EventTypes, ", ")
	if types == "" {
		types = "Any"
	}
	location := p.Location
	if location == "" {
		location = "Any"
	}
	keywords := strings.Join(p.Keywords, ", ")
	if keywords == "" {
		keywords = "None"
	}
	freq := p.Frequency.String()
	kv := tgui.Lines(
		tgui.KV("🎭 Event Types", types),
		tgui.KV("📍 Location", location),
		tgui.KV("💰 Budget", budgetText(p.Budget)),
		tgui.KV("🔍 Keywords", keywords),
		tgui.KV("🔔 Notification Frequency", strings.ToUpper(freq[:1])+freq[1:]),
	)
	return tgui.B("📋 Your Current Preferences") + "\n\n" + kv + "\n\n" +
		tgui.Esc("You can update your preferences by telling me what you're interested in, "+
			"or use the buttons below to change your notification frequency.")
}

func money(v float64) string { return "$" + strconv.FormatFloat(v, 'f', -1, 64) }

func budgetText(b *domain.Budget) string {
	switch {
	case b.IsZero():
		return "No limit"
	case b.Max != nil && *b.Max == 0:
		return "Free"
	case b.Min != nil && b.Max != nil:
		return money(*b.Min) + " - " + money(*b.Max)
	case b.Min != nil:
		return "min: " + money(*b.Min)
	default:
		return "max: " + money(*b.Max)
	}
}

// summarize lists the merged values of the fields upd touched.
func summarize(p domain.Preferences, upd domain.PartialPreferences) string {
	var parts []string
	if len(upd.EventTypes) > 0 {
		parts = append(parts, "event types: "+strings.Join(p.EventTypes, ", "))
	}
	if upd.Location != nil {
		parts = append(parts, "location: "+p.Location)
	}
	if !upd.Budget.IsZero() {
		parts = append(parts, "budget: "+budgetText(p.Budget))
	}
	if len(upd.Keywords) > 0 {
		parts = append(parts, "keywords: "+strings.Join(p.Keywords, ", "))
	}
	if upd.MaxDistance != nil && p.MaxDistance != nil {
		parts = append(parts, "max distance: "+strconv.Itoa(*p.MaxDistance))
	}
	return strings.Join(parts, ", ")
}

func displayName(u domain.User) string {
	if u.Username != "" {
		return "@" + u.Username
	}
	if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
		return name
	}
	return strconv.FormatInt(u.ChannelID, 10)
}

func reportText(r cadence.Report) tgui.H {
	title := "Sweep " + r.Tier.String()
	lines := []tgui.H{
		tgui.B(title),
		tgui.KV("started", r.Started.Format(time.DateTime)),
		tgui.KV("took", r.Duration.Round(time.Millisecond).String()),
		tgui.KV("users", strconv.Itoa(r.Users)),
		tgui.KV("delivered", strconv.Itoa(r.Delivered)),
		tgui.KV("skipped", strconv.Itoa(r.Skipped)),
		tgui.KV("failed", strconv.Itoa(r.Failed)),
	}
	if r.Errors > 0 {
		lines = append(lines, tgui.KV("errors", strconv.Itoa(r.Errors)))
	}
	if r.Err != "" {
		lines = append(lines, tgui.KV("aborted", r.Err))
	}
	return tgui.Lines(lines...)
}

func scheduleText(s scheduler.Snapshot, preview func(spec string) (time.Time, bool), loc *time.Location) tgui.H {
	tz := s.Timezone
	if tz == "" {
		tz = "Local"
	}
	state := "off"
	if s.Enabled {
		state = "on"
	}
	lines := []tgui.H{
		tgui.B("Schedules"),
		tgui.KV("scheduler", state+" ("+tz+")"),
		tgui.KV("queue", fmt.Sprintf("%d/%d, %d in flight, %d dropped",
			s.Engine.QueueLen, s.Engine.QueueCap, s.Engine.InFlight, s.Engine.Dropped)),
	}
	for _, it := range s.Schedules {
		next := "-"
		if !it.Next.IsZero() {
			next = it.Next.In(loc).Format(time.DateTime)
		} else if preview != nil {
			if t, ok := preview(it.Spec); ok {
				next = t.In(loc).Format(time.DateTime) + " (paused)"
			}
		}
		if it.Running {
			next += " (running)"
		}
		lines = append(lines, tgui.Raw("• ")+tgui.Code(it.Name)+tgui.Esc(" "+it.Spec+" → "+next))
	}
	return tgui.Lines(lines...)
}

type usageStats struct {
	users, active, events int64
	ledger                ledger.Stats
}

func statsText(s usageStats) tgui.H {
	lines := []tgui.H{
		tgui.B("Stats"),
		tgui.KV("users", strconv.FormatInt(s.users, 10)),
		tgui.KV("active 7d", strconv.FormatInt(s.active, 10)),
		tgui.KV("events", strconv.FormatInt(s.events, 10)),
		tgui.KV("notifications", strconv.FormatInt(s.ledger.Total, 10)),
	}
	for _, d := range s.ledger.PerDay {
		lines = append(lines, tgui.KV("  "+d.Day, strconv.Itoa(d.Count)))
	}
	return tgui.Lines(lines...)
}

func hStrings(in []tgui.H) []string {
	out := make([]string, len(in))
	for i, h := range in {
		out[i] = h.String()
	}
	return out
}
