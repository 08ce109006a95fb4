package dispatch

import (
	"fmt"
	"strings"
	"time"

	"eventpulse/internal/domain"
	"eventpulse/pkg/tgui"
)

const descriptionLimit = 100

// FormatAlert renders the alert body for ev in Telegram HTML. Start times are
// shown in loc.
func FormatAlert(ev domain.Event, loc *time.Location) tgui.H {
	return "🎉 New Event Alert! 🎉\n\n" + FormatEvent(ev, loc)
}

// FormatEvent is the event card without the alert header.
func FormatEvent(ev domain.Event, loc *time.Location) tgui.H {
	if loc == nil {
		loc = time.Local
	}
	where := ev.Location
	if v := strings.TrimSpace(ev.Venue); v != "" {
		where = fmt.Sprintf("%s (%s)", ev.Location, v)
	}
	lines := []tgui.H{
		"🎭 " + tgui.B(ev.Title),
		"📝 " + tgui.Esc(tgui.TruncRunes(ev.Description, descriptionLimit)),
		"📍 " + tgui.Esc(where),
		"📅 " + tgui.Esc(ev.StartDate.In(loc).Format("2006-01-02 15:04")),
	}
	switch {
	case ev.Price == nil:
	case *ev.Price == 0:
		lines = append(lines, "💰 Free")
	default:
		lines = append(lines, tgui.Raw(fmt.Sprintf("💰 $%.2f", *ev.Price)))
	}
	if u := strings.TrimSpace(ev.URL); u != "" {
		lines = append(lines, "🔗 "+tgui.Link("More Info", u))
	}
	return tgui.Lines(lines...)
}
