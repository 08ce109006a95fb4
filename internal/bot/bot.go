// Package bot routes chat updates to the user-facing and owner commands.
package bot

import (
	"context"
	"time"

	"eventpulse/internal/cadence"
	"eventpulse/internal/dispatch"
	"eventpulse/internal/domain"
	"eventpulse/internal/extract"
	"eventpulse/internal/ledger"
	"eventpulse/internal/matching"
	"eventpulse/internal/task/engine"
	"eventpulse/internal/task/scheduler"
	kit "eventpulse/internal/transport"
	"eventpulse/pkg/logx"
)

type UserStore interface {
	InsertUser(ctx context.Context, u *domain.User) error
	FindUserByID(ctx context.Context, id string) (domain.User, error)
	FindUserByChannelID(ctx context.Context, channelID int64) (domain.User, error)
	UpdatePreferences(ctx context.Context, id string, prefs domain.Preferences, activeAt time.Time) error
	CountUsers(ctx context.Context) (int64, error)
	CountUsersActiveSince(ctx context.Context, t time.Time) (int64, error)
}

type EventStore interface {
	FindEvent(ctx context.Context, id string) (domain.Event, error)
	CountEvents(ctx context.Context) (int64, error)
}

type EventFinder interface {
	Find(ctx context.Context, c matching.Criteria, limit int) ([]domain.Event, error)
}

type Sweeper interface {
	Sweep(ctx context.Context, f domain.Frequency) (cadence.Report, error)
	LastReports() []cadence.Report
}

type Dispatcher interface {
	Dispatch(ctx context.Context, user domain.User, ev domain.Event, origin domain.Origin) (dispatch.Outcome, error)
}

type LedgerStats interface {
	Stats(ctx context.Context, days int, loc *time.Location) (ledger.Stats, error)
}

type ScheduleSource interface {
	Snapshot() scheduler.Snapshot
	NextRuns(spec string, n int) ([]time.Time, error)
}

// TaskRunner runs a one-off task through the engine and waits for it.
type TaskRunner interface {
	RunNow(ctx context.Context, t engine.Task) error
}

// Deps are the collaborators behind the commands. Sweeper, Dispatcher,
// Ledger and Schedules only back owner commands and may be nil.
type Deps struct {
	Users     UserStore
	Events    EventStore
	Matcher   EventFinder
	Extractor extract.Extractor
	Sweeper   Sweeper
	Dispatch  Dispatcher
	Ledger    LedgerStats
	Schedules ScheduleSource
	Tasks     TaskRunner

	StoreTimeout time.Duration
	Location     *time.Location
	Now          func() time.Time
}

type Bot struct {
	d   Deps
	out kit.Adapter
	log logx.Logger
}

func New(d Deps, out kit.Adapter, log logx.Logger) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	if d.Extractor == nil {
		d.Extractor = extract.Rules{}
	}
	if d.StoreTimeout <= 0 {
		d.StoreTimeout = 10 * time.Second
	}
	if d.Location == nil {
		d.Location = time.Local
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Bot{d: d, out: out, log: log.Component("bot")}
}

// Install registers every command and callback on r.
func (b *Bot) Install(r *Router) {
	cmds := []Command{
		{Name: "start", Description: "Start the bot and get a welcome message", Handle: b.handleStart},
		{Name: "help", Description: "Show help", Handle: b.handleHelp},
		{Name: "preferences", Description: "View and update your preferences", Handle: b.handlePreferences},
		{Name: "events", Description: "Get your matching events", Handle: b.handleEvents},

		{Name: "status", Description: "Schedules, sweeps and ledger", Access: AccessOwnerOnly, Handle: b.handleStatus},
		{Name: "stats", Description: "Usage counters", Access: AccessOwnerOnly, Handle: b.handleStats},
		{Name: "sweep", Description: "Run a sweep now", Usage: "/sweep <hourly|daily>", Access: AccessOwnerOnly, Timeout: 10 * time.Minute, Handle: b.handleSweep},
		{Name: "notify", Description: "Send one event to one user", Usage: "/notify <channelID|userID> <eventID>", Access: AccessOwnerOnly, Handle: b.handleNotify},
	}
	cbs := []CallbackRoute{
		{Scope: prefsScope, Action: freqAction, Access: AccessEveryone, Handle: b.handleFrequency},
	}
	r.SetRoutes(cmds, cbs, b.handleText)
}

func (b *Bot) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.d.StoreTimeout)
}

func (b *Bot) reply(ctx context.Context, req *Request, text string, opt *kit.SendOptions) error {
	_, err := b.out.SendText(ctx, req.Chat, text, opt)
	return err
}
