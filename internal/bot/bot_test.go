package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"eventpulse/internal/cadence"
	"eventpulse/internal/domain"
	"eventpulse/internal/extract"
	"eventpulse/internal/matching"
	"eventpulse/internal/storage"
	"eventpulse/internal/task/engine"
	"eventpulse/internal/task/scheduler"
	kit "eventpulse/internal/transport"
	"eventpulse/pkg/logx"
	"eventpulse/pkg/tgui"
)

const owner int64 = 1

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type sent struct {
	chat  int64
	text  string
	opt   *kit.SendOptions
	edit  bool
	alert bool
}

type fakeAdapter struct {
	mu  sync.Mutex
	out []sent
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, sent{chat: to.ChatID, text: text, opt: opt})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.out)}, nil
}

func (f *fakeAdapter) EditText(_ context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, sent{chat: ref.ChatID, text: text, opt: opt, edit: true})
	return nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string, alert bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if text != "" {
		f.out = append(f.out, sent{text: text, alert: alert})
	}
	return nil
}

func (f *fakeAdapter) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.out))
	for i, s := range f.out {
		out[i] = s.text
	}
	return out
}

// brokenUsers fails every lookup.
type brokenUsers struct{ *storage.Memory }

func (brokenUsers) FindUserByChannelID(context.Context, int64) (domain.User, error) {
	return domain.User{}, errors.New("connection refused")
}

type harness struct {
	store  *storage.Memory
	out    *fakeAdapter
	router *Router
}

func newHarness(t *testing.T, users UserStore) *harness {
	t.Helper()
	st := storage.NewMemory()
	price := 25.0
	ev := domain.Event{
		ID: "e1", Title: "Jazz Night", Description: "Live jazz", Type: "concert",
		Location: "Austin", StartDate: now.Add(48 * time.Hour), Price: &price, URL: "https://example.com/e1",
	}
	if err := st.InsertEvent(context.Background(), &ev); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if users == nil {
		users = st
	}
	out := &fakeAdapter{}
	b := New(Deps{
		Users:     users,
		Events:    st,
		Matcher:   matching.NewMatcher(st, func() time.Time { return now }),
		Extractor: extract.Rules{},
		Location:  time.UTC,
		Now:       func() time.Time { return now },
	}, out, logx.Nop())
	r := NewRouter(logx.Nop(), out, []int64{owner}, 1)
	b.Install(r)
	return &harness{store: st, out: out, router: r}
}

func (h *harness) say(from int64, text string) {
	h.router.Serve(context.Background(), kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ID: 10, ChatID: from, From: kit.Sender{ID: from, FirstName: "Ada"}, Text: text,
	}})
}

func (h *harness) press(from int64, data string) {
	h.router.Serve(context.Background(), kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID: "cb1", ChatID: from, MessageID: 5, From: kit.Sender{ID: from}, Data: data,
	}})
}

func TestStartRegistersOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.say(42, "/start")
	h.say(42, "/start")

	u, err := h.store.FindUserByChannelID(context.Background(), 42)
	if err != nil {
		t.Fatalf("user not created: %v", err)
	}
	if u.Preferences.Frequency != domain.FrequencyDaily {
		t.Fatalf("frequency=%v, want daily", u.Preferences.Frequency)
	}
	if n, _ := h.store.CountUsers(context.Background()); n != 1 {
		t.Fatalf("users=%d, want 1", n)
	}
	texts := h.out.texts()
	if len(texts) != 2 || !strings.HasPrefix(texts[0], "👋 Welcome to the AI Event Assistant, Ada!") {
		t.Fatalf("unexpected replies: %q", texts)
	}
}

func TestFrequencyButton(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.say(42, "/start")
	h.press(42, tgui.Data(prefsScope, freqAction, "hourly"))

	u, _ := h.store.FindUserByChannelID(context.Background(), 42)
	if u.Preferences.Frequency != domain.FrequencyHourly {
		t.Fatalf("frequency=%v, want hourly", u.Preferences.Frequency)
	}
	last := h.out.out[len(h.out.out)-1]
	if !last.edit || !strings.Contains(last.text, "updated to hourly") {
		t.Fatalf("last=%+v", last)
	}

	h.press(42, tgui.Data(prefsScope, freqAction, "weekly"))
	last = h.out.out[len(h.out.out)-1]
	if !last.alert || !strings.Contains(last.text, "weekly") {
		t.Fatalf("invalid frequency not rejected: %+v", last)
	}
	u, _ = h.store.FindUserByChannelID(context.Background(), 42)
	if u.Preferences.Frequency != domain.FrequencyHourly {
		t.Fatalf("frequency changed to %v", u.Preferences.Frequency)
	}
}

func TestPreferencesKeyboard(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.say(42, "/preferences")
	if got := h.out.texts(); len(got) != 1 || got[0] != msgNoPrefs {
		t.Fatalf("unregistered: %q", got)
	}
	h.say(42, "/start")
	h.say(42, "/preferences")
	last := h.out.out[len(h.out.out)-1]
	if last.opt == nil || last.opt.ReplyMarkupAdapter == nil {
		t.Fatal("preferences sent without keyboard")
	}
	if !strings.Contains(last.text, "Notification Frequency:</b> Daily") {
		t.Fatalf("text=%q", last.text)
	}
}

func TestFreeTextUpdatesAndSuggests(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.say(42, "I'm into jazz concerts in austin")

	u, err := h.store.FindUserByChannelID(context.Background(), 42)
	if err != nil {
		t.Fatalf("user not auto-created: %v", err)
	}
	if u.Preferences.Location != "Austin" || len(u.Preferences.EventTypes) != 1 {
		t.Fatalf("prefs=%+v", u.Preferences)
	}
	texts := h.out.texts()
	if len(texts) != 3 {
		t.Fatalf("replies=%q", texts)
	}
	if !strings.HasPrefix(texts[0], "✅ I've updated your preferences (event types: concert, location: Austin") {
		t.Fatalf("ack=%q", texts[0])
	}
	if !strings.Contains(texts[2], "Jazz Night") {
		t.Fatalf("event card=%q", texts[2])
	}
}

func TestFreeTextNotUnderstood(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.say(42, "hello there")
	if got := h.out.texts(); len(got) != 1 || got[0] != msgNotSure {
		t.Fatalf("replies=%q", got)
	}
	if _, err := h.store.FindUserByChannelID(context.Background(), 42); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("user created for unparsed text: %v", err)
	}
}

func TestEventsCommand(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.say(42, "/start")
	h.say(42, "/events")
	texts := h.out.texts()
	if len(texts) != 3 || texts[1] != "🎉 Found 1 events matching your preferences:" {
		t.Fatalf("replies=%q", texts)
	}
	if h.out.out[2].opt == nil || h.out.out[2].opt.ReplyMarkupAdapter == nil {
		t.Fatal("event card without link button")
	}
}

func TestRouting(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		from int64
		text string
		want string
	}{
		{"unknown", 42, "/nope", "Unknown command. Try /help"},
		{"owner only", 42, "/stats", "This command is restricted to the bot owners."},
		{"owner stats", owner, "/stats", "<b>events:</b> 1"},
		{"sweep usage", owner, "/sweep", "Sweeps are not configured."},
		{"help", 42, "/help@eventpulse_bot", "🤖 AI Event Assistant Help"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, nil)
			h.say(tc.from, tc.text)
			got := h.out.texts()
			if len(got) != 1 || !strings.Contains(got[0], tc.want) {
				t.Fatalf("replies=%q, want %q", got, tc.want)
			}
		})
	}
}

func TestStoreFailureApologizes(t *testing.T) {
	t.Parallel()
	h := newHarness(t, brokenUsers{storage.NewMemory()})
	h.say(42, "/events")
	got := h.out.texts()
	if len(got) != 1 || got[0] != apology {
		t.Fatalf("replies=%q", got)
	}
}

func TestMenuListsPublicCommands(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	for _, c := range h.router.Commands() {
		if c.Name == "" || c.Handle == nil {
			t.Fatalf("bad command %+v", c)
		}
	}
	h.router.mu.RLock()
	defer h.router.mu.RUnlock()
	for _, m := range h.router.menu {
		if m.Command == "stats" || m.Command == "sweep" {
			t.Fatalf("owner command %q in public menu", m.Command)
		}
	}
	if len(h.router.menu) != 4 {
		t.Fatalf("menu=%v", h.router.menu)
	}
}

type fakeSweeper struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeSweeper) Sweep(_ context.Context, tier domain.Frequency) (cadence.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return cadence.Report{Tier: tier, Started: now, Delivered: 2}, nil
}

func (f *fakeSweeper) LastReports() []cadence.Report { return nil }

// fakeRunner stands in for the task engine.
type fakeRunner struct {
	mu    sync.Mutex
	names []string
	err   error // returned instead of running the task
}

func (f *fakeRunner) RunNow(ctx context.Context, t engine.Task) error {
	f.mu.Lock()
	f.names = append(f.names, t.Name)
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	return t.Run(ctx)
}

func ownerBot(t *testing.T, d Deps) (*fakeAdapter, *Router) {
	t.Helper()
	d.Users = storage.NewMemory()
	d.Location = time.UTC
	d.Now = func() time.Time { return now }
	out := &fakeAdapter{}
	r := NewRouter(logx.Nop(), out, []int64{owner}, 1)
	New(d, out, logx.Nop()).Install(r)
	return out, r
}

func TestManualSweepUsesTaskEngine(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name      string
		runner    *fakeRunner
		want      string
		wantCalls int
	}{
		{"no engine", nil, "<b>delivered:</b> 2", 1},
		{"engine runs it", &fakeRunner{}, "<b>delivered:</b> 2", 1},
		{"engine disabled", &fakeRunner{err: engine.ErrDisabled}, "<b>delivered:</b> 2", 1},
		{"overlap", &fakeRunner{err: engine.ErrOverlapSkip}, "Sweep not started: sweep already in progress", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			sw := &fakeSweeper{}
			d := Deps{Sweeper: sw}
			if tc.runner != nil {
				d.Tasks = tc.runner
			}
			out, r := ownerBot(t, d)
			r.Serve(context.Background(), kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
				ID: 1, ChatID: owner, From: kit.Sender{ID: owner}, Text: "/sweep daily",
			}})
			got := out.texts()
			if len(got) != 1 || !strings.Contains(got[0], tc.want) {
				t.Fatalf("replies=%q want %q", got, tc.want)
			}
			if sw.calls != tc.wantCalls {
				t.Fatalf("sweeps=%d want %d", sw.calls, tc.wantCalls)
			}
			if tc.runner != nil && (len(tc.runner.names) != 1 || tc.runner.names[0] != "sweep.manual.daily") {
				t.Fatalf("tasks=%v", tc.runner.names)
			}
		})
	}
}

func TestStatusPreviewsPausedSchedules(t *testing.T) {
	t.Parallel()
	sched := scheduler.New(scheduler.Config{Timezone: "UTC"}, nil, logx.Nop())
	noop := func(context.Context) error { return nil }
	if err := sched.AddDaily(cadence.JobDaily, "09:00", time.Minute, noop); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}
	out, r := ownerBot(t, Deps{Schedules: sched})
	r.Serve(context.Background(), kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ID: 1, ChatID: owner, From: kit.Sender{ID: owner}, Text: "/status",
	}})
	got := out.texts()
	if len(got) != 1 || !strings.Contains(got[0], "09:00:00 (paused)") {
		t.Fatalf("status=%q", got)
	}
}
