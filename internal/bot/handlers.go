package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"eventpulse/internal/cadence"
	"eventpulse/internal/dispatch"
	"eventpulse/internal/domain"
	"eventpulse/internal/matching"
	"eventpulse/internal/storage"
	"eventpulse/internal/task/engine"
	kit "eventpulse/internal/transport"
	"eventpulse/pkg/logx"
	"eventpulse/pkg/tgui"
)

const (
	prefsScope = "prefs"
	freqAction = "freq"

	eventsLimit = 5
	textLimit   = 3
)

const (
	msgNoPrefs = "You don't have any saved preferences yet. " +
		"Tell me what kind of events you're interested in!"
	msgNoMatches = "I couldn't find any events matching your preferences. " +
		"Try updating your preferences with more general criteria."
	msgNotSure = "I'm not sure what kind of events you're looking for. " +
		"Could you provide more details? For example:\n" +
		"- 'I'm interested in jazz concerts in New York'\n" +
		"- 'Find tech conferences under $100'\n" +
		"- 'Any free workshops this month?'"
)

// ensureUser returns the user behind req, creating it with daily alerts
// when it does not exist yet.
func (b *Bot) ensureUser(ctx context.Context, req *Request) (domain.User, bool, error) {
	sctx, cancel := b.storeCtx(ctx)
	defer cancel()
	u, err := b.d.Users.FindUserByChannelID(sctx, req.From.ID)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return u, false, domain.StoreError("users.find", err)
	}
	now := b.d.Now()
	u = domain.User{
		ChannelID:    req.From.ID,
		Username:     req.From.Username,
		FirstName:    req.From.FirstName,
		LastName:     req.From.LastName,
		Preferences:  domain.Preferences{Frequency: domain.FrequencyDaily},
		CreatedAt:    now,
		LastActiveAt: now,
	}
	switch err := b.d.Users.InsertUser(sctx, &u); {
	case errors.Is(err, storage.ErrUserExists):
		// lost a race with a concurrent update from the same user
		u, err = b.d.Users.FindUserByChannelID(sctx, req.From.ID)
		return u, false, domain.StoreError("users.find", err)
	case err != nil:
		return u, false, domain.StoreError("users.insert", err)
	}
	req.Log.Info("user registered", logx.String("user_id", u.ID))
	return u, true, nil
}

// lookupUser is ensureUser without the insert.
func (b *Bot) lookupUser(ctx context.Context, req *Request) (domain.User, bool, error) {
	sctx, cancel := b.storeCtx(ctx)
	defer cancel()
	u, err := b.d.Users.FindUserByChannelID(sctx, req.From.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return u, false, nil
	}
	if err != nil {
		return u, false, domain.StoreError("users.find", err)
	}
	return u, true, nil
}

func (b *Bot) handleStart(ctx context.Context, req *Request) error {
	if _, _, err := b.ensureUser(ctx, req); err != nil {
		return err
	}
	return b.reply(ctx, req, welcomeText(req.From.FirstName), nil)
}

func (b *Bot) handleHelp(ctx context.Context, req *Request) error {
	return b.reply(ctx, req, helpText(), nil)
}

func (b *Bot) handlePreferences(ctx context.Context, req *Request) error {
	u, ok, err := b.lookupUser(ctx, req)
	if err != nil {
		return err
	}
	if !ok {
		return b.reply(ctx, req, msgNoPrefs, nil)
	}
	kb, err := frequencyKeyboard()
	if err != nil {
		return err
	}
	return b.reply(ctx, req, preferencesText(u.Preferences).String(), &kit.SendOptions{
		ParseMode:          tgui.ParseModeHTML,
		ReplyMarkupAdapter: kb.Markup(),
	})
}

func frequencyKeyboard() (*tgui.Inline, error) {
	var errs []error
	btn := func(label string, f domain.Frequency) tele.Btn {
		data, err := tgui.CheckedData(prefsScope, freqAction, f.String())
		errs = append(errs, err)
		return tgui.Btn(label, data)
	}
	kb := tgui.NewInline().
		Row(btn("Hourly Updates", domain.FrequencyHourly), btn("Daily Updates", domain.FrequencyDaily)).
		Row(btn("Turn Off Updates", domain.FrequencyOff))
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return kb, nil
}

func (b *Bot) handleFrequency(ctx context.Context, req *Request) error {
	u, ok, err := b.lookupUser(ctx, req)
	if err != nil {
		return err
	}
	ref := kit.MessageRef{ChatID: req.Chat.ChatID, ThreadID: req.Chat.ThreadID, MessageID: req.MessageID}
	if !ok {
		return b.out.EditText(ctx, ref, "Please send /start first.", nil)
	}

	raw := req.Payload
	prefs, err := matching.Merge(u.Preferences, domain.PartialPreferences{Frequency: &raw})
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		req.answered = true
		return b.out.AnswerCallback(ctx, req.CallbackID, "Unknown frequency: "+raw, true)
	}
	if err != nil {
		return err
	}
	if err := b.savePreferences(ctx, u.ID, prefs); err != nil {
		return err
	}
	text := fmt.Sprintf("✅ Your notification frequency has been updated to %s.\n\n"+
		"You can view your current preferences with /preferences", prefs.Frequency)
	return b.out.EditText(ctx, ref, text, nil)
}

func (b *Bot) savePreferences(ctx context.Context, userID string, prefs domain.Preferences) error {
	sctx, cancel := b.storeCtx(ctx)
	defer cancel()
	if err := b.d.Users.UpdatePreferences(sctx, userID, prefs, b.d.Now()); err != nil {
		return domain.StoreError("users.update_preferences", err)
	}
	return nil
}

func (b *Bot) handleEvents(ctx context.Context, req *Request) error {
	u, ok, err := b.lookupUser(ctx, req)
	if err != nil {
		return err
	}
	if !ok {
		return b.reply(ctx, req, msgNoPrefs, nil)
	}
	events, err := b.find(ctx, u.Preferences, eventsLimit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return b.reply(ctx, req, msgNoMatches, nil)
	}
	if err := b.reply(ctx, req, fmt.Sprintf("🎉 Found %d events matching your preferences:", len(events)), nil); err != nil {
		return err
	}
	return b.sendEvents(ctx, req, events)
}

func (b *Bot) find(ctx context.Context, prefs domain.Preferences, limit int) ([]domain.Event, error) {
	crit, err := matching.Normalize(prefs.Partial())
	if err != nil {
		return nil, err
	}
	sctx, cancel := b.storeCtx(ctx)
	defer cancel()
	return b.d.Matcher.Find(sctx, crit, limit)
}

func (b *Bot) sendEvents(ctx context.Context, req *Request, events []domain.Event) error {
	for _, ev := range events {
		opt := &kit.SendOptions{ParseMode: tgui.ParseModeHTML, DisablePreview: true}
		if ev.URL != "" {
			opt.ReplyMarkupAdapter = tgui.NewInline().Row(tgui.URLBtn("View Event", ev.URL)).Markup()
		}
		if err := b.reply(ctx, req, dispatch.FormatEvent(ev, b.d.Location).String(), opt); err != nil {
			return err
		}
	}
	return nil
}

// handleText treats any non-command message as a preference update.
func (b *Bot) handleText(ctx context.Context, req *Request) error {
	upd := b.d.Extractor.Extract(ctx, req.Text)
	if upd.IsEmpty() {
		return b.reply(ctx, req, msgNotSure, nil)
	}
	u, _, err := b.ensureUser(ctx, req)
	if err != nil {
		return err
	}
	// Frequency only changes through the keyboard.
	upd.Frequency = nil
	prefs, err := matching.Merge(u.Preferences, upd)
	if err != nil {
		return err
	}
	if err := b.savePreferences(ctx, u.ID, prefs); err != nil {
		return err
	}
	if err := b.reply(ctx, req, "✅ I've updated your preferences ("+summarize(prefs, upd)+").", nil); err != nil {
		return err
	}

	events, err := b.find(ctx, prefs, textLimit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return b.reply(ctx, req, msgNoMatches, nil)
	}
	if err := b.reply(ctx, req, fmt.Sprintf("🎉 Found %d matching events:", len(events)), nil); err != nil {
		return err
	}
	return b.sendEvents(ctx, req, events)
}

func (b *Bot) handleSweep(ctx context.Context, req *Request) error {
	if b.d.Sweeper == nil {
		return b.reply(ctx, req, "Sweeps are not configured.", nil)
	}
	if len(req.Args) != 1 {
		return b.reply(ctx, req, "Usage: /sweep <hourly|daily>", nil)
	}
	f, err := domain.ParseFrequency(req.Args[0])
	if err != nil || f == domain.FrequencyOff {
		return b.reply(ctx, req, "Usage: /sweep <hourly|daily>", nil)
	}
	rep, err := b.runSweep(ctx, f)
	if err != nil && rep.Started.IsZero() {
		return b.reply(ctx, req, "Sweep not started: "+err.Error(), nil)
	}
	return b.reply(ctx, req, reportText(rep).String(), &kit.SendOptions{ParseMode: tgui.ParseModeHTML})
}

// runSweep routes a manual sweep through the task engine when one is
// available, falling back to a direct call while the engine is off.
func (b *Bot) runSweep(ctx context.Context, f domain.Frequency) (cadence.Report, error) {
	var (
		mu  sync.Mutex
		rep cadence.Report
	)
	run := func(c context.Context) error {
		r, err := b.d.Sweeper.Sweep(c, f)
		mu.Lock()
		rep = r
		mu.Unlock()
		return err
	}
	err := engine.ErrDisabled
	if b.d.Tasks != nil {
		t := engine.Task{
			Name: "sweep.manual." + f.String(),
			Run:  run,
			Opt:  engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning},
		}
		if dl, ok := ctx.Deadline(); ok {
			t.Timeout = time.Until(dl)
		}
		err = b.d.Tasks.RunNow(ctx, t)
	}
	if errors.Is(err, engine.ErrDisabled) || errors.Is(err, engine.ErrStopped) {
		err = run(ctx)
	}
	mu.Lock()
	defer mu.Unlock()
	if errors.Is(err, engine.ErrOverlapSkip) {
		return rep, cadence.ErrSweepInProgress
	}
	return rep, err
}

// previewRun is the next fire time of spec computed without the cron
// runner, for schedules that are registered but not running.
func (b *Bot) previewRun(spec string) (time.Time, bool) {
	runs, err := b.d.Schedules.NextRuns(spec, 1)
	if err != nil || len(runs) == 0 {
		return time.Time{}, false
	}
	return runs[0], true
}

func (b *Bot) handleNotify(ctx context.Context, req *Request) error {
	if b.d.Dispatch == nil {
		return b.reply(ctx, req, "Dispatch is not configured.", nil)
	}
	if len(req.Args) != 2 {
		return b.reply(ctx, req, "Usage: /notify <channelID|userID> <eventID>", nil)
	}
	sctx, cancel := b.storeCtx(ctx)
	u, err := b.d.Users.FindUserByID(sctx, req.Args[0])
	if errors.Is(err, domain.ErrNotFound) {
		if id, perr := strconv.ParseInt(req.Args[0], 10, 64); perr == nil {
			u, err = b.d.Users.FindUserByChannelID(sctx, id)
		}
	}
	var ev domain.Event
	if err == nil {
		ev, err = b.d.Events.FindEvent(sctx, req.Args[1])
	}
	cancel()
	if errors.Is(err, domain.ErrNotFound) {
		return b.reply(ctx, req, "User or event not found.", nil)
	}
	if err != nil {
		return domain.StoreError("notify.lookup", err)
	}

	out, err := b.d.Dispatch.Dispatch(ctx, u, ev, domain.OriginManual)
	if err != nil {
		return err
	}
	req.Log.Info("manual notify", logx.String("user_id", u.ID), logx.String("event_id", ev.ID), logx.String("outcome", out.String()))
	return b.reply(ctx, req, fmt.Sprintf("%s → %s: %s", ev.Title, displayName(u), out), nil)
}

func (b *Bot) handleStatus(ctx context.Context, req *Request) error {
	var parts []tgui.H
	if b.d.Schedules != nil {
		parts = append(parts, scheduleText(b.d.Schedules.Snapshot(), b.previewRun, b.d.Location))
	}
	if b.d.Sweeper != nil {
		for _, rep := range b.d.Sweeper.LastReports() {
			parts = append(parts, reportText(rep))
		}
	}
	if b.d.Ledger != nil {
		sctx, cancel := b.storeCtx(ctx)
		st, err := b.d.Ledger.Stats(sctx, 1, b.d.Location)
		cancel()
		if err != nil {
			return err
		}
		parts = append(parts, tgui.Lines(tgui.B("Ledger"), tgui.KV("rows", strconv.FormatInt(st.Total, 10)),
			tgui.KV("today", strconv.Itoa(st.PerDay[len(st.PerDay)-1].Count))))
	}
	if len(parts) == 0 {
		return b.reply(ctx, req, "Nothing to report.", nil)
	}
	return b.reply(ctx, req, tgui.Raw(strings.Join(hStrings(parts), "\n\n")).String(), &kit.SendOptions{ParseMode: tgui.ParseModeHTML})
}

func (b *Bot) handleStats(ctx context.Context, req *Request) error {
	sctx, cancel := b.storeCtx(ctx)
	defer cancel()
	var s usageStats
	var err error
	if s.users, err = b.d.Users.CountUsers(sctx); err != nil {
		return domain.StoreError("users.count", err)
	}
	if s.active, err = b.d.Users.CountUsersActiveSince(sctx, b.d.Now().AddDate(0, 0, -7)); err != nil {
		return domain.StoreError("users.count_active", err)
	}
	if s.events, err = b.d.Events.CountEvents(sctx); err != nil {
		return domain.StoreError("events.count", err)
	}
	if b.d.Ledger != nil {
		if s.ledger, err = b.d.Ledger.Stats(sctx, 7, b.d.Location); err != nil {
			return err
		}
	}
	return b.reply(ctx, req, statsText(s).String(), &kit.SendOptions{ParseMode: tgui.ParseModeHTML})
}
