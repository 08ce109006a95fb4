// Package dispatch delivers one event to one user at most once, recording
// the outcome in the ledger.
package dispatch

import (
	"context"
	"errors"
	"time"

	"eventpulse/internal/domain"
	"eventpulse/internal/eventbus"
	"eventpulse/internal/ledger"
	kit "eventpulse/internal/transport"
	"eventpulse/pkg/logx"
	"eventpulse/pkg/tgui"

	"golang.org/x/time/rate"
)

type Outcome uint8

const (
	Skipped Outcome = iota
	Delivered
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Failed:
		return "failed"
	default:
		return "skipped"
	}
}

// Sender is the outbound half of the messaging channel.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Ledger is the subset of ledger.Service the dispatcher drives.
type Ledger interface {
	HasBeenNotified(ctx context.Context, userID, eventID string) (bool, error)
	RecordPending(ctx context.Context, userID, eventID string, origin domain.Origin) (ledger.Handle, error)
	MarkSent(ctx context.Context, h ledger.Handle) error
	MarkFailed(ctx context.Context, h ledger.Handle) error
}

type Config struct {
	RatePerSec   int           // 0 means unlimited
	SendTimeout  time.Duration // 0 means 10s
	StoreTimeout time.Duration // per ledger call; 0 means 10s
	Location     *time.Location
}

// Delivery is the payload of notification bus events.
type Delivery struct {
	UserID  string
	EventID string
	Origin  domain.Origin
	Err     string `json:",omitempty"`
}

type Dispatcher struct {
	ledger  Ledger
	sender  Sender
	bus     eventbus.Bus
	log     logx.Logger
	limiter *rate.Limiter
	timeout time.Duration
	storeTO time.Duration
	loc     *time.Location
}

func New(cfg Config, l Ledger, s Sender, bus eventbus.Bus, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 10 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Dispatcher{
		ledger:  l,
		sender:  s,
		bus:     bus,
		log:     log.Component("dispatch"),
		limiter: lim,
		timeout: cfg.SendTimeout,
		storeTO: cfg.StoreTimeout,
		loc:     cfg.Location,
	}
}

// Dispatch sends ev to user unless the pair was already handled. The error
// is non-nil only for store failures (domain.ErrStoreUnavailable) and
// cancellation; channel failures are an Outcome of Failed with a nil error.
func (d *Dispatcher) Dispatch(ctx context.Context, user domain.User, ev domain.Event, origin domain.Origin) (Outcome, error) {
	lctx, cancel := context.WithTimeout(ctx, d.storeTO)
	done, err := d.ledger.HasBeenNotified(lctx, user.ID, ev.ID)
	cancel()
	if err != nil {
		return Skipped, err
	}
	if done {
		return Skipped, nil
	}

	if err := d.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Skipped, ctxErr
		}
		return Skipped, err
	}

	lctx, cancel = context.WithTimeout(ctx, d.storeTO)
	h, err := d.ledger.RecordPending(lctx, user.ID, ev.ID, origin)
	cancel()
	if errors.Is(err, domain.ErrDuplicatePair) {
		return Skipped, nil
	}
	if err != nil {
		return Skipped, err
	}

	// From here on the pending row exists, so finish the attempt even if the
	// caller is cancelled.
	wctx := context.WithoutCancel(ctx)
	sctx, cancel := context.WithTimeout(wctx, d.timeout)
	_, sendErr := d.sender.SendText(sctx,
		kit.ChatTarget{ChatID: user.ChannelID},
		FormatAlert(ev, d.loc).String(),
		&kit.SendOptions{ParseMode: tgui.ParseModeHTML},
	)
	cancel()

	payload := Delivery{UserID: user.ID, EventID: ev.ID, Origin: origin}
	if sendErr != nil {
		chErr := &domain.ChannelError{Err: sendErr}
		if err := d.mark(wctx, h, d.ledger.MarkFailed); err != nil {
			d.log.Warn("mark failed did not apply", logx.String("notification_id", h.ID), logx.Err(err))
		}
		d.log.Warn("delivery failed",
			logx.String("user_id", user.ID),
			logx.String("event_id", ev.ID),
			logx.Err(chErr),
		)
		payload.Err = chErr.Error()
		d.bus.Publish(eventbus.Event{Type: eventbus.NotificationFailed, Data: payload})
		return Failed, nil
	}

	if err := d.mark(wctx, h, d.ledger.MarkSent); err != nil {
		// The message went out; the row stays pending and a later prune
		// marks it failed. It is never re-sent either way.
		d.log.Warn("mark sent did not apply", logx.String("notification_id", h.ID), logx.Err(err))
		if errors.Is(err, domain.ErrStoreUnavailable) {
			return Delivered, err
		}
	}
	d.log.Debug("delivered", logx.String("user_id", user.ID), logx.String("event_id", ev.ID), logx.String("origin", string(origin)))
	d.bus.Publish(eventbus.Event{Type: eventbus.NotificationDelivered, Data: payload})
	return Delivered, nil
}

func (d *Dispatcher) mark(ctx context.Context, h ledger.Handle, fn func(context.Context, ledger.Handle) error) error {
	ctx, cancel := context.WithTimeout(ctx, d.storeTO)
	defer cancel()
	return fn(ctx, h)
}
