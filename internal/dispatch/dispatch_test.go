package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"eventpulse/internal/domain"
	"eventpulse/internal/eventbus"
	"eventpulse/internal/ledger"
	"eventpulse/internal/storage"
	kit "eventpulse/internal/transport"
	"eventpulse/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	to    []int64
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return kit.MessageRef{}, ctx.Err()
		}
	}
	if f.err != nil {
		return kit.MessageRef{}, f.err
	}
	f.mu.Lock()
	f.sent = append(f.sent, text)
	f.to = append(f.to, to.ChatID)
	f.mu.Unlock()
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func fp(v float64) *float64 { return &v }

var (
	user  = domain.User{ID: "u1", ChannelID: 777}
	event = domain.Event{
		ID: "e1", Title: "Jazz Night", Description: "Live jazz", Location: "Austin",
		StartDate: time.Date(2026, 7, 1, 20, 0, 0, 0, time.UTC), Price: fp(0),
	}
)

func setup(t *testing.T, s Sender) (*Dispatcher, *storage.Memory, eventbus.Bus) {
	t.Helper()
	st := storage.NewMemory()
	bus := eventbus.New()
	d := New(Config{SendTimeout: time.Second, Location: time.UTC}, ledger.New(st), s, bus, logx.Nop())
	return d, st, bus
}

func TestDispatchDeliversOnceThenSkips(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	snd := &fakeSender{}
	d, st, bus := setup(t, snd)
	events, unsub := bus.Subscribe(4)
	defer unsub()

	out, err := d.Dispatch(ctx, user, event, domain.OriginAuto)
	if err != nil || out != Delivered {
		t.Fatalf("first dispatch: %v %v", out, err)
	}
	out, err = d.Dispatch(ctx, user, event, domain.OriginAuto)
	if err != nil || out != Skipped {
		t.Fatalf("second dispatch: %v %v", out, err)
	}
	if snd.calls.Load() != 1 {
		t.Fatalf("sent %d times", snd.calls.Load())
	}
	if snd.to[0] != 777 {
		t.Fatalf("sent to %d", snd.to[0])
	}
	n, _ := st.FindNotification(ctx, "u1", "e1")
	if n.Status != domain.StatusSent || n.Origin != domain.OriginAuto {
		t.Fatalf("row=%+v", n)
	}
	if ev := <-events; ev.Type != eventbus.NotificationDelivered {
		t.Fatalf("bus event %q", ev.Type)
	}
}

func TestParallelDispatchSendsOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	snd := &fakeSender{delay: 5 * time.Millisecond}
	d, st, _ := setup(t, snd)

	var delivered atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := d.Dispatch(ctx, user, event, domain.OriginAuto)
			if err != nil {
				t.Errorf("Dispatch: %v", err)
			}
			if out == Delivered {
				delivered.Add(1)
			}
		}()
	}
	wg.Wait()
	if delivered.Load() != 1 || snd.calls.Load() != 1 {
		t.Fatalf("delivered=%d sends=%d", delivered.Load(), snd.calls.Load())
	}
	if c, _ := st.CountNotifications(ctx); c != 1 {
		t.Fatalf("rows=%d", c)
	}
}

func TestChannelFailureMarksFailed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	snd := &fakeSender{err: errors.New("chat not found")}
	d, st, bus := setup(t, snd)
	events, unsub := bus.Subscribe(4)
	defer unsub()

	out, err := d.Dispatch(ctx, user, event, domain.OriginManual)
	if err != nil || out != Failed {
		t.Fatalf("got %v %v", out, err)
	}
	n, _ := st.FindNotification(ctx, "u1", "e1")
	if n.Status != domain.StatusFailed {
		t.Fatalf("status=%s", n.Status)
	}
	if ev := <-events; ev.Type != eventbus.NotificationFailed {
		t.Fatalf("bus event %q", ev.Type)
	}

	// a failed pair is not retried
	snd.err = nil
	if out, _ := d.Dispatch(ctx, user, event, domain.OriginManual); out != Skipped {
		t.Fatalf("retry outcome=%v", out)
	}
}

func TestSendTimeoutIsFailure(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{delay: time.Second}
	st := storage.NewMemory()
	d := New(Config{SendTimeout: 20 * time.Millisecond}, ledger.New(st), snd, nil, logx.Nop())

	out, err := d.Dispatch(context.Background(), user, event, domain.OriginAuto)
	if err != nil || out != Failed {
		t.Fatalf("got %v %v", out, err)
	}
}

func TestCancelledBeforeClaimHasNoSideEffects(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{}
	st := storage.NewMemory()
	d := New(Config{RatePerSec: 1}, ledger.New(st), snd, nil, logx.Nop())

	// drain the single token so the next Wait blocks
	if out, _ := d.Dispatch(context.Background(), domain.User{ID: "other", ChannelID: 1}, event, domain.OriginAuto); out != Delivered {
		t.Fatalf("warmup outcome=%v", out)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := d.Dispatch(ctx, user, event, domain.OriginAuto)
	if out != Skipped || !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v %v", out, err)
	}
	if _, err := st.FindNotification(context.Background(), "u1", "e1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("row created despite cancellation: %v", err)
	}
}

// stallingLedger claims rows in a real ledger but blocks every mark until
// its context ends.
type stallingLedger struct {
	*ledger.Service
}

func (l stallingLedger) MarkSent(ctx context.Context, _ ledger.Handle) error {
	<-ctx.Done()
	return domain.StoreError("ledger.mark_sent", ctx.Err())
}

func TestStalledMarkIsBounded(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	d := New(Config{SendTimeout: 100 * time.Millisecond, StoreTimeout: 50 * time.Millisecond},
		stallingLedger{ledger.New(st)}, &fakeSender{}, nil, logx.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	type result struct {
		out Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := d.Dispatch(ctx, user, event, domain.OriginAuto)
		done <- result{out, err}
	}()

	select {
	case r := <-done:
		if r.out != Delivered || !errors.Is(r.err, domain.ErrStoreUnavailable) {
			t.Fatalf("got %v %v", r.out, r.err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Dispatch blocked on a stalled ledger mark")
	}
	n, _ := st.FindNotification(context.Background(), "u1", "e1")
	if n.Status != domain.StatusPending {
		t.Fatalf("status=%s", n.Status)
	}
}

// cancellingSender cancels the dispatch caller while the message is in flight.
type cancellingSender struct {
	fakeSender
	cancel context.CancelFunc
}

func (c *cancellingSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	c.cancel()
	return c.fakeSender.SendText(ctx, to, text, opt)
}

func TestCancelAfterClaimFinishesDelivery(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	snd := &cancellingSender{cancel: cancel}
	d, st, _ := setup(t, snd)

	out, err := d.Dispatch(ctx, user, event, domain.OriginAuto)
	if err != nil || out != Delivered {
		t.Fatalf("got %v %v", out, err)
	}
	if ctx.Err() == nil {
		t.Fatal("caller context was not cancelled")
	}
	n, _ := st.FindNotification(context.Background(), "u1", "e1")
	if n.Status != domain.StatusSent {
		t.Fatalf("status=%s", n.Status)
	}
}

func TestFormatAlert(t *testing.T) {
	t.Parallel()

	ev := event
	ev.Venue = "Blue Room"
	ev.URL = "https://example.test/jazz?a=1&b=2"
	ev.Description = strings.Repeat("x", 120)
	got := FormatAlert(ev, time.UTC).String()

	for _, want := range []string{
		"🎉 New Event Alert! 🎉\n\n🎭 <b>Jazz Night</b>",
		"📝 " + strings.Repeat("x", 100) + "...",
		"📍 Austin (Blue Room)",
		"📅 2026-07-01 20:00",
		"💰 Free",
		`🔗 <a href="https://example.test/jazz?a=1&amp;b=2">More Info</a>`,
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("alert missing %q:\n%s", want, got)
		}
	}

	ev.Price = fp(25)
	ev.URL = ""
	got = FormatAlert(ev, time.UTC).String()
	if !strings.Contains(got, "💰 $25.00") || strings.Contains(got, "More Info") {
		t.Fatalf("priced alert:\n%s", got)
	}

	ev.Price = nil
	if got = FormatAlert(ev, time.UTC).String(); strings.Contains(got, "💰") {
		t.Fatalf("unpriced alert shows a price:\n%s", got)
	}
}
