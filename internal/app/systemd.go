package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"eventpulse/internal/runtime/supervisor"
	"eventpulse/pkg/logx"
)

// sdNotifier reports readiness and liveness to systemd. Outside a
// Type=notify unit every call is a no-op.
type sdNotifier struct {
	log    logx.Logger
	notify func(state string) (bool, error)
	// watchdog returns the configured WatchdogSec, 0 when disabled.
	watchdog func() (time.Duration, error)
}

func newSDNotifier(log logx.Logger) *sdNotifier {
	return &sdNotifier{
		log:      log,
		notify:   func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		watchdog: func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
}

func (n *sdNotifier) send(state string) bool {
	ok, err := n.notify(state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	}
	return ok
}

// start sends READY=1 and, when a watchdog is configured, pings it at half
// the interval until sup stops.
func (n *sdNotifier) start(sup *supervisor.Supervisor) {
	if !n.send(daemon.SdNotifyReady) {
		return
	}
	n.log.Info("systemd notified ready")
	every, err := n.watchdog()
	if err != nil {
		n.log.Warn("systemd watchdog lookup failed", logx.Err(err))
		return
	}
	if every <= 0 {
		return
	}
	sup.Go("systemd.watchdog", func(ctx context.Context) error {
		t := time.NewTicker(every / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				n.send(daemon.SdNotifyWatchdog)
			}
		}
	})
}

func (n *sdNotifier) stopping() { n.send(daemon.SdNotifyStopping) }
