package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"eventpulse/internal/config"
	"eventpulse/internal/eventbus"
	"eventpulse/pkg/logx"
)

// restartOnly lists sections whose changes are logged but not applied live.
// Cadence triggers reload live; its limits and pool size do not.
var restartOnly = []string{"storage", "dispatch", "extractor", "cadence"}

func (a *App) reloadLoop(c context.Context) error {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return nil
		case cfg, ok := <-sub:
			if !ok {
				return nil
			}
			// coalesce bursts, keep the newest
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(c, last, cfg)
			last = cfg
		}
	}
}

func (a *App) applyConfig(c context.Context, prev, cfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, cfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	r, err := cfg.Resolve()
	if err != nil {
		// the manager validates before publishing, so this only guards races
		a.log.Warn("config reload rejected", logx.Err(err))
		return
	}

	a.logs.Apply(logConfig(cfg))
	a.router.SetOwners(cfg.Telegram.OwnerUserIDs)

	wasEng := a.engine.Enabled()
	a.engine.Apply(c, engineConfig(r))
	if !wasEng && r.EngineEnabled {
		a.engine.Start(c)
	}
	if err := a.sweeper.Register(a.sched, cadenceSchedules(r)); err != nil {
		a.log.Warn("cadence schedules not updated", logx.Err(err))
	}
	a.sched.Apply(c, schedulerConfig(cfg, r))
	a.debug.Reconfigure(c, debugConfig(r))

	for _, s := range sections {
		if slices.Contains(restartOnly, s) {
			a.log.Warn("config section changed; some settings apply only after restart", logx.String("section", s))
		}
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Time: time.Now(), Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
