// Package app wires configuration, storage, the delivery pipeline and the
// chat bot into one process.
package app

import (
	"context"
	"fmt"
	"time"

	"eventpulse/internal/bot"
	"eventpulse/internal/cadence"
	"eventpulse/internal/config"
	"eventpulse/internal/dispatch"
	"eventpulse/internal/eventbus"
	"eventpulse/internal/ledger"
	"eventpulse/internal/matching"
	"eventpulse/internal/observability/debug"
	"eventpulse/internal/runtime/supervisor"
	"eventpulse/internal/storage"
	"eventpulse/internal/task/engine"
	"eventpulse/internal/task/scheduler"
	kit "eventpulse/internal/transport"
	telegram "eventpulse/internal/transport/telegram/adapter"
	"eventpulse/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter
	router  *bot.Router

	engine  *engine.Service
	sched   *scheduler.Service
	sweeper *cadence.Sweeper
	debug   *debug.Service

	updates chan kit.Update
	notify  *sdNotifier
}

func New(ctx context.Context, cfgPath string) (*App, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	r, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}

	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: r.PollTimeout,
	}, logx.NewConsole("INFO"))
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logConfig(cfg), ad)
	appLog := log.Component("app")
	bus := eventbus.New()

	store, err := storage.Open(ctx, storageConfig(r), log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	appLog.Info("storage ready", logx.String("driver", r.StorageDriver))

	led := ledger.New(store,
		ledger.WithPendingGrace(r.PendingGrace),
		ledger.WithLogger(log))
	matcher := matching.NewMatcher(store, nil)
	disp := dispatch.New(dispatchConfig(r), led, ad, bus, log)
	sweeper := cadence.New(cadenceConfig(r), store, matcher, led, disp, bus, log)

	eng := engine.New(engineConfig(r), log, bus)
	sched := scheduler.New(schedulerConfig(cfg, r), eng, log)
	if err := sweeper.Register(sched, cadenceSchedules(r)); err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, fmt.Errorf("register cadence: %w", err)
	}

	router := bot.NewRouter(log, ad, cfg.Telegram.OwnerUserIDs, 4)
	bot.New(bot.Deps{
		Users:        store,
		Events:       store,
		Matcher:      matcher,
		Extractor:    newExtractor(r, log),
		Sweeper:      sweeper,
		Dispatch:     disp,
		Ledger:       led,
		Schedules:    sched,
		Tasks:        eng,
		StoreTimeout: r.StoreTimeout,
		Location:     r.AlertLocation,
	}, ad, log).Install(router)

	a := &App{
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		router:  router,
		engine:  eng,
		sched:   sched,
		sweeper: sweeper,
		updates: make(chan kit.Update, 256),
		notify:  newSDNotifier(log.Component("systemd")),
	}
	a.debug = debug.New(debugConfig(r), store, a.status, log.Component("debug"))
	return a, nil
}

// Status is the JSON view served on the debug endpoint.
type Status struct {
	Sweeps    []cadence.Report   `json:"sweeps"`
	Scheduler scheduler.Snapshot `json:"scheduler"`
	Tasks     []supervisor.Stats `json:"goroutines,omitempty"`
	Active    int64              `json:"active_goroutines"`
}

func (a *App) status() any {
	st := Status{Sweeps: a.sweeper.LastReports(), Scheduler: a.sched.Snapshot()}
	if a.sup != nil {
		st.Tasks = a.sup.Snapshot()
		st.Active = a.sup.Active()
	}
	return st
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.Component("config"))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := cfg.Resolve()
		return err
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if a.engine.Enabled() {
		a.engine.Start(a.sup.Context())
	}
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}

	a.debug.Start(a.sup.Context())

	a.sup.Go("bot.router", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})
	a.sup.Go("eventbus.log", a.logEvents)
	a.sup.Go("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.notify.start(a.sup)

	a.log.Info("app started", logx.Bool("scheduler", a.sched.Enabled()), logx.Bool("engine", a.engine.Enabled()))
	return nil
}

// logEvents mirrors bus events into the debug log.
func (a *App) logEvents(c context.Context) error {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-c.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notify.stopping()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		a.runStep(ctx, name, limit, fn)
	}
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("supervisor", 3*time.Second, a.sup.Stop)
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// runStep bounds one shutdown step by limit and by the caller's deadline.
// A step that overruns is left running and reported when it finishes.
func (a *App) runStep(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && stepCtx.Err() == nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		if took := time.Since(start); took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
		}()
	}
}
