package app

import (
	"context"

	"eventpulse/internal/catalog"
	"eventpulse/internal/config"
	"eventpulse/internal/storage"
	"eventpulse/pkg/logx"
)

// Import loads an event file and inserts it into the configured store
// without starting the bot.
func Import(ctx context.Context, cfgPath, file string) (catalog.Result, error) {
	if err := config.LoadDotEnv(); err != nil {
		return catalog.Result{}, err
	}
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return catalog.Result{}, err
	}
	r, err := cfg.Resolve()
	if err != nil {
		return catalog.Result{}, err
	}
	logs, log := logx.New(logConfig(cfg), nil)
	defer logs.Close()

	events, err := catalog.Load(file)
	if err != nil {
		return catalog.Result{}, err
	}
	store, err := storage.Open(ctx, storageConfig(r), log)
	if err != nil {
		return catalog.Result{}, err
	}
	defer store.Close()
	return catalog.Import(ctx, store, events, log.Component("catalog"))
}
