package storage

import (
	"context"
	"errors"
	"strings"

	"eventpulse/pkg/logx"
)

// Open initializes the configured store. An empty driver means sqlite.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.Component("storage").With(logx.String("driver", driver))

	var (
		st  Store
		err error
	)
	switch driver {
	case "", "sqlite", "sqlite3":
		var s *sqliteStore
		if s, err = openSQLite(ctx, cfg, log); err == nil {
			st = s
		}
	case "mongo", "mongodb":
		var s *mongoStore
		if s, err = openMongo(ctx, cfg, log); err == nil {
			st = s
		}
	case "memory":
		st = NewMemory()
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}
