package app

import (
	"strconv"
	"strings"

	"eventpulse/internal/cadence"
	"eventpulse/internal/config"
	"eventpulse/internal/dispatch"
	"eventpulse/internal/extract"
	"eventpulse/internal/observability/debug"
	"eventpulse/internal/storage"
	"eventpulse/internal/task/engine"
	"eventpulse/internal/task/scheduler"
	"eventpulse/pkg/logx"
)

func logConfig(cfg *config.Config) logx.Config {
	var chatID int64
	if v := strings.TrimSpace(cfg.Telegram.GroupLog); v != "" {
		// an unparsable value leaves the ops sink without a target; logx warns
		chatID, _ = strconv.ParseInt(v, 10, 64)
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		OpsChat: logx.OpsChatConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     chatID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func storageConfig(r config.Resolved) storage.Config {
	return storage.Config{
		Driver:      r.StorageDriver,
		Path:        r.StoragePath,
		BusyTimeout: r.BusyTimeout,
		URI:         r.MongoURI,
		Database:    r.MongoDatabase,
	}
}

func engineConfig(r config.Resolved) engine.Config {
	return engine.Config{
		Enabled:        r.EngineEnabled,
		Workers:        r.EngineWorkers,
		QueueSize:      r.EngineQueue,
		DefaultTimeout: r.DefaultTimeout,
		HistorySize:    r.HistorySize,
		RetryMax:       r.RetryMax,
	}
}

func schedulerConfig(cfg *config.Config, r config.Resolved) scheduler.Config {
	return scheduler.Config{Enabled: r.SchedulerEnabled, Timezone: strings.TrimSpace(cfg.Scheduler.Timezone)}
}

func cadenceConfig(r config.Resolved) cadence.Config {
	return cadence.Config{
		HourlyLimit:  r.HourlyLimit,
		DailyLimit:   r.DailyLimit,
		Workers:      r.SweepWorkers,
		Retention:    r.Retention,
		StoreTimeout: r.StoreTimeout,
	}
}

func cadenceSchedules(r config.Resolved) cadence.Schedules {
	return cadence.Schedules{
		HourlyEvery:   r.HourlyEvery,
		DailyAt:       r.DailyAt,
		PruneSchedule: r.PruneSchedule,
		Timeout:       r.DefaultTimeout,
	}
}

func dispatchConfig(r config.Resolved) dispatch.Config {
	return dispatch.Config{
		RatePerSec:   r.RatePerSec,
		SendTimeout:  r.SendTimeout,
		StoreTimeout: r.StoreTimeout,
		Location:     r.AlertLocation,
	}
}

// newExtractor returns the remote extractor when an endpoint is configured
// and the rule-based one otherwise.
func newExtractor(r config.Resolved, log logx.Logger) extract.Extractor {
	if r.ExtractorURL == "" {
		return extract.Rules{}
	}
	return extract.NewRemote(extract.RemoteConfig{
		Endpoint: r.ExtractorURL,
		Model:    r.ExtractorModel,
		Token:    r.ExtractorToken,
		Timeout:  r.ExtractorWait,
	}, nil, extract.Rules{}, log)
}

func debugConfig(r config.Resolved) debug.Config {
	return debug.Config{Enabled: r.DebugEnabled, Addr: r.DebugAddr, Token: r.DebugToken, AllowInsecure: r.DebugInsecure}
}
