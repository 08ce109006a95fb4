package config

import (
	"reflect"
	"sort"
	"strings"

	"eventpulse/pkg/logx"
)

// SummarizeConfigChange returns a sorted list of changed sections and safe
// structured attrs for the reload log line. Secrets (bot token, mongo uri,
// extractor token) are never included, only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) ||
		(ot.Token != nt.Token) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	oldS, ns := oldCfg.Storage, newCfg.Storage
	if oldS.Driver != ns.Driver || oldS.Path != ns.Path || oldS.BusyTimeout != ns.BusyTimeout ||
		oldS.URI != ns.URI || oldS.Database != ns.Database {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(ns.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(ns.Path) != ""),
			logx.Bool("storage.uri_set", strings.TrimSpace(ns.URI) != ""),
			logx.String("storage.database", strings.TrimSpace(ns.Database)),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	oTE, nTE := derefTaskEngine(oldCfg.TaskEngine), derefTaskEngine(newCfg.TaskEngine)
	if (oldCfg.TaskEngine != nil) != (newCfg.TaskEngine != nil) || !reflect.DeepEqual(oTE, nTE) {
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Int("task_engine.workers", nTE.Workers),
			logx.Int("task_engine.queue_size", nTE.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(nTE.DefaultTimeout)),
			logx.Int("task_engine.retry_max", nTE.RetryMax),
		)
	}

	if oldCfg.Cadence != newCfg.Cadence {
		nc := newCfg.Cadence
		changed = append(changed, "cadence")
		attrs = append(attrs,
			logx.String("cadence.hourly_every", nc.HourlyEvery),
			logx.String("cadence.daily_at", nc.DailyAt),
			logx.String("cadence.prune_schedule", nc.PruneSchedule),
			logx.Int("cadence.workers", nc.Workers),
			logx.String("cadence.retention", nc.Retention),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.Int("dispatch.rate_per_sec", newCfg.Dispatch.RatePerSec),
			logx.String("dispatch.send_timeout", newCfg.Dispatch.SendTimeout),
			logx.String("dispatch.timezone", newCfg.Dispatch.Timezone),
		)
	}

	if canonicalHashJSON(oldCfg.Extractor) != canonicalHashJSON(newCfg.Extractor) {
		changed = append(changed, "extractor")
		var endpoint string
		var tokenSet bool
		if x := newCfg.Extractor; x != nil {
			endpoint = x.Endpoint
			tokenSet = x.Token != ""
		}
		attrs = append(attrs,
			logx.String("extractor.endpoint", endpoint),
			logx.Bool("extractor.token_set", tokenSet),
		)
	}

	if canonicalHashJSON(oldCfg.Debug) != canonicalHashJSON(newCfg.Debug) {
		changed = append(changed, "debug")
		var d DebugConfig
		if newCfg.Debug != nil {
			d = *newCfg.Debug
		}
		attrs = append(attrs,
			logx.Bool("debug.enabled", d.Enabled),
			logx.String("debug.addr", d.Addr),
			logx.Bool("debug.token_set", d.Token != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
