package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`

	// Scheduler controls trigger behavior (cron/interval).
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls execution settings for scheduled tasks.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Cadence   CadenceConfig    `json:"cadence"`
	Dispatch  DispatchConfig   `json:"dispatch"`
	Extractor *ExtractorConfig `json:"extractor,omitempty"`
	Debug     *DebugConfig     `json:"debug,omitempty"`
}

// TaskEngineConfig controls the task execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - enabled: scheduler.enabled
//   - workers: 2
//   - queue_size: 64
//   - default_timeout: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 3
type TaskEngineConfig struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
}

// StorageConfig selects the persistent store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/eventpulse.db" }
//	"storage": { "driver": "mongo", "uri": "mongodb://localhost:27017", "database": "eventpulse" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)

	URI      string `json:"uri,omitempty"` // mongo; usually from MONGODB_URI
	Database string `json:"database,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Trigger timezone (IANA name). Empty means local time.
	Timezone string `json:"timezone,omitempty"`
}

// CadenceConfig drives the periodic sweeps and the monthly ledger prune.
//
// Defaults:
//   - hourly_every: "1h"
//   - daily_at: "09:00"
//   - prune_schedule: "monthly 1 00:00"
//   - hourly_limit: 1, daily_limit: 3
//   - workers: 4
//   - retention: "720h", pending_grace: "15m", store_timeout: "10s"
type CadenceConfig struct {
	HourlyEvery   string `json:"hourly_every,omitempty"`
	DailyAt       string `json:"daily_at,omitempty"`
	PruneSchedule string `json:"prune_schedule,omitempty"`
	HourlyLimit   int    `json:"hourly_limit,omitempty"`
	DailyLimit    int    `json:"daily_limit,omitempty"`
	Workers       int    `json:"workers,omitempty"`
	Retention     string `json:"retention,omitempty"`
	PendingGrace  string `json:"pending_grace,omitempty"`
	StoreTimeout  string `json:"store_timeout,omitempty"`
}

type DispatchConfig struct {
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
	// Timezone used to render event start times in alerts.
	Timezone string `json:"timezone,omitempty"`
}

// ExtractorConfig points at an optional text-generation endpoint. Without an
// endpoint (or token) the rule-based extractor is used alone.
type ExtractorConfig struct {
	Endpoint string `json:"endpoint"`
	Model    string `json:"model,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
	// Token is normally supplied via EXTRACTOR_API_TOKEN.
	Token string `json:"token,omitempty"`
}

// DebugConfig enables the operator HTTP endpoint (/healthz, /status,
// /debug/pprof/). It binds to 127.0.0.1:6060 by default; other addresses
// need a token (EVENTPULSE_DEBUG_TOKEN) or allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
