package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Resolved is the typed view of Config with defaults applied. Components
// take their settings from here, never from the raw strings.
type Resolved struct {
	PollTimeout time.Duration

	StorageDriver string
	StoragePath   string
	BusyTimeout   time.Duration
	MongoURI      string
	MongoDatabase string

	EngineEnabled  bool
	EngineWorkers  int
	EngineQueue    int
	DefaultTimeout time.Duration
	HistorySize    int
	RetryMax       int

	SchedulerEnabled bool
	Location         *time.Location

	HourlyEvery   time.Duration
	DailyAt       string
	PruneSchedule string
	HourlyLimit   int
	DailyLimit    int
	SweepWorkers  int
	Retention     time.Duration
	PendingGrace  time.Duration
	StoreTimeout  time.Duration

	RatePerSec     int
	SendTimeout    time.Duration
	AlertLocation  *time.Location
	ExtractorURL   string
	ExtractorModel string
	ExtractorToken string
	ExtractorWait  time.Duration

	DebugEnabled  bool
	DebugAddr     string
	DebugToken    string
	DebugInsecure bool
}

const (
	DefaultStoragePath = "./data/eventpulse.db"
	DefaultDatabase    = "event_notifications"
)

// Validate reports the first configuration problem, if any.
func (c *Config) Validate() error {
	_, err := c.Resolve()
	return err
}

func (c *Config) Resolve() (Resolved, error) {
	var r Resolved
	if c == nil {
		return r, errors.New("config is nil")
	}
	var errs []error
	dur := func(path, raw string, def time.Duration) time.Duration {
		d, err := ParseDurationOrDefault(path, raw, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}
	loc := func(path, name string) *time.Location {
		name = strings.TrimSpace(name)
		if name == "" {
			return time.Local
		}
		l, err := time.LoadLocation(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			return time.Local
		}
		return l
	}

	r.PollTimeout = dur("telegram.poll_timeout", c.Telegram.PollTimeout, 10*time.Second)

	r.StorageDriver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if r.StorageDriver == "" {
		r.StorageDriver = "sqlite"
	}
	r.StoragePath = strings.TrimSpace(c.Storage.Path)
	if r.StoragePath == "" {
		r.StoragePath = DefaultStoragePath
	}
	r.BusyTimeout = dur("storage.busy_timeout", c.Storage.BusyTimeout, 5*time.Second)
	r.MongoURI = strings.TrimSpace(c.Storage.URI)
	r.MongoDatabase = strings.TrimSpace(c.Storage.Database)
	if r.MongoDatabase == "" {
		r.MongoDatabase = DefaultDatabase
	}
	switch r.StorageDriver {
	case "sqlite", "memory":
	case "mongo":
		if r.MongoURI == "" {
			errs = append(errs, errors.New("storage.uri: required for mongo driver (or set MONGODB_URI)"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}

	r.SchedulerEnabled = c.Scheduler.Enabled
	r.Location = loc("scheduler.timezone", c.Scheduler.Timezone)

	te := derefTaskEngine(c.TaskEngine)
	r.EngineEnabled = c.Scheduler.Enabled
	if te.Enabled != nil {
		r.EngineEnabled = *te.Enabled
	}
	r.EngineWorkers = positiveOr(te.Workers, 2)
	r.EngineQueue = positiveOr(te.QueueSize, 64)
	r.DefaultTimeout = dur("task_engine.default_timeout", te.DefaultTimeout, 0)
	r.HistorySize = positiveOr(te.HistorySize, 200)
	r.RetryMax = positiveOr(te.RetryMax, 3)

	cd := c.Cadence
	r.HourlyEvery = dur("cadence.hourly_every", cd.HourlyEvery, time.Hour)
	r.DailyAt = strings.TrimSpace(cd.DailyAt)
	if r.DailyAt == "" {
		r.DailyAt = "09:00"
	}
	if _, err := time.Parse("15:04", r.DailyAt); err != nil {
		errs = append(errs, fmt.Errorf("cadence.daily_at: expected HH:MM, got %q", cd.DailyAt))
	}
	r.PruneSchedule = strings.TrimSpace(cd.PruneSchedule)
	if r.PruneSchedule == "" {
		r.PruneSchedule = "monthly 1 00:00"
	}
	r.HourlyLimit = positiveOr(cd.HourlyLimit, 1)
	r.DailyLimit = positiveOr(cd.DailyLimit, 3)
	r.SweepWorkers = positiveOr(cd.Workers, 4)
	r.Retention = dur("cadence.retention", cd.Retention, 720*time.Hour)
	r.PendingGrace = dur("cadence.pending_grace", cd.PendingGrace, 15*time.Minute)
	r.StoreTimeout = dur("cadence.store_timeout", cd.StoreTimeout, 10*time.Second)

	r.RatePerSec = positiveOr(c.Dispatch.RatePerSec, 20)
	r.SendTimeout = dur("dispatch.send_timeout", c.Dispatch.SendTimeout, 10*time.Second)
	r.AlertLocation = loc("dispatch.timezone", c.Dispatch.Timezone)

	if x := c.Extractor; x != nil {
		r.ExtractorURL = strings.TrimSpace(x.Endpoint)
		r.ExtractorModel = strings.TrimSpace(x.Model)
		r.ExtractorToken = strings.TrimSpace(x.Token)
		r.ExtractorWait = dur("extractor.timeout", x.Timeout, 15*time.Second)
	}

	if d := c.Debug; d != nil {
		r.DebugEnabled = d.Enabled
		r.DebugAddr = strings.TrimSpace(d.Addr)
		r.DebugToken = strings.TrimSpace(d.Token)
		r.DebugInsecure = d.AllowInsecure
	}

	if len(errs) > 0 {
		return Resolved{}, errors.Join(errs...)
	}
	return r, nil
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func derefTaskEngine(te *TaskEngineConfig) TaskEngineConfig {
	if te == nil {
		return TaskEngineConfig{}
	}
	return *te
}
