package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"eventpulse/internal/task/engine"
	"eventpulse/pkg/logx"
)

type Config struct {
	Enabled  bool
	Timezone string // IANA name, empty means Local
}

type Job func(ctx context.Context) error

type scheduleDef struct {
	name    string
	spec    string // cron spec or "@every <d>"
	timeout time.Duration
	job     Job
	opt     engine.TaskOptions
	state   *engine.RunState
	entryID cron.EntryID
	spread  time.Duration
}

// Service owns the cron instance. Definitions survive Stop/Start and
// timezone changes.
type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config
	loc *time.Location

	engine *engine.Service
	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Spread  time.Duration
	Next    time.Time
	Prev    time.Time
	Running bool
}

type Snapshot struct {
	Enabled   bool
	Timezone  string
	Schedules []ScheduleInfo
	Engine    engine.Snapshot
}
