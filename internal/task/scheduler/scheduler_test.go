package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"eventpulse/internal/task/engine"
	"eventpulse/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in    string
		kind  SpecKind
		cron  string
		every time.Duration
	}{
		{in: "*/5 * * * *", kind: SpecCron, cron: "*/5 * * * *"},
		{in: "@hourly", kind: SpecCron, cron: "@hourly"},
		{in: "@every 1h", kind: SpecCron, cron: "@every 1h"},
		{in: "cron: 0 9 * * *", kind: SpecCron, cron: "0 9 * * *"},
		{in: "55m", kind: SpecInterval, every: 55 * time.Minute},
		{in: "02:30", kind: SpecInterval, every: 2*time.Hour + 30*time.Minute},
		{in: "every: 1h", kind: SpecInterval, every: time.Hour},
		{in: "daily 09:00", kind: SpecCron, cron: "0 9 * * *"},
		{in: "Monthly 1 00:00", kind: SpecCron, cron: "0 0 1 * *"},
		{in: "monthly 15 23:45", kind: SpecCron, cron: "45 23 15 * *"},
	}
	for _, tt := range tests {
		ps, err := ParseSchedule(tt.in)
		if err != nil {
			t.Fatalf("%q: %v", tt.in, err)
		}
		if ps.Kind != tt.kind || ps.Cron != tt.cron || ps.Every != tt.every {
			t.Fatalf("%q: got %+v", tt.in, ps)
		}
	}
}

func TestParseScheduleErrors(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"", "  ", "nonsense", "-5m", "00:00", "daily", "daily 25:00", "monthly 0 00:00", "monthly 32 00:00", "monthly 1", "cron:", "01:75"} {
		if _, err := ParseSchedule(in); err == nil {
			t.Fatalf("%q: expected error", in)
		}
	}
}

func newScheduler(t *testing.T) (*Service, *engine.Service) {
	t.Helper()
	eng := engine.New(engine.Config{Enabled: true, Workers: 1}, logx.Nop(), nil)
	eng.Start(context.Background())
	s := New(Config{Enabled: true, Timezone: "UTC"}, eng, logx.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
		eng.Stop(ctx)
	})
	return s, eng
}

func TestRegisterAndSnapshot(t *testing.T) {
	t.Parallel()
	s, _ := newScheduler(t)
	noop := func(context.Context) error { return nil }

	if err := s.AddDaily("sweep.daily", "09:00", time.Minute, noop); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}
	if err := s.AddSchedule("ledger.prune", "monthly 1 00:00", time.Minute, noop); err != nil {
		t.Fatalf("AddSchedule monthly: %v", err)
	}
	if err := s.AddSchedule("sweep.hourly", "1h", time.Minute, noop); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	// upsert by name
	if err := s.AddDaily("sweep.daily", "10:30", time.Minute, noop); err != nil {
		t.Fatalf("AddDaily again: %v", err)
	}
	s.Start(context.Background())

	snap := s.Snapshot()
	if len(snap.Schedules) != 3 || snap.Timezone != "UTC" {
		t.Fatalf("snapshot=%+v", snap)
	}
	for _, it := range snap.Schedules {
		if it.Next.IsZero() {
			t.Fatalf("%s has no next run", it.Name)
		}
		switch it.Name {
		case "sweep.daily":
			if it.Spec != "30 10 * * *" || it.Next.Hour() != 10 || it.Next.Minute() != 30 {
				t.Fatalf("daily=%+v", it)
			}
		case "ledger.prune":
			if it.Next.Day() != 1 || it.Next.Hour() != 0 {
				t.Fatalf("prune=%+v", it)
			}
		case "sweep.hourly":
			if it.Spread < 0 || it.Spread >= maxStartupSpread {
				t.Fatalf("hourly spread=%v", it.Spread)
			}
		}
	}

	if !s.Remove("sweep.hourly") || s.Remove("sweep.hourly") {
		t.Fatalf("remove semantics broken")
	}
	if n := len(s.Snapshot().Schedules); n != 2 {
		t.Fatalf("schedules after remove=%d", n)
	}
}

func TestAddRejectsBadInput(t *testing.T) {
	t.Parallel()
	s, _ := newScheduler(t)
	noop := func(context.Context) error { return nil }
	if err := s.AddDaily("x", "9am", 0, noop); err == nil {
		t.Fatalf("expected HH:MM error")
	}
	if err := s.AddSchedule("x", "monthly 40 00:00", 0, noop); err == nil {
		t.Fatalf("expected day error")
	}
	if err := s.AddCronOpt("x", "not a cron", 0, engine.TaskOptions{}, noop); err == nil {
		t.Fatalf("expected cron error")
	}
	if err := s.AddDaily(" ", "09:00", 0, noop); err == nil {
		t.Fatalf("expected name error")
	}
}

func TestTriggerRespectsOverlap(t *testing.T) {
	t.Parallel()
	s, _ := newScheduler(t)
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	job := func(context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	}
	if err := s.AddDaily("sweep.daily", "09:00", time.Minute, job); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}
	if err := s.Trigger("sweep.daily"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	<-started
	if err := s.Trigger("sweep.daily"); !errors.Is(err, engine.ErrOverlapSkip) {
		t.Fatalf("second Trigger err=%v", err)
	}
	close(release)
	if err := s.Trigger("missing"); err == nil {
		t.Fatalf("expected not found")
	}
}

func TestNextRuns(t *testing.T) {
	t.Parallel()
	s := New(Config{Timezone: "UTC"}, nil, logx.Nop())
	runs, err := s.NextRuns("daily 09:00", 3)
	if err != nil {
		t.Fatalf("NextRuns: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("runs=%v", runs)
	}
	for i, r := range runs {
		if r.Hour() != 9 || r.Minute() != 0 {
			t.Fatalf("run %d=%v", i, r)
		}
		if i > 0 && r.Sub(runs[i-1]) != 24*time.Hour {
			t.Fatalf("runs not daily: %v", runs)
		}
	}
}
