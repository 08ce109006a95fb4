package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"eventpulse/internal/eventbus"
	"eventpulse/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	cfg.Enabled = true
	s := New(cfg, logx.Nop(), eventbus.Nop())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitHistory(t *testing.T, s *Service, n int) []HistoryItem {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if h := s.Snapshot().History; len(h) >= n {
			return h
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("history did not reach %d items", n)
	return nil
}

func TestEnqueueDisabled(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("err=%v want ErrDisabled", err)
	}
}

func TestEnqueueValidation(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1})
	if err := s.Enqueue(Task{Name: "x"}); err == nil {
		t.Fatalf("expected error for nil Run")
	}
	if err := s.Enqueue(Task{Name: "  ", Run: func(context.Context) error { return nil }}); err == nil {
		t.Fatalf("expected error for blank name")
	}
}

func TestRetryThenSuccess(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, RetryMax: 3})
	var calls atomic.Int32
	err := s.Enqueue(Task{
		Name: "flaky",
		Opt:  TaskOptions{RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond},
		Run: func(context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("transient")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	h := waitHistory(t, s, 1)
	if h[0].Error != "" || h[0].Attempts != 3 {
		t.Fatalf("history=%+v", h[0])
	}
}

func TestNoRetryStopsImmediately(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, RetryMax: 5})
	var calls atomic.Int32
	_ = s.Enqueue(Task{
		Name: "permanent",
		Opt:  TaskOptions{RetryBase: time.Millisecond},
		Run: func(context.Context) error {
			calls.Add(1)
			return NoRetry(errors.New("store down"))
		},
	})
	h := waitHistory(t, s, 1)
	if calls.Load() != 1 || h[0].Error != "store down" {
		t.Fatalf("calls=%d history=%+v", calls.Load(), h[0])
	}
}

func TestPanicIsRecorded(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, RetryMax: 2})
	_ = s.Enqueue(Task{Name: "boom", Run: func(context.Context) error { panic("boom") }})
	h := waitHistory(t, s, 1)
	if h[0].Error != "panic: boom" || h[0].Attempts != 1 {
		t.Fatalf("history=%+v", h[0])
	}

	// worker survives
	done := make(chan struct{})
	_ = s.Enqueue(Task{Name: "after", Run: func(context.Context) error { close(done); return nil }})
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("worker did not survive panic")
	}
}

func TestOverlapSkipIfRunning(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 2})
	release := make(chan struct{})
	started := make(chan struct{})
	task := Task{
		Name: "sweep",
		Opt:  TaskOptions{Overlap: OverlapSkipIfRunning},
		Run: func(context.Context) error {
			close(started)
			<-release
			return nil
		},
	}
	if err := s.Enqueue(task); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	<-started
	if err := s.Enqueue(task); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second enqueue err=%v want ErrOverlapSkip", err)
	}
	close(release)
	waitHistory(t, s, 1)

	done := make(chan struct{})
	task.Run = func(context.Context) error { close(done); return nil }
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := s.Enqueue(task)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrOverlapSkip) || time.Now().After(deadline) {
			t.Fatalf("enqueue after release: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	<-done
}

func TestTimeoutAppliesPerAttempt(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, DefaultTimeout: 20 * time.Millisecond})
	_ = s.Enqueue(Task{
		Name: "slow",
		Opt:  TaskOptions{RetryMax: -1},
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	h := waitHistory(t, s, 1)
	if h[0].Error != context.DeadlineExceeded.Error() {
		t.Fatalf("history=%+v", h[0])
	}
}

func TestRunNowReturnsResult(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, RetryMax: 3})
	want := errors.New("nope")
	var calls atomic.Int32
	err := s.RunNow(context.Background(), Task{Name: "manual", Run: func(context.Context) error {
		calls.Add(1)
		return want
	}})
	if !errors.Is(err, want) || calls.Load() != 1 {
		t.Fatalf("err=%v calls=%d", err, calls.Load())
	}
}

func TestQueueFull(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Workers: 1, QueueSize: 1}, logx.Nop(), nil)
	// Not started: the queue exists only after Start.
	if err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("err=%v want ErrStopped", err)
	}

	s = startEngine(t, Config{Workers: 1, QueueSize: 1})
	block := make(chan struct{})
	started := make(chan struct{})
	_ = s.Enqueue(Task{Name: "a", Run: func(context.Context) error { close(started); <-block; return nil }})
	<-started
	_ = s.Enqueue(Task{Name: "b", Run: func(context.Context) error { return nil }})
	err := s.Enqueue(Task{Name: "c", Run: func(context.Context) error { return nil }})
	close(block)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err=%v want ErrQueueFull", err)
	}
	if s.Snapshot().Dropped != 1 {
		t.Fatalf("dropped=%d", s.Snapshot().Dropped)
	}
}
