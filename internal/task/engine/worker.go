package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"time"

	"eventpulse/internal/eventbus"
	"eventpulse/pkg/logx"
)

func (s *Service) worker(ctx context.Context, queue <-chan queuedTask) {
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), s.idSeq.Add(1)))
	for {
		select {
		case <-ctx.Done():
			return
		case qt := <-queue:
			s.inFlight.Add(1)
			s.execOne(ctx, qt, rng)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, qt queuedTask, rng *rand.Rand) {
	defer qt.state.release()

	start := time.Now()
	queueDelay := max(start.Sub(qt.enqueuedAt), 0)
	log := s.log.With(logx.String("task", qt.task.Name), logx.String("task_id", qt.task.ID))
	log.Debug("task.started", logx.Duration("queue_delay", queueDelay))

	var err error
	attempts := 0
	maxAttempts := 1 + qt.opt.RetryMax
attemptLoop:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		err = s.runAttempt(ctx, qt, log)
		if err == nil {
			break
		}
		if IsNoRetry(err) {
			err = errors.Unwrap(err)
			break
		}
		if attempt >= maxAttempts || ctx.Err() != nil {
			break
		}

		delay := backoffDelay(qt.opt, attempt, rng)
		log.Debug("task retry scheduled", logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			err = ctx.Err()
			break attemptLoop
		case <-tmr.C:
		}
	}

	dur := time.Since(start)
	item := HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Duration: dur, Attempts: attempts}
	ev := TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Started: start, Duration: dur, Attempts: attempts}
	if err != nil {
		item.Error = err.Error()
		ev.Error = item.Error
		log.Warn("task.failed", logx.Err(err), logx.Duration("dur", dur), logx.Int("attempts", attempts))
	} else {
		log.Info("task.completed", logx.Duration("dur", dur), logx.Int("attempts", attempts))
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TaskFinished, Time: time.Now(), Data: ev})
	s.record(item)
}

// runAttempt converts a task panic into an error so one bad task cannot
// take a worker down.
func (s *Service) runAttempt(ctx context.Context, qt queuedTask, log logx.Logger) (err error) {
	runCtx := ctx
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = NoRetry(fmt.Errorf("panic: %v", r))
			log.Error("task.panic", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return qt.task.Run(runCtx)
}

func backoffDelay(opt TaskOptions, retry int, rng *rand.Rand) time.Duration {
	d := opt.RetryBase
	for i := 1; i < retry && d < opt.RetryMaxDelay; i++ {
		d *= 2
	}
	// +/-20% jitter
	d = time.Duration(float64(d) * (0.8 + 0.4*rng.Float64()))
	return min(d, opt.RetryMaxDelay)
}
