package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"eventpulse/pkg/logx"
)

const (
	reloadDebounce  = 250 * time.Millisecond
	watchBackoffMin = 250 * time.Millisecond
	watchBackoffMax = 5 * time.Second
)

// Watch reloads the file on change until ctx ends. Each reload is parsed,
// skipped when the content hash is unchanged, validated, then committed
// and published. A broken watcher is recreated with jittered backoff.
func (m *Manager) Watch(ctx context.Context) error {
	d := &debouncer{delay: reloadDebounce, fn: func() { m.reload(ctx) }}
	defer d.stop()

	backoff := watchBackoffMin
	for ctx.Err() == nil {
		started, err := m.watchOnce(ctx, d)
		if ctx.Err() != nil {
			break
		}
		if started {
			backoff = watchBackoffMin
		}
		var wait time.Duration
		wait, backoff = nextBackoff(backoff, watchBackoffMax)
		m.log.Warn("config watcher stopped; restarting", logx.Err(err), logx.Duration("backoff", wait))
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
	}
	return nil
}

// watchOnce runs one fsnotify watcher on the config directory. started
// reports whether the watcher came up at all.
func (m *Manager) watchOnce(ctx context.Context, d *debouncer) (started bool, err error) {
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return false, err
	}
	defer w.Close()
	// the directory is watched so editors that replace the file are seen
	if err := w.Add(dir); err != nil {
		return false, err
	}
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case ev, ok := <-w.Events:
			if !ok {
				return true, errors.New("event channel closed")
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) && ev.Op != 0 {
				d.trigger()
			}
		case err, ok := <-w.Errors:
			switch {
			case !ok:
				return true, errors.New("error channel closed")
			case errors.Is(err, fsnotify.ErrEventOverflow):
				m.log.Warn("config watch overflow; forcing reload")
				d.trigger()
			case err != nil:
				m.log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}

func (m *Manager) reload(ctx context.Context) {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config parse failed", logx.String("path", m.path), logx.Err(err))
		return
	}
	h := hashConfig(cfg)
	m.mu.RLock()
	unchanged := h != 0 && h == m.lastHash
	m.mu.RUnlock()
	if unchanged {
		m.log.Debug("config unchanged; skipping publish")
		return
	}
	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := m.validator(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
			return
		}
	}
	m.Commit(cfg)
	m.publish(cfg)
	m.log.Debug("config published", logx.String("path", m.path))
}

// debouncer runs fn once after a quiet period following the last trigger.
type debouncer struct {
	delay time.Duration
	fn    func()

	mu sync.Mutex
	t  *time.Timer
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
	}
	d.t = time.AfterFunc(d.delay, d.fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
	}
}

// nextBackoff returns a jittered wait for the current step and the doubled
// (capped) base for the following one.
func nextBackoff(cur, limit time.Duration) (wait, next time.Duration) {
	wait = cur + time.Duration(rand.Int64N(int64(cur/2)+1))
	return wait, min(cur*2, limit)
}
