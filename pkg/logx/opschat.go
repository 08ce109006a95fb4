package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "eventpulse/internal/transport"
)

// Sender is the part of the chat adapter the ops sink needs.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type opsLine struct {
	to  kit.ChatTarget
	msg string
}

// opsChat is a zerolog LevelWriter that forwards lines to a chat without
// ever blocking the caller. Lines over the rate limit or the queue size are
// dropped.
type opsChat struct {
	sender Sender
	queue  chan opsLine

	once   sync.Once
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	target   kit.ChatTarget
	minLevel zerolog.Level
	limiter  *rate.Limiter
}

func newOpsChat(sender Sender) *opsChat {
	return &opsChat{sender: sender, queue: make(chan opsLine, 256), minLevel: zerolog.WarnLevel}
}

func (o *opsChat) configure(chatID int64, threadID int, min zerolog.Level, lim *rate.Limiter) {
	o.mu.Lock()
	o.target = kit.ChatTarget{ChatID: chatID, ThreadID: threadID}
	o.minLevel = min
	o.limiter = lim
	o.mu.Unlock()
}

func (o *opsChat) start() {
	if o.sender == nil {
		return
	}
	o.once.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		o.cancel = cancel
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ln := <-o.queue:
					_, _ = o.sender.SendText(ctx, ln.to, ln.msg, &kit.SendOptions{DisablePreview: true})
				}
			}
		}()
	})
}

func (o *opsChat) stop() {
	if o.cancel != nil {
		o.cancel()
		o.wg.Wait()
	}
}

func (o *opsChat) Write(p []byte) (int, error) {
	return o.WriteLevel(zerolog.InfoLevel, p)
}

func (o *opsChat) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	o.mu.Lock()
	to, min, lim := o.target, o.minLevel, o.limiter
	o.mu.Unlock()

	if o.sender == nil || to.ChatID == 0 || level < min {
		return len(p), nil
	}
	if lim != nil && !lim.Allow() {
		return len(p), nil
	}
	msg := renderOpsLine(p)
	if msg == "" {
		return len(p), nil
	}
	select {
	case o.queue <- opsLine{to: to, msg: msg}:
	default:
	}
	return len(p), nil
}

// renderOpsLine turns a zerolog JSON line into "[LEVEL] message" followed by
// sorted "- key=value" lines.
func renderOpsLine(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(p))), &m); err != nil {
		return clip(strings.TrimSpace(string(p)), 3500)
	}
	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	if lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	b.WriteString(msg)
	for _, k := range keys {
		b.WriteString("\n- " + k + "=")
		b.WriteString(clip(fmt.Sprint(m[k]), 600))
	}
	return clip(b.String(), 3500)
}

func clip(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
