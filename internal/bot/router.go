package bot

import (
	"context"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"eventpulse/internal/runtime/supervisor"
	kit "eventpulse/internal/transport"
	"eventpulse/pkg/logx"
	"eventpulse/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string // without the leading slash
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

// CallbackRoute handles inline-button data built with tgui.Data(Scope, Action, payload).
type CallbackRoute struct {
	Scope   string
	Action  string
	Access  Access
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Update     kit.Update
	Chat       kit.ChatTarget
	From       kit.Sender
	Command    string
	Args       []string
	Text       string // full message text
	Payload    string // callback payload
	CallbackID string
	MessageID  int
	ReqID      string
	Log        logx.Logger

	answered bool
}

// Router turns adapter updates into handler calls on a small worker pool.
type Router struct {
	log     logx.Logger
	adapter kit.Adapter
	workers int

	mu        sync.RWMutex
	cmds      map[string]Command
	menu      []kit.BotCommand
	callbacks map[string]CallbackRoute
	text      HandlerFunc
	owners    []int64

	jobs chan func()
}

func NewRouter(log logx.Logger, adapter kit.Adapter, owners []int64, workers int) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if workers <= 0 {
		workers = 4
	}
	return &Router{
		log:       log.Component("bot.router"),
		adapter:   adapter,
		workers:   workers,
		cmds:      map[string]Command{},
		callbacks: map[string]CallbackRoute{},
		owners:    slices.Clone(owners),
		jobs:      make(chan func(), 256),
	}
}

// SetOwners replaces the owner list used by AccessOwnerOnly. Safe during
// hot reload.
func (r *Router) SetOwners(owners []int64) {
	r.mu.Lock()
	r.owners = slices.Clone(owners)
	r.mu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.owners, id)
}

// SetRoutes installs commands, callbacks and the free-text handler.
func (r *Router) SetRoutes(cmds []Command, cbs []CallbackRoute, text HandlerFunc) {
	m := make(map[string]Command, len(cmds))
	menu := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Name), "/"))
		if name == "" || c.Handle == nil {
			continue
		}
		m[name] = c
		if c.Access == AccessEveryone {
			menu = append(menu, kit.BotCommand{Command: name, Description: c.Description})
		}
	}
	cb := make(map[string]CallbackRoute, len(cbs))
	for _, c := range cbs {
		if c.Handle != nil {
			cb[c.Scope+":"+c.Action] = c
		}
	}
	r.mu.Lock()
	r.cmds, r.menu, r.callbacks, r.text = m, menu, cb, text
	r.mu.Unlock()
}

// Commands lists the registered commands sorted by name.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	out := make([]Command, 0, len(r.cmds))
	for _, c := range r.cmds {
		out = append(out, c)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b Command) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Run consumes updates until ctx is done or the channel closes.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(r.log))
	for i := range r.workers {
		sup.GoRestart("worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					r.runJob(job)
				}
			}
		}, 200*time.Millisecond, 5*time.Second)
	}
	r.publishMenu(ctx)
	r.log.Info("bot router started", logx.Int("workers", r.workers))
	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		r.log.Info("bot router stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			job := r.prepare(ctx, up)
			if job == nil {
				continue
			}
			select {
			case r.jobs <- job:
			default:
				r.rejectBusy(ctx, up)
			}
		}
	}
}

// Serve handles one update synchronously.
func (r *Router) Serve(ctx context.Context, up kit.Update) {
	if job := r.prepare(ctx, up); job != nil {
		r.runJob(job)
	}
}

func (r *Router) runJob(job func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in bot job", logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (r *Router) publishMenu(ctx context.Context) {
	up, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	r.mu.RLock()
	menu := slices.Clone(r.menu)
	r.mu.RUnlock()
	slices.SortFunc(menu, func(a, b kit.BotCommand) int { return strings.Compare(a.Command, b.Command) })
	go func() {
		mctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(mctx, menu); err != nil {
			r.log.Warn("menu update failed", logx.Err(err))
		}
	}()
}

func (r *Router) prepare(ctx context.Context, up kit.Update) func() {
	switch {
	case up.Kind == kit.UpdateMessage && up.Message != nil:
		return r.prepareMessage(ctx, up)
	case up.Kind == kit.UpdateCallback && up.Callback != nil:
		return r.prepareCallback(ctx, up)
	}
	return nil
}

func (r *Router) prepareMessage(ctx context.Context, up kit.Update) func() {
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}
	req := &Request{
		Update:    up,
		Chat:      kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		From:      msg.From,
		Text:      text,
		MessageID: msg.ID,
		ReqID:     newReqID(),
	}

	var (
		h       HandlerFunc
		timeout time.Duration
	)
	if strings.HasPrefix(text, "/") {
		fields := strings.Fields(text)
		name, _, _ := strings.Cut(strings.TrimPrefix(fields[0], "/"), "@")
		name = strings.ToLower(name)
		r.mu.RLock()
		cmd, ok := r.cmds[name]
		r.mu.RUnlock()
		if !ok {
			return func() { _, _ = r.adapter.SendText(ctx, req.Chat, "Unknown command. Try /help", nil) }
		}
		if cmd.Access == AccessOwnerOnly && !r.isOwner(msg.From.ID) {
			return func() { _, _ = r.adapter.SendText(ctx, req.Chat, "This command is restricted to the bot owners.", nil) }
		}
		req.Command = name
		req.Args = fields[1:]
		h, timeout = cmd.Handle, cmd.Timeout
	} else {
		if msg.IsGroup {
			return nil
		}
		r.mu.RLock()
		h = r.text
		r.mu.RUnlock()
		if h == nil {
			return nil
		}
		req.Command = "text"
	}
	req.Log = r.requestLog(req)
	final := Chain(h, MWRequestLog(), MWApology(r.adapter), MWPanicRecover(), MWTimeout(timeout))
	return func() { _ = final(ctx, req) }
}

func (r *Router) prepareCallback(ctx context.Context, up kit.Update) func() {
	cb := up.Callback
	scope, action, payload, err := tgui.ParseData(cb.Data)
	if err != nil {
		return func() { _ = r.adapter.AnswerCallback(ctx, cb.ID, "", false) }
	}
	r.mu.RLock()
	route, ok := r.callbacks[scope+":"+action]
	r.mu.RUnlock()
	if !ok {
		return func() { _ = r.adapter.AnswerCallback(ctx, cb.ID, "This button is no longer supported.", false) }
	}
	if route.Access == AccessOwnerOnly && !r.isOwner(cb.From.ID) {
		return func() { _ = r.adapter.AnswerCallback(ctx, cb.ID, "forbidden", true) }
	}
	req := &Request{
		Update:     up,
		Chat:       kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID},
		From:       cb.From,
		Command:    "cb:" + scope + ":" + action,
		Payload:    payload,
		CallbackID: cb.ID,
		MessageID:  cb.MessageID,
		ReqID:      newReqID(),
	}
	req.Log = r.requestLog(req)
	final := Chain(route.Handle, MWRequestLog(), MWApology(r.adapter), MWPanicRecover(), MWTimeout(route.Timeout))
	return func() {
		_ = final(ctx, req)
		if !req.answered {
			// stops the client spinner
			_ = r.adapter.AnswerCallback(ctx, cb.ID, "", false)
		}
	}
}

func (r *Router) rejectBusy(ctx context.Context, up kit.Update) {
	r.log.Warn("bot job queue full; update rejected", logx.String("kind", string(up.Kind)))
	switch {
	case up.Callback != nil:
		_ = r.adapter.AnswerCallback(ctx, up.Callback.ID, "busy, try again", false)
	case up.Message != nil:
		_, _ = r.adapter.SendText(ctx, kit.ChatTarget{ChatID: up.Message.ChatID, ThreadID: up.Message.ThreadID}, "busy, try again", nil)
	}
}

func (r *Router) requestLog(req *Request) logx.Logger {
	return r.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", req.Chat.ChatID),
		logx.Int64("from_id", req.From.ID),
		logx.String("cmd", req.Command),
	)
}

// newReqID returns a short id correlating the log lines of one update.
func newReqID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
