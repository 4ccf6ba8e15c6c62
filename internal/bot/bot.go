package bot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"groupcast/internal/scheduler"
	kit "groupcast/internal/transport"
	logx "groupcast/pkg/logx"
	"groupcast/pkg/tgui"
)

const defaultHandlerTimeout = 30 * time.Second

type Options struct {
	Adapter    kit.Adapter
	Groups     Groups
	Settings   SettingsStore
	Broadcasts Broadcaster
	Timers     Timers
	Activity   Activity
	Backup     Backuper

	// Owners may use the menus. Empty lets everyone in.
	Owners []int64

	Log            logx.Logger
	HandlerTimeout time.Duration
	Location       *time.Location
	Now            func() time.Time
}

// Bot routes updates to menu handlers. Updates are handled one at a time in
// arrival order; broadcasts run in the background.
type Bot struct {
	ad       kit.Adapter
	groups   Groups
	settings SettingsStore
	bcast    Broadcaster
	timers   Timers
	act      Activity
	backup   Backuper

	log     logx.Logger
	timeout time.Duration
	loc     *time.Location
	now     func() time.Time

	owners atomic.Pointer[[]int64]
	inputs *inputs
	bg     conc.WaitGroup
}

func New(opt Options) (*Bot, error) {
	switch {
	case opt.Adapter == nil:
		return nil, errors.New("bot: adapter is required")
	case opt.Groups == nil, opt.Settings == nil:
		return nil, errors.New("bot: groups and settings are required")
	case opt.Broadcasts == nil, opt.Timers == nil:
		return nil, errors.New("bot: broadcaster and timers are required")
	case opt.Activity == nil:
		return nil, errors.New("bot: activity is required")
	}
	log := opt.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	now := opt.Now
	if now == nil {
		now = time.Now
	}
	loc := opt.Location
	if loc == nil {
		loc = time.Local
	}
	timeout := opt.HandlerTimeout
	if timeout <= 0 {
		timeout = defaultHandlerTimeout
	}
	b := &Bot{
		ad:       opt.Adapter,
		groups:   opt.Groups,
		settings: opt.Settings,
		bcast:    opt.Broadcasts,
		timers:   opt.Timers,
		act:      opt.Activity,
		backup:   opt.Backup,
		log:      log,
		timeout:  timeout,
		loc:      loc,
		now:      now,
		inputs:   newInputs(now),
	}
	b.SetOwners(opt.Owners)
	return b, nil
}

// SetOwners replaces the owner list. Safe to call while running.
func (b *Bot) SetOwners(ids []int64) {
	cp := slices.Clone(ids)
	b.owners.Store(&cp)
}

func (b *Bot) isOwner(id int64) bool {
	owners := *b.owners.Load()
	return len(owners) == 0 || slices.Contains(owners, id)
}

// Run handles updates until ctx is done or updates is closed, then waits for
// background broadcasts.
func (b *Bot) Run(ctx context.Context, updates <-chan kit.Update) error {
	defer b.Wait()
	for {
		select {
		case <-ctx.Done():
			b.log.Info("bot stopped", logx.Any("err", ctx.Err()))
			return nil
		case up, ok := <-updates:
			if !ok {
				b.log.Info("bot stopped (updates channel closed)")
				return nil
			}
			b.Handle(ctx, up)
		}
	}
}

// Wait blocks until background broadcasts finish.
func (b *Bot) Wait() {
	if r := b.bg.WaitAndRecover(); r != nil {
		b.log.Error("panic in background broadcast", logx.String("panic", r.String()))
	}
}

// Handle processes a single update synchronously.
func (b *Bot) Handle(ctx context.Context, up kit.Update) {
	req, h := b.route(up)
	if h == nil {
		return
	}
	req.root = ctx
	final := Chain(h, MWPanicRecover(), MWRequestLog(), MWTimeout(b.timeout))
	_ = final(ctx, req)
}

func (b *Bot) route(up kit.Update) (*Request, HandlerFunc) {
	rid := uuid.NewString()[:8]
	switch up.Kind {
	case kit.UpdateMessage:
		m := up.Message
		if m == nil || m.IsGroup {
			return nil, nil
		}
		req := &Request{
			Update: up,
			Chat:   kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID},
			FromID: m.FromID,
			Route:  commandOf(m.Text),
		}
		req.Logger = b.reqLog(rid, req)
		if !b.isOwner(m.FromID) {
			if req.Route == "/start" {
				return req, b.handleStranger
			}
			return nil, nil
		}
		return req, b.handleMessage

	case kit.UpdateCallback:
		cb := up.Callback
		if cb == nil {
			return nil, nil
		}
		scope, action, payload, _ := tgui.ParseData(cb.Data)
		req := &Request{
			Update:  up,
			Chat:    kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID},
			FromID:  cb.FromID,
			Route:   scope + ":" + action,
			Payload: payload,
		}
		req.Logger = b.reqLog(rid, req)
		if !b.isOwner(cb.FromID) {
			return req, b.handleForbidden
		}
		return req, b.handleCallback

	case kit.UpdateJoined:
		j := up.Joined
		if j == nil {
			return nil, nil
		}
		req := &Request{
			Update: up,
			Chat:   kit.ChatTarget{ChatID: j.ChatID},
			FromID: j.ByID,
			Route:  "joined",
		}
		req.Logger = b.reqLog(rid, req)
		return req, b.handleJoined
	}
	return nil, nil
}

func (b *Bot) reqLog(rid string, req *Request) logx.Logger {
	return b.log.With(
		logx.String("rid", rid),
		logx.Int64("chat_id", req.Chat.ChatID),
		logx.Int64("from_id", req.FromID),
		logx.String("route", req.Route),
	)
}

// commandOf returns "/cmd" for command messages, dropping any @botname.
func commandOf(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	word, _, _ := strings.Cut(text, " ")
	word, _, _ = strings.Cut(word, "@")
	return strings.ToLower(word)
}

// NotifyOwners sends m to every configured owner. It is a no-op when no owner
// is configured.
func (b *Bot) NotifyOwners(ctx context.Context, m tgui.Message) {
	for _, id := range *b.owners.Load() {
		if _, err := m.Send(ctx, b.ad, kit.ChatTarget{ChatID: id}); err != nil {
			b.log.Warn("notify owner failed", logx.Int64("owner_id", id), logx.Err(err))
		}
	}
}

// NotifyFired tells owners how a scheduled broadcast went.
func (b *Bot) NotifyFired(ctx context.Context, f scheduler.Fired) {
	title := fmt.Sprintf("Scheduled broadcast #%d finished", f.Job.ID)
	b.NotifyOwners(ctx, summaryMessage(title, f.Summary, f.Err))
}

func (b *Bot) reply(ctx context.Context, req *Request, m tgui.Message) error {
	_, err := m.Send(ctx, b.ad, req.Chat)
	return err
}

// goBroadcast runs fn detached from the handler timeout but bound to the
// root context.
func (b *Bot) goBroadcast(req *Request, fn func(ctx context.Context)) {
	root := req.root
	if root == nil {
		root = context.Background()
	}
	b.bg.Go(func() { fn(root) })
}
