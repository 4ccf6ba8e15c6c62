package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sourcegraph/conc"
	tele "gopkg.in/telebot.v4"

	kit "groupcast/internal/transport"
	logx "groupcast/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// OnPollError is called for errors raised outside any update handler,
	// such as failed getUpdates calls.
	OnPollError func(error)
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot *tele.Bot
	out atomic.Value // chan<- kit.Update

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      *conc.WaitGroup

	// droppedUpdates counts updates lost to a slow consumer; reported periodically.
	droppedUpdates atomic.Uint64

	menuMu   sync.Mutex
	menuHash string
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "telegram"))
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		OnError: func(err error, c tele.Context) {
			log.Warn("telebot error", logx.Err(err))
			if c == nil && cfg.OnPollError != nil {
				cfg.OnPollError(err)
			}
		},
	})
	if err != nil {
		return nil, err
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

// Username is the bot's own @username (without @).
func (a *Adapter) Username() string {
	if a.bot == nil || a.bot.Me == nil {
		return ""
	}
	return a.bot.Me.Username
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the current output channel; Start may swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		msg := &kit.Message{
			ID:       m.ID,
			ChatID:   m.Chat.ID,
			ThreadID: m.ThreadID,
			Text:     m.Text,
			IsGroup:  isGroupChat(m.Chat),
		}
		if m.Sender != nil {
			msg.FromID = m.Sender.ID
			msg.FromUsername = m.Sender.Username
			msg.FromName = strings.TrimSpace(m.Sender.FirstName + " " + m.Sender.LastName)
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: msg})
		return nil
	})

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil || m.Chat == nil {
			return nil
		}
		up := &kit.Callback{
			ID:        cb.ID,
			ChatID:    m.Chat.ID,
			ThreadID:  m.ThreadID,
			MessageID: m.ID,
			Data:      strings.TrimSpace(cb.Data),
		}
		if cb.Sender != nil {
			up.FromID = cb.Sender.ID
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateCallback, Callback: up})
		return nil
	})

	a.bot.Handle(tele.OnAddedToGroup, func(c tele.Context) error {
		chat := c.Chat()
		if chat == nil {
			return nil
		}
		j := &kit.Joined{ChatID: chat.ID, Title: chat.Title}
		if s := c.Sender(); s != nil {
			j.ByID = s.ID
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateJoined, Joined: j})
		return nil
	})
}

func isGroupChat(c *tele.Chat) bool {
	return c.Type == tele.ChatGroup || c.Type == tele.ChatSuperGroup
}

func (a *Adapter) sendUpdate(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.droppedUpdates.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	cctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	wg := &conc.WaitGroup{}
	a.wg = wg
	a.runMu.Unlock()

	wg.Go(func() { a.reportDrops(cctx, cap(out)) })
	wg.Go(func() {
		<-cctx.Done()
		a.bot.Stop()
	})
	wg.Go(func() { a.poll(cctx) })
	return nil
}

// poll runs telebot's blocking loop and restarts it with backoff if it
// returns while ctx is still live.
func (a *Adapter) poll(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	for {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		if ctx.Err() != nil {
			return
		}
		d := bo.NextBackOff()
		a.log.Warn("polling exited unexpectedly; restarting", logx.Duration("backoff", d))
		select {
		case <-ctx.Done():
			return
		case <-time.After(d):
		}
	}
}

func (a *Adapter) reportDrops(ctx context.Context, capacity int) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	flush := func() {
		if n := a.droppedUpdates.Swap(0); n > 0 {
			a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", capacity))
		}
	}
	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-ticker.C:
			flush()
		}
	}
}

// Stop never blocks shutdown for long on a pending getUpdates long poll.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	wasRunning := a.running
	a.running = false
	cancel := a.cancel
	wg := a.wg
	a.cancel, a.wg = nil, nil
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	a.log.Info("stopping")
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if r := wg.WaitAndRecover(); r != nil {
			a.log.Error("telegram goroutine panicked", logx.String("panic", r.String()))
		}
	}()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	select {
	case <-done:
	case <-time.After(grace):
		a.log.Warn("telegram stop timed out")
	}
	return nil
}

func sendOptions(opt *kit.SendOptions, threadID int) *tele.SendOptions {
	so := &tele.SendOptions{ThreadID: threadID}
	if opt == nil {
		return so
	}
	so.ParseMode = tele.ParseMode(opt.ParseMode)
	so.DisableWebPagePreview = opt.DisablePreview
	if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok {
		so.ReplyMarkup = rm
	}
	return so
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	parseMode := ""
	if opt != nil {
		parseMode = opt.ParseMode
	}
	chunks := splitTelegramText(text, telegramTextLimit, parseMode)
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		so := sendOptions(opt, to.ThreadID)
		if i > 0 {
			// markup belongs to the first message only
			so.ReplyMarkup = nil
		}
		msg, err := a.bot.Send(chat, chunk, so)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// EditText edits ref with the first chunk and sends any overflow as new messages.
func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	parseMode := ""
	if opt != nil {
		parseMode = opt.ParseMode
	}
	chunks := splitTelegramText(text, telegramTextLimit, parseMode)

	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	so := sendOptions(opt, 0)
	if _, err := a.bot.Edit(m, chunks[0], so); err != nil {
		if errors.Is(err, tele.ErrSameMessageContent) {
			return nil
		}
		return err
	}
	if len(chunks) == 1 {
		return nil
	}
	rest := strings.Join(chunks[1:], "\n")
	var plain *kit.SendOptions
	if opt != nil {
		plain = &kit.SendOptions{ParseMode: opt.ParseMode, DisablePreview: opt.DisablePreview}
	}
	_, err := a.SendText(ctx, kit.ChatTarget{ChatID: ref.ChatID, ThreadID: ref.ThreadID}, rest, plain)
	return err
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

// SetCommands publishes the bot's command menu. It only calls Telegram when
// the list changed since the last successful call.
func (a *Adapter) SetCommands(ctx context.Context, cmds []kit.BotCommand) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	list := make([]tele.Command, 0, len(cmds))
	var key strings.Builder
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		list = append(list, tele.Command{Text: c.Command, Description: d})
		key.WriteString(c.Command + "\x00" + d + "\x00")
	}

	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if key.String() == a.menuHash {
		return nil
	}
	if err := a.bot.SetCommands(list); err != nil {
		return err
	}
	a.menuHash = key.String()
	a.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}
