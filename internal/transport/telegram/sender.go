package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	tele "gopkg.in/telebot.v4"

	kit "groupcast/internal/transport"
	logx "groupcast/pkg/logx"
)

// TextSender is the subset of transport.Adapter the Sender needs.
type TextSender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// RetryPolicy bounds retries of one delivery. RetryMax 0 sends once.
type RetryPolicy struct {
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

// floodWaitLimit caps a Telegram retry_after hint when the policy has no
// RetryMaxDelay.
const floodWaitLimit = 30 * time.Second

// Sender delivers broadcast bodies as HTML with link previews disabled.
// Each Send is independent; retries never span destinations.
type Sender struct {
	api TextSender
	log logx.Logger

	mu     sync.RWMutex
	policy RetryPolicy

	// limit is the chunk size in runes; bodies are split before retrying so a
	// retry repeats only the chunk that failed.
	limit int
	sleep func(ctx context.Context, d time.Duration) error
}

func NewSender(api TextSender, policy RetryPolicy, log logx.Logger) *Sender {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{
		api:    api,
		log:    log.With(logx.String("comp", "telegram.sender")),
		policy: policy,
		limit:  telegramTextLimit,
		sleep:  sleepCtx,
	}
}

// SetPolicy swaps the retry policy (config reload).
func (s *Sender) SetPolicy(p RetryPolicy) {
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
}

func (s *Sender) Send(ctx context.Context, destinationID, body string) error {
	chatID, err := ParseChatID(destinationID)
	if err != nil {
		return err
	}
	s.mu.RLock()
	p := s.policy
	s.mu.RUnlock()

	to := kit.ChatTarget{ChatID: chatID}
	opt := &kit.SendOptions{ParseMode: string(tele.ModeHTML), DisablePreview: true}
	chunks := splitTelegramText(body, s.limit, opt.ParseMode)
	for i, chunk := range chunks {
		if err := s.sendChunk(ctx, to, chunk, opt, p); err != nil {
			if i > 0 {
				return fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
			}
			return err
		}
	}
	return nil
}

func (s *Sender) sendChunk(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions, p RetryPolicy) error {
	bo := backoff.NewExponentialBackOff()
	if p.RetryBase > 0 {
		bo.InitialInterval = p.RetryBase
	}
	if p.RetryMaxDelay > 0 {
		bo.MaxInterval = p.RetryMaxDelay
	}
	waitLimit := p.RetryMaxDelay
	if waitLimit <= 0 {
		waitLimit = floodWaitLimit
	}

	for attempt := 0; ; attempt++ {
		_, err := s.api.SendText(ctx, to, text, opt)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || attempt >= p.RetryMax || isPermanent(err) {
			return err
		}
		d, flood := floodWait(err)
		switch {
		case flood && d > waitLimit:
			// Retrying sooner than asked only earns another 429.
			s.log.Warn("flood wait exceeds retry limit; giving up",
				logx.Int64("chat", to.ChatID),
				logx.Duration("retry_after", d),
				logx.Duration("limit", waitLimit),
			)
			return err
		case !flood:
			d = bo.NextBackOff()
			if d == backoff.Stop {
				return err
			}
		}
		s.log.Debug("send failed; retrying",
			logx.Int64("chat", to.ChatID),
			logx.Int("attempt", attempt+1),
			logx.Duration("backoff", d),
			logx.Bool("flood", flood),
			logx.Err(err),
		)
		if serr := s.sleep(ctx, d); serr != nil {
			return err
		}
	}
}

// floodWait extracts the retry_after hint of a 429 response.
func floodWait(err error) (time.Duration, bool) {
	var fe tele.FloodError
	if !errors.As(err, &fe) {
		return 0, false
	}
	return time.Duration(fe.RetryAfter) * time.Second, true
}

// ParseChatID parses a destination id into a Telegram chat id.
func ParseChatID(id string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("invalid chat id %q", id)
	}
	return v, nil
}

// isPermanent reports errors that no retry can fix.
func isPermanent(err error) bool {
	for _, e := range []error{
		tele.ErrChatNotFound,
		tele.ErrBlockedByUser,
		tele.ErrKickedFromGroup,
		tele.ErrKickedFromSuperGroup,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
