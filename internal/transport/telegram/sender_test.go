package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"groupcast/internal/dispatch"
	kit "groupcast/internal/transport"
	logx "groupcast/pkg/logx"
)

var _ dispatch.Sender = (*Sender)(nil)

type scriptedAPI struct {
	errs  []error
	calls []kit.ChatTarget
	texts []string
	opts  []*kit.SendOptions
}

func (f *scriptedAPI) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	i := len(f.calls)
	f.calls = append(f.calls, to)
	f.texts = append(f.texts, text)
	f.opts = append(f.opts, opt)
	if i < len(f.errs) && f.errs[i] != nil {
		return kit.MessageRef{}, f.errs[i]
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: i + 1}, nil
}

func newTestSender(api TextSender, p RetryPolicy) (*Sender, *[]time.Duration) {
	s := NewSender(api, p, logx.Nop())
	var slept []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return s, &slept
}

func TestSenderRetriesTransientErrors(t *testing.T) {
	t.Parallel()
	api := &scriptedAPI{errs: []error{errors.New("timeout"), errors.New("timeout")}}
	s, slept := newTestSender(api, RetryPolicy{RetryMax: 2, RetryBase: time.Second, RetryMaxDelay: 10 * time.Second})

	if err := s.Send(context.Background(), "-1001", "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(api.calls) != 3 || len(*slept) != 2 {
		t.Fatalf("calls=%d sleeps=%d, want 3/2", len(api.calls), len(*slept))
	}
	if api.calls[0].ChatID != -1001 {
		t.Fatalf("chat id = %d", api.calls[0].ChatID)
	}
	if api.opts[0].ParseMode != "HTML" || !api.opts[0].DisablePreview {
		t.Fatalf("options = %+v", api.opts[0])
	}
}

func TestSenderGivesUpAfterRetryMax(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	api := &scriptedAPI{errs: []error{boom, boom, boom, boom}}
	s, _ := newTestSender(api, RetryPolicy{RetryMax: 1})

	if err := s.Send(context.Background(), "42", "hi"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if len(api.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(api.calls))
	}
}

func TestSenderDoesNotRetryPermanentErrors(t *testing.T) {
	t.Parallel()
	api := &scriptedAPI{errs: []error{tele.ErrChatNotFound}}
	s, slept := newTestSender(api, RetryPolicy{RetryMax: 5})

	if err := s.Send(context.Background(), "42", "hi"); err == nil {
		t.Fatalf("expected error")
	}
	if len(api.calls) != 1 || len(*slept) != 0 {
		t.Fatalf("calls=%d sleeps=%d, want 1/0", len(api.calls), len(*slept))
	}
}

func TestSenderWaitsForFloodHint(t *testing.T) {
	t.Parallel()
	flood := tele.FloodError{RetryAfter: 7}
	api := &scriptedAPI{errs: []error{flood, flood}}
	s, slept := newTestSender(api, RetryPolicy{RetryMax: 2, RetryBase: time.Second, RetryMaxDelay: 10 * time.Second})

	if err := s.Send(context.Background(), "-1001", "hi"); err != nil {
		t.Fatalf("Send: %T", err)
	}
	if len(api.calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(api.calls))
	}
	if len(*slept) != 2 || (*slept)[0] != 7*time.Second || (*slept)[1] != 7*time.Second {
		t.Fatalf("slept = %v, want [7s 7s]", *slept)
	}
}

func TestSenderGivesUpOnLongFloodWait(t *testing.T) {
	t.Parallel()
	api := &scriptedAPI{errs: []error{tele.FloodError{RetryAfter: 30}}}
	s, slept := newTestSender(api, RetryPolicy{RetryMax: 3, RetryBase: time.Second, RetryMaxDelay: 10 * time.Second})

	err := s.Send(context.Background(), "-1001", "hi")
	var fe tele.FloodError
	if !errors.As(err, &fe) || fe.RetryAfter != 30 {
		t.Fatalf("err = %T, want FloodError", err)
	}
	if len(api.calls) != 1 || len(*slept) != 0 {
		t.Fatalf("calls=%d sleeps=%d, want 1/0", len(api.calls), len(*slept))
	}
}

func TestSenderRetriesOnlyTheFailedChunk(t *testing.T) {
	t.Parallel()
	api := &scriptedAPI{errs: []error{nil, errors.New("timeout")}}
	s, slept := newTestSender(api, RetryPolicy{RetryMax: 2, RetryBase: time.Second})
	s.limit = 10

	body := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	if err := s.Send(context.Background(), "-1001", body); err != nil {
		t.Fatalf("Send: %v", err)
	}
	want := []string{strings.Repeat("a", 8), strings.Repeat("b", 8), strings.Repeat("b", 8)}
	if strings.Join(api.texts, "|") != strings.Join(want, "|") {
		t.Fatalf("sent %q, want %q", api.texts, want)
	}
	if len(*slept) != 1 {
		t.Fatalf("sleeps = %d, want 1", len(*slept))
	}
}

func TestSenderRejectsBadDestination(t *testing.T) {
	t.Parallel()
	api := &scriptedAPI{}
	s, _ := newTestSender(api, RetryPolicy{})
	for _, id := range []string{"", "abc", "0", "t.me/group"} {
		if err := s.Send(context.Background(), id, "hi"); err == nil {
			t.Fatalf("Send(%q) should fail", id)
		}
	}
	if len(api.calls) != 0 {
		t.Fatalf("api called for invalid ids")
	}
}

func TestParseChatID(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"-1001234567890", -1001234567890, true},
		{" 42 ", 42, true},
		{"0", 0, false},
		{"@group", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseChatID(tc.in)
		if (err == nil) != tc.ok || got != tc.want {
			t.Fatalf("ParseChatID(%q) = %d, %v", tc.in, got, err)
		}
	}
}
