package bot

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"groupcast/internal/activity"
	"groupcast/internal/dispatch"
	"groupcast/internal/scheduler"
	"groupcast/internal/storage"
	kit "groupcast/internal/transport"
)

const owner = int64(42)

type fakeAdapter struct {
	mu       sync.Mutex
	sent     []string
	edits    []string
	answered []string
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                     { return nil }

func (a *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(a.sent)}, nil
}

func (a *fakeAdapter) EditText(_ context.Context, _ kit.MessageRef, text string, _ *kit.SendOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.edits = append(a.edits, text)
	return nil
}

func (a *fakeAdapter) AnswerCallback(_ context.Context, id, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.answered = append(a.answered, id)
	return nil
}

func (a *fakeAdapter) last() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sent) == 0 {
		return ""
	}
	return a.sent[len(a.sent)-1]
}

func (a *fakeAdapter) lastEdit() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.edits) == 0 {
		return ""
	}
	return a.edits[len(a.edits)-1]
}

type fakeGroups struct {
	mu      sync.Mutex
	groups  []storage.Group
	listErr error
}

func (g *fakeGroups) ListGroups(context.Context) ([]storage.Group, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listErr != nil {
		return nil, g.listErr
	}
	return append([]storage.Group(nil), g.groups...), nil
}

func (g *fakeGroups) AddGroup(_ context.Context, grp storage.Group) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, cur := range g.groups {
		if cur.ID == grp.ID {
			return false, nil
		}
	}
	g.groups = append(g.groups, grp)
	return true, nil
}

func (g *fakeGroups) RemoveGroup(_ context.Context, id string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, cur := range g.groups {
		if cur.ID == id {
			g.groups = append(g.groups[:i], g.groups[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

type fakeSettings struct {
	mu sync.Mutex
	st storage.Settings
}

func (s *fakeSettings) Load(context.Context) (storage.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st, nil
}

func (s *fakeSettings) Save(_ context.Context, st storage.Settings) error {
	if st.DelayMin > st.DelayMax {
		return fmt.Errorf("%w: delay min %d exceeds max %d", dispatch.ErrInvalidSettings, st.DelayMin, st.DelayMax)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st = st
	return nil
}

func (s *fakeSettings) get() storage.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

type broadcastCall struct {
	body string
	ids  []string
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	calls []broadcastCall
}

func (f *fakeBroadcaster) Broadcast(_ context.Context, body string, ids []string) (dispatch.Summary, error) {
	f.mu.Lock()
	f.calls = append(f.calls, broadcastCall{body: body, ids: ids})
	f.mu.Unlock()
	return dispatch.Summary{
		Success: 1,
		Failed:  1,
		Results: []dispatch.Result{
			{DestinationID: "-1001", Label: "One", Status: dispatch.StatusSuccess},
			{DestinationID: "-1002", Label: "Two", Status: dispatch.StatusFailed, Detail: "chat not found"},
		},
	}, nil
}

type scheduleCall struct {
	ids   []string
	body  string
	delay time.Duration
}

type fakeTimers struct {
	mu        sync.Mutex
	scheduled []scheduleCall
	cancelled int
}

func (f *fakeTimers) Schedule(ids []string, body string, delay time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, scheduleCall{ids: ids, body: body, delay: delay})
	return int64(len(f.scheduled)), nil
}

func (f *fakeTimers) CancelAll() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.scheduled)
	f.cancelled += n
	f.scheduled = nil
	return n
}

func (f *fakeTimers) Pending() []scheduler.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]scheduler.Job, 0, len(f.scheduled))
	for i, c := range f.scheduled {
		out = append(out, scheduler.Job{ID: int64(i + 1), DestinationIDs: c.ids, Body: c.body})
	}
	return out
}

type fakeActivity struct {
	mu    sync.Mutex
	kinds []string
}

func (f *fakeActivity) Record(kind, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds = append(f.kinds, kind)
}

func (f *fakeActivity) Tail(context.Context, int) ([]string, error) {
	return []string{"[2026-01-02T03:04:05Z] BOT_START: hi <there>"}, nil
}

func (f *fakeActivity) has(kind string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

type harness struct {
	bot      *Bot
	ad       *fakeAdapter
	groups   *fakeGroups
	settings *fakeSettings
	bcast    *fakeBroadcaster
	timers   *fakeTimers
	act      *fakeActivity
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		ad: &fakeAdapter{},
		groups: &fakeGroups{groups: []storage.Group{
			{ID: "-1001", Name: "One"},
			{ID: "-1002", Name: "Two"},
		}},
		settings: &fakeSettings{st: storage.Settings{
			BroadcastEnabled:     true,
			DelayMin:             500,
			DelayMax:             2000,
			MaxMessagesPerMinute: 25,
			AutoJoinEnabled:      true,
		}},
		bcast:  &fakeBroadcaster{},
		timers: &fakeTimers{},
		act:    &fakeActivity{},
	}
	b, err := New(Options{
		Adapter:    h.ad,
		Groups:     h.groups,
		Settings:   h.settings,
		Broadcasts: h.bcast,
		Timers:     h.timers,
		Activity:   h.act,
		Owners:     []int64{owner},
		Location:   time.UTC,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.bot = b
	return h
}

func (h *harness) text(from int64, text string) {
	h.bot.Handle(context.Background(), kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChatID: from, FromID: from, FromName: "Ann", Text: text,
	}})
}

func (h *harness) press(from int64, data string) {
	h.bot.Handle(context.Background(), kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID: "cb-" + data, ChatID: from, FromID: from, MessageID: 7, Data: data,
	}})
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()
	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error without adapter")
	}
}

func TestStartRecordsAndWelcomes(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.text(owner, "/start")
	if !strings.Contains(h.ad.last(), "Welcome, <b>Ann</b>") {
		t.Fatalf("welcome = %q", h.ad.last())
	}
	if !h.act.has(activity.KindBotStart) {
		t.Fatalf("BOT_START not recorded: %v", h.act.kinds)
	}
}

func TestNonOwnerGate(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.text(7, "/menu")
	if len(h.ad.sent) != 0 {
		t.Fatalf("non-owner got a reply: %v", h.ad.sent)
	}
	h.text(7, "/start")
	if !strings.Contains(h.ad.last(), "private") {
		t.Fatalf("stranger /start reply = %q", h.ad.last())
	}
	h.press(7, "bc:all")
	if len(h.ad.answered) != 1 {
		t.Fatalf("forbidden callback not answered")
	}
	h.text(7, "hello")
	h.bot.Wait()
	if len(h.bcast.calls) != 0 {
		t.Fatalf("non-owner triggered a broadcast")
	}

	h.bot.SetOwners(nil)
	h.text(7, "/menu")
	if !strings.Contains(h.ad.last(), "Main menu") {
		t.Fatalf("open bot should answer everyone, got %q", h.ad.last())
	}
}

func TestBroadcastAllFlow(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.press(owner, "bc:all")
	if !strings.Contains(h.ad.last(), "Send the message to broadcast") {
		t.Fatalf("prompt = %q", h.ad.last())
	}
	h.text(owner, "  hello groups  ")
	h.bot.Wait()

	if len(h.bcast.calls) != 1 {
		t.Fatalf("broadcast calls = %d, want 1", len(h.bcast.calls))
	}
	if c := h.bcast.calls[0]; c.body != "hello groups" || c.ids != nil {
		t.Fatalf("broadcast call = %+v", c)
	}
	out := h.ad.last()
	for _, want := range []string{"Broadcast finished", "<b>📨 Sent</b>: 1", "<b>❌ Failed</b>: 1", "❌ Two: chat not found"} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}

	// The prompt is consumed; a second message is ignored.
	h.text(owner, "again")
	h.bot.Wait()
	if len(h.bcast.calls) != 1 {
		t.Fatalf("stray message broadcast")
	}
}

func TestBroadcastSelectedFlow(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.press(owner, "bc:select")
	h.text(owner, "abc")
	if !strings.Contains(h.ad.last(), "Invalid list") {
		t.Fatalf("bad list reply = %q", h.ad.last())
	}
	h.text(owner, "-1002, -999")
	if !strings.Contains(h.ad.last(), "skipped unknown: -999") {
		t.Fatalf("selection reply = %q", h.ad.last())
	}
	h.text(owner, "only two")
	h.bot.Wait()
	if len(h.bcast.calls) != 1 {
		t.Fatalf("broadcast calls = %d", len(h.bcast.calls))
	}
	if got := h.bcast.calls[0].ids; !reflect.DeepEqual(got, []string{"-1002"}) {
		t.Fatalf("selected ids = %v", got)
	}
}

func TestBroadcastDisabledGate(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.settings.st.BroadcastEnabled = false
	h.press(owner, "bc:all")
	if !strings.Contains(h.ad.last(), "disabled") {
		t.Fatalf("gate reply = %q", h.ad.last())
	}
	h.text(owner, "hello")
	h.bot.Wait()
	if len(h.bcast.calls) != 0 {
		t.Fatalf("broadcast ran while disabled")
	}
}

func TestSettingsEdits(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.press(owner, "set:min")
	h.text(owner, "5000")
	if got := h.settings.get().DelayMin; got != 500 {
		t.Fatalf("invalid min saved: %d", got)
	}
	if !strings.Contains(h.ad.last(), "❌") {
		t.Fatalf("invalid settings reply = %q", h.ad.last())
	}

	h.press(owner, "set:max")
	h.text(owner, "-5")
	if !strings.Contains(h.ad.last(), "Invalid delay") {
		t.Fatalf("negative reply = %q", h.ad.last())
	}
	h.text(owner, "3000")
	if got := h.settings.get().DelayMax; got != 3000 {
		t.Fatalf("DelayMax = %d, want 3000", got)
	}

	h.press(owner, "set:rate")
	h.text(owner, "10")
	if got := h.settings.get().MaxMessagesPerMinute; got != 10 {
		t.Fatalf("rate = %d, want 10", got)
	}

	h.press(owner, "set:autojoin")
	if h.settings.get().AutoJoinEnabled {
		t.Fatalf("auto join not toggled")
	}
	if !strings.Contains(h.ad.lastEdit(), "Auto join is now OFF") {
		t.Fatalf("toggle edit = %q", h.ad.lastEdit())
	}
}

func TestTimerFlows(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.press(owner, "tm:in:10")
	h.text(owner, "later")
	if len(h.timers.scheduled) != 1 {
		t.Fatalf("scheduled = %d, want 1", len(h.timers.scheduled))
	}
	c := h.timers.scheduled[0]
	if c.delay != 10*time.Minute || c.body != "later" || !reflect.DeepEqual(c.ids, []string{"-1001", "-1002"}) {
		t.Fatalf("schedule call = %+v", c)
	}

	h.press(owner, "tm:custom")
	h.text(owner, "0")
	if !strings.Contains(h.ad.last(), "Invalid duration") {
		t.Fatalf("custom reply = %q", h.ad.last())
	}
	h.text(owner, "90")
	h.text(owner, "much later")
	if got := h.timers.scheduled[1].delay; got != 90*time.Minute {
		t.Fatalf("custom delay = %s", got)
	}

	h.press(owner, "tm:cancel")
	if !strings.Contains(h.ad.lastEdit(), "Cancel all 2 pending") {
		t.Fatalf("confirm = %q", h.ad.lastEdit())
	}
	h.press(owner, "tm:cancelok")
	if h.timers.cancelled != 2 || !strings.Contains(h.ad.last(), "2 scheduled message(s) cancelled") {
		t.Fatalf("cancel reply = %q (cancelled %d)", h.ad.last(), h.timers.cancelled)
	}
}

func TestGroupManagement(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.press(owner, "grp:add")
	h.text(owner, "https://t.me/public")
	if !strings.Contains(h.ad.last(), "numeric group id") {
		t.Fatalf("link reply = %q", h.ad.last())
	}
	h.press(owner, "grp:add")
	h.text(owner, "-1003 Friends")
	if !h.act.has(activity.KindGroupAdded) {
		t.Fatalf("GROUP_ADDED not recorded")
	}
	h.press(owner, "grp:add")
	h.text(owner, "-1003")
	if !strings.Contains(h.ad.last(), "already in the list") {
		t.Fatalf("dup reply = %q", h.ad.last())
	}

	h.press(owner, "grp:rm:-1001")
	if !h.act.has(activity.KindGroupRemoved) {
		t.Fatalf("GROUP_REMOVED not recorded")
	}
	groups, _ := h.groups.ListGroups(context.Background())
	if len(groups) != 2 || groups[0].ID != "-1002" || groups[1].Name != "Friends" {
		t.Fatalf("groups = %+v", groups)
	}
}

func TestCallbackErrorStillAnswered(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.groups.listErr = errors.New("disk gone")
	h.press(owner, "grp:list:0")
	if len(h.ad.answered) != 1 {
		t.Fatalf("callback not answered")
	}
	if !h.act.has(activity.KindCallbackError) {
		t.Fatalf("CALLBACK_ERROR not recorded")
	}
}

func TestCancelClearsPendingInput(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.press(owner, "bc:all")
	h.text(owner, "/cancel")
	if !strings.Contains(h.ad.last(), "Cancelled") {
		t.Fatalf("cancel reply = %q", h.ad.last())
	}
	h.text(owner, "hello")
	h.bot.Wait()
	if len(h.bcast.calls) != 0 {
		t.Fatalf("cancelled prompt still broadcast")
	}
}

func TestJoinedAutoJoin(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	join := func(chat, by int64) {
		h.bot.Handle(context.Background(), kit.Update{Kind: kit.UpdateJoined, Joined: &kit.Joined{ChatID: chat, Title: "Dev Chat", ByID: by}})
	}

	join(-1005, 7)
	join(-1006, owner)
	groups, _ := h.groups.ListGroups(context.Background())
	if len(groups) != 3 || groups[2].ID != "-1006" || groups[2].Name != "Dev Chat" {
		t.Fatalf("groups after join = %+v", groups)
	}

	h.settings.st.AutoJoinEnabled = false
	join(-1007, owner)
	groups, _ = h.groups.ListGroups(context.Background())
	if len(groups) != 3 {
		t.Fatalf("auto join off still added: %+v", groups)
	}
}

func TestLogsViewEscapes(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.press(owner, "log:view")
	if !strings.Contains(h.ad.last(), "hi &lt;there&gt;") {
		t.Fatalf("logs = %q", h.ad.last())
	}
}

func TestPendingInputExpires(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	in := newInputs(func() time.Time { return now })
	in.set(1, pending{kind: inputAddGroup})
	now = now.Add(pendingTTL + time.Second)
	if _, ok := in.take(1); ok {
		t.Fatalf("expired prompt still returned")
	}
	in.set(1, pending{kind: inputAddGroup})
	if p, ok := in.take(1); !ok || p.kind != inputAddGroup {
		t.Fatalf("take = %+v, %v", p, ok)
	}
}
