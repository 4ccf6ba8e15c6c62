package scheduler

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"groupcast/internal/dispatch"
	"groupcast/internal/eventbus"
	logx "groupcast/pkg/logx"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped atomic.Bool
}

func (t *fakeTimer) Stop() bool { return !t.stopped.Swap(true) }

type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (ft *fakeTimers) after(d time.Duration, f func()) timer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	ft.timers = append(ft.timers, t)
	return t
}

// fireAll runs every timer callback, including stopped ones, the way a
// real timer can still deliver after Stop lost the race.
func (ft *fakeTimers) fireAll() {
	ft.mu.Lock()
	ts := append([]*fakeTimer(nil), ft.timers...)
	ft.mu.Unlock()
	for _, t := range ts {
		t.f()
	}
}

type countingRunner struct {
	calls atomic.Int32
	sum   dispatch.Summary
}

func (r *countingRunner) Broadcast(_ context.Context, _ string, ids []string) (dispatch.Summary, error) {
	r.calls.Add(1)
	s := r.sum
	s.Success = len(ids)
	return s, nil
}

type memRecorder struct {
	mu    sync.Mutex
	kinds []string
}

func (m *memRecorder) Record(kind, _ string) {
	m.mu.Lock()
	m.kinds = append(m.kinds, kind)
	m.mu.Unlock()
}

func (m *memRecorder) has(kind string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func waitFired(t *testing.T, ch <-chan eventbus.Event) Fired {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == eventbus.TypeJobFired {
				return e.Data.(Fired)
			}
		case <-deadline:
			t.Fatalf("job did not fire")
		}
	}
}

func TestScheduleThenCancelAllPreventsSends(t *testing.T) {
	t.Parallel()
	ft := &fakeTimers{}
	run := &countingRunner{}
	rec := &memRecorder{}
	s := New(run, rec, logx.Nop(), withAfterFunc(ft.after))
	defer s.Close()

	for i := 0; i < 3; i++ {
		if _, err := s.Schedule([]string{"g1", "g2"}, "hello", 10*time.Minute); err != nil {
			t.Fatalf("Schedule: %v", err)
		}
	}
	if got := len(s.Pending()); got != 3 {
		t.Fatalf("Pending = %d, want 3", got)
	}
	if n := s.CancelAll(); n != 3 {
		t.Fatalf("CancelAll = %d, want 3", n)
	}
	if got := len(s.Pending()); got != 0 {
		t.Fatalf("Pending after cancel = %d, want 0", got)
	}
	for _, tm := range ft.timers {
		if !tm.stopped.Load() {
			t.Fatalf("timer not stopped")
		}
	}

	// A late callback must not fire a cancelled job.
	ft.fireAll()
	s.Close()
	if c := run.calls.Load(); c != 0 {
		t.Fatalf("runner called %d times after cancel", c)
	}
	if !rec.has(KindScheduled) || !rec.has(KindCancelled) {
		t.Fatalf("missing activity kinds: %v", rec.kinds)
	}
	if n := s.CancelAll(); n != 0 {
		t.Fatalf("second CancelAll = %d, want 0", n)
	}
}

func TestFireRemovesJobBeforeRunAndOnlyOnce(t *testing.T) {
	t.Parallel()
	ft := &fakeTimers{}
	run := &countingRunner{}
	rec := &memRecorder{}
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(run, rec, logx.Nop(), withAfterFunc(ft.after), WithBus(bus))
	defer s.Close()

	id, err := s.Schedule([]string{"g1", "g2", "g3"}, "hello", time.Minute)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	ft.fireAll()
	if got := len(s.Pending()); got != 0 {
		t.Fatalf("job still pending after fire")
	}
	ft.fireAll() // duplicate delivery is ignored

	f := waitFired(t, ch)
	if f.Job.ID != id || f.Summary.Success != 3 || f.Err != nil {
		t.Fatalf("unexpected fired payload %+v", f)
	}
	s.Close()
	if c := run.calls.Load(); c != 1 {
		t.Fatalf("runner calls = %d, want 1", c)
	}
	if !rec.has(KindFired) {
		t.Fatalf("missing %s record", KindFired)
	}
	if n := s.CancelAll(); n != 0 {
		t.Fatalf("CancelAll after fire = %d, want 0", n)
	}
}

func TestJobIDsAreDistinctAndIncreasing(t *testing.T) {
	t.Parallel()
	ft := &fakeTimers{}
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s := New(&countingRunner{}, nil, logx.Nop(), withAfterFunc(ft.after), WithClock(func() time.Time { return fixed }))
	defer s.Close()

	var last int64
	for i := 0; i < 50; i++ {
		id, err := s.Schedule([]string{"g"}, "x", time.Second)
		if err != nil {
			t.Fatalf("Schedule: %v", err)
		}
		if id <= last {
			t.Fatalf("id %d not greater than %d", id, last)
		}
		last = id
	}
	if got := len(s.Pending()); got != 50 {
		t.Fatalf("Pending = %d, want 50", got)
	}
}

func TestPendingOrderedByFireTime(t *testing.T) {
	t.Parallel()
	ft := &fakeTimers{}
	s := New(&countingRunner{}, nil, logx.Nop(), withAfterFunc(ft.after))
	defer s.Close()

	for _, d := range []time.Duration{30 * time.Minute, 5 * time.Minute, 10 * time.Minute} {
		if _, err := s.Schedule([]string{"g"}, "x", d); err != nil {
			t.Fatalf("Schedule: %v", err)
		}
	}
	p := s.Pending()
	for i := 1; i < len(p); i++ {
		if p[i].FireAt.Before(p[i-1].FireAt) {
			t.Fatalf("pending not ordered: %v", p)
		}
	}
	if ft.timers[0].d != 30*time.Minute {
		t.Fatalf("timer delay = %s, want 30m", ft.timers[0].d)
	}
}

func TestScheduleRejects(t *testing.T) {
	t.Parallel()
	ft := &fakeTimers{}
	s := New(&countingRunner{}, nil, logx.Nop(), withAfterFunc(ft.after))

	if _, err := s.Schedule(nil, "x", time.Second); !errors.Is(err, ErrNoTargets) {
		t.Fatalf("err = %v, want ErrNoTargets", err)
	}
	if _, err := s.Schedule([]string{"g"}, "", time.Second); !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("err = %v, want ErrEmptyBody", err)
	}
	if _, err := s.Schedule([]string{"g"}, "hi", -time.Second); !errors.Is(err, ErrBadDelay) {
		t.Fatalf("err = %v, want ErrBadDelay", err)
	}
	if n := len(s.Pending()); n != 0 {
		t.Fatalf("pending = %d after rejected schedules, want 0", n)
	}
	s.Close()
	if _, err := s.Schedule([]string{"g"}, "x", time.Second); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

type staticDirectory []dispatch.Destination

func (d staticDirectory) List(context.Context) ([]dispatch.Destination, error) {
	return append([]dispatch.Destination(nil), d...), nil
}

type staticSettings dispatch.Settings

func (s staticSettings) Get(context.Context) (dispatch.Settings, error) {
	return dispatch.Settings(s), nil
}

func TestFiredJobMatchesDirectBroadcast(t *testing.T) {
	t.Parallel()
	sender := dispatch.SenderFunc(func(_ context.Context, id, _ string) error {
		if id == "g2" {
			return errors.New("chat not found")
		}
		return nil
	})
	dir := staticDirectory{{ID: "g1", Label: "One"}, {ID: "g2", Label: "Two"}, {ID: "g3", Label: "Three"}}
	st := staticSettings{RateLimitPerWindow: 10}
	svc := dispatch.NewService(dir, st, dispatch.NewBroadcaster(sender, nil, logx.Nop()), logx.Nop())

	ids := []string{"g1", "g2", "g3"}
	direct, err := svc.Broadcast(context.Background(), "hello", ids)
	if err != nil {
		t.Fatalf("direct Broadcast: %v", err)
	}

	ft := &fakeTimers{}
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()
	s := New(svc, nil, logx.Nop(), withAfterFunc(ft.after), WithBus(bus))
	defer s.Close()

	if _, err := s.Schedule(ids, "hello", time.Minute); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	ft.fireAll()
	f := waitFired(t, ch)
	if f.Err != nil {
		t.Fatalf("fired err: %v", f.Err)
	}
	if f.Summary.Success != 2 || f.Summary.Failed != 1 {
		t.Fatalf("fired summary = %+v", f.Summary)
	}
	if f.Summary.Success != direct.Success || f.Summary.Failed != direct.Failed ||
		!reflect.DeepEqual(f.Summary.Results, direct.Results) {
		t.Fatalf("fired %+v != direct %+v", f.Summary, direct)
	}
}
