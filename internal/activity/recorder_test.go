package activity

import (
	"context"
	"strings"
	"testing"
	"time"

	"groupcast/internal/dispatch"
	"groupcast/internal/eventbus"
	"groupcast/internal/storage"
	logx "groupcast/pkg/logx"
)

var _ dispatch.Reporter = (*Recorder)(nil)

func TestRecorderMemoryTail(t *testing.T) {
	t.Parallel()
	r := New(nil, nil, logx.Nop())
	for _, k := range []string{"A", "B", "C"} {
		r.Record(k, "msg "+k)
	}
	got, err := r.Tail(context.Background(), 2)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(got) != 2 || !strings.HasSuffix(got[0], "B: msg B") || !strings.HasSuffix(got[1], "C: msg C") {
		t.Fatalf("Tail = %q", got)
	}
	all, _ := r.Tail(context.Background(), 10)
	if len(all) != 3 {
		t.Fatalf("Tail(10) len = %d, want 3", len(all))
	}
}

func TestRecorderMemoryBounded(t *testing.T) {
	t.Parallel()
	r := New(nil, nil, logx.Nop())
	for i := 0; i < memLines+20; i++ {
		r.Record("X", "m")
	}
	all, _ := r.Tail(context.Background(), memLines*2)
	if len(all) != memLines {
		t.Fatalf("len = %d, want %d", len(all), memLines)
	}
}

func TestRecorderPersistsAndPublishes(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer st.Close()

	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	r := New(st, bus, logx.Nop())
	r.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	r.Record(dispatch.KindComplete, "success: 2, failed: 1")

	select {
	case e := <-ch:
		line, ok := e.Data.(Line)
		if e.Type != eventbus.TypeActivity || !ok || line.Kind != dispatch.KindComplete {
			t.Fatalf("unexpected event %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatalf("no activity event")
	}

	got, err := r.Tail(context.Background(), 20)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	want := "[2026-01-02T03:04:05Z] BROADCAST_COMPLETE: success: 2, failed: 1"
	if len(got) != 1 || got[0] != want {
		t.Fatalf("Tail = %q, want [%q]", got, want)
	}
}
