package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"groupcast/internal/activity"
	"groupcast/internal/config"
	"groupcast/internal/dispatch"
	"groupcast/internal/scheduler"
	"groupcast/internal/storage"
	logx "groupcast/pkg/logx"
)

func memStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func defaultDispatch() config.DispatchConfig {
	c := config.Config{}
	c.ApplyDefaults()
	return c.Dispatch
}

func TestDirectoryKeepsInsertionOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memStore(t)
	for _, id := range []string{"-3", "-1", "-2"} {
		_, _ = st.AddGroup(ctx, storage.Group{ID: id, Name: "g" + id})
	}
	dests, err := directory{store: st}.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var got []string
	for _, d := range dests {
		got = append(got, d.ID+"="+d.Label)
	}
	if strings.Join(got, ",") != "-3=g-3,-1=g-1,-2=g-2" {
		t.Fatalf("List = %v", got)
	}
}

func TestSettingsPortSeedsAndValidates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := newSettingsPort(memStore(t), defaultDispatch())

	got, err := p.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := dispatch.Settings{RateLimitPerWindow: 25, DelayMin: 500 * time.Millisecond, DelayMax: 2 * time.Second, BroadcastEnabled: true}
	if got != want {
		t.Fatalf("seeded Get = %+v, want %+v", got, want)
	}

	st, _ := p.Load(ctx)
	st.DelayMin = 5000
	if err := p.Save(ctx, st); !errors.Is(err, dispatch.ErrInvalidSettings) {
		t.Fatalf("Save(min > max) err = %v", err)
	}
	st.DelayMin, st.MaxMessagesPerMinute = 100, 0
	if err := p.Save(ctx, st); !errors.Is(err, dispatch.ErrInvalidSettings) {
		t.Fatalf("Save(rate 0) err = %v", err)
	}

	st.MaxMessagesPerMinute = 10
	st.AutoJoinEnabled = false
	if err := p.Save(ctx, st); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Persisted values win over a reloaded seed.
	d := defaultDispatch()
	d.RateLimitPerWindow = 99
	p.SetSeed(d)
	loaded, _ := p.Load(ctx)
	if loaded.MaxMessagesPerMinute != 10 || loaded.DelayMin != 100 || loaded.AutoJoinEnabled {
		t.Fatalf("Load after save = %+v", loaded)
	}
}

func TestSessionBackup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memStore(t)
	_, _ = st.AddGroup(ctx, storage.Group{ID: "-1", Name: "one"})
	_, _ = st.AddGroup(ctx, storage.Group{ID: "-2", Name: "two"})
	rec := activity.New(st, nil, logx.Nop())
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	b := &sessionBackup{
		store:    st,
		settings: newSettingsPort(st, defaultDispatch()),
		pending:  func() []scheduler.Job { return []scheduler.Job{{ID: 1}} },
		rec:      rec,
		now:      func() time.Time { return at },
	}
	sess, err := b.Backup(ctx)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if sess.Groups != 2 || sess.PendingJobs != 1 || sess.BotStatus != "ACTIVE" || sess.Settings.MaxMessagesPerMinute != 25 {
		t.Fatalf("session = %+v", sess)
	}
	saved, ok, err := st.LoadSession(ctx)
	if err != nil || !ok || !saved.BackupTime.Equal(at) {
		t.Fatalf("LoadSession = %+v, %v, %v", saved, ok, err)
	}
	tail, _ := rec.Tail(ctx, 1)
	if len(tail) != 1 || !strings.Contains(tail[0], activity.KindSessionBackup) {
		t.Fatalf("activity tail = %v", tail)
	}
}

func TestNewBackupCron(t *testing.T) {
	t.Parallel()
	c, err := newBackupCron("", time.UTC, nil, logx.Nop())
	if err != nil || c != nil {
		t.Fatalf("empty spec = %v, %v", c, err)
	}
	c, err = newBackupCron("@every 6h", time.UTC, &sessionBackup{}, logx.Nop())
	if err != nil || c == nil || len(c.Entries()) != 1 {
		t.Fatalf("valid spec = %v, %v", c, err)
	}
	if _, err := newBackupCron("not a spec", time.UTC, &sessionBackup{}, logx.Nop()); err == nil {
		t.Fatalf("expected error for a bad spec")
	}
}

func TestMapStorageAndRetry(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Storage: config.StorageConfig{Driver: "sqlite", Path: "/tmp/x.db", BusyTimeout: "3s"}}
	cfg.ApplyDefaults()
	sc, err := mapStorageConfig(cfg)
	if err != nil || sc.Driver != "sqlite" || sc.BusyTimeout != 3*time.Second {
		t.Fatalf("mapStorageConfig = %+v, %v", sc, err)
	}
	cfg.Storage.Driver = "redis"
	if _, err := mapStorageConfig(cfg); err == nil {
		t.Fatalf("expected error for unknown driver")
	}

	p, err := mapRetryPolicy(cfg)
	if err != nil || p.RetryMax != config.DefaultRetryMax || p.RetryBase != time.Second || p.RetryMaxDelay != 30*time.Second {
		t.Fatalf("mapRetryPolicy = %+v, %v", p, err)
	}
	zero := 0
	cfg.Sender.RetryMax = &zero
	cfg.Sender.RetryBase = "bogus"
	if _, err := mapRetryPolicy(cfg); err == nil {
		t.Fatalf("expected error for bad retry_base")
	}
}
