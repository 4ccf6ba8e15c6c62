package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"groupcast/internal/activity"
	"groupcast/internal/bot"
	"groupcast/internal/scheduler"
	"groupcast/internal/storage"
	logx "groupcast/pkg/logx"
)

const backupTimeout = 30 * time.Second

// sessionBackup snapshots group count, settings and pending timers.
type sessionBackup struct {
	store    storage.Store
	settings bot.SettingsStore
	pending  func() []scheduler.Job
	rec      *activity.Recorder
	now      func() time.Time
}

func (s *sessionBackup) Backup(ctx context.Context) (storage.Session, error) {
	groups, err := s.store.ListGroups(ctx)
	if err != nil {
		return storage.Session{}, fmt.Errorf("list groups: %w", err)
	}
	st, err := s.settings.Load(ctx)
	if err != nil {
		return storage.Session{}, fmt.Errorf("load settings: %w", err)
	}
	sess := storage.Session{
		BackupTime:  s.now(),
		Groups:      len(groups),
		Settings:    st,
		PendingJobs: len(s.pending()),
		BotStatus:   "ACTIVE",
	}
	if err := s.store.SaveSession(ctx, sess); err != nil {
		return storage.Session{}, fmt.Errorf("save session: %w", err)
	}
	s.rec.Record(activity.KindSessionBackup, fmt.Sprintf("session saved: %d group(s), %d pending timer(s)", sess.Groups, sess.PendingJobs))
	return sess, nil
}

// newBackupCron returns nil when spec is empty.
func newBackupCron(spec string, loc *time.Location, b bot.Backuper, log logx.Logger) (*cron.Cron, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	c := cron.New(cron.WithLocation(loc))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), backupTimeout)
		defer cancel()
		if _, err := b.Backup(ctx); err != nil {
			log.Warn("periodic session backup failed", logx.Err(err))
			return
		}
		log.Debug("periodic session backup done")
	})
	if err != nil {
		return nil, fmt.Errorf("session.backup_schedule: %w", err)
	}
	return c, nil
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}
