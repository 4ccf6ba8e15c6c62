package bot

import (
	"context"
	"time"

	"groupcast/internal/dispatch"
	"groupcast/internal/scheduler"
	"groupcast/internal/storage"
)

// Groups is the destination directory as the menus see it.
type Groups interface {
	ListGroups(ctx context.Context) ([]storage.Group, error)
	AddGroup(ctx context.Context, g storage.Group) (bool, error)
	RemoveGroup(ctx context.Context, id string) (bool, error)
}

// SettingsStore loads and saves dispatch settings. Save rejects invalid
// values with an error wrapping dispatch.ErrInvalidSettings.
type SettingsStore interface {
	Load(ctx context.Context) (storage.Settings, error)
	Save(ctx context.Context, s storage.Settings) error
}

// Broadcaster runs an immediate broadcast. nil ids means every group.
type Broadcaster interface {
	Broadcast(ctx context.Context, body string, ids []string) (dispatch.Summary, error)
}

type Timers interface {
	Schedule(ids []string, body string, delay time.Duration) (int64, error)
	CancelAll() int
	Pending() []scheduler.Job
}

type Activity interface {
	Record(kind, message string)
	Tail(ctx context.Context, n int) ([]string, error)
}

// Backuper snapshots the bot state to storage.
type Backuper interface {
	Backup(ctx context.Context) (storage.Session, error)
}
