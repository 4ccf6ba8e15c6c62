package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": Path is a directory
//   - "sqlite": Path is the database file
//   - "memory": Path is ignored; nothing is persisted
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Group is one broadcast destination.
type Group struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	AddedAt time.Time `json:"addedAt"`
}

// Settings is the persisted dispatch configuration. Delays are milliseconds.
type Settings struct {
	BroadcastEnabled     bool  `json:"broadcastEnabled"`
	DelayMin             int64 `json:"delayMin"`
	DelayMax             int64 `json:"delayMax"`
	MaxMessagesPerMinute int   `json:"maxMessagesPerMinute"`
	AutoJoinEnabled      bool  `json:"autoJoinEnabled"`
}

// ActivityLine is one activity log record.
type ActivityLine struct {
	At      time.Time
	Kind    string
	Message string
}

func (l ActivityLine) String() string {
	return fmt.Sprintf("[%s] %s: %s", l.At.UTC().Format(time.RFC3339Nano), l.Kind, l.Message)
}

// Session is a point-in-time backup of the bot state.
type Session struct {
	BackupTime  time.Time `json:"backupTime"`
	Groups      int       `json:"groups"`
	Settings    Settings  `json:"settings"`
	PendingJobs int       `json:"pendingJobs"`
	BotStatus   string    `json:"botStatus"`
}

// Store is the persistence API used by the app.
type Store interface {
	ListGroups(ctx context.Context) ([]Group, error)
	// AddGroup returns false when a group with the same ID already exists.
	AddGroup(ctx context.Context, g Group) (bool, error)
	// RemoveGroup returns false when no group has that ID.
	RemoveGroup(ctx context.Context, id string) (bool, error)

	// GetSettings returns ok=false when nothing has been persisted yet.
	GetSettings(ctx context.Context) (s Settings, ok bool, err error)
	PutSettings(ctx context.Context, s Settings) error

	AppendActivity(ctx context.Context, l ActivityLine) error
	// TailActivity returns the last n lines, oldest first.
	TailActivity(ctx context.Context, n int) ([]string, error)

	SaveSession(ctx context.Context, s Session) error
	LoadSession(ctx context.Context) (s Session, ok bool, err error)

	Close() error
}
