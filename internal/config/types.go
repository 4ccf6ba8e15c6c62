package config

import (
	"strings"

	logx "groupcast/pkg/logx"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Dispatch DispatchConfig `json:"dispatch"`
	Sender   SenderConfig   `json:"sender"`
	Session  SessionConfig  `json:"session"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// OwnerUserIDs gates the menus. Empty means anyone may use the bot.
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// LogChat receives log records when logging.telegram is enabled.
	LogChat int64 `json:"log_chat,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects where groups, settings, activity and session
// backups live.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DispatchConfig seeds the persisted dispatch settings the first time the
// bot runs. Once settings exist in storage, edits made through the menu win.
//
// Flags are pointers so an omitted key keeps its default of true. Leaving
// both delays at zero selects the default delay range.
type DispatchConfig struct {
	DelayMinMs         int64 `json:"delay_min_ms"`
	DelayMaxMs         int64 `json:"delay_max_ms"`
	RateLimitPerWindow int   `json:"rate_limit_per_window"`
	BroadcastEnabled   *bool `json:"broadcast_enabled,omitempty"`
	AutoJoinEnabled    *bool `json:"auto_join_enabled,omitempty"`
}

// SenderConfig bounds per-destination retries. Durations are Go duration
// strings; retry_max 0 disables retries, omitted means the default.
type SenderConfig struct {
	RetryMax      *int   `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
}

// SessionConfig schedules periodic session backups. BackupSchedule is a
// standard five-field cron spec or a descriptor like "@every 6h"; empty
// disables the periodic backup.
type SessionConfig struct {
	BackupSchedule string `json:"backup_schedule"`
	Timezone       string `json:"timezone,omitempty"`
}

// Defaults matching a fresh install.
const (
	DefaultDelayMinMs         = 500
	DefaultDelayMaxMs         = 2000
	DefaultRateLimitPerWindow = 25
	DefaultPollTimeout        = "10s"
	DefaultStorageDriver      = "file"
	DefaultStoragePath        = "./data"
	DefaultRetryMax           = 2
	DefaultRetryBase          = "1s"
	DefaultRetryMaxDelay      = "30s"
)

// ApplyDefaults fills omitted values in place.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Telegram.PollTimeout) == "" {
		c.Telegram.PollTimeout = DefaultPollTimeout
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if strings.TrimSpace(c.Storage.Driver) == "" {
		c.Storage.Driver = DefaultStorageDriver
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		switch c.Storage.Driver {
		case "sqlite":
			c.Storage.Path = DefaultStoragePath + "/groupcast.db"
		default:
			c.Storage.Path = DefaultStoragePath
		}
	}

	d := &c.Dispatch
	if d.DelayMinMs == 0 && d.DelayMaxMs == 0 {
		d.DelayMinMs = DefaultDelayMinMs
		d.DelayMaxMs = DefaultDelayMaxMs
	}
	if d.RateLimitPerWindow == 0 {
		d.RateLimitPerWindow = DefaultRateLimitPerWindow
	}
	if d.BroadcastEnabled == nil {
		d.BroadcastEnabled = boolPtr(true)
	}
	if d.AutoJoinEnabled == nil {
		d.AutoJoinEnabled = boolPtr(true)
	}

	if c.Sender.RetryMax == nil {
		n := DefaultRetryMax
		c.Sender.RetryMax = &n
	}
	if strings.TrimSpace(c.Sender.RetryBase) == "" {
		c.Sender.RetryBase = DefaultRetryBase
	}
	if strings.TrimSpace(c.Sender.RetryMaxDelay) == "" {
		c.Sender.RetryMaxDelay = DefaultRetryMaxDelay
	}
}

// LogxConfig maps the logging section onto the logger service.
func (c *Config) LogxConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    c.Logging.Telegram.Enabled,
			ChatID:     c.Telegram.LogChat,
			MinLevel:   c.Logging.Telegram.MinLevel,
			RatePerSec: c.Logging.Telegram.RatePerSec,
		},
	}
}

func boolPtr(v bool) *bool { return &v }
