package app

import (
	"fmt"
	"strings"
	"time"

	"groupcast/internal/config"
	"groupcast/internal/storage"
	"groupcast/internal/transport/telegram"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "file", "memory":
		return storage.Config{Driver: driver, Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapRetryPolicy(cfg *config.Config) (telegram.RetryPolicy, error) {
	base, err := config.ParseDurationOrDefault("sender.retry_base", cfg.Sender.RetryBase, time.Second)
	if err != nil {
		return telegram.RetryPolicy{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("sender.retry_max_delay", cfg.Sender.RetryMaxDelay, 30*time.Second)
	if err != nil {
		return telegram.RetryPolicy{}, err
	}
	n := config.DefaultRetryMax
	if cfg.Sender.RetryMax != nil {
		n = *cfg.Sender.RetryMax
	}
	return telegram.RetryPolicy{RetryMax: n, RetryBase: base, RetryMaxDelay: maxDelay}, nil
}
