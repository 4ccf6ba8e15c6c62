package storage

import (
	"errors"
	"strings"

	logx "groupcast/pkg/logx"
)

// Open initializes the configured store.
// It returns ErrDisabled if Driver is empty or "none".
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, ErrDisabled
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return openMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
