package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	logx "groupcast/pkg/logx"
)

//go:embed migrations.sql
var migrations string

const (
	kvSettings = "settings"
	kvSession  = "session"
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) ListGroups(ctx context.Context) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, added_at FROM destinations ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Group{}
	for rows.Next() {
		var g Group
		var at string
		if err := rows.Scan(&g.ID, &g.Name, &at); err != nil {
			return nil, err
		}
		g.AddedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AddGroup(ctx context.Context, g Group) (bool, error) {
	if g.AddedAt.IsZero() {
		g.AddedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO destinations(id, name, added_at) VALUES(?,?,?) ON CONFLICT(id) DO NOTHING`,
		g.ID, g.Name, g.AddedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) RemoveGroup(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM destinations WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) GetSettings(ctx context.Context) (Settings, bool, error) {
	var st Settings
	ok, err := s.getKV(ctx, kvSettings, &st)
	return st, ok, err
}

func (s *sqliteStore) PutSettings(ctx context.Context, st Settings) error {
	return s.putKV(ctx, kvSettings, st)
}

func (s *sqliteStore) SaveSession(ctx context.Context, sess Session) error {
	return s.putKV(ctx, kvSession, sess)
}

func (s *sqliteStore) LoadSession(ctx context.Context) (Session, bool, error) {
	var sess Session
	ok, err := s.getKV(ctx, kvSession, &sess)
	return sess, ok, err
}

func (s *sqliteStore) AppendActivity(ctx context.Context, l ActivityLine) error {
	if l.At.IsZero() {
		l.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activity(at, kind, message) VALUES(?,?,?)`,
		l.At.UTC().Format(time.RFC3339Nano), l.Kind, oneLine(l.Message),
	)
	return err
}

func (s *sqliteStore) TailActivity(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, kind, message FROM (SELECT id, at, kind, message FROM activity ORDER BY id DESC LIMIT ?) ORDER BY id`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var l ActivityLine
		var at string
		if err := rows.Scan(&at, &l.Kind, &l.Message); err != nil {
			return nil, err
		}
		l.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, l.String())
	}
	return out, rows.Err()
}

func (s *sqliteStore) getKV(ctx context.Context, key string, v any) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *sqliteStore) putKV(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kv(key, value) VALUES(?,?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, string(b),
	)
	return err
}
