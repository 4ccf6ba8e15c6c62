package storage

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	json "github.com/goccy/go-json"

	logx "groupcast/pkg/logx"
)

// fileStore keeps every concern in its own file under one directory:
//
//   - groups.json    (array, insertion order)
//   - settings.json  (object)
//   - session.json   (object)
//   - activity.log   (append-only text lines)
//
// JSON documents are replaced atomically (write tmp + rename).
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	groupsPath   string
	settingsPath string
	sessionPath  string
	activity     *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	af, err := os.OpenFile(filepath.Join(dir, "activity.log"), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{
		log:          log,
		groupsPath:   filepath.Join(dir, "groups.json"),
		settingsPath: filepath.Join(dir, "settings.json"),
		sessionPath:  filepath.Join(dir, "session.json"),
		activity:     af,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activity == nil {
		return nil
	}
	err := s.activity.Close()
	s.activity = nil
	return err
}

func (s *fileStore) ListGroups(ctx context.Context) ([]Group, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadGroupsLocked()
}

func (s *fileStore) AddGroup(ctx context.Context, g Group) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	groups, err := s.loadGroupsLocked()
	if err != nil {
		return false, err
	}
	for _, cur := range groups {
		if cur.ID == g.ID {
			return false, nil
		}
	}
	groups = append(groups, g)
	return true, writeJSONAtomic(s.groupsPath, groups)
}

func (s *fileStore) RemoveGroup(ctx context.Context, id string) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	groups, err := s.loadGroupsLocked()
	if err != nil {
		return false, err
	}
	kept := groups[:0]
	for _, g := range groups {
		if g.ID != id {
			kept = append(kept, g)
		}
	}
	if len(kept) == len(groups) {
		return false, nil
	}
	return true, writeJSONAtomic(s.groupsPath, kept)
}

// loadGroupsLocked treats a missing or unreadable file as an empty directory.
func (s *fileStore) loadGroupsLocked() ([]Group, error) {
	var groups []Group
	ok, err := readJSON(s.groupsPath, &groups)
	if err != nil {
		s.log.Warn("groups file unreadable; treating as empty", logx.String("path", s.groupsPath), logx.Err(err))
		return []Group{}, nil
	}
	if !ok || groups == nil {
		return []Group{}, nil
	}
	return groups, nil
}

func (s *fileStore) GetSettings(ctx context.Context) (Settings, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var st Settings
	ok, err := readJSON(s.settingsPath, &st)
	if err != nil {
		return Settings{}, false, err
	}
	return st, ok, nil
}

func (s *fileStore) PutSettings(ctx context.Context, st Settings) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.settingsPath, st)
}

func (s *fileStore) AppendActivity(ctx context.Context, l ActivityLine) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activity == nil {
		return ErrClosed
	}
	_, err := s.activity.WriteString(oneLine(l.String()) + "\n")
	return err
}

func (s *fileStore) TailActivity(ctx context.Context, n int) ([]string, error) {
	_ = ctx
	if n <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activity == nil {
		return nil, ErrClosed
	}
	f, err := os.Open(s.activity.Name())
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]string, 0, n)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if len(ring) == n {
			copy(ring, ring[1:])
			ring = ring[:n-1]
		}
		ring = append(ring, line)
	}
	return ring, sc.Err()
}

func (s *fileStore) SaveSession(ctx context.Context, sess Session) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.sessionPath, sess)
}

func (s *fileStore) LoadSession(ctx context.Context) (Session, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var sess Session
	ok, err := readJSON(s.sessionPath, &sess)
	if err != nil {
		return Session{}, false, err
	}
	return sess, ok, nil
}

func readJSON(path string, v any) (bool, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSONAtomic(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// oneLine keeps multi-line messages on a single log line.
func oneLine(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}
