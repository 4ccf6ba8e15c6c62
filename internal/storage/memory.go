package storage

import (
	"context"
	"sync"
)

// memStore keeps everything in process memory. Nothing survives a restart.
type memStore struct {
	mu       sync.Mutex
	groups   []Group
	settings *Settings
	session  *Session
	activity []string
	closed   bool
}

func openMemory() Store { return &memStore{} }

func (s *memStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *memStore) ListGroups(context.Context) ([]Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Group{}, s.groups...), nil
}

func (s *memStore) AddGroup(_ context.Context, g Group) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.groups {
		if cur.ID == g.ID {
			return false, nil
		}
	}
	s.groups = append(s.groups, g)
	return true, nil
}

func (s *memStore) RemoveGroup(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, g := range s.groups {
		if g.ID == id {
			s.groups = append(s.groups[:i], s.groups[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) GetSettings(context.Context) (Settings, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		return Settings{}, false, nil
	}
	return *s.settings, true, nil
}

func (s *memStore) PutSettings(_ context.Context, st Settings) error {
	s.mu.Lock()
	s.settings = &st
	s.mu.Unlock()
	return nil
}

func (s *memStore) AppendActivity(_ context.Context, l ActivityLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.activity = append(s.activity, oneLine(l.String()))
	return nil
}

func (s *memStore) TailActivity(_ context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	from := max(0, len(s.activity)-n)
	return append([]string(nil), s.activity[from:]...), nil
}

func (s *memStore) SaveSession(_ context.Context, sess Session) error {
	s.mu.Lock()
	s.session = &sess
	s.mu.Unlock()
	return nil
}

func (s *memStore) LoadSession(context.Context) (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return Session{}, false, nil
	}
	return *s.session, true, nil
}
