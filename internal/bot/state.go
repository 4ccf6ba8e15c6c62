package bot

import (
	"sync"
	"time"
)

// inputKind is what the next plain-text message from a chat is taken as.
type inputKind int

const (
	inputNone inputKind = iota
	inputBroadcastAll
	inputSelectIDs
	inputSelectBody
	inputAddGroup
	inputTimerMinutes
	inputTimerBody
	inputDelayMin
	inputDelayMax
	inputRateLimit
)

// pendingTTL expires a prompt nobody answered.
const pendingTTL = 15 * time.Minute

type pending struct {
	kind  inputKind
	ids   []string
	delay time.Duration
	at    time.Time
}

// inputs tracks one pending prompt per chat.
type inputs struct {
	mu  sync.Mutex
	now func() time.Time
	m   map[int64]pending
}

func newInputs(now func() time.Time) *inputs {
	return &inputs{now: now, m: map[int64]pending{}}
}

func (s *inputs) set(chatID int64, p pending) {
	p.at = s.now()
	s.mu.Lock()
	s.m[chatID] = p
	s.mu.Unlock()
}

// take removes and returns the chat's pending prompt.
func (s *inputs) take(chatID int64) (pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.m[chatID]
	if !ok {
		return pending{}, false
	}
	delete(s.m, chatID)
	if s.now().Sub(p.at) > pendingTTL {
		return pending{}, false
	}
	return p, true
}

func (s *inputs) clear(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[chatID]
	delete(s.m, chatID)
	return ok
}

func minutes(n int64) time.Duration { return time.Duration(n) * time.Minute }
