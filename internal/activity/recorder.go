// Package activity records dispatch outcomes and bot events.
//
// Every record goes to three places: the durable store (when configured),
// the structured log, and the in-process event bus.
package activity

import (
	"context"
	"sync"
	"time"

	"groupcast/internal/eventbus"
	"groupcast/internal/storage"
	logx "groupcast/pkg/logx"
)

// Kinds recorded by the app and bot layers. Dispatch and scheduler kinds
// live next to the code that emits them.
const (
	KindBotStarted    = "BOT_STARTED"
	KindBotStart      = "BOT_START"
	KindGroupAdded    = "GROUP_ADDED"
	KindGroupRemoved  = "GROUP_REMOVED"
	KindSessionBackup = "SESSION_BACKUP"
	KindCallbackError = "CALLBACK_ERROR"
	KindPollingError  = "POLLING_ERROR"
)

// memLines bounds the in-memory fallback log.
const memLines = 500

const appendTimeout = 5 * time.Second

// Line is published on the event bus for every record.
type Line struct {
	At      time.Time
	Kind    string
	Message string
}

// Recorder is safe for concurrent use.
type Recorder struct {
	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time

	mu  sync.Mutex
	mem []string
}

// New builds a Recorder. A nil store keeps a bounded in-memory log instead.
func New(store storage.Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{
		store: store,
		bus:   bus,
		log:   log.With(logx.String("comp", "activity")),
		now:   time.Now,
	}
}

// Record appends one line. Storage failures are logged, never returned.
func (r *Recorder) Record(kind, message string) {
	l := storage.ActivityLine{At: r.now(), Kind: kind, Message: message}

	if r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		err := r.store.AppendActivity(ctx, l)
		cancel()
		if err != nil {
			r.log.Warn("activity append failed", logx.String("kind", kind), logx.Err(err))
		}
	} else {
		r.mu.Lock()
		r.mem = append(r.mem, l.String())
		if len(r.mem) > memLines {
			r.mem = append([]string(nil), r.mem[len(r.mem)-memLines:]...)
		}
		r.mu.Unlock()
	}

	r.log.Info(message, logx.String("kind", kind))
	r.bus.Publish(eventbus.Event{
		Type: eventbus.TypeActivity,
		Time: l.At,
		Data: Line{At: l.At, Kind: kind, Message: message},
	})
}

// Tail returns the last n lines, oldest first.
func (r *Recorder) Tail(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	if r.store != nil {
		return r.store.TailActivity(ctx, n)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > len(r.mem) {
		n = len(r.mem)
	}
	return append([]string(nil), r.mem[len(r.mem)-n:]...), nil
}
