package dispatch

import (
	"context"
	"time"
)

// Window is the rate-limit budget period.
const Window = 60 * time.Second

// Destination is a send target. It is owned by the Directory and treated as
// read-only here.
type Destination struct {
	ID    string
	Label string
}

// Settings are the tunables captured once per broadcast.
//
// BroadcastEnabled is a gate for callers; the Broadcaster does not look at it.
type Settings struct {
	RateLimitPerWindow int
	DelayMin           time.Duration
	DelayMax           time.Duration
	BroadcastEnabled   bool
}

type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Result is the outcome for one destination.
type Result struct {
	DestinationID string
	Label         string
	Status        Status
	Detail        string
}

// Summary aggregates one broadcast run. Results are in input order.
type Summary struct {
	RunID      string
	Success    int
	Failed     int
	Results    []Result
	StartedAt  time.Time
	FinishedAt time.Time
}

func (s Summary) Total() int { return s.Success + s.Failed }

// Sender delivers a body to one destination. Every call is independent.
type Sender interface {
	Send(ctx context.Context, destinationID, body string) error
}

// SenderFunc adapts a plain function to Sender.
type SenderFunc func(ctx context.Context, destinationID, body string) error

func (f SenderFunc) Send(ctx context.Context, destinationID, body string) error {
	return f(ctx, destinationID, body)
}

// Directory supplies the ordered destination list.
type Directory interface {
	List(ctx context.Context) ([]Destination, error)
}

// SettingsSource supplies the current dispatch settings.
type SettingsSource interface {
	Get(ctx context.Context) (Settings, error)
}

// Reporter receives activity records.
type Reporter interface {
	Record(kind, message string)
}

// Activity kinds emitted by the Broadcaster.
const (
	KindSendSuccess = "BROADCAST_SUCCESS"
	KindSendFailed  = "BROADCAST_FAILED"
	KindComplete    = "BROADCAST_COMPLETE"
)

type nopReporter struct{}

func (nopReporter) Record(string, string) {}
