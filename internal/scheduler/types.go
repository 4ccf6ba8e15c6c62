package scheduler

import (
	"context"
	"errors"
	"time"

	"groupcast/internal/dispatch"
)

var (
	// ErrIDCollision means a fresh job id was already registered.
	ErrIDCollision = errors.New("scheduler: job id collision")
	ErrClosed      = errors.New("scheduler: closed")
	ErrNoTargets   = errors.New("scheduler: no destinations")
	ErrEmptyBody   = errors.New("scheduler: empty message")
	ErrBadDelay    = errors.New("scheduler: negative delay")
)

// Runner performs the broadcast when a job fires. dispatch.Service
// satisfies it: ids are resolved against the directory at fire time.
type Runner interface {
	Broadcast(ctx context.Context, body string, ids []string) (dispatch.Summary, error)
}

// Job is a pending deferred broadcast. A job is armed exactly while it is in
// the scheduler's registry; firing and cancelling both remove it.
type Job struct {
	ID             int64
	DestinationIDs []string
	Body           string
	FireAt         time.Time
}

// Fired is the payload of eventbus.TypeJobFired.
type Fired struct {
	Job     Job
	Summary dispatch.Summary
	Err     error
}

// Cancelled is the payload of eventbus.TypeJobsCancelled.
type Cancelled struct {
	Count int
}

type timer interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) timer

func realAfterFunc(d time.Duration, f func()) timer { return time.AfterFunc(d, f) }

type entry struct {
	job   Job
	timer timer
}
