package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"groupcast/internal/dispatch"
	"groupcast/internal/eventbus"
	logx "groupcast/pkg/logx"
)

// Activity kinds emitted by the scheduler.
const (
	KindScheduled = "SCHEDULED_MESSAGE"
	KindFired     = "SCHEDULED_BROADCAST"
	KindCancelled = "TIMERS_CANCELLED"
)

type Option func(*Scheduler)

// WithClock overrides the time source used for job ids and fire times.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithBus publishes scheduling events.
func WithBus(b eventbus.Bus) Option {
	return func(s *Scheduler) {
		if b != nil {
			s.bus = b
		}
	}
}

func withAfterFunc(fn afterFunc) Option {
	return func(s *Scheduler) { s.after = fn }
}

type Scheduler struct {
	run Runner
	rep dispatch.Reporter
	bus eventbus.Bus
	log logx.Logger

	now   func() time.Time
	after afterFunc

	// ctx is cancelled by Close; fired runs inherit it.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	jobs   map[int64]*entry
	lastID int64
	closed bool

	inflight conc.WaitGroup
}

func New(run Runner, rep dispatch.Reporter, log logx.Logger, opts ...Option) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if rep == nil {
		rep = nopReporter{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		run:    run,
		rep:    rep,
		bus:    eventbus.Nop{},
		log:    log.With(logx.String("comp", "scheduler")),
		now:    time.Now,
		after:  realAfterFunc,
		ctx:    ctx,
		cancel: cancel,
		jobs:   map[int64]*entry{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Schedule arms a broadcast of body to ids after delay and returns the job id.
// It never blocks on the broadcast itself.
func (s *Scheduler) Schedule(ids []string, body string, delay time.Duration) (int64, error) {
	if len(ids) == 0 {
		return 0, ErrNoTargets
	}
	if body == "" {
		return 0, ErrEmptyBody
	}
	if delay < 0 {
		return 0, fmt.Errorf("%w: %s", ErrBadDelay, delay)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	now := s.now()
	id := now.UnixNano()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	if _, exists := s.jobs[id]; exists {
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: %d", ErrIDCollision, id)
	}
	s.lastID = id

	job := Job{
		ID:             id,
		DestinationIDs: append([]string(nil), ids...),
		Body:           body,
		FireAt:         now.Add(delay),
	}
	e := &entry{job: job}
	s.jobs[id] = e
	// Arm under the lock so the callback can't observe a half-built entry.
	e.timer = s.after(delay, func() { s.fire(id) })
	s.mu.Unlock()

	s.log.Info("job armed", logx.Int64("job_id", id), logx.Duration("delay", delay), logx.Int("targets", len(ids)))
	s.rep.Record(KindScheduled, fmt.Sprintf("job %d scheduled in %s for %d destination(s)", id, delay.Round(time.Second), len(ids)))
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeJobScheduled, Data: job})
	return id, nil
}

// CancelAll removes every armed job without firing it. Jobs already firing
// are not interrupted.
func (s *Scheduler) CancelAll() int {
	s.mu.Lock()
	n := len(s.jobs)
	for id, e := range s.jobs {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.jobs, id)
	}
	s.mu.Unlock()

	s.log.Info("jobs cancelled", logx.Int("count", n))
	s.rep.Record(KindCancelled, fmt.Sprintf("%d timer(s) cancelled", n))
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeJobsCancelled, Data: Cancelled{Count: n}})
	return n
}

// Pending returns armed jobs ordered by fire time.
func (s *Scheduler) Pending() []Job {
	s.mu.Lock()
	out := make([]Job, 0, len(s.jobs))
	for _, e := range s.jobs {
		out = append(out, e.job)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].FireAt.Before(out[j].FireAt)
	})
	return out
}

// Close stops every armed timer, cancels in-flight runs and waits for them.
// Pending jobs are dropped; they are never persisted.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	dropped := len(s.jobs)
	for id, e := range s.jobs {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.jobs, id)
	}
	s.mu.Unlock()

	s.cancel()
	if r := s.inflight.WaitAndRecover(); r != nil {
		s.log.Error("scheduled run panicked", logx.String("panic", r.String()))
	}
	if dropped > 0 {
		s.log.Warn("pending jobs dropped on close", logx.Int("count", dropped))
	}
}

func (s *Scheduler) fire(id int64) {
	s.mu.Lock()
	e, ok := s.jobs[id]
	if !ok || s.closed {
		// cancelled, or already closed
		s.mu.Unlock()
		return
	}
	delete(s.jobs, id)
	job := e.job
	s.inflight.Go(func() { s.execute(job) })
	s.mu.Unlock()
}

func (s *Scheduler) execute(job Job) {
	log := s.log.With(logx.Int64("job_id", job.ID))
	log.Info("job fired", logx.Duration("late", s.now().Sub(job.FireAt)))

	sum, err := s.run.Broadcast(s.ctx, job.Body, job.DestinationIDs)
	if err != nil {
		log.Warn("scheduled broadcast ended with error", logx.Err(err))
		s.rep.Record(KindFired, fmt.Sprintf("job %d finished with error: %v (success: %d, failed: %d)", job.ID, err, sum.Success, sum.Failed))
	} else {
		s.rep.Record(KindFired, fmt.Sprintf("job %d finished: success: %d, failed: %d", job.ID, sum.Success, sum.Failed))
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeJobFired, Data: Fired{Job: job, Summary: sum, Err: err}})
}

type nopReporter struct{}

func (nopReporter) Record(string, string) {}
