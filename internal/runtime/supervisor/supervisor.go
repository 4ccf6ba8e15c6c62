package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	logx "groupcast/pkg/logx"
)

// Supervisor runs named goroutines under one shared context.
// A panic is recovered and reported as that goroutine's error; with
// WithCancelOnError the first error cancels every sibling.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	wg      conc.WaitGroup
	active  atomic.Int64
	errOnce sync.Once
	first   error
	errMu   sync.Mutex
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, log: logx.Nop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Context is cancelled by Cancel, by the parent, or by the first error when
// cancel-on-error is set.
func (s *Supervisor) Context() context.Context { return s.ctx }

func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first error any goroutine returned.
func (s *Supervisor) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.first
}

// Active reports how many goroutines are still running.
func (s *Supervisor) Active() int64 { return s.active.Load() }

// Go starts fn. context.Canceled is not treated as an error.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.active.Add(1)
	s.wg.Go(func() {
		defer s.active.Add(-1)
		s.log.Debug("goroutine started", logx.String("name", name))

		var err error
		var pc panics.Catcher
		pc.Try(func() { err = fn(s.ctx) })
		if r := pc.Recovered(); r != nil {
			s.log.Error("goroutine panicked", logx.String("name", name), logx.String("panic", r.String()))
			err = fmt.Errorf("panic in %s: %v", name, r.Value)
		}

		if err != nil && !errors.Is(err, context.Canceled) {
			s.fail(fmt.Errorf("%s: %w", name, err))
		}
		s.log.Debug("goroutine stopped", logx.String("name", name))
	})
}

// Go0 starts a goroutine that has no error to report.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// Wait blocks until every goroutine has returned or ctx is done. It does not
// cancel anything itself.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("supervisor wait: %w (%d still running)", ctx.Err(), s.Active())
	}
}

func (s *Supervisor) fail(err error) {
	s.errOnce.Do(func() {
		s.errMu.Lock()
		s.first = err
		s.errMu.Unlock()
	})
	s.log.Warn("goroutine failed", logx.Err(err))
	if s.cancelOnErr {
		s.cancel()
	}
}
