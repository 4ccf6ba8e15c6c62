package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	logx "groupcast/pkg/logx"
)

type Broadcaster struct {
	sender   Sender
	reporter Reporter
	log      logx.Logger
	clock    Clock
	jitter   func(lo, hi time.Duration) time.Duration
}

type Option func(*Broadcaster)

// WithClock replaces the wall clock (tests use a fake that records sleeps).
func WithClock(c Clock) Option {
	return func(b *Broadcaster) {
		if c != nil {
			b.clock = c
		}
	}
}

// WithJitter replaces the uniform [lo, hi) jitter source.
func WithJitter(fn func(lo, hi time.Duration) time.Duration) Option {
	return func(b *Broadcaster) {
		if fn != nil {
			b.jitter = fn
		}
	}
}

func NewBroadcaster(sender Sender, reporter Reporter, log logx.Logger, opts ...Option) *Broadcaster {
	if log.IsZero() {
		log = logx.Nop()
	}
	if reporter == nil {
		reporter = nopReporter{}
	}
	b := &Broadcaster{
		sender:   sender,
		reporter: reporter,
		log:      log,
		clock:    RealClock(),
		jitter:   uniformJitter,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Broadcast sends body to every destination in order.
//
// Send failures are data in the returned Summary. The returned error is
// non-nil only for invalid settings, or when ctx is cancelled; in that case
// the Summary holds the sends completed before the cancellation and the
// error is ctx.Err().
func (b *Broadcaster) Broadcast(ctx context.Context, body string, dests []Destination, st Settings) (Summary, error) {
	if err := st.Validate(); err != nil {
		return Summary{}, err
	}
	sum := Summary{
		RunID:     uuid.NewString(),
		Results:   make([]Result, 0, len(dests)),
		StartedAt: b.clock.Now(),
	}
	if len(dests) == 0 {
		sum.FinishedAt = sum.StartedAt
		return sum, nil
	}

	log := b.log.With(logx.String("run", sum.RunID))
	log.Info("broadcast started",
		logx.Int("total", len(dests)),
		logx.Int("rate_limit", st.RateLimitPerWindow),
		logx.Duration("delay_min", st.DelayMin),
		logx.Duration("delay_max", st.DelayMax),
	)

	sentInWindow := 0
	windowStart := b.clock.Now()
	for i, d := range dests {
		if err := ctx.Err(); err != nil {
			return b.interrupted(log, sum, len(dests)-i, err)
		}
		// Counter resets whenever the budget is exhausted, waited or not.
		if sentInWindow >= st.RateLimitPerWindow {
			if elapsed := b.clock.Now().Sub(windowStart); elapsed < Window {
				wait := Window - elapsed
				log.Debug("rate limit reached; waiting for window", logx.Int("sent", sentInWindow), logx.Duration("wait", wait))
				if err := b.clock.Sleep(ctx, wait); err != nil {
					return b.interrupted(log, sum, len(dests)-i, err)
				}
			}
			sentInWindow = 0
			windowStart = b.clock.Now()
		}

		if err := b.clock.Sleep(ctx, b.jitter(st.DelayMin, st.DelayMax)); err != nil {
			return b.interrupted(log, sum, len(dests)-i, err)
		}
		if err := ctx.Err(); err != nil {
			return b.interrupted(log, sum, len(dests)-i, err)
		}

		if err := b.sender.Send(ctx, d.ID, body); err != nil {
			// A send cut short by shutdown is not a delivery failure.
			if cerr := ctx.Err(); cerr != nil {
				return b.interrupted(log, sum, len(dests)-i, cerr)
			}
			sum.Failed++
			sum.Results = append(sum.Results, Result{DestinationID: d.ID, Label: d.Label, Status: StatusFailed, Detail: err.Error()})
			b.reporter.Record(KindSendFailed, fmt.Sprintf("send to %s failed: %v", labelOf(d), err))
			log.Warn("broadcast send failed", logx.String("dest", d.ID), logx.Err(err))
			continue
		}
		sum.Success++
		sentInWindow++
		sum.Results = append(sum.Results, Result{DestinationID: d.ID, Label: d.Label, Status: StatusSuccess})
		b.reporter.Record(KindSendSuccess, "sent to "+labelOf(d))
	}

	sum.FinishedAt = b.clock.Now()
	b.reporter.Record(KindComplete, fmt.Sprintf("success: %d, failed: %d", sum.Success, sum.Failed))
	fields := []logx.Field{
		logx.Int("success", sum.Success),
		logx.Int("failed", sum.Failed),
		logx.Duration("took", sum.FinishedAt.Sub(sum.StartedAt)),
	}
	if sum.Failed > 0 {
		log.Warn("broadcast finished with failures", fields...)
	} else {
		log.Info("broadcast finished", fields...)
	}
	return sum, nil
}

func (b *Broadcaster) interrupted(log logx.Logger, sum Summary, skipped int, err error) (Summary, error) {
	sum.FinishedAt = b.clock.Now()
	b.reporter.Record(KindComplete, fmt.Sprintf("interrupted: success: %d, failed: %d, skipped: %d", sum.Success, sum.Failed, skipped))
	log.Warn("broadcast interrupted", logx.Int("success", sum.Success), logx.Int("failed", sum.Failed), logx.Int("skipped", skipped), logx.Err(err))
	return sum, err
}

func labelOf(d Destination) string {
	if d.Label == "" || d.Label == d.ID {
		return d.ID
	}
	return d.Label + " (" + d.ID + ")"
}
