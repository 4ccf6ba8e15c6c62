package dispatch

import (
	"context"
	"fmt"

	logx "groupcast/pkg/logx"
)

// Service resolves targets and settings at invocation time and runs them
// through a single Broadcaster lane.
type Service struct {
	dir      Directory
	settings SettingsSource
	b        *Broadcaster
	log      logx.Logger

	// lane admits one broadcast at a time; waiting honours ctx.
	lane chan struct{}
}

func NewService(dir Directory, settings SettingsSource, b *Broadcaster, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		dir:      dir,
		settings: settings,
		b:        b,
		log:      log,
		lane:     make(chan struct{}, 1),
	}
}

// Broadcast sends body to the destinations named by ids, in directory order.
// A nil ids selects every destination; unknown ids are skipped.
func (s *Service) Broadcast(ctx context.Context, body string, ids []string) (Summary, error) {
	select {
	case s.lane <- struct{}{}:
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	}
	defer func() { <-s.lane }()

	st, err := s.settings.Get(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load settings: %w", err)
	}
	all, err := s.dir.List(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load destinations: %w", err)
	}
	targets := Select(all, ids)
	if ids != nil && len(targets) < len(ids) {
		s.log.Debug("some requested destinations are not in the directory", logx.Int("requested", len(ids)), logx.Int("resolved", len(targets)))
	}
	return s.b.Broadcast(ctx, body, targets, st)
}

// Select filters all down to ids, keeping the order of all.
func Select(all []Destination, ids []string) []Destination {
	if ids == nil {
		return append([]Destination(nil), all...)
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := make([]Destination, 0, len(ids))
	for _, d := range all {
		if _, ok := want[d.ID]; ok {
			out = append(out, d)
		}
	}
	return out
}
