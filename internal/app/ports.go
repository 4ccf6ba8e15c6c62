package app

import (
	"context"
	"sync"

	"groupcast/internal/config"
	"groupcast/internal/dispatch"
	"groupcast/internal/storage"
)

// directory exposes stored groups as dispatch destinations, in insertion
// order.
type directory struct {
	store storage.Store
}

func (d directory) List(ctx context.Context) ([]dispatch.Destination, error) {
	groups, err := d.store.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]dispatch.Destination, 0, len(groups))
	for _, g := range groups {
		out = append(out, dispatch.Destination{ID: g.ID, Label: g.Name})
	}
	return out, nil
}

// settingsPort serves dispatch settings from storage. Until the first save,
// the config's dispatch section stands in.
type settingsPort struct {
	store storage.Store

	mu   sync.RWMutex
	seed storage.Settings
}

func newSettingsPort(store storage.Store, d config.DispatchConfig) *settingsPort {
	p := &settingsPort{store: store}
	p.SetSeed(d)
	return p
}

// SetSeed replaces the fallback used while nothing is persisted.
func (p *settingsPort) SetSeed(d config.DispatchConfig) {
	seed := storage.Settings{
		BroadcastEnabled:     d.BroadcastEnabled == nil || *d.BroadcastEnabled,
		DelayMin:             d.DelayMinMs,
		DelayMax:             d.DelayMaxMs,
		MaxMessagesPerMinute: d.RateLimitPerWindow,
		AutoJoinEnabled:      d.AutoJoinEnabled == nil || *d.AutoJoinEnabled,
	}
	p.mu.Lock()
	p.seed = seed
	p.mu.Unlock()
}

func (p *settingsPort) Load(ctx context.Context) (storage.Settings, error) {
	st, ok, err := p.store.GetSettings(ctx)
	if err != nil {
		return storage.Settings{}, err
	}
	if !ok {
		p.mu.RLock()
		defer p.mu.RUnlock()
		return p.seed, nil
	}
	return st, nil
}

// Save persists st after the same checks a broadcast applies.
func (p *settingsPort) Save(ctx context.Context, st storage.Settings) error {
	if err := toDispatch(st).Validate(); err != nil {
		return err
	}
	return p.store.PutSettings(ctx, st)
}

// Get implements dispatch.SettingsSource.
func (p *settingsPort) Get(ctx context.Context) (dispatch.Settings, error) {
	st, err := p.Load(ctx)
	if err != nil {
		return dispatch.Settings{}, err
	}
	return toDispatch(st), nil
}

func toDispatch(st storage.Settings) dispatch.Settings {
	return dispatch.Settings{
		RateLimitPerWindow: st.MaxMessagesPerMinute,
		DelayMin:           config.Millis(st.DelayMin),
		DelayMax:           config.Millis(st.DelayMax),
		BroadcastEnabled:   st.BroadcastEnabled,
	}
}
