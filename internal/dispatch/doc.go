// Package dispatch delivers one message body to an ordered list of
// destinations.
//
// The Broadcaster is strictly sequential. Before every send it waits a random
// jitter drawn from [DelayMin, DelayMax), and once RateLimitPerWindow
// successful sends have happened since the last reset it waits out the rest of
// the 60s window. A failed send is recorded in the Summary and the run moves
// on to the next destination.
//
// Service wraps a Broadcaster with the Directory and SettingsSource snapshots
// taken at invocation time and serializes runs so only one broadcast is in
// flight per process.
package dispatch
