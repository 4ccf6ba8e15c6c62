// Package storage persists the bot's small state: the group directory,
// dispatch settings, the activity log, and session backups.
//
// Two drivers are available:
//   - "file": one JSON document per concern plus an append-only activity log
//   - "sqlite": a single SQLite database file (modernc.org/sqlite, pure Go)
package storage
