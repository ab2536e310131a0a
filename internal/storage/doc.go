// Package storage persists per-tenant documents for the bot.
//
// A tenant document aggregates everything the bot knows about one chat:
// the channel posting schedules plus opaque UI-session blobs. Writes are
// full-document replaces (last write wins at tenant granularity); callers
// own read-modify-write ordering.
//
// Drivers:
//   - "sqlite": SQLite database file (default)
//   - "file":   dependency-free file backend (snapshot + journal)
//   - "memory": in-process map, for tests and ephemeral runs
package storage
