// Package store persists per-tenant provider configurations.
//
// Two implementations share the ConfigStore interface: a PostgreSQL store
// that encrypts each provider config before it touches the database, and a
// YAML-seeded in-memory store for development that reloads when the seed
// file changes.
package store
