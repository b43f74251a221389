// Package statestore provides the ephemeral key/value store that carries
// authentication flow state across the redirect round trip to an external
// identity provider.
//
// Every value has a TTL, and Consume is an atomic read-then-delete: a state
// token validates at most one callback, which is the core replay-prevention
// invariant of the gateway. The backing store is best-effort shared
// infrastructure; when it is unreachable operations return an error and
// callers fail closed rather than skipping validation.
//
// Two backends exist: Redis (shared across replicas, Consume via GETDEL) and
// an in-memory TTL cache for single-process deployments and tests.
package statestore
