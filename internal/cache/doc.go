// Package cache implements the in-memory TTL cache between the upstream
// pollers and the downstream broadcast/API surface.
//
// TTL expiry classifies entries as stale; it never evicts them. Consumers
// always receive the last known value together with its age so they can
// present stale data instead of gaps while an upstream connection is in
// retry. Entries only leave the cache through an explicit Clear.
package cache
