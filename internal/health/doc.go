// Package health derives connection-health and latency snapshots for
// the diagnostics endpoints.
//
// The aggregator is read-only: it copies counters out of the retry
// machines on demand, per request, and never runs as a background task.
// The tracker keeps fixed-size interval windows for upstream message
// and poll cadence.
package health
