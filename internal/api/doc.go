// Package api serves the dashboard-facing HTTP surface: the portfolio
// rollup, raw cache reads, connection health, admin reconnect
// controls, history queries, and the /ws subscription upgrade.
//
// Handlers read from the in-memory cache and the connection pools;
// they never call the venue. Cached data older than its TTL is served
// with a stale flag rather than withheld, so the dashboard always sees
// the last known values.
package api
