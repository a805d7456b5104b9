// Package model defines the shared data types flowing between the venue
// clients, the cache and the broadcast/API surface.
//
// Conventions:
//   - Money and size fields: decimal.Decimal (the venue sends string
//     amounts; decimals round-trip them without float drift)
//   - Timestamps: time.Time internally, RFC3339 on the wire
//   - JSON tags: snake_case, matching what the dashboard consumes
package model
