// Package ingest maintains one WebSocket connection per account to the
// Lighter account stream. Each connection subscribes to the positions,
// orders and trades channels, answers the venue's application-level
// pings, and hands every data frame to an Applier that folds it into
// the shared cache. Connection failures go through the same retry
// machine the REST pollers use.
package ingest
