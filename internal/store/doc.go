// Package store persists account snapshots and trade fills to PostgreSQL.
//
// Persistence is optional: when no database host is configured the rest
// of the process runs without it and history endpoints report storage
// as disabled. Writes are batched with pgx.Batch and append-only; trade
// rows dedupe on trade_id with ON CONFLICT DO NOTHING.
package store
