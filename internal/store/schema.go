package store

import (
	"context"
	"fmt"
)

// schemaStatements create the tables on startup when they are missing.
// Statements run one at a time; pgx's extended protocol rejects
// multi-statement strings.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS account_snapshots (
		id BIGSERIAL PRIMARY KEY,
		account_index BIGINT NOT NULL,
		account_name TEXT NOT NULL DEFAULT '',
		collateral NUMERIC NOT NULL,
		available_balance NUMERIC NOT NULL,
		unrealized_pnl NUMERIC NOT NULL,
		position_count INT NOT NULL,
		order_count INT NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS account_snapshots_account_time_idx
		ON account_snapshots (account_index, recorded_at DESC)`,

	`CREATE TABLE IF NOT EXISTS positions (
		id BIGSERIAL PRIMARY KEY,
		account_index BIGINT NOT NULL,
		market_id BIGINT NOT NULL,
		symbol TEXT NOT NULL DEFAULT '',
		side TEXT NOT NULL DEFAULT '',
		size NUMERIC NOT NULL,
		entry_price NUMERIC NOT NULL,
		mark_price NUMERIC NOT NULL,
		unrealized_pnl NUMERIC NOT NULL,
		liquidation_price NUMERIC NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS positions_account_time_idx
		ON positions (account_index, recorded_at DESC)`,

	`CREATE TABLE IF NOT EXISTS orders (
		id BIGSERIAL PRIMARY KEY,
		account_index BIGINT NOT NULL,
		order_id TEXT NOT NULL,
		market_id BIGINT NOT NULL,
		symbol TEXT NOT NULL DEFAULT '',
		side TEXT NOT NULL DEFAULT '',
		order_type TEXT NOT NULL DEFAULT '',
		price NUMERIC NOT NULL,
		size NUMERIC NOT NULL,
		filled NUMERIC NOT NULL,
		status TEXT NOT NULL DEFAULT '',
		recorded_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS orders_account_time_idx
		ON orders (account_index, recorded_at DESC)`,

	`CREATE TABLE IF NOT EXISTS trades (
		trade_id TEXT PRIMARY KEY,
		account_index BIGINT NOT NULL,
		market_id BIGINT NOT NULL,
		symbol TEXT NOT NULL DEFAULT '',
		side TEXT NOT NULL DEFAULT '',
		price NUMERIC NOT NULL,
		size NUMERIC NOT NULL,
		fee NUMERIC NOT NULL,
		executed_at TIMESTAMPTZ NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS trades_account_time_idx
		ON trades (account_index, executed_at DESC)`,
}

func (s *Postgres) ensureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
