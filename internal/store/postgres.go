package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"lighter-broadcaster/internal/config"
	"lighter-broadcaster/internal/model"
)

// History query limits.
const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// tradeInsertSQL dedupes on trade_id so re-delivered frames are
// conflicts, not errors.
const tradeInsertSQL = `
	INSERT INTO trades (trade_id, account_index, market_id, symbol, side, price, size, fee, executed_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (trade_id) DO NOTHING
`

// Postgres persists account snapshots and trade fills. All writes are
// append-only; trades dedupe on trade_id.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	mu      sync.Mutex
	metrics Metrics
}

// Metrics counts persisted rows since startup.
type Metrics struct {
	Snapshots      int64     `json:"snapshots_saved"`
	Trades         int64     `json:"trades_saved"`
	TradeConflicts int64     `json:"trade_conflicts"`
	Errors         int64     `json:"errors"`
	LastSaveAt     time.Time `json:"last_save_at"`
	LastError      string    `json:"last_error,omitempty"`
}

// Status reports liveness and write counters for the health surface.
type Status struct {
	Connected bool    `json:"connected"`
	Metrics   Metrics `json:"metrics"`
}

// SnapshotRow is one persisted balance snapshot, newest first in
// history queries.
type SnapshotRow struct {
	AccountIndex     int             `json:"account_index"`
	AccountName      string          `json:"account_name"`
	Collateral       decimal.Decimal `json:"collateral"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	UnrealizedPNL    decimal.Decimal `json:"unrealized_pnl"`
	PositionCount    int             `json:"position_count"`
	OrderCount       int             `json:"order_count"`
	RecordedAt       time.Time       `json:"recorded_at"`
}

// Open connects to the configured database and creates missing tables.
func Open(ctx context.Context, cfg config.DBConfig, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s := &Postgres{
		pool:   pool,
		logger: logger.With("component", "store"),
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s.logger.Info("storage ready", "host", cfg.Host, "database", cfg.Name)
	return s, nil
}

// SaveSnapshot writes one account snapshot with its positions and
// active orders, all stamped with the snapshot instant.
func (s *Postgres) SaveSnapshot(ctx context.Context, state model.AccountState, orders []model.Order) error {
	recordedAt := state.UpdatedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO account_snapshots
			(account_index, account_name, collateral, available_balance, unrealized_pnl, position_count, order_count, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, state.AccountIndex, state.Name, state.Collateral, state.AvailableBalance,
		state.UnrealizedPNL(), len(state.Positions), len(orders), recordedAt)

	for _, p := range state.Positions {
		batch.Queue(`
			INSERT INTO positions
				(account_index, market_id, symbol, side, size, entry_price, mark_price, unrealized_pnl, liquidation_price, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, state.AccountIndex, p.MarketID, p.Symbol, p.Side, p.Size,
			p.EntryPrice, p.MarkPrice, p.UnrealizedPNL, p.LiquidationPrice, recordedAt)
	}

	for _, o := range orders {
		batch.Queue(`
			INSERT INTO orders
				(account_index, order_id, market_id, symbol, side, order_type, price, size, filled, status, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, state.AccountIndex, o.OrderID, o.MarketID, o.Symbol, o.Side, o.Type,
			o.Price, o.Size, o.Filled, o.Status, recordedAt)
	}

	if err := s.sendBatch(ctx, batch); err != nil {
		s.recordError(err)
		return fmt.Errorf("save snapshot: %w", err)
	}

	s.mu.Lock()
	s.metrics.Snapshots++
	s.metrics.LastSaveAt = time.Now()
	s.mu.Unlock()

	s.logger.Debug("saved snapshot",
		"account", state.AccountIndex,
		"positions", len(state.Positions),
		"orders", len(orders),
	)
	return nil
}

// SaveTrades inserts fills using pgx.Batch with ON CONFLICT DO NOTHING.
// Re-delivered trades count as conflicts, not errors. Trades without an
// id are skipped; there is nothing stable to dedupe them on.
func (s *Postgres) SaveTrades(ctx context.Context, accountIndex int, trades []model.Trade) error {
	batch := &pgx.Batch{}
	queued := 0
	for _, tr := range trades {
		if tr.TradeID == "" {
			continue
		}
		batch.Queue(tradeInsertSQL, tr.TradeID, accountIndex, tr.MarketID, tr.Symbol, tr.Side,
			tr.Price, tr.Size, tr.Fee, time.UnixMilli(tr.Timestamp).UTC())
		queued++
	}
	if queued == 0 {
		return nil
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	conflicts := 0
	for i := 0; i < queued; i++ {
		ct, err := results.Exec()
		if err != nil {
			s.recordError(err)
			return fmt.Errorf("save trades: %w", err)
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	s.mu.Lock()
	s.metrics.Trades += int64(queued - conflicts)
	s.metrics.TradeConflicts += int64(conflicts)
	s.metrics.LastSaveAt = time.Now()
	s.mu.Unlock()

	s.logger.Debug("saved trades",
		"account", accountIndex,
		"count", queued,
		"conflicts", conflicts,
	)
	return nil
}

// AccountHistory returns persisted snapshots for one account, newest
// first.
func (s *Postgres) AccountHistory(ctx context.Context, accountIndex, limit int) ([]SnapshotRow, error) {
	limit = clampLimit(limit)

	rows, err := s.pool.Query(ctx, `
		SELECT account_index, account_name, collateral, available_balance, unrealized_pnl, position_count, order_count, recorded_at
		FROM account_snapshots
		WHERE account_index = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`, accountIndex, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []SnapshotRow
	for rows.Next() {
		var r SnapshotRow
		if err := rows.Scan(&r.AccountIndex, &r.AccountName, &r.Collateral, &r.AvailableBalance,
			&r.UnrealizedPNL, &r.PositionCount, &r.OrderCount, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentTrades returns persisted fills for one account, newest first.
func (s *Postgres) RecentTrades(ctx context.Context, accountIndex, limit int) ([]model.Trade, error) {
	limit = clampLimit(limit)

	rows, err := s.pool.Query(ctx, `
		SELECT trade_id, market_id, symbol, side, price, size, fee, executed_at
		FROM trades
		WHERE account_index = $1
		ORDER BY executed_at DESC
		LIMIT $2
	`, accountIndex, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []model.Trade
	for rows.Next() {
		var (
			tr         model.Trade
			executedAt time.Time
		)
		if err := rows.Scan(&tr.TradeID, &tr.MarketID, &tr.Symbol, &tr.Side,
			&tr.Price, &tr.Size, &tr.Fee, &executedAt); err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		tr.Timestamp = executedAt.UnixMilli()
		out = append(out, tr)
	}
	return out, rows.Err()
}

// Status reports connection liveness and write counters.
func (s *Postgres) Status(ctx context.Context) Status {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	connected := s.pool.Ping(pingCtx) == nil

	s.mu.Lock()
	m := s.metrics
	s.mu.Unlock()

	return Status{Connected: connected, Metrics: m}
}

// Ping verifies the connection is healthy.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Postgres) Close() {
	s.pool.Close()
}

func (s *Postgres) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Postgres) recordError(err error) {
	s.logger.Error("storage write failed", "error", err)
	s.mu.Lock()
	s.metrics.Errors++
	s.metrics.LastError = err.Error()
	s.mu.Unlock()
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultHistoryLimit
	case limit > maxHistoryLimit:
		return maxHistoryLimit
	default:
		return limit
	}
}
