package model

import (
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// MaxTradesPerMarket caps the retained trade history per market.
const MaxTradesPerMarket = 500

func init() {
	// Dashboards consume balances as JSON numbers, not strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// -----------------------------------------------------------------------------
// REST-fed state
// -----------------------------------------------------------------------------

// AccountState is the normalized account snapshot from the venue's REST
// account endpoint: balances plus open positions.
type AccountState struct {
	AccountIndex     int             `json:"account_index"`
	Name             string          `json:"name"`
	Collateral       decimal.Decimal `json:"collateral"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	Positions        []Position      `json:"positions"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// PositionMarketIDs returns the market ids with a non-zero position,
// the set the active-order poller fans out over.
func (s AccountState) PositionMarketIDs() []int64 {
	ids := make([]int64, 0, len(s.Positions))
	for _, p := range s.Positions {
		if !p.Size.IsZero() {
			ids = append(ids, p.MarketID)
		}
	}
	return ids
}

// UnrealizedPNL sums unrealized profit and loss across positions.
func (s AccountState) UnrealizedPNL() decimal.Decimal {
	total := decimal.Zero
	for _, p := range s.Positions {
		total = total.Add(p.UnrealizedPNL)
	}
	return total
}

// Position is one open position on a market.
type Position struct {
	MarketID         int64           `json:"market_id"`
	Symbol           string          `json:"symbol"`
	Side             string          `json:"side"` // "long" or "short"
	Size             decimal.Decimal `json:"size"`
	EntryPrice       decimal.Decimal `json:"entry_price"`
	MarkPrice        decimal.Decimal `json:"mark_price"`
	PositionValue    decimal.Decimal `json:"position_value"`
	UnrealizedPNL    decimal.Decimal `json:"unrealized_pnl"`
	RealizedPNL      decimal.Decimal `json:"realized_pnl"`
	LiquidationPrice decimal.Decimal `json:"liquidation_price"`
}

// Order is one active order.
type Order struct {
	OrderID   string          `json:"order_id"`
	MarketID  int64           `json:"market_id"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"` // "buy" or "sell"
	Type      string          `json:"type"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Filled    decimal.Decimal `json:"filled"`
	Status    string          `json:"status"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// -----------------------------------------------------------------------------
// WebSocket-fed state
// -----------------------------------------------------------------------------

// Trade is one executed trade from the account trade stream.
type Trade struct {
	TradeID   string          `json:"trade_id"`
	MarketID  int64           `json:"market_id"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Fee       decimal.Decimal `json:"fee"`
	Timestamp int64           `json:"timestamp"` // Venue timestamp, ms since epoch
}

// Volumes carries the venue's rolling volume figures when the trade
// stream includes them. Absent figures marshal as null.
type Volumes struct {
	Total   decimal.NullDecimal `json:"total_volume"`
	Monthly decimal.NullDecimal `json:"monthly_volume"`
	Weekly  decimal.NullDecimal `json:"weekly_volume"`
	Daily   decimal.NullDecimal `json:"daily_volume"`
}

// TradeBook is the per-account trade history fed by the WebSocket trade
// channel, keyed by market id.
type TradeBook struct {
	Trades    map[string][]Trade `json:"trades"`
	Volumes   Volumes            `json:"volumes"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// NewTradeBook returns an empty trade book.
func NewTradeBook() *TradeBook {
	return &TradeBook{Trades: make(map[string][]Trade)}
}

// Merge folds incoming trades for one market into the book: newest
// first, duplicates (by trade id, or timestamp when the id is empty)
// dropped, history capped at max entries. Returns the trades that were
// actually new. Stored slices are never modified in place, so snapshots
// handed out earlier stay valid.
func (b *TradeBook) Merge(marketID string, incoming []Trade, max int) []Trade {
	if max <= 0 {
		max = MaxTradesPerMarket
	}
	existing := b.Trades[marketID]

	seen := make(map[string]bool, len(existing))
	for _, tr := range existing {
		seen[tradeKey(tr)] = true
	}

	var fresh []Trade
	for _, tr := range incoming {
		k := tradeKey(tr)
		if seen[k] {
			continue
		}
		seen[k] = true
		fresh = append(fresh, tr)
	}
	if len(fresh) == 0 {
		return nil
	}

	merged := make([]Trade, 0, len(existing)+len(fresh))
	merged = append(merged, existing...)
	merged = append(merged, fresh...)
	sortTradesNewestFirst(merged)
	if len(merged) > max {
		merged = merged[:max]
	}
	b.Trades[marketID] = merged
	return fresh
}

// Snapshot returns a copy of the book safe to hand to readers while
// merges continue. Trade slices are shared but never mutated.
func (b *TradeBook) Snapshot() TradeBook {
	out := TradeBook{
		Trades:    make(map[string][]Trade, len(b.Trades)),
		Volumes:   b.Volumes,
		UpdatedAt: b.UpdatedAt,
	}
	for marketID, trades := range b.Trades {
		out.Trades[marketID] = trades
	}
	return out
}

// AllTrades flattens the book newest-first across markets.
func (b *TradeBook) AllTrades() []Trade {
	var out []Trade
	for _, trades := range b.Trades {
		out = append(out, trades...)
	}
	sortTradesNewestFirst(out)
	return out
}

// Len returns the total retained trade count.
func (b *TradeBook) Len() int {
	n := 0
	for _, trades := range b.Trades {
		n += len(trades)
	}
	return n
}

func tradeKey(t Trade) string {
	if t.TradeID != "" {
		return t.TradeID
	}
	return t.Symbol + "@" + t.Price.String() + "@" + strconv.FormatInt(t.Timestamp, 10)
}

func sortTradesNewestFirst(trades []Trade) {
	sort.Slice(trades, func(i, j int) bool {
		return trades[i].Timestamp > trades[j].Timestamp
	})
}
