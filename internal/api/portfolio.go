package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"lighter-broadcaster/internal/cache"
	"lighter-broadcaster/internal/model"
)

// portfolioAccount is one account's row in the dashboard rollup.
type portfolioAccount struct {
	AccountIndex     string              `json:"account_index"`
	Name             string              `json:"name"`
	Exchange         string              `json:"exchange"`
	IsLive           bool                `json:"is_live"`
	LastUpdate       float64             `json:"last_update"`
	Equity           decimal.Decimal     `json:"equity"`
	AvailableBalance decimal.Decimal     `json:"available_balance"`
	UnrealizedPNL    decimal.Decimal     `json:"unrealized_pnl"`
	MarginUsed       decimal.Decimal     `json:"margin_used"`
	MarginRatio      decimal.Decimal     `json:"margin_ratio"`
	Volume24h        decimal.Decimal     `json:"volume_24h"`
	TotalVolume      decimal.NullDecimal `json:"total_volume"`
	MonthlyVolume    decimal.NullDecimal `json:"monthly_volume"`
	WeeklyVolume     decimal.NullDecimal `json:"weekly_volume"`
	Positions        []model.Position    `json:"positions"`
	ActiveOrders     []model.Order       `json:"active_orders"`
	Trades           []model.Trade       `json:"trades"`
	PositionCount    int                 `json:"position_count"`
	OrderCount       int                 `json:"order_count"`
	TradeCount       int                 `json:"trade_count"`
	Stale            bool                `json:"stale"`
	DataAge          float64             `json:"data_age"`
}

// portfolioResponse is the aggregate dashboard payload.
type portfolioResponse struct {
	Accounts           []portfolioAccount `json:"accounts"`
	TotalEquity        decimal.Decimal    `json:"total_equity"`
	TotalUnrealizedPNL decimal.Decimal    `json:"total_unrealized_pnl"`
	TotalMarginUsed    decimal.Decimal    `json:"total_margin_used"`
	TotalPositions     int                `json:"total_positions"`
	TotalActiveOrders  int                `json:"total_active_orders"`
	TotalTrades        int                `json:"total_trades"`
	AccountsLive       int                `json:"accounts_live"`
	AccountsTotal      int                `json:"accounts_total"`
	Timestamp          float64            `json:"timestamp"`
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tracker != nil {
		s.deps.Tracker.RecordFrontendPoll()
	}
	writeJSON(w, http.StatusOK, s.buildPortfolio(time.Now()))
}

// buildPortfolio assembles the rollup from cached data only. Accounts
// without cached state still get a row so the dashboard can show them
// as offline.
func (s *Server) buildPortfolio(now time.Time) portfolioResponse {
	resp := portfolioResponse{
		Accounts:  make([]portfolioAccount, 0, len(s.deps.Accounts)),
		Timestamp: unixSeconds(now),
	}

	for _, a := range s.deps.Accounts {
		row := s.accountRow(a, now)
		resp.TotalEquity = resp.TotalEquity.Add(row.Equity)
		resp.TotalUnrealizedPNL = resp.TotalUnrealizedPNL.Add(row.UnrealizedPNL)
		resp.TotalMarginUsed = resp.TotalMarginUsed.Add(row.MarginUsed)
		resp.TotalPositions += row.PositionCount
		resp.TotalActiveOrders += row.OrderCount
		resp.TotalTrades += row.TradeCount
		if row.IsLive {
			resp.AccountsLive++
		}
		resp.Accounts = append(resp.Accounts, row)
	}
	resp.AccountsTotal = len(resp.Accounts)
	return resp
}

func (s *Server) accountRow(a Account, now time.Time) portfolioAccount {
	row := portfolioAccount{
		AccountIndex: strconv.Itoa(a.Index),
		Name:         a.Name,
		Exchange:     "lighter",
		DataAge:      -1,
		Positions:    []model.Position{},
		ActiveOrders: []model.Order{},
		Trades:       []model.Trade{},
	}

	lk, ok := s.deps.Cache.Get(cache.AccountKey(a.Index))
	if !ok {
		// Never polled successfully; zeros with stale set.
		row.Stale = true
		return row
	}
	state, ok := lk.Value.(model.AccountState)
	if !ok {
		row.Stale = true
		return row
	}

	row.Equity = state.Collateral
	row.AvailableBalance = state.AvailableBalance
	row.UnrealizedPNL = state.UnrealizedPNL()
	row.MarginUsed = state.Collateral.Sub(state.AvailableBalance)
	if state.Collateral.IsPositive() {
		row.MarginRatio = row.MarginUsed.Div(state.Collateral).Round(4)
	}
	if len(state.Positions) > 0 {
		row.Positions = state.Positions
	}
	row.PositionCount = len(state.Positions)
	row.Stale = lk.Stale
	row.DataAge = roundAge(lk.Age)
	row.IsLive = lk.Age < s.cfg.LiveThreshold
	row.LastUpdate = unixSeconds(now.Add(-lk.Age))

	if orders := s.activeOrders(a.Index); len(orders) > 0 {
		row.ActiveOrders = orders
	}
	row.OrderCount = len(row.ActiveOrders)

	if book, ok := s.tradeBook(a.Index); ok {
		if trades := book.AllTrades(); len(trades) > 0 {
			row.Trades = trades
		}
		row.TradeCount = len(row.Trades)
		row.TotalVolume = book.Volumes.Total
		row.MonthlyVolume = book.Volumes.Monthly
		row.WeeklyVolume = book.Volumes.Weekly
		row.Volume24h = volume24h(book, now)
	}
	return row
}

// activeOrders prefers the WebSocket order feed and falls back to the
// REST snapshot when the feed is stale or absent.
func (s *Server) activeOrders(index int) []model.Order {
	if lk, ok := s.deps.Cache.Get(cache.WSOrdersKey(index)); ok && !lk.Stale {
		if orders, ok := lk.Value.([]model.Order); ok {
			return orders
		}
	}
	if lk, ok := s.deps.Cache.Get(cache.OrdersKey(index)); ok {
		if orders, ok := lk.Value.([]model.Order); ok {
			return orders
		}
	}
	return nil
}

func (s *Server) tradeBook(index int) (model.TradeBook, bool) {
	lk, ok := s.deps.Cache.Get(cache.WSTradesKey(index))
	if !ok {
		return model.TradeBook{}, false
	}
	book, ok := lk.Value.(model.TradeBook)
	return book, ok
}

// volume24h uses the venue's daily figure when the stream provides
// one, otherwise sums price*size over the trailing 24 hours.
func volume24h(book model.TradeBook, now time.Time) decimal.Decimal {
	if book.Volumes.Daily.Valid {
		return book.Volumes.Daily.Decimal
	}
	cutoff := now.Add(-24 * time.Hour).UnixMilli()
	total := decimal.Zero
	for _, trades := range book.Trades {
		for _, tr := range trades {
			if tr.Timestamp >= cutoff {
				total = total.Add(tr.Price.Mul(tr.Size))
			}
		}
	}
	return total
}
