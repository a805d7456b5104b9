package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"lighter-broadcaster/internal/model"
)

// Errors
var (
	ErrInvalidJSON = errors.New("invalid json")
	ErrNoAccount   = errors.New("no account in payload")
)

// Account parses the venue's account endpoint response. Both the
// {"accounts":[{...}]} wrapper and a bare account object are accepted.
func Account(raw []byte) (model.AccountState, error) {
	if !gjson.ValidBytes(raw) {
		return model.AccountState{}, fmt.Errorf("account payload: %w", ErrInvalidJSON)
	}
	root := gjson.ParseBytes(raw)

	acct := root.Get("accounts.0")
	if !acct.Exists() {
		if root.Get("collateral").Exists() || root.Get("account_index").Exists() {
			acct = root
		} else {
			return model.AccountState{}, ErrNoAccount
		}
	}

	state := model.AccountState{
		AccountIndex:     int(firstInt(acct, "account_index", "index")),
		Collateral:       firstDecimal(acct, "collateral", "total_asset_value"),
		AvailableBalance: firstDecimal(acct, "available_balance", "available"),
		UpdatedAt:        time.Now(),
	}
	for _, p := range acct.Get("positions").Array() {
		state.Positions = append(state.Positions, Position(p))
	}
	return state, nil
}

// Position parses one position object.
func Position(r gjson.Result) model.Position {
	size := firstDecimal(r, "position", "signed_size", "size")
	side := "long"
	if sign := r.Get("sign"); sign.Exists() && sign.Int() < 0 {
		side = "short"
	} else if size.IsNegative() {
		side = "short"
	}

	return model.Position{
		MarketID:         firstInt(r, "market_id", "market_index"),
		Symbol:           firstString(r, "symbol", "market_name", "market"),
		Side:             side,
		Size:             size.Abs(),
		EntryPrice:       firstDecimal(r, "avg_entry_price", "entry_price"),
		MarkPrice:        firstDecimal(r, "mark_price", "market_price"),
		PositionValue:    firstDecimal(r, "position_value", "value"),
		UnrealizedPNL:    firstDecimal(r, "unrealized_pnl"),
		RealizedPNL:      firstDecimal(r, "realized_pnl"),
		LiquidationPrice: firstDecimal(r, "liquidation_price"),
	}
}

// Orders parses the active-orders endpoint response: either an
// {"orders":[...]} wrapper or a bare list.
func Orders(raw []byte) ([]model.Order, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("orders payload: %w", ErrInvalidJSON)
	}
	root := gjson.ParseBytes(raw)

	list := root.Get("orders")
	if !list.Exists() && root.IsArray() {
		list = root
	}

	var out []model.Order
	for _, r := range list.Array() {
		out = append(out, Order(r))
	}
	return out, nil
}

// Order parses one order object.
func Order(r gjson.Result) model.Order {
	side := firstString(r, "side")
	if side == "" {
		if r.Get("is_ask").Bool() {
			side = "sell"
		} else {
			side = "buy"
		}
	}

	var updated time.Time
	if ms := firstInt(r, "updated_at", "timestamp"); ms > 0 {
		updated = time.UnixMilli(ms)
	}

	return model.Order{
		OrderID:   orderID(r),
		MarketID:  firstInt(r, "market_id", "market_index"),
		Symbol:    firstString(r, "symbol", "market_name", "market"),
		Side:      side,
		Type:      firstString(r, "type", "order_type"),
		Price:     firstDecimal(r, "price"),
		Size:      firstDecimal(r, "initial_base_amount", "size", "amount"),
		Filled:    firstDecimal(r, "filled_base_amount", "filled"),
		Status:    firstString(r, "status"),
		UpdatedAt: updated,
	}
}

// Trade parses one trade object.
func Trade(r gjson.Result) model.Trade {
	return model.Trade{
		TradeID:   firstString(r, "trade_id", "id", "tx_hash"),
		MarketID:  firstInt(r, "market_id", "market_index"),
		Symbol:    firstString(r, "symbol", "market_name", "market"),
		Side:      firstString(r, "side", "taker_side"),
		Price:     firstDecimal(r, "price"),
		Size:      firstDecimal(r, "size", "amount", "base_amount"),
		Fee:       firstDecimal(r, "fee", "taker_fee"),
		Timestamp: firstInt(r, "timestamp", "executed_at", "ts"),
	}
}

func orderID(r gjson.Result) string {
	for _, name := range []string{"order_id", "id", "order_index"} {
		v := r.Get(name)
		if !v.Exists() {
			continue
		}
		if v.Type == gjson.String {
			return v.String()
		}
		return strconv.FormatInt(v.Int(), 10)
	}
	return ""
}

// firstDecimal returns the first present field parsed as a decimal.
// String and numeric encodings are both accepted; absent or unparsable
// fields yield zero.
func firstDecimal(r gjson.Result, names ...string) decimal.Decimal {
	for _, name := range names {
		v := r.Get(name)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			continue
		}
		return d
	}
	return decimal.Zero
}

// firstNullDecimal is firstDecimal with absence preserved.
func firstNullDecimal(r gjson.Result, names ...string) decimal.NullDecimal {
	for _, name := range names {
		v := r.Get(name)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			continue
		}
		return decimal.NullDecimal{Decimal: d, Valid: true}
	}
	return decimal.NullDecimal{}
}

func firstString(r gjson.Result, names ...string) string {
	for _, name := range names {
		if v := r.Get(name); v.Exists() && v.Type == gjson.String {
			return v.String()
		}
	}
	return ""
}

func firstInt(r gjson.Result, names ...string) int64 {
	for _, name := range names {
		if v := r.Get(name); v.Exists() && v.Type != gjson.Null {
			return v.Int()
		}
	}
	return 0
}
