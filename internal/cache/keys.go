package cache

import "strconv"

// Key scheme: one entry per account and resource kind. REST-fed state
// lives under account:/orders:, WebSocket-fed resources under ws_*.
const (
	PrefixAccount     = "account:"
	PrefixOrders      = "orders:"
	PrefixWSPositions = "ws_positions:"
	PrefixWSOrders    = "ws_orders:"
	PrefixWSTrades    = "ws_trades:"
	PrefixErrors      = "errors:"

	ErrorsSummaryKey = "errors:summary"
)

// AccountKey is the REST account-state entry for an account index.
func AccountKey(index int) string { return PrefixAccount + strconv.Itoa(index) }

// OrdersKey is the REST active-orders entry for an account index.
func OrdersKey(index int) string { return PrefixOrders + strconv.Itoa(index) }

// WSPositionsKey is the WebSocket positions entry for an account index.
func WSPositionsKey(index int) string { return PrefixWSPositions + strconv.Itoa(index) }

// WSOrdersKey is the WebSocket orders entry for an account index.
func WSOrdersKey(index int) string { return PrefixWSOrders + strconv.Itoa(index) }

// WSTradesKey is the WebSocket trades entry for an account index.
func WSTradesKey(index int) string { return PrefixWSTrades + strconv.Itoa(index) }
