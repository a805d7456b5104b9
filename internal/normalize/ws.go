package normalize

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"lighter-broadcaster/internal/model"
)

// Kind classifies an account-stream channel.
type Kind string

const (
	KindPositions Kind = "positions"
	KindOrders    Kind = "orders"
	KindTrades    Kind = "trades"
)

// Message is the envelope of one frame from the account stream.
type Message struct {
	Type    string
	Channel string
}

// ParseMessage extracts the frame envelope. Unknown frames come back
// with an empty type and are ignored upstream.
func ParseMessage(raw []byte) Message {
	root := gjson.ParseBytes(raw)
	return Message{
		Type:    root.Get("type").String(),
		Channel: root.Get("channel").String(),
	}
}

// ParseChannel splits a channel string such as
// "account_all_positions/3" or "account_all_orders:3" into its kind and
// account index. The index is -1 when the channel carries none.
func ParseChannel(ch string) (Kind, int, bool) {
	parts := strings.Split(strings.ReplaceAll(ch, ":", "/"), "/")
	name := parts[0]

	index := -1
	if len(parts) > 1 {
		if n, err := strconv.Atoi(parts[1]); err == nil {
			index = n
		}
	}

	switch name {
	case "account_all_positions":
		return KindPositions, index, true
	case "account_all_orders":
		return KindOrders, index, true
	case "account_all_trades":
		return KindTrades, index, true
	}
	return "", index, false
}

// WSPositions parses a positions update. The payload arrives either as
// a market-keyed map or as a flat list.
func WSPositions(raw []byte) ([]model.Position, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("positions update: %w", ErrInvalidJSON)
	}

	var out []model.Position
	collect := func(key string, r gjson.Result) {
		p := Position(r)
		if p.MarketID == 0 && key != "" {
			if id, err := strconv.ParseInt(key, 10, 64); err == nil {
				p.MarketID = id
			}
		}
		out = append(out, p)
	}

	data := gjson.GetBytes(raw, "positions")
	if data.IsArray() {
		for _, r := range data.Array() {
			collect("", r)
		}
	} else {
		data.ForEach(func(key, r gjson.Result) bool {
			collect(key.String(), r)
			return true
		})
	}
	return out, nil
}

// WSOrders parses an orders update. The payload arrives either as a
// market-keyed map of lists or as a flat list.
func WSOrders(raw []byte) ([]model.Order, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("orders update: %w", ErrInvalidJSON)
	}

	var out []model.Order
	data := gjson.GetBytes(raw, "orders")
	if data.IsArray() {
		for _, r := range data.Array() {
			out = append(out, Order(r))
		}
		return out, nil
	}

	data.ForEach(func(key, list gjson.Result) bool {
		for _, r := range list.Array() {
			o := Order(r)
			if o.MarketID == 0 {
				if id, err := strconv.ParseInt(key.String(), 10, 64); err == nil {
					o.MarketID = id
				}
			}
			out = append(out, o)
		}
		return true
	})
	return out, nil
}

// WSTrades parses a trades update into market-keyed trade lists plus
// whatever rolling volume figures the frame carries.
func WSTrades(raw []byte) (map[string][]model.Trade, model.Volumes, error) {
	if !gjson.ValidBytes(raw) {
		return nil, model.Volumes{}, fmt.Errorf("trades update: %w", ErrInvalidJSON)
	}
	root := gjson.ParseBytes(raw)

	byMarket := make(map[string][]model.Trade)
	add := func(key string, r gjson.Result) {
		tr := Trade(r)
		if key == "" {
			key = strconv.FormatInt(tr.MarketID, 10)
		} else if tr.MarketID == 0 {
			if id, err := strconv.ParseInt(key, 10, 64); err == nil {
				tr.MarketID = id
			}
		}
		byMarket[key] = append(byMarket[key], tr)
	}

	data := root.Get("trades")
	if data.IsArray() {
		for _, r := range data.Array() {
			add("", r)
		}
	} else {
		data.ForEach(func(key, list gjson.Result) bool {
			for _, r := range list.Array() {
				add(key.String(), r)
			}
			return true
		})
	}

	vols := model.Volumes{
		Total:   firstNullDecimal(root, "total_volume", "stats.total_volume"),
		Monthly: firstNullDecimal(root, "monthly_volume", "stats.monthly_volume"),
		Weekly:  firstNullDecimal(root, "weekly_volume", "stats.weekly_volume"),
		Daily:   firstNullDecimal(root, "daily_volume", "stats.daily_volume"),
	}
	return byMarket, vols, nil
}
