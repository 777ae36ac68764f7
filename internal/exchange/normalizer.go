package exchange

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"marketmaker-core/pkg/types"
)

// statusAlias maps venue-specific status spellings to the closed
// OrderStatus set. Normalize rejects any raw string missing from this
// table with an error.
var statusAlias = map[string]types.OrderStatus{
	"NEW":              types.StatusNew,
	"PENDING_NEW":      types.StatusNew,
	"PARTIALLY_FILLED": types.StatusPartiallyFilled,
	"PARTIAL_FILL":      types.StatusPartiallyFilled,
	"PARTIALLYFILLED":   types.StatusPartiallyFilled,
	"FILLED":            types.StatusFilled,
	"CANCELED":          types.StatusCanceled,
	"CANCELLED":         types.StatusCanceled,
	"EXPIRED":           types.StatusExpired,
	"REJECTED":          types.StatusRejected,
	"PENDING_CANCEL":    types.StatusPendingCancel,
}

// Normalize converts a raw, venue-shaped execution-report map into the
// internal ExecReport. It tries each field-source alias in order and takes
// the first non-empty value. An unrecognized status rejects the event.
func Normalize(raw map[string]interface{}) (types.ExecReport, error) {
	orderID := firstString(raw, "i", "orderId", "order_id")
	symbol := firstString(raw, "s", "symbol")
	sideRaw := firstString(raw, "S", "side")
	statusRaw := firstString(raw, "X", "orderStatus", "status")

	status, ok := statusAlias[strings.ToUpper(statusRaw)]
	if !ok {
		return types.ExecReport{}, fmt.Errorf("normalize exec report: unknown status %q", statusRaw)
	}

	side := types.Side(strings.ToUpper(sideRaw))
	if side != types.Buy && side != types.Sell {
		return types.ExecReport{}, fmt.Errorf("normalize exec report: unknown side %q", sideRaw)
	}

	lastQty := firstDecimal(raw, "l", "lastQty")
	cumQty := firstDecimal(raw, "z", "cumQty")
	lastQuote := firstDecimal(raw, "Y", "lastQuote")
	cumQuote := firstDecimal(raw, "Z", "cumQuote")
	price := firstDecimal(raw, "p", "L", "price")
	tsNs := firstInt(raw, "E", "T", "ts")
	updateID := uint64(firstInt(raw, "u", "update_id"))
	isMaker := firstBool(raw, "m", "is_maker")

	if lastQuote.IsZero() && lastQty.IsPositive() && price.IsPositive() {
		lastQuote = lastQty.Mul(price)
	}

	return types.ExecReport{
		OrderID:       orderID,
		ClientOrderID: firstString(raw, "c", "clientOrderId", "client_order_id"),
		Symbol:        symbol,
		Side:          side,
		Status:        status,
		LastQty:       lastQty,
		CumQty:        cumQty,
		LastQuote:     lastQuote,
		CumQuote:      cumQuote,
		Price:         price,
		IsMaker:       isMaker,
		TsNs:          tsNs,
		UpdateID:      updateID,
	}, nil
}

func firstString(raw map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		switch s := v.(type) {
		case string:
			if s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(s, 'f', -1, 64)
		}
	}
	return ""
}

func firstDecimal(raw map[string]interface{}, keys ...string) decimal.Decimal {
	s := firstString(raw, keys...)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func firstInt(raw map[string]interface{}, keys ...string) int64 {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			return int64(n)
		case string:
			if i, err := strconv.ParseInt(n, 10, 64); err == nil {
				return i
			}
		}
	}
	return 0
}

func firstBool(raw map[string]interface{}, keys ...string) bool {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		switch b := v.(type) {
		case bool:
			return b
		case string:
			return b == "true" || b == "True" || b == "1"
		}
	}
	return false
}
