package exchange

import (
	"testing"

	"marketmaker-core/pkg/types"
)

func TestNormalizePrefersShortFieldNames(t *testing.T) {
	raw := map[string]interface{}{
		"i": "order-1",
		"s": "BTCUSDT",
		"S": "BUY",
		"X": "NEW",
		"l": "0",
		"z": "0",
		"p": "100.5",
		"E": float64(1000),
		"u": float64(5),
	}
	rep, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if rep.OrderID != "order-1" || rep.Side != types.Buy || rep.Status != types.StatusNew {
		t.Errorf("got %+v", rep)
	}
}

func TestNormalizeFallsBackToLongFieldNames(t *testing.T) {
	raw := map[string]interface{}{
		"orderId": "order-2",
		"symbol":  "BTCUSDT",
		"side":    "SELL",
		"status":  "FILLED",
		"lastQty": "1.5",
		"cumQty":  "1.5",
		"price":   "200",
		"ts":      float64(2000),
	}
	rep, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if rep.Side != types.Sell || rep.Status != types.StatusFilled {
		t.Errorf("got %+v", rep)
	}
}

func TestNormalizeMapsStatusAliases(t *testing.T) {
	tests := []struct {
		raw  string
		want types.OrderStatus
	}{
		{"PARTIAL_FILL", types.StatusPartiallyFilled},
		{"PARTIALLYFILLED", types.StatusPartiallyFilled},
		{"PENDING_NEW", types.StatusNew},
	}
	for _, tt := range tests {
		rep, err := Normalize(map[string]interface{}{
			"i": "o", "S": "BUY", "X": tt.raw,
		})
		if err != nil {
			t.Fatalf("Normalize(%q) error = %v", tt.raw, err)
		}
		if rep.Status != tt.want {
			t.Errorf("Normalize(%q) status = %v, want %v", tt.raw, rep.Status, tt.want)
		}
	}
}

func TestNormalizeRejectsUnknownStatus(t *testing.T) {
	_, err := Normalize(map[string]interface{}{"i": "o", "S": "BUY", "X": "BOGUS"})
	if err == nil {
		t.Error("expected an error for an unrecognized status")
	}
}

func TestNormalizeSynthesizesLastQuoteWhenZero(t *testing.T) {
	rep, err := Normalize(map[string]interface{}{
		"i": "o", "S": "BUY", "X": "FILLED",
		"l": "2", "p": "10", "Y": "0",
	})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	want := "20"
	if rep.LastQuote.String() != want {
		t.Errorf("LastQuote = %v, want %v", rep.LastQuote, want)
	}
}
