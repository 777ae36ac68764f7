// Package types defines the shared data model used across all packages.
//
// It has no dependency on any other internal package, so every layer of the
// engine — market data, toxicity, planner, governor, ledger, executor — can
// import it without creating cycles. Money fields are decimal.Decimal;
// float64 is reserved for dimensionless scores and ratios.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------
// Core enums
// -----------------------------------------------------------------------

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderStatus is the closed set of lifecycle states an exchange reports for
// an order. The normalizer rejects unknown raw strings with an error.
type OrderStatus string

const (
	StatusNew             OrderStatus = "New"
	StatusPartiallyFilled OrderStatus = "PartiallyFilled"
	StatusFilled          OrderStatus = "Filled"
	StatusCanceled        OrderStatus = "Canceled"
	StatusExpired         OrderStatus = "Expired"
	StatusRejected        OrderStatus = "Rejected"
	StatusPendingCancel   OrderStatus = "PendingCancel"
	StatusUnknown         OrderStatus = "Unknown"
)

// IsTerminal reports whether no further updates are expected for this status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusExpired, StatusRejected:
		return true
	default:
		return false
	}
}

// Layer is a quoting distance tier: L0 closest to mid, L2 furthest.
type Layer string

const (
	LayerL0 Layer = "L0"
	LayerL1 Layer = "L1"
	LayerL2 Layer = "L2"
)

// Source identifies which market-data path produced a MarketSnapshot.
type Source string

const (
	SourcePrimary   Source = "primary"
	SourceSecondary Source = "secondary"
	SourceFallback  Source = "fallback"
	SourceEmergency Source = "emergency"
)

// AdjustmentKind is the cross-response action taken after an own fill.
type AdjustmentKind string

const (
	AdjustNew     AdjustmentKind = "New"     // refill same layer, unchanged price
	AdjustReprice AdjustmentKind = "Reprice" // move one tick
	AdjustReplace AdjustmentKind = "Replace" // move two ticks, +20% size
)

// BudgetBucket names one of the three rate-limited message streams.
type BudgetBucket string

const (
	BucketFill    BudgetBucket = "fill"
	BucketReprice BudgetBucket = "reprice"
	BucketCancel  BudgetBucket = "cancel"
)

// -----------------------------------------------------------------------
// Market data
// -----------------------------------------------------------------------

// MarketSnapshot is an immutable, point-in-time view of the market, fused
// from whichever data path is freshest. mid is guaranteed > 0.
type MarketSnapshot struct {
	Symbol    string
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Mid       decimal.Decimal
	SpreadBps float64
	TsNs      int64
	Source    Source
	Quality   float64 // [0,1]
	IsStale   bool
}

// OrderBookTop is the best bid/ask of one data path, with its own age.
type OrderBookTop struct {
	Bid      decimal.Decimal
	Ask      decimal.Decimal
	UpdateNs int64
}

// Fresh reports whether the top was updated within maxAge of now (both ns).
func (t OrderBookTop) Fresh(nowNs int64, maxAgeNs int64) bool {
	if t.UpdateNs == 0 {
		return false
	}
	return nowNs-t.UpdateNs <= maxAgeNs
}

// TradeSample is one print from the trade tape, retained in a sliding
// window for VWAP fallback.
type TradeSample struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
	TsNs  int64
}

// -----------------------------------------------------------------------
// Execution reports and orders
// -----------------------------------------------------------------------

// ExecReport is the normalized execution report, independent of venue wire
// format. UpdateID is monotone per OrderID and drives idempotent ledger
// application.
type ExecReport struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          Side
	Status        OrderStatus
	LastQty       decimal.Decimal
	CumQty        decimal.Decimal
	LastQuote     decimal.Decimal
	CumQuote      decimal.Decimal
	Price         decimal.Decimal
	IsMaker       bool
	TsNs          int64
	UpdateID      uint64
}

// PlannedOrder is produced by the planner and consumed by the executor. It
// has no persistent identity — the executor assigns that on submit-ack.
type PlannedOrder struct {
	Side          Side
	Price         decimal.Decimal
	Qty           decimal.Decimal
	Layer         Layer
	TTL           time.Duration
	ClientOrderID string
	PostOnly      bool
}

// LiveOrder is an order the executor believes is resting on the book.
type LiveOrder struct {
	OrderID       string
	ClientOrderID string
	Side          Side
	Price         decimal.Decimal
	QtyOpen       decimal.Decimal
	Layer         Layer
	CreatedTsNs   int64
	TTL           time.Duration
}

// Expired reports whether the order has outlived its TTL as of nowNs.
func (o LiveOrder) Expired(nowNs int64) bool {
	if o.TTL <= 0 {
		return false
	}
	return nowNs-o.CreatedTsNs > o.TTL.Nanoseconds()
}

// -----------------------------------------------------------------------
// Inventory
// -----------------------------------------------------------------------

// InventoryState is the ledger's exclusively-owned view of position and
// cash. TargetWeight is the desired base-asset value share (0.5 by
// default — symmetric inventory).
type InventoryState struct {
	BaseQty      decimal.Decimal
	QuoteQty     decimal.Decimal
	BaseWeight   float64
	Imbalance    float64
	TargetWeight float64
}

// BalanceSnapshot is the immutable value the ledger publishes on every
// append; readers never block the writer.
type BalanceSnapshot struct {
	Seq        uint64
	Base       decimal.Decimal
	Quote      decimal.Decimal
	EventCount uint64
	TsNs       int64
}

// -----------------------------------------------------------------------
// Append-only event stream
// -----------------------------------------------------------------------

// ExecutionEvent is immutable once appended to the ledger.
type ExecutionEvent struct {
	Seq        uint64
	Report     ExecReport
	Hash       [16]byte // 128-bit content hash, see ledger.ContentHash
	AppliedTsNs int64
}

// -----------------------------------------------------------------------
// Budgets and filters
// -----------------------------------------------------------------------

// Budgets is the governor's output consumed by the rate limiter and the
// executor's admission control.
type Budgets struct {
	Fill10s        int
	Reprice10s     int
	Cancel10s      int
	BurstFill      int
	BurstReprice   int
	BurstCancel    int
	TTLScale       float64
	Fill10sBuy     int
	Fill10sSell    int
	Alpha          float64 // [0.35, 0.65] side-split factor
}

// SymbolFilters are the venue-declared quantization limits for one symbol.
type SymbolFilters struct {
	TickSize    decimal.Decimal
	StepSize    decimal.Decimal
	MinQty      decimal.Decimal
	MaxQty      decimal.Decimal
	MinNotional decimal.Decimal
	MinPrice    decimal.Decimal
	MaxPrice    decimal.Decimal
}
