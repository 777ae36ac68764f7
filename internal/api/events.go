package api

import (
	"time"

	"marketmaker-core/pkg/types"
)

// DashboardEvent is the wrapper for all events sent to the dashboard.
type DashboardEvent struct {
	Type      string      `json:"type"` // "snapshot", "fill", "order", "kill"
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// FillEvent reports a trade fill and the resulting execution report.
type FillEvent struct {
	OrderID string  `json:"order_id"`
	Side    string  `json:"side"`
	Price   string  `json:"price"`
	LastQty string  `json:"last_qty"`
	CumQty  string  `json:"cum_qty"`
	IsMaker bool    `json:"is_maker"`
	Status  string  `json:"status"`
}

// OrderEvent reports a create/cancel/replace lifecycle transition.
type OrderEvent struct {
	Kind    string `json:"kind"` // "create", "cancel", "replace"
	OrderID string `json:"order_id"`
	Side    string `json:"side"`
	Price   string `json:"price"`
	Qty     string `json:"qty"`
	Layer   string `json:"layer"`
}

// KillEvent is emitted when the kill switch activates.
type KillEvent struct {
	Reason string    `json:"reason"`
	Until  time.Time `json:"until"`
}

// NewFillEvent wraps an execution report as a dashboard fill event.
func NewFillEvent(report types.ExecReport) DashboardEvent {
	return DashboardEvent{
		Type:      "fill",
		Timestamp: time.Now(),
		Data: FillEvent{
			OrderID: report.OrderID,
			Side:    string(report.Side),
			Price:   report.Price.String(),
			LastQty: report.LastQty.String(),
			CumQty:  report.CumQty.String(),
			IsMaker: report.IsMaker,
			Status:  string(report.Status),
		},
	}
}

// NewOrderEvent wraps a live order lifecycle transition.
func NewOrderEvent(kind string, order types.LiveOrder) DashboardEvent {
	return DashboardEvent{
		Type:      "order",
		Timestamp: time.Now(),
		Data: OrderEvent{
			Kind:    kind,
			OrderID: order.OrderID,
			Side:    string(order.Side),
			Price:   order.Price.String(),
			Qty:     order.QtyOpen.String(),
			Layer:   string(order.Layer),
		},
	}
}

// NewKillEvent wraps a kill-switch activation.
func NewKillEvent(reason string, until time.Time) DashboardEvent {
	return DashboardEvent{
		Type:      "kill",
		Timestamp: time.Now(),
		Data: KillEvent{
			Reason: reason,
			Until:  until,
		},
	}
}
