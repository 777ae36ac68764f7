package api

import (
	"time"

	"marketmaker-core/internal/config"
)

// DashboardSnapshot is the full state served by GET /api/snapshot and sent
// as the first message on every new WebSocket connection.
type DashboardSnapshot struct {
	Timestamp time.Time     `json:"timestamp"`
	Symbol    string        `json:"symbol"`
	Market    MarketStatus  `json:"market"`
	Risk      RiskSnapshot  `json:"risk"`
	Config    ConfigSummary `json:"config"`
}

// MarketStatus is the engine's current view of its one symbol: fused
// market data, regime signals, inventory, and budget usage.
type MarketStatus struct {
	Bid       string  `json:"bid"`
	Ask       string  `json:"ask"`
	Mid       string  `json:"mid"`
	SpreadBps float64 `json:"spread_bps"`
	Source    string  `json:"source"`
	Quality   float64 `json:"quality"`
	IsStale   bool    `json:"is_stale"`

	ToxicityScore float64 `json:"toxicity_score"`
	DefenseMode   bool    `json:"defense_mode"`

	Inventory  InventorySnapshot `json:"inventory"`
	Budgets    BudgetSnapshot    `json:"budgets"`
	OpenOrders int               `json:"open_orders"`
}

// InventorySnapshot mirrors types.InventoryState for dashboard consumption.
type InventorySnapshot struct {
	BaseQty    string  `json:"base_qty"`
	QuoteQty   string  `json:"quote_qty"`
	BaseWeight float64 `json:"base_weight"`
	Imbalance  float64 `json:"imbalance"`
}

// BudgetSnapshot reports the governor's current rate-limit budgets and the
// limiter's trailing 10s usage against them.
type BudgetSnapshot struct {
	Fill10s         int     `json:"fill_10s"`
	Reprice10s      int     `json:"reprice_10s"`
	Cancel10s       int     `json:"cancel_10s"`
	FillUsagePct    float64 `json:"fill_usage_pct"`
	RepriceUsagePct float64 `json:"reprice_usage_pct"`
	CancelUsagePct  float64 `json:"cancel_usage_pct"`
}

// RiskSnapshot mirrors risk.Snapshot for JSON/WS consumption.
type RiskSnapshot struct {
	State            string    `json:"state"`
	ExposureUSD      float64   `json:"exposure_usd"`
	MaxPositionUSD   float64   `json:"max_position_usd"`
	TotalRealizedPnL float64   `json:"total_realized_pnl"`
	MaxDailyLoss     float64   `json:"max_daily_loss"`
	KillSwitchUntil  time.Time `json:"kill_switch_until"`
}

// ConfigSummary surfaces the non-sensitive subset of the running config.
// Wallet keys and API secrets are deliberately excluded.
type ConfigSummary struct {
	Symbol        string  `json:"symbol"`
	DryRun        bool    `json:"dry_run"`
	TargetEquity  float64 `json:"target_equity"`
	BaseSpreadBp  float64 `json:"base_spread_bp"`
	MinSpreadBp   float64 `json:"min_spread_bp"`
	MaxTotalSlots int     `json:"max_total_slots"`
}

// NewConfigSummary extracts the dashboard-safe config fields.
func NewConfigSummary(cfg config.Config) ConfigSummary {
	return ConfigSummary{
		Symbol:        cfg.Strategy.Symbol,
		DryRun:        cfg.DryRun,
		TargetEquity:  cfg.Strategy.TargetEquity,
		BaseSpreadBp:  cfg.Strategy.BaseSpreadBp,
		MinSpreadBp:   cfg.Strategy.MinSpreadBp,
		MaxTotalSlots: cfg.Strategy.MaxTotalSlots,
	}
}
