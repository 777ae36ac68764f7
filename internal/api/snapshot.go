package api

import (
	"time"

	"marketmaker-core/internal/config"
	"marketmaker-core/internal/risk"
)

// MarketSnapshotProvider is implemented by the engine to expose a
// point-in-time view for the dashboard, without the api package importing
// the engine package back (it only needs risk.Manager, which is already
// shared between both).
type MarketSnapshotProvider interface {
	GetMarketStatus() MarketStatus
	GetRiskManager() *risk.Manager
}

// BuildSnapshot aggregates state from the engine and risk manager into a
// single dashboard snapshot.
func BuildSnapshot(provider MarketSnapshotProvider, cfg config.Config) DashboardSnapshot {
	riskSnap := provider.GetRiskManager().GetSnapshot()

	return DashboardSnapshot{
		Timestamp: time.Now(),
		Symbol:    cfg.Strategy.Symbol,
		Market:    provider.GetMarketStatus(),
		Risk:      convertRiskSnapshot(riskSnap),
		Config:    NewConfigSummary(cfg),
	}
}

func convertRiskSnapshot(snap risk.Snapshot) RiskSnapshot {
	return RiskSnapshot{
		State:            snap.State,
		ExposureUSD:      snap.ExposureUSD,
		MaxPositionUSD:   snap.MaxPositionUSD,
		TotalRealizedPnL: snap.TotalRealizedPnL,
		MaxDailyLoss:     snap.MaxDailyLoss,
		KillSwitchUntil:  snap.KillSwitchUntil,
	}
}
