// Package risk owns the engine's lifecycle state machine and kill-switch
// trigger evaluation for a single symbol's deployment.
//
// The manager runs as a standalone goroutine that receives PositionReports
// from the orchestrator every decision cycle and checks them against
// configured limits:
//
//   - Position exposure:    caps USD exposure in the configured symbol
//   - Daily loss:           triggers kill switch if realized+unrealized PnL exceeds threshold
//   - Rapid price movement: triggers kill switch if mid-price moves more than
//     KillSwitchDropPct within KillSwitchWindowSec seconds
//
// Alongside limit checks, the manager tracks the engine's lifecycle state:
// Starting -> Warming (no trading, for StartupDelay) -> Running ->
// Degraded (data quality below threshold or budget usage above the safe
// line) -> KillSwitch (cancel-all). When a limit is breached, the manager
// emits a KillSignal on KillCh(); the orchestrator reads this and cancels
// all open orders. After a kill, the kill switch stays active for
// CooldownAfterKill, during which the engine skips quoting.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"marketmaker-core/internal/config"
)

// EngineState is a stage in the engine's lifecycle state machine.
type EngineState int

const (
	StateStarting EngineState = iota
	StateWarming
	StateRunning
	StateDegraded
	StateKillSwitch
)

func (s EngineState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateWarming:
		return "warming"
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	case StateKillSwitch:
		return "kill_switch"
	default:
		return "unknown"
	}
}

// PositionReport is sent by the orchestrator every decision cycle. It
// carries the current inventory state, PnL, and data-quality signal needed
// for risk evaluation and Degraded-state detection.
type PositionReport struct {
	MidPrice      float64 // current mid price (used for price-movement detection)
	ExposureUSD   float64 // position value in USD
	UnrealizedPnL float64 // mark-to-market PnL
	RealizedPnL   float64 // locked-in PnL from closed trades
	UsagePct      float64 // rate-limit budget usage, in percent
	Quality       float64 // fused data-quality/regime score in [0,1]
	Timestamp     time.Time
}

// KillSignal tells the orchestrator to cancel all open orders.
type KillSignal struct {
	Reason string
}

// priceAnchor stores a reference price at a point in time for detecting
// rapid price movements within a rolling window.
type priceAnchor struct {
	price     float64
	timestamp time.Time
}

// Manager owns the lifecycle state machine and evaluates kill-switch
// triggers for one symbol.
type Manager struct {
	cfg      config.RiskConfig
	strategy config.StrategyConfig
	logger   *slog.Logger

	mu               sync.RWMutex
	state            EngineState
	warmedAt         time.Time
	lastReport       PositionReport
	totalRealizedPnL float64
	killSwitchUntil  time.Time
	anchor           priceAnchor

	reportCh chan PositionReport // orchestrator writes here
	killCh   chan KillSignal     // orchestrator reads kill signals from here
}

// NewManager creates a risk manager in the Starting state.
func NewManager(cfg config.RiskConfig, strategy config.StrategyConfig, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		strategy: strategy,
		logger:   logger.With("component", "risk"),
		state:    StateStarting,
		reportCh: make(chan PositionReport, 100),
		killCh:   make(chan KillSignal, 10),
	}
}

// Run starts the warmup timer and the monitoring loop. Transitions
// Starting -> Warming immediately, then Warming -> Running after
// strategy.StartupDelay has elapsed with no breach.
func (rm *Manager) Run(ctx context.Context) {
	rm.mu.Lock()
	rm.state = StateWarming
	rm.warmedAt = time.Now().Add(rm.strategy.StartupDelay)
	rm.mu.Unlock()
	rm.logger.Info("engine warming", "duration", rm.strategy.StartupDelay)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case report := <-rm.reportCh:
			rm.processReport(report)
		case <-ticker.C:
			rm.tick()
		}
	}
}

// Report submits a position report (non-blocking).
func (rm *Manager) Report(report PositionReport) {
	select {
	case rm.reportCh <- report:
	default:
		rm.logger.Warn("risk report channel full, dropping report")
	}
}

// KillCh returns the channel for reading kill signals.
func (rm *Manager) KillCh() <-chan KillSignal {
	return rm.killCh
}

// State returns the current lifecycle state.
func (rm *Manager) State() EngineState {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.state
}

// CanQuote reports whether the engine is in a state that permits placing
// new orders. Warming, Degraded, and KillSwitch all withhold new quotes;
// Degraded's existing inventory may still be unwound by the orchestrator.
func (rm *Manager) CanQuote() bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.state == StateRunning
}

func (rm *Manager) tick() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	switch rm.state {
	case StateWarming:
		if time.Now().After(rm.warmedAt) {
			rm.state = StateRunning
			rm.logger.Info("engine warmup complete, running")
		}
	case StateKillSwitch:
		if time.Now().After(rm.killSwitchUntil) {
			rm.state = StateRunning
			rm.logger.Info("kill switch cooldown expired, running")
		}
	}
}

func (rm *Manager) processReport(report PositionReport) {
	rm.mu.Lock()
	rm.lastReport = report
	rm.totalRealizedPnL = report.RealizedPnL
	state := rm.state
	rm.mu.Unlock()

	if state == StateKillSwitch {
		return
	}

	if report.ExposureUSD > rm.cfg.MaxPositionUSD {
		rm.emitKill(fmt.Sprintf("position limit breached: %.2f > %.2f", report.ExposureUSD, rm.cfg.MaxPositionUSD))
		return
	}

	totalPnL := report.RealizedPnL + report.UnrealizedPnL
	if totalPnL < -rm.cfg.MaxDailyLoss {
		rm.emitKill(fmt.Sprintf("max daily loss breached: %.2f", totalPnL))
		return
	}

	if rm.checkPriceMovement(report) {
		return
	}

	rm.evaluateDegraded(report)
}

// checkPriceMovement detects rapid price swings using a rolling anchor. On
// each report, it compares mid-price to the anchor set at the start of the
// window. If the anchor is older than KillSwitchWindowSec, it resets. If
// price moved more than KillSwitchDropPct from anchor, kill switch fires.
// Returns true if a kill was emitted.
func (rm *Manager) checkPriceMovement(report PositionReport) bool {
	rm.mu.Lock()
	window := time.Duration(rm.cfg.KillSwitchWindowSec) * time.Second
	anchor := rm.anchor
	if anchor.timestamp.IsZero() || report.Timestamp.Sub(anchor.timestamp) > window {
		rm.anchor = priceAnchor{price: report.MidPrice, timestamp: report.Timestamp}
		rm.mu.Unlock()
		return false
	}
	rm.mu.Unlock()

	if anchor.price == 0 {
		return false
	}

	pctChange := (report.MidPrice - anchor.price) / anchor.price
	if pctChange < 0 {
		pctChange = -pctChange
	}

	if pctChange > rm.cfg.KillSwitchDropPct {
		rm.emitKill(fmt.Sprintf("rapid price movement: %.1f%% in %ds", pctChange*100, rm.cfg.KillSwitchWindowSec))
		return true
	}
	return false
}

// evaluateDegraded transitions Running <-> Degraded based on data quality
// and budget usage, per the engine state machine: Degraded when
// quality < 0.5 or usage > UsageSafePct; Running otherwise.
func (rm *Manager) evaluateDegraded(report PositionReport) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	degraded := report.Quality < 0.5 || report.UsagePct > rm.strategy.UsageSafePct

	switch rm.state {
	case StateRunning:
		if degraded {
			rm.state = StateDegraded
			rm.logger.Warn("engine degraded", "quality", report.Quality, "usage_pct", report.UsagePct)
		}
	case StateDegraded:
		if !degraded {
			rm.state = StateRunning
			rm.logger.Info("engine recovered from degraded")
		}
	}
}

// emitKill activates the kill switch, starts the cooldown timer, and sends
// a KillSignal to the orchestrator. If the kill channel is full, it drains
// the stale signal first to ensure the latest kill reason is always
// delivered.
func (rm *Manager) emitKill(reason string) {
	rm.mu.Lock()
	rm.state = StateKillSwitch
	rm.killSwitchUntil = time.Now().Add(rm.cfg.CooldownAfterKill)
	until := rm.killSwitchUntil
	rm.mu.Unlock()

	rm.logger.Error("KILL SWITCH", "reason", reason, "cooldown_until", until)

	sig := KillSignal{Reason: reason}
	select {
	case rm.killCh <- sig:
	default:
		select {
		case <-rm.killCh:
		default:
		}
		rm.killCh <- sig
	}
}

// Snapshot reports current risk metrics for the status endpoint.
type Snapshot struct {
	State             string
	ExposureUSD       float64
	MaxPositionUSD    float64
	TotalRealizedPnL  float64
	MaxDailyLoss      float64
	KillSwitchUntil   time.Time
}

// GetSnapshot returns current aggregate risk metrics.
func (rm *Manager) GetSnapshot() Snapshot {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	return Snapshot{
		State:            rm.state.String(),
		ExposureUSD:      rm.lastReport.ExposureUSD,
		MaxPositionUSD:   rm.cfg.MaxPositionUSD,
		TotalRealizedPnL: rm.totalRealizedPnL,
		MaxDailyLoss:     rm.cfg.MaxDailyLoss,
		KillSwitchUntil:  rm.killSwitchUntil,
	}
}
