package risk

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"marketmaker-core/internal/config"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxPositionUSD:      100,
		KillSwitchDropPct:   0.10, // 10%
		KillSwitchWindowSec: 60,
		MaxDailyLoss:        50,
		CooldownAfterKill:   5 * time.Minute,
	}
}

func testStrategyConfig() config.StrategyConfig {
	return config.StrategyConfig{
		StartupDelay: 5 * time.Second,
		UsageSafePct: 15,
	}
}

func newTestManager() *Manager {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewManager(testRiskConfig(), testStrategyConfig(), logger)
}

func TestNewManagerStartsInStarting(t *testing.T) {
	t.Parallel()
	rm := newTestManager()
	if rm.State() != StateStarting {
		t.Errorf("State() = %v, want StateStarting", rm.State())
	}
}

func TestProcessReportUnderLimitsStaysRunning(t *testing.T) {
	t.Parallel()
	rm := newTestManager()
	rm.state = StateRunning

	rm.processReport(PositionReport{
		ExposureUSD:   50,
		RealizedPnL:   0,
		UnrealizedPnL: 0,
		MidPrice:      0.50,
		Quality:       0.9,
		UsagePct:      5,
		Timestamp:     time.Now(),
	})

	if rm.State() != StateRunning {
		t.Errorf("State() = %v, want StateRunning", rm.State())
	}

	select {
	case sig := <-rm.killCh:
		t.Errorf("unexpected kill signal: %+v", sig)
	default:
	}
}

func TestProcessReportPositionBreachFiresKillSwitch(t *testing.T) {
	t.Parallel()
	rm := newTestManager()
	rm.state = StateRunning

	rm.processReport(PositionReport{
		ExposureUSD: 150, // exceeds 100 limit
		MidPrice:    0.50,
		Timestamp:   time.Now(),
	})

	if rm.State() != StateKillSwitch {
		t.Errorf("State() = %v, want StateKillSwitch", rm.State())
	}

	select {
	case sig := <-rm.killCh:
		if sig.Reason == "" {
			t.Error("expected a non-empty kill reason")
		}
	default:
		t.Error("expected kill signal on channel")
	}
}

func TestProcessReportDailyLossBreach(t *testing.T) {
	t.Parallel()
	rm := newTestManager()
	rm.state = StateRunning

	rm.processReport(PositionReport{
		ExposureUSD:   10,
		RealizedPnL:   -30,
		UnrealizedPnL: -25,
		MidPrice:      0.50,
		Timestamp:     time.Now(),
	})

	// total PnL = -30 + -25 = -55 < -50 threshold
	if rm.State() != StateKillSwitch {
		t.Errorf("State() = %v, want StateKillSwitch", rm.State())
	}
}

func TestCheckPriceMovementNormal(t *testing.T) {
	t.Parallel()
	rm := newTestManager()
	rm.state = StateRunning
	now := time.Now()

	rm.processReport(PositionReport{MidPrice: 0.50, Timestamp: now})
	rm.processReport(PositionReport{
		MidPrice:  0.52, // 4% move, below 10% threshold
		Timestamp: now.Add(10 * time.Second),
	})

	if rm.State() != StateRunning {
		t.Errorf("State() = %v, want StateRunning for a 4%% move", rm.State())
	}
}

func TestCheckPriceMovementSpikeFiresKillSwitch(t *testing.T) {
	t.Parallel()
	rm := newTestManager()
	rm.state = StateRunning
	now := time.Now()

	rm.processReport(PositionReport{MidPrice: 0.50, Timestamp: now})
	rm.processReport(PositionReport{
		MidPrice:  0.35, // 30% drop, exceeds 10% threshold
		Timestamp: now.Add(10 * time.Second),
	})

	if rm.State() != StateKillSwitch {
		t.Errorf("State() = %v, want StateKillSwitch for a 30%% spike", rm.State())
	}
}

func TestEvaluateDegradedOnLowQuality(t *testing.T) {
	t.Parallel()
	rm := newTestManager()
	rm.state = StateRunning

	rm.processReport(PositionReport{
		ExposureUSD: 10,
		MidPrice:    0.50,
		Quality:     0.2, // below 0.5 threshold
		UsagePct:    5,
		Timestamp:   time.Now(),
	})

	if rm.State() != StateDegraded {
		t.Errorf("State() = %v, want StateDegraded for low quality", rm.State())
	}
	if rm.CanQuote() {
		t.Error("CanQuote() should be false while degraded")
	}
}

func TestEvaluateDegradedOnHighUsageAndRecovery(t *testing.T) {
	t.Parallel()
	rm := newTestManager()
	rm.state = StateRunning

	rm.processReport(PositionReport{
		ExposureUSD: 10,
		MidPrice:    0.50,
		Quality:     0.9,
		UsagePct:    20, // above UsageSafePct=15
		Timestamp:   time.Now(),
	})
	if rm.State() != StateDegraded {
		t.Fatalf("State() = %v, want StateDegraded for high usage", rm.State())
	}

	rm.processReport(PositionReport{
		ExposureUSD: 10,
		MidPrice:    0.50,
		Quality:     0.9,
		UsagePct:    5,
		Timestamp:   time.Now(),
	})
	if rm.State() != StateRunning {
		t.Errorf("State() = %v, want StateRunning after recovery", rm.State())
	}
}

func TestWarmingTransitionsToRunningAfterStartupDelay(t *testing.T) {
	t.Parallel()
	rm := newTestManager()
	rm.strategy.StartupDelay = 10 * time.Millisecond

	rm.mu.Lock()
	rm.state = StateWarming
	rm.warmedAt = time.Now().Add(rm.strategy.StartupDelay)
	rm.mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	rm.tick()

	if rm.State() != StateRunning {
		t.Errorf("State() = %v, want StateRunning after warmup elapses", rm.State())
	}
}

func TestKillSwitchCooldownReturnsToRunning(t *testing.T) {
	t.Parallel()
	rm := newTestManager()
	rm.cfg.CooldownAfterKill = 10 * time.Millisecond
	rm.state = StateRunning

	rm.processReport(PositionReport{
		ExposureUSD: 200, // exceeds limit
		MidPrice:    0.50,
		Timestamp:   time.Now(),
	})
	if rm.State() != StateKillSwitch {
		t.Fatalf("State() = %v, want StateKillSwitch", rm.State())
	}

	time.Sleep(20 * time.Millisecond)
	rm.tick()

	if rm.State() != StateRunning {
		t.Errorf("State() = %v, want StateRunning after cooldown expires", rm.State())
	}
}

func TestCanQuoteOnlyWhenRunning(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	if rm.CanQuote() {
		t.Error("CanQuote() should be false in Starting state")
	}
	rm.state = StateRunning
	if !rm.CanQuote() {
		t.Error("CanQuote() should be true in Running state")
	}
}
