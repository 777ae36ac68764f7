// Package engine is the central orchestrator of the market-making bot.
//
// A deployment instance targets exactly one symbol end to end:
//
//  1. Two WebSocket feeds — a public market feed (book/price_change on the
//     token) and an authenticated user feed (trade/order on the account) —
//     dispatch events into the fusion/toxicity/ledger pipeline.
//  2. marketdata.Feed fuses the dual-path book into one quality-scored mid;
//     toxicity.Filter and depth.Controller score the regime and adapt the
//     per-layer slot allocation.
//  3. spread.Optimizer and inventory.Tracker produce the Avellaneda-Stoikov
//     reservation price and per-side size multipliers every decision tick.
//  4. governor.Governor turns rolling message counts and rate-limiter usage
//     into the next budget window; ratelimit.Limiter enforces it per stream.
//  5. planner.Plan builds the ladder, quantize sanitizes it against venue
//     filters, and executor.Executor micro-batches the outbound ops.
//  6. ledger.Ledger applies every execution report as it arrives, and
//     crossresponse.Responder fires an opposite-side adjustment within the
//     fill handler itself, ahead of the next regular tick.
//  7. risk.Manager watches every tick's PositionReport and can force a
//     cancel-all via its kill channel; store.Store checkpoints the ledger
//     head, live-order table and governor state so a restart resumes in
//     place instead of re-deriving everything from scratch.
//
// Lifecycle: New() -> Start() -> [runs until Stop()].
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"marketmaker-core/internal/api"
	"marketmaker-core/internal/config"
	"marketmaker-core/internal/crossresponse"
	"marketmaker-core/internal/depth"
	"marketmaker-core/internal/executor"
	"marketmaker-core/internal/exchange"
	"marketmaker-core/internal/governor"
	"marketmaker-core/internal/inventory"
	"marketmaker-core/internal/ledger"
	"marketmaker-core/internal/marketdata"
	"marketmaker-core/internal/planner"
	"marketmaker-core/internal/quantize"
	"marketmaker-core/internal/ratelimit"
	"marketmaker-core/internal/risk"
	"marketmaker-core/internal/spread"
	"marketmaker-core/internal/store"
	"marketmaker-core/internal/toxicity"
	"marketmaker-core/pkg/types"
)

const (
	decisionTickInterval = 1 * time.Second
	flushTickInterval    = 35 * time.Millisecond
	ttlSweepFallback     = 250 * time.Millisecond
	checkpointInterval   = 15 * time.Second

	onBookHistoryWindow = 15 * time.Second
	onBookHistoryLag    = 10 * time.Second

	dashboardEventBuffer = 256
)

// Engine wires every subsystem for one symbol. mu guards the cached
// dashboard status and the last-tick state; the message-count window,
// the on-book history, and the pnl tracker each carry their own lock.
// The decision tick, fill handling, and timers each run on their own
// goroutine.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	auth    *exchange.Auth
	client  *exchange.Client
	mktFeed *exchange.WSFeed
	usrFeed *exchange.WSFeed

	md        *marketdata.Feed
	tox       *toxicity.Filter
	depthCtl  *depth.Controller
	spreadOpt *spread.Optimizer
	inv       *inventory.Tracker
	gov       *governor.Governor
	rl        *ratelimit.Limiter
	book      *ledger.Ledger
	cross     *crossresponse.Responder
	exec      *executor.Executor
	riskMgr   *risk.Manager
	persist   *store.Store

	rng *rand.Rand

	mu          sync.Mutex
	symFilters  types.SymbolFilters
	lastBidQty  decimal.Decimal
	lastAskQty  decimal.Decimal
	lastOutput  governor.Output
	haveOutput  bool
	msgs        msgWindow
	onBook      onBookHistory
	pnl         pnlTracker
	lastStatus  api.MarketStatus
	dashboardCh chan api.DashboardEvent

	lastQuoteFree float64
	haveQuoteFree bool
	burstInFlight bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an Engine for cfg.Strategy.Symbol. It does not start any
// goroutines; call Start to begin trading.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	auth, err := exchange.NewAuth(cfg)
	if err != nil {
		return nil, fmt.Errorf("engine: auth: %w", err)
	}

	client := exchange.NewClient(cfg, auth, cfg.Strategy.Symbol, cfg.Strategy.TokenID, logger)

	e := &Engine{
		cfg:         cfg,
		logger:      logger.With("component", "engine", "symbol", cfg.Strategy.Symbol),
		auth:        auth,
		client:      client,
		mktFeed:     exchange.NewMarketFeed(cfg.API.WSMarketURL, logger),
		usrFeed:     exchange.NewUserFeed(cfg.API.WSUserURL, auth, logger),
		md:          marketdata.NewFeed(cfg.Strategy.Symbol),
		tox:         toxicity.NewFilter(),
		depthCtl:    depth.NewController(),
		spreadOpt:   spread.NewOptimizer(spreadConfigFrom(cfg.Strategy)),
		inv:         inventory.NewTracker(),
		gov:         governor.New(),
		rl:          ratelimit.New(120, 120, time.Now()),
		book:        ledger.New(cfg.Strategy.ReserveRatio),
		cross:       crossresponse.New(),
		riskMgr:     risk.NewManager(cfg.Risk, cfg.Strategy, logger),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		dashboardCh: make(chan api.DashboardEvent, dashboardEventBuffer),
	}

	classify := func(err error) executor.RejectReason {
		if err == nil {
			return executor.RejectNone
		}
		msg := err.Error()
		switch {
		case containsAny(msg, "notional", "MinQty", "filter"):
			return executor.RejectFilterOrNotional
		case containsAny(msg, "would match", "cross", "taker"):
			return executor.RejectWouldMatch
		default:
			return executor.RejectOther
		}
	}
	e.exec = executor.New(client, classify)

	persist, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("engine: store: %w", err)
	}
	e.persist = persist

	return e, nil
}

func spreadConfigFrom(s config.StrategyConfig) spread.Config {
	cfg := spread.DefaultConfig()
	cfg.BaseSpreadBps = s.BaseSpreadBp
	cfg.MinSpreadBps = s.MinSpreadBp
	cfg.MakerFeeBps = s.MakerFeeBp
	cfg.SafetyTicks = s.SafetyTicks
	if s.Gamma > 0 {
		cfg.Gamma = s.Gamma
	}
	if s.Sigma > 0 {
		cfg.Sigma = s.Sigma
	}
	if s.T > 0 {
		cfg.T = s.T
	}
	if s.K > 0 {
		cfg.K = s.K
	}
	return cfg
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(sub) > 0 && indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	n, m := len(s), len(sub)
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == sub {
			return i
		}
	}
	return -1
}

// Start derives credentials if needed, restores any checkpoint, and
// launches the feed, decision, timer, and risk goroutines.
func (e *Engine) Start() error {
	e.ctx, e.cancel = context.WithCancel(context.Background())

	if !e.cfg.DryRun && !e.auth.HasL2Credentials() {
		if _, err := e.client.DeriveAPIKey(e.ctx); err != nil {
			return fmt.Errorf("engine: derive api key: %w", err)
		}
	}

	filters, err := e.client.GetSymbolFilters(e.ctx)
	if err != nil {
		e.logger.Warn("failed to fetch symbol filters, proceeding with zero-value filters", "error", err)
	}
	e.mu.Lock()
	e.symFilters = filters
	e.mu.Unlock()

	if book, err := e.client.GetOrderBook(e.ctx); err == nil {
		if bid, bidQty, ask, askQty, ok := bestBidAsk(book.Bids, book.Asks); ok {
			e.md.UpdateBook(bid, ask, time.Now())
			e.mu.Lock()
			e.lastBidQty, e.lastAskQty = bidQty, askQty
			e.mu.Unlock()
		}
	} else {
		e.logger.Warn("failed to fetch initial order book", "error", err)
	}

	e.restoreCheckpoint()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.riskMgr.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.mktFeed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("market feed exited", "error", err)
		}
	}()
	if err := e.mktFeed.Subscribe(e.ctx, []string{e.cfg.Strategy.TokenID}); err != nil {
		e.logger.Warn("market feed subscribe failed", "error", err)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.usrFeed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("user feed exited", "error", err)
		}
	}()
	if err := e.usrFeed.Subscribe(e.ctx, []string{e.cfg.Strategy.Symbol}); err != nil {
		e.logger.Warn("user feed subscribe failed", "error", err)
	}

	for _, loop := range []func(){
		e.consumeBookEvents,
		e.consumePriceChangeEvents,
		e.consumeTradeEvents,
		e.consumeOrderEvents,
		e.runDecisionTicks,
		e.runFlushTicks,
		e.runTTLSweeps,
		e.runReconcile,
		e.runCheckpoints,
		e.watchKillSwitch,
	} {
		e.wg.Add(1)
		go func(fn func()) {
			defer e.wg.Done()
			fn()
		}(loop)
	}

	e.logger.Info("engine started", "dry_run", e.cfg.DryRun)
	return nil
}

// Stop cancels every goroutine, saves a final checkpoint, and best-effort
// cancels all resting orders.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	e.wg.Wait()

	e.saveCheckpoint()

	if !e.cfg.DryRun {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := e.client.CancelAll(ctx); err != nil {
			e.logger.Error("cancel-all on shutdown failed", "error", err)
		}
	}
	_ = e.persist.Close()
	close(e.dashboardCh)
	e.logger.Info("engine stopped")
}

func (e *Engine) restoreCheckpoint() {
	cp, err := e.persist.Load(e.cfg.Strategy.Symbol)
	if err != nil {
		e.logger.Warn("failed to load checkpoint, starting cold", "error", err)
		return
	}
	if cp == nil {
		return
	}
	e.gov.Restore(cp.Governor)
	e.exec.RestoreLiveOrders(cp.LiveOrders)
	e.book.Seed(cp.Ledger.Base, cp.Ledger.Quote)
	e.logger.Info("restored checkpoint", "saved_at", time.Unix(0, cp.SavedAtNs), "live_orders", len(cp.LiveOrders))
}

func (e *Engine) saveCheckpoint() {
	cp := store.Checkpoint{
		Symbol:     e.cfg.Strategy.Symbol,
		SavedAtNs:  time.Now().UnixNano(),
		Ledger:     e.book.Snapshot(),
		LiveOrders: e.exec.LiveOrders(),
		Governor:   e.gov.Snapshot(),
	}
	if err := e.persist.Save(cp); err != nil {
		e.logger.Error("checkpoint save failed", "error", err)
	}
}

func (e *Engine) runCheckpoints() {
	t := time.NewTicker(checkpointInterval)
	defer t.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-t.C:
			e.saveCheckpoint()
		}
	}
}

// -----------------------------------------------------------------------
// Market/user feed consumption
// -----------------------------------------------------------------------

func (e *Engine) consumeBookEvents() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case evt, ok := <-e.mktFeed.BookEvents():
			if !ok {
				return
			}
			bid, bidQty, ask, askQty, ok := bestBidAsk(evt.Bids, evt.Asks)
			if !ok {
				continue
			}
			now := time.Now()
			e.md.UpdateBook(bid, ask, now)
			mid := bid.Add(ask).Div(decimal.NewFromInt(2))
			e.tox.UpdatePrice(midF(mid), now)
			e.mu.Lock()
			e.lastBidQty, e.lastAskQty = bidQty, askQty
			e.mu.Unlock()
		}
	}
}

func (e *Engine) consumePriceChangeEvents() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case evt, ok := <-e.mktFeed.PriceChangeEvents():
			if !ok {
				return
			}
			price, err := decimal.NewFromString(evt.Price)
			if err != nil {
				continue
			}
			now := time.Now()
			snap := e.md.Snapshot(now)
			bid, ask := snap.Bid, snap.Ask
			switch evt.Side {
			case "BUY":
				bid = price
			case "SELL":
				ask = price
			default:
				continue
			}
			if bid.IsPositive() && ask.IsPositive() {
				e.md.UpdateBook(bid, ask, now)
			}
		}
	}
}

func (e *Engine) consumeTradeEvents() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case evt, ok := <-e.usrFeed.TradeEvents():
			if !ok {
				return
			}
			price, err1 := decimal.NewFromString(evt.Price)
			qty, err2 := decimal.NewFromString(evt.Size)
			if err1 != nil || err2 != nil {
				continue
			}
			now := parseTsMs(evt.Timestamp)
			e.md.AddTrade(price, qty, now)
			qf, _ := qty.Float64()
			e.tox.UpdateTrade(qf, now)
		}
	}
}

func (e *Engine) consumeOrderEvents() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case raw, ok := <-e.usrFeed.OrderEvents():
			if !ok {
				return
			}
			e.handleOrderEvent(raw)
		}
	}
}

func (e *Engine) handleOrderEvent(raw map[string]interface{}) {
	report, err := exchange.Normalize(raw)
	if err != nil {
		e.logger.Warn("failed to normalize order event", "error", err)
		return
	}

	start := time.Now()
	nowNs := start.UnixNano()

	if err := e.book.Apply(report, nowNs); err != nil {
		e.logger.Error("ledger apply rejected", "order_id", report.OrderID, "error", err)
		return
	}

	e.publishEvent(api.NewFillEvent(report))

	live := e.exec.LiveOrders()
	order, hadLive := live[report.OrderID]

	if report.Status.IsTerminal() {
		e.exec.Forget(report.OrderID)
	}

	if report.LastQty.IsZero() {
		return
	}

	e.msgs.record(bucketFill, start)
	e.pnl.apply(report)

	layer := types.LayerL0
	if hadLive {
		layer = order.Layer
	}

	imbalance := e.inv.State().Imbalance
	adj := e.cross.Respond(report.Side, layer, imbalance, start, time.Now())
	e.respondToFill(adj)
}

// respondToFill turns a cross-response Adjustment into a replace op on the
// opposite side's nearest resting order. AdjustNew means "no urgent
// action, the next regular tick will re-quote" and is a no-op here.
func (e *Engine) respondToFill(adj crossresponse.Adjustment) {
	if adj.Kind == types.AdjustNew {
		return
	}

	filters := e.currentFilters()
	tick := filters.TickSize
	safetyTicks := e.cfg.Strategy.SafetyTicks

	now := time.Now()
	snap := e.md.Snapshot(now)

	var target *types.LiveOrder
	var bestDist decimal.Decimal
	for _, o := range e.exec.LiveOrders() {
		if o.Side != adj.Side || o.Layer != adj.Layer {
			continue
		}
		dist := o.Price.Sub(snap.Mid).Abs()
		if target == nil || dist.LessThan(bestDist) {
			cand := o
			target = &cand
			bestDist = dist
		}
	}
	if target == nil {
		return
	}

	newPrice := moveTowardMid(target.Price, adj.Side, adj.TickMove, tick)
	newQty := target.QtyOpen.Mul(decimal.NewFromFloat(adj.SizeMult))

	price, qty, _ := quantize.Sanitize(adj.Side, newPrice, newQty, filters)
	price = quantize.MakerGuard(adj.Side, price, snap.Mid, tick, safetyTicks)
	if !quantize.WithinBounds(price, qty, filters) {
		return
	}
	if !e.book.CheckFeasible(adj.Side, qty, price) {
		return
	}
	if !e.rl.TryAcquireCritical(now) {
		return
	}

	op := executor.Operation{
		Kind:     executor.OpReplace,
		Priority: executor.PriorityReplace,
		OrderID:  target.OrderID,
		Order: types.PlannedOrder{
			Side:          adj.Side,
			Price:         price,
			Qty:           qty,
			Layer:         adj.Layer,
			TTL:           target.TTL,
			ClientOrderID: newClientOrderID(),
			PostOnly:      true,
		},
	}
	e.msgs.record(bucketReprice, now)
	e.exec.Enqueue(op)
}

func (e *Engine) currentFilters() types.SymbolFilters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.symFilters
}

// moveTowardMid nudges price toward the mid by tickMove ticks — the
// cross-response side is adjusted to attract the offsetting fill faster,
// not pushed away like a defensive widen.
func moveTowardMid(price decimal.Decimal, side types.Side, tickMove int, tick decimal.Decimal) decimal.Decimal {
	if tickMove <= 0 || tick.IsZero() {
		return price
	}
	offset := tick.Mul(decimal.NewFromInt(int64(tickMove)))
	if side == types.Buy {
		return price.Add(offset)
	}
	return price.Sub(offset)
}

// -----------------------------------------------------------------------
// Decision tick
// -----------------------------------------------------------------------

func (e *Engine) runDecisionTicks() {
	t := time.NewTicker(decisionTickInterval)
	defer t.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-t.C:
			e.decisionTick()
		}
	}
}

func (e *Engine) decisionTick() {
	now := time.Now()
	nowSec := float64(now.UnixNano()) / 1e9

	snap := e.md.Snapshot(now)
	e.tox.UpdateSpread(snap.SpreadBps, now)

	e.mu.Lock()
	bidQty, askQty := e.lastBidQty, e.lastAskQty
	e.mu.Unlock()
	bidQF, _ := bidQty.Float64()
	askQF, _ := askQty.Float64()

	toxScore, toxAdj := e.tox.Analyze(now)

	e.depthCtl.UpdateMarket(snap.SpreadBps, bidQF, askQF, now)
	e.spreadOpt.UpdateMarketData(midF(snap.Mid), bidQF, askQF, now)

	if !e.riskMgr.CanQuote() {
		e.reportRisk(snap, snap.Quality)
		return
	}

	ledgerSnap := e.book.Snapshot()
	invState := e.inv.Update(ledgerSnap.Base, ledgerSnap.Quote, snap.Mid)
	sizing := e.inv.ApplySizing()
	e.inv.RecordAppliedError()

	reservation := e.spreadOpt.Reservation(snap.Mid, invState.Imbalance)
	halfSpread := combineHalfSpread(reservation.HalfSpread, e.spreadOpt.OptimalSpreadBps(spread.SideBoth), snap.Mid)

	msg10s := e.msgs.snapshot(now)

	liveNotional := e.liveNotionalUSD()
	e.onBook.record(now, liveNotional)

	fillUsage, repriceUsage, cancelUsage := e.bucketUsages(now)
	usagePct := (e.rl.UsagePct(ratelimit.StreamFill, now) +
		e.rl.UsagePct(ratelimit.StreamReprice, now) +
		e.rl.UsagePct(ratelimit.StreamCancel, now)) / 3

	in := governor.StepInput{
		NL0:             e.cfg.Strategy.L0Slots[1],
		NL1:             e.cfg.Strategy.L1Slots[1],
		NL2:             0,
		TTLL0:           float64(e.cfg.Strategy.L0TTLMs[1]) / 1000.0,
		TTLL1:           e.cfg.Strategy.L1TTL.Seconds(),
		TTLL2:           e.cfg.Strategy.L2TTL.Seconds(),
		Msg10s:          msg10s,
		UsagePct:        usagePct,
		OnBookUSDNow:    liveNotional,
		OnBookUSD10sAgo: e.onBook.ago(now, onBookHistoryLag),
		InventoryErr:    invState.TargetWeight - invState.BaseWeight,
		FillUsage:       fillUsage,
		RepriceUsage:    repriceUsage,
		CancelUsage:     cancelUsage,
	}
	out := e.gov.Step(in, nowSec)

	e.mu.Lock()
	e.lastOutput = out
	e.haveOutput = true
	e.mu.Unlock()

	e.rl.Fill.SetBudget(float64(out.Fill10s+out.BurstFill), float64(out.Fill10s))
	e.rl.Reprice.SetBudget(float64(out.Reprice10s+out.BurstReprice), float64(out.Reprice10s))
	e.rl.Cancel.SetBudget(float64(out.Cancel10s+out.BurstCancel), float64(out.Cancel10s))

	e.depthCtl.UpdateGate(float64(out.Fill10sBuy), float64(out.Fill10sSell), now)
	alloc := e.depthCtl.Allocate()

	layers := e.buildLayers(alloc)
	fillGateScale := quantize.FillGateScale(msg10s.Fill, maxInt(out.Fill10s, 1), 0.3)
	quoteFree, _ := e.book.GetAvailable(types.Buy).Float64()
	cashScale := quantize.CashFloorScale(quoteFree, e.cfg.Strategy.MinDeployableNotional, 0.15)

	planIn := planner.Inputs{
		Mid:              snap.Mid,
		ReservationPrice: reservation.ReservationPrice,
		HalfSpread:       halfSpread,
		WidenBps:         toxAdj.WidenBps,
		SizeScale:        toxAdj.SizeScale * fillGateScale,
		TTLScale:         toxAdj.TTLScale * out.TTLScale,
		BuyMultiplier:    sizing.BuyMultiplier * cashScale,
		SellMultiplier:   sizing.SellMultiplier,
		Layers:           layers,
	}
	orders := planner.Plan(planIn, e.rng)

	e.cross.Precompute(invState.Imbalance, now)

	e.mu.Lock()
	prevQuoteFree, hadQuoteFree := e.lastQuoteFree, e.haveQuoteFree
	e.lastQuoteFree, e.haveQuoteFree = quoteFree, true
	burstBusy := e.burstInFlight
	e.mu.Unlock()

	crossedDeployThreshold := hadQuoteFree &&
		prevQuoteFree < e.cfg.Strategy.MinDeployableNotional &&
		quoteFree >= e.cfg.Strategy.MinDeployableNotional

	if crossedDeployThreshold && !burstBusy && len(orders) > 0 {
		e.launchBurstDeploy(orders, snap.Mid)
	} else {
		e.dispatchPlannedOrders(orders, layers, snap.Mid, now)
	}

	e.updateStatus(snap, toxScore, toxAdj.DefenseMode, invState, out)
	e.reportRisk(snap, snap.Quality)
}

func (e *Engine) reportRisk(snap types.MarketSnapshot, quality float64) {
	ledgerSnap := e.book.Snapshot()
	mid := midF(snap.Mid)
	realized, _ := e.pnl.snapshot()
	baseF, _ := ledgerSnap.Base.Float64()
	unrealized := e.pnl.unrealized(ledgerSnap.Base, snap.Mid)

	realizedF, _ := realized.Float64()
	unrealizedF, _ := unrealized.Float64()

	e.riskMgr.Report(risk.PositionReport{
		MidPrice:      mid,
		ExposureUSD:   baseF * mid,
		UnrealizedPnL: unrealizedF,
		RealizedPnL:   realizedF,
		UsagePct:      e.bucketUsagePct(),
		Quality:       quality,
		Timestamp:     time.Now(),
	})
}

func (e *Engine) bucketUsagePct() float64 {
	now := time.Now()
	return (e.rl.UsagePct(ratelimit.StreamFill, now) +
		e.rl.UsagePct(ratelimit.StreamReprice, now) +
		e.rl.UsagePct(ratelimit.StreamCancel, now)) / 3
}

// bucketUsages approximates the governor's per-bucket usage from the
// limiter's own percentage reading against the last window's budget,
// since ratelimit.Bucket only exposes a usage percentage, not a raw
// admitted count.
func (e *Engine) bucketUsages(now time.Time) (fill, reprice, cancel governor.BucketUsage) {
	e.mu.Lock()
	out := e.lastOutput
	have := e.haveOutput
	e.mu.Unlock()
	if !have {
		return governor.BucketUsage{}, governor.BucketUsage{}, governor.BucketUsage{}
	}
	fillPct := e.rl.UsagePct(ratelimit.StreamFill, now)
	repricePct := e.rl.UsagePct(ratelimit.StreamReprice, now)
	cancelPct := e.rl.UsagePct(ratelimit.StreamCancel, now)

	fill = governor.BucketUsage{
		Used:      roundPct(fillPct, out.Fill10s),
		Budget:    out.Fill10s,
		Emergency: fillPct >= 95,
	}
	reprice = governor.BucketUsage{
		Used:      roundPct(repricePct, out.Reprice10s),
		Budget:    out.Reprice10s,
		Emergency: repricePct >= 95,
	}
	cancel = governor.BucketUsage{
		Used:      roundPct(cancelPct, out.Cancel10s),
		Budget:    out.Cancel10s,
		Emergency: cancelPct >= 95,
	}
	return fill, reprice, cancel
}

func roundPct(pct float64, budget int) int {
	return int(pct/100*float64(budget) + 0.5)
}

func (e *Engine) liveNotionalUSD() float64 {
	total := decimal.Zero
	for _, o := range e.exec.LiveOrders() {
		total = total.Add(o.Price.Mul(o.QtyOpen))
	}
	v, _ := total.Float64()
	return v
}

// combineHalfSpread folds the EV-gated floor (converted from bps) into the
// Avellaneda-Stoikov half-spread, taking whichever is wider so the quote
// never narrows below round-trip fees plus adverse-selection margin.
func combineHalfSpread(asHalfSpread decimal.Decimal, floorBps float64, mid decimal.Decimal) decimal.Decimal {
	floorHalf := mid.Mul(decimal.NewFromFloat(floorBps / 10000.0 / 2))
	if floorHalf.GreaterThan(asHalfSpread) {
		return floorHalf
	}
	return asHalfSpread
}

func (e *Engine) buildLayers(alloc depth.Allocation) []planner.LayerConfig {
	perSlot := e.cfg.Strategy.TargetEquity / float64(maxInt(e.cfg.Strategy.MaxTotalSlots, 1))

	return []planner.LayerConfig{
		{
			Layer:     types.LayerL0,
			Count:     alloc.L0SlotsPerSide,
			SpreadBps: e.cfg.Strategy.BaseSpreadBp,
			SizeRange: decimal.NewFromFloat(perSlot * float64(maxInt(alloc.L0SlotsPerSide, 1))),
			BaseTTL:   time.Duration(e.cfg.Strategy.L0TTLMs[1]) * time.Millisecond,
		},
		{
			Layer:     types.LayerL1,
			Count:     alloc.L1SlotsPerSide,
			SpreadBps: e.cfg.Strategy.BaseSpreadBp * 2,
			SizeRange: decimal.NewFromFloat(perSlot * float64(maxInt(alloc.L1SlotsPerSide, 1))),
			BaseTTL:   e.cfg.Strategy.L1TTL,
		},
		{
			Layer:     types.LayerL2,
			Count:     alloc.L2SlotsPerSide,
			SpreadBps: e.cfg.Strategy.BaseSpreadBp * 3,
			SizeRange: decimal.NewFromFloat(perSlot * float64(maxInt(alloc.L2SlotsPerSide, 1))),
			BaseTTL:   e.cfg.Strategy.L2TTL,
		},
	}
}

// dispatchPlannedOrders only enqueues Creates for the deficit between the
// target ladder and what is already resting, so a steady-state market
// doesn't needlessly cancel-and-replace every tick — TTL expiry and
// cross-response handle the rest.
func (e *Engine) dispatchPlannedOrders(orders []types.PlannedOrder, layers []planner.LayerConfig, mid decimal.Decimal, now time.Time) {
	existing := map[string]int{}
	for _, o := range e.exec.LiveOrders() {
		existing[string(o.Side)+"_"+string(o.Layer)]++
	}

	targetCount := map[string]int{}
	for _, l := range layers {
		targetCount[string(types.Buy)+"_"+string(l.Layer)] = l.Count
		targetCount[string(types.Sell)+"_"+string(l.Layer)] = l.Count
	}

	byGroup := map[string][]types.PlannedOrder{}
	for _, o := range orders {
		key := string(o.Side) + "_" + string(o.Layer)
		byGroup[key] = append(byGroup[key], o)
	}

	filters := e.currentFilters()
	for key, group := range byGroup {
		deficit := targetCount[key] - existing[key]
		if deficit <= 0 {
			continue
		}
		if deficit > len(group) {
			deficit = len(group)
		}
		for _, o := range group[:deficit] {
			price, qty, _ := quantize.Sanitize(o.Side, o.Price, o.Qty, filters)
			price = quantize.MakerGuard(o.Side, price, mid, filters.TickSize, e.cfg.Strategy.SafetyTicks)
			if !quantize.WithinBounds(price, qty, filters) {
				continue
			}
			if !e.book.CheckFeasible(o.Side, qty, price) {
				continue
			}
			if !e.rl.TryAcquire(ratelimit.StreamFill, now) {
				continue
			}
			o.Price, o.Qty = price, qty
			e.exec.Enqueue(executor.Operation{Kind: executor.OpCreate, Priority: executor.PriorityCreate, Order: o})
		}
	}
}

// launchBurstDeploy fires the full L0/L1/L2 ladder across staggered waves
// when newly available cash crosses MinDeployableNotional, instead of
// waiting on dispatchPlannedOrders' incremental per-tick slot diff to
// backfill the ladder over many ticks. It runs on its own goroutine since
// executor.BurstDeploy sleeps between waves, and is skipped if a previous
// burst from this engine is still in flight.
func (e *Engine) launchBurstDeploy(orders []types.PlannedOrder, mid decimal.Decimal) {
	filters := e.currentFilters()
	sanitized := make([]types.PlannedOrder, 0, len(orders))
	for _, o := range orders {
		price, qty, _ := quantize.Sanitize(o.Side, o.Price, o.Qty, filters)
		price = quantize.MakerGuard(o.Side, price, mid, filters.TickSize, e.cfg.Strategy.SafetyTicks)
		if !quantize.WithinBounds(price, qty, filters) {
			continue
		}
		if !e.book.CheckFeasible(o.Side, qty, price) {
			continue
		}
		o.Price, o.Qty = price, qty
		sanitized = append(sanitized, o)
	}

	waves := executor.PlanBurstDeploy(sanitized)
	if len(waves) == 0 {
		return
	}

	e.mu.Lock()
	e.burstInFlight = true
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			e.burstInFlight = false
			e.mu.Unlock()
		}()
		e.exec.BurstDeploy(e.ctx, waves, nil)
	}()
}

func (e *Engine) updateStatus(snap types.MarketSnapshot, toxScore float64, defense bool, inv types.InventoryState, out governor.Output) {
	now := time.Now()
	status := api.MarketStatus{
		Bid:           snap.Bid.String(),
		Ask:           snap.Ask.String(),
		Mid:           snap.Mid.String(),
		SpreadBps:     snap.SpreadBps,
		Source:        string(snap.Source),
		Quality:       snap.Quality,
		IsStale:       snap.IsStale,
		ToxicityScore: toxScore,
		DefenseMode:   defense,
		Inventory: api.InventorySnapshot{
			BaseQty:    inv.BaseQty.String(),
			QuoteQty:   inv.QuoteQty.String(),
			BaseWeight: inv.BaseWeight,
			Imbalance:  inv.Imbalance,
		},
		Budgets: api.BudgetSnapshot{
			Fill10s:         out.Fill10s,
			Reprice10s:      out.Reprice10s,
			Cancel10s:       out.Cancel10s,
			FillUsagePct:    e.rl.UsagePct(ratelimit.StreamFill, now),
			RepriceUsagePct: e.rl.UsagePct(ratelimit.StreamReprice, now),
			CancelUsagePct:  e.rl.UsagePct(ratelimit.StreamCancel, now),
		},
		OpenOrders: len(e.exec.LiveOrders()),
	}
	e.mu.Lock()
	e.lastStatus = status
	e.mu.Unlock()
}

// -----------------------------------------------------------------------
// Timers
// -----------------------------------------------------------------------

func (e *Engine) runFlushTicks() {
	t := time.NewTicker(flushTickInterval)
	defer t.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-t.C:
			for _, r := range e.exec.Flush(e.ctx) {
				e.recordFlushResult(r)
			}
		}
	}
}

func (e *Engine) recordFlushResult(r executor.Result) {
	now := time.Now()
	switch r.Op.Kind {
	case executor.OpCreate:
		e.msgs.record(bucketFill, now)
		if r.Err == nil {
			e.publishEvent(api.NewOrderEvent("create", r.Live))
		}
	case executor.OpCancel:
		e.msgs.record(bucketCancel, now)
		if r.Err == nil {
			e.publishEvent(api.NewOrderEvent("cancel", types.LiveOrder{OrderID: r.Op.OrderID}))
		}
	case executor.OpReplace:
		e.msgs.record(bucketReprice, now)
		if r.Err == nil {
			e.publishEvent(api.NewOrderEvent("replace", r.Live))
		}
	}
	if r.Err != nil {
		e.logger.Warn("operation failed", "kind", r.Op.Kind, "reason", r.Reason, "error", r.Err)
	}
}

func (e *Engine) runTTLSweeps() {
	interval := e.cfg.Strategy.TTLSweepInterval
	if interval <= 0 {
		interval = ttlSweepFallback
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-t.C:
			e.exec.SweepTTL(time.Now().UnixNano())
		}
	}
}

func (e *Engine) runReconcile() {
	interval := e.cfg.Strategy.ReconcileInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-t.C:
			// No balance-query endpoint exists on exchange.Client yet; until
			// one does, reconciliation pulls the ledger's own snapshot, which
			// is a structural no-op (deviation is always zero against
			// itself). Wire a real venue fetch here once one is exposed.
			if err := e.book.Reconcile(e.ctx, e.selfFetch); err != nil {
				e.logger.Error("reconcile failed", "error", err)
			}
		}
	}
}

func (e *Engine) selfFetch(ctx context.Context) (decimal.Decimal, decimal.Decimal, error) {
	snap := e.book.Snapshot()
	return snap.Base, snap.Quote, nil
}

func (e *Engine) watchKillSwitch() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case sig, ok := <-e.riskMgr.KillCh():
			if !ok {
				return
			}
			e.logger.Warn("kill switch engaged", "reason", sig.Reason)
			until := e.riskMgr.GetSnapshot().KillSwitchUntil
			e.publishEvent(api.NewKillEvent(sig.Reason, until))

			if !e.cfg.DryRun {
				ctx, cancel := context.WithTimeout(e.ctx, 5*time.Second)
				if _, err := e.client.CancelAll(ctx); err != nil {
					e.logger.Error("kill-switch cancel-all failed", "error", err)
				}
				cancel()
			}
			for id := range e.exec.LiveOrders() {
				e.exec.Forget(id)
			}
		}
	}
}

// -----------------------------------------------------------------------
// api.MarketSnapshotProvider
// -----------------------------------------------------------------------

// GetMarketStatus returns the most recently computed dashboard status.
func (e *Engine) GetMarketStatus() api.MarketStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastStatus
}

// GetRiskManager satisfies api.MarketSnapshotProvider.
func (e *Engine) GetRiskManager() *risk.Manager {
	return e.riskMgr
}

// DashboardEvents satisfies the api.Server event-consumer type assertion.
func (e *Engine) DashboardEvents() <-chan api.DashboardEvent {
	return e.dashboardCh
}

func (e *Engine) publishEvent(evt api.DashboardEvent) {
	select {
	case e.dashboardCh <- evt:
	default:
		// dashboard consumer is slow or absent; drop rather than block the
		// decision loop.
	}
}

// -----------------------------------------------------------------------
// Small helpers
// -----------------------------------------------------------------------

func midF(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// bestBidAsk picks the highest bid and lowest ask from a REST/WS book
// snapshot and returns their price/size as decimals.
func bestBidAsk(bids, asks []exchange.BookLevel) (bid, bidQty, ask, askQty decimal.Decimal, ok bool) {
	if len(bids) == 0 || len(asks) == 0 {
		return
	}
	bestBid := bids[0]
	bestBidP, _ := decimal.NewFromString(bestBid.Price)
	for _, lvl := range bids[1:] {
		p, err := decimal.NewFromString(lvl.Price)
		if err != nil {
			continue
		}
		if p.GreaterThan(bestBidP) {
			bestBid, bestBidP = lvl, p
		}
	}

	bestAsk := asks[0]
	bestAskP, _ := decimal.NewFromString(bestAsk.Price)
	for _, lvl := range asks[1:] {
		p, err := decimal.NewFromString(lvl.Price)
		if err != nil {
			continue
		}
		if p.LessThan(bestAskP) {
			bestAsk, bestAskP = lvl, p
		}
	}

	bidQ, err2 := decimal.NewFromString(bestBid.Size)
	askQ, err4 := decimal.NewFromString(bestAsk.Size)
	if err2 != nil || err4 != nil {
		return
	}
	return bestBidP, bidQ, bestAskP, askQ, true
}

func parseTsMs(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.UnixMilli(ms)
}

func newClientOrderID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// -----------------------------------------------------------------------
// Rolling message-rate window for governor.Msg10s
// -----------------------------------------------------------------------

type msgBucket int

const (
	bucketFill msgBucket = iota
	bucketReprice
	bucketCancel
)

// msgWindow tracks the last 10 seconds of fill/reprice/cancel events so
// the governor sees the same message-rate signal the venue would bill
// against.
type msgWindow struct {
	mu              sync.Mutex
	fills, reprices []time.Time
	cancels         []time.Time
}

func (w *msgWindow) record(b msgBucket, t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch b {
	case bucketFill:
		w.fills = append(w.fills, t)
	case bucketReprice:
		w.reprices = append(w.reprices, t)
	case bucketCancel:
		w.cancels = append(w.cancels, t)
	}
}

func (w *msgWindow) snapshot(now time.Time) governor.Msg10s {
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := now.Add(-10 * time.Second)
	w.fills = pruneBefore(w.fills, cutoff)
	w.reprices = pruneBefore(w.reprices, cutoff)
	w.cancels = pruneBefore(w.cancels, cutoff)
	return governor.Msg10s{Fill: len(w.fills), Reprice: len(w.reprices), Cancel: len(w.cancels)}
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}

// -----------------------------------------------------------------------
// On-book USD history, for the governor's KPI efficiency scale
// -----------------------------------------------------------------------

type onBookSample struct {
	ts  time.Time
	usd float64
}

type onBookHistory struct {
	mu      sync.Mutex
	samples []onBookSample
}

func (h *onBookHistory) record(now time.Time, usd float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = append(h.samples, onBookSample{ts: now, usd: usd})
	cutoff := now.Add(-onBookHistoryWindow)
	i := 0
	for i < len(h.samples) && h.samples[i].ts.Before(cutoff) {
		i++
	}
	h.samples = h.samples[i:]
}

// ago returns the sample closest to now-lag, or whatever is available if
// the window doesn't reach that far back yet.
func (h *onBookHistory) ago(now time.Time, lag time.Duration) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.samples) == 0 {
		return 0
	}
	target := now.Add(-lag)
	best := h.samples[0]
	bestDiff := absDuration(best.ts.Sub(target))
	for _, s := range h.samples[1:] {
		d := absDuration(s.ts.Sub(target))
		if d < bestDiff {
			best, bestDiff = s, d
		}
	}
	return best.usd
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// -----------------------------------------------------------------------
// Average-cost-basis PnL tracker
// -----------------------------------------------------------------------

// pnlTracker mirrors the teacher's average-entry-price bookkeeping
// (applyYesFill/applyNoFill), generalized to a single base asset: buys
// widen the cost basis, sells realize PnL against it.
type pnlTracker struct {
	mu       sync.Mutex
	baseQty  decimal.Decimal
	avgCost  decimal.Decimal
	realized decimal.Decimal
}

func (p *pnlTracker) apply(report types.ExecReport) {
	if report.LastQty.IsZero() || report.Price.IsZero() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	switch report.Side {
	case types.Buy:
		totalCost := p.avgCost.Mul(p.baseQty).Add(report.Price.Mul(report.LastQty))
		p.baseQty = p.baseQty.Add(report.LastQty)
		if p.baseQty.IsPositive() {
			p.avgCost = totalCost.Div(p.baseQty)
		}
	case types.Sell:
		sellQty := report.LastQty
		if sellQty.GreaterThan(p.baseQty) {
			sellQty = p.baseQty
		}
		if sellQty.IsPositive() {
			p.realized = p.realized.Add(report.Price.Sub(p.avgCost).Mul(sellQty))
		}
		p.baseQty = p.baseQty.Sub(report.LastQty)
		if !p.baseQty.IsPositive() {
			p.baseQty = decimal.Zero
			p.avgCost = decimal.Zero
		}
	}
}

func (p *pnlTracker) unrealized(base decimal.Decimal, mid decimal.Decimal) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return base.Mul(mid.Sub(p.avgCost))
}

func (p *pnlTracker) snapshot() (realized, avgCost decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.realized, p.avgCost
}
