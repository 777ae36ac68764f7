package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"marketmaker-core/internal/exchange"
	"marketmaker-core/pkg/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestPnlTrackerAverageCostBasisOnBuys(t *testing.T) {
	var p pnlTracker
	p.apply(types.ExecReport{Side: types.Buy, LastQty: dec("10"), Price: dec("1.00")})
	p.apply(types.ExecReport{Side: types.Buy, LastQty: dec("10"), Price: dec("2.00")})

	_, avgCost := p.snapshot()
	if !avgCost.Equal(dec("1.5")) {
		t.Errorf("avgCost = %v, want 1.5", avgCost)
	}
}

func TestPnlTrackerRealizesOnSell(t *testing.T) {
	var p pnlTracker
	p.apply(types.ExecReport{Side: types.Buy, LastQty: dec("10"), Price: dec("1.00")})
	p.apply(types.ExecReport{Side: types.Sell, LastQty: dec("5"), Price: dec("1.50")})

	realized, avgCost := p.snapshot()
	if !realized.Equal(dec("2.5")) {
		t.Errorf("realized = %v, want 2.5", realized)
	}
	if !avgCost.Equal(dec("1.00")) {
		t.Errorf("avgCost should be unchanged by a sell, got %v", avgCost)
	}
}

func TestPnlTrackerClampsSellToHeldQty(t *testing.T) {
	var p pnlTracker
	p.apply(types.ExecReport{Side: types.Buy, LastQty: dec("5"), Price: dec("1.00")})
	p.apply(types.ExecReport{Side: types.Sell, LastQty: dec("10"), Price: dec("2.00")})

	realized, avgCost := p.snapshot()
	if !realized.Equal(dec("5")) {
		t.Errorf("realized = %v, want 5 (clamped to held qty)", realized)
	}
	if !avgCost.IsZero() {
		t.Errorf("avgCost = %v, want 0 after fully unwinding position", avgCost)
	}
}

func TestPnlTrackerUnrealized(t *testing.T) {
	var p pnlTracker
	p.apply(types.ExecReport{Side: types.Buy, LastQty: dec("10"), Price: dec("1.00")})

	unrealized := p.unrealized(dec("10"), dec("1.20"))
	if !unrealized.Equal(dec("2")) {
		t.Errorf("unrealized = %v, want 2", unrealized)
	}
}

func TestMoveTowardMidBuyMovesUp(t *testing.T) {
	price := moveTowardMid(dec("0.50"), types.Buy, 2, dec("0.01"))
	if !price.Equal(dec("0.52")) {
		t.Errorf("price = %v, want 0.52", price)
	}
}

func TestMoveTowardMidSellMovesDown(t *testing.T) {
	price := moveTowardMid(dec("0.60"), types.Sell, 2, dec("0.01"))
	if !price.Equal(dec("0.58")) {
		t.Errorf("price = %v, want 0.58", price)
	}
}

func TestMoveTowardMidNoOpWhenTickMoveZero(t *testing.T) {
	price := moveTowardMid(dec("0.50"), types.Buy, 0, dec("0.01"))
	if !price.Equal(dec("0.50")) {
		t.Errorf("price = %v, want unchanged 0.50", price)
	}
}

func TestMsgWindowPrunesOldSamples(t *testing.T) {
	var w msgWindow
	now := time.Now()
	w.record(bucketFill, now.Add(-20*time.Second))
	w.record(bucketFill, now.Add(-1*time.Second))
	w.record(bucketReprice, now.Add(-2*time.Second))
	w.record(bucketCancel, now.Add(-3*time.Second))

	snap := w.snapshot(now)
	if snap.Fill != 1 {
		t.Errorf("Fill = %d, want 1 (old sample pruned)", snap.Fill)
	}
	if snap.Reprice != 1 || snap.Cancel != 1 {
		t.Errorf("Reprice/Cancel = %d/%d, want 1/1", snap.Reprice, snap.Cancel)
	}
}

func TestOnBookHistoryAgoPicksClosestSample(t *testing.T) {
	var h onBookHistory
	base := time.Now().Add(-30 * time.Second)
	h.record(base, 100)
	h.record(base.Add(5*time.Second), 200)
	h.record(base.Add(10*time.Second), 300)

	got := h.ago(base.Add(11*time.Second), 1*time.Second)
	if got != 300 {
		t.Errorf("ago = %v, want 300 (closest sample)", got)
	}
}

func TestBestBidAskPicksTopOfBook(t *testing.T) {
	bids := []exchange.BookLevel{{Price: "0.48", Size: "10"}, {Price: "0.50", Size: "20"}}
	asks := []exchange.BookLevel{{Price: "0.55", Size: "15"}, {Price: "0.52", Size: "5"}}

	bid, bidQty, ask, askQty, ok := bestBidAsk(bids, asks)
	if !ok {
		t.Fatal("bestBidAsk returned ok=false")
	}
	if !bid.Equal(dec("0.50")) || !bidQty.Equal(dec("20")) {
		t.Errorf("bid/bidQty = %v/%v, want 0.50/20", bid, bidQty)
	}
	if !ask.Equal(dec("0.52")) || !askQty.Equal(dec("5")) {
		t.Errorf("ask/askQty = %v/%v, want 0.52/5", ask, askQty)
	}
}

func TestBestBidAskEmptyBook(t *testing.T) {
	_, _, _, _, ok := bestBidAsk(nil, nil)
	if ok {
		t.Error("expected ok=false for empty book")
	}
}

func TestCombineHalfSpreadTakesWiderFloor(t *testing.T) {
	mid := dec("1.00")
	asHalf := dec("0.002") // 0.002 half-spread in price terms (20bp of mid)
	got := combineHalfSpread(asHalf, 100, mid)
	want := mid.Mul(decimal.NewFromFloat(100 / 10000.0 / 2))
	if !got.Equal(want) {
		t.Errorf("combineHalfSpread = %v, want %v (EV floor wider than A-S half-spread)", got, want)
	}
}

func TestCombineHalfSpreadKeepsASWhenWider(t *testing.T) {
	mid := dec("1.00")
	asHalf := dec("0.05")
	got := combineHalfSpread(asHalf, 4, mid)
	if !got.Equal(asHalf) {
		t.Errorf("combineHalfSpread = %v, want %v (A-S half-spread wider than floor)", got, asHalf)
	}
}
