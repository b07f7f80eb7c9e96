package amm_test

import (
	"testing"
	"time"

	"cosmossdk.io/errors"

	"PerpAmm/internal/amm"
	"PerpAmm/internal/event"
	"PerpAmm/internal/fixed"
	"PerpAmm/internal/oracle"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestAmm(t *testing.T, feed oracle.PriceFeed, rec event.Recorder) *amm.Amm {
	t.Helper()
	if feed == nil {
		feed = oracle.NewStaticFeed(fixed.New(10), t0)
	}
	tick := amm.Tick{Block: 1, Now: t0}
	a, err := amm.New(amm.Config{
		Market:                 "BTC-USD",
		Owner:                  "owner",
		Counterparty:           "clearinghouse",
		QuoteAssetReserve:      fixed.New(1000),
		BaseAssetReserve:       fixed.New(100),
		TradeLimitRatio:        fixed.MustFromStr("0.9"),
		FluctuationLimitRatio:  fixed.Zero(),
		TollRatio:              fixed.Zero(),
		SpreadRatio:            fixed.Zero(),
		FundingPeriod:          time.Hour,
		SpotPriceTwapInterval:  time.Hour,
		FundingCostCoverRate:   fixed.MustFromStr("0.5"),
		FundingRevenueTakeRate: fixed.MustFromStr("0.5"),
		PriceFeed:              feed,
	}, rec, tick)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.SetOpen("owner", true, tick); err != nil {
		t.Fatalf("SetOpen: %v", err)
	}
	return a
}

// ============================================================================
// Test: constant-product pricing
// ============================================================================

func TestGetInputPrice_AddExact(t *testing.T) {
	a := newTestAmm(t, nil, nil)
	got, err := a.GetInputPrice(amm.AddToAmm, fixed.New(600))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(fixed.MustFromStr("37.5")) {
		t.Errorf("got %s, want 37.5", got)
	}
}

func TestGetInputPrice_RemoveRoundsAgainstTrader(t *testing.T) {
	a := newTestAmm(t, nil, nil)
	got, err := a.GetInputPrice(amm.RemoveFromAmm, fixed.New(50))
	if err != nil {
		t.Fatal(err)
	}
	// real-number result is 5.263157894736842105263..., the trader pays
	// one wei more than the truncation
	want := fixed.MustFromStr("5.263157894736842106")
	if !got.Equal(want) {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestGetInputPrice_QuoteAfterZero(t *testing.T) {
	a := newTestAmm(t, nil, nil)
	if _, err := a.GetInputPrice(amm.RemoveFromAmm, fixed.New(1000)); !errors.IsOf(err, amm.ErrQuoteAssetAfterZero) {
		t.Errorf("got %v, want ErrQuoteAssetAfterZero", err)
	}
}

func TestGetOutputPrice_BaseAfterZero(t *testing.T) {
	a := newTestAmm(t, nil, nil)
	if _, err := a.GetOutputPrice(amm.RemoveFromAmm, fixed.New(100)); !errors.IsOf(err, amm.ErrBaseAssetAfterZero) {
		t.Errorf("got %v, want ErrBaseAssetAfterZero", err)
	}
}

func TestRoundTrip_DividableIsExact(t *testing.T) {
	a := newTestAmm(t, nil, nil)
	tick := amm.Tick{Block: 2, Now: t0.Add(time.Second)}

	in := fixed.New(600)
	base, err := a.SwapInput(amm.AddToAmm, in, fixed.Zero(), false, tick)
	if err != nil {
		t.Fatal(err)
	}
	out, err := a.GetOutputPrice(amm.AddToAmm, base)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Equal(in) {
		t.Errorf("round trip returned %s for input %s, want exact recovery", out, in)
	}
}

func TestRoundTrip_NonDividableFavorsPool(t *testing.T) {
	a := newTestAmm(t, nil, nil)
	tick := amm.Tick{Block: 2, Now: t0.Add(time.Second)}

	in := fixed.New(50)
	base, err := a.SwapInput(amm.RemoveFromAmm, in, fixed.Zero(), false, tick)
	if err != nil {
		t.Fatal(err)
	}
	// undo the swap in base terms against the post-swap reserves
	out, err := a.GetOutputPrice(amm.RemoveFromAmm, base)
	if err != nil {
		t.Fatal(err)
	}
	// the one-wei base bias converts back at roughly the spot price, so
	// the quote recovery may exceed the input by a handful of wei but
	// must never fall short of it
	diff := out.Sub(in)
	if diff.IsNegative() {
		t.Errorf("round trip returned %s for input %s, pool must never pay out more than it took", out, in)
	}
	if diff.GT(fixed.NewWithPrec(20, 18)) {
		t.Errorf("round trip bias %s too large", diff)
	}
}

// ============================================================================
// Test: swaps
// ============================================================================

func TestSwapInput_MutatesReserves(t *testing.T) {
	rec := &event.List{}
	a := newTestAmm(t, nil, rec)
	tick := amm.Tick{Block: 2, Now: t0.Add(time.Second)}

	base, err := a.SwapInput(amm.AddToAmm, fixed.New(600), fixed.Zero(), false, tick)
	if err != nil {
		t.Fatal(err)
	}
	if !base.Equal(fixed.MustFromStr("37.5")) {
		t.Errorf("base = %s, want 37.5", base)
	}
	if !a.QuoteAssetReserve().Equal(fixed.New(1600)) || !a.BaseAssetReserve().Equal(fixed.MustFromStr("62.5")) {
		t.Errorf("reserves = (%s, %s), want (1600, 62.5)", a.QuoteAssetReserve(), a.BaseAssetReserve())
	}
	if !a.CumulativeNotional().Equal(fixed.New(600)) {
		t.Errorf("cumulativeNotional = %s", a.CumulativeNotional())
	}
	if !a.TotalPositionSize().Equal(fixed.MustFromStr("37.5")) {
		t.Errorf("totalPositionSize = %s", a.TotalPositionSize())
	}

	var sawSwap, sawSnapshot bool
	for _, ev := range rec.Events {
		switch ev.EventType() {
		case event.TypeSwapInput:
			sawSwap = true
		case event.TypeReserveSnapshotted:
			sawSnapshot = true
		}
	}
	if !sawSwap || !sawSnapshot {
		t.Errorf("expected SwapInput and ReserveSnapshotted events, got %d events", len(rec.Events))
	}
}

func TestSwapInput_MarketClosed(t *testing.T) {
	a := newTestAmm(t, nil, nil)
	tick := amm.Tick{Block: 2, Now: t0.Add(time.Second)}
	if err := a.SetOpen("owner", false, tick); err != nil {
		t.Fatal(err)
	}
	if _, err := a.SwapInput(amm.AddToAmm, fixed.New(1), fixed.Zero(), false, tick); !errors.IsOf(err, amm.ErrMarketClosed) {
		t.Errorf("got %v, want ErrMarketClosed", err)
	}
}

func TestSwapInput_SlippageLimits(t *testing.T) {
	a := newTestAmm(t, nil, nil)
	tick := amm.Tick{Block: 2, Now: t0.Add(time.Second)}

	// ADD receives base, limit is a minimum
	if _, err := a.SwapInput(amm.AddToAmm, fixed.New(600), fixed.New(38), false, tick); !errors.IsOf(err, amm.ErrSlippageExceeded) {
		t.Errorf("got %v, want ErrSlippageExceeded", err)
	}
	// REMOVE pays base, limit is a maximum
	if _, err := a.SwapInput(amm.RemoveFromAmm, fixed.New(50), fixed.New(5), false, tick); !errors.IsOf(err, amm.ErrSlippageExceeded) {
		t.Errorf("got %v, want ErrSlippageExceeded", err)
	}
	if _, err := a.SwapInput(amm.AddToAmm, fixed.New(600), fixed.New(37), false, tick); err != nil {
		t.Errorf("swap within limit failed: %v", err)
	}
}

func TestSwapInput_TradeLimit(t *testing.T) {
	a := newTestAmm(t, nil, nil)
	tick := amm.Tick{Block: 2, Now: t0.Add(time.Second)}
	if _, err := a.SwapInput(amm.RemoveFromAmm, fixed.New(901), fixed.Zero(), false, tick); !errors.IsOf(err, amm.ErrOverTradingLimit) {
		t.Errorf("got %v, want ErrOverTradingLimit", err)
	}
}

func TestSwapOutput_ClosesLong(t *testing.T) {
	a := newTestAmm(t, nil, nil)
	tick := amm.Tick{Block: 2, Now: t0.Add(time.Second)}
	if _, err := a.SwapInput(amm.AddToAmm, fixed.New(600), fixed.Zero(), false, tick); err != nil {
		t.Fatal(err)
	}
	// give back the 37.5 base, reserves return to the origin
	quote, err := a.SwapOutput(amm.AddToAmm, fixed.MustFromStr("37.5"), fixed.Zero(), false, tick)
	if err != nil {
		t.Fatal(err)
	}
	if !quote.Equal(fixed.New(600)) {
		t.Errorf("quote = %s, want 600", quote)
	}
	if !a.QuoteAssetReserve().Equal(fixed.New(1000)) || !a.BaseAssetReserve().Equal(fixed.New(100)) {
		t.Errorf("reserves = (%s, %s), want (1000, 100)", a.QuoteAssetReserve(), a.BaseAssetReserve())
	}
	if !a.TotalPositionSize().IsZero() {
		t.Errorf("totalPositionSize = %s, want 0", a.TotalPositionSize())
	}
}

// ============================================================================
// Test: reserve snapshots
// ============================================================================

func TestSnapshots_SameBlockOverwrites(t *testing.T) {
	a := newTestAmm(t, nil, nil)
	tick := amm.Tick{Block: 2, Now: t0.Add(time.Second)}

	if _, err := a.SwapInput(amm.AddToAmm, fixed.New(100), fixed.Zero(), false, tick); err != nil {
		t.Fatal(err)
	}
	if _, err := a.SwapInput(amm.AddToAmm, fixed.New(100), fixed.Zero(), false, tick); err != nil {
		t.Fatal(err)
	}
	snaps := a.ReserveSnapshots()
	if len(snaps) != 2 {
		t.Fatalf("got %d snapshots, want 2 (creation + one per block)", len(snaps))
	}
	last := snaps[len(snaps)-1]
	if !last.QuoteAssetReserve.Equal(fixed.New(1200)) {
		t.Errorf("snapshot quote = %s, want 1200", last.QuoteAssetReserve)
	}

	next := amm.Tick{Block: 3, Now: t0.Add(2 * time.Second)}
	if _, err := a.SwapInput(amm.AddToAmm, fixed.New(100), fixed.Zero(), false, next); err != nil {
		t.Fatal(err)
	}
	if got := len(a.ReserveSnapshots()); got != 3 {
		t.Errorf("got %d snapshots after new block, want 3", got)
	}
}

// ============================================================================
// Test: fluctuation limit
// ============================================================================

func TestFluctuationLimit_BlockPolicy(t *testing.T) {
	a := newTestAmm(t, nil, nil)
	if err := a.SetFluctuationLimitRatio("owner", fixed.MustFromStr("0.05")); err != nil {
		t.Fatal(err)
	}
	tick := amm.Tick{Block: 2, Now: t0.Add(time.Second)}

	// reference price for block 2 is 10, bounds [9.5, 10.5]
	if _, err := a.SwapInput(amm.AddToAmm, fixed.New(600), fixed.Zero(), false, tick); !errors.IsOf(err, amm.ErrPriceOverFluctuationLimit) {
		t.Fatalf("got %v, want ErrPriceOverFluctuationLimit", err)
	}
	// a small swap stays inside the band
	if _, err := a.SwapInput(amm.AddToAmm, fixed.New(20), fixed.Zero(), false, tick); err != nil {
		t.Fatalf("in-band swap failed: %v", err)
	}
	// the flagged swap may leave the band once
	if _, err := a.SwapInput(amm.AddToAmm, fixed.New(600), fixed.Zero(), true, tick); err != nil {
		t.Fatalf("flagged swap failed: %v", err)
	}
	// every later swap in the block starts out of band, even one moving back
	if _, err := a.SwapInput(amm.RemoveFromAmm, fixed.New(600), fixed.Zero(), false, tick); !errors.IsOf(err, amm.ErrAlreadyOverFluctuationLimit) {
		t.Errorf("got %v, want ErrAlreadyOverFluctuationLimit", err)
	}
	if _, err := a.SwapInput(amm.AddToAmm, fixed.New(1), fixed.Zero(), true, tick); !errors.IsOf(err, amm.ErrAlreadyOverFluctuationLimit) {
		t.Errorf("flagged swap after override: got %v, want ErrAlreadyOverFluctuationLimit", err)
	}
}

// ============================================================================
// Test: TWAP
// ============================================================================

func TestGetTwapPrice_Weighted(t *testing.T) {
	a := newTestAmm(t, nil, nil)
	swapTick := amm.Tick{Block: 2, Now: t0.Add(100 * time.Second)}
	if _, err := a.SwapInput(amm.AddToAmm, fixed.New(600), fixed.Zero(), false, swapTick); err != nil {
		t.Fatal(err)
	}

	// price 10 for 50s of the window, 25.6 for 100s
	query := amm.Tick{Block: 3, Now: t0.Add(200 * time.Second)}
	got := a.GetTwapPrice(150*time.Second, query)
	if !got.Equal(fixed.MustFromStr("20.4")) {
		t.Errorf("got %s, want 20.4", got)
	}
}

func TestGetTwapPrice_ShortHistoryAveragesWhatExists(t *testing.T) {
	a := newTestAmm(t, nil, nil)
	swapTick := amm.Tick{Block: 2, Now: t0.Add(50 * time.Second)}
	if _, err := a.SwapInput(amm.AddToAmm, fixed.New(600), fixed.Zero(), false, swapTick); err != nil {
		t.Fatal(err)
	}

	// only 100s of history exists: price 10 for 50s, 25.6 for 50s
	query := amm.Tick{Block: 3, Now: t0.Add(100 * time.Second)}
	got := a.GetTwapPrice(time.Hour, query)
	if !got.Equal(fixed.MustFromStr("17.8")) {
		t.Errorf("got %s, want 17.8", got)
	}
}

func TestGetTwapPrice_SnapshotAtNowHasZeroWeight(t *testing.T) {
	a := newTestAmm(t, nil, nil)
	swapTick := amm.Tick{Block: 2, Now: t0.Add(100 * time.Second)}
	if _, err := a.SwapInput(amm.AddToAmm, fixed.New(600), fixed.Zero(), false, swapTick); err != nil {
		t.Fatal(err)
	}

	query := amm.Tick{Block: 2, Now: t0.Add(100 * time.Second)}
	got := a.GetTwapPrice(100*time.Second, query)
	if !got.Equal(fixed.New(10)) {
		t.Errorf("got %s, want 10 (the just-taken snapshot carries no weight)", got)
	}
}

func TestGetTwapPrice_IntervalZeroIsSpot(t *testing.T) {
	a := newTestAmm(t, nil, nil)
	query := amm.Tick{Block: 2, Now: t0.Add(time.Second)}
	if got := a.GetTwapPrice(0, query); !got.Equal(fixed.New(10)) {
		t.Errorf("got %s, want 10", got)
	}
}

// ============================================================================
// Test: adjust
// ============================================================================

func TestAdjust_ReplacesReserves(t *testing.T) {
	a := newTestAmm(t, nil, nil)
	tick := amm.Tick{Block: 2, Now: t0.Add(time.Second)}
	if err := a.Adjust("clearinghouse", fixed.New(1290), fixed.New(100), tick); err != nil {
		t.Fatal(err)
	}
	if !a.QuoteAssetReserve().Equal(fixed.New(1290)) {
		t.Errorf("quote = %s, want 1290", a.QuoteAssetReserve())
	}
	if got := len(a.LiquidityHistory()); got != 2 {
		t.Errorf("liquidity history entries = %d, want 2", got)
	}
}

func TestAdjust_ZeroReserve(t *testing.T) {
	a := newTestAmm(t, nil, nil)
	tick := amm.Tick{Block: 2, Now: t0.Add(time.Second)}
	if err := a.Adjust("clearinghouse", fixed.Zero(), fixed.New(100), tick); !errors.IsOf(err, amm.ErrReserveCannotBeZero) {
		t.Errorf("got %v, want ErrReserveCannotBeZero", err)
	}
}

func TestAdjust_Unauthorized(t *testing.T) {
	a := newTestAmm(t, nil, nil)
	tick := amm.Tick{Block: 2, Now: t0.Add(time.Second)}
	if err := a.Adjust("random", fixed.New(1), fixed.New(1), tick); !errors.IsOf(err, amm.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
}
