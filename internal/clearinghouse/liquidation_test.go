package clearinghouse_test

import (
	"testing"
	"time"

	"cosmossdk.io/errors"

	"PerpAmm/internal/clearinghouse"
	"PerpAmm/internal/event"
	"PerpAmm/internal/fixed"
	"PerpAmm/internal/ledger"
)

func liquidationConfig() clearinghouse.MarketConfig {
	cfg := defaultMarketConfig()
	cfg.MaintenanceMarginRatio = fixed.MustFromStr("0.065")
	return cfg
}

// dropPrice moves the pool from (1600, 62.5) to (1562.5, 64), leaving alice's
// 37.5 long with a small unrealized loss.
func dropPrice(t *testing.T, f *fixture) {
	t.Helper()
	_, err := f.ch.OpenPosition(bob, marketID, clearinghouse.Sell,
		fixed.MustFromStr("3.75"), fixed.New(10), fixed.Zero(), false, tick(1, 0))
	if err != nil {
		t.Fatalf("bob open: %v", err)
	}
}

// crashPrice moves the pool to (1250, 80), wiping alice's margin entirely.
func crashPrice(t *testing.T, f *fixture) {
	t.Helper()
	_, err := f.ch.OpenPosition(bob, marketID, clearinghouse.Sell,
		fixed.New(35), fixed.New(10), fixed.Zero(), false, tick(1, 0))
	if err != nil {
		t.Fatalf("bob open: %v", err)
	}
}

func TestLiquidate_NotLiquidatable(t *testing.T) {
	f := newFixture(t, fixtureOpts{cfg: liquidationConfig()})
	f.openLong600(t)

	_, err := f.ch.Liquidate(keeper, alice, marketID, tick(2, 20*time.Minute))
	if !errors.IsOf(err, clearinghouse.ErrMarginRatioNotLiquidatable) {
		t.Fatalf("err = %v, want ErrMarginRatioNotLiquidatable", err)
	}
}

func TestLiquidate_FullWithResidualMargin(t *testing.T) {
	f := newFixture(t, fixtureOpts{cfg: liquidationConfig()})
	f.openLong600(t)
	dropPrice(t, f)

	supply := f.totalSupply()
	liqTick := tick(2, 20*time.Minute)
	ev, err := f.ch.Liquidate(keeper, alice, marketID, liqTick)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	requireDecEq(t, "577.278325123152709359", ev.PositionNotional, "notional")
	requireDecEq(t, "37.5", ev.PositionSize, "size")
	// the residual margin after the loss goes entirely to the liquidator
	requireDecEq(t, "37.278325123152709359", ev.FeeToLiquidator, "fee to liquidator")
	requireDecEq(t, "0", ev.FeeToInsuranceFund, "fee to insurance")
	requireDecEq(t, "0", ev.BadDebt, "bad debt")
	requireDecEq(t, "37.278325123152709359", f.book.Balance(ledger.TraderAccount(keeper)), "keeper")
	if !f.ch.Position(marketID, alice).Empty() {
		t.Fatal("position should be cleared")
	}
	if !f.totalSupply().Equal(supply) {
		t.Fatalf("supply changed: %s -> %s", supply, f.totalSupply())
	}

	// the liquidation locks the market for the rest of the block
	_, err = f.ch.ClosePosition(bob, marketID, fixed.Zero(), liqTick)
	if !errors.IsOf(err, clearinghouse.ErrRestrictedMode) {
		t.Fatalf("err = %v, want ErrRestrictedMode", err)
	}
}

func TestLiquidate_BadDebtRequiresBackstop(t *testing.T) {
	f := newFixture(t, fixtureOpts{cfg: liquidationConfig()})
	f.openLong600(t)
	crashPrice(t, f)

	liqTick := tick(2, 20*time.Minute)
	_, err := f.ch.Liquidate(keeper, alice, marketID, liqTick)
	if !errors.IsOf(err, clearinghouse.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	requireDecEq(t, "1250", f.amm.QuoteAssetReserve(), "reserves rolled back")

	if err := f.ch.SetBackstopLiquidityProvider("owner", keeper, true); err != nil {
		t.Fatalf("backstop: %v", err)
	}
	ev, err := f.ch.Liquidate(keeper, alice, marketID, liqTick)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	requireDecEq(t, "398.936170212765957446", ev.PositionNotional, "notional")
	requireDecEq(t, "19.946808510638297872", ev.FeeToLiquidator, "fee to liquidator")
	// margin shortfall plus the liquidator fee, both insurance-funded
	requireDecEq(t, "161.010638297872340426", ev.BadDebt, "bad debt")
	requireDecEq(t, "838.989361702127659574", f.book.Balance(ledger.InsuranceAccount(marketID)), "insurance")
	requireDecEq(t, "19.946808510638297872", f.book.Balance(ledger.TraderAccount(keeper)), "keeper")
	if !f.ch.Position(marketID, alice).Empty() {
		t.Fatal("position should be cleared")
	}
}

func TestLiquidate_Partial(t *testing.T) {
	cfg := liquidationConfig()
	cfg.PartialLiquidationRatio = fixed.MustFromStr("0.25")
	cfg.LiquidationFeeRatio = fixed.MustFromStr("0.025")
	f := newFixture(t, fixtureOpts{cfg: cfg})
	f.openLong600(t)
	dropPrice(t, f)

	supply := f.totalSupply()
	oiBefore := f.ch.OpenInterestNotional(marketID)
	liqTick := tick(2, 20*time.Minute)
	ev, err := f.ch.Liquidate(keeper, alice, marketID, liqTick)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	// exactly a quarter of the size is closed
	requireDecEq(t, "9.375", ev.PositionSize, "liquidated size")
	pos := f.ch.Position(marketID, alice)
	requireDecEq(t, "28.125", pos.Size, "remaining size")
	if !pos.Margin.IsPositive() {
		t.Fatalf("margin = %s, want positive", pos.Margin)
	}

	// penalty split between liquidator and insurance fund
	penalty := ev.FeeToLiquidator.Add(ev.FeeToInsuranceFund)
	if !penalty.IsPositive() {
		t.Fatalf("penalty = %s, want positive", penalty)
	}
	if ev.FeeToLiquidator.GT(ev.FeeToInsuranceFund) {
		t.Fatalf("liquidator fee %s above insurance share %s", ev.FeeToLiquidator, ev.FeeToInsuranceFund)
	}
	requireDecEq(t, "0", ev.BadDebt, "bad debt")
	if !f.book.Balance(ledger.TraderAccount(keeper)).Equal(ev.FeeToLiquidator) {
		t.Fatalf("keeper balance %s, want %s", f.book.Balance(ledger.TraderAccount(keeper)), ev.FeeToLiquidator)
	}

	wantOI := oiBefore.Sub(ev.PositionNotional)
	if !f.ch.OpenInterestNotional(marketID).Equal(wantOI) {
		t.Fatalf("open interest %s, want %s", f.ch.OpenInterestNotional(marketID), wantOI)
	}
	if !f.totalSupply().Equal(supply) {
		t.Fatalf("supply changed: %s -> %s", supply, f.totalSupply())
	}

	// a second liquidation in the same block is blocked
	_, err = f.ch.Liquidate(keeper, alice, marketID, liqTick)
	if !errors.IsOf(err, clearinghouse.ErrRestrictedMode) {
		t.Fatalf("err = %v, want ErrRestrictedMode", err)
	}

	// both a PositionLiquidated and a PositionChanged event are emitted
	var liq, changed bool
	for _, e := range f.rec.Events {
		switch e.(type) {
		case *event.PositionLiquidated:
			liq = true
		case *event.PositionChanged:
			changed = true
		}
	}
	if !liq || !changed {
		t.Fatalf("events: liquidated=%v changed=%v", liq, changed)
	}
}
