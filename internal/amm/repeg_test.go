package amm_test

import (
	"testing"
	"time"

	"PerpAmm/internal/amm"
	"PerpAmm/internal/fixed"
	"PerpAmm/internal/oracle"
)

func newAdjustableAmm(t *testing.T, feed *oracle.StaticFeed) *amm.Amm {
	t.Helper()
	a := newTestAmm(t, feed, nil)
	if err := a.SetAdjustable("owner", true); err != nil {
		t.Fatal(err)
	}
	return a
}

// ============================================================================
// Test: formulaic repeg
// ============================================================================

func TestRepeg_BelowDivergenceThreshold(t *testing.T) {
	feed := oracle.NewStaticFeed(fixed.MustFromStr("9.5"), t0)
	a := newAdjustableAmm(t, feed)
	// |10 - 9.5| / 9.5 ≈ 5.3%, under the 10% threshold
	if res := a.GetFormulaicRepegResult(fixed.New(1000)); res.Adjustable {
		t.Error("repeg proposed under the divergence threshold")
	}
}

func TestRepeg_NotAdjustableFlag(t *testing.T) {
	feed := oracle.NewStaticFeed(fixed.New(20), t0)
	a := newTestAmm(t, feed, nil)
	if res := a.GetFormulaicRepegResult(fixed.New(1000)); res.Adjustable {
		t.Error("repeg proposed while the pool is not adjustable")
	}
}

func TestRepeg_ZeroPositionFullRepeg(t *testing.T) {
	feed := oracle.NewStaticFeed(fixed.MustFromStr("12.9"), t0)
	a := newAdjustableAmm(t, feed)

	res := a.GetFormulaicRepegResult(fixed.Zero())
	if !res.Adjustable {
		t.Fatal("expected a repeg proposal")
	}
	if !res.NewQuoteReserve.Equal(fixed.New(1290)) || !res.NewBaseReserve.Equal(fixed.New(100)) {
		t.Errorf("reserves = (%s, %s), want (1290, 100)", res.NewQuoteReserve, res.NewBaseReserve)
	}
	if !res.Cost.IsZero() {
		t.Errorf("cost = %s, want 0", res.Cost)
	}
}

func TestRepeg_NegativeCostNotCapped(t *testing.T) {
	feed := oracle.NewStaticFeed(fixed.MustFromStr("12.8"), t0)
	a := newAdjustableAmm(t, feed)
	tick := amm.Tick{Block: 2, Now: t0.Add(time.Second)}
	// net long 37.5, reserves (1600, 62.5), spot 25.6
	if _, err := a.SwapInput(amm.AddToAmm, fixed.New(600), fixed.Zero(), false, tick); err != nil {
		t.Fatal(err)
	}

	res := a.GetFormulaicRepegResult(fixed.Zero())
	if !res.Adjustable {
		t.Fatal("expected a repeg proposal")
	}
	// repegging down against a net long position pays the protocol
	if !res.Cost.Equal(fixed.New(-480)) {
		t.Errorf("cost = %s, want -480", res.Cost)
	}
	if !res.NewQuoteReserve.Equal(fixed.New(800)) || !res.NewBaseReserve.Equal(fixed.MustFromStr("62.5")) {
		t.Errorf("reserves = (%s, %s), want (800, 62.5)", res.NewQuoteReserve, res.NewBaseReserve)
	}
}

func TestRepeg_PositiveCostCappedByBudget(t *testing.T) {
	feed := oracle.NewStaticFeed(fixed.New(30), t0)
	a := newAdjustableAmm(t, feed)
	tick := amm.Tick{Block: 2, Now: t0.Add(time.Second)}
	if _, err := a.SwapInput(amm.AddToAmm, fixed.New(600), fixed.Zero(), false, tick); err != nil {
		t.Fatal(err)
	}

	// ideal repeg 25.6 -> 30 costs 37.5 * 4.4 = 165; budget allows 75,
	// so the price moves only 2 quote per base
	res := a.GetFormulaicRepegResult(fixed.New(75))
	if !res.Adjustable {
		t.Fatal("expected a repeg proposal")
	}
	if !res.Cost.Equal(fixed.New(75)) {
		t.Errorf("cost = %s, want 75", res.Cost)
	}
	if !res.NewQuoteReserve.Equal(fixed.New(1725)) {
		t.Errorf("new quote = %s, want 1725", res.NewQuoteReserve)
	}
}

// ============================================================================
// Test: formulaic K-adjustment
// ============================================================================

func TestUpdateK_IncreaseClampedToCeiling(t *testing.T) {
	feed := oracle.NewStaticFeed(fixed.New(10), t0)
	a := newAdjustableAmm(t, feed)
	tick := amm.Tick{Block: 2, Now: t0.Add(time.Second)}
	if _, err := a.SwapInput(amm.AddToAmm, fixed.New(600), fixed.Zero(), false, tick); err != nil {
		t.Fatal(err)
	}

	res := a.GetFormulaicUpdateKResult(fixed.New(10))
	if !res.Adjustable {
		t.Fatal("expected a K proposal")
	}
	// budget 10 asks for a larger scale than the ceiling allows
	if !res.NewQuoteReserve.Equal(fixed.MustFromStr("1601.6")) || !res.NewBaseReserve.Equal(fixed.MustFromStr("62.5625")) {
		t.Errorf("reserves = (%s, %s), want (1601.6, 62.5625)", res.NewQuoteReserve, res.NewBaseReserve)
	}
	if !res.Cost.IsPositive() || res.Cost.GT(fixed.New(10)) {
		t.Errorf("cost = %s, want positive and under budget", res.Cost)
	}
	// price is preserved by the scaling
	before := fixed.DivD(fixed.New(1600), fixed.MustFromStr("62.5"))
	after := fixed.DivD(res.NewQuoteReserve, res.NewBaseReserve)
	if !before.Equal(after) {
		t.Errorf("price moved by K-adjustment: %s -> %s", before, after)
	}
}

func TestUpdateK_DecreaseNeedsCanLowerK(t *testing.T) {
	feed := oracle.NewStaticFeed(fixed.New(10), t0)
	a := newAdjustableAmm(t, feed)
	tick := amm.Tick{Block: 2, Now: t0.Add(time.Second)}
	if _, err := a.SwapInput(amm.AddToAmm, fixed.New(600), fixed.Zero(), false, tick); err != nil {
		t.Fatal(err)
	}

	if res := a.GetFormulaicUpdateKResult(fixed.New(-10)); res.Adjustable {
		t.Error("K decrease proposed without canLowerK")
	}
	if err := a.SetCanLowerK("owner", true); err != nil {
		t.Fatal(err)
	}
	res := a.GetFormulaicUpdateKResult(fixed.New(-10))
	if !res.Adjustable {
		t.Fatal("expected a K proposal")
	}
	// floor clamp: 1600 * 0.978, 62.5 * 0.978
	if !res.NewQuoteReserve.Equal(fixed.MustFromStr("1564.8")) || !res.NewBaseReserve.Equal(fixed.MustFromStr("61.125")) {
		t.Errorf("reserves = (%s, %s), want (1564.8, 61.125)", res.NewQuoteReserve, res.NewBaseReserve)
	}
	if !res.Cost.IsNegative() {
		t.Errorf("cost = %s, want negative (protocol recoups)", res.Cost)
	}
}

func TestUpdateK_ZeroPosition(t *testing.T) {
	feed := oracle.NewStaticFeed(fixed.New(10), t0)
	a := newAdjustableAmm(t, feed)
	if res := a.GetFormulaicUpdateKResult(fixed.New(10)); res.Adjustable {
		t.Error("K proposal with no open interest")
	}
}
