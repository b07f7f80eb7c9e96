package amm

import (
	"PerpAmm/internal/fixed"
)

// AdjustResult is the proposal of a formulaic repeg or K-adjustment.
type AdjustResult struct {
	Adjustable      bool
	NewQuoteReserve fixed.Dec
	NewBaseReserve  fixed.Dec

	// Cost is the change in the traders' net position value caused by the
	// adjustment: positive costs the protocol money.
	Cost fixed.Dec
}

func notAdjustable() AdjustResult {
	return AdjustResult{NewQuoteReserve: fixed.Zero(), NewBaseReserve: fixed.Zero(), Cost: fixed.Zero()}
}

// GetFormulaicRepegResult proposes new reserves whose ratio hits the oracle
// price when mark and oracle diverge by more than the threshold. The base
// reserve is kept; only the quote reserve moves. A positive cost above budget
// is reduced by repegging part-way toward the oracle so the cost equals the
// budget exactly.
func (a *Amm) GetFormulaicRepegResult(budget fixed.Dec) AdjustResult {
	if !a.adjustable {
		return notAdjustable()
	}
	oraclePrice := a.feed.CurrentPrice()
	if !oraclePrice.IsPositive() {
		return notAdjustable()
	}
	spot := a.SpotPrice()
	divergence := fixed.DivD(spot.Sub(oraclePrice).Abs(), oraclePrice)
	if divergence.LT(repegDivergenceThreshold) {
		return notAdjustable()
	}

	positionSize := a.totalPositionSize
	if positionSize.IsZero() {
		return AdjustResult{
			Adjustable:      true,
			NewQuoteReserve: fixed.MulD(oraclePrice, a.baseAssetReserve),
			NewBaseReserve:  a.baseAssetReserve,
			Cost:            fixed.Zero(),
		}
	}

	targetPrice := oraclePrice
	cost := fixed.MulD(positionSize, targetPrice.Sub(spot))
	if cost.GT(budget) {
		if !budget.IsPositive() {
			return notAdjustable()
		}
		targetPrice = spot.Add(fixed.DivD(budget, positionSize))
		cost = fixed.MulD(positionSize, targetPrice.Sub(spot))
		if targetPrice.Equal(spot) {
			return notAdjustable()
		}
	}
	newQuote := fixed.MulD(targetPrice, a.baseAssetReserve)
	if newQuote.IsZero() {
		return notAdjustable()
	}
	return AdjustResult{
		Adjustable:      true,
		NewQuoteReserve: newQuote,
		NewBaseReserve:  a.baseAssetReserve,
		Cost:            cost,
	}
}

// GetFormulaicUpdateKResult proposes scaling both reserves by the same ratio,
// preserving price, so that the change in the traders' net position value
// matches the budget. The ratio is clamped to [kDecreaseFloor, kIncreaseCeil]
// and a decrease requires canLowerK.
func (a *Amm) GetFormulaicUpdateKResult(budget fixed.Dec) AdjustResult {
	if !a.adjustable || budget.IsZero() {
		return notAdjustable()
	}
	if budget.IsNegative() && !a.canLowerK {
		return notAdjustable()
	}
	positionSize := a.totalPositionSize
	if positionSize.IsZero() {
		return notAdjustable()
	}

	quote, base := a.quoteAssetReserve, a.baseAssetReserve
	psSquared := fixed.MulD(positionSize, positionSize)
	baseAfterClose := base.Add(positionSize)
	numerator := fixed.MulD(quote, psSquared).Add(fixed.MulD(fixed.MulD(budget, positionSize), baseAfterClose))
	denominator := fixed.MulD(quote, psSquared).Sub(fixed.MulD(fixed.MulD(budget, base), baseAfterClose))

	var ratio fixed.Dec
	if !denominator.IsPositive() {
		ratio = kIncreaseCeil
	} else {
		ratio = fixed.DivD(numerator, denominator)
	}
	ratio = fixed.Max(kDecreaseFloor, fixed.Min(ratio, kIncreaseCeil))
	if ratio.Equal(fixed.One()) {
		return notAdjustable()
	}
	if ratio.LT(fixed.One()) && !a.canLowerK {
		return notAdjustable()
	}

	newQuote := fixed.MulD(quote, ratio)
	newBase := fixed.MulD(base, ratio)
	cost := a.positionValueWithReserves(newQuote, newBase).Sub(a.positionValueWithReserves(quote, base))
	return AdjustResult{
		Adjustable:      true,
		NewQuoteReserve: newQuote,
		NewBaseReserve:  newBase,
		Cost:            cost,
	}
}

// positionValueWithReserves is the quote flow of closing the traders' entire
// net position against the given reserves, signed like the position.
func (a *Amm) positionValueWithReserves(quoteReserve, baseReserve fixed.Dec) fixed.Dec {
	ps := a.totalPositionSize
	if ps.IsZero() {
		return fixed.Zero()
	}
	return fixed.DivD(fixed.MulD(quoteReserve, ps), baseReserve.Add(ps))
}
