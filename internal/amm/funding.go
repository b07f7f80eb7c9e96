package amm

import (
	"PerpAmm/internal/event"
	"PerpAmm/internal/fixed"
)

// FundingResult carries one settlement's premium fractions. Fractions are
// signed quote-per-base amounts: a position's funding payment is
// fraction × size, subtracted from its margin.
type FundingResult struct {
	LongFraction    fixed.Dec
	ShortFraction   fixed.Dec
	FundingRate     fixed.Dec
	UnderlyingPrice fixed.Dec

	// Cost is the pool's net take, positive when the vault owes the
	// insurance fund and negative when the insurance fund covers the
	// difference. Equals LongFraction×longOI − ShortFraction×shortOI.
	Cost fixed.Dec
}

var secondsPerDay = fixed.New(86400)

// SettleFunding computes the funding premium fractions for the elapsed period
// and advances the funding schedule. Counterparty only. repegBudget caps how
// much of a funding deficit the pool may cover.
func (a *Amm) SettleFunding(caller string, repegBudget fixed.Dec, tick Tick) (FundingResult, error) {
	if caller != a.counterparty {
		return FundingResult{}, ErrUnauthorized
	}
	if !a.open {
		return FundingResult{}, ErrMarketClosed
	}
	if tick.Now.Before(a.nextFundingTime) {
		return FundingResult{}, ErrSettleFundingTooEarly
	}
	if tick.Now.Sub(a.feed.LatestTimestamp()) > oracleMaxAge {
		return FundingResult{}, ErrOraclePriceExpired
	}

	markTwap := a.GetTwapPrice(a.spotPriceTwapInterval, tick)
	oracleTwap := a.feed.TwapPrice(a.spotPriceTwapInterval)
	premium := markTwap.Sub(oracleTwap)
	premiumFraction := fixed.DivD(fixed.MulD(premium, secondsDec(a.fundingPeriod)), secondsPerDay)

	long, short, cost := a.skewedPremiumFractions(premiumFraction, repegBudget)

	// settled within the buffer keeps the schedule anchored, settled late
	// restarts it from now
	if !tick.Now.After(a.nextFundingTime.Add(a.fundingBufferPeriod)) {
		a.nextFundingTime = a.nextFundingTime.Add(a.fundingPeriod)
	} else {
		a.nextFundingTime = tick.Now.Add(a.fundingPeriod)
	}

	rate := fixed.Zero()
	if !oracleTwap.IsZero() {
		rate = fixed.DivD(premiumFraction, oracleTwap)
	}
	a.rec.Record(&event.FundingRateUpdated{
		Rate:            rate,
		UnderlyingPrice: oracleTwap,
		Market:          a.market,
	})
	return FundingResult{
		LongFraction:    long,
		ShortFraction:   short,
		FundingRate:     rate,
		UnderlyingPrice: oracleTwap,
		Cost:            cost,
	}, nil
}

// With balanced open interest both sides settle at the plain premium
// fraction. With skewed open interest the paying side always settles at the
// plain fraction; the receiving side's fraction is adjusted so that the pool
// keeps fundingRevenueTakeRate of any surplus and covers at most
// min(fundingCostCoverRate × deficit, budget) of any shortfall.
func (a *Amm) skewedPremiumFractions(premiumFraction, budget fixed.Dec) (long, short, cost fixed.Dec) {
	if premiumFraction.IsZero() || a.longPositionSize.Equal(a.shortPositionSize) {
		return premiumFraction, premiumFraction, fixed.Zero()
	}

	payerOI, receiverOI := a.longPositionSize, a.shortPositionSize
	if premiumFraction.IsNegative() {
		payerOI, receiverOI = a.shortPositionSize, a.longPositionSize
	}
	abs := premiumFraction.Abs()
	inflow := fixed.MulD(abs, payerOI)
	outflow := fixed.MulD(abs, receiverOI)

	var receiverFraction fixed.Dec
	if inflow.GTE(outflow) {
		surplus := inflow.Sub(outflow)
		take := fixed.MulD(surplus, a.fundingRevenueTakeRate)
		if receiverOI.IsZero() {
			receiverFraction = abs
			take = surplus
		} else {
			receiverFraction = fixed.DivD(outflow.Add(surplus.Sub(take)), receiverOI)
		}
		cost = take
	} else {
		deficit := outflow.Sub(inflow)
		cover := fixed.Min(fixed.MulD(deficit, a.fundingCostCoverRate), budget)
		if cover.IsNegative() {
			cover = fixed.Zero()
		}
		receiverFraction = fixed.DivD(inflow.Add(cover), receiverOI)
		cost = cover.Neg()
	}

	if premiumFraction.IsPositive() {
		return premiumFraction, receiverFraction, cost
	}
	return receiverFraction.Neg(), premiumFraction, cost
}
