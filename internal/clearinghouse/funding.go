package clearinghouse

import (
	"PerpAmm/internal/amm"
	"PerpAmm/internal/fixed"
	"PerpAmm/internal/ledger"
)

// PayFunding settles one funding period for the market: the amm computes the
// per-side premium fractions, the cumulative histories advance, and the net
// amount moves between the vault and the insurance fund.
func (c *ClearingHouse) PayFunding(marketID string, tick amm.Tick) (amm.FundingResult, error) {
	m, err := c.getMarket(marketID)
	if err != nil {
		return amm.FundingResult{}, err
	}

	ammCP := m.amm.CaptureCheckpoint()
	budget := c.fund.Budget(marketID)
	res, err := m.amm.SettleFunding(c.id, budget, tick)
	if err != nil {
		return amm.FundingResult{}, err
	}

	vault := ledger.VaultAccount(marketID)
	if res.Cost.IsPositive() {
		err = c.book.Transfer(vault, ledger.InsuranceAccount(marketID), res.Cost, ledger.ReasonFunding, tick.Now)
	} else if res.Cost.IsNegative() {
		err = c.fund.Withdraw(c.id, marketID, vault, res.Cost.Neg(), ledger.ReasonFunding, tick.Now)
	}
	if err != nil {
		m.amm.Restore(ammCP)
		return amm.FundingResult{}, err
	}

	m.longCumulativePremiumFractions = append(m.longCumulativePremiumFractions,
		m.latestCumulativePremiumFraction(fixed.One()).Add(res.LongFraction))
	m.shortCumulativePremiumFractions = append(m.shortCumulativePremiumFractions,
		m.latestCumulativePremiumFraction(fixed.One().Neg()).Add(res.ShortFraction))

	c.log.Info().
		Str("market", marketID).
		Str("rate", res.FundingRate.String()).
		Str("cost", res.Cost.String()).
		Msg("funding settled")
	return res, nil
}
