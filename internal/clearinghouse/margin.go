package clearinghouse

import (
	"cosmossdk.io/errors"

	"PerpAmm/internal/amm"
	"PerpAmm/internal/event"
	"PerpAmm/internal/fixed"
	"PerpAmm/internal/ledger"
	"PerpAmm/internal/position"
)

// PnlCalcOption selects the price source for notional and pnl.
type PnlCalcOption int

const (
	PnlSpot PnlCalcOption = iota
	PnlTwap
)

// latestCumulativePremiumFraction returns the running premium fraction for
// the position's side. Longs and shorts accrue separately.
func (m *market) latestCumulativePremiumFraction(size fixed.Dec) fixed.Dec {
	if size.IsNegative() {
		if n := len(m.shortCumulativePremiumFractions); n > 0 {
			return m.shortCumulativePremiumFractions[n-1]
		}
		return fixed.Zero()
	}
	if n := len(m.longCumulativePremiumFractions); n > 0 {
		return m.longCumulativePremiumFractions[n-1]
	}
	return fixed.Zero()
}

// calcRemainMargin applies the pending funding payment and a signed margin
// delta. A negative outcome is returned as bad debt with the margin floored
// at zero.
func (c *ClearingHouse) calcRemainMargin(m *market, pos position.Position, marginDelta fixed.Dec) (remainMargin, badDebt, fundingPayment, latestCPF fixed.Dec) {
	latestCPF = m.latestCumulativePremiumFraction(pos.Size)
	fundingPayment = fixed.Zero()
	if !pos.Size.IsZero() {
		fundingPayment = fixed.MulD(latestCPF.Sub(pos.LastUpdatedCumulativePremiumFraction), pos.Size)
	}
	signed := pos.Margin.Add(marginDelta).Sub(fundingPayment)
	if signed.IsNegative() {
		return fixed.Zero(), signed.Neg(), fundingPayment, latestCPF
	}
	return signed, fixed.Zero(), fundingPayment, latestCPF
}

// positionNotionalAndPnl values the position at the chosen price source.
func (c *ClearingHouse) positionNotionalAndPnl(m *market, pos position.Position, opt PnlCalcOption, tick amm.Tick) (notional, pnl fixed.Dec, err error) {
	if pos.Empty() {
		return fixed.Zero(), fixed.Zero(), nil
	}
	isLong := pos.Size.IsPositive()
	dir := amm.RemoveFromAmm
	if isLong {
		dir = amm.AddToAmm
	}
	switch opt {
	case PnlTwap:
		notional, err = m.amm.GetOutputTwap(dir, pos.Size.Abs(), tick)
	default:
		notional, err = m.amm.GetOutputPrice(dir, pos.Size.Abs())
	}
	if err != nil {
		return fixed.Zero(), fixed.Zero(), err
	}
	if isLong {
		pnl = notional.Sub(pos.OpenNotional)
	} else {
		pnl = pos.OpenNotional.Sub(notional)
	}
	return notional, pnl, nil
}

// PositionNotionalAndUnrealizedPnl values a trader's position at the chosen
// price source, for the read API.
func (c *ClearingHouse) PositionNotionalAndUnrealizedPnl(marketID, trader string, opt PnlCalcOption, tick amm.Tick) (notional, pnl fixed.Dec, err error) {
	m, err := c.getMarket(marketID)
	if err != nil {
		return fixed.Zero(), fixed.Zero(), err
	}
	return c.positionNotionalAndPnl(m, c.positions.Get(marketID, trader), opt, tick)
}

// preferencePnl returns the valuation with the worse pnl of spot and twap.
func (c *ClearingHouse) preferencePnl(m *market, pos position.Position, tick amm.Tick) (notional, pnl fixed.Dec, err error) {
	spotNotional, spotPnl, err := c.positionNotionalAndPnl(m, pos, PnlSpot, tick)
	if err != nil {
		return fixed.Zero(), fixed.Zero(), err
	}
	twapNotional, twapPnl, err := c.positionNotionalAndPnl(m, pos, PnlTwap, tick)
	if err != nil {
		return fixed.Zero(), fixed.Zero(), err
	}
	if spotPnl.GT(twapPnl) {
		return twapNotional, twapPnl, nil
	}
	return spotNotional, spotPnl, nil
}

// GetMarginRatio returns (margin + unrealized pnl − pending funding) divided
// by the position notional, using the worse of spot and twap pnl. It is
// signed: underwater positions go negative.
func (c *ClearingHouse) GetMarginRatio(marketID, trader string, tick amm.Tick) (fixed.Dec, error) {
	m, err := c.getMarket(marketID)
	if err != nil {
		return fixed.Zero(), err
	}
	pos := c.positions.Get(marketID, trader)
	if pos.Empty() {
		return fixed.Zero(), ErrEmptyPosition
	}
	notional, pnl, err := c.preferencePnl(m, pos, tick)
	if err != nil {
		return fixed.Zero(), err
	}
	latestCPF := m.latestCumulativePremiumFraction(pos.Size)
	fundingPayment := fixed.MulD(latestCPF.Sub(pos.LastUpdatedCumulativePremiumFraction), pos.Size)
	return fixed.DivD(pos.Margin.Add(pnl).Sub(fundingPayment), notional), nil
}

// IsLiquidatable reports whether the trader's margin ratio is below the
// market's maintenance threshold.
func (c *ClearingHouse) IsLiquidatable(marketID, trader string, tick amm.Tick) (bool, error) {
	m, err := c.getMarket(marketID)
	if err != nil {
		return false, err
	}
	ratio, err := c.GetMarginRatio(marketID, trader, tick)
	if err != nil {
		return false, err
	}
	return ratio.LT(m.cfg.MaintenanceMarginRatio), nil
}

// AddMargin moves amount from the trader's account into the vault and credits
// the position's margin. Funding is settled on the way.
func (c *ClearingHouse) AddMargin(trader, marketID string, amount fixed.Dec, tick amm.Tick) (*event.MarginChanged, error) {
	m, err := c.getMarket(marketID)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, errors.Wrap(ErrInvalidInput, "amount must be positive")
	}
	pos := c.positions.Get(marketID, trader)
	if pos.Empty() {
		return nil, ErrEmptyPosition
	}

	remainMargin, badDebt, fundingPayment, latestCPF := c.calcRemainMargin(m, pos, amount)
	if badDebt.IsPositive() {
		return nil, errors.Wrapf(ErrInsufficientMargin, "funding payment %s exceeds margin", fundingPayment)
	}
	if err := c.book.Transfer(ledger.TraderAccount(trader), ledger.VaultAccount(marketID), amount, ledger.ReasonMarginDeposit, tick.Now); err != nil {
		return nil, errors.Wrap(ErrInsufficientMargin, err.Error())
	}

	pos.Margin = remainMargin
	pos.LastUpdatedCumulativePremiumFraction = latestCPF
	pos.BlockNumber = tick.Block
	c.positions.Set(marketID, trader, pos)

	ev := &event.MarginChanged{Sender: trader, Market: marketID, Amount: amount, FundingPayment: fundingPayment}
	c.rec.Record(ev)
	return ev, nil
}

// RemoveMargin pays amount from the vault back to the trader, as long as the
// position keeps enough free collateral to satisfy the initial margin
// requirement. Only negative unrealized pnl counts against the collateral.
func (c *ClearingHouse) RemoveMargin(trader, marketID string, amount fixed.Dec, tick amm.Tick) (*event.MarginChanged, error) {
	m, err := c.getMarket(marketID)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, errors.Wrap(ErrInvalidInput, "amount must be positive")
	}
	if err := c.requireNotRestricted(m, tick); err != nil {
		return nil, err
	}
	pos := c.positions.Get(marketID, trader)
	if pos.Empty() {
		return nil, ErrEmptyPosition
	}

	remainMargin, badDebt, fundingPayment, latestCPF := c.calcRemainMargin(m, pos, amount.Neg())
	if badDebt.IsPositive() {
		return nil, errors.Wrap(ErrInsufficientMargin, "margin is not enough")
	}

	next := pos
	next.Margin = remainMargin
	next.LastUpdatedCumulativePremiumFraction = latestCPF
	_, spotPnl, err := c.positionNotionalAndPnl(m, next, PnlSpot, tick)
	if err != nil {
		return nil, err
	}
	accountValue := remainMargin.Add(fixed.Min(fixed.Zero(), spotPnl))
	requirement := fixed.MulD(next.OpenNotional, m.cfg.InitMarginRatio)
	if accountValue.LT(requirement) {
		return nil, errors.Wrapf(ErrInsufficientMargin, "free collateral %s below requirement %s", accountValue.Sub(requirement), requirement)
	}

	if err := c.withdrawFromVault(m, ledger.TraderAccount(trader), amount, ledger.ReasonMarginWithdraw, tick); err != nil {
		return nil, err
	}
	next.BlockNumber = tick.Block
	c.positions.Set(marketID, trader, next)

	ev := &event.MarginChanged{Sender: trader, Market: marketID, Amount: amount.Neg(), FundingPayment: fundingPayment}
	c.rec.Record(ev)
	return ev, nil
}
