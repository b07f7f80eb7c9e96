package clearinghouse

import (
	"cosmossdk.io/errors"

	"PerpAmm/internal/amm"
	"PerpAmm/internal/event"
	"PerpAmm/internal/fixed"
	"PerpAmm/internal/ledger"
	"PerpAmm/internal/position"
)

// Liquidate closes an undercollateralized position. When the remaining
// margin can absorb the liquidation penalty and partial liquidation is
// configured, only PartialLiquidationRatio of the size is closed; otherwise
// the whole position goes. Liquidations that produce bad debt are reserved
// for backstop liquidity providers.
func (c *ClearingHouse) Liquidate(liquidator, trader, marketID string, tick amm.Tick) (*event.PositionLiquidated, error) {
	return c.liquidate(liquidator, trader, marketID, fixed.Zero(), tick)
}

// LiquidateWithSlippage is Liquidate with a quote amount limit applied to the
// closing swap.
func (c *ClearingHouse) LiquidateWithSlippage(liquidator, trader, marketID string, quoteAssetAmountLimit fixed.Dec, tick amm.Tick) (*event.PositionLiquidated, error) {
	return c.liquidate(liquidator, trader, marketID, quoteAssetAmountLimit, tick)
}

func (c *ClearingHouse) liquidate(liquidator, trader, marketID string, quoteAssetAmountLimit fixed.Dec, tick amm.Tick) (*event.PositionLiquidated, error) {
	m, err := c.getMarket(marketID)
	if err != nil {
		return nil, err
	}
	if !m.amm.Open() {
		return nil, amm.ErrMarketClosed
	}
	if err := c.requireNotRestricted(m, tick); err != nil {
		return nil, err
	}
	pos := c.positions.Get(marketID, trader)
	if pos.Empty() {
		return nil, ErrEmptyPosition
	}
	ratio, err := c.GetMarginRatio(marketID, trader, tick)
	if err != nil {
		return nil, err
	}
	if !ratio.LT(m.cfg.MaintenanceMarginRatio) {
		return nil, errors.Wrapf(ErrMarginRatioNotLiquidatable, "ratio %s, maintenance %s", ratio, m.cfg.MaintenanceMarginRatio)
	}

	ammCP := m.amm.CaptureCheckpoint()
	bookCP := c.book.CaptureCheckpoint()
	oiBefore := m.openInterestNotional

	ev, err := c.executeLiquidation(m, liquidator, trader, pos, quoteAssetAmountLimit, tick)
	if err != nil {
		m.amm.Restore(ammCP)
		c.book.Restore(bookCP)
		m.openInterestNotional = oiBefore
		return nil, err
	}
	c.enterRestriction(m, tick)
	return ev, nil
}

func (c *ClearingHouse) executeLiquidation(m *market, liquidator, trader string, pos position.Position, quoteAssetAmountLimit fixed.Dec, tick amm.Tick) (*event.PositionLiquidated, error) {
	_, unrealizedPnl, err := c.positionNotionalAndPnl(m, pos, PnlSpot, tick)
	if err != nil {
		return nil, err
	}

	partialRatio := m.cfg.PartialLiquidationRatio
	if partialRatio.IsPositive() && partialRatio.LT(fixed.One()) {
		// project the partial close to see if the margin survives the
		// penalty
		closeSize := fixed.MulD(pos.Size, partialRatio)
		dir := amm.RemoveFromAmm
		if pos.Size.IsPositive() {
			dir = amm.AddToAmm
		}
		partialNotional, err := m.amm.GetOutputPrice(dir, closeSize.Abs())
		if err != nil {
			return nil, err
		}
		realizedPnl := fixed.MulD(unrealizedPnl, partialRatio)
		penalty := fixed.MulD(partialNotional, m.cfg.LiquidationFeeRatio)
		remainMargin, _, _, _ := c.calcRemainMargin(m, pos, realizedPnl)
		if remainMargin.Sub(penalty).IsPositive() {
			return c.partialLiquidate(m, liquidator, trader, pos, closeSize, unrealizedPnl, tick)
		}
	}
	return c.fullLiquidate(m, liquidator, trader, pos, quoteAssetAmountLimit, unrealizedPnl, tick)
}

func (c *ClearingHouse) partialLiquidate(m *market, liquidator, trader string, pos position.Position, closeSize, unrealizedPnl fixed.Dec, tick amm.Tick) (*event.PositionLiquidated, error) {
	marketID := m.amm.Market()
	oldNotional, _, err := c.positionNotionalAndPnl(m, pos, PnlSpot, tick)
	if err != nil {
		return nil, err
	}

	dir := amm.RemoveFromAmm
	if pos.Size.IsPositive() {
		dir = amm.AddToAmm
	}
	exchangedQuote, err := m.amm.SwapOutput(dir, closeSize.Abs(), fixed.Zero(), true, tick)
	if err != nil {
		return nil, err
	}

	realizedPnl := fixed.MulD(unrealizedPnl, m.cfg.PartialLiquidationRatio)
	penalty := fixed.MulD(exchangedQuote, m.cfg.LiquidationFeeRatio)
	remainMargin, _, fundingPayment, latestCPF := c.calcRemainMargin(m, pos, realizedPnl)
	newMargin := remainMargin.Sub(penalty)

	unrealizedPnlAfter := unrealizedPnl.Sub(realizedPnl)
	notionalAfter := oldNotional.Sub(exchangedQuote)
	var remainOpenNotional fixed.Dec
	if pos.Size.IsPositive() {
		remainOpenNotional = notionalAfter.Sub(unrealizedPnlAfter)
	} else {
		remainOpenNotional = notionalAfter.Add(unrealizedPnlAfter)
	}
	if err := c.updateOpenInterest(m, trader, exchangedQuote.Neg()); err != nil {
		return nil, err
	}

	feeToLiquidator := fixed.DivD(penalty, fixed.New(2))
	feeToInsurance := penalty.Sub(feeToLiquidator)
	if err := c.withdrawFromVault(m, ledger.TraderAccount(liquidator), feeToLiquidator, ledger.ReasonLiquidationFee, tick); err != nil {
		return nil, err
	}
	if err := c.book.Transfer(ledger.VaultAccount(marketID), ledger.InsuranceAccount(marketID), feeToInsurance, ledger.ReasonLiquidationFee, tick.Now); err != nil {
		return nil, err
	}

	newSize := pos.Size.Sub(closeSize)
	next := position.Position{
		Size:                                 newSize,
		Margin:                               newMargin,
		OpenNotional:                         remainOpenNotional.Abs(),
		LastUpdatedCumulativePremiumFraction: latestCPF,
		BlockNumber:                          tick.Block,
	}
	c.positions.Set(marketID, trader, next)
	m.amm.RecordPositionChange(pos.Size, newSize)

	exchangedSize := closeSize.Neg()
	liquidated := &event.PositionLiquidated{
		Trader:             trader,
		Market:             marketID,
		PositionNotional:   exchangedQuote,
		PositionSize:       closeSize.Abs(),
		FeeToLiquidator:    feeToLiquidator,
		FeeToInsuranceFund: feeToInsurance,
		Liquidator:         liquidator,
		BadDebt:            fixed.Zero(),
	}
	c.rec.Record(liquidated)
	c.rec.Record(&event.PositionChanged{
		Trader:                trader,
		Market:                marketID,
		Margin:                newMargin,
		PositionNotional:      exchangedQuote,
		ExchangedPositionSize: exchangedSize,
		Fee:                   fixed.Zero(),
		PositionSizeAfter:     newSize,
		RealizedPnl:           realizedPnl,
		UnrealizedPnlAfter:    unrealizedPnlAfter,
		BadDebt:               fixed.Zero(),
		LiquidationPenalty:    penalty,
		SpotPrice:             m.amm.SpotPrice(),
		FundingPayment:        fundingPayment,
	})
	return liquidated, nil
}

func (c *ClearingHouse) fullLiquidate(m *market, liquidator, trader string, pos position.Position, quoteAssetAmountLimit, unrealizedPnl fixed.Dec, tick amm.Tick) (*event.PositionLiquidated, error) {
	marketID := m.amm.Market()

	// a close that cannot cover its own margin produces bad debt; only a
	// backstop liquidity provider may realize that against the insurance
	// fund
	latestCPF := m.latestCumulativePremiumFraction(pos.Size)
	fundingPayment := fixed.MulD(latestCPF.Sub(pos.LastUpdatedCumulativePremiumFraction), pos.Size)
	signedRemain := pos.Margin.Add(unrealizedPnl).Sub(fundingPayment)
	if signedRemain.IsNegative() && !c.backstop[liquidator] {
		return nil, errors.Wrapf(ErrUnauthorized, "%s is not a backstop liquidity provider", liquidator)
	}

	closeResp, err := c.internalClosePosition(m, trader, pos, quoteAssetAmountLimit, true, tick)
	if err != nil {
		return nil, err
	}

	remainMargin := closeResp.marginToVault.Neg()
	feeToLiquidator := fixed.Zero()
	liquidationBadDebt := fixed.Zero()
	if closeResp.badDebt.IsPositive() {
		// margin is gone: the liquidator fee and the shortfall both
		// come out of the insurance fund
		feeToLiquidator = fixed.MulD(closeResp.exchangedQuoteAmount, m.cfg.LiquidationFeeRatio)
		liquidationBadDebt = closeResp.badDebt.Add(feeToLiquidator)
		if err := c.realizeBadDebt(m, liquidationBadDebt, tick); err != nil {
			return nil, err
		}
	} else {
		// residual margin goes to the liquidator in full
		feeToLiquidator = remainMargin
	}
	if err := c.withdrawFromVault(m, ledger.TraderAccount(liquidator), feeToLiquidator, ledger.ReasonLiquidationFee, tick); err != nil {
		return nil, err
	}

	c.positions.Clear(marketID, trader)
	m.amm.RecordPositionChange(pos.Size, fixed.Zero())

	liquidated := &event.PositionLiquidated{
		Trader:             trader,
		Market:             marketID,
		PositionNotional:   closeResp.exchangedQuoteAmount,
		PositionSize:       pos.Size.Abs(),
		FeeToLiquidator:    feeToLiquidator,
		FeeToInsuranceFund: fixed.Zero(),
		Liquidator:         liquidator,
		BadDebt:            liquidationBadDebt,
	}
	c.rec.Record(liquidated)
	c.rec.Record(&event.PositionChanged{
		Trader:                trader,
		Market:                marketID,
		Margin:                fixed.Zero(),
		PositionNotional:      closeResp.exchangedQuoteAmount,
		ExchangedPositionSize: closeResp.exchangedPositionSize,
		Fee:                   fixed.Zero(),
		PositionSizeAfter:     fixed.Zero(),
		RealizedPnl:           closeResp.realizedPnl,
		UnrealizedPnlAfter:    fixed.Zero(),
		BadDebt:               closeResp.badDebt,
		LiquidationPenalty:    feeToLiquidator,
		SpotPrice:             m.amm.SpotPrice(),
		FundingPayment:        closeResp.fundingPayment,
	})
	return liquidated, nil
}
