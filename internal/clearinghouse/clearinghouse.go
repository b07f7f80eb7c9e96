package clearinghouse

import (
	"cosmossdk.io/errors"
	"github.com/rs/zerolog"

	"PerpAmm/internal/amm"
	"PerpAmm/internal/event"
	"PerpAmm/internal/fixed"
	"PerpAmm/internal/insurance"
	"PerpAmm/internal/ledger"
	"PerpAmm/internal/position"
)

// Side of a trade relative to the base asset.
type Side int32

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

func (s Side) direction() amm.Direction {
	if s == Buy {
		return amm.AddToAmm
	}
	return amm.RemoveFromAmm
}

// MarketConfig holds the per-market risk parameters.
type MarketConfig struct {
	InitMarginRatio        fixed.Dec
	MaintenanceMarginRatio fixed.Dec
	LiquidationFeeRatio    fixed.Dec

	// PartialLiquidationRatio in (0, 1) enables partial liquidations.
	PartialLiquidationRatio fixed.Dec

	// MaxHoldingBaseAsset caps one trader's |size|, zero disables.
	MaxHoldingBaseAsset fixed.Dec

	// OpenInterestNotionalCap caps the market's total open notional,
	// zero disables.
	OpenInterestNotionalCap fixed.Dec
}

// market bundles an amm with its risk parameters and funding history.
type market struct {
	amm *amm.Amm
	cfg MarketConfig

	// cumulative premium fractions per side, appended on every funding
	// settlement
	longCumulativePremiumFractions  []fixed.Dec
	shortCumulativePremiumFractions []fixed.Dec

	openInterestNotional fixed.Dec

	// block of the last liquidation or bad debt, gates sensitive actions
	lastRestrictionBlock int64
}

// ClearingHouse is the margin engine: it keeps positions, margins and open
// interest consistent with the amm pools and the shared ledger. Single
// writer, serialized by the engine.
type ClearingHouse struct {
	id    string
	owner string

	positions *position.Store
	book      *ledger.Book
	fund      *insurance.Fund
	markets   map[string]*market

	// whitelist bypasses the open interest cap
	whitelist map[string]bool

	// backstop liquidity providers may liquidate into bad debt
	backstop map[string]bool

	rec event.Recorder
	log zerolog.Logger
}

func New(id, owner string, positions *position.Store, book *ledger.Book, fund *insurance.Fund, rec event.Recorder, log zerolog.Logger) *ClearingHouse {
	return &ClearingHouse{
		id:        id,
		owner:     owner,
		positions: positions,
		book:      book,
		fund:      fund,
		markets:   make(map[string]*market),
		whitelist: make(map[string]bool),
		backstop:  make(map[string]bool),
		rec:       rec,
		log:       log,
	}
}

func (c *ClearingHouse) ID() string { return c.id }

// AddMarket registers an amm with its risk parameters. Owner only.
func (c *ClearingHouse) AddMarket(caller string, a *amm.Amm, cfg MarketConfig) error {
	if caller != c.owner {
		return ErrUnauthorized
	}
	if !cfg.InitMarginRatio.IsPositive() || !cfg.MaintenanceMarginRatio.IsPositive() {
		return errors.Wrap(ErrInvalidInput, "margin ratios must be positive")
	}
	if cfg.MaintenanceMarginRatio.GT(cfg.InitMarginRatio) {
		return errors.Wrap(ErrInvalidInput, "maintenance margin ratio above initial")
	}
	c.markets[a.Market()] = &market{
		amm:                  a,
		cfg:                  cfg,
		openInterestNotional: fixed.Zero(),
	}
	return nil
}

func (c *ClearingHouse) getMarket(marketID string) (*market, error) {
	m, ok := c.markets[marketID]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownMarket, "%s", marketID)
	}
	return m, nil
}

// SetWhitelist exempts a trader from the open interest cap. Owner only.
func (c *ClearingHouse) SetWhitelist(caller, trader string, on bool) error {
	if caller != c.owner {
		return ErrUnauthorized
	}
	c.whitelist[trader] = on
	return nil
}

// SetBackstopLiquidityProvider marks an account allowed to trigger bad-debt
// liquidations. Owner only.
func (c *ClearingHouse) SetBackstopLiquidityProvider(caller, account string, on bool) error {
	if caller != c.owner {
		return ErrUnauthorized
	}
	c.backstop[account] = on
	return nil
}

func (c *ClearingHouse) IsBackstopLiquidityProvider(account string) bool {
	return c.backstop[account]
}

// OpenInterestNotional returns the market's current open notional.
func (c *ClearingHouse) OpenInterestNotional(marketID string) fixed.Dec {
	if m, ok := c.markets[marketID]; ok {
		return m.openInterestNotional
	}
	return fixed.Zero()
}

// Position returns the trader's current position.
func (c *ClearingHouse) Position(marketID, trader string) position.Position {
	return c.positions.Get(marketID, trader)
}

// MarketSnapshot is the per-market mutable state not derivable from the
// position store, exported for snapshots and read APIs.
type MarketSnapshot struct {
	Market                          string
	LongCumulativePremiumFractions  []fixed.Dec
	ShortCumulativePremiumFractions []fixed.Dec
	OpenInterestNotional            fixed.Dec
	LastRestrictionBlock            int64
}

// SnapshotMarkets exports every market's mutable state.
func (c *ClearingHouse) SnapshotMarkets() []MarketSnapshot {
	out := make([]MarketSnapshot, 0, len(c.markets))
	for id, m := range c.markets {
		out = append(out, MarketSnapshot{
			Market:                          id,
			LongCumulativePremiumFractions:  append([]fixed.Dec(nil), m.longCumulativePremiumFractions...),
			ShortCumulativePremiumFractions: append([]fixed.Dec(nil), m.shortCumulativePremiumFractions...),
			OpenInterestNotional:            m.openInterestNotional,
			LastRestrictionBlock:            m.lastRestrictionBlock,
		})
	}
	return out
}

// RestoreMarket reseats one market's mutable state on warm restart. The
// market must have been added first.
func (c *ClearingHouse) RestoreMarket(caller string, snap MarketSnapshot) error {
	if caller != c.owner {
		return ErrUnauthorized
	}
	m, err := c.getMarket(snap.Market)
	if err != nil {
		return err
	}
	m.longCumulativePremiumFractions = append([]fixed.Dec(nil), snap.LongCumulativePremiumFractions...)
	m.shortCumulativePremiumFractions = append([]fixed.Dec(nil), snap.ShortCumulativePremiumFractions...)
	m.openInterestNotional = snap.OpenInterestNotional
	m.lastRestrictionBlock = snap.LastRestrictionBlock
	return nil
}

// positionResp carries the outcome of one position mutation before it is
// committed to the store and the ledger.
type positionResp struct {
	position position.Position

	exchangedQuoteAmount  fixed.Dec
	exchangedPositionSize fixed.Dec
	realizedPnl           fixed.Dec
	unrealizedPnlAfter    fixed.Dec
	badDebt               fixed.Dec
	fundingPayment        fixed.Dec

	// marginToVault is the trader's net margin flow, positive into the
	// vault
	marginToVault fixed.Dec

	// fees, set by settleBalances
	toll fixed.Dec
	fee  fixed.Dec
}

func (c *ClearingHouse) requireNotRestricted(m *market, tick amm.Tick) error {
	if m.lastRestrictionBlock == tick.Block && tick.Block != 0 {
		return errors.Wrapf(ErrRestrictedMode, "market %s, block %d", m.amm.Market(), tick.Block)
	}
	return nil
}

func (c *ClearingHouse) enterRestriction(m *market, tick amm.Tick) {
	m.lastRestrictionBlock = tick.Block
}

// updateOpenInterest applies a signed notional delta, enforcing the cap on
// increases for non-whitelisted traders. The total floors at zero.
func (c *ClearingHouse) updateOpenInterest(m *market, trader string, delta fixed.Dec) error {
	next := m.openInterestNotional.Add(delta)
	if delta.IsPositive() && !c.whitelist[trader] {
		cap := m.cfg.OpenInterestNotionalCap
		if cap.IsPositive() && next.GT(cap) {
			return errors.Wrapf(ErrOpenInterestCapExceeded, "cap %s, would be %s", cap, next)
		}
	}
	m.openInterestNotional = fixed.Max(next, fixed.Zero())
	return nil
}

func (c *ClearingHouse) checkHolding(m *market, trader string, newSize fixed.Dec) error {
	max := m.cfg.MaxHoldingBaseAsset
	if max.IsPositive() && newSize.Abs().GT(max) {
		return errors.Wrapf(ErrInsufficientMargin, "position size %s over holding limit %s", newSize, max)
	}
	return nil
}

// withdrawFromVault pays out of the market's vault, drawing the shortfall
// from the insurance fund when the vault cannot cover it.
func (c *ClearingHouse) withdrawFromVault(m *market, to string, amount fixed.Dec, reason string, tick amm.Tick) error {
	if !amount.IsPositive() {
		return nil
	}
	marketID := m.amm.Market()
	vault := ledger.VaultAccount(marketID)
	bal := c.book.Balance(vault)
	if bal.LT(amount) {
		shortfall := amount.Sub(bal)
		if err := c.fund.Withdraw(c.id, marketID, vault, shortfall, ledger.ReasonBadDebt, tick.Now); err != nil {
			return err
		}
	}
	return c.book.Transfer(vault, to, amount, reason, tick.Now)
}

// realizeBadDebt moves the shortfall from the insurance fund into the vault
// so the counterparty side can still be paid in full.
func (c *ClearingHouse) realizeBadDebt(m *market, badDebt fixed.Dec, tick amm.Tick) error {
	if !badDebt.IsPositive() {
		return nil
	}
	marketID := m.amm.Market()
	return c.fund.Withdraw(c.id, marketID, ledger.VaultAccount(marketID), badDebt, ledger.ReasonBadDebt, tick.Now)
}

// settleBalances moves the margin flow and fees for one mutation. Fees are
// charged on the exchanged quote amount: toll to the fee pool, spread to the
// insurance fund.
func (c *ClearingHouse) settleBalances(m *market, trader string, resp *positionResp, tick amm.Tick) error {
	marketID := m.amm.Market()
	vault := ledger.VaultAccount(marketID)
	account := ledger.TraderAccount(trader)

	if resp.marginToVault.IsPositive() {
		if err := c.book.Transfer(account, vault, resp.marginToVault, ledger.ReasonMarginDeposit, tick.Now); err != nil {
			return errors.Wrap(ErrInsufficientMargin, err.Error())
		}
	} else if resp.marginToVault.IsNegative() {
		if err := c.withdrawFromVault(m, account, resp.marginToVault.Neg(), ledger.ReasonMarginWithdraw, tick); err != nil {
			return err
		}
	}
	if err := c.realizeBadDebt(m, resp.badDebt, tick); err != nil {
		return err
	}

	toll, spread := m.amm.CalcFee(resp.exchangedQuoteAmount)
	if toll.IsPositive() {
		if err := c.book.Transfer(account, ledger.FeePoolAccount(marketID), toll, ledger.ReasonToll, tick.Now); err != nil {
			return errors.Wrap(ErrInsufficientMargin, err.Error())
		}
	}
	if spread.IsPositive() {
		if err := c.book.Transfer(account, ledger.InsuranceAccount(marketID), spread, ledger.ReasonSpread, tick.Now); err != nil {
			return errors.Wrap(ErrInsufficientMargin, err.Error())
		}
	}
	resp.toll = toll
	resp.fee = toll.Add(spread)
	return nil
}

// OpenPosition opens or extends a position with quoteAssetAmount margin at
// the given leverage, or reduces/reverses an opposite one. The whole call is
// atomic: on any failure the amm, the ledger and the open interest are left
// untouched.
func (c *ClearingHouse) OpenPosition(trader, marketID string, side Side, quoteAssetAmount, leverage, baseAssetAmountLimit fixed.Dec, canOverFluctuationLimit bool, tick amm.Tick) (*event.PositionChanged, error) {
	m, err := c.getMarket(marketID)
	if err != nil {
		return nil, err
	}
	if !quoteAssetAmount.IsPositive() || !leverage.IsPositive() {
		return nil, errors.Wrap(ErrInvalidInput, "amount and leverage must be positive")
	}
	if fixed.DivD(fixed.One(), leverage).LT(m.cfg.InitMarginRatio) {
		return nil, errors.Wrapf(ErrInsufficientMargin, "leverage %s over maximum", leverage)
	}
	if !m.amm.Open() {
		return nil, amm.ErrMarketClosed
	}
	if err := c.requireNotRestricted(m, tick); err != nil {
		return nil, err
	}

	pos := c.positions.Get(marketID, trader)
	openNotional := fixed.MulD(quoteAssetAmount, leverage)
	sameDir := pos.Empty() || (side == Buy) == pos.Size.IsPositive()

	ammCP := m.amm.CaptureCheckpoint()
	bookCP := c.book.CaptureCheckpoint()
	oiBefore := m.openInterestNotional

	var resp *positionResp
	if sameDir {
		resp, err = c.increasePosition(m, trader, pos, side, quoteAssetAmount, openNotional, baseAssetAmountLimit, canOverFluctuationLimit, tick)
	} else {
		resp, err = c.openReversePosition(m, trader, pos, side, leverage, openNotional, baseAssetAmountLimit, canOverFluctuationLimit, tick)
	}
	if err == nil {
		err = c.settleBalances(m, trader, resp, tick)
	}
	if err != nil {
		m.amm.Restore(ammCP)
		c.book.Restore(bookCP)
		m.openInterestNotional = oiBefore
		return nil, err
	}

	c.positions.Set(marketID, trader, resp.position)
	m.amm.RecordPositionChange(pos.Size, resp.position.Size)
	if resp.badDebt.IsPositive() {
		c.enterRestriction(m, tick)
	}
	c.formulaicAdjust(m, resp.toll, tick)

	ev := &event.PositionChanged{
		Trader:                trader,
		Market:                marketID,
		Margin:                resp.position.Margin,
		PositionNotional:      resp.exchangedQuoteAmount,
		ExchangedPositionSize: resp.exchangedPositionSize,
		Fee:                   resp.fee,
		PositionSizeAfter:     resp.position.Size,
		RealizedPnl:           resp.realizedPnl,
		UnrealizedPnlAfter:    resp.unrealizedPnlAfter,
		BadDebt:               resp.badDebt,
		LiquidationPenalty:    fixed.Zero(),
		SpotPrice:             m.amm.SpotPrice(),
		FundingPayment:        resp.fundingPayment,
	}
	c.rec.Record(ev)
	return ev, nil
}

func (c *ClearingHouse) increasePosition(m *market, trader string, pos position.Position, side Side, marginDelta, openNotional, baseAssetAmountLimit fixed.Dec, canOverFluctuationLimit bool, tick amm.Tick) (*positionResp, error) {
	base, err := m.amm.SwapInput(side.direction(), openNotional, baseAssetAmountLimit, canOverFluctuationLimit, tick)
	if err != nil {
		return nil, err
	}
	exchangedSize := base
	if side == Sell {
		exchangedSize = base.Neg()
	}
	newSize := pos.Size.Add(exchangedSize)
	if err := c.checkHolding(m, trader, newSize); err != nil {
		return nil, err
	}
	if err := c.updateOpenInterest(m, trader, openNotional); err != nil {
		return nil, err
	}

	remainMargin, badDebt, fundingPayment, latestCPF := c.calcRemainMargin(m, pos, marginDelta)
	newOpenNotional := pos.OpenNotional.Add(openNotional)
	if fixed.DivD(remainMargin, newOpenNotional).LT(m.cfg.InitMarginRatio) {
		return nil, errors.Wrapf(ErrInsufficientMargin, "margin %s below initial requirement on %s notional", remainMargin, newOpenNotional)
	}

	resp := &positionResp{
		position: position.Position{
			Size:                                 newSize,
			Margin:                               remainMargin,
			OpenNotional:                         newOpenNotional,
			LastUpdatedCumulativePremiumFraction: latestCPF,
			BlockNumber:                          tick.Block,
		},
		exchangedQuoteAmount:  openNotional,
		exchangedPositionSize: exchangedSize,
		realizedPnl:           fixed.Zero(),
		badDebt:               badDebt,
		fundingPayment:        fundingPayment,
		marginToVault:         marginDelta,
	}
	_, resp.unrealizedPnlAfter, err = c.positionNotionalAndPnl(m, resp.position, PnlSpot, tick)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *ClearingHouse) openReversePosition(m *market, trader string, pos position.Position, side Side, leverage, openNotional, baseAssetAmountLimit fixed.Dec, canOverFluctuationLimit bool, tick amm.Tick) (*positionResp, error) {
	oldNotional, unrealizedPnl, err := c.positionNotionalAndPnl(m, pos, PnlSpot, tick)
	if err != nil {
		return nil, err
	}
	if oldNotional.GT(openNotional) {
		return c.reducePosition(m, trader, pos, side, openNotional, oldNotional, unrealizedPnl, baseAssetAmountLimit, canOverFluctuationLimit, tick)
	}
	return c.closeAndOpenReverse(m, trader, pos, side, leverage, openNotional, baseAssetAmountLimit, canOverFluctuationLimit, tick)
}

func (c *ClearingHouse) reducePosition(m *market, trader string, pos position.Position, side Side, openNotional, oldNotional, unrealizedPnl, baseAssetAmountLimit fixed.Dec, canOverFluctuationLimit bool, tick amm.Tick) (*positionResp, error) {
	base, err := m.amm.SwapInput(side.direction(), openNotional, baseAssetAmountLimit, canOverFluctuationLimit, tick)
	if err != nil {
		return nil, err
	}
	exchangedSize := base
	if side == Sell {
		exchangedSize = base.Neg()
	}

	// realize pnl in proportion to the size closed
	realizedPnl := fixed.Zero()
	if !pos.Size.IsZero() {
		realizedPnl = fixed.MulD(unrealizedPnl, fixed.DivD(exchangedSize.Abs(), pos.Size.Abs()))
	}
	remainMargin, badDebt, fundingPayment, latestCPF := c.calcRemainMargin(m, pos, realizedPnl)

	unrealizedPnlAfter := unrealizedPnl.Sub(realizedPnl)
	notionalAfter := oldNotional.Sub(openNotional)
	var remainOpenNotional fixed.Dec
	if pos.Size.IsPositive() {
		remainOpenNotional = notionalAfter.Sub(unrealizedPnlAfter)
	} else {
		remainOpenNotional = notionalAfter.Add(unrealizedPnlAfter)
	}

	if err := c.updateOpenInterest(m, trader, openNotional.Neg()); err != nil {
		return nil, err
	}

	return &positionResp{
		position: position.Position{
			Size:                                 pos.Size.Add(exchangedSize),
			Margin:                               remainMargin,
			OpenNotional:                         remainOpenNotional.Abs(),
			LastUpdatedCumulativePremiumFraction: latestCPF,
			BlockNumber:                          tick.Block,
		},
		exchangedQuoteAmount:  openNotional,
		exchangedPositionSize: exchangedSize,
		realizedPnl:           realizedPnl,
		unrealizedPnlAfter:    unrealizedPnlAfter,
		badDebt:               badDebt,
		fundingPayment:        fundingPayment,
		marginToVault:         fixed.Zero(),
	}, nil
}

func (c *ClearingHouse) closeAndOpenReverse(m *market, trader string, pos position.Position, side Side, leverage, openNotional, baseAssetAmountLimit fixed.Dec, canOverFluctuationLimit bool, tick amm.Tick) (*positionResp, error) {
	closeResp, err := c.internalClosePosition(m, trader, pos, fixed.Zero(), canOverFluctuationLimit, tick)
	if err != nil {
		return nil, err
	}

	remaining := openNotional.Sub(closeResp.exchangedQuoteAmount)
	if !remaining.IsPositive() {
		return closeResp, nil
	}

	remLimit := fixed.Zero()
	if baseAssetAmountLimit.GT(closeResp.exchangedPositionSize.Abs()) {
		remLimit = baseAssetAmountLimit.Sub(closeResp.exchangedPositionSize.Abs())
	}
	base, err := m.amm.SwapInput(side.direction(), remaining, remLimit, canOverFluctuationLimit, tick)
	if err != nil {
		return nil, err
	}
	newSize := base
	if side == Sell {
		newSize = base.Neg()
	}
	if err := c.checkHolding(m, trader, newSize); err != nil {
		return nil, err
	}
	if err := c.updateOpenInterest(m, trader, remaining); err != nil {
		return nil, err
	}

	newMargin := fixed.DivD(remaining, leverage)
	return &positionResp{
		position: position.Position{
			Size:                                 newSize,
			Margin:                               newMargin,
			OpenNotional:                         remaining,
			LastUpdatedCumulativePremiumFraction: m.latestCumulativePremiumFraction(newSize),
			BlockNumber:                          tick.Block,
		},
		exchangedQuoteAmount:  closeResp.exchangedQuoteAmount.Add(remaining),
		exchangedPositionSize: closeResp.exchangedPositionSize.Add(newSize),
		realizedPnl:           closeResp.realizedPnl,
		unrealizedPnlAfter:    fixed.Zero(),
		badDebt:               closeResp.badDebt,
		fundingPayment:        closeResp.fundingPayment,
		marginToVault:         closeResp.marginToVault.Add(newMargin),
	}, nil
}

// ClosePosition closes the trader's whole position at market. The payout is
// margin plus realized pnl minus funding, floored at zero; any shortfall is
// bad debt covered by the insurance fund.
func (c *ClearingHouse) ClosePosition(trader, marketID string, quoteAssetAmountLimit fixed.Dec, tick amm.Tick) (*event.PositionChanged, error) {
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

	ammCP := m.amm.CaptureCheckpoint()
	bookCP := c.book.CaptureCheckpoint()
	oiBefore := m.openInterestNotional

	resp, err := c.internalClosePosition(m, trader, pos, quoteAssetAmountLimit, false, tick)
	if err == nil {
		err = c.settleBalances(m, trader, resp, tick)
	}
	if err != nil {
		m.amm.Restore(ammCP)
		c.book.Restore(bookCP)
		m.openInterestNotional = oiBefore
		return nil, err
	}

	c.positions.Clear(marketID, trader)
	m.amm.RecordPositionChange(pos.Size, fixed.Zero())
	if resp.badDebt.IsPositive() {
		c.enterRestriction(m, tick)
	}
	c.formulaicAdjust(m, resp.toll, tick)

	ev := &event.PositionChanged{
		Trader:                trader,
		Market:                marketID,
		Margin:                fixed.Zero(),
		PositionNotional:      resp.exchangedQuoteAmount,
		ExchangedPositionSize: resp.exchangedPositionSize,
		Fee:                   resp.fee,
		PositionSizeAfter:     fixed.Zero(),
		RealizedPnl:           resp.realizedPnl,
		UnrealizedPnlAfter:    fixed.Zero(),
		BadDebt:               resp.badDebt,
		LiquidationPenalty:    fixed.Zero(),
		SpotPrice:             m.amm.SpotPrice(),
		FundingPayment:        resp.fundingPayment,
	}
	c.rec.Record(ev)
	return ev, nil
}

// internalClosePosition swaps the whole position out and computes the
// settlement, without touching the store or the ledger.
func (c *ClearingHouse) internalClosePosition(m *market, trader string, pos position.Position, quoteAssetAmountLimit fixed.Dec, canOverFluctuationLimit bool, tick amm.Tick) (*positionResp, error) {
	if pos.Empty() {
		return nil, ErrEmptyPosition
	}
	_, unrealizedPnl, err := c.positionNotionalAndPnl(m, pos, PnlSpot, tick)
	if err != nil {
		return nil, err
	}
	remainMargin, badDebt, fundingPayment, _ := c.calcRemainMargin(m, pos, unrealizedPnl)

	dir := amm.RemoveFromAmm
	if pos.Size.IsPositive() {
		dir = amm.AddToAmm
	}
	exchangedQuote, err := m.amm.SwapOutput(dir, pos.Size.Abs(), quoteAssetAmountLimit, canOverFluctuationLimit, tick)
	if err != nil {
		return nil, err
	}
	if err := c.updateOpenInterest(m, trader, pos.OpenNotional.Neg()); err != nil {
		return nil, err
	}

	return &positionResp{
		position:              position.Position{Size: fixed.Zero(), Margin: fixed.Zero(), OpenNotional: fixed.Zero(), LastUpdatedCumulativePremiumFraction: fixed.Zero()},
		exchangedQuoteAmount:  exchangedQuote,
		exchangedPositionSize: pos.Size.Neg(),
		realizedPnl:           unrealizedPnl,
		unrealizedPnlAfter:    fixed.Zero(),
		badDebt:               badDebt,
		fundingPayment:        fundingPayment,
		marginToVault:         remainMargin.Neg(),
	}, nil
}

// formulaicAdjust runs the repeg and K-adjustment formulas after a trade.
// The repeg budget is the fee pool plus the insurance fund; a failed
// adjustment is skipped, never propagated to the trade that triggered it.
func (c *ClearingHouse) formulaicAdjust(m *market, toll fixed.Dec, tick amm.Tick) {
	marketID := m.amm.Market()
	budget := c.book.Balance(ledger.FeePoolAccount(marketID)).Add(c.fund.Budget(marketID))

	res := m.amm.GetFormulaicRepegResult(budget)
	if res.Adjustable {
		if err := c.applyAdjustment(m, res, tick); err != nil {
			c.log.Debug().Err(err).Str("market", marketID).Msg("repeg skipped")
		} else {
			return
		}
	}

	if !toll.IsPositive() {
		return
	}
	res = m.amm.GetFormulaicUpdateKResult(fixed.DivD(toll, fixed.New(2)))
	if res.Adjustable {
		if err := c.applyAdjustment(m, res, tick); err != nil {
			c.log.Debug().Err(err).Str("market", marketID).Msg("k adjustment skipped")
		}
	}
}

// applyAdjustment funds and executes one reserve adjustment. A positive cost
// increases the traders' aggregate claim, so the vault is topped up from the
// fee pool first and the insurance fund for the rest; a negative cost is
// surplus moved from the vault to the insurance fund.
func (c *ClearingHouse) applyAdjustment(m *market, res amm.AdjustResult, tick amm.Tick) error {
	marketID := m.amm.Market()
	vault := ledger.VaultAccount(marketID)

	bookCP := c.book.CaptureCheckpoint()
	if res.Cost.IsPositive() {
		fromFees := fixed.Min(res.Cost, c.book.Balance(ledger.FeePoolAccount(marketID)))
		if fromFees.IsPositive() {
			if err := c.book.Transfer(ledger.FeePoolAccount(marketID), vault, fromFees, ledger.ReasonAdjustmentCost, tick.Now); err != nil {
				c.book.Restore(bookCP)
				return err
			}
		}
		rest := res.Cost.Sub(fromFees)
		if rest.IsPositive() {
			if err := c.fund.Withdraw(c.id, marketID, vault, rest, ledger.ReasonAdjustmentCost, tick.Now); err != nil {
				c.book.Restore(bookCP)
				return err
			}
		}
	} else if res.Cost.IsNegative() {
		if err := c.book.Transfer(vault, ledger.InsuranceAccount(marketID), res.Cost.Neg(), ledger.ReasonAdjustmentCost, tick.Now); err != nil {
			c.book.Restore(bookCP)
			return err
		}
	}

	if err := m.amm.Adjust(c.id, res.NewQuoteReserve, res.NewBaseReserve, tick); err != nil {
		c.book.Restore(bookCP)
		return err
	}
	c.rec.Record(&event.Repeg{
		Market:          marketID,
		NewQuoteReserve: res.NewQuoteReserve,
		NewBaseReserve:  res.NewBaseReserve,
		Cost:            res.Cost,
	})
	return nil
}
