package engine

import (
	"time"

	"PerpAmm/internal/amm"
	"PerpAmm/internal/clearinghouse"
	"PerpAmm/internal/fixed"
	"PerpAmm/internal/ledger"
)

// OpenPosition opens, increases, reduces or reverses a position.
type OpenPosition struct {
	Trader                  string
	Market                  string
	Side                    clearinghouse.Side
	QuoteAssetAmount        fixed.Dec
	Leverage                fixed.Dec
	BaseAssetAmountLimit    fixed.Dec
	CanOverFluctuationLimit bool
	At                      time.Time
}

func (c OpenPosition) Name() string    { return "open_position" }
func (c OpenPosition) Time() time.Time { return c.At }

func (c OpenPosition) Execute(d *Domain, tick amm.Tick) (any, error) {
	return d.ClearingHouse.OpenPosition(c.Trader, c.Market, c.Side,
		c.QuoteAssetAmount, c.Leverage, c.BaseAssetAmountLimit, c.CanOverFluctuationLimit, tick)
}

// ClosePosition closes the trader's whole position.
type ClosePosition struct {
	Trader                string
	Market                string
	QuoteAssetAmountLimit fixed.Dec
	At                    time.Time
}

func (c ClosePosition) Name() string    { return "close_position" }
func (c ClosePosition) Time() time.Time { return c.At }

func (c ClosePosition) Execute(d *Domain, tick amm.Tick) (any, error) {
	return d.ClearingHouse.ClosePosition(c.Trader, c.Market, c.QuoteAssetAmountLimit, tick)
}

// AddMargin tops up position margin.
type AddMargin struct {
	Trader string
	Market string
	Amount fixed.Dec
	At     time.Time
}

func (c AddMargin) Name() string    { return "add_margin" }
func (c AddMargin) Time() time.Time { return c.At }

func (c AddMargin) Execute(d *Domain, tick amm.Tick) (any, error) {
	return d.ClearingHouse.AddMargin(c.Trader, c.Market, c.Amount, tick)
}

// RemoveMargin withdraws free collateral from a position.
type RemoveMargin struct {
	Trader string
	Market string
	Amount fixed.Dec
	At     time.Time
}

func (c RemoveMargin) Name() string    { return "remove_margin" }
func (c RemoveMargin) Time() time.Time { return c.At }

func (c RemoveMargin) Execute(d *Domain, tick amm.Tick) (any, error) {
	return d.ClearingHouse.RemoveMargin(c.Trader, c.Market, c.Amount, tick)
}

// Liquidate closes one undercollateralized position.
type Liquidate struct {
	Liquidator            string
	Trader                string
	Market                string
	QuoteAssetAmountLimit fixed.Dec
	At                    time.Time
}

func (c Liquidate) Name() string    { return "liquidate" }
func (c Liquidate) Time() time.Time { return c.At }

func (c Liquidate) Execute(d *Domain, tick amm.Tick) (any, error) {
	if c.QuoteAssetAmountLimit.IsNil() || c.QuoteAssetAmountLimit.IsZero() {
		return d.ClearingHouse.Liquidate(c.Liquidator, c.Trader, c.Market, tick)
	}
	return d.ClearingHouse.LiquidateWithSlippage(c.Liquidator, c.Trader, c.Market, c.QuoteAssetAmountLimit, tick)
}

// PayFunding settles one funding period for a market.
type PayFunding struct {
	Market string
	At     time.Time
}

func (c PayFunding) Name() string    { return "pay_funding" }
func (c PayFunding) Time() time.Time { return c.At }

func (c PayFunding) Execute(d *Domain, tick amm.Tick) (any, error) {
	return d.ClearingHouse.PayFunding(c.Market, tick)
}

// Deposit credits external collateral to a trader's account.
type Deposit struct {
	Trader string
	Amount fixed.Dec
	At     time.Time
}

func (c Deposit) Name() string    { return "deposit" }
func (c Deposit) Time() time.Time { return c.At }

func (c Deposit) Execute(d *Domain, tick amm.Tick) (any, error) {
	return nil, d.Book.Deposit(ledger.TraderAccount(c.Trader), c.Amount, tick.Now)
}

// Withdraw pays a trader's free account balance out of the system.
type Withdraw struct {
	Trader string
	Amount fixed.Dec
	At     time.Time
}

func (c Withdraw) Name() string    { return "withdraw" }
func (c Withdraw) Time() time.Time { return c.At }

func (c Withdraw) Execute(d *Domain, tick amm.Tick) (any, error) {
	return nil, d.Book.Withdraw(ledger.TraderAccount(c.Trader), c.Amount, tick.Now)
}

// SetMarketOpen opens or closes trading on a market. Owner only.
type SetMarketOpen struct {
	Caller string
	Market string
	Open   bool
	At     time.Time
}

func (c SetMarketOpen) Name() string    { return "set_market_open" }
func (c SetMarketOpen) Time() time.Time { return c.At }

func (c SetMarketOpen) Execute(d *Domain, tick amm.Tick) (any, error) {
	a, ok := d.Amms[c.Market]
	if !ok {
		return nil, clearinghouse.ErrUnknownMarket
	}
	return nil, a.SetOpen(c.Caller, c.Open, tick)
}
