package event

import (
	"PerpAmm/internal/fixed"
)

// PositionChanged is emitted on every position-mutating call: open, increase,
// reduce, reverse, close, liquidation. Field order is part of the indexer
// contract and must not change.
type PositionChanged struct {
	Trader                string    `json:"trader"`
	Market                string    `json:"market"`
	Margin                fixed.Dec `json:"margin"`
	PositionNotional      fixed.Dec `json:"positionNotional"`
	ExchangedPositionSize fixed.Dec `json:"exchangedPositionSize"`
	Fee                   fixed.Dec `json:"fee"`
	PositionSizeAfter     fixed.Dec `json:"positionSizeAfter"`
	RealizedPnl           fixed.Dec `json:"realizedPnl"`
	UnrealizedPnlAfter    fixed.Dec `json:"unrealizedPnlAfter"`
	BadDebt               fixed.Dec `json:"badDebt"`
	LiquidationPenalty    fixed.Dec `json:"liquidationPenalty"`
	SpotPrice             fixed.Dec `json:"spotPrice"`
	FundingPayment        fixed.Dec `json:"fundingPayment"`
}

func (e *PositionChanged) EventType() Type { return TypePositionChanged }

func (e *PositionChanged) MarketID() string { return e.Market }

// PositionLiquidated is emitted once per liquidated trader, alongside the
// PositionChanged event for the close.
type PositionLiquidated struct {
	Trader             string    `json:"trader"`
	Market             string    `json:"market"`
	PositionNotional   fixed.Dec `json:"positionNotional"`
	PositionSize       fixed.Dec `json:"positionSize"`
	FeeToLiquidator    fixed.Dec `json:"feeToLiquidator"`
	FeeToInsuranceFund fixed.Dec `json:"feeToInsuranceFund"`
	Liquidator         string    `json:"liquidator"`
	BadDebt            fixed.Dec `json:"badDebt"`
}

func (e *PositionLiquidated) EventType() Type { return TypePositionLiquidated }

func (e *PositionLiquidated) MarketID() string { return e.Market }

// MarginChanged is emitted by addMargin and removeMargin. Amount is signed,
// positive for deposits.
type MarginChanged struct {
	Sender         string    `json:"sender"`
	Market         string    `json:"market"`
	Amount         fixed.Dec `json:"amount"`
	FundingPayment fixed.Dec `json:"fundingPayment"`
}

func (e *MarginChanged) EventType() Type { return TypeMarginChanged }

func (e *MarginChanged) MarketID() string { return e.Market }

// BatchOutcome is one trader's result within a batch liquidation.
type BatchOutcome struct {
	Trader string `json:"trader"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// LiquidationBatch is emitted once per Liquidator.Liquidate call.
type LiquidationBatch struct {
	Market     string         `json:"market"`
	Liquidator string         `json:"liquidator"`
	Outcomes   []BatchOutcome `json:"outcomes"`
}

func (e *LiquidationBatch) EventType() Type { return TypeLiquidationBatch }

func (e *LiquidationBatch) MarketID() string { return e.Market }
