package event

import (
	"PerpAmm/internal/fixed"
)

// Direction of the quote asset (for input swaps) or base asset (for output
// swaps) relative to the pool.
type Direction int32

const (
	AddToAmm Direction = iota
	RemoveFromAmm
)

func (d Direction) String() string {
	if d == AddToAmm {
		return "AddToAmm"
	}
	return "RemoveFromAmm"
}

// SwapInput is emitted after a quote-denominated swap. Field order is part of
// the indexer contract and must not change.
type SwapInput struct {
	Dir              Direction `json:"dir"`
	QuoteAssetAmount fixed.Dec `json:"quoteAssetAmount"`
	BaseAssetAmount  fixed.Dec `json:"baseAssetAmount"`

	Market string `json:"-"`
}

func (e *SwapInput) EventType() Type { return TypeSwapInput }

func (e *SwapInput) MarketID() string { return e.Market }

// SwapOutput is emitted after a base-denominated swap.
type SwapOutput struct {
	Dir              Direction `json:"dir"`
	QuoteAssetAmount fixed.Dec `json:"quoteAssetAmount"`
	BaseAssetAmount  fixed.Dec `json:"baseAssetAmount"`

	Market string `json:"-"`
}

func (e *SwapOutput) EventType() Type { return TypeSwapOutput }

func (e *SwapOutput) MarketID() string { return e.Market }

// ReserveSnapshotted is emitted whenever the reserve snapshot list gains or
// updates an entry.
type ReserveSnapshotted struct {
	QuoteAssetReserve fixed.Dec `json:"quoteAssetReserve"`
	BaseAssetReserve  fixed.Dec `json:"baseAssetReserve"`
	Timestamp         int64     `json:"timestamp"`

	Market string `json:"-"`
}

func (e *ReserveSnapshotted) EventType() Type { return TypeReserveSnapshotted }

func (e *ReserveSnapshotted) MarketID() string { return e.Market }

// Repeg is emitted when reserves are replaced by a formulaic repeg or
// K-adjustment.
type Repeg struct {
	Market          string    `json:"market"`
	NewQuoteReserve fixed.Dec `json:"newQuoteReserve"`
	NewBaseReserve  fixed.Dec `json:"newBaseReserve"`
	Cost            fixed.Dec `json:"cost"`
}

func (e *Repeg) EventType() Type { return TypeRepeg }

func (e *Repeg) MarketID() string { return e.Market }
