package event

import (
	"PerpAmm/internal/fixed"
)

// FundingRateUpdated is emitted once per funding settlement.
type FundingRateUpdated struct {
	Rate            fixed.Dec `json:"rate"`
	UnderlyingPrice fixed.Dec `json:"underlyingPrice"`

	Market string `json:"-"`
}

func (e *FundingRateUpdated) EventType() Type { return TypeFundingRateUpdated }

func (e *FundingRateUpdated) MarketID() string { return e.Market }
