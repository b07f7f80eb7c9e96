package query

import "time"

// Decimal values are serialized as 18-decimal strings. Every response
// carries AsOfSequence and AsOfBlock so callers can reason about freshness.

// MarketStateResponse is the full public view of one market.
type MarketStateResponse struct {
	Market               string    `json:"market"`
	Open                 bool      `json:"open"`
	QuoteAssetReserve    string    `json:"quote_asset_reserve"`
	BaseAssetReserve     string    `json:"base_asset_reserve"`
	SpotPrice            string    `json:"spot_price"`
	UnderlyingPrice      string    `json:"underlying_price"`
	OpenInterestNotional string    `json:"open_interest_notional"`
	TotalPositionSize    string    `json:"total_position_size"`
	LongPositionSize     string    `json:"long_position_size"`
	ShortPositionSize    string    `json:"short_position_size"`
	NextFundingTime      time.Time `json:"next_funding_time"`
	AsOfSequence         int64     `json:"as_of_sequence"`
	AsOfBlock            int64     `json:"as_of_block"`
}

// PositionResponse is one trader's position with derived values.
type PositionResponse struct {
	Trader                               string `json:"trader"`
	Market                               string `json:"market"`
	Size                                 string `json:"size"`
	Margin                               string `json:"margin"`
	OpenNotional                         string `json:"open_notional"`
	PositionNotional                     string `json:"position_notional"`
	UnrealizedPnl                        string `json:"unrealized_pnl"`
	MarginRatio                          string `json:"margin_ratio"`
	LastUpdatedCumulativePremiumFraction string `json:"last_updated_cumulative_premium_fraction"`
	BlockNumber                          int64  `json:"block_number"`
	AsOfSequence                         int64  `json:"as_of_sequence"`
	AsOfBlock                            int64  `json:"as_of_block"`
}

// BalanceResponse is one ledger account balance.
type BalanceResponse struct {
	Account      string `json:"account"`
	Balance      string `json:"balance"`
	AsOfSequence int64  `json:"as_of_sequence"`
	AsOfBlock    int64  `json:"as_of_block"`
}

// FundingResponse is one settled funding period.
type FundingResponse struct {
	Market          string    `json:"market"`
	FundingRate     string    `json:"funding_rate"`
	UnderlyingPrice string    `json:"underlying_price"`
	BlockNumber     int64     `json:"block_number"`
	SettledAt       time.Time `json:"settled_at"`
	Sequence        int64     `json:"sequence"`
}
