package amm

import (
	"cosmossdk.io/errors"
)

// Module error codes
var (
	ErrMarketClosed                = errors.Register("amm", 1, "market is closed")
	ErrQuoteAssetAfterZero         = errors.Register("amm", 2, "quote asset after swap is zero")
	ErrBaseAssetAfterZero          = errors.Register("amm", 3, "base asset after swap is zero")
	ErrSlippageExceeded            = errors.Register("amm", 4, "swap result outside slippage limit")
	ErrOverTradingLimit            = errors.Register("amm", 5, "over trading limit")
	ErrPriceOverFluctuationLimit   = errors.Register("amm", 6, "price is over fluctuation limit")
	ErrAlreadyOverFluctuationLimit = errors.Register("amm", 7, "price is already over fluctuation limit")
	ErrSettleFundingTooEarly       = errors.Register("amm", 8, "settle funding too early")
	ErrOraclePriceExpired          = errors.Register("amm", 9, "oracle price is expired")
	ErrReserveCannotBeZero         = errors.Register("amm", 10, "reserve cannot be zero")
	ErrUnauthorized                = errors.Register("amm", 11, "unauthorized")
	ErrInvalidAmount               = errors.Register("amm", 12, "amount must be positive")
)
