package clearinghouse

import (
	"cosmossdk.io/errors"
)

// Module error codes
var (
	ErrInvalidInput               = errors.Register("clearinghouse", 1, "invalid input")
	ErrInsufficientMargin         = errors.Register("clearinghouse", 2, "insufficient margin")
	ErrOpenInterestCapExceeded    = errors.Register("clearinghouse", 3, "open interest cap exceeded")
	ErrRestrictedMode             = errors.Register("clearinghouse", 4, "only one action allowed per block after a liquidation")
	ErrMarginRatioNotLiquidatable = errors.Register("clearinghouse", 5, "margin ratio not below maintenance threshold")
	ErrEmptyPosition              = errors.Register("clearinghouse", 6, "position size is zero")
	ErrUnknownMarket              = errors.Register("clearinghouse", 7, "market not registered")
	ErrUnauthorized               = errors.Register("clearinghouse", 8, "unauthorized")
)
