package fixed

import (
	"math/big"

	sdkmath "cosmossdk.io/math"
)

// Dec is an 18-decimal fixed-point value. All prices, sizes, margins and
// ratios in the engine use this type. The zero value is unusable; always
// construct through one of the helpers below.
type Dec = sdkmath.LegacyDec

const Precision = sdkmath.LegacyPrecision

// New returns d as a whole-number decimal.
func New(d int64) Dec { return sdkmath.LegacyNewDec(d) }

// NewWithPrec returns d * 10^-prec.
func NewWithPrec(d int64, prec int64) Dec { return sdkmath.LegacyNewDecWithPrec(d, prec) }

// FromStr parses a decimal string.
func FromStr(s string) (Dec, error) { return sdkmath.LegacyNewDecFromStr(s) }

// MustFromStr parses a decimal string and panics on failure. Test and
// constant use only.
func MustFromStr(s string) Dec { return sdkmath.LegacyMustNewDecFromStr(s) }

// FromBigInt interprets raw as a wei-scaled (10^-18) value.
func FromBigInt(raw *big.Int) Dec { return sdkmath.LegacyNewDecFromBigIntWithPrec(raw, Precision) }

func Zero() Dec { return sdkmath.LegacyZeroDec() }

func One() Dec { return sdkmath.LegacyOneDec() }

// OneWei is the smallest representable increment, 10^-18.
func OneWei() Dec { return sdkmath.LegacySmallestDec() }

// MulD multiplies truncating toward zero.
func MulD(a, b Dec) Dec { return a.MulTruncate(b) }

// DivD divides truncating toward zero.
func DivD(a, b Dec) Dec { return a.QuoTruncate(b) }

// DivDExact reports the truncated quotient and whether any remainder was
// discarded. Swap math uses the remainder flag to bias results by one wei in
// the pool's favor.
func DivDExact(a, b Dec) (Dec, bool) {
	q := a.QuoTruncate(b)
	rem := new(big.Int).Mul(q.BigInt(), b.BigInt())
	rem.Sub(scaleUp(a.BigInt()), rem)
	return q, rem.Sign() != 0
}

func scaleUp(raw *big.Int) *big.Int {
	return new(big.Int).Mul(raw, precisionMultiplier)
}

var precisionMultiplier = new(big.Int).Exp(big.NewInt(10), big.NewInt(Precision), nil)

// Min returns the smaller of a and b.
func Min(a, b Dec) Dec {
	if a.LTE(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b Dec) Dec {
	if a.GTE(b) {
		return a
	}
	return b
}
