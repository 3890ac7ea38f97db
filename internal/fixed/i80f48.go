// Package fixed implements the I80F48 signed fixed-point number used for
// leverage targets and normalized oracle prices: 128 bits total, 48 of them
// fractional, stored on the wire as 16 little-endian two's-complement bytes.
package fixed

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/quasar-lab/quasar/internal/qerr"
)

// FracBits is the number of fractional bits in the representation.
const FracBits = 48

var (
	scale    = new(big.Int).Lsh(big.NewInt(1), FracBits)
	maxRaw   = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minRaw   = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
	wrapSpan = new(big.Int).Lsh(big.NewInt(1), 128)
)

// I80F48 is immutable; the zero value is 0.
type I80F48 struct {
	raw *big.Int
}

func (x I80F48) rawValue() *big.Int {
	if x.raw == nil {
		return new(big.Int)
	}
	return x.raw
}

// FromRaw builds a value from a raw 2^48-scaled integer, rejecting anything
// outside the 128-bit range.
func FromRaw(raw *big.Int) (I80F48, error) {
	if raw.Cmp(maxRaw) > 0 || raw.Cmp(minRaw) < 0 {
		return I80F48{}, qerr.New(qerr.CodeMathOverflow)
	}
	return I80F48{raw: new(big.Int).Set(raw)}, nil
}

// FromInt builds the fixed-point representation of an integer.
func FromInt(v int64) I80F48 {
	return I80F48{raw: new(big.Int).Lsh(big.NewInt(v), FracBits)}
}

// FromDecimal converts, truncating toward zero below 2^-48 resolution.
func FromDecimal(d decimal.Decimal) (I80F48, error) {
	num := new(big.Int).Mul(d.Coefficient(), scale)
	if d.Exponent() >= 0 {
		num.Mul(num, pow10(int64(d.Exponent())))
		return FromRaw(num)
	}
	num.Quo(num, pow10(-int64(d.Exponent())))
	return FromRaw(num)
}

// Decimal converts to a shopspring decimal with 16 digits of division
// precision, for display and config round-trips.
func (x I80F48) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(x.rawValue(), 0).Div(decimal.NewFromBigInt(scale, 0))
}

func (x I80F48) String() string { return x.Decimal().String() }

// Raw returns a copy of the underlying 2^48-scaled integer.
func (x I80F48) Raw() *big.Int { return new(big.Int).Set(x.rawValue()) }

func (x I80F48) IsZero() bool { return x.rawValue().Sign() == 0 }

func (x I80F48) Sign() int { return x.rawValue().Sign() }

func (x I80F48) Eq(y I80F48) bool { return x.rawValue().Cmp(y.rawValue()) == 0 }

// Bytes serializes to 16 little-endian two's-complement bytes.
func (x I80F48) Bytes() [16]byte {
	raw := x.rawValue()
	if raw.Sign() < 0 {
		raw = new(big.Int).Add(raw, wrapSpan)
	}
	var be [16]byte
	raw.FillBytes(be[:])
	var le [16]byte
	for i := range be {
		le[i] = be[15-i]
	}
	return le
}

// FromBytes deserializes 16 little-endian two's-complement bytes.
func FromBytes(b [16]byte) I80F48 {
	var be [16]byte
	for i := range b {
		be[i] = b[15-i]
	}
	raw := new(big.Int).SetBytes(be[:])
	if raw.Cmp(maxRaw) > 0 {
		raw.Sub(raw, wrapSpan)
	}
	return I80F48{raw: raw}
}

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

// Pow10 exposes 10^n for callers scaling mantissa/exponent pairs.
func Pow10(n int64) *big.Int { return pow10(n) }
