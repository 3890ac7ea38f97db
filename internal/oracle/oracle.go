// Package oracle classifies price-source accounts and normalizes their
// reported prices into the I80F48 convention of the owning base token.
package oracle

import (
	"encoding/binary"
	"math/big"

	"github.com/quasar-lab/quasar/internal/fixed"
	"github.com/quasar-lab/quasar/internal/qerr"
	"github.com/quasar-lab/quasar/internal/state"
)

// Type is the price-source classification.
type Type int

const (
	TypeUnknown Type = iota
	TypePyth
	TypeStub
)

func (t Type) String() string {
	switch t {
	case TypePyth:
		return "pyth"
	case TypeStub:
		return "stub"
	default:
		return "unknown"
	}
}

// pythMagic opens every Pyth on-chain price account.
const pythMagic = uint32(0xa1b2c3d4)

// Pyth price-account field offsets. Only the fields the issuer reads are
// mapped; the rest of the layout is opaque here.
const (
	pythExponentOffset = 20
	pythAggPriceOffset = 208
	pythAccountMinLen  = 240
)

// Classify inspects the leading magic of a price-source account image.
// A zeroed or foreign account classifies as Unknown; callers decide whether
// that is fatal (price reads) or an initialization request (registration).
func Classify(data []byte) Type {
	if len(data) < 4 {
		return TypeUnknown
	}
	switch binary.LittleEndian.Uint32(data[:4]) {
	case pythMagic:
		return TypePyth
	case state.StubOracleMagic:
		return TypeStub
	default:
		return TypeUnknown
	}
}

// ReadPrice resolves the price reported by a source account, normalized to
// the fixed-point convention of a base token with the given decimal count.
//
// Pyth exponents already account for baseDecimals, so the adjustment
// exponent is the feed exponent itself: negative divides the mantissa by
// 10^|e|, non-negative multiplies by 10^e. Stub feeds store the price
// directly in the target scale, so neither branch rescales by baseDecimals
// today; the parameter stays in the contract for feed layouts that report
// in raw base units. An unclassifiable source is a typed error, never a
// fault.
func ReadPrice(baseDecimals uint8, data []byte) (fixed.I80F48, error) {
	switch Classify(data) {
	case TypePyth:
		mantissa, exponent, err := parsePythAggregate(data)
		if err != nil {
			return fixed.I80F48{}, err
		}
		return normalize(mantissa, exponent)
	case TypeStub:
		stub, err := state.DeserializeStubOracle(data)
		if err != nil {
			return fixed.I80F48{}, qerr.Wrap(qerr.CodeInvalidAccount, err)
		}
		return stub.Price, nil
	default:
		return fixed.I80F48{}, qerr.New(qerr.CodeUnknownOracleType)
	}
}

func parsePythAggregate(data []byte) (int64, int32, error) {
	if len(data) < pythAccountMinLen {
		return 0, 0, qerr.New(qerr.CodeInvalidAccount)
	}
	exponent := int32(binary.LittleEndian.Uint32(data[pythExponentOffset : pythExponentOffset+4]))
	mantissa := int64(binary.LittleEndian.Uint64(data[pythAggPriceOffset : pythAggPriceOffset+8]))
	return mantissa, exponent, nil
}

func normalize(mantissa int64, exponent int32) (fixed.I80F48, error) {
	// Anything past 10^38 cannot fit the integer part anyway.
	if exponent > 38 || exponent < -38 {
		return fixed.I80F48{}, qerr.New(qerr.CodeMathOverflow)
	}

	raw := new(big.Int).Lsh(big.NewInt(mantissa), fixed.FracBits)
	if exponent < 0 {
		raw.Quo(raw, fixed.Pow10(int64(-exponent)))
	} else {
		raw.Mul(raw, fixed.Pow10(int64(exponent)))
	}

	price, err := fixed.FromRaw(raw)
	if err != nil {
		return fixed.I80F48{}, qerr.Wrap(qerr.CodeMathOverflow, err)
	}
	return price, nil
}
