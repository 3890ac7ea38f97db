package oracle

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/quasar-lab/quasar/internal/fixed"
	"github.com/quasar-lab/quasar/internal/qerr"
	"github.com/quasar-lab/quasar/internal/state"
)

func pythAccount(t *testing.T, mantissa int64, exponent int32) []byte {
	t.Helper()
	data := make([]byte, pythAccountMinLen)
	binary.LittleEndian.PutUint32(data[0:4], pythMagic)
	binary.LittleEndian.PutUint32(data[pythExponentOffset:], uint32(exponent))
	binary.LittleEndian.PutUint64(data[pythAggPriceOffset:], uint64(mantissa))
	return data
}

func stubAccount(t *testing.T, price fixed.I80F48) []byte {
	t.Helper()
	stub := &state.StubOracle{Magic: state.StubOracleMagic, Price: price}
	data, err := stub.Serialize()
	if err != nil {
		t.Fatalf("serialize stub: %v", err)
	}
	return data
}

func TestClassify(t *testing.T) {
	if got := Classify(pythAccount(t, 1, 0)); got != TypePyth {
		t.Errorf("pyth account classified as %s", got)
	}
	if got := Classify(stubAccount(t, fixed.FromInt(1))); got != TypeStub {
		t.Errorf("stub account classified as %s", got)
	}
	if got := Classify(make([]byte, 64)); got != TypeUnknown {
		t.Errorf("zeroed account classified as %s", got)
	}
	if got := Classify(nil); got != TypeUnknown {
		t.Errorf("empty account classified as %s", got)
	}
}

func TestReadPricePythNegativeExponent(t *testing.T) {
	// Base decimals 6, reported exponent -8, mantissa 5,000,000,000:
	// the adjustment divides by 10^8 and yields 50.00.
	price, err := ReadPrice(6, pythAccount(t, 5_000_000_000, -8))
	if err != nil {
		t.Fatalf("ReadPrice: %v", err)
	}
	if !price.Decimal().Equal(decimal.NewFromInt(50)) {
		t.Errorf("normalized price = %s, want 50", price)
	}
}

func TestReadPricePythNonNegativeExponent(t *testing.T) {
	price, err := ReadPrice(6, pythAccount(t, 7, 2))
	if err != nil {
		t.Fatalf("ReadPrice: %v", err)
	}
	if !price.Decimal().Equal(decimal.NewFromInt(700)) {
		t.Errorf("normalized price = %s, want 700", price)
	}

	price, err = ReadPrice(6, pythAccount(t, 123, 0))
	if err != nil {
		t.Fatalf("ReadPrice: %v", err)
	}
	if !price.Decimal().Equal(decimal.NewFromInt(123)) {
		t.Errorf("normalized price = %s, want 123", price)
	}
}

func TestReadPricePythFractional(t *testing.T) {
	price, err := ReadPrice(6, pythAccount(t, 25, -1))
	if err != nil {
		t.Fatalf("ReadPrice: %v", err)
	}
	want, _ := decimal.NewFromString("2.5")
	if !price.Decimal().Equal(want) {
		t.Errorf("normalized price = %s, want 2.5", price)
	}
}

func TestReadPriceStub(t *testing.T) {
	posted := fixed.FromInt(42)
	price, err := ReadPrice(6, stubAccount(t, posted))
	if err != nil {
		t.Fatalf("ReadPrice: %v", err)
	}
	if !price.Eq(posted) {
		t.Errorf("stub price = %s, want %s", price, posted)
	}
}

func TestReadPriceUnknownIsTypedError(t *testing.T) {
	_, err := ReadPrice(6, make([]byte, 64))
	if !errors.Is(err, qerr.CodeUnknownOracleType) {
		t.Errorf("expected unknown-oracle error, got %v", err)
	}
}

func TestReadPriceExponentGuardrail(t *testing.T) {
	_, err := ReadPrice(6, pythAccount(t, 1, 39))
	if !errors.Is(err, qerr.CodeMathOverflow) {
		t.Errorf("expected overflow for exponent 39, got %v", err)
	}
	_, err = ReadPrice(6, pythAccount(t, 1, -39))
	if !errors.Is(err, qerr.CodeMathOverflow) {
		t.Errorf("expected overflow for exponent -39, got %v", err)
	}
}

func TestReadPriceTruncatedPythAccount(t *testing.T) {
	data := pythAccount(t, 1, 0)[:32]
	_, err := ReadPrice(6, data)
	if !errors.Is(err, qerr.CodeInvalidAccount) {
		t.Errorf("expected invalid account, got %v", err)
	}
}
