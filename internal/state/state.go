// Package state defines the persisted records of the issuer: the group
// registry with its two append-only token tables, the stub oracle record,
// and the SPL mint layout the handlers need to read. Layouts are fixed-size
// little-endian; changing a size or a bound is a storage-format break.
package state

import (
	"bytes"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/quasar-lab/quasar/internal/fixed"
	"github.com/quasar-lab/quasar/internal/qerr"
)

const (
	// MaxBaseTokens and MaxLeverageTokens bound the registries. They are part
	// of the serialized group layout.
	MaxBaseTokens     = 16
	MaxLeverageTokens = 32

	// LeverageTokenDecimals is the decimal precision of every leverage-token
	// mint created by the issuer.
	LeverageTokenDecimals = 6

	// StubOracleMagic tags an account as a stub feed owned by this program.
	StubOracleMagic = uint32(0x6F676E4D)

	// Version is the current schema version written into new records.
	Version = 0
)

// DataType tags a persisted record kind.
type DataType uint8

const (
	DataTypeGroup DataType = iota
	DataTypeStubOracle
)

// MetaData is the common record header.
type MetaData struct {
	DataType      DataType
	Version       uint8
	IsInitialized bool
}

const metaDataSize = 8 // 3 bytes + 5 padding

// BaseToken is one collateral-asset registry slot. A slot is either fully
// zero (empty) or fully populated.
type BaseToken struct {
	Mint     solana.PublicKey
	Decimals uint8
	Oracle   solana.PublicKey
}

const baseTokenSize = 72 // 32 + 1 + 7 padding + 32

func (b BaseToken) IsEmpty() bool { return b.Mint.IsZero() }

// LeverageToken is one synthetic-instrument registry slot.
type LeverageToken struct {
	Mint           solana.PublicKey
	BaseTokenMint  solana.PublicKey
	TargetLeverage fixed.I80F48
	MarginAccount  solana.PublicKey
	MarginMarket   solana.PublicKey
}

const leverageTokenSize = 144 // 32*4 + 16

func (l LeverageToken) IsEmpty() bool { return l.Mint.IsZero() }

// Group is the root record for one administrative domain.
type Group struct {
	MetaData        MetaData
	SignerNonce     uint64
	SignerKey       solana.PublicKey
	AdminKey        solana.PublicKey
	MarginProgramID solana.PublicKey

	NumBaseTokens uint64
	BaseTokens    [MaxBaseTokens]BaseToken

	NumLeverageTokens uint64
	LeverageTokens    [MaxLeverageTokens]LeverageToken
}

// GroupSize is the exact serialized size of a Group account.
const GroupSize = metaDataSize + 8 + 32*3 + 8 + MaxBaseTokens*baseTokenSize +
	8 + MaxLeverageTokens*leverageTokenSize

// FindBaseTokenIndex returns the populated slot holding mint, if any.
func (g *Group) FindBaseTokenIndex(mint solana.PublicKey) (int, bool) {
	for i := 0; i < int(g.NumBaseTokens); i++ {
		if g.BaseTokens[i].Mint.Equals(mint) {
			return i, true
		}
	}
	return 0, false
}

// FindLeverageTokenIndex returns the populated slot holding the
// (base mint, target leverage) pair, if any.
func (g *Group) FindLeverageTokenIndex(baseMint solana.PublicKey, target fixed.I80F48) (int, bool) {
	for i := 0; i < int(g.NumLeverageTokens); i++ {
		lt := g.LeverageTokens[i]
		if lt.BaseTokenMint.Equals(baseMint) && lt.TargetLeverage.Eq(target) {
			return i, true
		}
	}
	return 0, false
}

// AppendBaseToken allocates the first empty slot for token. It enforces
// capacity, uniqueness of the mint, and that the slot really is empty.
func (g *Group) AppendBaseToken(token BaseToken) error {
	if _, found := g.FindBaseTokenIndex(token.Mint); found {
		return qerr.New(qerr.CodeDuplicateBaseToken)
	}
	if g.NumBaseTokens >= MaxBaseTokens {
		return qerr.New(qerr.CodeRegistryFull)
	}
	if !g.BaseTokens[g.NumBaseTokens].IsEmpty() {
		return qerr.New(qerr.CodeSlotOccupied)
	}
	g.BaseTokens[g.NumBaseTokens] = token
	g.NumBaseTokens++
	return nil
}

// AppendLeverageToken allocates the first empty slot for token, enforcing
// capacity, pair uniqueness, and slot emptiness.
func (g *Group) AppendLeverageToken(token LeverageToken) error {
	if _, found := g.FindLeverageTokenIndex(token.BaseTokenMint, token.TargetLeverage); found {
		return qerr.New(qerr.CodeDuplicateLeverageToken)
	}
	if g.NumLeverageTokens >= MaxLeverageTokens {
		return qerr.New(qerr.CodeRegistryFull)
	}
	if !g.LeverageTokens[g.NumLeverageTokens].IsEmpty() {
		return qerr.New(qerr.CodeSlotOccupied)
	}
	g.LeverageTokens[g.NumLeverageTokens] = token
	g.NumLeverageTokens++
	return nil
}

var zeroMetaPadding [5]byte

func (m MetaData) marshal(enc *bin.Encoder) error {
	if err := enc.WriteByte(byte(m.DataType)); err != nil {
		return err
	}
	if err := enc.WriteByte(m.Version); err != nil {
		return err
	}
	if err := enc.WriteBool(m.IsInitialized); err != nil {
		return err
	}
	return enc.WriteBytes(zeroMetaPadding[:], false)
}

func (m *MetaData) unmarshal(dec *bin.Decoder) error {
	kind, err := dec.ReadByte()
	if err != nil {
		return err
	}
	version, err := dec.ReadByte()
	if err != nil {
		return err
	}
	initialized, err := dec.ReadBool()
	if err != nil {
		return err
	}
	if _, err := dec.ReadNBytes(5); err != nil {
		return err
	}
	m.DataType = DataType(kind)
	m.Version = version
	m.IsInitialized = initialized
	return nil
}

var zeroBaseTokenPadding [7]byte

func (b BaseToken) marshal(enc *bin.Encoder) error {
	if err := enc.WriteBytes(b.Mint.Bytes(), false); err != nil {
		return err
	}
	if err := enc.WriteByte(b.Decimals); err != nil {
		return err
	}
	if err := enc.WriteBytes(zeroBaseTokenPadding[:], false); err != nil {
		return err
	}
	return enc.WriteBytes(b.Oracle.Bytes(), false)
}

func (b *BaseToken) unmarshal(dec *bin.Decoder) error {
	var err error
	if b.Mint, err = readPubkey(dec); err != nil {
		return err
	}
	if b.Decimals, err = dec.ReadByte(); err != nil {
		return err
	}
	if _, err = dec.ReadNBytes(7); err != nil {
		return err
	}
	b.Oracle, err = readPubkey(dec)
	return err
}

func (l LeverageToken) marshal(enc *bin.Encoder) error {
	if err := enc.WriteBytes(l.Mint.Bytes(), false); err != nil {
		return err
	}
	if err := enc.WriteBytes(l.BaseTokenMint.Bytes(), false); err != nil {
		return err
	}
	raw := l.TargetLeverage.Bytes()
	if err := enc.WriteBytes(raw[:], false); err != nil {
		return err
	}
	if err := enc.WriteBytes(l.MarginAccount.Bytes(), false); err != nil {
		return err
	}
	return enc.WriteBytes(l.MarginMarket.Bytes(), false)
}

func (l *LeverageToken) unmarshal(dec *bin.Decoder) error {
	var err error
	if l.Mint, err = readPubkey(dec); err != nil {
		return err
	}
	if l.BaseTokenMint, err = readPubkey(dec); err != nil {
		return err
	}
	rawLeverage, err := dec.ReadNBytes(16)
	if err != nil {
		return err
	}
	var raw [16]byte
	copy(raw[:], rawLeverage)
	l.TargetLeverage = fixed.FromBytes(raw)
	if l.MarginAccount, err = readPubkey(dec); err != nil {
		return err
	}
	l.MarginMarket, err = readPubkey(dec)
	return err
}

// Serialize renders the group into its fixed GroupSize layout.
func (g *Group) Serialize() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(GroupSize)
	enc := bin.NewBinEncoder(buf)

	if err := g.MetaData.marshal(enc); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(g.SignerNonce, bin.LE); err != nil {
		return nil, err
	}
	for _, key := range []solana.PublicKey{g.SignerKey, g.AdminKey, g.MarginProgramID} {
		if err := enc.WriteBytes(key.Bytes(), false); err != nil {
			return nil, err
		}
	}
	if err := enc.WriteUint64(g.NumBaseTokens, bin.LE); err != nil {
		return nil, err
	}
	for i := range g.BaseTokens {
		if err := g.BaseTokens[i].marshal(enc); err != nil {
			return nil, err
		}
	}
	if err := enc.WriteUint64(g.NumLeverageTokens, bin.LE); err != nil {
		return nil, err
	}
	for i := range g.LeverageTokens {
		if err := g.LeverageTokens[i].marshal(enc); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DeserializeGroup parses a GroupSize-byte account image.
func DeserializeGroup(data []byte) (*Group, error) {
	if len(data) != GroupSize {
		return nil, qerr.New(qerr.CodeInvalidAccount)
	}
	dec := bin.NewBinDecoder(data)
	g := new(Group)

	if err := g.MetaData.unmarshal(dec); err != nil {
		return nil, err
	}
	var err error
	if g.SignerNonce, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, err
	}
	if g.SignerKey, err = readPubkey(dec); err != nil {
		return nil, err
	}
	if g.AdminKey, err = readPubkey(dec); err != nil {
		return nil, err
	}
	if g.MarginProgramID, err = readPubkey(dec); err != nil {
		return nil, err
	}
	if g.NumBaseTokens, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, err
	}
	if g.NumBaseTokens > MaxBaseTokens {
		return nil, qerr.New(qerr.CodeInvalidAccount)
	}
	for i := range g.BaseTokens {
		if err := g.BaseTokens[i].unmarshal(dec); err != nil {
			return nil, err
		}
	}
	if g.NumLeverageTokens, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, err
	}
	if g.NumLeverageTokens > MaxLeverageTokens {
		return nil, qerr.New(qerr.CodeInvalidAccount)
	}
	for i := range g.LeverageTokens {
		if err := g.LeverageTokens[i].unmarshal(dec); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// StubOracle is the test-feed record owned by this program: a raw price in
// the target fixed-point scale plus the slot it was last written.
type StubOracle struct {
	Magic      uint32
	Price      fixed.I80F48
	LastUpdate uint64
}

// StubOracleSize is the exact serialized size of a stub oracle account.
const StubOracleSize = 32 // 4 + 4 padding + 16 + 8

// Serialize renders the stub oracle record.
func (s *StubOracle) Serialize() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(StubOracleSize)
	enc := bin.NewBinEncoder(buf)

	if err := enc.WriteUint32(s.Magic, bin.LE); err != nil {
		return nil, err
	}
	if err := enc.WriteBytes([]byte{0, 0, 0, 0}, false); err != nil {
		return nil, err
	}
	raw := s.Price.Bytes()
	if err := enc.WriteBytes(raw[:], false); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(s.LastUpdate, bin.LE); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DeserializeStubOracle parses a StubOracleSize-byte account image.
func DeserializeStubOracle(data []byte) (*StubOracle, error) {
	if len(data) != StubOracleSize {
		return nil, qerr.New(qerr.CodeInvalidAccount)
	}
	dec := bin.NewBinDecoder(data)
	s := new(StubOracle)

	var err error
	if s.Magic, err = dec.ReadUint32(bin.LE); err != nil {
		return nil, err
	}
	if _, err = dec.ReadNBytes(4); err != nil {
		return nil, err
	}
	rawPrice, err := dec.ReadNBytes(16)
	if err != nil {
		return nil, err
	}
	var raw [16]byte
	copy(raw[:], rawPrice)
	s.Price = fixed.FromBytes(raw)
	s.LastUpdate, err = dec.ReadUint64(bin.LE)
	return s, err
}

func readPubkey(dec *bin.Decoder) (solana.PublicKey, error) {
	raw, err := dec.ReadNBytes(32)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return solana.PublicKeyFromBytes(raw), nil
}
