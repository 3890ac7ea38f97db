package program

import (
	"bytes"

	bin "github.com/gagliardetto/binary"

	"github.com/quasar-lab/quasar/internal/fixed"
	"github.com/quasar-lab/quasar/internal/qerr"
)

// Tag discriminates the instruction union.
type Tag uint32

const (
	TagInitGroup Tag = iota
	TagAddBaseToken
	TagAddLeverageToken
	TagMintLeverageToken
	TagRedeemLeverageToken
	TagTestCreateAccount
)

func (t Tag) String() string {
	switch t {
	case TagInitGroup:
		return "InitGroup"
	case TagAddBaseToken:
		return "AddBaseToken"
	case TagAddLeverageToken:
		return "AddLeverageToken"
	case TagMintLeverageToken:
		return "MintLeverageToken"
	case TagRedeemLeverageToken:
		return "RedeemLeverageToken"
	case TagTestCreateAccount:
		return "TestCreateAccount"
	default:
		return "Unknown"
	}
}

// Instruction is the decoded payload: a tag plus the fields of that variant.
type Instruction struct {
	Tag            Tag
	SignerNonce    uint64       // InitGroup
	TargetLeverage fixed.I80F48 // AddLeverageToken, MintLeverageToken
	Quantity       uint64       // MintLeverageToken, RedeemLeverageToken
}

// DecodeInstruction parses the wire payload: u32 little-endian tag followed
// by the variant's fields. Trailing bytes or a short payload are a decode
// error and no handler runs.
func DecodeInstruction(data []byte) (*Instruction, error) {
	dec := bin.NewBinDecoder(data)
	rawTag, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, qerr.Wrap(qerr.CodeInvalidInstruction, err)
	}

	ix := &Instruction{Tag: Tag(rawTag)}
	switch ix.Tag {
	case TagInitGroup:
		if ix.SignerNonce, err = dec.ReadUint64(bin.LE); err != nil {
			return nil, qerr.Wrap(qerr.CodeInvalidInstruction, err)
		}
	case TagAddBaseToken, TagTestCreateAccount:
		// no fields
	case TagAddLeverageToken:
		if ix.TargetLeverage, err = readLeverage(dec); err != nil {
			return nil, err
		}
	case TagMintLeverageToken:
		if ix.TargetLeverage, err = readLeverage(dec); err != nil {
			return nil, err
		}
		if ix.Quantity, err = dec.ReadUint64(bin.LE); err != nil {
			return nil, qerr.Wrap(qerr.CodeInvalidInstruction, err)
		}
	case TagRedeemLeverageToken:
		if ix.Quantity, err = dec.ReadUint64(bin.LE); err != nil {
			return nil, qerr.Wrap(qerr.CodeInvalidInstruction, err)
		}
	default:
		return nil, qerr.New(qerr.CodeInvalidInstruction)
	}

	if dec.Remaining() != 0 {
		return nil, qerr.New(qerr.CodeInvalidInstruction)
	}
	return ix, nil
}

// Encode renders the instruction back to its wire payload.
func (ix *Instruction) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	if err := enc.WriteUint32(uint32(ix.Tag), bin.LE); err != nil {
		return nil, err
	}

	switch ix.Tag {
	case TagInitGroup:
		if err := enc.WriteUint64(ix.SignerNonce, bin.LE); err != nil {
			return nil, err
		}
	case TagAddBaseToken, TagTestCreateAccount:
	case TagAddLeverageToken:
		raw := ix.TargetLeverage.Bytes()
		if err := enc.WriteBytes(raw[:], false); err != nil {
			return nil, err
		}
	case TagMintLeverageToken:
		raw := ix.TargetLeverage.Bytes()
		if err := enc.WriteBytes(raw[:], false); err != nil {
			return nil, err
		}
		if err := enc.WriteUint64(ix.Quantity, bin.LE); err != nil {
			return nil, err
		}
	case TagRedeemLeverageToken:
		if err := enc.WriteUint64(ix.Quantity, bin.LE); err != nil {
			return nil, err
		}
	default:
		return nil, qerr.New(qerr.CodeInvalidInstruction)
	}
	return buf.Bytes(), nil
}

func readLeverage(dec *bin.Decoder) (fixed.I80F48, error) {
	rawBytes, err := dec.ReadNBytes(16)
	if err != nil {
		return fixed.I80F48{}, qerr.Wrap(qerr.CodeInvalidInstruction, err)
	}
	var raw [16]byte
	copy(raw[:], rawBytes)
	return fixed.FromBytes(raw), nil
}
