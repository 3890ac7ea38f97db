package state

import (
	"bytes"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/quasar-lab/quasar/internal/qerr"
)

// Mint mirrors the fungible-token module's mint record; the issuer reads it
// for decimal precision and the local host simulation writes it when
// servicing initialize-mint invocations.
type Mint struct {
	MintAuthority   *solana.PublicKey
	Supply          uint64
	Decimals        uint8
	IsInitialized   bool
	FreezeAuthority *solana.PublicKey
}

// MintSize is the serialized size of a mint account.
const MintSize = 82

// UnpackMint parses a mint account image.
func UnpackMint(data []byte) (*Mint, error) {
	if len(data) != MintSize {
		return nil, qerr.New(qerr.CodeInvalidAccount)
	}
	dec := bin.NewBinDecoder(data)
	m := new(Mint)

	var err error
	if m.MintAuthority, err = readCOptionPubkey(dec); err != nil {
		return nil, err
	}
	if m.Supply, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, err
	}
	if m.Decimals, err = dec.ReadByte(); err != nil {
		return nil, err
	}
	if m.IsInitialized, err = dec.ReadBool(); err != nil {
		return nil, err
	}
	m.FreezeAuthority, err = readCOptionPubkey(dec)
	return m, err
}

// Pack renders the mint into its fixed MintSize layout.
func (m *Mint) Pack() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(MintSize)
	enc := bin.NewBinEncoder(buf)

	if err := writeCOptionPubkey(enc, m.MintAuthority); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(m.Supply, bin.LE); err != nil {
		return nil, err
	}
	if err := enc.WriteByte(m.Decimals); err != nil {
		return nil, err
	}
	if err := enc.WriteBool(m.IsInitialized); err != nil {
		return nil, err
	}
	if err := writeCOptionPubkey(enc, m.FreezeAuthority); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func readCOptionPubkey(dec *bin.Decoder) (*solana.PublicKey, error) {
	tag, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, err
	}
	raw, err := dec.ReadNBytes(32)
	if err != nil {
		return nil, err
	}
	if tag == 0 {
		return nil, nil
	}
	key := solana.PublicKeyFromBytes(raw)
	return &key, nil
}

func writeCOptionPubkey(enc *bin.Encoder, key *solana.PublicKey) error {
	tag := uint32(0)
	payload := solana.PublicKey{}
	if key != nil {
		tag = 1
		payload = *key
	}
	if err := enc.WriteUint32(tag, bin.LE); err != nil {
		return err
	}
	return enc.WriteBytes(payload.Bytes(), false)
}
