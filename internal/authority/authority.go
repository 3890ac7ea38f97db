// Package authority derives the group's signing authority: an address with no
// private key, reproducible only from (group address, nonce). Callers always
// recompute it; the stored copy on the group record is never trusted alone.
package authority

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// SignerSeeds returns the seed material for the derived authority:
// the group address followed by the nonce as 8 little-endian bytes.
func SignerSeeds(group solana.PublicKey, nonce uint64) [][]byte {
	return [][]byte{group.Bytes(), u64LE(nonce)}
}

// SignerKey derives the authority address for (group, nonce) under programID.
// Fails when the derivation lands on the ed25519 curve and no authority
// exists for that nonce.
func SignerKey(group solana.PublicKey, nonce uint64, programID solana.PublicKey) (solana.PublicKey, error) {
	return solana.CreateProgramAddress(SignerSeeds(group, nonce), programID)
}

// FindSignerNonce scans nonces from zero for the first valid derivation,
// returning it together with the derived key. Roughly half of all nonces
// land on the curve and are skipped.
func FindSignerNonce(group solana.PublicKey, programID solana.PublicKey) (uint64, solana.PublicKey, error) {
	for nonce := uint64(0); nonce < 256; nonce++ {
		key, err := SignerKey(group, nonce, programID)
		if err == nil {
			return nonce, key, nil
		}
	}
	return 0, solana.PublicKey{}, fmt.Errorf("no valid signer nonce for group %s", group)
}

func u64LE(value uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, value)
	return buf
}
