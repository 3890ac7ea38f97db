package authority

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
)

func TestSignerSeedsLayout(t *testing.T) {
	group := solana.NewWallet().PublicKey()
	seeds := SignerSeeds(group, 7)
	if len(seeds) != 2 {
		t.Fatalf("expected 2 seed groups, got %d", len(seeds))
	}
	if !bytes.Equal(seeds[0], group.Bytes()) {
		t.Error("first seed should be the group address")
	}
	var nonce [8]byte
	binary.LittleEndian.PutUint64(nonce[:], 7)
	if !bytes.Equal(seeds[1], nonce[:]) {
		t.Error("second seed should be the nonce as 8 little-endian bytes")
	}
}

func TestSignerKeyDeterministic(t *testing.T) {
	group := solana.NewWallet().PublicKey()
	programID := solana.NewWallet().PublicKey()

	nonce, key, err := FindSignerNonce(group, programID)
	if err != nil {
		t.Fatalf("FindSignerNonce: %v", err)
	}
	again, err := SignerKey(group, nonce, programID)
	if err != nil {
		t.Fatalf("SignerKey: %v", err)
	}
	if !key.Equals(again) {
		t.Errorf("derivation not deterministic: %s vs %s", key, again)
	}
}

func TestSignerKeyVariesWithInputs(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	groupA := solana.NewWallet().PublicKey()
	groupB := solana.NewWallet().PublicKey()

	nonceA, keyA, err := FindSignerNonce(groupA, programID)
	if err != nil {
		t.Fatalf("FindSignerNonce(groupA): %v", err)
	}
	_, keyB, err := FindSignerNonce(groupB, programID)
	if err != nil {
		t.Fatalf("FindSignerNonce(groupB): %v", err)
	}
	if keyA.Equals(keyB) {
		t.Error("different groups must not share a derived authority")
	}

	// A different valid nonce for the same group yields a different key.
	for nonce := nonceA + 1; nonce < nonceA+256; nonce++ {
		other, err := SignerKey(groupA, nonce, programID)
		if err != nil {
			continue
		}
		if other.Equals(keyA) {
			t.Errorf("nonce %d collides with nonce %d", nonce, nonceA)
		}
		return
	}
	t.Fatal("no second valid nonce found")
}
