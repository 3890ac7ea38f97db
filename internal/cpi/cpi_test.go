package cpi

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"

	"github.com/quasar-lab/quasar/internal/authority"
	"github.com/quasar-lab/quasar/internal/host"
	"github.com/quasar-lab/quasar/internal/qerr"
)

func TestCreateAccountRejectsWrongSystemModule(t *testing.T) {
	ledger := host.NewLedger(solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey())
	payer := ledger.NewAccount(solana.NewWallet().PublicKey(), 1_000_000_000, 0, solana.PublicKey{})
	payer.Signer = true
	target := ledger.NewAccount(solana.NewWallet().PublicKey(), 0, 0, solana.PublicKey{})
	imposter := ledger.NewAccount(solana.NewWallet().PublicKey(), 0, 0, solana.PublicKey{})

	err := CreateAccount(context.Background(), ledger, payer, target, 10, payer.Key, imposter)
	if !errors.Is(err, qerr.CodeInvalidAccount) {
		t.Fatalf("imposter system module = %v, want invalid account", err)
	}
	if len(target.Data) != 0 {
		t.Error("no allocation may happen before the identity check")
	}
}

func TestDepositCollateralRejectsWrongTokenModule(t *testing.T) {
	ledger := host.NewLedger(solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey())
	fresh := func() *host.Account {
		return ledger.NewAccount(solana.NewWallet().PublicKey(), 0, 0, solana.PublicKey{})
	}
	owner := fresh()
	owner.Signer = true
	imposter := fresh()

	err := DepositCollateral(context.Background(), ledger,
		fresh(), fresh(), fresh(), owner,
		fresh(), fresh(), fresh(), fresh(),
		imposter, fresh(), 100)
	if !errors.Is(err, qerr.CodeInvalidAccount) {
		t.Fatalf("imposter token module = %v, want invalid account", err)
	}
}

func TestOpenMarginAccountSignsWithDerivedAuthority(t *testing.T) {
	issuerProgram := solana.NewWallet().PublicKey()
	marginID := solana.NewWallet().PublicKey()
	ledger := host.NewLedger(issuerProgram, marginID)

	group := solana.NewWallet().PublicKey()
	nonce, signerKey, err := authority.FindSignerNonce(group, issuerProgram)
	if err != nil {
		t.Fatalf("find signer nonce: %v", err)
	}

	marginProgram := ledger.NewAccount(marginID, 0, 0, solana.PublicKey{})
	marginGroup := ledger.NewAccount(solana.NewWallet().PublicKey(), 0, 0, solana.PublicKey{})
	marginAccount := ledger.NewAccount(solana.NewWallet().PublicKey(), 0, 0, solana.PublicKey{})
	authorityAcc := ledger.NewAccount(signerKey, 0, 0, solana.PublicKey{})

	seeds := authority.SignerSeeds(group, nonce)
	if err := OpenMarginAccount(context.Background(), ledger, marginProgram, marginGroup, marginAccount, authorityAcc, seeds); err != nil {
		t.Fatalf("open with valid seeds: %v", err)
	}
	if owner, open := ledger.MarginAccountOpen(marginAccount.Key); !open || !owner.Equals(signerKey) {
		t.Fatalf("margin account open = (%s, %t), want owned by %s", owner, open, signerKey)
	}

	// Without the seed material the authority cannot sign.
	other := ledger.NewAccount(solana.NewWallet().PublicKey(), 0, 0, solana.PublicKey{})
	err = OpenMarginAccount(context.Background(), ledger, marginProgram, marginGroup, other, authorityAcc, nil)
	if !errors.Is(err, host.ErrMissingSignature) || !errors.Is(err, qerr.CodeInvocationFailed) {
		t.Fatalf("open without seeds = %v, want missing signature", err)
	}
}
