// Package cpi builds and dispatches cross-module invocations: the system
// account-creation facility, the margin module, and the fungible-token
// module. Compositions validate well-known collaborator identities before
// dispatch and thread derived-authority seed material through to the host;
// the seeds are always recomputed by callers, never stored.
package cpi

import (
	"bytes"
	"context"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/quasar-lab/quasar/internal/host"
	"github.com/quasar-lab/quasar/internal/qerr"
)

// Margin-module instruction tags (u32 little-endian, borsh fields after).
const (
	marginTagOpenAccount = uint32(1)
	marginTagDeposit     = uint32(2)
)

// Token-module instruction tags (single byte).
const tokenTagInitializeMint = byte(0)

// CreateAccount invokes the system module to allocate a zero-initialized,
// rent-exempt account of the given size, funded by payer and owned by owner.
func CreateAccount(
	ctx context.Context,
	inv host.Invoker,
	payer *host.Account,
	newAccount *host.Account,
	space uint64,
	owner solana.PublicKey,
	systemProgram *host.Account,
) error {
	if !systemProgram.Key.Equals(solana.SystemProgramID) {
		return qerr.New(qerr.CodeInvalidAccount)
	}

	lamports := inv.MinimumBalance(space)
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	if err := enc.WriteUint32(0, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteUint64(lamports, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteUint64(space, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteBytes(owner.Bytes(), false); err != nil {
		return err
	}

	ix := &host.Instruction{
		ProgramID: solana.SystemProgramID,
		Accounts: []host.Meta{
			{Account: payer, Signer: true, Writable: true},
			{Account: newAccount, Writable: true},
		},
		Data: buf.Bytes(),
	}
	if err := inv.Invoke(ctx, ix, nil); err != nil {
		return qerr.Wrap(qerr.CodeInvocationFailed, err)
	}
	return nil
}

// OpenMarginAccount invokes the margin module to open an account owned by
// the derived authority, co-signed with its seed material.
func OpenMarginAccount(
	ctx context.Context,
	inv host.Invoker,
	marginProgram *host.Account,
	marginGroup *host.Account,
	marginAccount *host.Account,
	authority *host.Account,
	signerSeeds [][]byte,
) error {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	if err := enc.WriteUint32(marginTagOpenAccount, bin.LE); err != nil {
		return err
	}

	ix := &host.Instruction{
		ProgramID: marginProgram.Key,
		Accounts: []host.Meta{
			{Account: marginGroup},
			{Account: marginAccount, Writable: true},
			{Account: authority, Signer: true},
		},
		Data: buf.Bytes(),
	}
	if err := inv.Invoke(ctx, ix, [][][]byte{signerSeeds}); err != nil {
		return qerr.Wrap(qerr.CodeInvocationFailed, err)
	}
	return nil
}

// DepositCollateral invokes the margin module's deposit, authenticated by
// the depositing owner rather than the derived authority.
func DepositCollateral(
	ctx context.Context,
	inv host.Invoker,
	marginProgram *host.Account,
	marginGroup *host.Account,
	marginAccount *host.Account,
	owner *host.Account,
	marginCache *host.Account,
	rootBank *host.Account,
	nodeBank *host.Account,
	vault *host.Account,
	tokenProgram *host.Account,
	ownerTokenAccount *host.Account,
	quantity uint64,
) error {
	if !tokenProgram.Key.Equals(solana.TokenProgramID) {
		return qerr.New(qerr.CodeInvalidAccount)
	}

	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	if err := enc.WriteUint32(marginTagDeposit, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteUint64(quantity, bin.LE); err != nil {
		return err
	}

	ix := &host.Instruction{
		ProgramID: marginProgram.Key,
		Accounts: []host.Meta{
			{Account: marginGroup},
			{Account: marginAccount, Writable: true},
			{Account: owner, Signer: true},
			{Account: marginCache},
			{Account: rootBank},
			{Account: nodeBank, Writable: true},
			{Account: vault, Writable: true},
			{Account: tokenProgram},
			{Account: ownerTokenAccount, Writable: true},
		},
		Data: buf.Bytes(),
	}
	if err := inv.Invoke(ctx, ix, nil); err != nil {
		return qerr.Wrap(qerr.CodeInvocationFailed, err)
	}
	return nil
}

// CreateAndInitializeMint allocates a fungible-token mint funded by payer
// and initializes it with the derived authority as both mint and freeze
// authority.
func CreateAndInitializeMint(
	ctx context.Context,
	inv host.Invoker,
	payer *host.Account,
	mint *host.Account,
	authority *host.Account,
	tokenProgram *host.Account,
	systemProgram *host.Account,
	rentSysvar *host.Account,
	signerSeeds [][]byte,
	decimals uint8,
	mintSize uint64,
) error {
	if !tokenProgram.Key.Equals(solana.TokenProgramID) {
		return qerr.New(qerr.CodeInvalidAccount)
	}
	if !systemProgram.Key.Equals(solana.SystemProgramID) {
		return qerr.New(qerr.CodeInvalidAccount)
	}
	if !rentSysvar.Key.Equals(solana.SysVarRentPubkey) {
		return qerr.New(qerr.CodeInvalidAccount)
	}

	if err := CreateAccount(ctx, inv, payer, mint, mintSize, solana.TokenProgramID, systemProgram); err != nil {
		return err
	}

	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	if err := enc.WriteByte(tokenTagInitializeMint); err != nil {
		return err
	}
	if err := enc.WriteByte(decimals); err != nil {
		return err
	}
	if err := enc.WriteBytes(authority.Key.Bytes(), false); err != nil {
		return err
	}
	if err := enc.WriteByte(1); err != nil {
		return err
	}
	if err := enc.WriteBytes(authority.Key.Bytes(), false); err != nil {
		return err
	}

	ix := &host.Instruction{
		ProgramID: solana.TokenProgramID,
		Accounts: []host.Meta{
			{Account: mint, Writable: true},
			{Account: rentSysvar},
		},
		Data: buf.Bytes(),
	}
	if err := inv.Invoke(ctx, ix, [][][]byte{signerSeeds}); err != nil {
		return qerr.Wrap(qerr.CodeInvocationFailed, err)
	}
	return nil
}
