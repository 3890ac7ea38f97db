package host

import (
	"context"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/quasar-lab/quasar/internal/state"
)

// Rent parameters of the simulated host, matching the mainnet economics the
// issuer is deployed under.
const (
	accountStorageOverhead = 128
	lamportsPerByteYear    = 3480
	rentExemptionYears     = 2
)

var (
	// ErrAccountInUse is returned by the system-module simulation when the
	// target of a create-account call already carries funds, data or an owner.
	ErrAccountInUse = errors.New("account already in use")

	// ErrMissingSignature is returned when an invoked instruction demands a
	// signer the transaction did not provide and no seed group derives it.
	ErrMissingSignature = errors.New("missing required signature")
)

// Margin-module wire tags serviced by the simulation.
const (
	marginTagOpenAccount = uint32(1)
	marginTagDeposit     = uint32(2)
)

// Ledger is an in-memory host: an account map plus collaborator simulations
// for the system module, the fungible-token module and the margin module.
type Ledger struct {
	accounts map[solana.PublicKey]*Account

	// issuerProgram is the calling program for derived-signer verification.
	issuerProgram solana.PublicKey
	marginProgram solana.PublicKey

	marginOpen     map[solana.PublicKey]solana.PublicKey // margin account -> owner
	marginBalances map[solana.PublicKey]uint64

	// InvokeHook, when set, runs before every invocation; a non-nil return
	// aborts the call. Tests use it to fail a chosen collaborator.
	InvokeHook func(ix *Instruction) error
}

// NewLedger builds an empty ledger bound to the issuer and margin module ids.
func NewLedger(issuerProgram, marginProgram solana.PublicKey) *Ledger {
	return &Ledger{
		accounts:       make(map[solana.PublicKey]*Account),
		issuerProgram:  issuerProgram,
		marginProgram:  marginProgram,
		marginOpen:     make(map[solana.PublicKey]solana.PublicKey),
		marginBalances: make(map[solana.PublicKey]uint64),
	}
}

// MinimumBalance is the rent-exempt minimum for an account of the given size.
func (l *Ledger) MinimumBalance(space uint64) uint64 {
	return (accountStorageOverhead + space) * lamportsPerByteYear * rentExemptionYears
}

// NewAccount registers a fresh account and returns it. Zero space keeps the
// data slice nil; owner defaults to the system module when zero.
func (l *Ledger) NewAccount(key solana.PublicKey, lamports uint64, space int, owner solana.PublicKey) *Account {
	acc := &Account{Key: key, Lamports: lamports, Owner: owner}
	if owner.IsZero() {
		acc.Owner = solana.SystemProgramID
	}
	if space > 0 {
		acc.Data = make([]byte, space)
	}
	l.accounts[key] = acc
	return acc
}

// Account returns the ledger's account for key, or nil.
func (l *Ledger) Account(key solana.PublicKey) *Account {
	return l.accounts[key]
}

// MarginAccountOpen reports whether the margin simulation has an open
// account at key, and for which authority.
func (l *Ledger) MarginAccountOpen(key solana.PublicKey) (solana.PublicKey, bool) {
	owner, ok := l.marginOpen[key]
	return owner, ok
}

// MarginBalance is the collateral the margin simulation holds for key.
func (l *Ledger) MarginBalance(key solana.PublicKey) uint64 {
	return l.marginBalances[key]
}

// Invoke dispatches one cross-module call. Signer privileges are either
// inherited from the transaction or granted by recomputing the derived
// authority from the provided seed groups.
func (l *Ledger) Invoke(ctx context.Context, ix *Instruction, signerSeeds [][][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.InvokeHook != nil {
		if err := l.InvokeHook(ix); err != nil {
			return err
		}
	}
	if err := l.verifySigners(ix, signerSeeds); err != nil {
		return err
	}

	switch {
	case ix.ProgramID.Equals(solana.SystemProgramID):
		return l.executeSystem(ix)
	case ix.ProgramID.Equals(solana.TokenProgramID):
		return l.executeToken(ix)
	case ix.ProgramID.Equals(l.marginProgram):
		return l.executeMargin(ix)
	default:
		return fmt.Errorf("no loaded module at %s", ix.ProgramID)
	}
}

func (l *Ledger) verifySigners(ix *Instruction, signerSeeds [][][]byte) error {
	for _, meta := range ix.Accounts {
		if !meta.Signer || meta.Account.Signer {
			continue
		}
		derived := false
		for _, seeds := range signerSeeds {
			key, err := solana.CreateProgramAddress(seeds, l.issuerProgram)
			if err != nil {
				continue
			}
			if key.Equals(meta.Account.Key) {
				derived = true
				break
			}
		}
		if !derived {
			return fmt.Errorf("%w: %s", ErrMissingSignature, meta.Account.Key)
		}
	}
	return nil
}

// executeSystem services the system module's create-account call.
func (l *Ledger) executeSystem(ix *Instruction) error {
	dec := bin.NewBinDecoder(ix.Data)
	tag, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return fmt.Errorf("system instruction: %w", err)
	}
	if tag != 0 {
		return fmt.Errorf("system instruction %d not supported", tag)
	}
	lamports, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return err
	}
	space, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return err
	}
	rawOwner, err := dec.ReadNBytes(32)
	if err != nil {
		return err
	}
	owner := solana.PublicKeyFromBytes(rawOwner)

	if len(ix.Accounts) != 2 {
		return fmt.Errorf("create account expects 2 accounts, got %d", len(ix.Accounts))
	}
	funder := ix.Accounts[0].Account
	target := ix.Accounts[1].Account

	if existing := l.accounts[target.Key]; existing != nil {
		if existing.Lamports > 0 || len(existing.Data) > 0 || !existing.Owner.Equals(solana.SystemProgramID) {
			return fmt.Errorf("%w: %s", ErrAccountInUse, target.Key)
		}
	}
	if target.Lamports > 0 || len(target.Data) > 0 || !target.Owner.Equals(solana.SystemProgramID) {
		return fmt.Errorf("%w: %s", ErrAccountInUse, target.Key)
	}
	if funder.Lamports < lamports {
		return fmt.Errorf("funder %s has %d lamports, needs %d", funder.Key, funder.Lamports, lamports)
	}

	funder.Lamports -= lamports
	target.Lamports += lamports
	target.Data = make([]byte, space)
	target.Owner = owner
	l.accounts[target.Key] = target
	return nil
}

// executeToken services the fungible-token module's initialize-mint call.
func (l *Ledger) executeToken(ix *Instruction) error {
	if len(ix.Data) < 1 || ix.Data[0] != 0 {
		return fmt.Errorf("token instruction not supported")
	}
	dec := bin.NewBinDecoder(ix.Data[1:])
	decimals, err := dec.ReadByte()
	if err != nil {
		return err
	}
	rawAuthority, err := dec.ReadNBytes(32)
	if err != nil {
		return err
	}
	mintAuthority := solana.PublicKeyFromBytes(rawAuthority)
	freezeTag, err := dec.ReadByte()
	if err != nil {
		return err
	}
	var freezeAuthority *solana.PublicKey
	if freezeTag == 1 {
		rawFreeze, err := dec.ReadNBytes(32)
		if err != nil {
			return err
		}
		key := solana.PublicKeyFromBytes(rawFreeze)
		freezeAuthority = &key
	}

	if len(ix.Accounts) < 2 {
		return fmt.Errorf("initialize mint expects mint and rent accounts")
	}
	mintAcc := ix.Accounts[0].Account
	rentAcc := ix.Accounts[1].Account
	if !rentAcc.Key.Equals(solana.SysVarRentPubkey) {
		return fmt.Errorf("initialize mint expects the rent sysvar, got %s", rentAcc.Key)
	}
	if !mintAcc.Owner.Equals(solana.TokenProgramID) {
		return fmt.Errorf("mint %s not owned by the token module", mintAcc.Key)
	}
	if len(mintAcc.Data) != state.MintSize {
		return fmt.Errorf("mint %s has size %d, want %d", mintAcc.Key, len(mintAcc.Data), state.MintSize)
	}
	if existing, err := state.UnpackMint(mintAcc.Data); err == nil && existing.IsInitialized {
		return fmt.Errorf("mint %s already initialized", mintAcc.Key)
	}
	if mintAcc.Lamports < l.MinimumBalance(state.MintSize) {
		return fmt.Errorf("mint %s not rent exempt", mintAcc.Key)
	}

	mint := &state.Mint{
		MintAuthority:   &mintAuthority,
		Decimals:        decimals,
		IsInitialized:   true,
		FreezeAuthority: freezeAuthority,
	}
	packed, err := mint.Pack()
	if err != nil {
		return err
	}
	copy(mintAcc.Data, packed)
	return nil
}

// executeMargin services the margin module's open-account and deposit calls.
func (l *Ledger) executeMargin(ix *Instruction) error {
	dec := bin.NewBinDecoder(ix.Data)
	tag, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return fmt.Errorf("margin instruction: %w", err)
	}

	switch tag {
	case marginTagOpenAccount:
		if len(ix.Accounts) != 3 {
			return fmt.Errorf("margin open expects 3 accounts, got %d", len(ix.Accounts))
		}
		account := ix.Accounts[1].Account
		owner := ix.Accounts[2].Account
		if _, open := l.marginOpen[account.Key]; open {
			return fmt.Errorf("margin account %s already open", account.Key)
		}
		l.marginOpen[account.Key] = owner.Key
		return nil

	case marginTagDeposit:
		quantity, err := dec.ReadUint64(bin.LE)
		if err != nil {
			return err
		}
		if len(ix.Accounts) != 9 {
			return fmt.Errorf("margin deposit expects 9 accounts, got %d", len(ix.Accounts))
		}
		account := ix.Accounts[1].Account
		if _, open := l.marginOpen[account.Key]; !open {
			return fmt.Errorf("margin account %s not open", account.Key)
		}
		l.marginBalances[account.Key] += quantity
		return nil

	default:
		return fmt.Errorf("margin instruction %d not supported", tag)
	}
}

type accountSnapshot struct {
	lamports uint64
	data     []byte
	owner    solana.PublicKey
}

type ledgerSnapshot struct {
	accounts       map[solana.PublicKey]accountSnapshot
	marginOpen     map[solana.PublicKey]solana.PublicKey
	marginBalances map[solana.PublicKey]uint64
}

func (l *Ledger) snapshot() ledgerSnapshot {
	snap := ledgerSnapshot{
		accounts:       make(map[solana.PublicKey]accountSnapshot, len(l.accounts)),
		marginOpen:     make(map[solana.PublicKey]solana.PublicKey, len(l.marginOpen)),
		marginBalances: make(map[solana.PublicKey]uint64, len(l.marginBalances)),
	}
	for key, acc := range l.accounts {
		snap.accounts[key] = accountSnapshot{
			lamports: acc.Lamports,
			data:     append([]byte(nil), acc.Data...),
			owner:    acc.Owner,
		}
	}
	for key, owner := range l.marginOpen {
		snap.marginOpen[key] = owner
	}
	for key, balance := range l.marginBalances {
		snap.marginBalances[key] = balance
	}
	return snap
}

func (l *Ledger) restore(snap ledgerSnapshot) {
	for key, acc := range l.accounts {
		saved, ok := snap.accounts[key]
		if !ok {
			// Account born inside the failed invocation: unwind it in place
			// so callers holding the pointer see a fresh system account.
			acc.Lamports = 0
			acc.Data = nil
			acc.Owner = solana.SystemProgramID
			delete(l.accounts, key)
			continue
		}
		acc.Lamports = saved.lamports
		acc.Data = append([]byte(nil), saved.data...)
		acc.Owner = saved.owner
	}
	l.marginOpen = snap.marginOpen
	l.marginBalances = snap.marginBalances
}

// ExecuteAtomic runs fn as one host transaction: on error every account and
// collaborator mutation is rolled back as if the call never happened.
func (l *Ledger) ExecuteAtomic(ctx context.Context, fn func(context.Context) error) error {
	snap := l.snapshot()
	if err := fn(ctx); err != nil {
		l.restore(snap)
		return err
	}
	return nil
}
