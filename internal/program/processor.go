// Package program is the instruction dispatcher and the six handlers of the
// leveraged-token issuer. Each call is one atomic unit of work under the
// host's transaction semantics: all validation runs before any mutation,
// every cross-module invocation runs before the registry append, and any
// failure aborts the whole invocation.
package program

import (
	"context"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/quasar-lab/quasar/internal/authority"
	"github.com/quasar-lab/quasar/internal/cpi"
	"github.com/quasar-lab/quasar/internal/host"
	"github.com/quasar-lab/quasar/internal/oracle"
	"github.com/quasar-lab/quasar/internal/qerr"
	"github.com/quasar-lab/quasar/internal/state"
)

// testAccountSpace is the size of the account allocated by TestCreateAccount.
const testAccountSpace = 10

// Processor routes decoded instructions to handlers.
type Processor struct {
	programID solana.PublicKey
	invoker   host.Invoker
	logger    *slog.Logger
}

// New builds a processor for one deployed program identity.
func New(programID solana.PublicKey, invoker host.Invoker, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{programID: programID, invoker: invoker, logger: logger}
}

// Process decodes the payload and runs exactly one handler.
func (p *Processor) Process(ctx context.Context, accounts []*host.Account, data []byte) error {
	ix, err := DecodeInstruction(data)
	if err != nil {
		return err
	}
	p.logger.Info("instruction", "name", ix.Tag.String())

	switch ix.Tag {
	case TagInitGroup:
		return p.initGroup(ctx, accounts, ix.SignerNonce)
	case TagAddBaseToken:
		return p.addBaseToken(ctx, accounts)
	case TagAddLeverageToken:
		return p.addLeverageToken(ctx, accounts, ix)
	case TagMintLeverageToken:
		return p.mintLeverageToken(ctx, accounts, ix)
	case TagRedeemLeverageToken:
		return p.redeemLeverageToken(ctx, accounts, ix)
	case TagTestCreateAccount:
		return p.testCreateAccount(ctx, accounts)
	default:
		return qerr.New(qerr.CodeInvalidInstruction)
	}
}

func (p *Processor) initGroup(ctx context.Context, accounts []*host.Account, signerNonce uint64) error {
	if len(accounts) != 4 {
		return qerr.New(qerr.CodeInvalidInstruction)
	}
	groupAcc, signerAcc, adminAcc, marginProgramAcc := accounts[0], accounts[1], accounts[2], accounts[3]

	if !groupAcc.Owner.Equals(p.programID) {
		return qerr.New(qerr.CodeInvalidGroupOwner)
	}
	if len(groupAcc.Data) != state.GroupSize {
		return qerr.New(qerr.CodeInvalidAccount)
	}
	if groupAcc.Lamports < p.invoker.MinimumBalance(state.GroupSize) {
		return qerr.New(qerr.CodeGroupNotRentExempt)
	}

	group, err := state.DeserializeGroup(groupAcc.Data)
	if err != nil {
		return err
	}
	if group.MetaData.IsInitialized {
		return qerr.New(qerr.CodeAlreadyInitialized)
	}

	derived, err := authority.SignerKey(groupAcc.Key, signerNonce, p.programID)
	if err != nil || !derived.Equals(signerAcc.Key) {
		return qerr.New(qerr.CodeInvalidSignerKey)
	}
	if !adminAcc.Signer {
		return qerr.New(qerr.CodeSignerNecessary)
	}

	group.SignerNonce = signerNonce
	group.SignerKey = signerAcc.Key
	group.MarginProgramID = marginProgramAcc.Key
	group.AdminKey = adminAcc.Key
	group.MetaData = state.MetaData{DataType: state.DataTypeGroup, Version: state.Version, IsInitialized: true}

	return storeGroup(groupAcc, group)
}

func (p *Processor) addBaseToken(ctx context.Context, accounts []*host.Account) error {
	if len(accounts) != 4 {
		return qerr.New(qerr.CodeInvalidInstruction)
	}
	groupAcc, mintAcc, oracleAcc, adminAcc := accounts[0], accounts[1], accounts[2], accounts[3]

	group, err := p.loadGroupChecked(groupAcc)
	if err != nil {
		return err
	}
	if err := requireAdmin(group, adminAcc); err != nil {
		return err
	}

	if _, found := group.FindBaseTokenIndex(mintAcc.Key); found {
		return qerr.New(qerr.CodeDuplicateBaseToken)
	}
	if group.NumBaseTokens >= state.MaxBaseTokens {
		return qerr.New(qerr.CodeRegistryFull)
	}

	mint, err := state.UnpackMint(mintAcc.Data)
	if err != nil {
		return err
	}

	oracleType := oracle.Classify(oracleAcc.Data)
	switch oracleType {
	case oracle.TypePyth:
		// Trusted by identity; the feed account needs no initialization here.
	default:
		if err := p.initStubOracle(oracleAcc); err != nil {
			return err
		}
	}
	p.logger.Info("oracle bound", "oracle", oracleAcc.Key, "type", oracleType.String())

	if err := group.AppendBaseToken(state.BaseToken{
		Mint:     mintAcc.Key,
		Decimals: mint.Decimals,
		Oracle:   oracleAcc.Key,
	}); err != nil {
		return err
	}
	return storeGroup(groupAcc, group)
}

// initStubOracle turns a fresh program-owned account into a stub feed.
func (p *Processor) initStubOracle(oracleAcc *host.Account) error {
	if !oracleAcc.Owner.Equals(p.programID) {
		return qerr.New(qerr.CodeInvalidGroupOwner)
	}
	if !oracleAcc.Writable {
		return qerr.New(qerr.CodeInvalidAccount)
	}
	if len(oracleAcc.Data) != state.StubOracleSize {
		return qerr.New(qerr.CodeInvalidAccount)
	}
	if oracleAcc.Lamports < p.invoker.MinimumBalance(state.StubOracleSize) {
		return qerr.New(qerr.CodeGroupNotRentExempt)
	}
	existing, err := state.DeserializeStubOracle(oracleAcc.Data)
	if err != nil {
		return err
	}
	if existing.Magic != 0 {
		return qerr.New(qerr.CodeAlreadyInitialized)
	}

	stub := &state.StubOracle{Magic: state.StubOracleMagic}
	packed, err := stub.Serialize()
	if err != nil {
		return err
	}
	copy(oracleAcc.Data, packed)
	return nil
}

func (p *Processor) addLeverageToken(ctx context.Context, accounts []*host.Account, ix *Instruction) error {
	if len(accounts) != 12 {
		return qerr.New(qerr.CodeInvalidInstruction)
	}
	groupAcc := accounts[0]
	mintAcc := accounts[1]
	baseMintAcc := accounts[2]
	marginProgramAcc := accounts[3]
	marginGroupAcc := accounts[4]
	marginAccountAcc := accounts[5]
	marginMarketAcc := accounts[6]
	systemProgramAcc := accounts[7]
	tokenProgramAcc := accounts[8]
	rentSysvarAcc := accounts[9]
	adminAcc := accounts[10]
	authorityAcc := accounts[11]

	group, err := p.loadGroupChecked(groupAcc)
	if err != nil {
		return err
	}
	if err := requireAdmin(group, adminAcc); err != nil {
		return err
	}
	if !marginProgramAcc.Key.Equals(group.MarginProgramID) {
		return qerr.New(qerr.CodeInvalidAccount)
	}

	if _, found := group.FindBaseTokenIndex(baseMintAcc.Key); !found {
		return qerr.New(qerr.CodeBaseTokenNotFound)
	}
	if _, found := group.FindLeverageTokenIndex(baseMintAcc.Key, ix.TargetLeverage); found {
		return qerr.New(qerr.CodeDuplicateLeverageToken)
	}
	if group.NumLeverageTokens >= state.MaxLeverageTokens {
		return qerr.New(qerr.CodeRegistryFull)
	}

	// The stored signer key is never trusted alone: recompute the derivation
	// and require all three to agree.
	if !authorityAcc.Key.Equals(group.SignerKey) {
		return qerr.New(qerr.CodeInvalidSignerKey)
	}
	derived, err := authority.SignerKey(groupAcc.Key, group.SignerNonce, p.programID)
	if err != nil || !derived.Equals(authorityAcc.Key) {
		return qerr.New(qerr.CodeInvalidSignerKey)
	}
	signerSeeds := authority.SignerSeeds(groupAcc.Key, group.SignerNonce)

	if err := cpi.OpenMarginAccount(ctx, p.invoker, marginProgramAcc, marginGroupAcc, marginAccountAcc, authorityAcc, signerSeeds); err != nil {
		return err
	}
	p.logger.Info("margin account opened", "account", marginAccountAcc.Key)

	if err := cpi.CreateAndInitializeMint(
		ctx, p.invoker,
		adminAcc, mintAcc, authorityAcc,
		tokenProgramAcc, systemProgramAcc, rentSysvarAcc,
		signerSeeds, state.LeverageTokenDecimals, state.MintSize,
	); err != nil {
		return err
	}
	p.logger.Info("leverage token mint created", "mint", mintAcc.Key)

	if err := group.AppendLeverageToken(state.LeverageToken{
		Mint:           mintAcc.Key,
		BaseTokenMint:  baseMintAcc.Key,
		TargetLeverage: ix.TargetLeverage,
		MarginAccount:  marginAccountAcc.Key,
		MarginMarket:   marginMarketAcc.Key,
	}); err != nil {
		return err
	}
	return storeGroup(groupAcc, group)
}

func (p *Processor) mintLeverageToken(ctx context.Context, accounts []*host.Account, ix *Instruction) error {
	if len(accounts) != 12 {
		return qerr.New(qerr.CodeInvalidInstruction)
	}
	groupAcc := accounts[0]
	baseMintAcc := accounts[1]
	marginProgramAcc := accounts[2]
	marginGroupAcc := accounts[3]
	marginAccountAcc := accounts[4]
	ownerAcc := accounts[5]
	marginCacheAcc := accounts[6]
	rootBankAcc := accounts[7]
	nodeBankAcc := accounts[8]
	vaultAcc := accounts[9]
	tokenProgramAcc := accounts[10]
	ownerTokenAcc := accounts[11]

	group, err := p.loadGroupChecked(groupAcc)
	if err != nil {
		return err
	}
	if !ownerAcc.Signer {
		return qerr.New(qerr.CodeSignerNecessary)
	}
	if !marginProgramAcc.Key.Equals(group.MarginProgramID) {
		return qerr.New(qerr.CodeInvalidAccount)
	}
	if _, found := group.FindBaseTokenIndex(baseMintAcc.Key); !found {
		return qerr.New(qerr.CodeBaseTokenNotFound)
	}
	idx, found := group.FindLeverageTokenIndex(baseMintAcc.Key, ix.TargetLeverage)
	if !found {
		return qerr.New(qerr.CodeInvalidAccount)
	}
	if !group.LeverageTokens[idx].MarginAccount.Equals(marginAccountAcc.Key) {
		return qerr.New(qerr.CodeInvalidAccount)
	}

	// Deposits are funded by the caller, so the invocation is authenticated
	// by the owner, not the derived authority.
	if err := cpi.DepositCollateral(
		ctx, p.invoker,
		marginProgramAcc, marginGroupAcc, marginAccountAcc, ownerAcc,
		marginCacheAcc, rootBankAcc, nodeBankAcc, vaultAcc,
		tokenProgramAcc, ownerTokenAcc,
		ix.Quantity,
	); err != nil {
		return err
	}
	p.logger.Info("collateral deposited", "margin_account", marginAccountAcc.Key, "quantity", ix.Quantity)

	// The position-sizing and token-minting legs are not designed yet;
	// failing here keeps the whole call, deposit included, uncommitted
	// instead of silently succeeding halfway.
	return qerr.New(qerr.CodeNotImplemented)
}

func (p *Processor) redeemLeverageToken(ctx context.Context, accounts []*host.Account, ix *Instruction) error {
	// Burn, unwind and return of collateral are not designed yet.
	return qerr.New(qerr.CodeNotImplemented)
}

func (p *Processor) testCreateAccount(ctx context.Context, accounts []*host.Account) error {
	if len(accounts) != 4 {
		return qerr.New(qerr.CodeInvalidInstruction)
	}
	payerAcc, ownerAcc, newAcc, systemProgramAcc := accounts[0], accounts[1], accounts[2], accounts[3]

	if !payerAcc.Signer {
		return qerr.New(qerr.CodeSignerNecessary)
	}
	return cpi.CreateAccount(ctx, p.invoker, payerAcc, newAcc, testAccountSpace, ownerAcc.Key, systemProgramAcc)
}

// loadGroupChecked deserializes a group account after verifying ownership,
// size, record kind and the initialized flag.
func (p *Processor) loadGroupChecked(groupAcc *host.Account) (*state.Group, error) {
	if !groupAcc.Owner.Equals(p.programID) {
		return nil, qerr.New(qerr.CodeInvalidGroupOwner)
	}
	if len(groupAcc.Data) != state.GroupSize {
		return nil, qerr.New(qerr.CodeInvalidAccount)
	}
	group, err := state.DeserializeGroup(groupAcc.Data)
	if err != nil {
		return nil, err
	}
	if !group.MetaData.IsInitialized || group.MetaData.DataType != state.DataTypeGroup {
		return nil, qerr.New(qerr.CodeNotInitialized)
	}
	return group, nil
}

func requireAdmin(group *state.Group, adminAcc *host.Account) error {
	if !adminAcc.Signer {
		return qerr.New(qerr.CodeSignerNecessary)
	}
	if !adminAcc.Key.Equals(group.AdminKey) {
		return qerr.New(qerr.CodeInvalidAdminKey)
	}
	return nil
}

func storeGroup(groupAcc *host.Account, group *state.Group) error {
	if !groupAcc.Writable {
		return qerr.New(qerr.CodeInvalidAccount)
	}
	packed, err := group.Serialize()
	if err != nil {
		return err
	}
	copy(groupAcc.Data, packed)
	return nil
}
