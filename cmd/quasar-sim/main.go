// quasar-sim runs the issuer core end to end against the in-memory host:
// group initialization, base-token registration with a stub feed, leverage
// token registration, and the collateral-deposit leg of minting.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gagliardetto/solana-go"
	_ "github.com/joho/godotenv/autoload"

	"github.com/quasar-lab/quasar/internal/authority"
	"github.com/quasar-lab/quasar/internal/config"
	"github.com/quasar-lab/quasar/internal/fixed"
	"github.com/quasar-lab/quasar/internal/host"
	"github.com/quasar-lab/quasar/internal/logging"
	"github.com/quasar-lab/quasar/internal/oracle"
	"github.com/quasar-lab/quasar/internal/program"
	"github.com/quasar-lab/quasar/internal/qerr"
	"github.com/quasar-lab/quasar/internal/state"
)

func main() {
	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.LoadSimConfig()
	if err != nil {
		bootstrapLogger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger, closeLogger, err := logging.New("quasar-sim", cfg.Log)
	if err != nil {
		bootstrapLogger.Error("failed to initialize logger", "err", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := closeLogger(); closeErr != nil {
			bootstrapLogger.Error("failed to close logger", "err", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("simulation failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.SimConfig, logger *slog.Logger) error {
	ledger := host.NewLedger(cfg.ProgramID, cfg.MarginProgramID)
	proc := program.New(cfg.ProgramID, ledger, logger)

	groupKey := solana.NewWallet().PublicKey()
	adminKey := solana.NewWallet().PublicKey()
	nonce, signerKey, err := authority.FindSignerNonce(groupKey, cfg.ProgramID)
	if err != nil {
		return err
	}
	logger.Info("derived authority", "group", groupKey, "nonce", nonce, "signer", signerKey)

	group := ledger.NewAccount(groupKey, ledger.MinimumBalance(state.GroupSize), state.GroupSize, cfg.ProgramID)
	group.Writable = true
	signer := ledger.NewAccount(signerKey, 0, 0, solana.PublicKey{})
	admin := ledger.NewAccount(adminKey, ledger.MinimumBalance(state.MintSize)*4, 0, solana.PublicKey{})
	admin.Signer = true
	marginProgram := ledger.NewAccount(cfg.MarginProgramID, 0, 0, solana.PublicKey{})

	initData, err := (&program.Instruction{Tag: program.TagInitGroup, SignerNonce: nonce}).Encode()
	if err != nil {
		return err
	}
	if err := ledger.ExecuteAtomic(ctx, func(ctx context.Context) error {
		return proc.Process(ctx, []*host.Account{group, signer, admin, marginProgram}, initData)
	}); err != nil {
		return err
	}
	logger.Info("group initialized", "group", groupKey, "admin", adminKey)

	// Register a collateral asset against a stub feed.
	assetMint := ledger.NewAccount(solana.NewWallet().PublicKey(), ledger.MinimumBalance(state.MintSize), state.MintSize, solana.TokenProgramID)
	packedMint, err := (&state.Mint{Decimals: cfg.BaseDecimals, IsInitialized: true}).Pack()
	if err != nil {
		return err
	}
	copy(assetMint.Data, packedMint)

	stubOracle := ledger.NewAccount(solana.NewWallet().PublicKey(), ledger.MinimumBalance(state.StubOracleSize), state.StubOracleSize, cfg.ProgramID)
	stubOracle.Writable = true

	addBaseData, err := (&program.Instruction{Tag: program.TagAddBaseToken}).Encode()
	if err != nil {
		return err
	}
	if err := ledger.ExecuteAtomic(ctx, func(ctx context.Context) error {
		return proc.Process(ctx, []*host.Account{group, assetMint, stubOracle, admin}, addBaseData)
	}); err != nil {
		return err
	}
	logger.Info("base token registered", "mint", assetMint.Key, "oracle", stubOracle.Key)

	// Post a price to the stub feed and read it back normalized.
	stubPrice, err := fixed.FromDecimal(cfg.StubPrice)
	if err != nil {
		return err
	}
	packedStub, err := (&state.StubOracle{Magic: state.StubOracleMagic, Price: stubPrice}).Serialize()
	if err != nil {
		return err
	}
	copy(stubOracle.Data, packedStub)
	price, err := oracle.ReadPrice(cfg.BaseDecimals, stubOracle.Data)
	if err != nil {
		return err
	}
	logger.Info("oracle price resolved", "price", price.String())

	// Register a leverage token on top of the base token.
	target, err := fixed.FromDecimal(cfg.TargetLeverage)
	if err != nil {
		return err
	}
	levMint := ledger.NewAccount(solana.NewWallet().PublicKey(), 0, 0, solana.PublicKey{})
	levMint.Writable = true
	marginGroup := ledger.NewAccount(solana.NewWallet().PublicKey(), 0, 0, solana.PublicKey{})
	marginAccount := ledger.NewAccount(solana.NewWallet().PublicKey(), 0, 0, solana.PublicKey{})
	marginAccount.Writable = true
	marginMarket := ledger.NewAccount(solana.NewWallet().PublicKey(), 0, 0, solana.PublicKey{})
	systemProgram := ledger.NewAccount(solana.SystemProgramID, 0, 0, solana.PublicKey{})
	tokenProgram := ledger.NewAccount(solana.TokenProgramID, 0, 0, solana.PublicKey{})
	rentSysvar := ledger.NewAccount(solana.SysVarRentPubkey, 0, 0, solana.PublicKey{})

	addLevData, err := (&program.Instruction{Tag: program.TagAddLeverageToken, TargetLeverage: target}).Encode()
	if err != nil {
		return err
	}
	if err := ledger.ExecuteAtomic(ctx, func(ctx context.Context) error {
		return proc.Process(ctx, []*host.Account{
			group, levMint, assetMint,
			marginProgram, marginGroup, marginAccount, marginMarket,
			systemProgram, tokenProgram, rentSysvar,
			admin, signer,
		}, addLevData)
	}); err != nil {
		return err
	}
	logger.Info("leverage token registered", "mint", levMint.Key, "target_leverage", target.String())

	// The mint path runs its deposit leg, then reports the unimplemented
	// position and token legs; the host rolls the deposit back.
	depositor := ledger.NewAccount(solana.NewWallet().PublicKey(), 0, 0, solana.PublicKey{})
	depositor.Signer = true
	marginCache := ledger.NewAccount(solana.NewWallet().PublicKey(), 0, 0, solana.PublicKey{})
	rootBank := ledger.NewAccount(solana.NewWallet().PublicKey(), 0, 0, solana.PublicKey{})
	nodeBank := ledger.NewAccount(solana.NewWallet().PublicKey(), 0, 0, solana.PublicKey{})
	nodeBank.Writable = true
	vault := ledger.NewAccount(solana.NewWallet().PublicKey(), 0, 0, solana.PublicKey{})
	vault.Writable = true
	depositorToken := ledger.NewAccount(solana.NewWallet().PublicKey(), 0, 0, solana.PublicKey{})
	depositorToken.Writable = true

	mintData, err := (&program.Instruction{Tag: program.TagMintLeverageToken, TargetLeverage: target, Quantity: cfg.DepositQuantity}).Encode()
	if err != nil {
		return err
	}
	err = ledger.ExecuteAtomic(ctx, func(ctx context.Context) error {
		return proc.Process(ctx, []*host.Account{
			group, assetMint,
			marginProgram, marginGroup, marginAccount, depositor,
			marginCache, rootBank, nodeBank, vault,
			tokenProgram, depositorToken,
		}, mintData)
	})
	if err != nil && !errors.Is(err, qerr.CodeNotImplemented) {
		return err
	}
	logger.Info("mint leverage token", "quantity", cfg.DepositQuantity, "result", err)

	final, err := state.DeserializeGroup(group.Data)
	if err != nil {
		return err
	}
	logger.Info("registry state",
		"base_tokens", final.NumBaseTokens,
		"leverage_tokens", final.NumLeverageTokens,
	)
	return nil
}
