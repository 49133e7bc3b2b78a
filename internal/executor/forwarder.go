package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/averylane/soltraderd/internal/domain"
	"github.com/averylane/soltraderd/internal/envelope"
)

// sweepFeeLamports is reserved on top of the floor for transaction fees.
const sweepFeeLamports = 10_000

// Forward sweeps the wallet's balances to destination: first each of the
// given SPL mints, then USDC, then SOL down to solFloorLamports. Every leg is
// independent; a failing leg is logged and the sweep continues.
func (e *Executor) Forward(ctx context.Context, walletID, destination string, mints []string, solFloorLamports uint64) error {
	if e.deps.RPC == nil {
		return fmt.Errorf("executor: forward: no rpc client configured")
	}
	dest, err := solana.PublicKeyFromBase58(destination)
	if err != nil {
		return fmt.Errorf("executor: forward destination: %w", domain.ErrBadInput)
	}

	wallet, err := e.deps.Wallets.GetByID(ctx, walletID)
	if err != nil {
		return fmt.Errorf("executor: forward: loading wallet: %w", err)
	}
	pk, err := e.loadKey(wallet)
	if err != nil {
		return err
	}
	defer envelope.Zeroize(pk)
	signer := solana.PrivateKey(pk)
	owner := signer.PublicKey()

	log := e.logger.With(
		slog.String("wallet_id", walletID),
		slog.String("destination", destination),
	)

	order := append(append([]string{}, mints...), domain.MintUSDC)
	for _, mint := range order {
		if err := e.forwardToken(ctx, signer, owner, dest, mint); err != nil {
			log.Warn("token sweep leg failed", slog.String("mint", mint), slog.String("error", err.Error()))
		}
	}
	if err := e.forwardSOL(ctx, signer, owner, dest, solFloorLamports); err != nil {
		log.Warn("sol sweep leg failed", slog.String("error", err.Error()))
		return err
	}
	log.Info("wallet swept")
	return nil
}

// forwardToken moves the wallet's entire balance of mint to the destination's
// associated token account, creating it when missing.
func (e *Executor) forwardToken(ctx context.Context, signer solana.PrivateKey, owner, dest solana.PublicKey, mint string) error {
	mintPub, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return fmt.Errorf("mint %s: %w", mint, domain.ErrBadInput)
	}
	source, _, err := solana.FindAssociatedTokenAddress(owner, mintPub)
	if err != nil {
		return err
	}
	balance, err := e.deps.RPC.GetTokenAccountBalance(ctx, source, rpc.CommitmentConfirmed)
	if err != nil || balance == nil || balance.Value == nil {
		return nil // no account, nothing to sweep
	}
	amount, err := strconv.ParseUint(balance.Value.Amount, 10, 64)
	if err != nil || amount == 0 {
		return nil
	}

	destATA, _, err := solana.FindAssociatedTokenAddress(dest, mintPub)
	if err != nil {
		return err
	}

	var instructions []solana.Instruction
	if info, err := e.deps.RPC.GetAccountInfo(ctx, destATA); err != nil || info == nil || info.Value == nil {
		instructions = append(instructions,
			associatedtokenaccount.NewCreateInstruction(owner, dest, mintPub).Build())
	}
	instructions = append(instructions,
		token.NewTransferInstruction(amount, source, destATA, owner, nil).Build())

	return e.signAndSend(ctx, signer, owner, instructions)
}

// forwardSOL moves everything above floor + fee reserve.
func (e *Executor) forwardSOL(ctx context.Context, signer solana.PrivateKey, owner, dest solana.PublicKey, floor uint64) error {
	balance, err := e.deps.RPC.GetBalance(ctx, owner, rpc.CommitmentConfirmed)
	if err != nil {
		return err
	}
	keep := floor + sweepFeeLamports
	if balance.Value <= keep {
		return nil
	}
	instruction := system.NewTransferInstruction(balance.Value-keep, owner, dest).Build()
	return e.signAndSend(ctx, signer, owner, []solana.Instruction{instruction})
}

func (e *Executor) signAndSend(ctx context.Context, signer solana.PrivateKey, owner solana.PublicKey, instructions []solana.Instruction) error {
	recent, err := e.deps.RPC.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return err
	}
	tx, err := solana.NewTransaction(instructions, recent.Value.Blockhash, solana.TransactionPayer(owner))
	if err != nil {
		return err
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(owner) {
			return &signer
		}
		return nil
	}); err != nil {
		return err
	}
	sig, err := e.deps.RPC.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return err
	}
	e.logger.Debug("sweep transaction sent", slog.String("signature", sig.String()))
	return nil
}
