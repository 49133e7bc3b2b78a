package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/averylane/soltraderd/internal/domain"
	"github.com/averylane/soltraderd/internal/envelope"
)

// Reducer records a position reduction after a sell lands on-chain.
type Reducer interface {
	Reduce(ctx context.Context, req domain.ReduceRequest) (domain.ReduceResult, error)
}

// SellRequest asks the executor to swap out of a position and record the
// reduction. Quote must be a route from the position mint into SOL or USDC.
type SellRequest struct {
	Quote       domain.Quote
	Key         domain.PositionKey
	TriggerType domain.TriggerType
	Turbo       bool
	Simulated   bool
}

// SetReducer wires the sell-side reducer. Set once at boot; the reducer and
// executor are constructed in separate packages.
func (e *Executor) SetReducer(r Reducer) { e.reducer = r }

// ExecSell signs and broadcasts a sell swap, then records the FIFO reduction.
// Returns the transaction hash.
func (e *Executor) ExecSell(ctx context.Context, req SellRequest) (string, error) {
	key := req.Key
	log := e.logger.With(
		slog.String("user_id", key.UserID),
		slog.String("wallet_id", key.WalletID),
		slog.String("mint", key.Mint),
		slog.String("trigger", string(req.TriggerType)),
	)

	if e.killSwitch.Load() && !req.Simulated {
		return "", domain.ErrKillSwitchActive
	}
	if e.reducer == nil {
		return "", fmt.Errorf("executor: no reducer wired")
	}

	wallet, err := e.deps.Wallets.GetByID(ctx, key.WalletID)
	if err != nil {
		return "", fmt.Errorf("executor: loading wallet: %w", err)
	}
	prefs, err := e.deps.Users.GetPreferences(ctx, key.UserID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", fmt.Errorf("executor: loading preferences: %w", err)
	}

	var txHash string
	if req.Simulated {
		txHash = "sim-" + uuid.New().String()
	} else {
		pk, err := e.loadKey(wallet)
		if err != nil {
			return "", err
		}
		shared := prefs.MEVMode == domain.MEVModeSecure
		txHash, err = e.broadcast(ctx, ExecRequest{
			Quote: req.Quote,
			Mint:  key.Mint,
			Meta:  TradeMeta{UserID: key.UserID, WalletID: key.WalletID, Strategy: key.Strategy, Turbo: req.Turbo},
		}, pk, shared, prefs.DefaultPriorityFee, prefs.BriberyAmount)
		envelope.Zeroize(pk)
		if err != nil {
			e.coolOff.Trip(key.Mint)
			log.Warn("sell swap failed", slog.String("error", err.Error()))
			return "", err
		}
	}

	decimals := e.decimals(ctx, key.Mint)
	inUi := float64(req.Quote.InAmount) / math.Pow10(decimals)
	outDecimals := e.decimals(ctx, req.Quote.OutputMint)
	outUi := float64(req.Quote.OutAmount) / math.Pow10(outDecimals)

	exitPrice := 0.0
	if inUi > 0 {
		exitPrice = outUi / inUi
	}
	exitPriceUSD := exitPrice * e.inputUSDPrice(ctx, req.Quote.OutputMint)

	result, err := e.reducer.Reduce(ctx, domain.ReduceRequest{
		Key:           key,
		RemovedAmount: req.Quote.InAmount,
		ExitPrice:     exitPrice,
		ExitPriceUSD:  exitPriceUSD,
		TxHash:        txHash,
		TriggerType:   req.TriggerType,
		Decimals:      decimals,
	})
	if err != nil {
		// The swap landed: surface the bookkeeping failure loudly but return
		// the hash so callers do not re-sell.
		log.Error("reduction bookkeeping failed after sell",
			slog.String("tx", txHash),
			slog.String("error", err.Error()),
		)
		return txHash, fmt.Errorf("executor: reduce after sell %s: %w", txHash, err)
	}

	if e.deps.Alerter != nil {
		e.deps.Alerter.TradeExecuted(ctx, TradeAlert{
			UserID:    key.UserID,
			Category:  string(req.TriggerType),
			Strategy:  key.Strategy,
			Mint:      key.Mint,
			TxHash:    txHash,
			AmountUI:  inUi,
			USDValue:  inUi * exitPriceUSD,
			Simulated: req.Simulated,
		})
	}

	log.Info("position reduced",
		slog.String("tx", txHash),
		slog.Uint64("sold", result.SoldAmount),
		slog.Bool("flat", result.PositionFlat),
	)
	return txHash, nil
}
