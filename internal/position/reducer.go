// Package position implements the FIFO position reducer: the single place
// where open lots are debited and closed-trade records are written. Every
// sell-side path goes through it.
package position

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/averylane/soltraderd/internal/domain"
)

// dustFraction defines residual dust: a lot holding less than one hundredth
// of a whole token is deleted rather than left open.
const dustFraction = 0.01

// Reducer trims or closes positions inside a single repository transaction.
type Reducer struct {
	store  domain.PositionStore
	logger *slog.Logger
}

// New creates a Reducer.
func New(store domain.PositionStore, logger *slog.Logger) *Reducer {
	return &Reducer{
		store:  store,
		logger: logger.With(slog.String("component", "reducer")),
	}
}

// Reduce debits the key's open lots oldest-first. Exactly one of Percent,
// Amount, RemovedAmount selects the size. The whole reduction commits or
// rolls back as one transaction.
func (r *Reducer) Reduce(ctx context.Context, req domain.ReduceRequest) (domain.ReduceResult, error) {
	if err := validate(req); err != nil {
		return domain.ReduceResult{}, err
	}

	var result domain.ReduceResult
	err := r.store.WithinTx(ctx, func(tx domain.PositionTx) error {
		lots, err := tx.LockOpenLots(ctx, req.Key)
		if err != nil {
			return err
		}
		if len(lots) == 0 {
			return fmt.Errorf("no open lots for %s/%s: %w", req.Key.Mint, req.Key.Strategy, domain.ErrNotFound)
		}

		var total uint64
		for _, lot := range lots {
			total += lot.OutAmount
		}

		toSell := req.Amount + req.RemovedAmount
		if req.Percent > 0 {
			toSell = uint64(math.Round(req.Percent * float64(total)))
		}
		if toSell > total {
			// On-chain removals can exceed the books by a rounding hair; cap
			// at the open total so no lot goes negative.
			toSell = total
		}
		dust := uint64(math.Pow10(req.Decimals) * dustFraction)

		remaining := toSell
		now := time.Now().UTC()
		for _, lot := range lots {
			if remaining == 0 {
				break
			}
			slice := lot.OutAmount
			if slice > remaining {
				slice = remaining
			}
			ratio := float64(slice) / float64(lot.OutAmount)
			costTrim := uint64(math.Round(float64(lot.InAmount) * ratio))
			if costTrim > lot.InAmount {
				costTrim = lot.InAmount
			}

			lot.OutAmount -= slice
			lot.InAmount -= costTrim
			lot.ClosedOutAmount += costTrim
			lot.USDValue -= float64(slice) / math.Pow10(req.Decimals) * lot.EntryPriceUSD
			if lot.USDValue < 0 {
				lot.USDValue = 0
			}

			closed := domain.ClosedTrade{
				ID:            uuid.New().String(),
				UserID:        lot.UserID,
				WalletID:      lot.WalletID,
				WalletLabel:   lot.WalletLabel,
				Strategy:      lot.Strategy,
				Mint:          lot.Mint,
				InAmount:      costTrim,
				OutAmount:     slice,
				EntryPrice:    lot.EntryPrice,
				EntryPriceUSD: lot.EntryPriceUSD,
				ExitPrice:     req.ExitPrice,
				ExitPriceUSD:  req.ExitPriceUSD,
				Unit:          lot.Unit,
				Decimals:      req.Decimals,
				TriggerType:   req.TriggerType,
				TxHash:        req.TxHash + "-" + uuid.New().String(),
				ExitedAt:      now,
			}
			if err := tx.InsertClosedTrade(ctx, closed); err != nil {
				return err
			}
			result.ClosedTrades = append(result.ClosedTrades, closed)

			if lot.OutAmount < dust {
				if err := tx.DeleteLot(ctx, lot.ID); err != nil {
					return err
				}
				result.LotsDeleted++
			} else {
				if err := tx.UpdateLot(ctx, lot); err != nil {
					return err
				}
			}
			remaining -= slice
		}

		if remaining != 0 {
			return fmt.Errorf("sold %d of %d requested: %w", toSell-remaining, toSell, domain.ErrInvariantViolation)
		}
		result.SoldAmount = toSell

		soldFraction := float64(toSell) / float64(total)
		if toSell == total {
			result.PositionFlat = true
			if err := tx.DeleteRules(ctx, req.Key); err != nil {
				return err
			}
			return nil
		}

		// Rescale rule sell fractions so a partial exit keeps the remaining
		// rules proportional to what is still held.
		rules, err := tx.ListRules(ctx, req.Key)
		if err != nil {
			return err
		}
		for _, rule := range rules {
			if err := tx.UpdateRuleSellPct(ctx, rule.ID, rule.SellPct*(1-soldFraction)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.ReduceResult{}, err
	}

	r.logger.Info("position reduced",
		slog.String("mint", req.Key.Mint),
		slog.String("strategy", req.Key.Strategy),
		slog.String("trigger", string(req.TriggerType)),
		slog.Uint64("sold", result.SoldAmount),
		slog.Int("lots_deleted", result.LotsDeleted),
		slog.Bool("flat", result.PositionFlat),
	)
	return result, nil
}

func validate(req domain.ReduceRequest) error {
	set := 0
	if req.Percent > 0 {
		set++
	}
	if req.Amount > 0 {
		set++
	}
	if req.RemovedAmount > 0 {
		set++
	}
	if set != 1 {
		return fmt.Errorf("exactly one of percent/amount/removedAmount required: %w", domain.ErrBadInput)
	}
	if req.Percent > 1 {
		return fmt.Errorf("percent %f out of range: %w", req.Percent, domain.ErrBadInput)
	}
	if req.ExitPrice < 0 || req.Decimals < 0 {
		return fmt.Errorf("negative exit price or decimals: %w", domain.ErrBadInput)
	}
	if req.TxHash == "" {
		return fmt.Errorf("txHash required: %w", domain.ErrBadInput)
	}
	return nil
}
