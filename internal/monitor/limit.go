package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/averylane/soltraderd/internal/domain"
	"github.com/averylane/soltraderd/internal/executor"
)

// LimitMonitor fires open limit orders when the spot price crosses the
// target.
type LimitMonitor struct {
	orders domain.LimitOrderStore
	oracle domain.PriceOracle
	quotes domain.QuoteSource
	exec   TradeExecutor
	sell   SellExecutor
	locks  domain.LockManager
	logger *slog.Logger
}

// NewLimitMonitor creates the limit order watcher.
func NewLimitMonitor(orders domain.LimitOrderStore, oracle domain.PriceOracle, quotes domain.QuoteSource, exec TradeExecutor, sell SellExecutor, locks domain.LockManager, logger *slog.Logger) *LimitMonitor {
	return &LimitMonitor{
		orders: orders,
		oracle: oracle,
		quotes: quotes,
		exec:   exec,
		sell:   sell,
		locks:  locks,
		logger: logger.With(slog.String("component", "limit_monitor")),
	}
}

// Run scans every LimitInterval until ctx is cancelled.
func (m *LimitMonitor) Run(ctx context.Context) error {
	return runEvery(ctx, LimitInterval, m.logger, m.scan)
}

func (m *LimitMonitor) scan(ctx context.Context) error {
	orders, err := m.orders.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("limit: listing orders: %w", err)
	}
	for _, order := range orders {
		price, err := m.oracle.GetPrice(ctx, order.Mint)
		if err != nil {
			m.logger.Debug("price unavailable", slog.String("mint", order.Mint), slog.String("error", err.Error()))
			continue
		}
		if !order.Crossed(price.PriceUSD) {
			continue
		}
		m.fire(ctx, order, price.PriceUSD)
	}
	return nil
}

// fire claims the order and executes it. Each claim transition fires at most
// once; a failed execution releases the claim with failCount incremented.
func (m *LimitMonitor) fire(ctx context.Context, order domain.LimitOrder, price float64) {
	release, ok := acquire(ctx, m.locks, "limit:"+order.ID)
	if !ok {
		return
	}
	defer release()

	won, err := m.orders.Claim(ctx, order.ID)
	if err != nil || !won {
		return
	}

	txHash, err := m.execute(ctx, order)
	if err != nil {
		m.logger.Warn("limit order failed",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
		if rerr := m.orders.Release(ctx, order.ID, true); rerr != nil {
			m.logger.Error("release failed", slog.String("order_id", order.ID), slog.String("error", rerr.Error()))
		}
		return
	}
	if err := m.orders.MarkFilled(ctx, order.ID, txHash); err != nil {
		m.logger.Error("mark filled failed", slog.String("order_id", order.ID), slog.String("error", err.Error()))
		return
	}
	m.logger.Info("limit order filled",
		slog.String("order_id", order.ID),
		slog.String("side", string(order.Side)),
		slog.Float64("price", price),
		slog.String("tx", txHash),
	)
}

func (m *LimitMonitor) execute(ctx context.Context, order domain.LimitOrder) (string, error) {
	if order.Side == domain.SideSell {
		quote, err := m.quotes.GetQuote(ctx, domain.QuoteRequest{
			InputMint:   order.Mint,
			OutputMint:  inputMintFor(order.Unit),
			Amount:      rawUnits(order.Amount, order.Mint, order.Unit),
			SlippageBps: order.SlippageBps,
		})
		if err != nil {
			return "", err
		}
		return m.sell.ExecSell(ctx, executor.SellRequest{
			Quote:       quote,
			Key:         domain.PositionKey{UserID: order.UserID, WalletID: order.WalletID, Mint: order.Mint, Strategy: "limit"},
			TriggerType: domain.TriggerLimit,
		})
	}

	input := inputMintFor(order.Unit)
	quote, err := m.quotes.GetQuote(ctx, domain.QuoteRequest{
		InputMint:   input,
		OutputMint:  order.Mint,
		Amount:      rawUnits(order.Amount, input, order.Unit),
		SlippageBps: order.SlippageBps,
	})
	if err != nil {
		return "", err
	}
	txHash, err := m.exec.ExecTrade(ctx, executor.ExecRequest{
		Quote: quote,
		Mint:  order.Mint,
		Meta: executor.TradeMeta{
			UserID:      order.UserID,
			WalletID:    order.WalletID,
			Strategy:    "limit",
			Category:    "limit",
			SlippageBps: order.SlippageBps,
		},
	})
	if err != nil {
		return "", err
	}
	if txHash == "" {
		return "", errors.New("limit: execution suppressed by idempotency gate")
	}
	return txHash, nil
}

// rawUnits converts a UI amount into raw units of the spending mint. SPL
// amounts assume 9 decimals when the mint's true decimals are unknown; the
// quote path re-validates against the chain.
func rawUnits(ui float64, mint string, unit domain.Unit) uint64 {
	decimals := 9
	if unit == domain.UnitUSDC || mint == domain.MintUSDC {
		decimals = 6
	}
	return uint64(math.Round(ui * math.Pow10(decimals)))
}
