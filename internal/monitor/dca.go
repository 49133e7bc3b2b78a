package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/averylane/soltraderd/internal/domain"
	"github.com/averylane/soltraderd/internal/executor"
)

// DcaMonitor fires due DCA ladder slots. A slot outside the price band is
// deferred one cadence, not consumed.
type DcaMonitor struct {
	orders domain.DcaOrderStore
	oracle domain.PriceOracle
	quotes domain.QuoteSource
	exec   TradeExecutor
	locks  domain.LockManager
	logger *slog.Logger
}

// NewDcaMonitor creates the DCA watcher.
func NewDcaMonitor(orders domain.DcaOrderStore, oracle domain.PriceOracle, quotes domain.QuoteSource, exec TradeExecutor, locks domain.LockManager, logger *slog.Logger) *DcaMonitor {
	return &DcaMonitor{
		orders: orders,
		oracle: oracle,
		quotes: quotes,
		exec:   exec,
		locks:  locks,
		logger: logger.With(slog.String("component", "dca_monitor")),
	}
}

// Run scans every DcaInterval until ctx is cancelled.
func (m *DcaMonitor) Run(ctx context.Context) error {
	return runEvery(ctx, DcaInterval, m.logger, m.scan)
}

func (m *DcaMonitor) scan(ctx context.Context) error {
	due, err := m.orders.ListDue(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("dca: listing due orders: %w", err)
	}
	for _, order := range due {
		m.fire(ctx, order)
	}
	return nil
}

func (m *DcaMonitor) fire(ctx context.Context, order domain.DcaOrder) {
	price, err := m.oracle.GetPrice(ctx, order.Mint)
	if err != nil {
		m.logger.Debug("price unavailable", slog.String("mint", order.Mint), slog.String("error", err.Error()))
		return
	}
	nextFire := time.Now().Add(time.Duration(order.FreqHours * float64(time.Hour)))

	if !order.InBand(price.PriceUSD) {
		// Out of band: push the slot forward without consuming it.
		if err := m.orders.Defer(ctx, order.ID, nextFire); err != nil {
			m.logger.Error("defer failed", slog.String("order_id", order.ID), slog.String("error", err.Error()))
		}
		return
	}

	release, ok := acquire(ctx, m.locks, "dca:"+order.ID)
	if !ok {
		return
	}
	defer release()

	won, err := m.orders.Claim(ctx, order.ID)
	if err != nil || !won {
		return
	}

	input := inputMintFor(order.Unit)
	quote, err := m.quotes.GetQuote(ctx, domain.QuoteRequest{
		InputMint:   input,
		OutputMint:  order.Mint,
		Amount:      rawUnits(order.TrancheAmount(), input, order.Unit),
		SlippageBps: order.SlippageBps,
	})
	if err == nil {
		_, err = m.exec.ExecTrade(ctx, executor.ExecRequest{
			Quote: quote,
			Mint:  order.Mint,
			Meta: executor.TradeMeta{
				UserID:      order.UserID,
				WalletID:    order.WalletID,
				Strategy:    "dca",
				Category:    "dca",
				SlippageBps: order.SlippageBps,
			},
		})
	}
	if err != nil {
		m.logger.Warn("dca slot failed",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
		if rerr := m.orders.Release(ctx, order.ID, true); rerr != nil {
			m.logger.Error("release failed", slog.String("order_id", order.ID), slog.String("error", rerr.Error()))
		}
		return
	}

	if err := m.orders.Advance(ctx, order.ID, nextFire); err != nil {
		m.logger.Error("advance failed", slog.String("order_id", order.ID), slog.String("error", err.Error()))
		return
	}
	m.logger.Info("dca slot executed",
		slog.String("order_id", order.ID),
		slog.Int("completed", order.CompletedBuys+1),
		slog.Int("of", order.NumBuys),
	)
}
