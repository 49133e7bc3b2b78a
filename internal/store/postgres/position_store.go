package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/averylane/soltraderd/internal/domain"
)

// PositionStore implements domain.PositionStore: each reduction runs inside
// one database transaction with the affected lots row-locked.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// WithinTx runs fn inside a transaction, committing on nil and rolling back
// otherwise.
func (s *PositionStore) WithinTx(ctx context.Context, fn func(tx domain.PositionTx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&positionTx{tx: tx})
	})
}

type positionTx struct {
	tx pgx.Tx
}

// LockOpenLots returns the key's open lots oldest-first, locked FOR UPDATE so
// concurrent reductions serialise.
func (p *positionTx) LockOpenLots(ctx context.Context, key domain.PositionKey) ([]domain.Trade, error) {
	rows, err := p.tx.Query(ctx, `
		SELECT `+tradeSelectCols+` FROM trades
		WHERE user_id = $1 AND wallet_id = $2 AND mint = $3 AND strategy = $4
		  AND out_amount > 0
		ORDER BY created_at ASC
		FOR UPDATE`,
		key.UserID, key.WalletID, key.Mint, key.Strategy)
	if err != nil {
		return nil, fmt.Errorf("postgres: lock open lots: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// UpdateLot writes back a debited lot's mutable fields.
func (p *positionTx) UpdateLot(ctx context.Context, lot domain.Trade) error {
	_, err := p.tx.Exec(ctx, `
		UPDATE trades SET
			in_amount = $2,
			out_amount = $3,
			closed_out_amount = $4,
			usd_value = $5
		WHERE id = $1`,
		lot.ID, int64(lot.InAmount), int64(lot.OutAmount),
		int64(lot.ClosedOutAmount), lot.USDValue)
	if err != nil {
		return fmt.Errorf("postgres: update lot %s: %w", lot.ID, err)
	}
	return nil
}

// DeleteLot removes a dust-level lot.
func (p *positionTx) DeleteLot(ctx context.Context, id string) error {
	_, err := p.tx.Exec(ctx, `DELETE FROM trades WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete lot %s: %w", id, err)
	}
	return nil
}

// InsertClosedTrade records one slice taken off a lot.
func (p *positionTx) InsertClosedTrade(ctx context.Context, ct domain.ClosedTrade) error {
	_, err := p.tx.Exec(ctx, `
		INSERT INTO closed_trades (
			id, user_id, wallet_id, wallet_label, strategy, mint,
			in_amount, out_amount, entry_price, entry_price_usd,
			exit_price, exit_price_usd, unit, decimals, trigger_type,
			tx_hash, exited_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17
		)`,
		ct.ID, ct.UserID, ct.WalletID, ct.WalletLabel, ct.Strategy, ct.Mint,
		int64(ct.InAmount), int64(ct.OutAmount), ct.EntryPrice, ct.EntryPriceUSD,
		ct.ExitPrice, ct.ExitPriceUSD, ct.Unit, ct.Decimals, ct.TriggerType,
		ct.TxHash, ct.ExitedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert closed trade %s: %w", ct.ID, err)
	}
	return nil
}

// ListRules returns the key's rules inside the transaction.
func (p *positionTx) ListRules(ctx context.Context, key domain.PositionKey) ([]domain.TpSlRule, error) {
	rows, err := p.tx.Query(ctx, `
		SELECT id, user_id, wallet_id, mint, strategy, tp, sl, tp_percent,
		       sl_percent, entry_price, sell_pct, force, enabled, status,
		       fail_count, created_at, updated_at
		FROM tpsl_rules
		WHERE user_id = $1 AND wallet_id = $2 AND mint = $3 AND strategy = $4
		FOR UPDATE`,
		key.UserID, key.WalletID, key.Mint, key.Strategy)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rules in tx: %w", err)
	}
	defer rows.Close()

	var rules []domain.TpSlRule
	for rows.Next() {
		var r domain.TpSlRule
		if err := rows.Scan(
			&r.ID, &r.UserID, &r.WalletID, &r.Mint, &r.Strategy, &r.TP, &r.SL,
			&r.TPPercent, &r.SLPercent, &r.EntryPrice, &r.SellPct, &r.Force,
			&r.Enabled, &r.Status, &r.FailCount, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: list rules in tx: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// UpdateRuleSellPct rescales a rule after a partial reduction.
func (p *positionTx) UpdateRuleSellPct(ctx context.Context, id string, sellPct float64) error {
	_, err := p.tx.Exec(ctx, `
		UPDATE tpsl_rules SET sell_pct = $2, updated_at = NOW()
		WHERE id = $1`, id, sellPct)
	if err != nil {
		return fmt.Errorf("postgres: update rule %s sell pct: %w", id, err)
	}
	return nil
}

// DeleteRules drops every rule for a now-flat position.
func (p *positionTx) DeleteRules(ctx context.Context, key domain.PositionKey) error {
	_, err := p.tx.Exec(ctx, `
		DELETE FROM tpsl_rules
		WHERE user_id = $1 AND wallet_id = $2 AND mint = $3 AND strategy = $4`,
		key.UserID, key.WalletID, key.Mint, key.Strategy)
	if err != nil {
		return fmt.Errorf("postgres: delete rules in tx: %w", err)
	}
	return nil
}

var (
	_ domain.PositionStore = (*PositionStore)(nil)
	_ domain.PositionTx    = (*positionTx)(nil)
)
