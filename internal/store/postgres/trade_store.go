package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/averylane/soltraderd/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. Raw token amounts
// are stored as BIGINT; Solana amounts fit comfortably in 63 bits.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by the given pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, user_id, wallet_id, wallet_label, strategy, bot_id,
	mint, side, in_amount, out_amount, closed_out_amount, entry_price,
	entry_price_usd, unit, decimals, usd_value, slippage_bps, mev_mode,
	priority_fee, bribery_amount, input_mint, output_mint, tx_hash, simulated,
	created_at`

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var t domain.Trade
	var inAmount, outAmount, closedOut, priorityFee, bribery int64
	err := row.Scan(
		&t.ID, &t.UserID, &t.WalletID, &t.WalletLabel, &t.Strategy, &t.BotID,
		&t.Mint, &t.Side, &inAmount, &outAmount, &closedOut, &t.EntryPrice,
		&t.EntryPriceUSD, &t.Unit, &t.Decimals, &t.USDValue, &t.SlippageBps,
		&t.MEVMode, &priorityFee, &bribery, &t.InputMint, &t.OutputMint,
		&t.TxHash, &t.Simulated, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, domain.ErrNotFound
		}
		return domain.Trade{}, err
	}
	t.InAmount = uint64(inAmount)
	t.OutAmount = uint64(outAmount)
	t.ClosedOutAmount = uint64(closedOut)
	t.PriorityFee = uint64(priorityFee)
	t.BriberyAmount = uint64(bribery)
	return t, nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Create inserts one trade lot.
func (s *TradeStore) Create(ctx context.Context, t domain.Trade) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trades (
			id, user_id, wallet_id, wallet_label, strategy, bot_id,
			mint, side, in_amount, out_amount, closed_out_amount,
			entry_price, entry_price_usd, unit, decimals, usd_value,
			slippage_bps, mev_mode, priority_fee, bribery_amount,
			input_mint, output_mint, tx_hash, simulated, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16,
			$17, $18, $19, $20,
			$21, $22, $23, $24, $25
		)`,
		t.ID, t.UserID, t.WalletID, t.WalletLabel, t.Strategy, t.BotID,
		t.Mint, t.Side, int64(t.InAmount), int64(t.OutAmount), int64(t.ClosedOutAmount),
		t.EntryPrice, t.EntryPriceUSD, t.Unit, t.Decimals, t.USDValue,
		t.SlippageBps, t.MEVMode, int64(t.PriorityFee), int64(t.BriberyAmount),
		t.InputMint, t.OutputMint, t.TxHash, t.Simulated, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create trade %s: %w", t.ID, err)
	}
	return nil
}

// GetByID returns one trade lot.
func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE id = $1`, id)
	t, err := scanTrade(row)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return t, err
}

// RecentBuy returns the newest buy-side trade for the key at or after since.
func (s *TradeStore) RecentBuy(ctx context.Context, key domain.PositionKey, since time.Time) (domain.Trade, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+tradeSelectCols+` FROM trades
		WHERE user_id = $1 AND wallet_id = $2 AND mint = $3 AND strategy = $4
		  AND side = 'buy' AND created_at >= $5
		ORDER BY created_at DESC
		LIMIT 1`,
		key.UserID, key.WalletID, key.Mint, key.Strategy, since)
	t, err := scanTrade(row)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Trade{}, fmt.Errorf("postgres: recent buy: %w", err)
	}
	return t, err
}

// ListOpen returns the key's open lots, oldest first.
func (s *TradeStore) ListOpen(ctx context.Context, key domain.PositionKey) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+tradeSelectCols+` FROM trades
		WHERE user_id = $1 AND wallet_id = $2 AND mint = $3 AND strategy = $4
		  AND out_amount > 0
		ORDER BY created_at ASC`,
		key.UserID, key.WalletID, key.Mint, key.Strategy)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open lots: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// ListOpenByUser returns every open lot a user holds.
func (s *TradeStore) ListOpenByUser(ctx context.Context, userID string) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+tradeSelectCols+` FROM trades
		WHERE user_id = $1 AND out_amount > 0
		ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open lots for %s: %w", userID, err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// ListActiveUsers returns the distinct users holding at least one open lot.
func (s *TradeStore) ListActiveUsers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT user_id FROM trades WHERE out_amount > 0`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SumDailyVolume totals the USD value the bot has spent since the cutoff.
func (s *TradeStore) SumDailyVolume(ctx context.Context, userID, botID string, since time.Time) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(usd_value), 0) FROM trades
		WHERE user_id = $1 AND bot_id = $2 AND created_at >= $3`,
		userID, botID, since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("postgres: daily volume: %w", err)
	}
	return total, nil
}

var _ domain.TradeStore = (*TradeStore)(nil)

// ClosedTradeStore implements domain.ClosedTradeStore.
type ClosedTradeStore struct {
	pool *pgxpool.Pool
}

// NewClosedTradeStore creates a ClosedTradeStore backed by the given pool.
func NewClosedTradeStore(pool *pgxpool.Pool) *ClosedTradeStore {
	return &ClosedTradeStore{pool: pool}
}

const closedSelectCols = `id, user_id, wallet_id, wallet_label, strategy, mint,
	in_amount, out_amount, entry_price, entry_price_usd, exit_price,
	exit_price_usd, unit, decimals, trigger_type, tx_hash, exited_at`

func scanClosedRows(rows pgx.Rows) ([]domain.ClosedTrade, error) {
	var out []domain.ClosedTrade
	for rows.Next() {
		var ct domain.ClosedTrade
		var inAmount, outAmount int64
		if err := rows.Scan(
			&ct.ID, &ct.UserID, &ct.WalletID, &ct.WalletLabel, &ct.Strategy,
			&ct.Mint, &inAmount, &outAmount, &ct.EntryPrice, &ct.EntryPriceUSD,
			&ct.ExitPrice, &ct.ExitPriceUSD, &ct.Unit, &ct.Decimals,
			&ct.TriggerType, &ct.TxHash, &ct.ExitedAt,
		); err != nil {
			return nil, err
		}
		ct.InAmount = uint64(inAmount)
		ct.OutAmount = uint64(outAmount)
		out = append(out, ct)
	}
	return out, rows.Err()
}

// ListByUser returns the user's most recent closed trades.
func (s *ClosedTradeStore) ListByUser(ctx context.Context, userID string, limit int) ([]domain.ClosedTrade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+closedSelectCols+` FROM closed_trades
		WHERE user_id = $1
		ORDER BY exited_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: closed trades for %s: %w", userID, err)
	}
	defer rows.Close()
	return scanClosedRows(rows)
}

// ListBefore returns closed trades older than the cutoff, for archival.
func (s *ClosedTradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ClosedTrade, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+closedSelectCols+` FROM closed_trades
		WHERE exited_at < $1
		ORDER BY exited_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: closed trades before %s: %w", before, err)
	}
	defer rows.Close()
	return scanClosedRows(rows)
}

var _ domain.ClosedTradeStore = (*ClosedTradeStore)(nil)
