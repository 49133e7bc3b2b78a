package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/averylane/soltraderd/internal/domain"
)

// LimitOrderStore implements domain.LimitOrderStore.
type LimitOrderStore struct {
	pool *pgxpool.Pool
}

// NewLimitOrderStore creates a LimitOrderStore backed by the given pool.
func NewLimitOrderStore(pool *pgxpool.Pool) *LimitOrderStore {
	return &LimitOrderStore{pool: pool}
}

// ListOpen returns every open limit order.
func (s *LimitOrderStore) ListOpen(ctx context.Context) ([]domain.LimitOrder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, wallet_id, mint, side, target_price, amount, unit,
		       slippage_bps, force, status, fail_count, created_at
		FROM limit_orders WHERE status = 'open'`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list limit orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.LimitOrder
	for rows.Next() {
		var o domain.LimitOrder
		if err := rows.Scan(
			&o.ID, &o.UserID, &o.WalletID, &o.Mint, &o.Side, &o.TargetPrice,
			&o.Amount, &o.Unit, &o.SlippageBps, &o.Force, &o.Status,
			&o.FailCount, &o.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: list limit orders: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Claim transitions open -> triggering.
func (s *LimitOrderStore) Claim(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE limit_orders SET status = 'triggering'
		WHERE id = $1 AND status = 'open'`, id)
	if err != nil {
		return false, fmt.Errorf("postgres: claim limit order %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFilled finalises a fired order with its transaction hash.
func (s *LimitOrderStore) MarkFilled(ctx context.Context, id, txHash string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE limit_orders SET status = 'filled', tx_hash = $2
		WHERE id = $1 AND status = 'triggering'`, id, txHash)
	if err != nil {
		return fmt.Errorf("postgres: mark limit order %s filled: %w", id, err)
	}
	return nil
}

// Release reopens a claimed order; a failed firing bumps the fail counter.
func (s *LimitOrderStore) Release(ctx context.Context, id string, failed bool) error {
	bump := 0
	if failed {
		bump = 1
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE limit_orders SET status = 'open', fail_count = fail_count + $2
		WHERE id = $1 AND status = 'triggering'`, id, bump)
	if err != nil {
		return fmt.Errorf("postgres: release limit order %s: %w", id, err)
	}
	return nil
}

var _ domain.LimitOrderStore = (*LimitOrderStore)(nil)

// DcaOrderStore implements domain.DcaOrderStore.
type DcaOrderStore struct {
	pool *pgxpool.Pool
}

// NewDcaOrderStore creates a DcaOrderStore backed by the given pool.
func NewDcaOrderStore(pool *pgxpool.Pool) *DcaOrderStore {
	return &DcaOrderStore{pool: pool}
}

// ListDue returns open DCA orders whose next slot is due.
func (s *DcaOrderStore) ListDue(ctx context.Context, now time.Time) ([]domain.DcaOrder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, wallet_id, mint, side, total_amount, unit,
		       num_buys, freq_hours, stop_above, stop_below, slippage_bps,
		       completed_buys, next_fire_at, status, fail_count, created_at
		FROM dca_orders
		WHERE status = 'open' AND next_fire_at <= $1`, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: list due dca orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.DcaOrder
	for rows.Next() {
		var o domain.DcaOrder
		if err := rows.Scan(
			&o.ID, &o.UserID, &o.WalletID, &o.Mint, &o.Side, &o.TotalAmount,
			&o.Unit, &o.NumBuys, &o.FreqHours, &o.StopAbove, &o.StopBelow,
			&o.SlippageBps, &o.CompletedBuys, &o.NextFireAt, &o.Status,
			&o.FailCount, &o.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: list due dca orders: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Claim transitions open -> triggering.
func (s *DcaOrderStore) Claim(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE dca_orders SET status = 'triggering'
		WHERE id = $1 AND status = 'open'`, id)
	if err != nil {
		return false, fmt.Errorf("postgres: claim dca order %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Advance consumes the fired slot and schedules the next, closing the ladder
// when all slots are done.
func (s *DcaOrderStore) Advance(ctx context.Context, id string, nextFireAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE dca_orders SET
			completed_buys = completed_buys + 1,
			next_fire_at = $2,
			status = CASE
				WHEN completed_buys + 1 >= num_buys THEN 'completed'
				ELSE 'open'
			END
		WHERE id = $1 AND status = 'triggering'`, id, nextFireAt)
	if err != nil {
		return fmt.Errorf("postgres: advance dca order %s: %w", id, err)
	}
	return nil
}

// Release reopens a claimed order; a failed firing bumps the fail counter.
func (s *DcaOrderStore) Release(ctx context.Context, id string, failed bool) error {
	bump := 0
	if failed {
		bump = 1
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE dca_orders SET status = 'open', fail_count = fail_count + $2
		WHERE id = $1 AND status = 'triggering'`, id, bump)
	if err != nil {
		return fmt.Errorf("postgres: release dca order %s: %w", id, err)
	}
	return nil
}

// Defer pushes an out-of-band slot forward without consuming it.
func (s *DcaOrderStore) Defer(ctx context.Context, id string, nextFireAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE dca_orders SET next_fire_at = $2
		WHERE id = $1 AND status = 'open'`, id, nextFireAt)
	if err != nil {
		return fmt.Errorf("postgres: defer dca order %s: %w", id, err)
	}
	return nil
}

var _ domain.DcaOrderStore = (*DcaOrderStore)(nil)

// ScheduleStore implements domain.ScheduleStore. The bot config is stored as
// JSONB and round-tripped through encoding/json.
type ScheduleStore struct {
	pool *pgxpool.Pool
}

// NewScheduleStore creates a ScheduleStore backed by the given pool.
func NewScheduleStore(pool *pgxpool.Pool) *ScheduleStore {
	return &ScheduleStore{pool: pool}
}

// ListDue returns open schedules whose launch time has passed.
func (s *ScheduleStore) ListDue(ctx context.Context, now time.Time) ([]domain.Schedule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, mode, config, wallet_id, wallet_label,
		       launch_at, trade_limit, status, created_at
		FROM schedules
		WHERE status = 'open' AND launch_at <= $1`, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: list due schedules: %w", err)
	}
	defer rows.Close()

	var schedules []domain.Schedule
	for rows.Next() {
		var sched domain.Schedule
		var config []byte
		if err := rows.Scan(
			&sched.ID, &sched.UserID, &sched.Mode, &config, &sched.WalletID,
			&sched.WalletLabel, &sched.LaunchAt, &sched.Limit, &sched.Status,
			&sched.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: list due schedules: %w", err)
		}
		if err := json.Unmarshal(config, &sched.Config); err != nil {
			return nil, fmt.Errorf("postgres: schedule %s config: %w", sched.ID, err)
		}
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}

// Claim transitions open -> triggering.
func (s *ScheduleStore) Claim(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE schedules SET status = 'triggering'
		WHERE id = $1 AND status = 'open'`, id)
	if err != nil {
		return false, fmt.Errorf("postgres: claim schedule %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkLaunched finalises a promoted schedule with the bot it became.
func (s *ScheduleStore) MarkLaunched(ctx context.Context, id, botID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE schedules SET status = 'completed', bot_id = $2
		WHERE id = $1 AND status = 'triggering'`, id, botID)
	if err != nil {
		return fmt.Errorf("postgres: mark schedule %s launched: %w", id, err)
	}
	return nil
}

// Release reopens a claimed schedule so a transient launch failure retries on
// the next scan.
func (s *ScheduleStore) Release(ctx context.Context, id string, failed bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE schedules SET status = 'open'
		WHERE id = $1 AND status = 'triggering'`, id)
	if err != nil {
		return fmt.Errorf("postgres: release schedule %s: %w", id, err)
	}
	return nil
}

var _ domain.ScheduleStore = (*ScheduleStore)(nil)

// NetWorthStore implements domain.NetWorthStore.
type NetWorthStore struct {
	pool *pgxpool.Pool
}

// NewNetWorthStore creates a NetWorthStore backed by the given pool.
func NewNetWorthStore(pool *pgxpool.Pool) *NetWorthStore {
	return &NetWorthStore{pool: pool}
}

// Record appends a snapshot.
func (s *NetWorthStore) Record(ctx context.Context, snap domain.NetWorthSnapshot) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO net_worth_snapshots (user_id, total_usd, open_lots, recorded_at)
		VALUES ($1, $2, $3, $4)`,
		snap.UserID, snap.TotalUSD, snap.OpenLots, snap.RecordedAt)
	if err != nil {
		return fmt.Errorf("postgres: record net worth: %w", err)
	}
	return nil
}

var _ domain.NetWorthStore = (*NetWorthStore)(nil)
