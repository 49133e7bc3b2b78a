package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/averylane/soltraderd/internal/domain"
)

// TpSlRuleStore implements domain.TpSlRuleStore. Rule firing idempotency is
// enforced here: Claim is a compare-and-set from active to triggering, and a
// successful Release disables the rule so the same transition cannot fire
// twice.
type TpSlRuleStore struct {
	pool *pgxpool.Pool
}

// NewTpSlRuleStore creates a TpSlRuleStore backed by the given pool.
func NewTpSlRuleStore(pool *pgxpool.Pool) *TpSlRuleStore {
	return &TpSlRuleStore{pool: pool}
}

// Upsert inserts or replaces the rule for its position key. A re-entry into
// the same position refreshes thresholds and resets the firing state.
func (s *TpSlRuleStore) Upsert(ctx context.Context, r domain.TpSlRule) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tpsl_rules (
			id, user_id, wallet_id, mint, strategy,
			tp, sl, tp_percent, sl_percent, entry_price,
			sell_pct, force, enabled, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (user_id, wallet_id, mint, strategy) DO UPDATE SET
			tp = EXCLUDED.tp,
			sl = EXCLUDED.sl,
			tp_percent = EXCLUDED.tp_percent,
			sl_percent = EXCLUDED.sl_percent,
			entry_price = EXCLUDED.entry_price,
			sell_pct = EXCLUDED.sell_pct,
			force = EXCLUDED.force,
			enabled = EXCLUDED.enabled,
			status = 'active',
			fail_count = 0,
			updated_at = NOW()`,
		r.ID, r.UserID, r.WalletID, r.Mint, r.Strategy,
		r.TP, r.SL, r.TPPercent, r.SLPercent, r.EntryPrice,
		r.SellPct, r.Force, r.Enabled, r.Status,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert rule: %w", err)
	}
	return nil
}

// ListEnabled returns every enabled, active rule.
func (s *TpSlRuleStore) ListEnabled(ctx context.Context) ([]domain.TpSlRule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, wallet_id, mint, strategy, tp, sl, tp_percent,
		       sl_percent, entry_price, sell_pct, force, enabled, status,
		       fail_count, created_at, updated_at
		FROM tpsl_rules
		WHERE enabled AND status = 'active'`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rules: %w", err)
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
			return nil, fmt.Errorf("postgres: list rules: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// Claim transitions the rule from active to triggering; false when another
// caller already holds it.
func (s *TpSlRuleStore) Claim(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tpsl_rules
		SET status = 'triggering', updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND enabled`, id)
	if err != nil {
		return false, fmt.Errorf("postgres: claim rule %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release returns a failed firing to active with the fail counter bumped, or
// disables the rule after a successful firing.
func (s *TpSlRuleStore) Release(ctx context.Context, id string, failed bool) error {
	var err error
	if failed {
		_, err = s.pool.Exec(ctx, `
			UPDATE tpsl_rules
			SET status = 'active', fail_count = fail_count + 1, updated_at = NOW()
			WHERE id = $1 AND status = 'triggering'`, id)
	} else {
		_, err = s.pool.Exec(ctx, `
			UPDATE tpsl_rules
			SET status = 'disabled', enabled = FALSE, updated_at = NOW()
			WHERE id = $1 AND status = 'triggering'`, id)
	}
	if err != nil {
		return fmt.Errorf("postgres: release rule %s: %w", id, err)
	}
	return nil
}

// Reactivate returns a partially fired rule to active without touching the
// fail counter. The reducer has already rescaled its sell fraction.
func (s *TpSlRuleStore) Reactivate(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE tpsl_rules
		SET status = 'active', updated_at = NOW()
		WHERE id = $1 AND status = 'triggering'`, id)
	if err != nil {
		return fmt.Errorf("postgres: reactivate rule %s: %w", id, err)
	}
	return nil
}

// DeleteForPosition drops every rule attached to the position key.
func (s *TpSlRuleStore) DeleteForPosition(ctx context.Context, key domain.PositionKey) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM tpsl_rules
		WHERE user_id = $1 AND wallet_id = $2 AND mint = $3 AND strategy = $4`,
		key.UserID, key.WalletID, key.Mint, key.Strategy)
	if err != nil {
		return fmt.Errorf("postgres: delete rules: %w", err)
	}
	return nil
}

var _ domain.TpSlRuleStore = (*TpSlRuleStore)(nil)
