package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/averylane/soltraderd/internal/domain"
)

// UserStore implements domain.UserStore using PostgreSQL.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a UserStore backed by the given pool.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

// GetPreferences returns the user's trading defaults. Missing rows yield the
// zero-value defaults with ErrNotFound so callers can distinguish.
func (s *UserStore) GetPreferences(ctx context.Context, userID string) (domain.UserPreference, error) {
	p := domain.UserPreference{UserID: userID}
	err := s.pool.QueryRow(ctx, `
		SELECT default_slippage_bps, mev_mode, default_priority_fee,
		       bribery_amount, auto_buy_amount_sol, confirm_trades,
		       require_arm_to_trade
		FROM user_preferences WHERE user_id = $1`, userID,
	).Scan(
		&p.DefaultSlippageBps, &p.MEVMode, &p.DefaultPriorityFee,
		&p.BriberyAmount, &p.AutoBuyAmountSOL, &p.ConfirmTrades,
		&p.RequireArmToTrade,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return p, domain.ErrNotFound
		}
		return domain.UserPreference{}, fmt.Errorf("postgres: preferences for %s: %w", userID, err)
	}
	return p, nil
}

// GetTelegramPreference returns the user's telegram alert routing.
func (s *UserStore) GetTelegramPreference(ctx context.Context, userID string) (domain.TelegramPreference, error) {
	p := domain.TelegramPreference{UserID: userID}
	err := s.pool.QueryRow(ctx, `
		SELECT chat_id, enabled, events
		FROM telegram_preferences WHERE user_id = $1`, userID,
	).Scan(&p.ChatID, &p.Enabled, &p.Events)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return p, domain.ErrNotFound
		}
		return domain.TelegramPreference{}, fmt.Errorf("postgres: telegram preference for %s: %w", userID, err)
	}
	return p, nil
}

var _ domain.UserStore = (*UserStore)(nil)
