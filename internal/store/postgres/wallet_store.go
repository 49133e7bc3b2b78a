package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/averylane/soltraderd/internal/domain"
)

// WalletStore implements domain.WalletStore using PostgreSQL. Envelope blobs
// are stored as JSONB; legacy ciphertexts as opaque text.
type WalletStore struct {
	pool *pgxpool.Pool
}

// NewWalletStore creates a WalletStore backed by the given pool.
func NewWalletStore(pool *pgxpool.Pool) *WalletStore {
	return &WalletStore{pool: pool}
}

const walletSelectCols = `id, user_id, label, public_key, is_protected, is_active,
	envelope, legacy_ciphertext`

func scanWallet(row pgx.Row) (domain.Wallet, error) {
	var w domain.Wallet
	var envelope []byte
	err := row.Scan(
		&w.ID, &w.UserID, &w.Label, &w.PublicKey, &w.IsProtected, &w.IsActive,
		&envelope, &w.LegacyCiphertext,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Wallet{}, domain.ErrNotFound
		}
		return domain.Wallet{}, err
	}
	if len(envelope) > 0 {
		var blob domain.EnvelopeBlob
		if err := json.Unmarshal(envelope, &blob); err != nil {
			return domain.Wallet{}, fmt.Errorf("postgres: wallet %s envelope: %w", w.ID, err)
		}
		w.Envelope = &blob
	}
	return w, nil
}

// GetByID returns a wallet by primary key.
func (s *WalletStore) GetByID(ctx context.Context, id string) (domain.Wallet, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+walletSelectCols+` FROM wallets WHERE id = $1`, id)
	w, err := scanWallet(row)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Wallet{}, fmt.Errorf("postgres: get wallet %s: %w", id, err)
	}
	return w, err
}

// GetActive returns the user's active wallet.
func (s *WalletStore) GetActive(ctx context.Context, userID string) (domain.Wallet, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+walletSelectCols+` FROM wallets WHERE user_id = $1 AND is_active`, userID)
	w, err := scanWallet(row)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Wallet{}, fmt.Errorf("postgres: active wallet for %s: %w", userID, err)
	}
	return w, err
}

// GetByLabel returns the user's wallet with the given label.
func (s *WalletStore) GetByLabel(ctx context.Context, userID, label string) (domain.Wallet, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+walletSelectCols+` FROM wallets WHERE user_id = $1 AND label = $2`, userID, label)
	w, err := scanWallet(row)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Wallet{}, fmt.Errorf("postgres: wallet %s/%s: %w", userID, label, err)
	}
	return w, err
}

// ListByUser returns all wallets owned by the user.
func (s *WalletStore) ListByUser(ctx context.Context, userID string) ([]domain.Wallet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+walletSelectCols+` FROM wallets WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list wallets for %s: %w", userID, err)
	}
	defer rows.Close()

	var wallets []domain.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: list wallets for %s: %w", userID, err)
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

var _ domain.WalletStore = (*WalletStore)(nil)
