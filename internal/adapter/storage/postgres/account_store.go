package postgres

import (
	"context"
	"errors"
	"fmt"

	"adcoin-ledger/internal/core/domain"
	"adcoin-ledger/internal/core/ports"
	"adcoin-ledger/pkg/apperror"

	"github.com/jackc/pgx/v5"
)

// AccountStore implements ports.AccountStore. ApplyDelta is the only write
// path for balances; it is check-and-set, not read-then-write.
type AccountStore struct {
	pool Pool
}

// NewAccountStore creates a new AccountStore.
func NewAccountStore(pool Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// Create inserts a new account (onboarding, balance 0).
func (s *AccountStore) Create(ctx context.Context, a *domain.Account) error {
	query := `INSERT INTO accounts (kind, id, balance, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, query,
		a.Ref.Kind, a.Ref.ID, a.Balance, a.Version, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// Get fetches an account by ref. Returns nil, nil when absent.
func (s *AccountStore) Get(ctx context.Context, ref domain.AccountRef) (*domain.Account, error) {
	query := `SELECT balance, version, created_at, updated_at
		FROM accounts WHERE kind = $1 AND id = $2`

	a := &domain.Account{Ref: ref}
	err := s.pool.QueryRow(ctx, query, ref.Kind, ref.ID).Scan(
		&a.Balance, &a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// GetBalance returns the stored balance for the account.
func (s *AccountStore) GetBalance(ctx context.Context, ref domain.AccountRef) (int64, error) {
	a, err := s.Get(ctx, ref)
	if err != nil {
		return 0, err
	}
	if a == nil {
		return 0, apperror.ErrAccountNotFound(ref.Key())
	}
	return a.Balance, nil
}

// ApplyDelta conditionally applies balance += delta. The WHERE clause carries
// both guards: the version check and the non-negative result. Zero rows means
// one of them failed (or the account is gone); a follow-up read disambiguates.
func (s *AccountStore) ApplyDelta(ctx context.Context, tx pgx.Tx, ref domain.AccountRef, delta int64, expectedVersion int64) (*domain.Account, error) {
	query := `UPDATE accounts
		SET balance = balance + $3, version = version + 1, updated_at = NOW()
		WHERE kind = $1 AND id = $2 AND version = $4 AND balance + $3 >= 0
		RETURNING balance, version, created_at, updated_at`

	a := &domain.Account{Ref: ref}
	err := tx.QueryRow(ctx, query, ref.Kind, ref.ID, delta, expectedVersion).Scan(
		&a.Balance, &a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("apply delta: %w", err)
	}

	var balance, version int64
	err = tx.QueryRow(ctx, `SELECT balance, version FROM accounts WHERE kind = $1 AND id = $2`, ref.Kind, ref.ID).
		Scan(&balance, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.ErrAccountNotFound(ref.Key())
		}
		return nil, fmt.Errorf("apply delta readback: %w", err)
	}
	if version != expectedVersion {
		return nil, ports.ErrVersionConflict
	}
	return nil, apperror.ErrInsufficientBalance()
}
