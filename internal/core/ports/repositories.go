package ports

import (
	"context"
	"errors"

	"adcoin-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrVersionConflict is returned by AccountStore.ApplyDelta when the caller's
// expected version is stale. The transfer engine retries on it with fresh
// reads; it is never surfaced to callers directly.
var ErrVersionConflict = errors.New("account version conflict")

// AccountStore holds current balances. ApplyDelta is the single primitive
// through which balances ever change; everything else is read-only.
type AccountStore interface {
	Create(ctx context.Context, account *domain.Account) error
	// Get returns nil, nil when the account does not exist.
	Get(ctx context.Context, ref domain.AccountRef) (*domain.Account, error)
	GetBalance(ctx context.Context, ref domain.AccountRef) (int64, error)
	// ApplyDelta atomically sets balance += delta and increments version,
	// but only if version == expectedVersion and the result stays >= 0.
	// Failure modes: ErrVersionConflict (stale version), apperror
	// InsufficientBalance (would go negative), NotFound (no such account).
	// Methods accepting pgx.Tx run inside the engine's transaction block.
	ApplyDelta(ctx context.Context, tx pgx.Tx, ref domain.AccountRef, delta int64, expectedVersion int64) (*domain.Account, error)
}

// LedgerRepository is the append-only transaction record.
type LedgerRepository interface {
	// Append inserts the committed row and assigns its Seq. Only
	// infrastructure failure can reject it; business validation is done
	// before it is ever called.
	Append(ctx context.Context, tx pgx.Tx, txn *domain.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	// ListFor returns transactions referencing the account,
	// most-recent-first, with the page total.
	ListFor(ctx context.Context, ref domain.AccountRef, params ListParams) ([]domain.Transaction, int64, error)
	// Reconcile recomputes the balance by folding every row referencing the
	// account (credits add, debits subtract), independent of the stored value.
	Reconcile(ctx context.Context, ref domain.AccountRef) (int64, error)
}

// ListParams holds filter + pagination for transaction history.
type ListParams struct {
	Type     *domain.TransactionType
	From     *int64 // Unix timestamp
	To       *int64 // Unix timestamp
	Page     int
	PageSize int
}

// IdempotencyRepository is the authoritative idempotency record (DB layer).
type IdempotencyRepository interface {
	Create(ctx context.Context, tx pgx.Tx, rec *domain.IdempotencyRecord) error
	Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
}

// ParticipantRepository is the directory of people behind accounts.
type ParticipantRepository interface {
	Create(ctx context.Context, p *domain.Participant) error
	// GetByRef returns nil, nil when no participant exists for the ref.
	GetByRef(ctx context.Context, ref domain.AccountRef) (*domain.Participant, error)
	GetStaffByUsername(ctx context.Context, username string) (*domain.Participant, error)
	// ResolveRefs batch-resolves refs to directory entries keyed by Ref.Key().
	ResolveRefs(ctx context.Context, refs []domain.AccountRef) (map[string]*domain.Participant, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
