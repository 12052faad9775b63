package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"adcoin-ledger/internal/core/domain"
	"adcoin-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LedgerRepo implements ports.LedgerRepository. The transactions table is
// append-only: no UPDATE or DELETE statement exists in this package.
type LedgerRepo struct {
	pool Pool
}

// NewLedgerRepo creates a new LedgerRepo.
func NewLedgerRepo(pool Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

// Append inserts a committed transaction within a database transaction and
// fills in its storage-assigned sequence number.
func (r *LedgerRepo) Append(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	query := `INSERT INTO transactions
		(id, type, sender_kind, sender_id, receiver_kind, receiver_id, amount, message, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING seq`

	senderKind, senderID := refColumns(t.Sender)
	receiverKind, receiverID := refColumns(t.Receiver)

	err := tx.QueryRow(ctx, query,
		t.ID, t.Type, senderKind, senderID, receiverKind, receiverID,
		t.Amount, t.Message, t.Status, t.CreatedAt,
	).Scan(&t.Seq)
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

// GetByID fetches a transaction by UUID. Returns nil, nil when absent.
func (r *LedgerRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := selectColumns + ` FROM transactions WHERE id = $1`
	return scanTransaction(r.pool.QueryRow(ctx, query, id))
}

// ListFor fetches transactions referencing the account, most-recent-first,
// with filtering and pagination.
func (r *LedgerRepo) ListFor(ctx context.Context, ref domain.AccountRef, params ports.ListParams) ([]domain.Transaction, int64, error) {
	conditions := []string{"((sender_kind = $1 AND sender_id = $2) OR (receiver_kind = $1 AND receiver_id = $2))"}
	args := []any{ref.Kind, ref.ID}
	argIdx := 3

	if params.Type != nil {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIdx))
		args = append(args, *params.Type)
		argIdx++
	}
	if params.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= to_timestamp($%d)", argIdx))
		args = append(args, *params.From)
		argIdx++
	}
	if params.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= to_timestamp($%d)", argIdx))
		args = append(args, *params.To)
		argIdx++
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM transactions %s", where)
	var total int64
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`%s FROM transactions %s ORDER BY seq DESC LIMIT $%d OFFSET $%d`,
		selectColumns, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		t, err := scanTransactionRow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan transaction row: %w", err)
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return txns, total, nil
}

// Reconcile folds every transaction referencing the account: credits add,
// debits subtract. Used only for integrity verification, never for display.
func (r *LedgerRepo) Reconcile(ctx context.Context, ref domain.AccountRef) (int64, error) {
	query := `SELECT
		COALESCE(SUM(amount) FILTER (WHERE receiver_kind = $1 AND receiver_id = $2), 0)
		- COALESCE(SUM(amount) FILTER (WHERE sender_kind = $1 AND sender_id = $2), 0)
		FROM transactions
		WHERE (sender_kind = $1 AND sender_id = $2) OR (receiver_kind = $1 AND receiver_id = $2)`

	var balance int64
	if err := r.pool.QueryRow(ctx, query, ref.Kind, ref.ID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("reconcile account: %w", err)
	}
	return balance, nil
}

const selectColumns = `SELECT id, seq, type, sender_kind, sender_id, receiver_kind, receiver_id, amount, message, status, created_at`

// refColumns splits an optional ref into its nullable column pair.
func refColumns(ref *domain.AccountRef) (*string, *string) {
	if ref == nil {
		return nil, nil
	}
	kind := string(ref.Kind)
	id := ref.ID
	return &kind, &id
}

func buildRef(kind, id *string) *domain.AccountRef {
	if kind == nil || id == nil {
		return nil
	}
	return &domain.AccountRef{Kind: domain.AccountKind(*kind), ID: *id}
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	t, err := scanTransactionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return t, nil
}

func scanTransactionRow(row pgx.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	var senderKind, senderID, receiverKind, receiverID *string
	err := row.Scan(
		&t.ID, &t.Seq, &t.Type, &senderKind, &senderID, &receiverKind, &receiverID,
		&t.Amount, &t.Message, &t.Status, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Sender = buildRef(senderKind, senderID)
	t.Receiver = buildRef(receiverKind, receiverID)
	return t, nil
}
