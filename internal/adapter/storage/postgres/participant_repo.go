package postgres

import (
	"context"
	"errors"
	"fmt"

	"adcoin-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// ParticipantRepo implements ports.ParticipantRepository: the directory the
// authorization gate and display projection read from.
type ParticipantRepo struct {
	pool Pool
}

// NewParticipantRepo creates a new ParticipantRepo.
func NewParticipantRepo(pool Pool) *ParticipantRepo {
	return &ParticipantRepo{pool: pool}
}

// Create inserts a participant directory entry.
func (r *ParticipantRepo) Create(ctx context.Context, p *domain.Participant) error {
	query := `INSERT INTO participants (kind, id, name, photo_url, level, username, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		p.Ref.Kind, p.Ref.ID, p.Name, p.PhotoURL, p.Level, p.Username, p.PasswordHash, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

// GetByRef fetches a participant by account ref. Returns nil, nil when absent.
func (r *ParticipantRepo) GetByRef(ctx context.Context, ref domain.AccountRef) (*domain.Participant, error) {
	query := `SELECT name, photo_url, level, username, password_hash, created_at
		FROM participants WHERE kind = $1 AND id = $2`

	p := &domain.Participant{Ref: ref}
	err := r.pool.QueryRow(ctx, query, ref.Kind, ref.ID).Scan(
		&p.Name, &p.PhotoURL, &p.Level, &p.Username, &p.PasswordHash, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get participant: %w", err)
	}
	return p, nil
}

// GetStaffByUsername fetches a staff participant by dashboard username.
func (r *ParticipantRepo) GetStaffByUsername(ctx context.Context, username string) (*domain.Participant, error) {
	query := `SELECT kind, id, name, photo_url, level, username, password_hash, created_at
		FROM participants WHERE kind = 'staff' AND username = $1`

	p := &domain.Participant{}
	err := r.pool.QueryRow(ctx, query, username).Scan(
		&p.Ref.Kind, &p.Ref.ID, &p.Name, &p.PhotoURL, &p.Level, &p.Username, &p.PasswordHash, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get staff by username: %w", err)
	}
	return p, nil
}

// ResolveRefs batch-resolves refs to directory entries keyed by Ref.Key().
// Missing refs are simply absent from the result map.
func (r *ParticipantRepo) ResolveRefs(ctx context.Context, refs []domain.AccountRef) (map[string]*domain.Participant, error) {
	result := make(map[string]*domain.Participant, len(refs))
	if len(refs) == 0 {
		return result, nil
	}

	kinds := make([]string, 0, len(refs))
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		kinds = append(kinds, string(ref.Kind))
		ids = append(ids, ref.ID)
	}

	query := `SELECT kind, id, name, photo_url, level, username, password_hash, created_at
		FROM participants
		WHERE (kind, id) IN (SELECT unnest($1::text[]), unnest($2::text[]))`

	rows, err := r.pool.Query(ctx, query, kinds, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve refs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p := &domain.Participant{}
		err := rows.Scan(
			&p.Ref.Kind, &p.Ref.ID, &p.Name, &p.PhotoURL, &p.Level, &p.Username, &p.PasswordHash, &p.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan participant row: %w", err)
		}
		result[p.Ref.Key()] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participant rows: %w", err)
	}
	return result, nil
}
