package service

import (
	"context"
	"fmt"

	"adcoin-ledger/internal/core/domain"
	"adcoin-ledger/internal/core/ports"
	"adcoin-ledger/pkg/apperror"
)

// HistoryServiceImpl implements ports.HistoryService: the read side that
// projects ledger pages onto directory entries for display. It never writes.
type HistoryServiceImpl struct {
	accounts     ports.AccountStore
	ledger       ports.LedgerRepository
	participants ports.ParticipantRepository
}

// NewHistoryService creates a new HistoryServiceImpl.
func NewHistoryService(accounts ports.AccountStore, ledger ports.LedgerRepository, participants ports.ParticipantRepository) *HistoryServiceImpl {
	return &HistoryServiceImpl{accounts: accounts, ledger: ledger, participants: participants}
}

// History returns one page of the account's transactions with both parties
// resolved to display data.
func (s *HistoryServiceImpl) History(ctx context.Context, ref domain.AccountRef, params ports.ListParams) ([]ports.HistoryRow, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 || params.PageSize > 100 {
		params.PageSize = 20
	}

	txns, total, err := s.ledger.ListFor(ctx, ref, params)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list transactions: %w", err))
	}

	var refs []domain.AccountRef
	seen := make(map[string]bool)
	for _, t := range txns {
		for _, r := range []*domain.AccountRef{t.Sender, t.Receiver} {
			if r != nil && !seen[r.Key()] {
				seen[r.Key()] = true
				refs = append(refs, *r)
			}
		}
	}

	directory, err := s.participants.ResolveRefs(ctx, refs)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("resolve participants: %w", err))
	}

	rows := make([]ports.HistoryRow, 0, len(txns))
	for _, t := range txns {
		rows = append(rows, ports.HistoryRow{
			Transaction: t,
			Sender:      project(t.Sender, directory),
			Receiver:    project(t.Receiver, directory),
		})
	}
	return rows, total, nil
}

// Balance returns the stored balance for the account.
func (s *HistoryServiceImpl) Balance(ctx context.Context, ref domain.AccountRef) (int64, error) {
	return s.accounts.GetBalance(ctx, ref)
}

// Reconcile replays the account's full transaction history and compares the
// fold with the stored balance.
func (s *HistoryServiceImpl) Reconcile(ctx context.Context, ref domain.AccountRef) (*ports.ReconcileResult, error) {
	stored, err := s.accounts.GetBalance(ctx, ref)
	if err != nil {
		return nil, err
	}

	replayed, err := s.ledger.Reconcile(ctx, ref)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("reconcile ledger: %w", err))
	}

	return &ports.ReconcileResult{
		Stored:   stored,
		Replayed: replayed,
		Match:    stored == replayed,
	}, nil
}

// project maps an optional ref to its display info. Unknown refs still get a
// row with the raw ref so history never hides a party.
func project(ref *domain.AccountRef, directory map[string]*domain.Participant) *ports.PartyInfo {
	if ref == nil {
		return nil
	}
	info := &ports.PartyInfo{Ref: *ref}
	if p, ok := directory[ref.Key()]; ok {
		info.Name = p.Name
		info.PhotoURL = p.PhotoURL
		info.Level = p.Level
	}
	return info
}
