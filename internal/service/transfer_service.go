package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"adcoin-ledger/internal/core/domain"
	"adcoin-ledger/internal/core/ports"
	"adcoin-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TransferServiceImpl implements ports.TransferService. A request moves
// through Received -> Validated -> Reserved -> Committed; any failure before
// the commit leaves no trace. Balance updates, the ledger append and the
// idempotency record share one database transaction, so a committed ledger
// row and its balance effects are inseparable.
type TransferServiceImpl struct {
	accounts       ports.AccountStore
	ledger         ports.LedgerRepository
	idempRepo      ports.IdempotencyRepository
	idempCache     ports.IdempotencyCache
	authorizer     ports.Authorizer
	transactor     ports.DBTransactor
	maxAttempts    int
	retryBackoff   time.Duration
	idempotencyTTL time.Duration
	log            zerolog.Logger
}

// NewTransferService creates a new TransferServiceImpl.
func NewTransferService(
	accounts ports.AccountStore,
	ledger ports.LedgerRepository,
	idempRepo ports.IdempotencyRepository,
	idempCache ports.IdempotencyCache,
	authorizer ports.Authorizer,
	transactor ports.DBTransactor,
	maxAttempts int,
	retryBackoff time.Duration,
	idempotencyTTL time.Duration,
	log zerolog.Logger,
) *TransferServiceImpl {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if retryBackoff <= 0 {
		retryBackoff = 20 * time.Millisecond
	}
	if idempotencyTTL <= 0 {
		idempotencyTTL = 24 * time.Hour
	}
	return &TransferServiceImpl{
		accounts:       accounts,
		ledger:         ledger,
		idempRepo:      idempRepo,
		idempCache:     idempCache,
		authorizer:     authorizer,
		transactor:     transactor,
		maxAttempts:    maxAttempts,
		retryBackoff:   retryBackoff,
		idempotencyTTL: idempotencyTTL,
		log:            log,
	}
}

// leg is one conditional balance update the request requires. Legs are
// applied in canonical ref order regardless of sender/receiver role so two
// requests touching the same pair in opposite roles cannot livelock.
type leg struct {
	ref   domain.AccountRef
	delta int64
}

// Submit runs the transfer state machine.
func (s *TransferServiceImpl) Submit(ctx context.Context, req ports.TransferRequest) (*domain.Transaction, error) {
	if err := s.authorizer.Authorize(ctx, req.Initiator, req.Credential); err != nil {
		return nil, err
	}

	legs, err := s.validate(ctx, &req)
	if err != nil {
		return nil, err
	}

	var idempKey string
	if req.IdempotencyKey != "" {
		idempKey = domain.BuildIdempotencyKey(req.Initiator, req.IdempotencyKey)

		// Layer 1: Redis idempotency check
		cached, err := s.idempCache.Get(ctx, idempKey)
		if err != nil {
			s.log.Warn().Err(err).Str("key", idempKey).Msg("redis idempotency check failed, falling through to DB")
		}
		if cached != nil {
			return unmarshalCachedTransaction(cached)
		}

		// Layer 2: DB idempotency check
		rec, err := s.idempRepo.Get(ctx, idempKey)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("db idempotency check: %w", err))
		}
		if rec != nil {
			return unmarshalCachedTransaction(rec.ResponseJSON)
		}
	}

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := s.backoff(ctx, attempt); err != nil {
				return nil, apperror.InternalError(err)
			}
		}

		txn, respJSON, err := s.attempt(ctx, &req, legs, idempKey)
		if errors.Is(err, ports.ErrVersionConflict) {
			s.log.Debug().Int("attempt", attempt+1).Str("type", string(req.Type)).Msg("optimistic conflict, retrying with fresh reads")
			continue
		}
		if err != nil {
			return nil, err
		}

		// Post-commit: cache in Redis (best-effort)
		if idempKey != "" {
			if err := s.idempCache.Set(ctx, idempKey, respJSON, s.idempotencyTTL); err != nil {
				s.log.Warn().Err(err).Str("key", idempKey).Msg("failed to cache idempotency in redis")
			}
		}

		s.log.Info().
			Str("tx_id", txn.ID.String()).
			Str("type", string(txn.Type)).
			Int64("amount", txn.Amount).
			Msg("transfer committed")
		return txn, nil
	}

	return nil, apperror.ErrBusy()
}

// validate checks the request shape without mutating anything, normalizes
// the party fields (the UI posts both; the unused side is dropped) and
// returns the ordered legs.
func (s *TransferServiceImpl) validate(ctx context.Context, req *ports.TransferRequest) ([]leg, error) {
	if req.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}

	policy, err := resolvePolicy(req)
	if err != nil {
		return nil, err
	}

	if policy.DebitsSender && req.Sender == nil {
		return nil, apperror.Validation(fmt.Sprintf("transaction type %q requires a sender", req.Type))
	}
	if policy.CreditsReceiver && req.Receiver == nil {
		return nil, apperror.Validation(fmt.Sprintf("transaction type %q requires a receiver", req.Type))
	}
	if !policy.DebitsSender {
		req.Sender = nil
	}
	if !policy.CreditsReceiver {
		req.Receiver = nil
	}
	if req.Sender != nil && req.Receiver != nil && *req.Sender == *req.Receiver {
		return nil, apperror.ErrSelfTransfer()
	}

	var legs []leg
	if req.Sender != nil {
		legs = append(legs, leg{ref: *req.Sender, delta: -req.Amount})
	}
	if req.Receiver != nil {
		legs = append(legs, leg{ref: *req.Receiver, delta: req.Amount})
	}

	for _, l := range legs {
		acc, err := s.accounts.Get(ctx, l.ref)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("resolve account %s: %w", l.ref.Key(), err))
		}
		if acc == nil {
			return nil, apperror.ErrAccountNotFound(l.ref.Key())
		}
	}

	sort.Slice(legs, func(i, j int) bool { return legs[i].ref.Less(legs[j].ref) })
	return legs, nil
}

// resolvePolicy maps a transaction type to its leg policy. Adjusted is a
// signed single-account correction: the direction picks which side it
// touches.
func resolvePolicy(req *ports.TransferRequest) (domain.LegPolicy, error) {
	if req.Type == domain.TypeAdjusted {
		switch req.Direction {
		case domain.AdjustDebit:
			return domain.LegPolicy{DebitsSender: true}, nil
		case domain.AdjustCredit, "":
			return domain.LegPolicy{CreditsReceiver: true}, nil
		}
		return domain.LegPolicy{}, apperror.Validation(fmt.Sprintf("unknown adjustment direction %q", req.Direction))
	}

	policy, ok := domain.PolicyFor(req.Type)
	if !ok {
		return domain.LegPolicy{}, apperror.Validation(fmt.Sprintf("unknown transaction type %q", req.Type))
	}
	return policy, nil
}

// attempt performs one reserve-and-commit pass. A version conflict aborts
// the whole database transaction and bubbles up for retry; nothing from a
// failed pass survives.
func (s *TransferServiceImpl) attempt(ctx context.Context, req *ports.TransferRequest, legs []leg, idempKey string) (*domain.Transaction, []byte, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	for _, l := range legs {
		acc, err := s.accounts.Get(ctx, l.ref)
		if err != nil {
			return nil, nil, apperror.InternalError(fmt.Errorf("read account %s: %w", l.ref.Key(), err))
		}
		if acc == nil {
			return nil, nil, apperror.ErrAccountNotFound(l.ref.Key())
		}
		if _, err := s.accounts.ApplyDelta(ctx, dbTx, l.ref, l.delta, acc.Version); err != nil {
			return nil, nil, err
		}
	}

	now := time.Now().UTC()
	txn := &domain.Transaction{
		ID:        uuid.New(),
		Type:      req.Type,
		Sender:    req.Sender,
		Receiver:  req.Receiver,
		Amount:    req.Amount,
		Message:   req.Message,
		Status:    domain.StatusCommitted,
		CreatedAt: now,
	}

	if err := s.ledger.Append(ctx, dbTx, txn); err != nil {
		// The rollback below discards the balance updates too, so the
		// ledger can never lag the accounts. Still an incident worth noise.
		s.log.Error().Err(err).Str("type", string(req.Type)).Msg("ledger append failed, aborting transfer")
		return nil, nil, apperror.ErrPersistenceFailure(fmt.Errorf("append transaction: %w", err))
	}

	respJSON, err := json.Marshal(txn)
	if err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("marshal response: %w", err))
	}

	if idempKey != "" {
		rec := &domain.IdempotencyRecord{
			Key:           idempKey,
			TransactionID: txn.ID,
			ResponseJSON:  respJSON,
			CreatedAt:     now,
		}
		if err := s.idempRepo.Create(ctx, dbTx, rec); err != nil {
			return nil, nil, apperror.InternalError(fmt.Errorf("save idempotency record: %w", err))
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	return txn, respJSON, nil
}

// backoff sleeps before a retry, with jitter so contending requests spread out.
func (s *TransferServiceImpl) backoff(ctx context.Context, attempt int) error {
	d := time.Duration(attempt)*s.retryBackoff + time.Duration(rand.Int63n(int64(s.retryBackoff)))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// unmarshalCachedTransaction deserializes a cached transaction.
func unmarshalCachedTransaction(data []byte) (*domain.Transaction, error) {
	txn := &domain.Transaction{}
	if err := json.Unmarshal(data, txn); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("unmarshal cached tx: %w", err))
	}
	return txn, nil
}
