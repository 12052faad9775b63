package integration

import (
	"context"
	"sort"
	"sync"

	"adcoin-ledger/internal/core/domain"
	"adcoin-ledger/internal/core/ports"
	"adcoin-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// The in-memory stores mirror the postgres adapters closely enough to run the
// full engine: ApplyDelta keeps real compare-and-set semantics, and writes
// made through a memTx are undone on rollback so a failed attempt leaves no
// trace, exactly like an aborted database transaction.

// --- In-Memory Transactor ---

type inMemoryTransactor struct{}

func newInMemoryTransactor() *inMemoryTransactor {
	return &inMemoryTransactor{}
}

func (t *inMemoryTransactor) Begin(ctx context.Context) (pgx.Tx, error) {
	return &memTx{}, nil
}

// memTx implements pgx.Tx over an undo log. Stores register an undo per write;
// Rollback replays them in reverse, Commit discards them.
type memTx struct {
	mu    sync.Mutex
	undos []func()
	done  bool
}

func (t *memTx) addUndo(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.undos = append(t.undos, fn)
}

func (t *memTx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
	t.undos = nil
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return pgx.ErrTxClosed
	}
	for i := len(t.undos) - 1; i >= 0; i-- {
		t.undos[i]()
	}
	t.undos = nil
	t.done = true
	return nil
}

func (t *memTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *memTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *memTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *memTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *memTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *memTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *memTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *memTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}
func (t *memTx) Conn() *pgx.Conn { return nil }

// --- In-Memory Account Store ---

type inMemoryAccountStore struct {
	mu       sync.RWMutex
	accounts map[string]*domain.Account
}

func newInMemoryAccountStore() *inMemoryAccountStore {
	return &inMemoryAccountStore{accounts: make(map[string]*domain.Account)}
}

func (s *inMemoryAccountStore) Create(ctx context.Context, account *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *account
	s.accounts[account.Ref.Key()] = &cp
	return nil
}

func (s *inMemoryAccountStore) Get(ctx context.Context, ref domain.AccountRef) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[ref.Key()]
	if !ok {
		return nil, nil
	}
	cp := *acc
	return &cp, nil
}

func (s *inMemoryAccountStore) GetBalance(ctx context.Context, ref domain.AccountRef) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[ref.Key()]
	if !ok {
		return 0, apperror.ErrAccountNotFound(ref.Key())
	}
	return acc.Balance, nil
}

func (s *inMemoryAccountStore) ApplyDelta(ctx context.Context, tx pgx.Tx, ref domain.AccountRef, delta, expectedVersion int64) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[ref.Key()]
	if !ok {
		return nil, apperror.ErrAccountNotFound(ref.Key())
	}
	if acc.Version != expectedVersion {
		return nil, ports.ErrVersionConflict
	}
	if acc.Balance+delta < 0 {
		return nil, apperror.ErrInsufficientBalance()
	}

	prevBalance, prevVersion := acc.Balance, acc.Version
	acc.Balance += delta
	acc.Version++

	if mt, ok := tx.(*memTx); ok {
		key := ref.Key()
		mt.addUndo(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if cur, ok := s.accounts[key]; ok {
				cur.Balance = prevBalance
				cur.Version = prevVersion
			}
		})
	}

	cp := *acc
	return &cp, nil
}

// --- In-Memory Ledger ---

type inMemoryLedger struct {
	mu      sync.RWMutex
	rows    []domain.Transaction
	nextSeq int64
}

func newInMemoryLedger() *inMemoryLedger {
	return &inMemoryLedger{nextSeq: 1}
}

func (l *inMemoryLedger) Append(ctx context.Context, tx pgx.Tx, txn *domain.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	txn.Seq = l.nextSeq
	l.nextSeq++
	l.rows = append(l.rows, *txn)

	if mt, ok := tx.(*memTx); ok {
		seq := txn.Seq
		mt.addUndo(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i, row := range l.rows {
				if row.Seq == seq {
					l.rows = append(l.rows[:i], l.rows[i+1:]...)
					break
				}
			}
		})
	}
	return nil
}

func (l *inMemoryLedger) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, row := range l.rows {
		if row.ID == id {
			cp := row
			return &cp, nil
		}
	}
	return nil, nil
}

func refMatches(txn *domain.Transaction, ref domain.AccountRef) bool {
	if txn.Sender != nil && *txn.Sender == ref {
		return true
	}
	return txn.Receiver != nil && *txn.Receiver == ref
}

func (l *inMemoryLedger) ListFor(ctx context.Context, ref domain.AccountRef, params ports.ListParams) ([]domain.Transaction, int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var matched []domain.Transaction
	for _, row := range l.rows {
		if !refMatches(&row, ref) {
			continue
		}
		if params.Type != nil && row.Type != *params.Type {
			continue
		}
		if params.From != nil && row.CreatedAt.Unix() < *params.From {
			continue
		}
		if params.To != nil && row.CreatedAt.Unix() > *params.To {
			continue
		}
		matched = append(matched, row)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Seq > matched[j].Seq })
	total := int64(len(matched))

	start := (params.Page - 1) * params.PageSize
	if start >= len(matched) {
		return []domain.Transaction{}, total, nil
	}
	end := start + params.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (l *inMemoryLedger) Reconcile(ctx context.Context, ref domain.AccountRef) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var balance int64
	for _, row := range l.rows {
		if row.Receiver != nil && *row.Receiver == ref {
			balance += row.Amount
		}
		if row.Sender != nil && *row.Sender == ref {
			balance -= row.Amount
		}
	}
	return balance, nil
}

// count returns the number of ledger rows, for append-only assertions.
func (l *inMemoryLedger) count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.rows)
}

// --- In-Memory Idempotency Repo ---

type inMemoryIdempotencyRepo struct {
	mu      sync.RWMutex
	records map[string]*domain.IdempotencyRecord
}

func newInMemoryIdempotencyRepo() *inMemoryIdempotencyRepo {
	return &inMemoryIdempotencyRepo{records: make(map[string]*domain.IdempotencyRecord)}
}

func (r *inMemoryIdempotencyRepo) Create(ctx context.Context, tx pgx.Tx, rec *domain.IdempotencyRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.records[rec.Key] = &cp

	if mt, ok := tx.(*memTx); ok {
		key := rec.Key
		mt.addUndo(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.records, key)
		})
	}
	return nil
}

func (r *inMemoryIdempotencyRepo) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[key]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// --- In-Memory Participant Repo ---

type inMemoryParticipantRepo struct {
	mu           sync.RWMutex
	participants map[string]*domain.Participant
}

func newInMemoryParticipantRepo() *inMemoryParticipantRepo {
	return &inMemoryParticipantRepo{participants: make(map[string]*domain.Participant)}
}

func (r *inMemoryParticipantRepo) Create(ctx context.Context, p *domain.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.participants[p.Ref.Key()] = &cp
	return nil
}

func (r *inMemoryParticipantRepo) GetByRef(ctx context.Context, ref domain.AccountRef) (*domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[ref.Key()]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *inMemoryParticipantRepo) GetStaffByUsername(ctx context.Context, username string) (*domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.participants {
		if p.Ref.Kind == domain.KindStaff && p.Username != nil && *p.Username == username {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemoryParticipantRepo) ResolveRefs(ctx context.Context, refs []domain.AccountRef) (map[string]*domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*domain.Participant, len(refs))
	for _, ref := range refs {
		if p, ok := r.participants[ref.Key()]; ok {
			cp := *p
			out[ref.Key()] = &cp
		}
	}
	return out, nil
}
