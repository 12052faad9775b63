package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"adcoin-ledger/internal/core/domain"
	"adcoin-ledger/internal/core/ports"
	"adcoin-ledger/internal/core/ports/mocks"
	"adcoin-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// mockTx is a minimal pgx.Tx stand-in so the engine's transaction flow can be
// exercised without a database.
type mockTx struct {
	commits   int
	rollbacks int
}

func (m *mockTx) Begin(ctx context.Context) (pgx.Tx, error) { return m, nil }
func (m *mockTx) Commit(ctx context.Context) error          { m.commits++; return nil }
func (m *mockTx) Rollback(ctx context.Context) error        { m.rollbacks++; return nil }
func (m *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (m *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (m *mockTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (m *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (m *mockTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (m *mockTx) Conn() *pgx.Conn                                               { return nil }

type transferDeps struct {
	accounts   *mocks.MockAccountStore
	ledger     *mocks.MockLedgerRepository
	idempRepo  *mocks.MockIdempotencyRepository
	idempCache *mocks.MockIdempotencyCache
	authorizer *mocks.MockAuthorizer
	transactor *mocks.MockDBTransactor
}

func setupTransferService(t *testing.T) (*TransferServiceImpl, transferDeps) {
	ctrl := gomock.NewController(t)
	deps := transferDeps{
		accounts:   mocks.NewMockAccountStore(ctrl),
		ledger:     mocks.NewMockLedgerRepository(ctrl),
		idempRepo:  mocks.NewMockIdempotencyRepository(ctrl),
		idempCache: mocks.NewMockIdempotencyCache(ctrl),
		authorizer: mocks.NewMockAuthorizer(ctrl),
		transactor: mocks.NewMockDBTransactor(ctrl),
	}
	svc := NewTransferService(
		deps.accounts, deps.ledger, deps.idempRepo, deps.idempCache,
		deps.authorizer, deps.transactor,
		3, time.Millisecond, time.Hour, zerolog.Nop(),
	)
	return svc, deps
}

var (
	alice = domain.AccountRef{Kind: domain.KindStudent, ID: "alice"}
	bob   = domain.AccountRef{Kind: domain.KindStudent, ID: "bob"}
	coach = domain.AccountRef{Kind: domain.KindStaff, ID: "coach"}
)

func account(ref domain.AccountRef, balance, version int64) *domain.Account {
	return &domain.Account{Ref: ref, Balance: balance, Version: version}
}

func assertAppError(t *testing.T, err error, code string) {
	t.Helper()
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, code, appErr.Code)
}

func TestSubmit_Transfer_Success(t *testing.T) {
	svc, deps := setupTransferService(t)
	ctx := context.Background()
	tx := &mockTx{}

	req := ports.TransferRequest{
		Initiator:  bob,
		Credential: "1234",
		Type:       domain.TypeTransfer,
		Sender:     &bob,
		Receiver:   &alice,
		Amount:     30,
	}

	deps.authorizer.EXPECT().Authorize(ctx, bob, "1234").Return(nil)
	deps.accounts.EXPECT().Get(ctx, alice).Return(account(alice, 10, 7), nil).Times(2)
	deps.accounts.EXPECT().Get(ctx, bob).Return(account(bob, 100, 3), nil).Times(2)
	deps.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	// Canonical order: alice before bob regardless of roles.
	gomock.InOrder(
		deps.accounts.EXPECT().ApplyDelta(ctx, tx, alice, int64(30), int64(7)).Return(account(alice, 40, 8), nil),
		deps.accounts.EXPECT().ApplyDelta(ctx, tx, bob, int64(-30), int64(3)).Return(account(bob, 70, 4), nil),
	)
	deps.ledger.EXPECT().Append(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, txn *domain.Transaction) error {
			txn.Seq = 42
			return nil
		})

	txn, err := svc.Submit(ctx, req)

	require.NoError(t, err)
	assert.Equal(t, domain.TypeTransfer, txn.Type)
	assert.Equal(t, int64(42), txn.Seq)
	assert.Equal(t, int64(30), txn.Amount)
	assert.Equal(t, &bob, txn.Sender)
	assert.Equal(t, &alice, txn.Receiver)
	assert.Equal(t, domain.StatusCommitted, txn.Status)
	assert.NotEqual(t, uuid.Nil, txn.ID)
	assert.Equal(t, 1, tx.commits)
}

func TestSubmit_Unauthorized(t *testing.T) {
	svc, deps := setupTransferService(t)
	ctx := context.Background()

	deps.authorizer.EXPECT().Authorize(ctx, bob, "wrong").Return(apperror.ErrUnauthorized())

	_, err := svc.Submit(ctx, ports.TransferRequest{
		Initiator: bob, Credential: "wrong",
		Type: domain.TypeTransfer, Sender: &bob, Receiver: &alice, Amount: 10,
	})

	assertAppError(t, err, "AUTH_001")
}

func TestSubmit_InvalidAmount(t *testing.T) {
	svc, deps := setupTransferService(t)
	ctx := context.Background()

	for _, amount := range []int64{0, -5} {
		deps.authorizer.EXPECT().Authorize(ctx, bob, "1234").Return(nil)

		_, err := svc.Submit(ctx, ports.TransferRequest{
			Initiator: bob, Credential: "1234",
			Type: domain.TypeTransfer, Sender: &bob, Receiver: &alice, Amount: amount,
		})

		assertAppError(t, err, "LGR_003")
	}
}

func TestSubmit_SelfTransfer(t *testing.T) {
	svc, deps := setupTransferService(t)
	ctx := context.Background()

	deps.authorizer.EXPECT().Authorize(ctx, bob, "1234").Return(nil)

	_, err := svc.Submit(ctx, ports.TransferRequest{
		Initiator: bob, Credential: "1234",
		Type: domain.TypeTransfer, Sender: &bob, Receiver: &bob, Amount: 10,
	})

	assertAppError(t, err, "LGR_002")
}

func TestSubmit_UnknownType(t *testing.T) {
	svc, deps := setupTransferService(t)
	ctx := context.Background()

	deps.authorizer.EXPECT().Authorize(ctx, bob, "1234").Return(nil)

	_, err := svc.Submit(ctx, ports.TransferRequest{
		Initiator: bob, Credential: "1234",
		Type: domain.TransactionType("bonus"), Sender: &bob, Receiver: &alice, Amount: 10,
	})

	assertAppError(t, err, "LGR_006")
}

func TestSubmit_MissingParty(t *testing.T) {
	svc, deps := setupTransferService(t)
	ctx := context.Background()

	deps.authorizer.EXPECT().Authorize(ctx, bob, "1234").Return(nil)

	_, err := svc.Submit(ctx, ports.TransferRequest{
		Initiator: bob, Credential: "1234",
		Type: domain.TypeTransfer, Sender: &bob, Amount: 10,
	})

	assertAppError(t, err, "LGR_006")
}

func TestSubmit_AccountNotFound(t *testing.T) {
	svc, deps := setupTransferService(t)
	ctx := context.Background()

	ghost := domain.AccountRef{Kind: domain.KindStudent, ID: "ghost"}
	deps.authorizer.EXPECT().Authorize(ctx, bob, "1234").Return(nil)
	deps.accounts.EXPECT().Get(ctx, bob).Return(account(bob, 100, 1), nil)
	deps.accounts.EXPECT().Get(ctx, ghost).Return(nil, nil)

	_, err := svc.Submit(ctx, ports.TransferRequest{
		Initiator: bob, Credential: "1234",
		Type: domain.TypeTransfer, Sender: &bob, Receiver: &ghost, Amount: 10,
	})

	assertAppError(t, err, "LGR_001")
}

func TestSubmit_InsufficientBalance(t *testing.T) {
	svc, deps := setupTransferService(t)
	ctx := context.Background()
	tx := &mockTx{}

	deps.authorizer.EXPECT().Authorize(ctx, bob, "1234").Return(nil)
	deps.accounts.EXPECT().Get(ctx, alice).Return(account(alice, 0, 1), nil).AnyTimes()
	deps.accounts.EXPECT().Get(ctx, bob).Return(account(bob, 5, 1), nil).AnyTimes()
	deps.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	deps.accounts.EXPECT().ApplyDelta(ctx, tx, alice, int64(10), int64(1)).Return(account(alice, 10, 2), nil)
	deps.accounts.EXPECT().ApplyDelta(ctx, tx, bob, int64(-10), int64(1)).Return(nil, apperror.ErrInsufficientBalance())

	_, err := svc.Submit(ctx, ports.TransferRequest{
		Initiator: bob, Credential: "1234",
		Type: domain.TypeTransfer, Sender: &bob, Receiver: &alice, Amount: 10,
	})

	assertAppError(t, err, "LGR_004")
	assert.Equal(t, 0, tx.commits)
	assert.Equal(t, 1, tx.rollbacks)
}

func TestSubmit_Earned_DropsSenderSide(t *testing.T) {
	svc, deps := setupTransferService(t)
	ctx := context.Background()
	tx := &mockTx{}

	// The UI posts both parties; earned only credits the receiver.
	deps.authorizer.EXPECT().Authorize(ctx, coach, "pw").Return(nil)
	deps.accounts.EXPECT().Get(ctx, alice).Return(account(alice, 10, 2), nil).Times(2)
	deps.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	deps.accounts.EXPECT().ApplyDelta(ctx, tx, alice, int64(25), int64(2)).Return(account(alice, 35, 3), nil)
	deps.ledger.EXPECT().Append(ctx, tx, gomock.Any()).Return(nil)

	txn, err := svc.Submit(ctx, ports.TransferRequest{
		Initiator: coach, Credential: "pw",
		Type: domain.TypeEarned, Sender: &coach, Receiver: &alice, Amount: 25,
	})

	require.NoError(t, err)
	assert.Nil(t, txn.Sender)
	assert.Equal(t, &alice, txn.Receiver)
	assert.Equal(t, 1, tx.commits)
}

func TestSubmit_Adjusted_Debit(t *testing.T) {
	svc, deps := setupTransferService(t)
	ctx := context.Background()
	tx := &mockTx{}

	deps.authorizer.EXPECT().Authorize(ctx, coach, "pw").Return(nil)
	deps.accounts.EXPECT().Get(ctx, alice).Return(account(alice, 50, 4), nil).Times(2)
	deps.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	deps.accounts.EXPECT().ApplyDelta(ctx, tx, alice, int64(-15), int64(4)).Return(account(alice, 35, 5), nil)
	deps.ledger.EXPECT().Append(ctx, tx, gomock.Any()).Return(nil)

	txn, err := svc.Submit(ctx, ports.TransferRequest{
		Initiator: coach, Credential: "pw",
		Type: domain.TypeAdjusted, Direction: domain.AdjustDebit,
		Sender: &alice, Receiver: &alice, Amount: 15,
	})

	require.NoError(t, err)
	assert.Equal(t, &alice, txn.Sender)
	assert.Nil(t, txn.Receiver)
}

func TestSubmit_Adjusted_UnknownDirection(t *testing.T) {
	svc, deps := setupTransferService(t)
	ctx := context.Background()

	deps.authorizer.EXPECT().Authorize(ctx, coach, "pw").Return(nil)

	_, err := svc.Submit(ctx, ports.TransferRequest{
		Initiator: coach, Credential: "pw",
		Type: domain.TypeAdjusted, Direction: domain.AdjustDirection("sideways"),
		Sender: &alice, Receiver: &alice, Amount: 15,
	})

	assertAppError(t, err, "LGR_006")
}

func TestSubmit_IdempotentReplay_CacheHit(t *testing.T) {
	svc, deps := setupTransferService(t)
	ctx := context.Background()

	orig := &domain.Transaction{
		ID: uuid.New(), Seq: 7, Type: domain.TypeTransfer,
		Sender: &bob, Receiver: &alice, Amount: 30, Status: domain.StatusCommitted,
	}
	cached, err := json.Marshal(orig)
	require.NoError(t, err)

	key := domain.BuildIdempotencyKey(bob, "req-1")
	deps.authorizer.EXPECT().Authorize(ctx, bob, "1234").Return(nil)
	deps.accounts.EXPECT().Get(ctx, alice).Return(account(alice, 40, 8), nil)
	deps.accounts.EXPECT().Get(ctx, bob).Return(account(bob, 70, 4), nil)
	deps.idempCache.EXPECT().Get(ctx, key).Return(cached, nil)

	txn, err := svc.Submit(ctx, ports.TransferRequest{
		Initiator: bob, Credential: "1234",
		Type: domain.TypeTransfer, Sender: &bob, Receiver: &alice, Amount: 30,
		IdempotencyKey: "req-1",
	})

	require.NoError(t, err)
	assert.Equal(t, orig.ID, txn.ID)
	assert.Equal(t, int64(7), txn.Seq)
}

func TestSubmit_IdempotentReplay_DBHit(t *testing.T) {
	svc, deps := setupTransferService(t)
	ctx := context.Background()

	orig := &domain.Transaction{
		ID: uuid.New(), Type: domain.TypeTransfer,
		Sender: &bob, Receiver: &alice, Amount: 30, Status: domain.StatusCommitted,
	}
	cached, err := json.Marshal(orig)
	require.NoError(t, err)

	key := domain.BuildIdempotencyKey(bob, "req-1")
	deps.authorizer.EXPECT().Authorize(ctx, bob, "1234").Return(nil)
	deps.accounts.EXPECT().Get(ctx, alice).Return(account(alice, 40, 8), nil)
	deps.accounts.EXPECT().Get(ctx, bob).Return(account(bob, 70, 4), nil)
	deps.idempCache.EXPECT().Get(ctx, key).Return(nil, nil)
	deps.idempRepo.EXPECT().Get(ctx, key).Return(&domain.IdempotencyRecord{
		Key: key, TransactionID: orig.ID, ResponseJSON: cached,
	}, nil)

	txn, err := svc.Submit(ctx, ports.TransferRequest{
		Initiator: bob, Credential: "1234",
		Type: domain.TypeTransfer, Sender: &bob, Receiver: &alice, Amount: 30,
		IdempotencyKey: "req-1",
	})

	require.NoError(t, err)
	assert.Equal(t, orig.ID, txn.ID)
}

func TestSubmit_FirstUse_PersistsIdempotencyRecord(t *testing.T) {
	svc, deps := setupTransferService(t)
	ctx := context.Background()
	tx := &mockTx{}

	key := domain.BuildIdempotencyKey(bob, "req-9")
	deps.authorizer.EXPECT().Authorize(ctx, bob, "1234").Return(nil)
	deps.accounts.EXPECT().Get(ctx, alice).Return(account(alice, 40, 8), nil).Times(2)
	deps.accounts.EXPECT().Get(ctx, bob).Return(account(bob, 70, 4), nil).Times(2)
	deps.idempCache.EXPECT().Get(ctx, key).Return(nil, nil)
	deps.idempRepo.EXPECT().Get(ctx, key).Return(nil, nil)
	deps.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	deps.accounts.EXPECT().ApplyDelta(ctx, tx, alice, int64(30), int64(8)).Return(account(alice, 70, 9), nil)
	deps.accounts.EXPECT().ApplyDelta(ctx, tx, bob, int64(-30), int64(4)).Return(account(bob, 40, 5), nil)
	deps.ledger.EXPECT().Append(ctx, tx, gomock.Any()).Return(nil)
	deps.idempRepo.EXPECT().Create(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, rec *domain.IdempotencyRecord) error {
			assert.Equal(t, key, rec.Key)
			assert.NotEmpty(t, rec.ResponseJSON)
			return nil
		})
	deps.idempCache.EXPECT().Set(ctx, key, gomock.Any(), time.Hour).Return(nil)

	txn, err := svc.Submit(ctx, ports.TransferRequest{
		Initiator: bob, Credential: "1234",
		Type: domain.TypeTransfer, Sender: &bob, Receiver: &alice, Amount: 30,
		IdempotencyKey: "req-9",
	})

	require.NoError(t, err)
	assert.Equal(t, 1, tx.commits)
	assert.Equal(t, domain.StatusCommitted, txn.Status)
}

func TestSubmit_ConflictThenSuccess(t *testing.T) {
	svc, deps := setupTransferService(t)
	ctx := context.Background()
	tx := &mockTx{}

	deps.authorizer.EXPECT().Authorize(ctx, bob, "1234").Return(nil)
	deps.accounts.EXPECT().Get(ctx, alice).Return(account(alice, 10, 7), nil).AnyTimes()
	deps.accounts.EXPECT().Get(ctx, bob).Return(account(bob, 100, 3), nil).AnyTimes()
	deps.transactor.EXPECT().Begin(ctx).Return(tx, nil).Times(2)

	// First pass loses the race on alice; second pass wins.
	gomock.InOrder(
		deps.accounts.EXPECT().ApplyDelta(ctx, tx, alice, int64(30), int64(7)).Return(nil, ports.ErrVersionConflict),
		deps.accounts.EXPECT().ApplyDelta(ctx, tx, alice, int64(30), int64(7)).Return(account(alice, 40, 8), nil),
	)
	deps.accounts.EXPECT().ApplyDelta(ctx, tx, bob, int64(-30), int64(3)).Return(account(bob, 70, 4), nil)
	deps.ledger.EXPECT().Append(ctx, tx, gomock.Any()).Return(nil)

	txn, err := svc.Submit(ctx, ports.TransferRequest{
		Initiator: bob, Credential: "1234",
		Type: domain.TypeTransfer, Sender: &bob, Receiver: &alice, Amount: 30,
	})

	require.NoError(t, err)
	assert.Equal(t, int64(30), txn.Amount)
	assert.Equal(t, 1, tx.commits)
	assert.Equal(t, 1, tx.rollbacks)
}

func TestSubmit_RetriesExhausted(t *testing.T) {
	svc, deps := setupTransferService(t)
	ctx := context.Background()
	tx := &mockTx{}

	deps.authorizer.EXPECT().Authorize(ctx, bob, "1234").Return(nil)
	deps.accounts.EXPECT().Get(ctx, alice).Return(account(alice, 10, 7), nil).AnyTimes()
	deps.accounts.EXPECT().Get(ctx, bob).Return(account(bob, 100, 3), nil).AnyTimes()
	deps.transactor.EXPECT().Begin(ctx).Return(tx, nil).Times(3)
	deps.accounts.EXPECT().ApplyDelta(ctx, tx, alice, int64(30), int64(7)).
		Return(nil, ports.ErrVersionConflict).Times(3)

	_, err := svc.Submit(ctx, ports.TransferRequest{
		Initiator: bob, Credential: "1234",
		Type: domain.TypeTransfer, Sender: &bob, Receiver: &alice, Amount: 30,
	})

	assertAppError(t, err, "LGR_005")
	assert.Equal(t, 0, tx.commits)
	assert.Equal(t, 3, tx.rollbacks)
}

func TestSubmit_LedgerAppendFailure(t *testing.T) {
	svc, deps := setupTransferService(t)
	ctx := context.Background()
	tx := &mockTx{}

	deps.authorizer.EXPECT().Authorize(ctx, bob, "1234").Return(nil)
	deps.accounts.EXPECT().Get(ctx, alice).Return(account(alice, 10, 7), nil).Times(2)
	deps.accounts.EXPECT().Get(ctx, bob).Return(account(bob, 100, 3), nil).Times(2)
	deps.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	deps.accounts.EXPECT().ApplyDelta(ctx, tx, alice, int64(30), int64(7)).Return(account(alice, 40, 8), nil)
	deps.accounts.EXPECT().ApplyDelta(ctx, tx, bob, int64(-30), int64(3)).Return(account(bob, 70, 4), nil)
	deps.ledger.EXPECT().Append(ctx, tx, gomock.Any()).Return(assert.AnError)

	_, err := svc.Submit(ctx, ports.TransferRequest{
		Initiator: bob, Credential: "1234",
		Type: domain.TypeTransfer, Sender: &bob, Receiver: &alice, Amount: 30,
	})

	assertAppError(t, err, "SYS_002")
	// The balance legs roll back with the failed append.
	assert.Equal(t, 0, tx.commits)
	assert.Equal(t, 1, tx.rollbacks)
}
