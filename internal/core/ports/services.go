package ports

import (
	"context"
	"time"

	"adcoin-ledger/internal/core/domain"
)

// --- Service Ports (Business Logic) ---

// TransferService is the transfer engine: the single entry point through
// which AdCoin moves.
type TransferService interface {
	Submit(ctx context.Context, req TransferRequest) (*domain.Transaction, error)
}

// TransferRequest holds one validated submission. The collecting UI always
// posts both parties; the engine keeps only the sides the transaction type
// actually touches.
type TransferRequest struct {
	Initiator      domain.AccountRef
	Credential     string // opaque, forwarded to the Authorizer, never stored
	Type           domain.TransactionType
	Sender         *domain.AccountRef
	Receiver       *domain.AccountRef
	Direction      domain.AdjustDirection // adjusted only; defaults to credit
	Amount         int64
	Message        *string
	IdempotencyKey string // optional client token
}

// Authorizer proves the initiating human may move AdCoin before the engine
// touches anything. The engine treats a failure as a terminal rejection.
type Authorizer interface {
	Authorize(ctx context.Context, initiator domain.AccountRef, credential string) error
}

// AuthService handles staff dashboard sessions.
type AuthService interface {
	Login(ctx context.Context, username, password string) (string, time.Time, error) // token, expiry, error
}

// HashService handles password hashing (Argon2id).
type HashService interface {
	Hash(password string) (string, error)
	Verify(password string, hash string) (bool, error)
}

// TokenService handles JWT token operations for dashboard sessions.
type TokenService interface {
	Generate(ref domain.AccountRef) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	Ref domain.AccountRef
}

// IdempotencyCache is the Redis-layer idempotency check (fast path).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached response JSON or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// HistoryService is the read side: ledger pages joined with directory
// entries for display, plus balance and reconciliation queries.
type HistoryService interface {
	History(ctx context.Context, ref domain.AccountRef, params ListParams) ([]HistoryRow, int64, error)
	Balance(ctx context.Context, ref domain.AccountRef) (int64, error)
	Reconcile(ctx context.Context, ref domain.AccountRef) (*ReconcileResult, error)
}

// HistoryRow is one projected ledger row: the transaction plus resolved
// party display data.
type HistoryRow struct {
	Transaction domain.Transaction
	Sender      *PartyInfo
	Receiver    *PartyInfo
}

// PartyInfo is the display projection of one account reference.
type PartyInfo struct {
	Ref      domain.AccountRef `json:"ref"`
	Name     string            `json:"name"`
	PhotoURL *string           `json:"photo_url,omitempty"`
	Level    int               `json:"level"`
}

// ReconcileResult compares the replayed ledger balance with the stored one.
type ReconcileResult struct {
	Stored   int64 `json:"stored"`
	Replayed int64 `json:"replayed"`
	Match    bool  `json:"match"`
}
