package dto

import (
	"time"

	"adcoin-ledger/internal/core/domain"
	"adcoin-ledger/internal/core/ports"
)

// PartyRef identifies one account in a request body.
type PartyRef struct {
	Kind string `json:"kind" binding:"required,oneof=student staff"`
	ID   string `json:"id" binding:"required,safe_id,max=64"`
}

// Ref converts the DTO to a domain ref. The kind has already passed binding.
func (p *PartyRef) Ref() *domain.AccountRef {
	if p == nil {
		return nil
	}
	return &domain.AccountRef{Kind: domain.AccountKind(p.Kind), ID: p.ID}
}

// LoginRequest is the request body for staff dashboard login.
type LoginRequest struct {
	Username string `json:"username" binding:"required,safe_id,max=50"`
	Password string `json:"password" binding:"required,min=4,max=128" sanitize:"-"`
}

// LoginResponse is the response body for successful login.
type LoginResponse struct {
	Token  string `json:"token"`
	Expiry int64  `json:"expiry"` // Unix timestamp
}

// TransferRequest is the request body for submitting an AdCoin movement.
// The collecting UI always posts both parties; the engine drops the side the
// transaction type does not touch.
type TransferRequest struct {
	Initiator      PartyRef  `json:"initiator" binding:"required"`
	Credential     string    `json:"credential" binding:"required,max=128" sanitize:"-"`
	Type           string    `json:"type" binding:"required,oneof=transfer earned spent adjusted refunded mission_reward teacher_award item_purchase"`
	Sender         *PartyRef `json:"sender,omitempty"`
	Receiver       *PartyRef `json:"receiver,omitempty"`
	Direction      string    `json:"direction,omitempty" binding:"omitempty,oneof=credit debit"`
	Amount         int64     `json:"amount" binding:"required,gt=0"`
	Message        *string   `json:"message,omitempty" binding:"omitempty,max=500"`
	IdempotencyKey string    `json:"idempotency_key,omitempty" binding:"omitempty,safe_id,max=100"`
}

// PartyResponse is one account reference in a response body.
type PartyResponse struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// TransactionResponse is the response body for a committed transaction.
type TransactionResponse struct {
	ID        string         `json:"id"`
	Seq       int64          `json:"seq"`
	Type      string         `json:"type"`
	Sender    *PartyResponse `json:"sender,omitempty"`
	Receiver  *PartyResponse `json:"receiver,omitempty"`
	Amount    int64          `json:"amount"`
	Message   *string        `json:"message,omitempty"`
	Status    string         `json:"status"`
	CreatedAt string         `json:"created_at"`
}

// NewTransactionResponse maps a domain transaction to its wire form.
func NewTransactionResponse(t *domain.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:        t.ID.String(),
		Seq:       t.Seq,
		Type:      string(t.Type),
		Sender:    newPartyResponse(t.Sender),
		Receiver:  newPartyResponse(t.Receiver),
		Amount:    t.Amount,
		Message:   t.Message,
		Status:    string(t.Status),
		CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func newPartyResponse(ref *domain.AccountRef) *PartyResponse {
	if ref == nil {
		return nil
	}
	return &PartyResponse{Kind: string(ref.Kind), ID: ref.ID}
}

// PartyInfoResponse is a party resolved against the participant directory.
type PartyInfoResponse struct {
	Kind     string  `json:"kind"`
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	PhotoURL *string `json:"photo_url,omitempty"`
	Level    int     `json:"level"`
}

// HistoryItemResponse is one projected history row.
type HistoryItemResponse struct {
	Transaction TransactionResponse `json:"transaction"`
	Sender      *PartyInfoResponse  `json:"sender,omitempty"`
	Receiver    *PartyInfoResponse  `json:"receiver,omitempty"`
}

// NewHistoryItemResponse maps a projected row to its wire form.
func NewHistoryItemResponse(row ports.HistoryRow) HistoryItemResponse {
	return HistoryItemResponse{
		Transaction: NewTransactionResponse(&row.Transaction),
		Sender:      newPartyInfoResponse(row.Sender),
		Receiver:    newPartyInfoResponse(row.Receiver),
	}
}

func newPartyInfoResponse(info *ports.PartyInfo) *PartyInfoResponse {
	if info == nil {
		return nil
	}
	return &PartyInfoResponse{
		Kind:     string(info.Ref.Kind),
		ID:       info.Ref.ID,
		Name:     info.Name,
		PhotoURL: info.PhotoURL,
		Level:    info.Level,
	}
}

// TransactionListResponse wraps a paginated history page.
type TransactionListResponse struct {
	Items      []HistoryItemResponse `json:"items"`
	Total      int64                 `json:"total"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"page_size"`
	TotalPages int                   `json:"total_pages"`
}

// BalanceResponse is the response for a balance query.
type BalanceResponse struct {
	Kind    string `json:"kind"`
	ID      string `json:"id"`
	Balance int64  `json:"balance"`
}

// ReconcileResponse compares the replayed ledger fold with the stored balance.
type ReconcileResponse struct {
	Stored   int64 `json:"stored"`
	Replayed int64 `json:"replayed"`
	Match    bool  `json:"match"`
}
