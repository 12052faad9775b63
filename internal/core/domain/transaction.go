package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType classifies a committed AdCoin movement.
type TransactionType string

const (
	TypeTransfer      TransactionType = "transfer"
	TypeEarned        TransactionType = "earned"
	TypeSpent         TransactionType = "spent"
	TypeAdjusted      TransactionType = "adjusted"
	TypeRefunded      TransactionType = "refunded"
	TypeMissionReward TransactionType = "mission_reward"
	TypeTeacherAward  TransactionType = "teacher_award"
	TypeItemPurchase  TransactionType = "item_purchase"
)

// TransactionStatus is the persisted state of a ledger row. Committed is the
// only status that ever reaches storage; rejected requests leave no row.
type TransactionStatus string

const StatusCommitted TransactionStatus = "committed"

// AdjustDirection gives the sign of an administrative adjustment.
type AdjustDirection string

const (
	AdjustCredit AdjustDirection = "credit"
	AdjustDebit  AdjustDirection = "debit"
)

// LegPolicy says which parties a transaction type touches.
type LegPolicy struct {
	DebitsSender    bool
	CreditsReceiver bool
}

// PolicyFor returns the debit/credit policy for a transaction type.
// Adjusted is direction-dependent and resolved by the engine, so it reports
// ok=false here alongside unknown types.
func PolicyFor(t TransactionType) (LegPolicy, bool) {
	switch t {
	case TypeTransfer:
		return LegPolicy{DebitsSender: true, CreditsReceiver: true}, true
	case TypeEarned, TypeRefunded, TypeMissionReward, TypeTeacherAward:
		return LegPolicy{CreditsReceiver: true}, true
	case TypeSpent, TypeItemPurchase:
		return LegPolicy{DebitsSender: true}, true
	}
	return LegPolicy{}, false
}

// Transaction is an immutable ledger row recording one committed
// balance-affecting event. Seq is the storage-assigned total order.
type Transaction struct {
	ID        uuid.UUID         `json:"id"`
	Seq       int64             `json:"seq"`
	Type      TransactionType   `json:"type"`
	Sender    *AccountRef       `json:"sender,omitempty"`
	Receiver  *AccountRef       `json:"receiver,omitempty"`
	Amount    int64             `json:"amount"`
	Message   *string           `json:"message,omitempty"`
	Status    TransactionStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
}
