package domain

import (
	"fmt"
	"time"
)

// AccountKind distinguishes the two participant populations that hold AdCoin.
type AccountKind string

const (
	KindStudent AccountKind = "student"
	KindStaff   AccountKind = "staff"
)

// ParseAccountKind validates a kind string from the outside world.
func ParseAccountKind(s string) (AccountKind, error) {
	switch AccountKind(s) {
	case KindStudent:
		return KindStudent, nil
	case KindStaff:
		return KindStaff, nil
	}
	return "", fmt.Errorf("unknown account kind: %q", s)
}

// AccountRef is a tagged reference to a participant's account,
// globally unique per (kind, id) pair.
type AccountRef struct {
	Kind AccountKind `json:"kind"`
	ID   string      `json:"id"`
}

// Key returns the canonical "kind:id" form. Its lexicographic order is the
// fixed touch order the transfer engine uses when updating multiple accounts.
func (r AccountRef) Key() string {
	return string(r.Kind) + ":" + r.ID
}

// Less reports whether r sorts before other in canonical order.
func (r AccountRef) Less(other AccountRef) bool {
	return r.Key() < other.Key()
}

// Account is a participant's current AdCoin balance record.
// Balance never goes below zero; Version is the optimistic concurrency token
// checked by every conditional update.
type Account struct {
	Ref       AccountRef `json:"ref"`
	Balance   int64      `json:"balance"`
	Version   int64      `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
