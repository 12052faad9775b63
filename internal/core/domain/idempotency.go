package domain

import (
	"time"

	"github.com/google/uuid"
)

// IdempotencyRecord binds a client key to a committed transaction so a
// retried submission returns the original result instead of re-applying it.
type IdempotencyRecord struct {
	Key           string    `json:"key"` // Format: "initiator_key:client_key"
	TransactionID uuid.UUID `json:"transaction_id"`
	ResponseJSON  []byte    `json:"response_json"` // Cached response to return
	CreatedAt     time.Time `json:"created_at"`
}

// BuildIdempotencyKey scopes a client-supplied key to its initiator so two
// participants reusing the same key cannot collide.
func BuildIdempotencyKey(initiator AccountRef, clientKey string) string {
	return initiator.Key() + ":" + clientKey
}
