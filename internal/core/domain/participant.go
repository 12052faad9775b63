package domain

import "time"

// Participant is the directory entry behind an account: the person whose
// name, photo and level the display side joins onto ledger rows. Staff
// participants additionally carry a username and password hash for the
// authorization gate.
type Participant struct {
	Ref          AccountRef `json:"ref"`
	Name         string     `json:"name"`
	PhotoURL     *string    `json:"photo_url,omitempty"`
	Level        int        `json:"level"`
	Username     *string    `json:"-"`
	PasswordHash string     `json:"-"` // argon2id, never exposed
	CreatedAt    time.Time  `json:"created_at"`
}
