package models

import "time"

// RefreshToken is a stored refresh grant. Only the hash of the opaque token
// handed to the client is persisted.
type RefreshToken struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

func (t *RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
