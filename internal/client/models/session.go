package models

import "time"

// Session is the authenticated principal context. Tokens travel with it so
// a restored session can keep talking to the remote store.
type Session struct {
	UserID       string    `json:"user_id"`
	ExpiresAt    time.Time `json:"expires_at"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
}

// Expired reports whether the session is no longer usable at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}
