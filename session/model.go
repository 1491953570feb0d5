package session

import "time"

// RefreshToken is the persisted side of an opaque refresh token.
type RefreshToken struct {
	ID        string
	UserID    string
	FamilyID  string
	TokenHash string

	CreatedAt  time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	ReplacedBy string
}

// Revoked reports whether the token has been revoked.
func (t *RefreshToken) Revoked() bool {
	return t.RevokedAt != nil
}

// Expired reports whether now is at or past the token expiry.
func (t *RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
