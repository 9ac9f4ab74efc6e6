package model

import "time"

// AutomationToken is a long-lived credential for automation clients that
// cannot run an interactive auth flow. Only the HMAC hash and a
// non-sensitive display prefix are ever stored; the raw token is handed to
// the user exactly once at creation and never seen again - the engine
// operates purely on hashes.
type AutomationToken struct {
	ID     string
	UserID string

	// TokenHash is the HMAC-SHA256 of the raw token, hex encoded.
	TokenHash string

	// Prefix is the first few characters of the raw token, kept so users can
	// tell their tokens apart in listings.
	Prefix string

	Label string

	CreatedAt time.Time
	// RevokedAt is the revocation marker; zero means active.
	RevokedAt time.Time
}

// Revoked reports whether the token has been revoked.
func (t *AutomationToken) Revoked() bool { return !t.RevokedAt.IsZero() }
