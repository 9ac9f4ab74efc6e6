// Package auth manages automation tokens: long-lived credentials for
// clients that cannot run an interactive auth flow (shortcuts, scripts).
//
// The raw token is handed out exactly once at creation. Storage sees only
// an HMAC-SHA256 hash plus a short display prefix; the engine operates
// purely on hashes and never logs a raw token. Session authentication and
// identity-provider verification live outside this module entirely.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/qzwhatnext/qzwhatnext/internal/model"
	"github.com/qzwhatnext/qzwhatnext/internal/store"
)

// prefixLen is how much of the raw token is kept for display, enough to
// tell tokens apart in a listing without weakening them.
const prefixLen = 8

// Tokens issues and verifies automation tokens against the store.
type Tokens struct {
	store  *store.Store
	pepper []byte
	ids    model.IDGenerator
	now    func() time.Time
}

// TokensOption configures a Tokens manager.
type TokensOption func(*Tokens)

// WithIDGenerator overrides ID generation (tests).
func WithIDGenerator(ids model.IDGenerator) TokensOption {
	return func(t *Tokens) { t.ids = ids }
}

// WithNow overrides the time source (tests).
func WithNow(now func() time.Time) TokensOption {
	return func(t *Tokens) { t.now = now }
}

// NewTokens creates a token manager. The pepper is a deployment secret
// mixed into every hash so a copied database alone cannot verify tokens.
func NewTokens(st *store.Store, pepper string, opts ...TokensOption) *Tokens {
	t := &Tokens{
		store:  st,
		pepper: []byte(pepper),
		ids:    model.UUIDv7Generator{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Hash computes the storage hash of a raw token (HMAC-SHA256, hex).
func (t *Tokens) Hash(raw string) string {
	mac := hmac.New(sha256.New, t.pepper)
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// Generate creates a fresh random token. The returned raw string is the
// only copy that will ever exist.
func Generate() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Issue generates a token for the user, stores hash and prefix, and
// returns the raw token once.
func (t *Tokens) Issue(ctx context.Context, userID, label string) (raw string, record model.AutomationToken, err error) {
	raw, err = Generate()
	if err != nil {
		return "", model.AutomationToken{}, err
	}
	record = model.AutomationToken{
		ID:        t.ids.NewID(),
		UserID:    userID,
		TokenHash: t.Hash(raw),
		Prefix:    raw[:prefixLen],
		Label:     label,
		CreatedAt: t.now(),
	}
	if err := t.store.CreateToken(ctx, record); err != nil {
		return "", model.AutomationToken{}, err
	}
	return raw, record, nil
}

// Verify resolves a raw token to its owning user. Revoked and unknown
// tokens fail identically.
func (t *Tokens) Verify(ctx context.Context, raw string) (userID string, err error) {
	hash := t.Hash(raw)
	record, err := t.store.TokenByHash(ctx, hash)
	if err != nil {
		return "", err
	}
	// Constant-time re-check; the lookup already matched, this guards
	// against store-level surprises.
	if subtle.ConstantTimeCompare([]byte(record.TokenHash), []byte(hash)) != 1 {
		return "", &store.ConstraintError{Code: store.ConstraintNotFound, Message: "token not found or revoked"}
	}
	return record.UserID, nil
}

// Revoke marks a token revoked. Automation access dies at the next
// verification.
func (t *Tokens) Revoke(ctx context.Context, userID, tokenID string) error {
	return t.store.RevokeToken(ctx, userID, tokenID, t.now())
}
