package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/qzwhatnext/qzwhatnext/internal/model"
)

// CreateToken stores an automation token record. Only the hash and display
// prefix land in the database; the raw token never reaches this layer.
func (s *Store) CreateToken(ctx context.Context, t model.AutomationToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO automation_tokens (id, user_id, token_hash, prefix, label, created_at, revoked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.TokenHash, t.Prefix, t.Label,
		storeTime(t.CreatedAt), storeTime(t.RevokedAt))
	if err != nil {
		return fmt.Errorf("create token %s: %w", t.ID, err)
	}
	return nil
}

// TokenByHash looks up an active token by its hash. Revoked tokens are
// invisible here; revocation is how automation access dies.
func (s *Store) TokenByHash(ctx context.Context, hash string) (model.AutomationToken, error) {
	var t model.AutomationToken
	var createdAt, revokedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, prefix, label, created_at, revoked_at
		FROM automation_tokens WHERE token_hash = ? AND revoked_at = ''`, hash).
		Scan(&t.ID, &t.UserID, &t.TokenHash, &t.Prefix, &t.Label, &createdAt, &revokedAt)
	if err == sql.ErrNoRows {
		return model.AutomationToken{}, &ConstraintError{Code: ConstraintNotFound,
			Message: "token not found or revoked"}
	}
	if err != nil {
		return model.AutomationToken{}, fmt.Errorf("token by hash: %w", err)
	}
	if t.CreatedAt, err = readTime(createdAt); err != nil {
		return model.AutomationToken{}, err
	}
	if t.RevokedAt, err = readTime(revokedAt); err != nil {
		return model.AutomationToken{}, err
	}
	return t, nil
}

// ListTokens returns the owner's tokens, including revoked ones.
func (s *Store) ListTokens(ctx context.Context, userID string) ([]model.AutomationToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, token_hash, prefix, label, created_at, revoked_at
		FROM automation_tokens WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var out []model.AutomationToken
	for rows.Next() {
		var t model.AutomationToken
		var createdAt, revokedAt string
		if err := rows.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.Prefix, &t.Label,
			&createdAt, &revokedAt); err != nil {
			return nil, fmt.Errorf("list tokens: %w", err)
		}
		if t.CreatedAt, err = readTime(createdAt); err != nil {
			return nil, err
		}
		if t.RevokedAt, err = readTime(revokedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RevokeToken sets the revocation marker. Idempotent.
func (s *Store) RevokeToken(ctx context.Context, userID, tokenID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE automation_tokens SET revoked_at = ?
		WHERE id = ? AND user_id = ? AND revoked_at = ''`,
		storeTime(now), tokenID, userID)
	if err != nil {
		return fmt.Errorf("revoke token %s: %w", tokenID, err)
	}
	if _, err := res.RowsAffected(); err != nil {
		return err
	}
	return nil
}
