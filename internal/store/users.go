package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/qzwhatnext/qzwhatnext/internal/model"
)

// CreateUser inserts a user row. Idempotent on ID.
func (s *Store) CreateUser(ctx context.Context, u model.User) error {
	if err := u.Validate(); err != nil {
		return &ConstraintError{Code: ConstraintInvalidField, Message: err.Error(), EntityID: u.ID}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, timezone, horizon_days, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		u.ID, u.Email, u.Name, u.Timezone, horizonOrDefault(u.HorizonDays),
		storeTime(u.CreatedAt), storeTime(u.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create user %s: %w", u.ID, err)
	}
	return nil
}

// GetUser returns the user by ID.
func (s *Store) GetUser(ctx context.Context, userID string) (model.User, error) {
	var u model.User
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, timezone, horizon_days, created_at, updated_at
		FROM users WHERE id = ?`, userID).
		Scan(&u.ID, &u.Email, &u.Name, &u.Timezone, &u.HorizonDays, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return model.User{}, &ConstraintError{Code: ConstraintNotFound,
			Message: "user not found", EntityID: userID}
	}
	if err != nil {
		return model.User{}, fmt.Errorf("get user %s: %w", userID, err)
	}
	if u.CreatedAt, err = readTime(createdAt); err != nil {
		return model.User{}, err
	}
	if u.UpdatedAt, err = readTime(updatedAt); err != nil {
		return model.User{}, err
	}
	return u, nil
}

// UpdateUser rewrites the mutable user fields.
func (s *Store) UpdateUser(ctx context.Context, u model.User) error {
	if err := u.Validate(); err != nil {
		return &ConstraintError{Code: ConstraintInvalidField, Message: err.Error(), EntityID: u.ID}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET email = ?, name = ?, timezone = ?, horizon_days = ?, updated_at = ?
		WHERE id = ?`,
		u.Email, u.Name, u.Timezone, horizonOrDefault(u.HorizonDays), storeTime(u.UpdatedAt), u.ID)
	if err != nil {
		return fmt.Errorf("update user %s: %w", u.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &ConstraintError{Code: ConstraintNotFound, Message: "user not found", EntityID: u.ID}
	}
	return nil
}

// ListUsers returns every user, for the daemon's periodic sweep.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, name, timezone, horizon_days, created_at, updated_at
		FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		var u model.User
		var createdAt, updatedAt string
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.Timezone, &u.HorizonDays,
			&createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		if u.CreatedAt, err = readTime(createdAt); err != nil {
			return nil, err
		}
		if u.UpdatedAt, err = readTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func horizonOrDefault(days int) int {
	if model.ValidHorizon(days) {
		return days
	}
	return 7
}
