package store

import (
	"context"
	"fmt"
	"time"
)

// Rebuild locks are advisory: at most one rebuild per user runs at a time.
// The lock row is claimed on pipeline entry and released on completion or
// failure. Locks older than lockStaleAfter are presumed orphaned by a crashed
// process and may be stolen.

const lockStaleAfter = 10 * time.Minute

// AcquireRebuildLock tries to claim the per-user rebuild lock. Returns true
// when this rebuild holds the lock. A fresh lock held by another rebuild
// returns false; a stale one is stolen.
func (s *Store) AcquireRebuildLock(ctx context.Context, userID, rebuildID string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO rebuild_locks (user_id, rebuild_id, acquired_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET rebuild_id = excluded.rebuild_id, acquired_at = excluded.acquired_at
		WHERE rebuild_locks.acquired_at < ?`,
		userID, rebuildID, storeTime(now), storeTime(now.Add(-lockStaleAfter)))
	if err != nil {
		return false, fmt.Errorf("acquire rebuild lock for %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire rebuild lock for %s: rows affected: %w", userID, err)
	}
	return n > 0, nil
}

// ReleaseRebuildLock drops the lock if this rebuild still holds it.
func (s *Store) ReleaseRebuildLock(ctx context.Context, userID, rebuildID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM rebuild_locks WHERE user_id = ? AND rebuild_id = ?`, userID, rebuildID)
	if err != nil {
		return fmt.Errorf("release rebuild lock for %s: %w", userID, err)
	}
	return nil
}
