package pg

import (
	"context"
	"time"
)

// Acquire bumps the platform's shared window counter in one round trip. The
// upsert rolls the window over when it has elapsed; over-capacity acquisitions
// are decremented back so rejected calls don't burn the window.
func (s *Store) Acquire(ctx context.Context, platform string, window time.Duration, capacity int, now time.Time) (bool, int, error) {
	expiredBefore := now.Add(-window)

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return false, 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var count int
	row := tx.QueryRow(ctx, `
		INSERT INTO rate_windows (platform, window_start, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (platform) DO UPDATE SET
			count        = CASE WHEN rate_windows.window_start <= $3 THEN 1 ELSE rate_windows.count + 1 END,
			window_start = CASE WHEN rate_windows.window_start <= $3 THEN $2 ELSE rate_windows.window_start END
		RETURNING count
	`, platform, now, expiredBefore)
	if err := row.Scan(&count); err != nil {
		return false, 0, err
	}

	if count > capacity {
		if _, err := tx.Exec(ctx, `
			UPDATE rate_windows SET count = count - 1 WHERE platform=$1
		`, platform); err != nil {
			return false, 0, err
		}
		if err := tx.Commit(ctx); err != nil {
			return false, 0, err
		}
		return false, count - 1, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return false, 0, err
	}
	return true, count, nil
}
