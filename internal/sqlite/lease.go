package sqlite

import (
	"context"
	"fmt"
	"time"
)

// Acquire takes the named lease for ttl unless it is held and unexpired.
// The conditional upsert makes concurrent callers agree on one winner.
func (r Repo) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	const q = `INSERT INTO leases (name, held_until) VALUES (?, ?)
	ON CONFLICT(name) DO UPDATE SET held_until = excluded.held_until
	WHERE leases.held_until <= ?;`

	now := r.now()
	res, err := r.db.ExecContext(ctx, q, name, now.Add(ttl).Unix(), now.Unix())
	if err != nil {
		return false, fmt.Errorf("error acquiring lease %s: %w", name, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading affected rows: %w", err)
	}

	return n == 1, nil
}

// HeldUntil reports the expiry of name, or the zero time when it was never
// acquired.
func (r Repo) HeldUntil(ctx context.Context, name string) (time.Time, error) {
	var until []int64
	if err := r.db.SelectContext(ctx, &until, `SELECT held_until FROM leases WHERE name = ?;`, name); err != nil {
		return time.Time{}, fmt.Errorf("error fetching lease %s: %w", name, err)
	}
	if len(until) == 0 {
		return time.Time{}, nil
	}
	return time.Unix(until[0], 0), nil
}
