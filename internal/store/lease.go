package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Scheduler leases. The minute queue and the daily rebase coordinate
// through named leases with an owner token and an expiry instead of raw
// run-flags: a crashed holder cannot wedge the system because an expired
// lease is stealable by the next acquirer.

const (
	// LeaseQueue guards the minute queue processor.
	LeaseQueue = "minute-queue"
	// LeaseRebase guards the daily rebase pass.
	LeaseRebase = "daily-rebase"
)

// AcquireLease attempts to take a named lease for owner until now+ttl.
// Returns true on success. Acquisition succeeds when the lease is absent,
// expired, or already held by the same owner (renewal).
func (s *Store) AcquireLease(ctx context.Context, name, owner string, ttl time.Duration, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO leases (name, owner, acquired_at, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			owner = excluded.owner,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		WHERE leases.owner = excluded.owner OR leases.expires_at <= ?
	`, name, owner, fmtTime(now), fmtTime(now.Add(ttl)), fmtTime(now))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ReleaseLease drops a lease if still held by owner. Releasing a lease that
// expired and was stolen is a no-op, never an error (guaranteed-release
// discipline must not fail late).
func (s *Store) ReleaseLease(ctx context.Context, name, owner string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM leases WHERE name = ? AND owner = ?`, name, owner)
	return err
}

// LeaseHeld reports whether a live (unexpired) lease exists for name.
func (s *Store) LeaseHeld(ctx context.Context, name string, now time.Time) (bool, error) {
	var expires string
	err := s.db.QueryRowContext(ctx,
		`SELECT expires_at FROM leases WHERE name = ?`, name).Scan(&expires)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	exp, err := parseTime(expires)
	if err != nil {
		return false, err
	}
	return exp.After(now), nil
}
