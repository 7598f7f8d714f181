package store

import (
	"context"

	"github.com/credexnet/credex/internal/ledger"
)

// CreateLoopAnchor records one completed netting event with its members in
// loop order. Loop anchors are immutable once written; only the daily
// rebase rescales their amounts.
func (q queries) CreateLoopAnchor(ctx context.Context, a *ledger.LoopAnchor) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO loop_anchors (id, day_id, amount, created_at) VALUES (?, ?, ?, ?)
	`, a.ID, a.DayID, a.Amount.String(), fmtTime(a.CreatedAt))
	if err != nil {
		return ledger.Wrap(ledger.CodeGraphInconsistency, err, "create loop anchor %s", a.ID)
	}
	for _, m := range a.Members {
		if _, err := q.db.ExecContext(ctx, `
			INSERT INTO loop_anchor_members (anchor_id, credex_id, position, redeemed, outstanding_after)
			VALUES (?, ?, ?, ?, ?)
		`, a.ID, m.CredexID, m.Position, m.Redeemed.String(), m.OutstandingAfter.String()); err != nil {
			return ledger.Wrap(ledger.CodeGraphInconsistency, err, "record loop member %s", m.CredexID)
		}
	}
	return nil
}

// GetLoopAnchor fetches a netting record with members in loop order.
func (q queries) GetLoopAnchor(ctx context.Context, id string) (*ledger.LoopAnchor, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT id, day_id, amount, created_at FROM loop_anchors WHERE id = ?`, id)

	var (
		a               ledger.LoopAnchor
		amount, created string
	)
	if err := row.Scan(&a.ID, &a.DayID, &amount, &created); err != nil {
		return nil, ledger.Wrap(ledger.CodeNotFound, err, "loop anchor %s", id)
	}
	var err error
	if a.Amount, err = parseDec(amount); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT credex_id, position, redeemed, outstanding_after
		FROM loop_anchor_members WHERE anchor_id = ? ORDER BY position ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			m             ledger.LoopMember
			redeemed, out string
		)
		if err := rows.Scan(&m.CredexID, &m.Position, &redeemed, &out); err != nil {
			return nil, err
		}
		if m.Redeemed, err = parseDec(redeemed); err != nil {
			return nil, err
		}
		if m.OutstandingAfter, err = parseDec(out); err != nil {
			return nil, err
		}
		a.Members = append(a.Members, m)
	}
	return &a, rows.Err()
}

// LoopAnchorIDs lists all netting records, oldest first.
func (q queries) LoopAnchorIDs(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id FROM loop_anchors ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountLoopAnchors returns the total number of netting records.
func (q queries) CountLoopAnchors(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM loop_anchors`).Scan(&n)
	return n, err
}
