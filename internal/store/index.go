package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/credexnet/credex/internal/ledger"
)

// Cycle-index operations. The index mirrors only what cycle search needs:
// one anchor per (issuer, acceptor, category) plus a per-credex row carrying
// the effective due date and a mirror of outstanding.

// IndexedCredex is one member of a search anchor.
type IndexedCredex struct {
	CredexID    string
	AnchorID    string
	DueDate     time.Time
	Outstanding decimal.Decimal
}

// InIndex reports whether a credex is already attached to an anchor.
// Re-insertion of an indexed credex is the ALREADY_PROCESSED case.
func (q queries) InIndex(ctx context.Context, credexID string) (bool, error) {
	var one int
	err := q.db.QueryRowContext(ctx,
		`SELECT 1 FROM anchor_credexes WHERE credex_id = ?`, credexID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// GetOrCreateAnchor returns the anchor for (issuer, acceptor, category),
// creating it with the given earliest-due seed if absent. The UNIQUE
// constraint on the tuple makes creation race-free; ON CONFLICT leaves an
// existing anchor untouched.
func (q queries) GetOrCreateAnchor(ctx context.Context, issuerID, acceptorID string, cat ledger.Category, due time.Time) (*ledger.SearchAnchor, error) {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO search_anchors (id, issuer_id, acceptor_id, category, earliest_due)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(issuer_id, acceptor_id, category) DO NOTHING
	`, uuid.NewString(), issuerID, acceptorID, cat.String(), fmtDate(due))
	if err != nil {
		return nil, err
	}

	row := q.db.QueryRowContext(ctx, `
		SELECT id, issuer_id, acceptor_id, category, earliest_due FROM search_anchors
		WHERE issuer_id = ? AND acceptor_id = ? AND category = ?
	`, issuerID, acceptorID, cat.String())
	return scanAnchor(row.Scan)
}

// AttachCredex adds a credex to an anchor and pulls the anchor's cached
// earliest due date forward if this credex matures sooner.
func (q queries) AttachCredex(ctx context.Context, anchorID, credexID string, due time.Time, outstanding decimal.Decimal) error {
	if _, err := q.db.ExecContext(ctx, `
		INSERT INTO anchor_credexes (credex_id, anchor_id, due_date, outstanding)
		VALUES (?, ?, ?, ?)
	`, credexID, anchorID, fmtDate(due), outstanding.String()); err != nil {
		return ledger.Wrap(ledger.CodeGraphInconsistency, err, "attach credex %s to anchor %s", credexID, anchorID)
	}
	_, err := q.db.ExecContext(ctx, `
		UPDATE search_anchors SET earliest_due = ? WHERE id = ? AND earliest_due > ?
	`, fmtDate(due), anchorID, fmtDate(due))
	return err
}

// DetachCredex removes a fully-redeemed credex from the index. If the
// anchor has no remaining members it is deleted; otherwise its cached
// earliest due date is recomputed from the survivors.
func (q queries) DetachCredex(ctx context.Context, anchorID, credexID string) error {
	if _, err := q.db.ExecContext(ctx,
		`DELETE FROM anchor_credexes WHERE credex_id = ?`, credexID); err != nil {
		return err
	}

	var remaining int
	if err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM anchor_credexes WHERE anchor_id = ?`, anchorID).Scan(&remaining); err != nil {
		return err
	}
	if remaining == 0 {
		_, err := q.db.ExecContext(ctx, `DELETE FROM search_anchors WHERE id = ?`, anchorID)
		return err
	}
	_, err := q.db.ExecContext(ctx, `
		UPDATE search_anchors SET earliest_due =
			(SELECT MIN(due_date) FROM anchor_credexes WHERE anchor_id = ?)
		WHERE id = ?
	`, anchorID, anchorID)
	return err
}

// UpdateIndexedOutstanding refreshes the outstanding mirror on an anchor
// member after a netting subtraction.
func (q queries) UpdateIndexedOutstanding(ctx context.Context, credexID string, outstanding decimal.Decimal) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE anchor_credexes SET outstanding = ? WHERE credex_id = ?`,
		outstanding.String(), credexID)
	return err
}

// AnchorsInCategory returns every anchor of an owing-category; the cycle
// searcher builds its adjacency from these edges.
func (q queries) AnchorsInCategory(ctx context.Context, cat ledger.Category) ([]*ledger.SearchAnchor, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, issuer_id, acceptor_id, category, earliest_due FROM search_anchors
		WHERE category = ? ORDER BY issuer_id, acceptor_id
	`, cat.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ledger.SearchAnchor
	for rows.Next() {
		a, err := scanAnchor(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AnchorMembers lists the indexed credexes attached to an anchor.
func (q queries) AnchorMembers(ctx context.Context, anchorID string) ([]IndexedCredex, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT credex_id, anchor_id, due_date, outstanding FROM anchor_credexes
		WHERE anchor_id = ? ORDER BY due_date ASC, credex_id ASC
	`, anchorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IndexedCredex
	for rows.Next() {
		var (
			m           IndexedCredex
			due, outstd string
		)
		if err := rows.Scan(&m.CredexID, &m.AnchorID, &due, &outstd); err != nil {
			return nil, err
		}
		if m.DueDate, err = parseDate(due); err != nil {
			return nil, err
		}
		if m.Outstanding, err = parseDec(outstd); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanAnchor(scan func(dest ...any) error) (*ledger.SearchAnchor, error) {
	var (
		a        ledger.SearchAnchor
		category string
		due      string
	)
	if err := scan(&a.ID, &a.IssuerID, &a.AcceptorID, &category, &due); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.E(ledger.CodeGraphInconsistency, "search anchor vanished mid-operation")
		}
		return nil, err
	}
	var err error
	if a.Category, err = ledger.ParseCategory(category); err != nil {
		return nil, err
	}
	if a.EarliestDue, err = parseDate(due); err != nil {
		return nil, err
	}
	return &a, nil
}
