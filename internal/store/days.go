package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/credexnet/credex/internal/ledger"
)

// ActiveDay returns the single active day record with its rate table.
// A ledger with no active day is inconsistent; every operation that needs
// rates or run coordination fails fast on it.
func (q queries) ActiveDay(ctx context.Context) (*ledger.Day, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT id, date, rebasing_ratio, prev_id, active FROM days WHERE active = 1`)
	d, err := scanDay(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.E(ledger.CodeGraphInconsistency, "no active day record")
	}
	if err != nil {
		return nil, err
	}
	if d.Rates, err = q.dayRates(ctx, d.ID); err != nil {
		return nil, err
	}
	return d, nil
}

// AppendDay inserts a new day record with its rate table and flips the
// active pointer from the previous record, preserving the chain link.
func (q queries) AppendDay(ctx context.Context, d *ledger.Day) error {
	if _, err := q.db.ExecContext(ctx, `UPDATE days SET active = 0 WHERE active = 1`); err != nil {
		return err
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO days (id, date, rebasing_ratio, prev_id, active) VALUES (?, ?, ?, ?, 1)
	`, d.ID, fmtDate(d.Date), d.RebasingRatio.String(), nullStr(d.PrevID))
	if err != nil {
		return ledger.Wrap(ledger.CodeGraphInconsistency, err, "append day %s", fmtDate(d.Date))
	}
	for code, rate := range d.Rates {
		if _, err := q.db.ExecContext(ctx,
			`INSERT INTO day_rates (day_id, code, rate) VALUES (?, ?, ?)`,
			d.ID, code, rate.String()); err != nil {
			return ledger.Wrap(ledger.CodeGraphInconsistency, err, "store rate %s for day %s", code, fmtDate(d.Date))
		}
	}
	return nil
}

func (q queries) dayRates(ctx context.Context, dayID string) (map[string]decimal.Decimal, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT code, rate FROM day_rates WHERE day_id = ?`, dayID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var code, rate string
		if err := rows.Scan(&code, &rate); err != nil {
			return nil, err
		}
		if out[code], err = parseDec(rate); err != nil {
			return nil, err
		}
	}
	return out, rows.Err()
}

func scanDay(scan func(dest ...any) error) (*ledger.Day, error) {
	var (
		d      ledger.Day
		date   string
		ratio  string
		prevID sql.NullString
		active int
	)
	if err := scan(&d.ID, &date, &ratio, &prevID, &active); err != nil {
		return nil, err
	}
	var err error
	if d.Date, err = parseDate(date); err != nil {
		return nil, err
	}
	if d.RebasingRatio, err = parseDec(ratio); err != nil {
		return nil, err
	}
	if prevID.Valid {
		d.PrevID = prevID.String
	}
	d.Active = active == 1
	return &d, nil
}
