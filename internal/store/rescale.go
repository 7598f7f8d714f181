package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/credexnet/credex/internal/ledger"
)

// RescaleParams carries the outcome of a daily offering revaluation.
type RescaleParams struct {
	// Ratio is the rebasing ratio: how many of yesterday's internal units
	// equal one of today's.
	Ratio decimal.Decimal
	// NewRates prices every denomination in the new internal unit.
	NewRates map[string]decimal.Decimal
	// InternalUnit is the code whose instruments rescale by Ratio
	// (everything else is recomputed from its native amount at NewRates).
	InternalUnit string
}

// RescaleLedger rewrites every credex's five amount fields and multiplier,
// every loop-anchor audit amount, and the cycle-index outstanding mirrors
// under the new unit definition.
//
// Internal-unit instruments divide by the ratio (value preserved across the
// unit redefinition); foreign-denominated instruments are recomputed from
// their native amount at the denomination's new rate (real-world value
// preserved). Callers run this inside InTx: the rescale is all-or-nothing,
// no partial rescale may be left visible.
func (q queries) RescaleLedger(ctx context.Context, p RescaleParams) error {
	if !p.Ratio.IsPositive() {
		return ledger.E(ledger.CodeValidation, "rebasing ratio %s is not positive", p.Ratio)
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, denom, multiplier, initial, outstanding, redeemed, defaulted, written_off
		FROM credexes
	`)
	if err != nil {
		return err
	}

	type update struct {
		id     string
		mult   decimal.Decimal
		fields [5]decimal.Decimal
	}
	var updates []update

	for rows.Next() {
		var (
			id, code, mult string
			raw            [5]string
		)
		if err := rows.Scan(&id, &code, &mult, &raw[0], &raw[1], &raw[2], &raw[3], &raw[4]); err != nil {
			rows.Close()
			return err
		}

		oldMult, err := parseDec(mult)
		if err != nil {
			rows.Close()
			return err
		}
		var fields [5]decimal.Decimal
		for i, s := range raw {
			if fields[i], err = parseDec(s); err != nil {
				rows.Close()
				return err
			}
		}

		u := update{id: id}
		if code == p.InternalUnit {
			u.mult = decimal.NewFromInt(1)
			for i := range fields {
				u.fields[i] = fields[i].Div(p.Ratio)
			}
		} else {
			newRate, ok := p.NewRates[code]
			if !ok || !newRate.IsPositive() {
				rows.Close()
				return ledger.E(ledger.CodeRateFailure, "no new rate for denomination %s during rescale", code)
			}
			if oldMult.IsZero() {
				rows.Close()
				return ledger.E(ledger.CodeGraphInconsistency, "credex %s has a zero multiplier", id)
			}
			u.mult = newRate
			for i := range fields {
				// native value, repriced at the new rate
				u.fields[i] = fields[i].Div(oldMult).Mul(newRate)
			}
		}
		updates = append(updates, u)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, u := range updates {
		if _, err := q.db.ExecContext(ctx, `
			UPDATE credexes SET multiplier = ?, initial = ?, outstanding = ?, redeemed = ?, defaulted = ?, written_off = ?
			WHERE id = ?
		`, u.mult.String(), u.fields[0].String(), u.fields[1].String(),
			u.fields[2].String(), u.fields[3].String(), u.fields[4].String(), u.id); err != nil {
			return err
		}
		// Keep the cycle-index mirror consistent with the ledger row.
		if _, err := q.db.ExecContext(ctx,
			`UPDATE anchor_credexes SET outstanding = ? WHERE credex_id = ?`,
			u.fields[1].String(), u.id); err != nil {
			return err
		}
	}

	// Loop-anchor audit amounts are internal-unit denominated throughout.
	if err := q.rescaleByRatio(ctx, `loop_anchors`, []string{"amount"}, p.Ratio); err != nil {
		return err
	}
	return q.rescaleByRatio(ctx, `loop_anchor_members`, []string{"redeemed", "outstanding_after"}, p.Ratio)
}

func (q queries) rescaleByRatio(ctx context.Context, table string, cols []string, ratio decimal.Decimal) error {
	// Row counts here are bounded by netting history; read-modify-write in
	// Go keeps decimal arithmetic exact instead of trusting SQLite floats.
	rows, err := q.db.QueryContext(ctx, `SELECT rowid, `+joinCols(cols)+` FROM `+table)
	if err != nil {
		return err
	}

	type rowUpdate struct {
		rowid int64
		vals  []decimal.Decimal
	}
	var updates []rowUpdate
	for rows.Next() {
		dest := make([]any, len(cols)+1)
		var rowid int64
		raw := make([]string, len(cols))
		dest[0] = &rowid
		for i := range raw {
			dest[i+1] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			rows.Close()
			return err
		}
		u := rowUpdate{rowid: rowid, vals: make([]decimal.Decimal, len(cols))}
		for i, s := range raw {
			d, err := parseDec(s)
			if err != nil {
				rows.Close()
				return err
			}
			u.vals[i] = d.Div(ratio)
		}
		updates = append(updates, u)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, u := range updates {
		args := make([]any, 0, len(cols)+1)
		set := ""
		for i, c := range cols {
			if i > 0 {
				set += ", "
			}
			set += c + " = ?"
			args = append(args, u.vals[i].String())
		}
		args = append(args, u.rowid)
		if _, err := q.db.ExecContext(ctx, `UPDATE `+table+` SET `+set+` WHERE rowid = ?`, args...); err != nil {
			return err
		}
	}
	return nil
}

func joinCols(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}
