package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/credexnet/credex/internal/ledger"
)

// CreateCredex inserts a new credex row.
func (q queries) CreateCredex(ctx context.Context, c *ledger.Credex) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO credexes
		(id, issuer_id, acceptor_id, denom, multiplier,
		 initial, outstanding, redeemed, defaulted, written_off,
		 type, status, queue_status, secured, securer_id, due_date, created_at, accepted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.IssuerID, c.AcceptorID, c.Denom, c.Multiplier.String(),
		c.Initial.String(), c.Outstanding.String(), c.Redeemed.String(),
		c.Defaulted.String(), c.WrittenOff.String(),
		c.Type, c.Status, c.QueueStatus,
		boolInt(c.Secured), nullStr(c.SecurerID), nullDate(c.DueDate),
		fmtTime(c.CreatedAt), nullTime(c.AcceptedAt),
	)
	if err != nil {
		return ledger.Wrap(ledger.CodeValidation, err, "create credex %s", c.ID)
	}
	return nil
}

// GetCredex fetches a credex by id.
func (q queries) GetCredex(ctx context.Context, id string) (*ledger.Credex, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+credexColumns+` FROM credexes WHERE id = ?`, id)
	c, err := scanCredex(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.E(ledger.CodeNotFound, "credex %s not found", id)
	}
	return c, err
}

// AcceptCredex transitions a pending credex to OWES, stamping acceptance
// time and marking it pending for queue admission. The WHERE clause
// enforces the state machine: only OFFERED/REQUESTED rows transition.
func (q queries) AcceptCredex(ctx context.Context, id string, at time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE credexes SET status = ?, queue_status = ?, accepted_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, ledger.StatusOwes, ledger.QueuePending, fmtTime(at),
		id, ledger.StatusOffered, ledger.StatusRequested)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.E(ledger.CodeNotFound, "credex %s is not pending acceptance", id)
	}
	return nil
}

// TerminateCredex moves a still-pending credex to a terminal status
// (CANCELLED, DECLINED or EXPIRED), forcing outstanding to zero.
func (q queries) TerminateCredex(ctx context.Context, id string, to ledger.CredexStatus) error {
	if to != ledger.StatusCancelled && to != ledger.StatusDeclined && to != ledger.StatusExpired {
		return ledger.E(ledger.CodeValidation, "%s is not a terminal pending status", to)
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE credexes SET status = ?, outstanding = '0'
		WHERE id = ? AND status IN (?, ?) AND queue_status = ?
	`, to, id, ledger.StatusOffered, ledger.StatusRequested, ledger.QueuePending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.E(ledger.CodeNotFound, "credex %s is not pending or already queue-processed", id)
	}
	return nil
}

// PendingCredexes lists accepted-but-unprocessed credexes in acceptance
// order (deterministic FIFO for the queue processor).
func (q queries) PendingCredexes(ctx context.Context) ([]*ledger.Credex, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+credexColumns+` FROM credexes
		WHERE status = ? AND queue_status = ?
		ORDER BY accepted_at ASC, id ASC
	`, ledger.StatusOwes, ledger.QueuePending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCredexes(rows)
}

// MarkCredexProcessed flips a credex's queue status to PROCESSED.
func (q queries) MarkCredexProcessed(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE credexes SET queue_status = ? WHERE id = ?`, ledger.QueueProcessed, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.E(ledger.CodeNotFound, "credex %s not found", id)
	}
	return nil
}

// ApplyClear subtracts a netting amount from a credex: outstanding -= amt,
// redeemed += amt, and defaulted is clamped down to the new outstanding.
// When outstanding hits exactly zero the owing relationship flips to
// CLEARED (terminal, securer/payer order preserved on the row).
func (q queries) ApplyClear(ctx context.Context, id string, amt decimal.Decimal) (*ledger.Credex, error) {
	c, err := q.GetCredex(ctx, id)
	if err != nil {
		return nil, err
	}
	if amt.IsNegative() {
		return nil, ledger.E(ledger.CodeValidation, "netting amount %s is negative", amt)
	}
	if amt.GreaterThan(c.Outstanding) {
		return nil, ledger.E(ledger.CodeGraphInconsistency,
			"netting amount %s exceeds outstanding %s on credex %s", amt, c.Outstanding, id)
	}

	c.Outstanding = c.Outstanding.Sub(amt)
	c.Redeemed = c.Redeemed.Add(amt)
	if c.Defaulted.GreaterThan(c.Outstanding) {
		c.Defaulted = c.Outstanding
	}
	if c.Outstanding.IsZero() {
		c.Status = ledger.StatusCleared
	}

	_, err = q.db.ExecContext(ctx, `
		UPDATE credexes SET outstanding = ?, redeemed = ?, defaulted = ?, status = ? WHERE id = ?
	`, c.Outstanding.String(), c.Redeemed.String(), c.Defaulted.String(), c.Status, id)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// FlagDefaults marks every OWES credex whose due date has passed and is not
// yet flagged: defaulted = outstanding. The amount remains outstanding;
// defaulting is a flag, not a write-off. Returns the number flagged.
func (q queries) FlagDefaults(ctx context.Context, today time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE credexes SET defaulted = outstanding
		WHERE status = ? AND due_date IS NOT NULL AND due_date <= ? AND defaulted = '0'
	`, ledger.StatusOwes, fmtDate(today))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ExpireStalePending terminates every not-yet-accepted credex created
// before the cutoff. Returns the number expired.
func (q queries) ExpireStalePending(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE credexes SET status = ?, outstanding = '0'
		WHERE status IN (?, ?) AND created_at < ?
	`, ledger.StatusExpired, ledger.StatusOffered, ledger.StatusRequested, fmtTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SecuredPosition is one securer's net secured exposure for an account in
// one denomination.
type SecuredPosition struct {
	SecurerID string
	Net       decimal.Decimal // CXX owed to the account minus CXX it owes, within the securer's cover
}

// SecuredPositions computes, per securer, the net of secured OWES amounts
// the account is owed minus the secured amounts it owes, in the given
// denomination. The securable-capacity authorization takes the maximum net
// over any one securer.
func (q queries) SecuredPositions(ctx context.Context, accountID, denomCode string) ([]SecuredPosition, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT securer_id, issuer_id, acceptor_id, outstanding FROM credexes
		WHERE secured = 1 AND denom = ? AND status = ? AND (issuer_id = ? OR acceptor_id = ?)
	`, denomCode, ledger.StatusOwes, accountID, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	nets := make(map[string]decimal.Decimal)
	for rows.Next() {
		var securer, issuer, acceptor, outstanding string
		if err := rows.Scan(&securer, &issuer, &acceptor, &outstanding); err != nil {
			return nil, err
		}
		amt, err := parseDec(outstanding)
		if err != nil {
			return nil, err
		}
		switch accountID {
		case acceptor:
			nets[securer] = nets[securer].Add(amt)
		case issuer:
			nets[securer] = nets[securer].Sub(amt)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]SecuredPosition, 0, len(nets))
	for securer, net := range nets {
		out = append(out, SecuredPosition{SecurerID: securer, Net: net})
	}
	return out, nil
}

func collectCredexes(rows *sql.Rows) ([]*ledger.Credex, error) {
	var out []*ledger.Credex
	for rows.Next() {
		c, err := scanCredex(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
