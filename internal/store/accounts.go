package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/credexnet/credex/internal/ledger"
)

// CreateAccount inserts a new participant node. Duplicate IDs are rejected.
func (q queries) CreateAccount(ctx context.Context, a *ledger.Account) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO accounts
		(id, type, handle, display_name, default_denom, offering_amount, offering_denom, audited, queue_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, a.Type, a.Handle, a.DisplayName, a.DefaultDenom,
		a.OfferingAmount.String(), a.OfferingDenom, boolInt(a.Audited),
		a.QueueStatus, fmtTime(a.CreatedAt),
	)
	if err != nil {
		return ledger.Wrap(ledger.CodeValidation, err, "create account %s", a.Handle)
	}
	return nil
}

// GetAccount fetches an account by id.
func (q queries) GetAccount(ctx context.Context, id string) (*ledger.Account, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, type, handle, display_name, default_denom, offering_amount, offering_denom, audited, queue_status, created_at
		FROM accounts WHERE id = ?
	`, id)
	a, err := scanAccount(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.E(ledger.CodeNotFound, "account %s not found", id)
	}
	return a, err
}

// GetAccountByHandle fetches an account by its unique handle.
func (q queries) GetAccountByHandle(ctx context.Context, handle string) (*ledger.Account, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, type, handle, display_name, default_denom, offering_amount, offering_denom, audited, queue_status, created_at
		FROM accounts WHERE handle = ?
	`, handle)
	a, err := scanAccount(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.E(ledger.CodeNotFound, "account %q not found", handle)
	}
	return a, err
}

// PendingAccounts lists accounts awaiting admission into the cycle index,
// oldest first.
func (q queries) PendingAccounts(ctx context.Context) ([]*ledger.Account, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, type, handle, display_name, default_denom, offering_amount, offering_denom, audited, queue_status, created_at
		FROM accounts WHERE queue_status = ? ORDER BY created_at ASC
	`, ledger.QueuePending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ledger.Account
	for rows.Next() {
		a, err := scanAccount(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkAccountProcessed flips an account's queue status to PROCESSED.
func (q queries) MarkAccountProcessed(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE accounts SET queue_status = ? WHERE id = ?`, ledger.QueueProcessed, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.E(ledger.CodeNotFound, "account %s not found", id)
	}
	return nil
}

// SetOffering updates an account's daily-offering declaration.
func (q queries) SetOffering(ctx context.Context, id string, amount decimal.Decimal, denomCode string) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE accounts SET offering_amount = ?, offering_denom = ? WHERE id = ?`,
		amount.String(), denomCode, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.E(ledger.CodeNotFound, "account %s not found", id)
	}
	return nil
}

// DeclaringAccounts lists accounts with a non-zero daily-offering
// declaration, ordered by handle for deterministic confirmation order.
func (q queries) DeclaringAccounts(ctx context.Context) ([]*ledger.Account, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, type, handle, display_name, default_denom, offering_amount, offering_denom, audited, queue_status, created_at
		FROM accounts WHERE offering_amount != '0' AND offering_denom != '' ORDER BY handle ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ledger.Account
	for rows.Next() {
		a, err := scanAccount(rows.Scan)
		if err != nil {
			return nil, err
		}
		if a.OfferingAmount.IsZero() {
			continue
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAccount(scan func(dest ...any) error) (*ledger.Account, error) {
	var (
		a         ledger.Account
		offering  string
		audited   int
		createdAt string
	)
	err := scan(&a.ID, &a.Type, &a.Handle, &a.DisplayName, &a.DefaultDenom,
		&offering, &a.OfferingDenom, &audited, &a.QueueStatus, &createdAt)
	if err != nil {
		return nil, err
	}
	if a.OfferingAmount, err = parseDec(offering); err != nil {
		return nil, err
	}
	a.Audited = audited == 1
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
