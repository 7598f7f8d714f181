package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/credexnet/credex/internal/ledger"
)

// Decimal values travel as exact strings; timestamps as fixed-width RFC
// 3339 with nanosecond precision; calendar dates as 2006-01-02. Scanning
// goes through these helpers so a malformed stored value surfaces as
// GRAPH_INCONSISTENCY rather than silent zero.

// timeLayout keeps the fractional seconds at full width. SQL compares the
// stored strings lexicographically (acceptance-order FIFO, lease expiry,
// stale-offer cutoffs), so chronological order must equal string order;
// RFC3339Nano trims trailing zeros and breaks that.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func parseDec(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ledger.Wrap(ledger.CodeGraphInconsistency, err, "malformed stored decimal %q", s)
	}
	return d, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, ledger.Wrap(ledger.CodeGraphInconsistency, err, "malformed stored timestamp %q", s)
	}
	return t, nil
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(ledger.DateLayout, s)
	if err != nil {
		return time.Time{}, ledger.Wrap(ledger.CodeGraphInconsistency, err, "malformed stored date %q", s)
	}
	return t, nil
}

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func fmtDate(t time.Time) string { return t.UTC().Format(ledger.DateLayout) }

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtDate(*t)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

// scanCredex decodes one credexes row in column order.
func scanCredex(scan func(dest ...any) error) (*ledger.Credex, error) {
	var (
		c                                                    ledger.Credex
		multiplier, initial, outstanding, redeemed           string
		defaulted, writtenOff                                string
		securerID, dueDate, acceptedAt                       sql.NullString
		createdAt                                            string
		secured                                              int
	)
	err := scan(
		&c.ID, &c.IssuerID, &c.AcceptorID, &c.Denom, &multiplier,
		&initial, &outstanding, &redeemed, &defaulted, &writtenOff,
		&c.Type, &c.Status, &c.QueueStatus,
		&secured, &securerID, &dueDate, &createdAt, &acceptedAt,
	)
	if err != nil {
		return nil, err
	}

	fields := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&c.Multiplier, multiplier},
		{&c.Initial, initial},
		{&c.Outstanding, outstanding},
		{&c.Redeemed, redeemed},
		{&c.Defaulted, defaulted},
		{&c.WrittenOff, writtenOff},
	}
	for _, f := range fields {
		if *f.dst, err = parseDec(f.src); err != nil {
			return nil, fmt.Errorf("credex %s: %w", c.ID, err)
		}
	}

	c.Secured = secured == 1
	if securerID.Valid {
		c.SecurerID = securerID.String
	}
	if dueDate.Valid {
		d, err := parseDate(dueDate.String)
		if err != nil {
			return nil, fmt.Errorf("credex %s: %w", c.ID, err)
		}
		c.DueDate = &d
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("credex %s: %w", c.ID, err)
	}
	if acceptedAt.Valid {
		t, err := parseTime(acceptedAt.String)
		if err != nil {
			return nil, fmt.Errorf("credex %s: %w", c.ID, err)
		}
		c.AcceptedAt = &t
	}
	return &c, nil
}

const credexColumns = `id, issuer_id, acceptor_id, denom, multiplier,
	initial, outstanding, redeemed, defaulted, written_off,
	type, status, queue_status, secured, securer_id, due_date, created_at, accepted_at`
