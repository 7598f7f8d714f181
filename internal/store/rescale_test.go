package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credexnet/credex/internal/ledger"
)

func TestRescaleLedger(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	day := seedDay(t, st, date(2026, 8, 1),
		map[string]decimal.Decimal{"CXX": dec("1"), "USD": dec("2")})
	alice := newAccount(t, st, "alice")
	bob := newAccount(t, st, "bob")

	// A USD instrument at the old rate 2: native 50, internal 100.
	usd := &ledger.Credex{
		ID:       uuid.NewString(),
		IssuerID: alice.ID, AcceptorID: bob.ID,
		Denom: "USD", Multiplier: dec("2"),
		Initial: dec("100"), Outstanding: dec("60"), Redeemed: dec("40"),
		Defaulted: decimal.Zero, WrittenOff: decimal.Zero,
		Type: ledger.CredexPurchase, Status: ledger.StatusOwes,
		QueueStatus: ledger.QueueProcessed,
		DueDate:     datePtr(2026, 8, 20),
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, st.CreateCredex(ctx, usd))

	// An internal-unit instrument.
	cxx := &ledger.Credex{
		ID:       uuid.NewString(),
		IssuerID: bob.ID, AcceptorID: alice.ID,
		Denom: "CXX", Multiplier: dec("1"),
		Initial: dec("10"), Outstanding: dec("10"),
		Redeemed: decimal.Zero, Defaulted: decimal.Zero, WrittenOff: decimal.Zero,
		Type: ledger.CredexPurchase, Status: ledger.StatusOwes,
		QueueStatus: ledger.QueueProcessed,
		DueDate:     datePtr(2026, 8, 20),
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, st.CreateCredex(ctx, cxx))

	// Index mirror and a netting record, both of which must rescale too.
	anchor, err := st.GetOrCreateAnchor(ctx, alice.ID, bob.ID, ledger.Floating, date(2026, 8, 20))
	require.NoError(t, err)
	require.NoError(t, st.AttachCredex(ctx, anchor.ID, usd.ID, date(2026, 8, 20), usd.Outstanding))
	require.NoError(t, st.CreateLoopAnchor(ctx, &ledger.LoopAnchor{
		ID: uuid.NewString(), DayID: day.ID, Amount: dec("40"), CreatedAt: time.Now().UTC(),
		Members: []ledger.LoopMember{
			{CredexID: usd.ID, Position: 0, Redeemed: dec("40"), OutstandingAfter: dec("60")},
		},
	}))

	// New unit is worth 2 old units; USD reprices from 2 to 4.
	err = st.InTx(ctx, func(tx *Tx) error {
		return tx.RescaleLedger(ctx, RescaleParams{
			Ratio:        dec("2"),
			NewRates:     map[string]decimal.Decimal{"CXX": dec("1"), "USD": dec("4")},
			InternalUnit: "CXX",
		})
	})
	require.NoError(t, err)

	// Foreign instruments keep their native value: 60/2 * 4 = 120.
	gotUSD, err := st.GetCredex(ctx, usd.ID)
	require.NoError(t, err)
	assert.True(t, gotUSD.Multiplier.Equal(dec("4")))
	assert.True(t, gotUSD.Initial.Equal(dec("200")))
	assert.True(t, gotUSD.Outstanding.Equal(dec("120")))
	assert.True(t, gotUSD.Redeemed.Equal(dec("80")))
	assert.True(t, gotUSD.NativeOutstanding().Equal(dec("30")), "native value is invariant under rebase")
	require.NoError(t, gotUSD.CheckInvariant())

	// Internal-unit instruments divide by the ratio.
	gotCXX, err := st.GetCredex(ctx, cxx.ID)
	require.NoError(t, err)
	assert.True(t, gotCXX.Multiplier.Equal(dec("1")))
	assert.True(t, gotCXX.Outstanding.Equal(dec("5")))
	require.NoError(t, gotCXX.CheckInvariant())

	// The index mirror follows the ledger row.
	members, err := st.AnchorMembers(ctx, anchor.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.True(t, members[0].Outstanding.Equal(dec("120")))

	// Audit records rescale by the ratio.
	ids, err := st.LoopAnchorIDs(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	la, err := st.GetLoopAnchor(ctx, ids[0])
	require.NoError(t, err)
	assert.True(t, la.Amount.Equal(dec("20")))
	require.Len(t, la.Members, 1)
	assert.True(t, la.Members[0].Redeemed.Equal(dec("20")))
	assert.True(t, la.Members[0].OutstandingAfter.Equal(dec("30")))
}

func TestRescaleLedgerRejectsBadParams(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedDay(t, st, date(2026, 8, 1), map[string]decimal.Decimal{"CXX": dec("1"), "USD": dec("2")})
	alice := newAccount(t, st, "alice")
	bob := newAccount(t, st, "bob")
	c := newCredex(t, st, alice.ID, bob.ID, dec("10"), datePtr(2026, 8, 20))

	err := st.InTx(ctx, func(tx *Tx) error {
		return tx.RescaleLedger(ctx, RescaleParams{Ratio: decimal.Zero, InternalUnit: "CXX"})
	})
	assert.True(t, ledger.IsCode(err, ledger.CodeValidation))

	// A credex in a denomination with no new rate aborts the transaction.
	err = st.InTx(ctx, func(tx *Tx) error {
		return tx.RescaleLedger(ctx, RescaleParams{
			Ratio:        dec("2"),
			NewRates:     map[string]decimal.Decimal{"CXX": dec("1")},
			InternalUnit: "CXX",
		})
	})
	assert.True(t, ledger.IsCode(err, ledger.CodeRateFailure))

	// The aborted transaction left the row untouched.
	got, err := st.GetCredex(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.Outstanding.Equal(dec("10")))
	assert.True(t, got.Multiplier.Equal(dec("1")))
}

func TestSnapshot(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	newAccount(t, st, "alice")

	dir := t.TempDir()
	path, err := st.Snapshot(ctx, dir, "end-of-day 2026-08-01")
	require.NoError(t, err)
	assert.Contains(t, path, "end-of-day-2026-08-01.db")

	// A snapshot is a standalone, readable database.
	copyStore, err := Open(path)
	require.NoError(t, err)
	defer copyStore.Close()
	_, err = copyStore.GetAccountByHandle(ctx, "alice")
	require.NoError(t, err)

	// Retried passes overwrite the same tag instead of failing.
	_, err = st.Snapshot(ctx, dir, "end-of-day 2026-08-01")
	require.NoError(t, err)
}
