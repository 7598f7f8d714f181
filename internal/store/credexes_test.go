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

func newCredex(t *testing.T, st *Store, issuerID, acceptorID string, amount decimal.Decimal, due *time.Time) *ledger.Credex {
	t.Helper()
	c := &ledger.Credex{
		ID:          uuid.NewString(),
		IssuerID:    issuerID,
		AcceptorID:  acceptorID,
		Denom:       "USD",
		Multiplier:  dec("1"),
		Initial:     amount,
		Outstanding: amount,
		Redeemed:    decimal.Zero,
		Defaulted:   decimal.Zero,
		WrittenOff:  decimal.Zero,
		Type:        ledger.CredexPurchase,
		Status:      ledger.StatusOffered,
		QueueStatus: ledger.QueuePending,
		DueDate:     due,
		CreatedAt:   time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, st.CreateCredex(context.Background(), c))
	return c
}

func datePtr(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestCredexRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	alice := newAccount(t, st, "alice")
	bob := newAccount(t, st, "bob")

	c := newCredex(t, st, alice.ID, bob.ID, dec("100"), datePtr(2026, 8, 20))
	got, err := st.GetCredex(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.IssuerID)
	assert.Equal(t, ledger.StatusOffered, got.Status)
	assert.True(t, got.Outstanding.Equal(dec("100")))
	require.NotNil(t, got.DueDate)
	assert.True(t, c.DueDate.Equal(*got.DueDate))
	assert.Nil(t, got.AcceptedAt)

	_, err = st.GetCredex(ctx, "nope")
	assert.True(t, ledger.IsCode(err, ledger.CodeNotFound))
}

func TestAcceptCredex(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	alice := newAccount(t, st, "alice")
	bob := newAccount(t, st, "bob")
	c := newCredex(t, st, alice.ID, bob.ID, dec("100"), datePtr(2026, 8, 20))

	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.AcceptCredex(ctx, c.ID, at))

	got, err := st.GetCredex(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusOwes, got.Status)
	assert.Equal(t, ledger.QueuePending, got.QueueStatus)
	require.NotNil(t, got.AcceptedAt)
	assert.True(t, at.Equal(*got.AcceptedAt))

	// Acceptance is one-way.
	err = st.AcceptCredex(ctx, c.ID, at.Add(time.Minute))
	assert.True(t, ledger.IsCode(err, ledger.CodeNotFound))
}

func TestTerminateCredex(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	alice := newAccount(t, st, "alice")
	bob := newAccount(t, st, "bob")

	pending := newCredex(t, st, alice.ID, bob.ID, dec("100"), datePtr(2026, 8, 20))
	require.NoError(t, st.TerminateCredex(ctx, pending.ID, ledger.StatusCancelled))
	got, err := st.GetCredex(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCancelled, got.Status)
	assert.True(t, got.Outstanding.IsZero())

	// An accepted credex is active debt; it cannot be cancelled away.
	active := newCredex(t, st, alice.ID, bob.ID, dec("50"), datePtr(2026, 8, 20))
	require.NoError(t, st.AcceptCredex(ctx, active.ID, time.Now().UTC()))
	err = st.TerminateCredex(ctx, active.ID, ledger.StatusDeclined)
	assert.True(t, ledger.IsCode(err, ledger.CodeNotFound))

	// OWES is not a terminal target.
	assert.True(t, ledger.IsCode(
		st.TerminateCredex(ctx, pending.ID, ledger.StatusOwes), ledger.CodeValidation))
}

func TestPendingCredexesFIFO(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	alice := newAccount(t, st, "alice")
	bob := newAccount(t, st, "bob")

	first := newCredex(t, st, alice.ID, bob.ID, dec("1"), datePtr(2026, 8, 20))
	second := newCredex(t, st, bob.ID, alice.ID, dec("2"), datePtr(2026, 8, 20))
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	// Accept in reverse creation order; acceptance order is what counts.
	require.NoError(t, st.AcceptCredex(ctx, second.ID, base))
	require.NoError(t, st.AcceptCredex(ctx, first.ID, base.Add(time.Second)))

	pending, err := st.PendingCredexes(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, second.ID, pending[0].ID)
	assert.Equal(t, first.ID, pending[1].ID)

	require.NoError(t, st.MarkCredexProcessed(ctx, second.ID))
	pending, err = st.PendingCredexes(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first.ID, pending[0].ID)
}

func TestPendingCredexesFIFOSubsecond(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	alice := newAccount(t, st, "alice")
	bob := newAccount(t, st, "bob")

	// Fractional seconds whose shortest decimal renderings do not sort
	// chronologically: ".12" would sort after ".123" as a string even
	// though 120ms precedes 123ms. Fixed-width storage keeps string order
	// equal to time order.
	first := newCredex(t, st, alice.ID, bob.ID, dec("1"), datePtr(2026, 8, 20))
	second := newCredex(t, st, bob.ID, alice.ID, dec("2"), datePtr(2026, 8, 20))
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.AcceptCredex(ctx, first.ID, base.Add(120*time.Millisecond)))
	require.NoError(t, st.AcceptCredex(ctx, second.ID, base.Add(123*time.Millisecond)))

	pending, err := st.PendingCredexes(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)
}

func TestApplyClear(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	alice := newAccount(t, st, "alice")
	bob := newAccount(t, st, "bob")
	c := newCredex(t, st, alice.ID, bob.ID, dec("100"), datePtr(2026, 8, 20))
	require.NoError(t, st.AcceptCredex(ctx, c.ID, time.Now().UTC()))

	after, err := st.ApplyClear(ctx, c.ID, dec("60"))
	require.NoError(t, err)
	assert.True(t, after.Outstanding.Equal(dec("40")))
	assert.True(t, after.Redeemed.Equal(dec("60")))
	assert.Equal(t, ledger.StatusOwes, after.Status)
	require.NoError(t, after.CheckInvariant())

	// Over-clearing is a graph inconsistency, not a silent clamp.
	_, err = st.ApplyClear(ctx, c.ID, dec("41"))
	assert.True(t, ledger.IsCode(err, ledger.CodeGraphInconsistency))

	_, err = st.ApplyClear(ctx, c.ID, dec("-1"))
	assert.True(t, ledger.IsCode(err, ledger.CodeValidation))

	// Clearing to exactly zero flips the relationship to CLEARED.
	after, err = st.ApplyClear(ctx, c.ID, dec("40"))
	require.NoError(t, err)
	assert.True(t, after.Outstanding.IsZero())
	assert.Equal(t, ledger.StatusCleared, after.Status)
	require.NoError(t, after.CheckInvariant())
}

func TestApplyClearClampsDefaulted(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	alice := newAccount(t, st, "alice")
	bob := newAccount(t, st, "bob")
	c := newCredex(t, st, alice.ID, bob.ID, dec("100"), datePtr(2026, 8, 1))
	require.NoError(t, st.AcceptCredex(ctx, c.ID, time.Now().UTC()))

	flagged, err := st.FlagDefaults(ctx, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.EqualValues(t, 1, flagged)

	// Netting a defaulted credex reduces the defaulted flag with it.
	after, err := st.ApplyClear(ctx, c.ID, dec("70"))
	require.NoError(t, err)
	assert.True(t, after.Outstanding.Equal(dec("30")))
	assert.True(t, after.Defaulted.Equal(dec("30")))
	require.NoError(t, after.CheckInvariant())
}

func TestFlagDefaults(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	alice := newAccount(t, st, "alice")
	bob := newAccount(t, st, "bob")

	matured := newCredex(t, st, alice.ID, bob.ID, dec("100"), datePtr(2026, 8, 1))
	future := newCredex(t, st, bob.ID, alice.ID, dec("50"), datePtr(2026, 9, 1))
	require.NoError(t, st.AcceptCredex(ctx, matured.ID, time.Now().UTC()))
	require.NoError(t, st.AcceptCredex(ctx, future.ID, time.Now().UTC()))

	today := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	flagged, err := st.FlagDefaults(ctx, today)
	require.NoError(t, err)
	assert.EqualValues(t, 1, flagged)

	got, err := st.GetCredex(ctx, matured.ID)
	require.NoError(t, err)
	assert.True(t, got.Defaulted.Equal(dec("100")))
	assert.True(t, got.Outstanding.Equal(dec("100")), "defaulting never removes the amount from outstanding")
	assert.Equal(t, ledger.StatusOwes, got.Status)

	untouched, err := st.GetCredex(ctx, future.ID)
	require.NoError(t, err)
	assert.True(t, untouched.Defaulted.IsZero())

	// Already-flagged rows are not re-flagged on the next pass.
	flagged, err = st.FlagDefaults(ctx, today.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.EqualValues(t, 0, flagged)
}

func TestExpireStalePending(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	alice := newAccount(t, st, "alice")
	bob := newAccount(t, st, "bob")

	stale := newCredex(t, st, alice.ID, bob.ID, dec("10"), datePtr(2026, 8, 20))
	accepted := newCredex(t, st, bob.ID, alice.ID, dec("10"), datePtr(2026, 8, 20))
	require.NoError(t, st.AcceptCredex(ctx, accepted.ID, time.Now().UTC()))

	cutoff := stale.CreatedAt.Add(time.Hour)
	expired, err := st.ExpireStalePending(ctx, cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 1, expired)

	got, err := st.GetCredex(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusExpired, got.Status)
	assert.True(t, got.Outstanding.IsZero())

	kept, err := st.GetCredex(ctx, accepted.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusOwes, kept.Status)
}

func TestSecuredPositions(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	hub := newAccount(t, st, "hub")
	vault := newAccount(t, st, "vault")
	alice := newAccount(t, st, "alice")

	secured := func(issuer, acceptor, securer string, amount decimal.Decimal) {
		c := &ledger.Credex{
			ID:       uuid.NewString(),
			IssuerID: issuer, AcceptorID: acceptor,
			Denom: "USD", Multiplier: dec("1"),
			Initial: amount, Outstanding: amount,
			Redeemed: decimal.Zero, Defaulted: decimal.Zero, WrittenOff: decimal.Zero,
			Type: ledger.CredexPurchase, Status: ledger.StatusOffered,
			QueueStatus: ledger.QueuePending,
			Secured:     true, SecurerID: securer,
			CreatedAt: time.Now().UTC(),
		}
		require.NoError(t, st.CreateCredex(ctx, c))
		require.NoError(t, st.AcceptCredex(ctx, c.ID, time.Now().UTC()))
	}

	secured(hub.ID, alice.ID, hub.ID, dec("100"))  // alice is owed 100 under hub
	secured(alice.ID, hub.ID, hub.ID, dec("30"))   // alice owes 30 under hub
	secured(vault.ID, alice.ID, vault.ID, dec("5")) // alice is owed 5 under vault

	positions, err := st.SecuredPositions(ctx, alice.ID, "USD")
	require.NoError(t, err)
	require.Len(t, positions, 2)

	nets := map[string]decimal.Decimal{}
	for _, p := range positions {
		nets[p.SecurerID] = p.Net
	}
	assert.True(t, nets[hub.ID].Equal(dec("70")))
	assert.True(t, nets[vault.ID].Equal(dec("5")))
}
