package loop

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credexnet/credex/internal/ledger"
	"github.com/credexnet/credex/internal/store"
	"github.com/credexnet/credex/internal/testutil"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type env struct {
	st    *store.Store
	clock *testutil.FixedClock
	day   time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	day := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.AppendDay(context.Background(), &ledger.Day{
		ID:            uuid.NewString(),
		Date:          day,
		Rates:         map[string]decimal.Decimal{"CXX": dec("1"), "USD": dec("1")},
		RebasingRatio: dec("1"),
	}))
	return &env{st: st, clock: testutil.NewFixedClock(day.Add(12 * time.Hour)), day: day}
}

func (e *env) finder(seed int64, cfg Config) *Finder {
	return New(e.st, e.clock, testutil.Rand(seed), cfg)
}

func (e *env) account(t *testing.T, handle string) string {
	t.Helper()
	a := &ledger.Account{
		ID: uuid.NewString(), Type: ledger.AccountPersonal,
		Handle: handle, DisplayName: handle, DefaultDenom: "USD",
		QueueStatus: ledger.QueuePending, CreatedAt: e.clock.Now(),
	}
	require.NoError(t, e.st.CreateAccount(context.Background(), a))
	return a.ID
}

// owes creates an accepted unsecured credex of the given internal-unit
// amount, due dueDays after the active day.
func (e *env) owes(t *testing.T, issuer, acceptor string, amount decimal.Decimal, dueDays int) string {
	t.Helper()
	due := e.day.AddDate(0, 0, dueDays)
	c := &ledger.Credex{
		ID:       uuid.NewString(),
		IssuerID: issuer, AcceptorID: acceptor,
		Denom: "USD", Multiplier: dec("1"),
		Initial: amount, Outstanding: amount,
		Redeemed: decimal.Zero, Defaulted: decimal.Zero, WrittenOff: decimal.Zero,
		Type: ledger.CredexPurchase, Status: ledger.StatusOffered,
		QueueStatus: ledger.QueuePending,
		DueDate:     &due,
		CreatedAt:   e.clock.Now(),
	}
	require.NoError(t, e.st.CreateCredex(context.Background(), c))
	require.NoError(t, e.st.AcceptCredex(context.Background(), c.ID, e.clock.Now()))
	e.clock.Advance(time.Second)
	return c.ID
}

func (e *env) outstanding(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	c, err := e.st.GetCredex(context.Background(), id)
	require.NoError(t, err)
	return c.Outstanding
}

func TestProcessNetsThreePartyCycle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	x, y, z := e.account(t, "x"), e.account(t, "y"), e.account(t, "z")

	xy := e.owes(t, x, y, dec("10"), 14)
	yz := e.owes(t, y, z, dec("15"), 14)
	zx := e.owes(t, z, x, dec("7"), 14)

	f := e.finder(1, Config{})
	var events []ClearEvent
	f.OnClear = func(ev ClearEvent) { events = append(events, ev) }

	for _, id := range []string{xy, yz, zx} {
		require.NoError(t, f.Process(ctx, id))
	}

	assert.True(t, e.outstanding(t, xy).Equal(dec("3")))
	assert.True(t, e.outstanding(t, yz).Equal(dec("8")))
	assert.True(t, e.outstanding(t, zx).IsZero())

	cleared, err := e.st.GetCredex(ctx, zx)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCleared, cleared.Status)
	require.NoError(t, cleared.CheckInvariant())

	indexed, err := e.st.InIndex(ctx, zx)
	require.NoError(t, err)
	assert.False(t, indexed, "a fully redeemed credex leaves the index")
	indexed, err = e.st.InIndex(ctx, xy)
	require.NoError(t, err)
	assert.True(t, indexed, "partially netted credexes stay indexed")

	require.Len(t, events, 1)
	assert.True(t, events[0].Amount.Equal(dec("7")))
	assert.Len(t, events[0].Credexes, 3)

	n, err := e.st.CountLoopAnchors(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	ids, err := e.st.LoopAnchorIDs(ctx)
	require.NoError(t, err)
	anchor, err := e.st.GetLoopAnchor(ctx, ids[0])
	require.NoError(t, err)
	require.Len(t, anchor.Members, 3)
	for i, m := range anchor.Members {
		assert.Equal(t, i, m.Position)
		assert.True(t, m.Redeemed.Equal(dec("7")))
	}

	// Every processed credex is marked off the queue.
	pending, err := e.st.PendingCredexes(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProcessInsertionIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	x, y := e.account(t, "x"), e.account(t, "y")
	xy := e.owes(t, x, y, dec("10"), 14)

	f := e.finder(1, Config{})
	require.NoError(t, f.Process(ctx, xy))
	// A retried run (crash between index write and queue mark) must not
	// duplicate the index entry.
	require.NoError(t, f.Process(ctx, xy))

	anchors, err := e.st.AnchorsInCategory(ctx, ledger.Floating)
	require.NoError(t, err)
	require.Len(t, anchors, 1)
	members, err := e.st.AnchorMembers(ctx, anchors[0].ID)
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestProcessSkipsNonActiveCredex(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	x, y := e.account(t, "x"), e.account(t, "y")

	// Offered but never accepted: the queue row is stale, not nettable.
	due := e.day.AddDate(0, 0, 14)
	c := &ledger.Credex{
		ID:       uuid.NewString(),
		IssuerID: x, AcceptorID: y,
		Denom: "USD", Multiplier: dec("1"),
		Initial: dec("10"), Outstanding: dec("10"),
		Redeemed: decimal.Zero, Defaulted: decimal.Zero, WrittenOff: decimal.Zero,
		Type: ledger.CredexPurchase, Status: ledger.StatusOffered,
		QueueStatus: ledger.QueuePending, DueDate: &due, CreatedAt: e.clock.Now(),
	}
	require.NoError(t, e.st.CreateCredex(ctx, c))

	require.NoError(t, e.finder(1, Config{}).Process(ctx, c.ID))

	indexed, err := e.st.InIndex(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, indexed)
	got, err := e.st.GetCredex(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.QueueProcessed, got.QueueStatus)
}

func TestMaxCycleLengthCap(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	x, y, z := e.account(t, "x"), e.account(t, "y"), e.account(t, "z")

	xy := e.owes(t, x, y, dec("10"), 14)
	yz := e.owes(t, y, z, dec("15"), 14)
	zx := e.owes(t, z, x, dec("7"), 14)

	f := e.finder(1, Config{MaxCycleLength: 2})
	for _, id := range []string{xy, yz, zx} {
		require.NoError(t, f.Process(ctx, id))
	}

	// The only cycle has three edges; capped at two it stays unfound.
	assert.True(t, e.outstanding(t, xy).Equal(dec("10")))
	n, err := e.st.CountLoopAnchors(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestTieBreakIsSeedDeterministic(t *testing.T) {
	run := func(seed int64) []string {
		e := newEnv(t)
		ctx := context.Background()
		x := e.account(t, "x")
		y := e.account(t, "y")
		a := e.account(t, "a")
		b := e.account(t, "b")

		// Two three-party cycles sharing the edge x→y, which is inserted
		// last so a single search sees both. Equal lengths and due dates
		// leave only the random tie-break to order their clearing.
		ids := []string{
			e.owes(t, y, a, dec("5"), 14),
			e.owes(t, a, x, dec("5"), 14),
			e.owes(t, y, b, dec("3"), 14),
			e.owes(t, b, x, dec("3"), 14),
			e.owes(t, x, y, dec("10"), 14),
		}

		f := e.finder(seed, Config{})
		var amounts []string
		f.OnClear = func(ev ClearEvent) { amounts = append(amounts, ev.Amount.String()) }
		for _, id := range ids {
			require.NoError(t, f.Process(ctx, id))
		}
		return amounts
	}

	first := run(42)
	second := run(42)
	require.Len(t, first, 2, "both cycles net once the shared edge lands")
	assert.Equal(t, first, second, "the same seed replays the same netting order")
}

func TestRepresentative(t *testing.T) {
	d1 := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		members []store.IndexedCredex
		want    string
	}{
		{
			name: "earliest due wins",
			members: []store.IndexedCredex{
				{CredexID: "b", DueDate: d2, Outstanding: dec("100")},
				{CredexID: "a", DueDate: d1, Outstanding: dec("1")},
			},
			want: "a",
		},
		{
			name: "larger outstanding breaks due ties",
			members: []store.IndexedCredex{
				{CredexID: "a", DueDate: d1, Outstanding: dec("10")},
				{CredexID: "b", DueDate: d1, Outstanding: dec("40")},
			},
			want: "b",
		},
		{
			name: "smaller id is the final tie-break",
			members: []store.IndexedCredex{
				{CredexID: "b", DueDate: d1, Outstanding: dec("10")},
				{CredexID: "a", DueDate: d1, Outstanding: dec("10")},
			},
			want: "a",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, representative(tt.members).CredexID)
		})
	}
}
