// Package harness runs declarative netting scenarios for conformance
// tests. A scenario is a YAML file that seeds a day, accounts and
// credexes, runs the minute queue to quiescence, and asserts on the
// resulting ledger; golden files capture the full netting trace.
package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/google/uuid"

	"github.com/credexnet/credex/internal/denom"
	"github.com/credexnet/credex/internal/ledger"
	"github.com/credexnet/credex/internal/lifecycle"
	"github.com/credexnet/credex/internal/loop"
	"github.com/credexnet/credex/internal/queue"
	"github.com/credexnet/credex/internal/store"
	"github.com/credexnet/credex/internal/testutil"
)

// Scenario defines one conformance scenario.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Date is the active day, e.g. "2026-08-01".
	Date string `yaml:"date"`
	// Rates prices denominations in CXX for the seeded day. CXX itself is
	// implied at 1.
	Rates map[string]string `yaml:"rates,omitempty"`

	// Seed drives the cycle tie-break RNG; defaults to 1.
	Seed int64 `yaml:"seed,omitempty"`

	Accounts []AccountStep `yaml:"accounts"`
	Credexes []CredexStep  `yaml:"credexes"`

	Expect Expectations `yaml:"expect"`
}

// AccountStep seeds one account.
type AccountStep struct {
	Handle  string `yaml:"handle"`
	Type    string `yaml:"type,omitempty"`    // defaults to PERSONAL
	Audited bool   `yaml:"audited,omitempty"` // audited foundation
}

// CredexStep offers (and by default accepts) one credex. Labels name
// credexes for expectations and the golden trace.
type CredexStep struct {
	Label     string `yaml:"label"`
	Issuer    string `yaml:"issuer"`
	Acceptor  string `yaml:"acceptor"`
	Amount    string `yaml:"amount"`
	Denom     string `yaml:"denom,omitempty"` // defaults to USD
	Secured   bool   `yaml:"secured,omitempty"`
	Securer   string `yaml:"securer,omitempty"`
	DueInDays int    `yaml:"dueInDays,omitempty"` // from the active day; defaults to 14
	Offered   bool   `yaml:"offered,omitempty"`   // leave pending, do not accept
}

// Expectations asserts on the final ledger state.
type Expectations struct {
	// Outstanding maps credex label → expected outstanding, in the
	// credex's native denomination.
	Outstanding map[string]string `yaml:"outstanding,omitempty"`
	// Cleared lists labels expected to have flipped to CLEARED and left
	// the cycle index.
	Cleared []string `yaml:"cleared,omitempty"`
	// LoopAnchors is the expected count of netting records.
	LoopAnchors int `yaml:"loopAnchors"`
}

// LoadScenario reads one YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", filepath.Base(path), err)
	}
	if s.Name == "" {
		return nil, fmt.Errorf("scenario %s has no name", filepath.Base(path))
	}
	return &s, nil
}

// Result is the outcome of a scenario run.
type Result struct {
	Store  *store.Store
	Labels map[string]string // label → credex id
	Trace  []TraceEvent
}

// TraceEvent is one netting event in label/handle terms, suitable for
// golden comparison.
type TraceEvent struct {
	Amount   string   `json:"amount"`
	Accounts []string `json:"accounts"`
	Credexes []string `json:"credexes"`
}

// Run executes the scenario against a fresh ledger under t.TempDir and
// returns the populated result. The store is closed via t.Cleanup.
func Run(t *testing.T, s *Scenario) *Result {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(filepath.Join(t.TempDir(), "scenario.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	date, err := time.Parse(ledger.DateLayout, s.Date)
	require.NoError(t, err, "scenario date")
	clock := testutil.NewFixedClock(date.Add(12 * time.Hour))

	reg := denom.Builtin()
	seedDay(t, ctx, st, reg, s, date)

	handles := seedAccounts(t, ctx, st, s, clock)

	lc := lifecycle.New(st, reg, clock, lifecycle.DefaultPolicy())
	labels := seedCredexes(t, ctx, lc, clock, s, handles, date)

	seed := s.Seed
	if seed == 0 {
		seed = 1
	}
	finder := loop.New(st, clock, testutil.Rand(seed), loop.Config{})

	res := &Result{Store: st, Labels: labels, Trace: []TraceEvent{}}
	idToLabel := invert(labels)
	idToHandle := invert(handles)
	finder.OnClear = func(ev loop.ClearEvent) {
		te := TraceEvent{Amount: ev.Amount.String()}
		for _, acct := range ev.Accounts {
			te.Accounts = append(te.Accounts, idToHandle[acct])
		}
		for _, id := range ev.Credexes {
			te.Credexes = append(te.Credexes, idToLabel[id])
		}
		res.Trace = append(res.Trace, te)
	}

	qp := queue.New(st, finder, clock, queue.DefaultConfig())
	require.NoError(t, qp.Tick(ctx))

	assertExpectations(t, ctx, res, s)
	return res
}

func seedDay(t *testing.T, ctx context.Context, st *store.Store, reg *denom.Registry, s *Scenario, date time.Time) {
	t.Helper()
	one := decimal.NewFromInt(1)
	day := &ledger.Day{
		ID:            uuid.NewString(),
		Date:          date,
		Rates:         map[string]decimal.Decimal{},
		RebasingRatio: one,
	}
	for _, code := range reg.Codes() {
		day.Rates[code] = one
	}
	for code, rate := range s.Rates {
		r, err := decimal.NewFromString(rate)
		require.NoError(t, err, "rate for %s", code)
		day.Rates[code] = r
	}
	require.NoError(t, st.AppendDay(ctx, day))
}

func seedAccounts(t *testing.T, ctx context.Context, st *store.Store, s *Scenario, clock ledger.Clock) map[string]string {
	t.Helper()
	handles := make(map[string]string, len(s.Accounts))
	for _, a := range s.Accounts {
		typ := ledger.AccountType(a.Type)
		if a.Type == "" {
			typ = ledger.AccountPersonal
		}
		acct := &ledger.Account{
			ID:           uuid.NewString(),
			Type:         typ,
			Handle:       a.Handle,
			DisplayName:  a.Handle,
			DefaultDenom: "USD",
			Audited:      a.Audited,
			QueueStatus:  ledger.QueuePending,
			CreatedAt:    clock.Now(),
		}
		require.NoError(t, st.CreateAccount(ctx, acct))
		handles[a.Handle] = acct.ID
	}
	return handles
}

func seedCredexes(t *testing.T, ctx context.Context, lc *lifecycle.Manager, clock *testutil.FixedClock, s *Scenario, handles map[string]string, date time.Time) map[string]string {
	t.Helper()
	labels := make(map[string]string, len(s.Credexes))
	for _, c := range s.Credexes {
		// Distinct acceptance times keep queue order equal to scenario order.
		clock.Advance(time.Second)
		amount, err := decimal.NewFromString(c.Amount)
		require.NoError(t, err, "amount for %s", c.Label)

		code := c.Denom
		if code == "" {
			code = "USD"
		}
		params := lifecycle.OfferParams{
			IssuerID:   handles[c.Issuer],
			AcceptorID: handles[c.Acceptor],
			Denom:      code,
			Amount:     amount,
			Type:       ledger.CredexPurchase,
			Secured:    c.Secured,
		}
		if c.Secured {
			params.SecurerID = handles[c.Securer]
		} else {
			days := c.DueInDays
			if days == 0 {
				days = 14
			}
			due := date.AddDate(0, 0, days)
			params.DueDate = &due
		}

		id, err := lc.Offer(ctx, params)
		require.NoError(t, err, "offer %s", c.Label)
		if !c.Offered {
			_, err = lc.Accept(ctx, id, handles[c.Acceptor])
			require.NoError(t, err, "accept %s", c.Label)
		}
		labels[c.Label] = id
	}
	return labels
}

func assertExpectations(t *testing.T, ctx context.Context, res *Result, s *Scenario) {
	t.Helper()
	for label, want := range s.Expect.Outstanding {
		id, ok := res.Labels[label]
		require.True(t, ok, "unknown label %q in expectations", label)
		c, err := res.Store.GetCredex(ctx, id)
		require.NoError(t, err)
		wantDec, err := decimal.NewFromString(want)
		require.NoError(t, err)
		require.Truef(t, c.NativeOutstanding().Equal(wantDec),
			"credex %s outstanding = %s, want %s", label, c.NativeOutstanding(), want)
	}
	for _, label := range s.Expect.Cleared {
		id := res.Labels[label]
		c, err := res.Store.GetCredex(ctx, id)
		require.NoError(t, err)
		require.Equalf(t, ledger.StatusCleared, c.Status, "credex %s should be cleared", label)
		indexed, err := res.Store.InIndex(ctx, id)
		require.NoError(t, err)
		require.Falsef(t, indexed, "credex %s should have left the cycle index", label)
	}
	n, err := res.Store.CountLoopAnchors(ctx)
	require.NoError(t, err)
	require.Equal(t, s.Expect.LoopAnchors, n, "loop anchor count")
}

func invert(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}
