// Package loop implements the loop finder: it mirrors newly accepted
// credexes into the reduced cycle index, then repeatedly discovers and nets
// directed cycles of mutual debt until none remain.
package loop

import (
	"context"
	"log/slog"
	"math/rand"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/credexnet/credex/internal/ledger"
	"github.com/credexnet/credex/internal/metrics"
	"github.com/credexnet/credex/internal/store"
)

// Config bounds the cycle search.
type Config struct {
	// MaxCycleLength caps the edge count of discovered cycles. Zero means
	// no cap beyond the number of anchors in the category.
	MaxCycleLength int
}

// ClearEvent describes one completed netting, for observers (tracing,
// scenario harness). Accounts holds the loop's node order starting at the
// origin issuer; Credexes the representative per edge in the same order.
type ClearEvent struct {
	LoopAnchorID string
	Amount       decimal.Decimal
	Accounts     []string
	Credexes     []string
}

// Finder runs the insertion and search loop for one credex at a time.
//
// The tie-break between equally long candidate cycles is random by policy;
// the generator is injected so tests can seed it for reproducible runs.
type Finder struct {
	store *store.Store
	clock ledger.Clock
	rng   *rand.Rand
	cfg   Config

	// OnClear, when set, is invoked after each committed netting event.
	OnClear func(ClearEvent)
}

// New builds a Finder.
func New(st *store.Store, clock ledger.Clock, rng *rand.Rand, cfg Config) *Finder {
	return &Finder{store: st, clock: clock, rng: rng, cfg: cfg}
}

// Process ensures the cycle index reflects the given accepted credex, nets
// every cycle reachable from its issuer in its owing-category, and marks
// the credex queue-processed.
//
// Insertion is idempotent: a credex already present in the index skips
// creation and proceeds directly to the search loop, so a run that failed
// after partial work is safe to repeat. Any unexpected absence of expected
// structure aborts this attempt with the credex still pending for the next
// scheduled pass (at-least-once semantics).
func (f *Finder) Process(ctx context.Context, credexID string) error {
	c, err := f.store.GetCredex(ctx, credexID)
	if err != nil {
		return err
	}
	if c.Status != ledger.StatusOwes {
		// Cleared or terminated before the queue reached it; nothing to net.
		return f.store.MarkCredexProcessed(ctx, credexID)
	}

	cat := c.Category()
	if err := f.insert(ctx, c); err != nil {
		if !ledger.IsCode(err, ledger.CodeAlreadyProcessed) {
			return err
		}
		slog.Debug("credex already indexed, resuming search", "credex", credexID)
	}

	for {
		cleared, err := f.searchAndClearOnce(ctx, c.IssuerID, cat)
		if err != nil {
			return err
		}
		if !cleared {
			break
		}
	}
	return f.store.MarkCredexProcessed(ctx, credexID)
}

// insert attaches the credex to its (issuer, acceptor, category) anchor in
// one transaction, pulling the anchor's cached earliest due date forward if
// needed. Secured credexes take the active day's date as a synthetic due
// date, prioritizing them by insertion order rather than a real maturity.
func (f *Finder) insert(ctx context.Context, c *ledger.Credex) error {
	return f.store.InTx(ctx, func(tx *store.Tx) error {
		indexed, err := tx.InIndex(ctx, c.ID)
		if err != nil {
			return err
		}
		if indexed {
			return ledger.E(ledger.CodeAlreadyProcessed, "credex %s already in cycle index", c.ID)
		}

		day, err := tx.ActiveDay(ctx)
		if err != nil {
			return err
		}
		due := c.EffectiveDueDate(day.Date)

		anchor, err := tx.GetOrCreateAnchor(ctx, c.IssuerID, c.AcceptorID, c.Category(), due)
		if err != nil {
			return err
		}
		return tx.AttachCredex(ctx, anchor.ID, c.ID, due, c.Outstanding)
	})
}

// searchAndClearOnce performs one iteration of the search loop inside a
// single transaction: enumerate cycles at the origin, select one, net it,
// and record the loop anchor. Returns false when no cycle remains.
func (f *Finder) searchAndClearOnce(ctx context.Context, originID string, cat ledger.Category) (bool, error) {
	var (
		found bool
		event ClearEvent
	)
	err := f.store.InTx(ctx, func(tx *store.Tx) error {
		cycles, err := findCycles(ctx, tx, originID, cat, f.cfg.MaxCycleLength)
		if err != nil {
			return err
		}
		if len(cycles) == 0 {
			return nil
		}

		chosen := selectCycle(cycles, f.rng)
		ev, err := f.clearCycle(ctx, tx, chosen)
		if err != nil {
			return err
		}
		found, event = true, ev
		return nil
	})
	if err != nil || !found {
		return false, err
	}

	metrics.LoopsNetted.Inc()
	amt, _ := event.Amount.Float64()
	metrics.ClearedTotal.Add(amt)
	slog.Info("loop netted",
		"anchor", event.LoopAnchorID, "amount", event.Amount,
		"length", len(event.Credexes), "origin", originID, "category", cat.String())
	if f.OnClear != nil {
		f.OnClear(event)
	}
	return true, nil
}

// clearCycle nets the chosen cycle: picks each edge's representative
// credex, subtracts the minimum outstanding from all of them, maintains the
// index, and records the loop anchor with chain order preserved.
func (f *Finder) clearCycle(ctx context.Context, tx *store.Tx, cycle []*ledger.SearchAnchor) (ClearEvent, error) {
	reps := make([]store.IndexedCredex, len(cycle))
	for i, edge := range cycle {
		members, err := tx.AnchorMembers(ctx, edge.ID)
		if err != nil {
			return ClearEvent{}, err
		}
		if len(members) == 0 {
			return ClearEvent{}, ledger.E(ledger.CodeGraphInconsistency,
				"anchor %s has no members during cycle clear", edge.ID)
		}
		reps[i] = representative(members)
	}

	clear := reps[0].Outstanding
	for _, r := range reps[1:] {
		if r.Outstanding.LessThan(clear) {
			clear = r.Outstanding
		}
	}

	day, err := tx.ActiveDay(ctx)
	if err != nil {
		return ClearEvent{}, err
	}

	anchor := &ledger.LoopAnchor{
		ID:        uuid.NewString(),
		DayID:     day.ID,
		Amount:    clear,
		CreatedAt: f.clock.Now(),
	}
	event := ClearEvent{LoopAnchorID: anchor.ID, Amount: clear}

	for i, rep := range reps {
		after, err := tx.ApplyClear(ctx, rep.CredexID, clear)
		if err != nil {
			return ClearEvent{}, err
		}
		if after.Outstanding.IsZero() {
			// Fully redeemed: out of the index; ledger side already flipped
			// to CLEARED by ApplyClear.
			if err := tx.DetachCredex(ctx, rep.AnchorID, rep.CredexID); err != nil {
				return ClearEvent{}, err
			}
		} else {
			if err := tx.UpdateIndexedOutstanding(ctx, rep.CredexID, after.Outstanding); err != nil {
				return ClearEvent{}, err
			}
		}
		anchor.Members = append(anchor.Members, ledger.LoopMember{
			CredexID:         rep.CredexID,
			Position:         i,
			Redeemed:         clear,
			OutstandingAfter: after.Outstanding,
		})
		event.Accounts = append(event.Accounts, cycle[i].IssuerID)
		event.Credexes = append(event.Credexes, rep.CredexID)
	}

	if err := tx.CreateLoopAnchor(ctx, anchor); err != nil {
		return ClearEvent{}, err
	}
	return event, nil
}

// representative picks the credex that stands for an edge in a netting:
// earliest due date first; among equals, the larger outstanding; a final
// id comparison keeps the choice deterministic across runs.
func representative(members []store.IndexedCredex) store.IndexedCredex {
	best := members[0]
	for _, m := range members[1:] {
		switch {
		case m.DueDate.Before(best.DueDate):
			best = m
		case m.DueDate.Equal(best.DueDate) && m.Outstanding.GreaterThan(best.Outstanding):
			best = m
		case m.DueDate.Equal(best.DueDate) && m.Outstanding.Equal(best.Outstanding) && m.CredexID < best.CredexID:
			best = m
		}
	}
	return best
}
