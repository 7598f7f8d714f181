// Package rebase implements the daily rebase pass: the once-daily
// whole-ledger transaction that revalues the internal unit of account from
// market data and participant daily-offering declarations, rescales every
// balance so value is preserved across the unit redefinition, and settles
// confirmed contributions as ordinary credexes.
package rebase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/credexnet/credex/internal/denom"
	"github.com/credexnet/credex/internal/ledger"
	"github.com/credexnet/credex/internal/lifecycle"
	"github.com/credexnet/credex/internal/metrics"
	"github.com/credexnet/credex/internal/rates"
	"github.com/credexnet/credex/internal/store"
)

// Config tunes the pass.
type Config struct {
	// LeaseTTL bounds how long a crashed pass blocks the system.
	LeaseTTL time.Duration
	// QueuePollInterval is the backoff while waiting for the queue lease to
	// clear before starting.
	QueuePollInterval time.Duration
	// BackupDir receives before/after ledger snapshots.
	BackupDir string
	// FoundationHandle names the audited foundation account that daily
	// offerings settle against.
	FoundationHandle string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		LeaseTTL:          30 * time.Minute,
		QueuePollInterval: 5 * time.Second,
		BackupDir:         "snapshots",
		FoundationHandle:  "credex.foundation",
	}
}

// Pass orchestrates one daily rebase.
type Pass struct {
	store  *store.Store
	source rates.Source
	reg    *denom.Registry
	lc     *lifecycle.Manager
	clock  ledger.Clock
	cfg    Config
	owner  string
}

// New builds a Pass with a fresh lease owner token.
func New(st *store.Store, source rates.Source, reg *denom.Registry, lc *lifecycle.Manager, clock ledger.Clock, cfg Config) *Pass {
	return &Pass{store: st, source: source, reg: reg, lc: lc, clock: clock, cfg: cfg, owner: uuid.NewString()}
}

// confirmation is one participant's confirmed daily-offering contribution.
type confirmation struct {
	account *ledger.Account
	cxx     decimal.Decimal // contribution valued in yesterday's internal units
	basket  decimal.Decimal // contribution valued in the metal basket
}

// Run executes the pass. Any error before the rescale commits leaves the
// ledger untouched for that run; the pass is retried on the next schedule.
func (p *Pass) Run(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		metrics.RebaseDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.RebaseFailures.Inc()
		} else {
			metrics.RebaseRuns.Inc()
		}
	}()

	if err := p.waitForQueue(ctx); err != nil {
		return err
	}
	ok, err := p.store.AcquireLease(ctx, store.LeaseRebase, p.owner, p.cfg.LeaseTTL, p.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		slog.Info("rebase skipped, another pass holds the lease")
		return nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if relErr := p.store.ReleaseLease(releaseCtx, store.LeaseRebase, p.owner); relErr != nil {
			slog.Error("failed to release rebase lease", "error", relErr)
		}
	}()

	day, err := p.store.ActiveDay(ctx)
	if err != nil {
		return err
	}
	slog.Info("daily rebase starting", "day", day.Date.Format(ledger.DateLayout))

	// 1. Snapshot "end of day N". Backup is operational, not correctness:
	// a failed snapshot is logged and the pass continues.
	p.snapshot(ctx, "end-of-day-"+day.Date.Format(ledger.DateLayout))

	// 2. Flag defaults on matured debt.
	flagged, err := p.store.FlagDefaults(ctx, day.Date)
	if err != nil {
		return err
	}
	if flagged > 0 {
		slog.Info("defaults flagged", "count", flagged)
	}

	// 3. Silently expire offers/requests pending for more than a full day.
	expired, err := p.store.ExpireStalePending(ctx, p.clock.Now().Add(-24*time.Hour))
	if err != nil {
		return err
	}
	if expired > 0 {
		slog.Info("stale pending offers expired", "count", expired)
	}

	// 4. Fetch and validate fresh market rates. Incomplete data aborts the
	// pass; no partial rebase.
	symbols := p.reg.RateSourcedCodes()
	market, err := p.source.Fetch(ctx, day.Date.AddDate(0, 0, 1), symbols)
	if err != nil {
		return err
	}
	if err := rates.Validate(market, symbols); err != nil {
		return err
	}

	// 5. Confirm participant declarations against current capacity.
	confirmed, err := p.confirmParticipants(ctx, day, market)
	if err != nil {
		return err
	}

	ratio, newRates, err := p.revalue(day, market, confirmed)
	if err != nil {
		return err
	}
	slog.Info("unit revalued",
		"participants", len(confirmed), "ratio", ratio,
		"xau_rate", newRates[denom.XAU])

	// 6+7. Rescale every instrument and append the new day record in one
	// transaction: either all instruments are rescaled and the active
	// pointer flips, or nothing is visible.
	newDay := &ledger.Day{
		ID:            uuid.NewString(),
		Date:          day.Date.AddDate(0, 0, 1),
		Rates:         newRates,
		RebasingRatio: ratio,
		PrevID:        day.ID,
	}
	err = p.store.InTx(ctx, func(tx *store.Tx) error {
		if err := tx.RescaleLedger(ctx, store.RescaleParams{
			Ratio:        ratio,
			NewRates:     newRates,
			InternalUnit: denom.CXX,
		}); err != nil {
			return err
		}
		return tx.AppendDay(ctx, newDay)
	})
	if err != nil {
		return fmt.Errorf("whole-ledger rescale aborted: %w", err)
	}

	// 8. Settle confirmed contributions as ordinary credexes.
	p.settle(ctx, confirmed, ratio)

	// 9. Snapshot "start of day N+1".
	p.snapshot(ctx, "start-of-day-"+newDay.Date.Format(ledger.DateLayout))

	slog.Info("daily rebase complete", "new_day", newDay.Date.Format(ledger.DateLayout))
	return nil
}

// waitForQueue polls until the minute-queue lease clears. The rebase blocks
// here rather than skipping: it must run exactly once for the day.
func (p *Pass) waitForQueue(ctx context.Context) error {
	for {
		held, err := p.store.LeaseHeld(ctx, store.LeaseQueue, p.clock.Now())
		if err != nil {
			return err
		}
		if !held {
			return nil
		}
		slog.Info("rebase waiting for queue lease to clear")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.cfg.QueuePollInterval):
		}
	}
}

// confirmParticipants recomputes each declarer's available secured capacity
// in its declared denomination. A declaration exceeding capacity drops the
// participant from the confirmed set entirely; there is no partial
// honoring.
func (p *Pass) confirmParticipants(ctx context.Context, day *ledger.Day, market map[string]decimal.Decimal) ([]confirmation, error) {
	declarers, err := p.store.DeclaringAccounts(ctx)
	if err != nil {
		return nil, err
	}

	var confirmed []confirmation
	for _, a := range declarers {
		if _, ok := market[a.OfferingDenom]; !ok {
			slog.Error("declaration in non-market denomination, participant dropped",
				"account", a.Handle, "denom", a.OfferingDenom)
			continue
		}
		oldRate, err := day.Rate(a.OfferingDenom)
		if err != nil {
			slog.Error("declaration in unpriced denomination, participant dropped",
				"account", a.Handle, "denom", a.OfferingDenom)
			continue
		}
		capacity, unlimited, err := p.lc.AvailableCapacity(ctx, a.ID, a.OfferingDenom)
		if err != nil {
			slog.Error("capacity check failed, participant dropped", "account", a.Handle, "error", err)
			continue
		}
		if !unlimited && a.OfferingAmount.GreaterThan(capacity) {
			slog.Info("declaration exceeds capacity, participant dropped",
				"account", a.Handle, "declared", a.OfferingAmount, "capacity", capacity)
			continue
		}
		confirmed = append(confirmed, confirmation{
			account: a,
			cxx:     a.OfferingAmount.Mul(oldRate),
			basket:  a.OfferingAmount.Mul(market[a.OfferingDenom]),
		})
	}
	return confirmed, nil
}

// revalue computes the rebasing ratio and the new day's rate table.
//
// The rate source prices each denomination in the metal basket (XAU). The
// new internal-unit value is aggregateBasket/participants (basket per CXX);
// each denomination's new CXX rate is market[d]/unitValue. The rebasing
// ratio (yesterday's aggregate contribution in internal units divided by
// the participant count) is how many old CXX equal one new CXX.
//
// With no confirmed participants the unit holds its prior basket value
// (ratio 1) and rates still reprice from the fresh market data.
func (p *Pass) revalue(day *ledger.Day, market map[string]decimal.Decimal, confirmed []confirmation) (decimal.Decimal, map[string]decimal.Decimal, error) {
	one := decimal.NewFromInt(1)

	var unitValue decimal.Decimal // basket units per CXX
	ratio := one
	if len(confirmed) > 0 {
		aggCXX, aggBasket := decimal.Zero, decimal.Zero
		for _, c := range confirmed {
			aggCXX = aggCXX.Add(c.cxx)
			aggBasket = aggBasket.Add(c.basket)
		}
		count := decimal.NewFromInt(int64(len(confirmed)))
		unitValue = aggBasket.Div(count)
		ratio = aggCXX.Div(count)
		if !unitValue.IsPositive() || !ratio.IsPositive() {
			return decimal.Zero, nil, ledger.E(ledger.CodeValidation,
				"degenerate revaluation: unit value %s, ratio %s", unitValue, ratio)
		}
	} else {
		oldXAU, err := day.Rate(denom.XAU)
		if err != nil {
			return decimal.Zero, nil, err
		}
		unitValue = one.Div(oldXAU)
	}

	newRates := map[string]decimal.Decimal{denom.CXX: one}
	for code, xauValue := range market {
		newRates[code] = xauValue.Div(unitValue)
	}
	return ratio, newRates, nil
}

// settle creates-and-accepts, per confirmed participant, a secured "give"
// credex to the foundation in the declared denomination and a secured
// "receive" credex back, denominated in internal units, for the equal
// per-participant share. Both pass through the ordinary lifecycle manager
// and net like any other instrument. Per-participant failures are logged
// and skipped.
func (p *Pass) settle(ctx context.Context, confirmed []confirmation, ratio decimal.Decimal) {
	if len(confirmed) == 0 {
		return
	}
	foundation, err := p.store.GetAccountByHandle(ctx, p.cfg.FoundationHandle)
	if err != nil {
		slog.Error("foundation account missing, settlement skipped", "handle", p.cfg.FoundationHandle, "error", err)
		return
	}

	// Every participant receives the same share: the aggregate yesterday-CXX
	// contribution over the count, re-expressed in the new unit. By
	// construction of the ratio this is exactly one new CXX.
	aggCXX := decimal.Zero
	for _, c := range confirmed {
		aggCXX = aggCXX.Add(c.cxx)
	}
	share := aggCXX.Div(decimal.NewFromInt(int64(len(confirmed)))).Div(ratio)

	for _, c := range confirmed {
		if err := p.settleOne(ctx, c, foundation.ID, share); err != nil {
			slog.Error("participant settlement failed, skipped", "account", c.account.Handle, "error", err)
		}
	}
}

func (p *Pass) settleOne(ctx context.Context, c confirmation, foundationID string, share decimal.Decimal) error {
	giveID, err := p.lc.Offer(ctx, lifecycle.OfferParams{
		IssuerID:   c.account.ID,
		AcceptorID: foundationID,
		Denom:      c.account.OfferingDenom,
		Amount:     c.account.OfferingAmount,
		Type:       ledger.CredexOfferingGive,
		Secured:    true,
		SecurerID:  foundationID,
	})
	if err != nil {
		return fmt.Errorf("offering give: %w", err)
	}
	if _, err := p.lc.Accept(ctx, giveID, foundationID); err != nil {
		return fmt.Errorf("accept offering give: %w", err)
	}

	receiveID, err := p.lc.Offer(ctx, lifecycle.OfferParams{
		IssuerID:   foundationID,
		AcceptorID: c.account.ID,
		Denom:      denom.CXX,
		Amount:     share,
		Type:       ledger.CredexOfferingReceive,
		Secured:    true,
		SecurerID:  foundationID,
	})
	if err != nil {
		return fmt.Errorf("offering receive: %w", err)
	}
	if _, err := p.lc.Accept(ctx, receiveID, c.account.ID); err != nil {
		return fmt.Errorf("accept offering receive: %w", err)
	}

	slog.Info("participant settled",
		"account", c.account.Handle,
		"gave", c.account.OfferingAmount, "denom", c.account.OfferingDenom,
		"received_cxx", share)
	return nil
}

func (p *Pass) snapshot(ctx context.Context, tag string) {
	path, err := p.store.Snapshot(ctx, p.cfg.BackupDir, tag)
	if err != nil {
		slog.Error("ledger snapshot failed", "tag", tag, "error", err)
		return
	}
	slog.Info("ledger snapshot written", "tag", tag, "path", path)
}
