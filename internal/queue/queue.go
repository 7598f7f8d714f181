// Package queue implements the minute-scale queue processor: the scheduled
// driver that admits pending accounts and accepted credexes into the cycle
// index and invokes the loop finder, under single-flight execution.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/credexnet/credex/internal/ledger"
	"github.com/credexnet/credex/internal/loop"
	"github.com/credexnet/credex/internal/metrics"
	"github.com/credexnet/credex/internal/store"
)

// Config tunes the processor.
type Config struct {
	// LeaseTTL bounds how long a crashed run can block the next one.
	// Must exceed BatchTimeout.
	LeaseTTL time.Duration
	// BatchTimeout cancels an overlong run cooperatively: in-flight items
	// finish their transaction, the rest stay pending for the next tick.
	BatchTimeout time.Duration
}

// DefaultConfig matches a one-minute scheduling cadence.
func DefaultConfig() Config {
	return Config{
		LeaseTTL:     3 * time.Minute,
		BatchTimeout: 2 * time.Minute,
	}
}

// Processor runs one queue batch per tick.
type Processor struct {
	store  *store.Store
	finder *loop.Finder
	clock  ledger.Clock
	cfg    Config
	owner  string // lease owner token for this process
}

// New builds a Processor with a fresh lease owner token.
func New(st *store.Store, finder *loop.Finder, clock ledger.Clock, cfg Config) *Processor {
	return &Processor{store: st, finder: finder, clock: clock, cfg: cfg, owner: uuid.NewString()}
}

// Tick runs one scheduled pass.
//
// The tick is a no-op when the rebase lease is live (blocked entirely, not
// deferred) or when the queue lease cannot be acquired. On a successful
// acquisition the lease is released even on error or timeout
// (guaranteed-cleanup). Per-item failures are logged and skipped; they
// never abort the batch.
func (p *Processor) Tick(ctx context.Context) error {
	now := p.clock.Now()

	rebasing, err := p.store.LeaseHeld(ctx, store.LeaseRebase, now)
	if err != nil {
		return err
	}
	if rebasing {
		slog.Info("queue tick skipped, rebase in progress")
		metrics.QueueSkips.Inc()
		return nil
	}

	ok, err := p.store.AcquireLease(ctx, store.LeaseQueue, p.owner, p.cfg.LeaseTTL, now)
	if err != nil {
		return err
	}
	if !ok {
		slog.Info("queue tick skipped, queue lease held elsewhere")
		metrics.QueueSkips.Inc()
		return nil
	}
	defer func() {
		// Release against a fresh background context: the batch context may
		// already be done, and lease release must still happen.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.store.ReleaseLease(releaseCtx, store.LeaseQueue, p.owner); err != nil {
			slog.Error("failed to release queue lease", "error", err)
		}
	}()

	batchCtx, cancel := context.WithTimeout(ctx, p.cfg.BatchTimeout)
	defer cancel()

	if err := p.admitAccounts(batchCtx); err != nil {
		return err
	}
	if err := p.processCredexes(batchCtx); err != nil {
		return err
	}

	metrics.QueueRuns.Inc()
	return nil
}

// admitAccounts mirrors every pending-created account into the cycle
// index's account set. The index stores edges only, so admission is just
// the processed mark; a per-account failure is logged and skipped.
func (p *Processor) admitAccounts(ctx context.Context) error {
	accounts, err := p.store.PendingAccounts(ctx)
	if err != nil {
		return err
	}
	for _, a := range accounts {
		if ctx.Err() != nil {
			slog.Warn("queue batch timed out during account admission", "remaining", len(accounts))
			return nil
		}
		if err := p.store.MarkAccountProcessed(ctx, a.ID); err != nil {
			slog.Error("failed to admit account", "account", a.ID, "error", err)
			continue
		}
		slog.Debug("account admitted", "account", a.ID, "handle", a.Handle)
	}
	return nil
}

// processCredexes feeds accepted-but-unprocessed credexes to the loop
// finder in acceptance order.
func (p *Processor) processCredexes(ctx context.Context) error {
	pending, err := p.store.PendingCredexes(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	slog.Info("processing queued credexes", "count", len(pending))

	for i, c := range pending {
		if err := ctx.Err(); err != nil {
			// Cooperative cancellation: remaining items stay pending and
			// are retried next tick.
			slog.Warn("queue batch timed out", "processed", i, "remaining", len(pending)-i)
			return nil
		}
		if err := p.finder.Process(ctx, c.ID); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				slog.Warn("queue batch cancelled mid-item", "credex", c.ID)
				return nil
			}
			metrics.CredexFailures.Inc()
			slog.Error("netting failed for credex, deferred to next run", "credex", c.ID, "error", err)
			continue
		}
		metrics.CredexesProcessed.Inc()
	}
	return nil
}
