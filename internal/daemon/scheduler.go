package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/credexnet/credex/internal/ledger"
	"github.com/credexnet/credex/internal/queue"
	"github.com/credexnet/credex/internal/rebase"
	"github.com/credexnet/credex/internal/store"
)

// Scheduler drives the two recurring jobs. The queue processor fires on a
// fixed short interval; the rebase pass fires once per ledger day, after
// the configured UTC hour. All cross-job coordination happens through the
// store's leases, so the two can overlap in time without conflicting.
type Scheduler struct {
	store       *store.Store
	queue       *queue.Processor
	rebase      *rebase.Pass
	clock       ledger.Clock
	interval    time.Duration
	rebaseHour  int
	metricsAddr string
}

// NewScheduler builds a Scheduler.
func NewScheduler(st *store.Store, qp *queue.Processor, rp *rebase.Pass, clock ledger.Clock, cfg Config) *Scheduler {
	return &Scheduler{
		store:       st,
		queue:       qp,
		rebase:      rp,
		clock:       clock,
		interval:    cfg.QueueInterval.Std(),
		rebaseHour:  cfg.RebaseHourUTC,
		metricsAddr: cfg.MetricsAddr,
	}
}

// Run blocks until ctx is cancelled, ticking the queue processor and
// starting the rebase pass when due. The rebase runs in its own goroutine
// so queue ticks keep firing (and skipping on the lease) while it waits
// and works.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.metricsAddr != "" {
		go s.serveMetrics(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	rebaseDone := make(chan struct{}, 1)
	rebasing := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-rebaseDone:
			rebasing = false
		case <-ticker.C:
			if !rebasing && s.rebaseDue(ctx) {
				rebasing = true
				go func() {
					defer func() { rebaseDone <- struct{}{} }()
					if err := s.rebase.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						slog.Error("daily rebase failed, will retry next cycle", "error", err)
					}
				}()
			}
			if err := s.queue.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("queue tick failed", "error", err)
			}
		}
	}
}

// rebaseDue reports whether the active ledger day lags the wall-clock date
// and the configured hour has passed.
func (s *Scheduler) rebaseDue(ctx context.Context) bool {
	now := s.clock.Now()
	if now.Hour() < s.rebaseHour {
		return false
	}
	day, err := s.store.ActiveDay(ctx)
	if err != nil {
		slog.Error("cannot determine active day", "error", err)
		return false
	}
	return day.Date.Before(ledger.Midnight(now))
}

func (s *Scheduler) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: s.metricsAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics listening", "addr", s.metricsAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics listener failed", "error", err)
	}
}
