package cli

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/credexnet/credex/internal/daemon"
	"github.com/credexnet/credex/internal/denom"
	"github.com/credexnet/credex/internal/ledger"
	"github.com/credexnet/credex/internal/lifecycle"
	"github.com/credexnet/credex/internal/loop"
	"github.com/credexnet/credex/internal/queue"
	"github.com/credexnet/credex/internal/rates"
	"github.com/credexnet/credex/internal/rebase"
	"github.com/credexnet/credex/internal/store"

	"github.com/google/uuid"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the ledger daemon",
		Long: `Start the credex ledger daemon.

Opens the SQLite ledger (creating it if it doesn't exist), loads CUE
definitions, and starts the minute queue processor and the daily rebase
scheduler.

Example:
  credexd run --config ./credexd.yaml
  credexd run --config /etc/credexd/config.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to YAML config (required)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runDaemon(opts *RunOptions, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	cfg, err := daemon.LoadConfig(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	reg := denom.Builtin()
	defs, err := LoadDefinitions(cfg.DefinitionsDir)
	if err != nil {
		return err
	}
	if err := defs.Apply(reg); err != nil {
		return err
	}

	slog.Info("opening ledger", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open ledger", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing ledger", "error", closeErr)
		}
	}()

	clock := ledger.SystemClock{}
	if err := ensureGenesisDay(cmd.Context(), st, reg, clock); err != nil {
		return WrapExitError(ExitCommandError, "failed to initialize day chain", err)
	}

	var source rates.Source
	if cfg.RateEndpoint != "" {
		source = rates.NewHTTPSource(cfg.RateEndpoint, cfg.RateTimeout.Std())
	} else {
		slog.Warn("no rate endpoint configured, using flat bootstrap rates")
		source = bootstrapRates(reg)
	}

	policy := lifecycle.DefaultPolicy()
	if defs.Policy.MinDueDays > 0 {
		policy.MinDueDays = defs.Policy.MinDueDays
	}
	if defs.Policy.MaxDueDays > 0 {
		policy.MaxDueDays = defs.Policy.MaxDueDays
	}
	maxCycle := cfg.MaxCycleLength
	if defs.Policy.MaxCycleLength > 0 {
		maxCycle = defs.Policy.MaxCycleLength
	}

	seed := cfg.NettingSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	lc := lifecycle.New(st, reg, clock, policy)
	finder := loop.New(st, clock, rng, loop.Config{MaxCycleLength: maxCycle})
	qp := queue.New(st, finder, clock, queue.Config{
		LeaseTTL:     cfg.QueueLeaseTTL.Std(),
		BatchTimeout: cfg.QueueBatchTimeout.Std(),
	})
	rp := rebase.New(st, source, reg, lc, clock, rebase.Config{
		LeaseTTL:          cfg.RebaseLeaseTTL.Std(),
		QueuePollInterval: 5 * time.Second,
		BackupDir:         cfg.BackupDir,
		FoundationHandle:  cfg.FoundationHandle,
	})
	sched := daemon.NewScheduler(st, qp, rp, clock, cfg)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("daemon starting", "db", cfg.Database, "queue_interval", cfg.QueueInterval.Std())
	fmt.Fprintln(cmd.OutOrStdout(), "credexd started. Press Ctrl-C to stop.")

	if err := sched.Run(ctx); err != nil && err != context.Canceled {
		return WrapExitError(ExitFailure, "scheduler error", err)
	}
	slog.Info("daemon stopped gracefully")
	return nil
}

// ensureGenesisDay seeds the day chain on a fresh ledger: every registered
// denomination priced at 1 CXX until the first rebase reprices from market
// data.
func ensureGenesisDay(ctx context.Context, st *store.Store, reg *denom.Registry, clock ledger.Clock) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := st.ActiveDay(ctx); err == nil {
		return nil
	} else if !ledger.IsCode(err, ledger.CodeGraphInconsistency) {
		return err
	}

	one := decimal.NewFromInt(1)
	day := &ledger.Day{
		ID:            uuid.NewString(),
		Date:          ledger.Midnight(clock.Now()),
		Rates:         map[string]decimal.Decimal{},
		RebasingRatio: one,
	}
	for _, code := range reg.Codes() {
		day.Rates[code] = one
	}
	slog.Info("seeding genesis day", "date", day.Date.Format(ledger.DateLayout))
	return st.AppendDay(ctx, day)
}

// bootstrapRates prices every rate-sourced denomination flat at one basket
// unit. Development convenience only.
func bootstrapRates(reg *denom.Registry) rates.Static {
	s := rates.Static{}
	for _, code := range reg.RateSourcedCodes() {
		s[code] = decimal.NewFromInt(1)
	}
	return s
}
