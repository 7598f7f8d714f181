package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/credexnet/credex/internal/denom"
	"github.com/credexnet/credex/internal/ledger"
	"github.com/credexnet/credex/internal/rates"
)

// NewRatesCommand creates the rates command: probe the market rate source
// the daily rebase would consult, without touching the ledger.
func NewRatesCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		endpoint string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:          "rates",
		Short:        "Fetch current market rates from the rate source",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := denom.Builtin()
			symbols := reg.RateSourcedCodes()

			source := rates.NewHTTPSource(endpoint, timeout)
			got, err := source.Fetch(cmd.Context(), ledger.Midnight(time.Now()), symbols)
			if err != nil {
				return WrapExitError(ExitFailure, "rate fetch failed", err)
			}
			if err := rates.Validate(got, symbols); err != nil {
				return WrapExitError(ExitFailure, "rate table incomplete", err)
			}

			view := make(map[string]string, len(got))
			for code, r := range got {
				view[code] = r.String()
			}
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Emit(view, func(w io.Writer) {
				fmt.Fprintln(w, "Market rates (XAU per unit):")
				for _, code := range symbols {
					fmt.Fprintf(w, "  %-5s %s\n", code, got[code])
				}
			})
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "rate source URL (required)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "fetch timeout")
	_ = cmd.MarkFlagRequired("endpoint")
	return cmd
}
