package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/credexnet/credex/internal/denom"
	"github.com/credexnet/credex/internal/ledger"
	"github.com/credexnet/credex/internal/store"
)

// NewDayCommand creates the day command: show the active day record.
func NewDayCommand(rootOpts *RootOptions) *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:          "day",
		Short:        "Show the active day record and its rate table",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(dbPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open ledger", err)
			}
			defer st.Close()

			day, err := st.ActiveDay(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "no active day", err)
			}

			reg := denom.Builtin()
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Emit(dayView(day), func(w io.Writer) {
				fmt.Fprintf(w, "Active day: %s\n", day.Date.Format(ledger.DateLayout))
				fmt.Fprintf(w, "Rebasing ratio: %s\n", day.RebasingRatio)
				fmt.Fprintln(w, "Rates (CXX per unit):")
				for _, code := range reg.Codes() {
					if rate, ok := day.Rates[code]; ok {
						fmt.Fprintf(w, "  %-5s %s\n", code, reg.Format(denom.CXX, rate))
					}
				}
			})
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "credex.db", "path to SQLite ledger")
	return cmd
}

func dayView(day *ledger.Day) map[string]any {
	rates := make(map[string]string, len(day.Rates))
	for code, r := range day.Rates {
		rates[code] = r.String()
	}
	return map[string]any{
		"date":           day.Date.Format(ledger.DateLayout),
		"rebasing_ratio": day.RebasingRatio.String(),
		"rates":          rates,
	}
}
