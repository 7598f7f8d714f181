package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/credexnet/credex/internal/denom"
	"github.com/credexnet/credex/internal/ledger"
	"github.com/credexnet/credex/internal/lifecycle"
	"github.com/credexnet/credex/internal/store"
)

// NewOfferCommand creates the offer command: an operator tool that offers a
// credex between two accounts, mainly for bootstrap and incident repair.
// Routine issuance goes through the (external) API, not this command.
func NewOfferCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		dbPath    string
		issuer    string
		acceptor  string
		code      string
		amountStr string
		secured   bool
		securer   string
		dueStr    string
		accept    bool
	)

	cmd := &cobra.Command{
		Use:          "offer",
		Short:        "Offer a credex between two accounts (operator tool)",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(amountStr)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid amount", err)
			}

			st, err := store.Open(dbPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open ledger", err)
			}
			defer st.Close()

			ctx := cmd.Context()
			issuerAcct, err := st.GetAccountByHandle(ctx, issuer)
			if err != nil {
				return WrapExitError(ExitCommandError, "issuer", err)
			}
			acceptorAcct, err := st.GetAccountByHandle(ctx, acceptor)
			if err != nil {
				return WrapExitError(ExitCommandError, "acceptor", err)
			}

			params := lifecycle.OfferParams{
				IssuerID:   issuerAcct.ID,
				AcceptorID: acceptorAcct.ID,
				Denom:      code,
				Amount:     amount,
				Type:       ledger.CredexPurchase,
				Secured:    secured,
			}
			if secured {
				securerAcct, err := st.GetAccountByHandle(ctx, securer)
				if err != nil {
					return WrapExitError(ExitCommandError, "securer", err)
				}
				params.SecurerID = securerAcct.ID
			} else {
				due, err := time.Parse(ledger.DateLayout, dueStr)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid due date", err)
				}
				params.DueDate = &due
			}

			lc := lifecycle.New(st, denom.Builtin(), ledger.SystemClock{}, lifecycle.DefaultPolicy())
			id, err := lc.Offer(ctx, params)
			if err != nil {
				return WrapExitError(ExitFailure, "offer rejected", err)
			}
			if accept {
				if _, err := lc.Accept(ctx, id, uuid.NewString()); err != nil {
					return WrapExitError(ExitFailure, "acceptance failed", err)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "credex.db", "path to SQLite ledger")
	cmd.Flags().StringVar(&issuer, "issuer", "", "issuer account handle")
	cmd.Flags().StringVar(&acceptor, "acceptor", "", "acceptor account handle")
	cmd.Flags().StringVar(&code, "denom", "USD", "denomination code")
	cmd.Flags().StringVar(&amountStr, "amount", "", "amount in the denomination")
	cmd.Flags().BoolVar(&secured, "secured", false, "issue secured instead of unsecured")
	cmd.Flags().StringVar(&securer, "securer", "", "securer handle (secured only)")
	cmd.Flags().StringVar(&dueStr, "due", "", "due date YYYY-MM-DD (unsecured only)")
	cmd.Flags().BoolVar(&accept, "accept", false, "immediately accept the offer")
	_ = cmd.MarkFlagRequired("issuer")
	_ = cmd.MarkFlagRequired("acceptor")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}
