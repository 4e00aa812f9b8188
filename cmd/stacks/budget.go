package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"stacks/internal/budget"
)

func newBudgetCommand(ctx *commandContext) *cobra.Command {
	var (
		ledgerLimit int
		setBalance  int64
		setEarnRate float64
		setExpiry   string
	)

	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Show the points budget, ledger, and membership window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			controller := budget.New(store, cfg.Budget, nil, logger)

			if cmd.Flags().Changed("set-balance") {
				if err := controller.Observe(cmd.Context(), setBalance, setEarnRate); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Balance set to %s points\n", humanize.Comma(setBalance))
			}
			if setExpiry != "" {
				expiry, err := time.Parse("2006-01-02", setExpiry)
				if err != nil {
					return fmt.Errorf("parse --set-expiry: %w", err)
				}
				if err := controller.SetMembershipExpiry(cmd.Context(), expiry); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Membership expiry set to %s\n", expiry.Format("2006-01-02"))
			}

			status, err := controller.Status(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderBudgetTable(status))

			ledger, err := controller.Ledger(cmd.Context(), ledgerLimit)
			if err != nil {
				return err
			}
			if len(ledger) == 0 {
				return nil
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, renderLedgerTable(ledger))
			return nil
		},
	}
	cmd.Flags().IntVar(&ledgerLimit, "ledger", 10, "Number of ledger records to show")
	cmd.Flags().Int64Var(&setBalance, "set-balance", 0, "Record the externally observed points balance")
	cmd.Flags().Float64Var(&setEarnRate, "earn-rate", 0, "Observed earn rate, points per day")
	cmd.Flags().StringVar(&setExpiry, "set-expiry", "", "Set the membership expiry date (YYYY-MM-DD)")
	return cmd
}
