package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"stacks/internal/budget"
	"stacks/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue, download, and budget health",
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

			health, err := store.Health(cmd.Context())
			if err != nil {
				return fmt.Errorf("queue health: %w", err)
			}
			jobStats, err := store.JobStats(cmd.Context())
			if err != nil {
				return fmt.Errorf("job stats: %w", err)
			}
			budgetStatus, err := budget.New(store, cfg.Budget, nil, logger).Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("budget status: %w", err)
			}

			printer := newConsolePrinter(cmd.OutOrStdout())

			printer.section("Queue")
			printer.line("Entries", queueTone(health), "%d total, %d queued, %d admitted, %d review",
				health.Total, health.Queued, health.Admitted, health.Review)
			printer.line("Finished", toneNeutral, "%d resolved, %d rejected", health.Resolved, health.Rejected)

			printer.blank()
			printer.section("Downloads")
			inFlight := jobStats[queue.JobSubmitted] + jobStats[queue.JobDownloading]
			printer.line("In flight", toneNeutral, "%d", inFlight)
			printer.line("Retry scheduled", toneNeutral, "%d", jobStats[queue.JobRetryScheduled])
			printer.line("Abandoned", downloadTone(jobStats), "%d", jobStats[queue.JobAbandoned])

			printer.blank()
			printer.section("Budget")
			printer.line("Balance", signalTone(budgetStatus.Signal), "%s points (floor %s)",
				humanize.Comma(budgetStatus.Balance), humanize.Comma(budgetStatus.BufferFloor))
			printer.line("Membership", expiryTone(budgetStatus.DaysRemaining), "%d days remaining (expires %s)",
				budgetStatus.DaysRemaining, humanize.Time(budgetStatus.MembershipExpiry))
			printer.line("Signal", signalTone(budgetStatus.Signal), "%s", budgetStatus.Signal)
			return nil
		},
	}
}
