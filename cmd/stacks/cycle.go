package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCycleCommand(ctx *commandContext) *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run one full control cycle in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := ctx.buildServices(cmd.Context())
			if err != nil {
				return err
			}
			defer services.Close()

			if err := services.controller.Reconcile(cmd.Context()); err != nil {
				return err
			}
			stats, err := services.controller.RunCycle(cmd.Context(), batchSize)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"Cycle %s: admitted %d, submitted %d, completed %d, failed %d, abandoned %d (budget %s)\n",
				stats.CycleID, stats.Admitted, stats.Submitted, stats.Completed,
				stats.Failed, stats.Abandoned, stats.Signal)
			return nil
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch", 0, "Dequeue batch size (0 uses the configured default)")
	return cmd
}
