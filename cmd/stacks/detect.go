package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDetectCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "Run gap detection against the library and enqueue candidates",
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := ctx.buildServices(cmd.Context())
			if err != nil {
				return err
			}
			defer services.Close()

			summary, err := services.controller.EnqueueCandidates(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"Detection complete: %d enqueued, %d already tracked, %d previously rejected, %d failed\n",
				summary.Created, summary.Duplicates, summary.Rejected, summary.Failed)
			return nil
		},
	}
}
