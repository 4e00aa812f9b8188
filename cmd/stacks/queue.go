package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"stacks/internal/admission"
	"stacks/internal/completion"
	"stacks/internal/gapdetect"
	"stacks/internal/queue"
	"stacks/internal/textutil"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the acquisition queue",
	}
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueAddCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var stateFlag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var states []queue.EntryState
			if stateFlag != "" {
				state, ok := queue.ParseEntryState(stateFlag)
				if !ok {
					return fmt.Errorf("unknown state %q", stateFlag)
				}
				states = append(states, state)
			}

			entries, err := store.ListEntries(cmd.Context(), states...)
			if err != nil {
				return fmt.Errorf("list entries: %w", err)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty.")
				return nil
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderEntryTable(entries))
			return nil
		},
	}
	cmd.Flags().StringVar(&stateFlag, "state", "", "Filter by entry state (queued, admitted, review, resolved, rejected)")
	return cmd
}

func newQueueAddCommand(ctx *commandContext) *cobra.Command {
	var (
		author   string
		series   string
		sequence int
		priority int
	)

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Manually enqueue a work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if author == "" {
				return fmt.Errorf("--author is required")
			}
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

			controller, err := admission.New(cmd.Context(), store, cfg.Admission, nil, logger)
			if err != nil {
				return err
			}

			title := args[0]
			reason := queue.ReasonAuthorGap
			if series != "" {
				reason = queue.ReasonSeriesGap
			}
			candidate := gapdetect.Candidate{
				DedupKey: textutil.DedupKey(title, author),
				Title:    title,
				Author:   author,
				Series:   series,
				Sequence: sequence,
				Reason:   reason,
			}

			var opts []admission.EnqueueOption
			if cmd.Flags().Changed("priority") {
				opts = append(opts, admission.WithPriority(priority))
			}
			result, err := controller.Enqueue(cmd.Context(), candidate, opts...)
			if err != nil {
				return err
			}

			switch result.Disposition {
			case admission.DispositionCreated:
				fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %q as %s (priority %d)\n",
					title, result.Entry.DedupKey, result.Entry.Priority)
			case admission.DispositionRejected:
				fmt.Fprintf(cmd.OutOrStdout(), "Not enqueued: %s was previously rejected (%s)\n",
					result.Entry.DedupKey, result.Entry.ReviewNote)
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "Already tracked as %s (state %s)\n",
					result.Entry.DedupKey, result.Entry.State)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&author, "author", "", "Author of the work (required)")
	cmd.Flags().StringVar(&series, "series", "", "Series name")
	cmd.Flags().IntVar(&sequence, "sequence", 0, "Position within the series")
	cmd.Flags().IntVar(&priority, "priority", 0, "Override the reason-derived priority")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <dedup-key>",
		Short: "Re-queue an entry parked for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			coordinator := completion.New(store, nil, nil, nil, logger)
			if err := coordinator.RetryReview(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requeued %s\n", args[0])
			return nil
		},
	}
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <dedup-key>",
		Short: "Cancel an entry and its download, releasing the dedup key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := ctx.buildServices(cmd.Context())
			if err != nil {
				return err
			}
			defer services.Close()

			if err := services.controller.Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %s\n", args[0])
			return nil
		},
	}
}
