package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/daimoniac/cdpilot/internal/material"
	"github.com/daimoniac/cdpilot/internal/statestore"
	"github.com/dustin/go-humanize"
	"github.com/ryanuber/columnize"
	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		filter statestore.BatchFilter
		stage  string
		keep   int
	)

	cmd := &cobra.Command{
		Use:   "history [batch-id]",
		Short: "Show previous bulk deployments",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.history()
			if err != nil {
				return err
			}
			if store == nil {
				return fmt.Errorf("trigger history is disabled (HISTORY_ENABLED=false)")
			}

			if keep > 0 {
				removed, err := store.CleanupExcessBatches(cmd.Context(), keep)
				if err != nil {
					return err
				}
				a.logger.Info("trigger history pruned", "removed", removed, "kept", keep)
			}

			if len(args) == 1 {
				batch, err := store.GetBatch(cmd.Context(), args[0])
				if errors.Is(err, statestore.ErrBatchNotFound) {
					return fmt.Errorf("no bulk deployment with id %s", args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, batchTable(batch))
				return nil
			}

			if stage != "" {
				st, ok := material.ParseStage(stage)
				if !ok {
					return fmt.Errorf("unknown stage %q (use PRE, DEPLOY or POST)", stage)
				}
				filter.Stage = string(st)
			}

			batches, err := store.ListBatches(cmd.Context(), filter)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, batchesTable(batches))
			return nil
		},
	}

	cmd.Flags().IntVar(&filter.EnvironmentID, "env-id", 0, "only deployments to this environment")
	cmd.Flags().IntVar(&filter.AppID, "app-id", 0, "only deployments including this app")
	cmd.Flags().StringVar(&stage, "stage", "", "only deployments of this stage")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "maximum number of deployments")
	cmd.Flags().IntVar(&keep, "keep", 0, "delete all but the newest N deployments first")

	return cmd
}

func batchesTable(batches []*statestore.BatchRecord) string {
	output := []string{strings.Join([]string{"ID", "WHEN", "STAGE", "ENVIRONMENT", "TAG", "BY", "RESULTS"}, "|")}
	for _, b := range batches {
		env := b.EnvironmentName
		if env == "" {
			env = strconv.Itoa(b.EnvironmentID)
		}
		row := []string{
			b.ID,
			humanize.Time(b.CreatedAt),
			b.Stage,
			env,
			b.Tag,
			b.TriggeredBy,
			resultSummary(b),
		}
		output = append(output, strings.Join(row, "|"))
	}
	return columnize.SimpleFormat(output)
}

func resultSummary(b *statestore.BatchRecord) string {
	counts := b.StatusCounts()
	parts := make([]string, 0, len(counts))
	for _, status := range []string{"SUCCESS", "SKIPPED", "UNAUTHORIZED", "FAILED"} {
		if n := counts[status]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, strings.ToLower(status)))
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}

func batchTable(b *statestore.BatchRecord) string {
	output := []string{strings.Join([]string{"APP", "IMAGE", "STATUS", "CODE", "MESSAGE"}, "|")}
	for _, r := range b.Results {
		code := "-"
		if r.Code > 0 {
			code = strconv.Itoa(r.Code)
		}
		row := []string{r.AppName, r.Image, r.Status, code, strings.ReplaceAll(r.Message, "|", "/")}
		output = append(output, strings.Join(row, "|"))
	}
	header := fmt.Sprintf("batch %s: %s to %s, %s (%s)\n\n",
		b.ID, b.Stage, b.EnvironmentName, humanize.Time(b.CreatedAt), b.CreatedAt.Format("2006-01-02 15:04:05"))
	return header + columnize.SimpleFormat(output)
}
