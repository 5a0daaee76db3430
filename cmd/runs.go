package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/keo-sports/stage-engine/internal/export"
	"github.com/keo-sports/stage-engine/internal/model"
	"github.com/keo-sports/stage-engine/internal/monitoring"
	"github.com/keo-sports/stage-engine/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List publish runs",
	Long:  "Lists the publish journal, newest first. Subcommands show one run or summarize the journal.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "read")
		if err != nil {
			return err
		}
		defer env.Close()

		stageID, _ := cmd.Flags().GetString("stage")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := env.Store.ListPublishRuns(ctx, store.RunFilter{
			StageID: stageID,
			Status:  model.PublishRunStatus(status),
			Limit:   limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}
		if len(runs) == 0 {
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "No publish runs found.")
			return nil
		}
		return writeOutput(cmd, export.RunsTable(runs), runs)
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a publish run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "read")
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Store.GetPublishRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		return export.WriteJSON(cmd.OutOrStdout(), run)
	},
}

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize publish runs and the finalize queue",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "read")
		if err != nil {
			return err
		}
		defer env.Close()

		since, _ := cmd.Flags().GetDuration("since")
		snap, err := monitoring.NewCollector(env.Store, env.Workflow).Collect(ctx, since)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}
		if f, _ := cmd.Flags().GetString("format"); f == string(export.FormatJSON) {
			return export.WriteJSON(cmd.OutOrStdout(), snap)
		}
		formatRunStats(cmd.OutOrStdout(), snap)
		return nil
	},
}

func init() {
	runsCmd.Flags().String("stage", "", "filter by stage id")
	runsCmd.Flags().String("status", "", "filter by status (writing, written, confirmed, failed, finalize_failed)")
	runsCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsStatsCmd.Flags().Duration("since", 7*24*time.Hour, "time window for stats (e.g. 24h, 168h)")

	runsCmd.AddCommand(runsShowCmd, runsStatsCmd)
	publishCmd.AddCommand(runsCmd)
}

// formatRunStats writes a publish health snapshot to w.
func formatRunStats(out io.Writer, s *monitoring.MetricsSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.RunsTotal)
	_, _ = fmt.Fprintf(w, "  Stage:\t%d\n", s.RunsStage)
	_, _ = fmt.Fprintf(w, "  Segments:\t%d\n", s.RunsSegments)
	_, _ = fmt.Fprintf(w, "Confirmed:\t%d\n", s.RunsConfirmed)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.RunsFailed)
	_, _ = fmt.Fprintf(w, "Finalize failed:\t%d\n", s.RunsFinalizeFailed)
	_, _ = fmt.Fprintf(w, "In flight:\t%d\n", s.RunsInFlight)
	_, _ = fmt.Fprintf(w, "Failure rate:\t%.1f%%\n", s.FailRate*100)
	_, _ = fmt.Fprintf(w, "Finalize queue:\t%d\n", s.QueueDepth)
	if s.BreakerState != "" {
		_, _ = fmt.Fprintf(w, "Finalizer circuit:\t%s\n", s.BreakerState)
	}
	if s.AvgDurationSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurationSecs)
	}
	_ = w.Flush()
}
