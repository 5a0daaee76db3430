package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/keo-sports/stage-engine/internal/ingest"
	"github.com/keo-sports/stage-engine/internal/publish"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish reviewed results",
	Long:  "Reviewer actions that move results from pending to official.",
}

var publishStageCmd = &cobra.Command{
	Use:   "stage",
	Short: "Publish official stage times from a sheet",
	Long: `Reads a CSV or XLSX sheet of reviewed stage results and publishes them
in one atomic write, then calls the finalizer with the whole batch.

Columns: user_id (required), time (HH:MM:SS) or official_time_seconds,
mountain_points, status (official or dq, default official), result_id.

If the finalizer fails the rows stay official and the call is queued;
replay it with "publish retry".

Examples:
  publish stage --stage st-3 --file stage3.csv
  publish stage --stage st-3 --file stage3.xlsx`,
	RunE: runPublishStage,
}

var publishSegmentsCmd = &cobra.Command{
	Use:   "segments",
	Short: "Rank and publish KOM segment results",
	Long: `Re-ranks every effort of the stage's segments (or one segment) by
elapsed time, assigns points from the category scale and marks the rows
official.`,
	RunE: runPublishSegments,
}

var publishRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Replay queued finalizer calls",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		limit, _ := cmd.Flags().GetInt("limit")
		env, err := initEnv(ctx, "publish")
		if err != nil {
			return err
		}
		defer env.Close()

		sum, err := env.Workflow.RetryFinalize(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "publish retry")
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Attempted: %d  Succeeded: %d  Failed: %d  Exhausted: %d\n",
			sum.Attempted, sum.Succeeded, sum.Failed, sum.Exhausted)
		return nil
	},
}

func init() {
	publishStageCmd.Flags().String("stage", "", "stage id (required)")
	publishStageCmd.Flags().String("file", "", "CSV or XLSX sheet of reviewed results (required)")
	_ = publishStageCmd.MarkFlagRequired("stage")
	_ = publishStageCmd.MarkFlagRequired("file")

	publishSegmentsCmd.Flags().String("stage", "", "stage id (required)")
	publishSegmentsCmd.Flags().String("segment", "", "publish a single segment (default: every segment of the stage)")
	_ = publishSegmentsCmd.MarkFlagRequired("stage")

	publishRetryCmd.Flags().Int("limit", 50, "max queued calls to replay")

	publishCmd.AddCommand(publishStageCmd, publishSegmentsCmd, publishRetryCmd)
	rootCmd.AddCommand(publishCmd)
}

func runPublishStage(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stageID, _ := cmd.Flags().GetString("stage")
	path, _ := cmd.Flags().GetString("file")

	rows, err := ingest.ReadSheet(ctx, path)
	if err != nil {
		return eris.Wrapf(err, "publish stage: read %s", path)
	}
	entries, err := publish.ParseEntries(rows)
	if err != nil {
		return eris.Wrapf(err, "publish stage: parse %s", path)
	}

	env, err := initEnv(ctx, "publish")
	if err != nil {
		return err
	}
	defer env.Close()

	out, err := env.Workflow.PublishStage(ctx, publish.StageRequest{StageID: stageID, Entries: entries})
	if out != nil {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Run %s: %d created, %d updated, finalized=%t\n",
			truncateID(out.RunID), out.Created, out.Updated, out.Finalized)
	}
	if err != nil {
		if eris.Is(err, publish.ErrFinalize) {
			zap.L().Warn("results are official but finalize is queued; run \"publish retry\"", zap.Error(err))
		}
		return eris.Wrap(err, "publish stage")
	}
	return nil
}

func runPublishSegments(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	stageID, _ := cmd.Flags().GetString("stage")
	segmentID, _ := cmd.Flags().GetString("segment")

	env, err := initEnv(ctx, "read")
	if err != nil {
		return err
	}
	defer env.Close()

	out, err := env.Workflow.PublishSegments(ctx, publish.SegmentRequest{StageID: stageID, SegmentID: segmentID})
	if err != nil {
		return eris.Wrap(err, "publish segments")
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Run %s: %d segment results ranked across %d segments\n",
		truncateID(out.RunID), out.Rows, len(out.Boards))
	return nil
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
