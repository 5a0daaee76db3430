package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/keo-sports/stage-engine/internal/export"
)

var stagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "List the stages of an event with their derived status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		eventID, _ := cmd.Flags().GetString("event")
		env, err := initEnv(cmd.Context(), "read")
		if err != nil {
			return err
		}
		defer env.Close()

		rows, err := env.Standings.EventStages(cmd.Context(), eventID)
		if err != nil {
			return eris.Wrapf(err, "stages: event %s", eventID)
		}
		return writeOutput(cmd, export.StagesTable(eventID, rows), rows)
	},
}

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "List the results of a stage ranked by elapsed time",
	RunE: func(cmd *cobra.Command, _ []string) error {
		stageID, _ := cmd.Flags().GetString("stage")
		env, err := initEnv(cmd.Context(), "read")
		if err != nil {
			return err
		}
		defer env.Close()

		view, err := env.Standings.StageResults(cmd.Context(), stageID)
		if err != nil {
			return eris.Wrapf(err, "results: stage %s", stageID)
		}
		return writeOutput(cmd, export.ResultsTable(view), view)
	},
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Print the General Classification of an event",
	Long: `Prints the General Classification: one column per stage, the total of
official stage times, and the gap to the leader. Registered participants
without results are listed with a dash.

Examples:
  gc --event volta-2026
  gc --event volta-2026 --format xlsx --output gc.xlsx`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		eventID, _ := cmd.Flags().GetString("event")
		env, err := initEnv(cmd.Context(), "read")
		if err != nil {
			return err
		}
		defer env.Close()

		view, err := env.Standings.GeneralClassification(cmd.Context(), eventID)
		if err != nil {
			return eris.Wrapf(err, "gc: event %s", eventID)
		}
		return writeOutput(cmd, export.GCTable(view), view)
	},
}

var komCmd = &cobra.Command{
	Use:   "kom",
	Short: "Print the Mountain Classification of an event",
	RunE: func(cmd *cobra.Command, _ []string) error {
		eventID, _ := cmd.Flags().GetString("event")
		env, err := initEnv(cmd.Context(), "read")
		if err != nil {
			return err
		}
		defer env.Close()

		view, err := env.Standings.KOMClassification(cmd.Context(), eventID)
		if err != nil {
			return eris.Wrapf(err, "kom: event %s", eventID)
		}
		return writeOutput(cmd, export.KOMTable(view), view)
	},
}

var segmentsCmd = &cobra.Command{
	Use:   "segments",
	Short: "Show the segment review board of a stage",
	RunE: func(cmd *cobra.Command, _ []string) error {
		stageID, _ := cmd.Flags().GetString("stage")
		env, err := initEnv(cmd.Context(), "read")
		if err != nil {
			return err
		}
		defer env.Close()

		view, err := env.Standings.StageSegmentBoard(cmd.Context(), stageID)
		if err != nil {
			return eris.Wrapf(err, "segments: stage %s", stageID)
		}
		return writeOutput(cmd, export.BoardTable(view), view)
	},
}

func init() {
	for _, c := range []*cobra.Command{stagesCmd, gcCmd, komCmd} {
		c.Flags().String("event", "", "event id (required)")
		_ = c.MarkFlagRequired("event")
	}
	for _, c := range []*cobra.Command{resultsCmd, segmentsCmd} {
		c.Flags().String("stage", "", "stage id (required)")
		_ = c.MarkFlagRequired("stage")
	}

	rootCmd.AddCommand(stagesCmd, resultsCmd, gcCmd, komCmd, segmentsCmd)
}
