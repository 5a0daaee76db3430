package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/keo-sports/stage-engine/internal/ingest"
	"github.com/keo-sports/stage-engine/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initEnv(cmd.Context(), "migrate")
		if err != nil {
			return err
		}
		defer env.Close()

		zap.L().Info("schema up to date", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load events, stages, segments and results from a JSON fixture",
	Long: `Loads a JSON fixture into the store. Rows are upserted by id, so
re-running the same fixture is safe.

Fixture keys: events, stages, segments, stage_results, segment_results,
participants, profiles.

Examples:
  seed --file testdata/volta.json`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().String("file", "", "fixture JSON file (required)")
	_ = seedCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(migrateCmd, seedCmd)
}

func runSeed(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	path, _ := cmd.Flags().GetString("file")

	fixture, err := ingest.DecodeJSONFile[store.Fixture](path)
	if err != nil {
		return eris.Wrapf(err, "seed: read %s", path)
	}

	env, err := initEnv(ctx, "migrate")
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.Store.Load(ctx, *fixture); err != nil {
		return eris.Wrap(err, "seed: load fixture")
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(),
		"Loaded %d events, %d stages, %d segments, %d stage results, %d segment results, %d participants, %d profiles\n",
		len(fixture.Events), len(fixture.Stages), len(fixture.Segments),
		len(fixture.StageResults), len(fixture.SegmentResults),
		len(fixture.Participants), len(fixture.Profiles))
	return nil
}
