package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/keo-sports/stage-engine/internal/classification"
	"github.com/keo-sports/stage-engine/internal/db"
	"github.com/keo-sports/stage-engine/internal/export"
	"github.com/keo-sports/stage-engine/internal/publish"
	"github.com/keo-sports/stage-engine/internal/resilience"
	"github.com/keo-sports/stage-engine/internal/standings"
	"github.com/keo-sports/stage-engine/internal/store"
	"github.com/keo-sports/stage-engine/pkg/finalizer"
)

// engineEnv holds the services shared by commands.
type engineEnv struct {
	Store     store.Store
	Scales    classification.ScaleTable
	Standings *standings.Service
	Workflow  *publish.Workflow
}

// Close releases the store.
func (e *engineEnv) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

// initEnv validates config for mode, opens and migrates the store, and
// builds the read and publish services.
func initEnv(ctx context.Context, mode string) (*engineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}

	scales, err := loadScales(cfg.Scoring.ScaleFile)
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	return &engineEnv{
		Store:     st,
		Scales:    scales,
		Standings: standings.New(st, scales),
		Workflow: publish.New(st, initFinalizer(), publish.Options{
			Scales:          scales,
			Retry:           resilience.NewRetryConfig(cfg.Finalizer.Retry.MaxAttempts, cfg.Finalizer.Retry.InitialBackoffMs, cfg.Finalizer.Retry.MaxBackoffMs),
			Breaker:         resilience.NewCircuitBreakerConfig(cfg.Finalizer.Breaker.FailureThreshold, cfg.Finalizer.Breaker.ResetTimeoutSecs),
			MaxQueueRetries: cfg.Finalizer.MaxQueueRetries,
		}),
	}, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &db.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initFinalizer returns nil when no finalizer URL is configured.
func initFinalizer() finalizer.Client {
	f := cfg.Finalizer
	if f.URL == "" {
		zap.L().Debug("finalizer.url not set; stage publishes will not be finalized")
		return nil
	}
	return finalizer.NewClient(f.URL, f.APIKey,
		finalizer.WithTimeout(time.Duration(f.TimeoutSecs)*time.Second),
		finalizer.WithRateLimit(f.RatePerSec, 1),
	)
}

// loadScales reads the optional YAML scale override.
func loadScales(path string) (classification.ScaleTable, error) {
	if path == "" {
		return classification.DefaultScaleTable(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return classification.ScaleTable{}, eris.Wrapf(err, "open scale file %s", path)
	}
	defer f.Close() //nolint:errcheck

	return classification.LoadScaleTable(f)
}

// writeOutput renders t (or raw, for JSON) per the --format and --output
// flags.
func writeOutput(cmd *cobra.Command, t export.Table, raw any) error {
	formatFlag, _ := cmd.Flags().GetString("format")
	outputPath, _ := cmd.Flags().GetString("output")

	format, err := export.ParseFormat(formatFlag)
	if err != nil {
		return err
	}

	var out io.Writer = cmd.OutOrStdout()
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return eris.Wrapf(err, "create output file %s", outputPath)
		}
		defer f.Close() //nolint:errcheck
		out = f
	} else if format.Binary() {
		return eris.Errorf("--format %s requires --output", format)
	}

	if err := export.Write(out, format, t, raw); err != nil {
		return err
	}
	if outputPath != "" {
		zap.L().Info("wrote output", zap.String("path", outputPath), zap.String("format", string(format)), zap.Int("rows", len(t.Rows)))
	}
	return nil
}
