package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/keo-sports/stage-engine/internal/api"
	"github.com/keo-sports/stage-engine/internal/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve standings and reviewer publish actions over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		router := api.NewRouter(api.Deps{
			Standings: env.Standings,
			Publisher: env.Workflow,
			Health:    env.Store,
		}, api.Options{
			JWTSecret:   cfg.Auth.JWTSecret,
			CORSOrigins: cfg.Server.CORSOrigins,
		})
		srv := api.NewServer(cfg.Server.Port, router)

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store, env.Workflow),
				monitoring.NewAlerter(cfg.Monitoring),
				env.Workflow,
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			if err := srv.Shutdown(context.WithoutCancel(ctx)); err != nil {
				zap.L().Error("shutdown", zap.Error(err))
			}
		}()

		return srv.Run()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
