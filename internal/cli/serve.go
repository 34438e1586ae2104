package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/storefront/storefront/pkg/api"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to the database and cache and serve the status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, *configPath)
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}

	a.logger.Info("Starting storefront",
		zap.String("api_address", a.config.Monitoring.API.Address),
		zap.Bool("metrics", a.metrics.Enabled()))

	a.connect(ctx)

	apiConfig := api.DefaultServerConfig()
	apiConfig.Address = a.config.Monitoring.API.Address
	apiConfig.EnableCORS = a.config.Monitoring.API.EnableCORS
	server := api.NewServer(apiConfig, a.logger, a.metrics, a.database, a.cache)
	server.StartBackground()

	<-ctx.Done()
	a.logger.Info("Shutting down storefront")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("API server forced to shut down", zap.Error(err))
	}

	if err := a.close(shutdownTimeout); err != nil {
		a.logger.Error("Shutdown completed with errors", zap.Error(err))
		return err
	}
	a.logger.Info("Storefront stopped")
	return nil
}
