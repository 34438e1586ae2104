package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/storefront/storefront/pkg/errors"
	"github.com/storefront/storefront/pkg/recovery"
	"github.com/storefront/storefront/pkg/retry"
)

type checkOptions struct {
	attempts int
	delay    time.Duration
	logger   *zap.Logger
}

// connector is the part of a manager the check drives.
type connector interface {
	Name() string
	Connect(ctx context.Context) error
	State() recovery.ConnectionState
	CheckHealth(ctx context.Context) recovery.HealthReport
}

func newCheckCommand(configPath *string) *cobra.Command {
	opts := checkOptions{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Connect to the database and cache once and print their health as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.close(shutdownTimeout); err != nil {
					a.logger.Warn("Close failed", zap.Error(err))
				}
			}()
			opts.logger = a.logger
			return runCheck(cmd.Context(), cmd.OutOrStdout(), opts, a.database, a.cache)
		},
	}
	cmd.Flags().IntVar(&opts.attempts, "attempts", 3, "connect attempts per service")
	cmd.Flags().DurationVar(&opts.delay, "delay", time.Second, "delay between connect attempts")
	return cmd
}

func runCheck(ctx context.Context, out io.Writer, opts checkOptions, services ...connector) error {
	logger := opts.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	base := retry.New(retry.DefaultConfig()).
		WithMaxAttempts(opts.attempts).
		WithDelay(opts.delay)

	reports := make([]recovery.HealthReport, 0, len(services))
	for _, svc := range services {
		name := svc.Name()
		retryer := base.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			logger.Info("Service not ready, retrying",
				zap.String("service", name),
				zap.Int("attempt", attempt),
				zap.Duration("retry_in", delay),
				zap.Error(err))
		})
		_ = retryer.DoWithContext(ctx, func(ctx context.Context) error {
			if err := svc.Connect(ctx); err != nil {
				return err
			}
			if state := svc.State(); state != recovery.StateConnected {
				return errors.NotConnected(svc.Name(), state.String())
			}
			return nil
		})
		reports = append(reports, svc.CheckHealth(ctx))
	}

	data, err := json.MarshalIndent(reports, "", "  ")
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(out, string(data)); err != nil {
		return err
	}

	var unhealthy []string
	for _, r := range reports {
		if !r.Healthy() {
			unhealthy = append(unhealthy, r.Service)
		}
	}
	if len(unhealthy) > 0 {
		return errors.NewError(errors.ErrCodeHealthCheckFailed, fmt.Sprintf("unhealthy services: %v", unhealthy)).
			WithComponent(cliName).
			WithOperation("check")
	}
	return nil
}
