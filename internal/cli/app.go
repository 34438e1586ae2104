package cli

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/storefront/storefront/internal/config"
	"github.com/storefront/storefront/internal/metrics"
	"github.com/storefront/storefront/internal/storage/cache"
	"github.com/storefront/storefront/internal/storage/database"
	"github.com/storefront/storefront/pkg/logging"
)

// app holds the process-wide managers. Exactly one of each is built per
// process and handed to whoever needs it.
type app struct {
	config   *config.Configuration
	logger   *zap.Logger
	metrics  *metrics.Collector
	database *database.Manager
	cache    *cache.Manager
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging())
	if err != nil {
		return nil, err
	}

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Monitoring.Metrics.Enabled,
		Namespace: cfg.Monitoring.Metrics.Namespace,
	})
	if err != nil {
		return nil, err
	}

	dbConfig := cfg.SupervisorConfig(database.ServiceName)
	dbConfig.Logger = logger
	dbConfig.Observer = collector
	db, err := database.New(cfg.Database, dbConfig)
	if err != nil {
		return nil, err
	}

	cacheConfig := cfg.SupervisorConfig(cache.ServiceName)
	cacheConfig.Logger = logger
	cacheConfig.Observer = collector
	c, err := cache.New(cfg.Cache, cacheConfig, cache.WithRecorder(collector))
	if err != nil {
		_ = db.Close(context.Background())
		return nil, err
	}

	return &app{
		config:   cfg,
		logger:   logger,
		metrics:  collector,
		database: db,
		cache:    c,
	}, nil
}

// connect starts both managers. A failed initial connect is logged and left
// to background recovery.
func (a *app) connect(ctx context.Context) {
	if err := a.database.Connect(ctx); err != nil {
		a.logger.Warn("Initial database connect failed", zap.Error(err))
	}
	if err := a.cache.Connect(ctx); err != nil {
		a.logger.Warn("Initial cache connect failed", zap.Error(err))
	}
}

// close shuts down the cache before the database.
func (a *app) close(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var err error
	err = multierr.Append(err, a.cache.Close(ctx))
	err = multierr.Append(err, a.database.Close(ctx))
	_ = a.logger.Sync()
	return err
}
