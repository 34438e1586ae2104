package database

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"

	"github.com/storefront/storefront/internal/config"
	"github.com/storefront/storefront/pkg/errors"
	"github.com/storefront/storefront/pkg/recovery"
)

// ServiceName identifies the database in logs, metrics and health reports.
const ServiceName = "database"

const appName = "storefront"

// handle is one verified client.
type handle struct {
	client  *mongo.Client
	monitor *heartbeatMonitor
}

func (h *handle) Ping(ctx context.Context) error {
	return h.client.Ping(ctx, readpref.Primary())
}

func (h *handle) Close(ctx context.Context) error {
	h.monitor.stop()
	return h.client.Disconnect(ctx)
}

// Manager owns the process-wide MongoDB client.
type Manager struct {
	config     config.DatabaseConfig
	supervisor *recovery.Supervisor[*handle]
	logger     *zap.Logger
}

// New validates cfg and creates a disconnected manager.
func New(cfg config.DatabaseConfig, sc recovery.Config) (*Manager, error) {
	if err := config.ValidateURI("database.uri", cfg.URI, config.DatabaseSchemes...); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		return nil, errors.NewError(errors.ErrCodeMissingConfig, "database.name is required").
			WithComponent(ServiceName)
	}
	if sc.Logger == nil {
		sc.Logger = zap.NewNop()
	}

	m := &Manager{
		config: cfg,
		logger: sc.Logger.Named(ServiceName),
	}
	m.supervisor = recovery.NewSupervisor(ServiceName, sc, m.dial, Classify)
	return m, nil
}

func (m *Manager) dial(ctx context.Context) (*handle, error) {
	monitor := newHeartbeatMonitor(m.supervisor.Registry())

	opts := options.Client().
		ApplyURI(m.config.URI).
		SetAppName(appName).
		SetServerMonitor(monitor.serverMonitor())
	if m.config.ConnectTimeout > 0 {
		opts.SetConnectTimeout(m.config.ConnectTimeout)
	}
	if m.config.ServerSelectionTimeout > 0 {
		opts.SetServerSelectionTimeout(m.config.ServerSelectionTimeout)
	}
	if m.config.HeartbeatInterval > 0 {
		opts.SetHeartbeatInterval(m.config.HeartbeatInterval)
	}

	client, err := mongo.Connect(opts)
	if err != nil {
		monitor.stop()
		return nil, err
	}

	// An unreachable server fails the ping, not Connect. The client keeps
	// monitoring, so it goes back to the supervisor as a standby handle.
	h := &handle{client: client, monitor: monitor}
	if err := h.Ping(ctx); err != nil {
		m.logger.Debug("Client failed verification, keeping it on standby", zap.Error(err))
		return h, err
	}
	return h, nil
}

// Connect establishes the connection, see recovery.Supervisor.Connect.
func (m *Manager) Connect(ctx context.Context) error {
	return m.supervisor.Connect(ctx)
}

// Close disconnects the client and cancels any pending reconnect.
func (m *Manager) Close(ctx context.Context) error {
	return m.supervisor.Close(ctx)
}

// CheckHealth pings the primary.
func (m *Manager) CheckHealth(ctx context.Context) recovery.HealthReport {
	return m.supervisor.CheckHealth(ctx)
}

// Stats returns the monitoring snapshot.
func (m *Manager) Stats() recovery.Stats {
	return m.supervisor.Stats()
}

// State returns the connection state.
func (m *Manager) State() recovery.ConnectionState {
	return m.supervisor.State()
}

// Name returns the service name.
func (m *Manager) Name() string {
	return ServiceName
}

// Client returns the live client.
func (m *Manager) Client() (*mongo.Client, error) {
	h, err := m.supervisor.Connection()
	if err != nil {
		return nil, err
	}
	return h.client, nil
}

// Database returns the configured database.
func (m *Manager) Database() (*mongo.Database, error) {
	client, err := m.Client()
	if err != nil {
		return nil, err
	}
	return client.Database(m.config.Name), nil
}

// Collection returns a collection of the configured database.
func (m *Manager) Collection(name string) (*mongo.Collection, error) {
	db, err := m.Database()
	if err != nil {
		return nil, err
	}
	return db.Collection(name), nil
}
