package cache

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/storefront/storefront/internal/config"
	"github.com/storefront/storefront/pkg/errors"
	"github.com/storefront/storefront/pkg/recovery"
)

// ServiceName identifies the cache in logs, metrics and health reports.
const ServiceName = "cache"

const defaultOperationTimeout = 2 * time.Second

// ErrCacheMiss matches, via errors.Is, the error returned for a missing key.
var ErrCacheMiss = errors.NewError(errors.ErrCodeObjectNotFound, "cache miss").WithComponent(ServiceName)

// Recorder receives per-operation measurements.
type Recorder interface {
	RecordOperation(service, operation string, duration time.Duration, err error)
	SetActiveSubscriptions(service string, n int)
}

type nopRecorder struct{}

func (nopRecorder) RecordOperation(string, string, time.Duration, error) {}
func (nopRecorder) SetActiveSubscriptions(string, int)                   {}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces the Redis dialer.
func WithDialer(d DialFunc) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithRecorder sets the operation recorder, typically a *metrics.Collector.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// Manager owns the process-wide cache connection and its channel subscriptions.
type Manager struct {
	config     config.CacheConfig
	dialer     DialFunc
	recorder   Recorder
	logger     *zap.Logger
	subs       *Registry
	supervisor *recovery.Supervisor[Transport]
}

// New validates cfg and creates a disconnected manager.
func New(cfg config.CacheConfig, sc recovery.Config, opts ...Option) (*Manager, error) {
	if err := config.ValidateURI("cache.uri", cfg.URI, config.CacheSchemes...); err != nil {
		return nil, err
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaultOperationTimeout
	}
	if sc.Logger == nil {
		sc.Logger = zap.NewNop()
	}

	logger := sc.Logger.Named(ServiceName)
	m := &Manager{
		config:   cfg,
		dialer:   RedisDialer(cfg),
		recorder: nopRecorder{},
		logger:   logger,
		subs:     NewRegistry(logger),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.supervisor = recovery.NewSupervisor[Transport](ServiceName, sc, m.dial, Classify)
	m.supervisor.OnConnect(m.restoreSubscriptions)
	m.supervisor.OnClose(m.closeSubscriptions)
	return m, nil
}

func (m *Manager) dial(ctx context.Context) (Transport, error) {
	return m.dialer(ctx, m.supervisor.Registry())
}

func (m *Manager) restoreSubscriptions(ctx context.Context, reconnected bool) {
	if !reconnected || m.subs.Len() == 0 {
		return
	}

	t, err := m.supervisor.Connection()
	if err != nil {
		m.logger.Warn("Connection lost before subscriptions were restored", zap.Error(err))
		return
	}

	if err := m.subs.Replay(ctx, t); err != nil {
		m.logger.Warn("Some subscriptions were not restored",
			zap.Strings("active", m.subs.Channels()), zap.Error(err))
	} else {
		m.logger.Info("Subscriptions restored", zap.Int("count", m.subs.Len()))
	}
	m.recorder.SetActiveSubscriptions(ServiceName, len(m.activeChannels()))
}

func (m *Manager) closeSubscriptions(context.Context) error {
	err := m.subs.CloseAll()
	m.recorder.SetActiveSubscriptions(ServiceName, 0)
	return err
}

// Connect establishes the connection, see recovery.Supervisor.Connect.
func (m *Manager) Connect(ctx context.Context) error {
	return m.supervisor.Connect(ctx)
}

// Close tears down subscriptions, then the connection.
func (m *Manager) Close(ctx context.Context) error {
	return m.supervisor.Close(ctx)
}

// CheckHealth pings the server.
func (m *Manager) CheckHealth(ctx context.Context) recovery.HealthReport {
	return m.supervisor.CheckHealth(ctx)
}

// Stats returns the monitoring snapshot including active subscriptions.
func (m *Manager) Stats() recovery.Stats {
	stats := m.supervisor.Stats()
	if stats.State == recovery.StateConnected {
		stats.Subscriptions = m.subs.Channels()
	}
	return stats
}

// activeChannels lists the channels delivering messages. Nothing is delivered
// while disconnected, even though the registry keeps every entry for replay.
func (m *Manager) activeChannels() []string {
	if m.supervisor.State() != recovery.StateConnected {
		return nil
	}
	return m.subs.Channels()
}

// State returns the connection state.
func (m *Manager) State() recovery.ConnectionState {
	return m.supervisor.State()
}

// Name returns the service name.
func (m *Manager) Name() string {
	return ServiceName
}

// Get returns the value stored at key, or an error matching ErrCacheMiss.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := m.do(ctx, "get", key, func(ctx context.Context, t Transport) error {
		var err error
		value, err = t.Get(ctx, key)
		return err
	})
	return value, err
}

// Set stores value at key. A zero ttl applies the configured default expiry;
// a negative ttl stores the key without expiry.
func (m *Manager) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	switch {
	case ttl == 0:
		ttl = m.config.DefaultTTL
	case ttl < 0:
		ttl = 0
	}
	return m.do(ctx, "set", key, func(ctx context.Context, t Transport) error {
		return t.Set(ctx, key, value, ttl)
	})
}

// Delete removes keys and reports how many existed.
func (m *Manager) Delete(ctx context.Context, keys ...string) (int64, error) {
	var n int64
	err := m.do(ctx, "delete", "", func(ctx context.Context, t Transport) error {
		var err error
		n, err = t.Delete(ctx, keys...)
		return err
	})
	return n, err
}

// Exists reports whether key is present.
func (m *Manager) Exists(ctx context.Context, key string) (bool, error) {
	var n int64
	err := m.do(ctx, "exists", key, func(ctx context.Context, t Transport) error {
		var err error
		n, err = t.Exists(ctx, key)
		return err
	})
	return n > 0, err
}

// GetJSON decodes the JSON value at key into v.
func (m *Manager) GetJSON(ctx context.Context, key string, v any) error {
	data, err := m.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.NewError(errors.ErrCodeOperationFailed, "decode cached value").
			WithComponent(ServiceName).
			WithOperation("get_json").
			WithContext("key", key).
			WithCause(err)
	}
	return nil
}

// SetJSON stores v encoded as JSON, see Set for ttl.
func (m *Manager) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.NewError(errors.ErrCodeOperationFailed, "encode value").
			WithComponent(ServiceName).
			WithOperation("set_json").
			WithContext("key", key).
			WithCause(err)
	}
	return m.Set(ctx, key, data, ttl)
}

// Publish sends payload on channel and reports how many subscribers received it.
func (m *Manager) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	var n int64
	err := m.do(ctx, "publish", channel, func(ctx context.Context, t Transport) error {
		var err error
		n, err = t.Publish(ctx, channel, payload)
		return err
	})
	return n, err
}

// Subscribe registers handler for channel. Subscribing an already active
// channel is a no-op. Subscriptions are restored after a reconnect.
func (m *Manager) Subscribe(ctx context.Context, channel string, handler Handler) error {
	err := m.do(ctx, "subscribe", channel, func(ctx context.Context, t Transport) error {
		return m.subs.Subscribe(ctx, t, channel, handler)
	})
	m.recorder.SetActiveSubscriptions(ServiceName, len(m.activeChannels()))
	return err
}

// Unsubscribe removes channel. Unknown channels are ignored.
func (m *Manager) Unsubscribe(ctx context.Context, channel string) error {
	err := m.do(ctx, "unsubscribe", channel, func(context.Context, Transport) error {
		return m.subs.Unsubscribe(channel)
	})
	m.recorder.SetActiveSubscriptions(ServiceName, len(m.activeChannels()))
	return err
}

// do runs fn against the live transport with the operation timeout. It never
// retries; recovery belongs to the supervisor.
func (m *Manager) do(ctx context.Context, op, key string, fn func(ctx context.Context, t Transport) error) error {
	start := time.Now()

	t, err := m.supervisor.Connection()
	if err != nil {
		m.recorder.RecordOperation(ServiceName, op, time.Since(start), err)
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, m.config.OperationTimeout)
	defer cancel()

	err = fn(opCtx, t)
	if err != nil {
		err = m.translateError(err, op, key)
	}

	recorded := err
	if errors.IsCode(err, errors.ErrCodeObjectNotFound) {
		recorded = nil
	}
	m.recorder.RecordOperation(ServiceName, op, time.Since(start), recorded)
	return err
}

func (m *Manager) translateError(err error, op, key string) error {
	var e *errors.StorefrontError
	switch {
	case stderrors.Is(err, errMiss):
		e = errors.NewError(errors.ErrCodeObjectNotFound, "cache miss")
	case isTimeout(err):
		e = errors.NewError(errors.ErrCodeOperationTimeout, op+" timed out").WithCause(err)
	case op == "subscribe" || op == "unsubscribe":
		e = errors.NewError(errors.ErrCodeSubscriptionFailed, op+" failed").WithCause(err)
	default:
		e = errors.NewError(errors.ErrCodeOperationFailed, op+" failed").WithCause(err)
	}
	e.WithComponent(ServiceName).WithOperation(op)
	if key != "" {
		e.WithContext("key", key)
	}
	return e
}

func isTimeout(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}
