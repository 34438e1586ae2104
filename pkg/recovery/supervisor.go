package recovery

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/storefront/storefront/pkg/backoff"
	"github.com/storefront/storefront/pkg/errors"
)

// Connection is a live handle to a backing service.
type Connection interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Dialer builds and verifies a new handle. When verification fails the dialer
// may return the unverified handle along with the error; the supervisor keeps
// it on standby, still raising lifecycle signals, until the next attempt or Close.
type Dialer[C Connection] func(ctx context.Context) (C, error)

// ConnectHook runs after every entry into Connected.
type ConnectHook func(ctx context.Context, reconnected bool)

// CloseHook runs during Close before the handle is released.
type CloseHook func(ctx context.Context) error

// Supervisor owns one connection handle and is the only authority over its
// state transitions and reconnect scheduling.
type Supervisor[C Connection] struct {
	name     string
	id       string
	config   Config
	dial     Dialer[C]
	classify Classifier
	backoff  *backoff.Calculator
	logger   *zap.Logger
	observer Observer
	registry *Registry
	health   *HealthMonitor
	sched    scheduler

	// ctx is cancelled by Close to abort in-flight dials and probes.
	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	state         ConnectionState
	conn          C
	hasConn       bool
	verified      bool
	generation    uint64
	everConnected bool
	connectedAt   time.Time
	retry         RetryContext
	exhausted     bool
	pending       *task
	lastHealth    *HealthReport
	recent        *errorRing
	attempts      uint64
	reconnects    uint64
	cycles        uint64
	onConnect     []ConnectHook
	onClose       []CloseHook

	closeOnce sync.Once
	closeErr  error
}

// NewSupervisor creates a supervisor in the Disconnected state. The classifier may be nil.
func NewSupervisor[C Connection](name string, config Config, dial Dialer[C], classify Classifier) *Supervisor[C] {
	config = config.withDefaults()
	if classify == nil {
		classify = DefaultClassifier
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger := config.Logger.Named(name)

	s := &Supervisor[C]{
		name:     name,
		id:       uuid.NewString(),
		config:   config,
		dial:     dial,
		classify: Chain(classify, DefaultClassifier),
		backoff:  backoff.New(config.BaseDelay, config.MaxDelay, config.Jitter, config.Seed),
		logger:   logger,
		observer: config.Observer,
		registry: NewRegistry(logger),
		ctx:      ctx,
		cancel:   cancel,
		state:    StateDisconnected,
		recent:   newErrorRing(config.RecentErrors),
		retry: RetryContext{
			MaxAttempts: config.MaxAttempts,
			BaseDelay:   config.BaseDelay,
			MaxDelay:    config.MaxDelay,
		},
	}
	s.health = newHealthMonitor(config.HealthCheckInterval, &s.sched, s.healthTick)
	_ = s.registry.Bind(s)
	return s
}

// Name returns the service name.
func (s *Supervisor[C]) Name() string { return s.name }

// Registry returns the listener registry drivers raise lifecycle signals on.
func (s *Supervisor[C]) Registry() *Registry { return s.registry }

// OnConnect registers a hook run after every successful connect.
func (s *Supervisor[C]) OnConnect(h ConnectHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnect = append(s.onConnect, h)
}

// OnClose registers a hook run during Close.
func (s *Supervisor[C]) OnClose(h CloseHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = append(s.onClose, h)
}

// Connect establishes the connection. It is a no-op while connected or while
// another attempt is in flight, and restarts an exhausted retry cycle.
func (s *Supervisor[C]) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return errors.ManagerClosed(s.name).WithOperation("connect")
	case StateConnected:
		s.mu.Unlock()
		return nil
	case StateConnecting:
		s.mu.Unlock()
		s.logger.Debug("Connect already in progress")
		return nil
	}

	s.pending.cancel()
	s.pending = nil
	s.exhausted = false
	s.retry.reset()
	old, hadOld := s.beginAttemptLocked()
	s.mu.Unlock()

	return s.attempt(ctx, old, hadOld)
}

// Connection returns the live handle, failing fast unless Connected.
func (s *Supervisor[C]) Connection() (C, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero C
	switch {
	case s.state == StateClosed:
		return zero, errors.ManagerClosed(s.name)
	case s.state != StateConnected || !s.hasConn:
		return zero, errors.NotConnected(s.name, s.state.String())
	}
	return s.conn, nil
}

// State returns the current state.
func (s *Supervisor[C]) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnConnected handles a connected or reconnected signal. A driver that
// recovered on its own while we were waiting to reconnect is adopted. A
// standby handle is never adopted; its signal can only restart an exhausted cycle.
func (s *Supervisor[C]) OnConnected() {
	s.mu.Lock()
	if s.state != StateDisconnected || !s.hasConn {
		s.mu.Unlock()
		return
	}
	if !s.verified {
		s.resumeLocked()
		s.mu.Unlock()
		return
	}

	s.pending.cancel()
	s.pending = nil
	s.exhausted = false
	s.retry.succeed()
	s.connectedAt = time.Now()
	s.reconnects++
	s.setStateLocked(StateConnected)
	s.health.Start()
	hooks := append([]ConnectHook(nil), s.onConnect...)
	s.mu.Unlock()

	s.logger.Info("Connection restored by driver")
	s.sched.goTracked(func() { s.runConnectHooks(s.ctx, hooks, true) })
}

// resumeLocked restarts an exhausted cycle once the standby handle reports the
// service reachable. While a cycle is running the backoff schedule stands.
func (s *Supervisor[C]) resumeLocked() {
	if !s.exhausted || s.pending != nil {
		s.logger.Debug("Standby reports service reachable, retry already scheduled")
		return
	}
	s.exhausted = false
	s.retry.reset()
	s.scheduleLocked(s.config.DisconnectSettleDelay)
	s.logger.Info("Service reachable again, restarting exhausted retry cycle",
		zap.Duration("settle_delay", s.config.DisconnectSettleDelay))
}

// OnDisconnected handles a disconnected signal.
func (s *Supervisor[C]) OnDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnectLocked("connection lost", nil)
}

// OnError handles a lifecycle error. An exhausted cycle restarts with a fresh attempt counter.
func (s *Supervisor[C]) OnError(err error) {
	class := s.classify(err)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}
	s.recordErrorLocked(err, class)

	if s.recoveringLocked() {
		s.logger.Debug("Recovery already in progress, ignoring error",
			zap.String("class", string(class)), zap.Error(err))
		return
	}

	if s.exhausted {
		s.logger.Info("Restarting exhausted retry cycle", zap.String("class", string(class)))
		s.exhausted = false
		s.retry.reset()
	}

	delay := s.settleDelay(class)
	s.logger.Error("Connection error",
		zap.String("class", string(class)), zap.Duration("settle_delay", delay), zap.Error(err))

	s.setStateLocked(StateDisconnected)
	s.health.Stop()
	s.scheduleLocked(delay)
}

// CheckHealth probes the connection on demand. The report is recorded but
// never triggers recovery.
func (s *Supervisor[C]) CheckHealth(ctx context.Context) HealthReport {
	s.mu.Lock()
	state, conn, ok, gen := s.state, s.conn, s.hasConn, s.generation
	s.mu.Unlock()

	var report HealthReport
	if state != StateConnected || !ok {
		report = disconnectedReport(s.name, state)
	} else {
		report = RunProbe(ctx, s.name, s.config.HealthCheckTimeout, conn.Ping)
	}

	s.mu.Lock()
	if gen == s.generation {
		s.lastHealth = &report
	}
	s.mu.Unlock()

	s.observer.HealthChecked(s.name, report)
	return report
}

// Stats returns a monitoring snapshot.
func (s *Supervisor[C]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		Name:             s.name,
		InstanceID:       s.id,
		State:            s.state,
		Connected:        s.state == StateConnected,
		Retry:            s.retry,
		TotalAttempts:    s.attempts,
		Reconnects:       s.reconnects,
		ExhaustedCycles:  s.cycles,
		Exhausted:        s.exhausted,
		ReconnectPending: s.pending != nil,
		Standby:          s.hasConn && !s.verified,
		RecentErrors:     s.recent.list(),
	}
	if s.retry.LastError != nil {
		last := *s.retry.LastError
		stats.Retry.LastError = &last
	}
	if !s.connectedAt.IsZero() {
		at := s.connectedAt
		stats.ConnectedAt = &at
		if s.state == StateConnected {
			stats.Uptime = time.Since(at)
		}
	}
	if s.lastHealth != nil {
		h := *s.lastHealth
		stats.LastHealth = &h
	}
	return stats
}

// Close shuts the supervisor down exactly once. Timers are cancelled before
// the handle is closed; every resource is released even when a step fails.
func (s *Supervisor[C]) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closeErr = s.close(ctx)
	})
	return s.closeErr
}

func (s *Supervisor[C]) close(ctx context.Context) error {
	s.logger.Info("Closing connection manager")

	s.mu.Lock()
	s.setStateLocked(StateClosed)
	s.pending.cancel()
	s.pending = nil
	s.health.Stop()
	conn, hadConn := s.detachLocked()
	hooks := append([]CloseHook(nil), s.onClose...)
	s.mu.Unlock()

	s.cancel()

	var err error
	for _, h := range hooks {
		err = multierr.Append(err, runCloseHook(ctx, h))
	}
	if hadConn {
		err = multierr.Append(err, conn.Close(ctx))
	}

	s.sched.wait()

	if err != nil {
		s.logger.Warn("Connection manager closed with errors", zap.Error(err))
		return errors.NewError(errors.ErrCodeInternalError, "close failed").
			WithComponent(s.name).
			WithOperation("close").
			WithCause(err)
	}
	s.logger.Info("Connection manager closed")
	return nil
}

func runCloseHook(ctx context.Context, h CloseHook) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("close hook panicked: %v", r)
		}
	}()
	return h(ctx)
}

// beginAttemptLocked enters Connecting and detaches the current handle,
// which the caller closes before dialing.
func (s *Supervisor[C]) beginAttemptLocked() (C, bool) {
	s.retry.begin(time.Now())
	s.setStateLocked(StateConnecting)
	s.health.Stop()
	return s.detachLocked()
}

// attempt closes the replaced handle and dials once.
func (s *Supervisor[C]) attempt(ctx context.Context, old C, hadOld bool) error {
	if hadOld {
		s.closeHandle(old)
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.config.ConnectTimeout)
	stop := context.AfterFunc(s.ctx, cancel)
	conn, err := s.dial(dialCtx)
	stop()
	cancel()

	if err != nil {
		return s.attemptFailed(err, conn)
	}
	return s.attemptSucceeded(ctx, conn)
}

// attemptFailed records a failed dial. An unverified handle returned with the
// error is kept on standby.
func (s *Supervisor[C]) attemptFailed(err error, standby C) error {
	class := s.classify(err)
	hasStandby := !isNil(standby)

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		if hasStandby {
			s.closeHandle(standby)
		}
		return errors.ManagerClosed(s.name).WithOperation("connect")
	}
	if hasStandby {
		s.conn = standby
		s.hasConn = true
		s.verified = false
		s.generation++
	}

	s.attempts++
	s.retry.CurrentAttempt++
	attempt := s.retry.CurrentAttempt
	s.recordErrorLocked(err, class)
	s.setStateLocked(StateDisconnected)

	if s.retry.exhausted() {
		s.exhausted = true
		s.cycles++
		elapsed := s.retry.Elapsed(time.Now())
		exhaustedErr := errors.NewError(errors.ErrCodeRetryExhausted, "connection attempts exhausted").
			WithComponent(s.name).
			WithOperation("connect").
			WithDetail("attempts", attempt).
			WithDetail("elapsed", elapsed.String()).
			WithCause(err)
		s.recordErrorLocked(exhaustedErr, class)
		s.mu.Unlock()

		s.observer.AttemptFinished(s.name, attempt, err)
		s.observer.RetryExhausted(s.name, attempt, elapsed)
		s.logger.Error("Retry attempts exhausted",
			zap.Int("attempts", attempt),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))

		return exhaustedErr
	}

	delay := s.backoff.Delay(attempt)
	s.scheduleLocked(delay)
	s.mu.Unlock()

	s.observer.AttemptFinished(s.name, attempt, err)
	s.logger.Warn("Connection attempt failed",
		zap.Int("attempt", attempt),
		zap.Int("max_attempts", s.config.MaxAttempts),
		zap.Duration("retry_in", delay),
		zap.String("class", string(class)),
		zap.Error(err))

	return errors.NewError(codeFor(class), "failed to establish connection").
		WithComponent(s.name).
		WithOperation("connect").
		WithDetail("attempt", attempt).
		WithCause(err)
}

func (s *Supervisor[C]) attemptSucceeded(ctx context.Context, conn C) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		s.closeHandle(conn)
		return errors.ManagerClosed(s.name).WithOperation("connect")
	}

	s.attempts++
	attempt := s.retry.CurrentAttempt + 1
	elapsed := s.retry.Elapsed(time.Now())
	reconnected := s.everConnected
	if reconnected {
		s.reconnects++
	}
	s.everConnected = true
	s.conn = conn
	s.hasConn = true
	s.verified = true
	s.generation++
	s.connectedAt = time.Now()
	s.exhausted = false
	s.retry.succeed()
	s.setStateLocked(StateConnected)
	s.health.Start()
	hooks := append([]ConnectHook(nil), s.onConnect...)
	s.mu.Unlock()

	s.observer.AttemptFinished(s.name, attempt, nil)
	s.logger.Info("Connection established",
		zap.Int("attempt", attempt),
		zap.Bool("reconnected", reconnected),
		zap.Duration("elapsed", elapsed))

	s.runConnectHooks(ctx, hooks, reconnected)
	return nil
}

func (s *Supervisor[C]) runConnectHooks(ctx context.Context, hooks []ConnectHook, reconnected bool) {
	for _, h := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("Connect hook panicked", zap.Any("panic", r))
				}
			}()
			h(ctx, reconnected)
		}()
	}
}

// reconnect is the body of a scheduled reconnect timer.
func (s *Supervisor[C]) reconnect(t *task) {
	s.mu.Lock()
	if s.pending != t || s.state != StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	old, hadOld := s.beginAttemptLocked()
	s.mu.Unlock()

	_ = s.attempt(s.ctx, old, hadOld)
}

func (s *Supervisor[C]) scheduleLocked(delay time.Duration) {
	s.retry.begin(time.Now())
	s.pending.cancel()
	s.pending = s.sched.after(delay, s.reconnect)
}

// recoveringLocked reports whether a recovery is already under way.
func (s *Supervisor[C]) recoveringLocked() bool {
	return s.state == StateConnecting || s.pending != nil
}

// disconnectLocked is the single recovery entry point for disconnect signals
// and failed health reports.
func (s *Supervisor[C]) disconnectLocked(reason string, cause error) {
	switch {
	case s.state == StateClosed:
		return
	case s.recoveringLocked():
		s.logger.Debug("Recovery already in progress, ignoring disconnect", zap.String("reason", reason))
		return
	case s.exhausted:
		s.logger.Debug("Retry cycle exhausted, ignoring disconnect", zap.String("reason", reason))
		return
	}

	if cause != nil {
		s.recordErrorLocked(cause, ClassUnknown)
	}
	s.setStateLocked(StateDisconnected)
	s.health.Stop()
	s.scheduleLocked(s.config.DisconnectSettleDelay)

	s.logger.Warn("Connection lost, scheduling reconnect",
		zap.String("reason", reason),
		zap.Duration("settle_delay", s.config.DisconnectSettleDelay))
}

func (s *Supervisor[C]) healthTick() {
	s.mu.Lock()
	if s.state != StateConnected || !s.hasConn {
		s.mu.Unlock()
		return
	}
	conn, gen := s.conn, s.generation
	s.mu.Unlock()

	report := RunProbe(s.ctx, s.name, s.config.HealthCheckTimeout, conn.Ping)

	s.mu.Lock()
	if gen != s.generation || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.lastHealth = &report
	if !report.Healthy() && s.state == StateConnected {
		s.setStateLocked(StateDegraded)
		s.disconnectLocked("health check failed",
			errors.NewError(errors.ErrCodeHealthCheckFailed, report.Detail).WithComponent(s.name))
	}
	s.mu.Unlock()

	s.observer.HealthChecked(s.name, report)
}

func (s *Supervisor[C]) settleDelay(class ErrorClass) time.Duration {
	switch class {
	case ClassTopology:
		return s.config.TopologySettleDelay
	case ClassAuth:
		return s.config.AuthSettleDelay
	default:
		return s.config.DisconnectSettleDelay
	}
}

func (s *Supervisor[C]) detachLocked() (C, bool) {
	conn, ok := s.conn, s.hasConn
	var zero C
	s.conn = zero
	s.hasConn = false
	s.verified = false
	s.generation++
	return conn, ok
}

// isNil reports whether c holds no handle, including a typed nil pointer.
func isNil[C Connection](c C) bool {
	v := reflect.ValueOf(any(c))
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}

func (s *Supervisor[C]) closeHandle(conn C) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ConnectTimeout)
	defer cancel()
	if err := conn.Close(ctx); err != nil {
		s.logger.Warn("Error closing replaced connection", zap.Error(err))
	}
}

func (s *Supervisor[C]) recordErrorLocked(err error, class ErrorClass) {
	snap := snapshotError(err, class, time.Now())
	if snap == nil {
		return
	}
	s.retry.LastError = snap
	s.recent.add(*snap)
}

func (s *Supervisor[C]) setStateLocked(to ConnectionState) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	s.observer.StateChanged(s.name, from, to)
	s.logger.Debug("State changed",
		zap.Stringer("from", from),
		zap.Stringer("to", to))
}

var _ Listener = (*Supervisor[Connection])(nil)
