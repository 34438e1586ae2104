package recovery

import (
	stderrors "errors"
	"sync"

	"go.uber.org/zap"
)

// Listener is the narrow capability set driven by lifecycle signals.
type Listener interface {
	OnConnected()
	OnDisconnected()
	OnError(err error)
}

// Signal is a lifecycle event raised by a driver.
type Signal int

const (
	// SignalConnected is the first successful contact with the service.
	SignalConnected Signal = iota
	// SignalDisconnected reports a lost transport.
	SignalDisconnected
	// SignalError reports a failure carrying an error, such as rejected credentials.
	SignalError
	// SignalReconnected is a successful contact after a failure.
	SignalReconnected
)

// String returns the signal name used in logs.
func (s Signal) String() string {
	switch s {
	case SignalConnected:
		return "connected"
	case SignalDisconnected:
		return "disconnected"
	case SignalError:
		return "error"
	case SignalReconnected:
		return "reconnected"
	default:
		return "unknown"
	}
}

// ErrAlreadyBound is returned by Bind on a registry that already has a listener.
var ErrAlreadyBound = stderrors.New("listener registry already bound")

// Registry translates driver signals into Listener calls. It is bound once
// and shared by every handle a manager builds.
type Registry struct {
	mu       sync.RWMutex
	listener Listener
	logger   *zap.Logger
}

// NewRegistry creates an unbound registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{logger: logger}
}

// Bind attaches the listener for the lifetime of the registry.
func (r *Registry) Bind(l Listener) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener != nil {
		return ErrAlreadyBound
	}
	r.listener = l
	return nil
}

// Dispatch delivers one signal. Signals raised before Bind are dropped.
func (r *Registry) Dispatch(sig Signal, err error) {
	r.mu.RLock()
	l := r.listener
	r.mu.RUnlock()

	if l == nil {
		r.logger.Debug("Dropping signal before listener bound", zap.Stringer("signal", sig))
		return
	}

	switch sig {
	case SignalConnected, SignalReconnected:
		l.OnConnected()
	case SignalDisconnected:
		l.OnDisconnected()
	case SignalError:
		l.OnError(err)
	default:
		r.logger.Warn("Unknown lifecycle signal", zap.Int("signal", int(sig)))
	}
}

// Connected raises SignalConnected: the driver reached the service for the first time.
func (r *Registry) Connected() { r.Dispatch(SignalConnected, nil) }

// Reconnected raises SignalReconnected: the driver reached the service after losing it.
func (r *Registry) Reconnected() { r.Dispatch(SignalReconnected, nil) }

// Disconnected raises SignalDisconnected: the driver lost its transport to the service.
func (r *Registry) Disconnected() { r.Dispatch(SignalDisconnected, nil) }

// Error raises SignalError with err, a failure the service itself reported.
func (r *Registry) Error(err error) { r.Dispatch(SignalError, err) }
