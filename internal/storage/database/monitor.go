package database

import (
	stderrors "errors"
	"sync"

	"go.mongodb.org/mongo-driver/v2/event"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/storefront/storefront/pkg/recovery"
)

// heartbeatMonitor turns server heartbeats of one client into lifecycle
// signals. Only transitions are reported: the first success, the first
// failure of a failing run, and the success that ends it.
type heartbeatMonitor struct {
	registry *recovery.Registry

	mu      sync.Mutex
	seen    bool
	failing bool
	stopped bool
}

func newHeartbeatMonitor(registry *recovery.Registry) *heartbeatMonitor {
	return &heartbeatMonitor{registry: registry}
}

// serverMonitor returns the driver hooks for this monitor.
func (m *heartbeatMonitor) serverMonitor() *event.ServerMonitor {
	return &event.ServerMonitor{
		ServerHeartbeatSucceeded: func(*event.ServerHeartbeatSucceededEvent) { m.succeeded() },
		ServerHeartbeatFailed: func(e *event.ServerHeartbeatFailedEvent) {
			m.failed(e.Failure)
		},
	}
}

// stop silences the monitor once its client is being released.
func (m *heartbeatMonitor) stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
}

func (m *heartbeatMonitor) succeeded() {
	m.mu.Lock()
	if m.stopped || (m.seen && !m.failing) {
		m.mu.Unlock()
		return
	}
	recovered := m.failing
	m.seen = true
	m.failing = false
	m.mu.Unlock()

	if recovered {
		m.registry.Reconnected()
		return
	}
	m.registry.Connected()
}

func (m *heartbeatMonitor) failed(err error) {
	m.mu.Lock()
	if m.stopped || m.failing {
		m.mu.Unlock()
		return
	}
	m.failing = true
	m.mu.Unlock()

	if isTransportFailure(err) {
		m.registry.Disconnected()
		return
	}
	m.registry.Error(err)
}

// isTransportFailure reports whether a heartbeat failed before the server
// could answer. Server replies and credential failures are lifecycle errors.
func isTransportFailure(err error) bool {
	switch {
	case err == nil:
		return true
	case Classify(err) == recovery.ClassAuth:
		return false
	case mongo.IsNetworkError(err), mongo.IsTimeout(err):
		return true
	}
	var serverErr mongo.ServerError
	return !stderrors.As(err, &serverErr)
}
