package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/storefront/storefront/pkg/sanitize"
)

// HealthStatus is the outcome of a probe.
type HealthStatus string

const (
	// HealthConnected means the probe round trip succeeded.
	HealthConnected HealthStatus = "connected"
	// HealthDisconnected means there was no live handle to probe.
	HealthDisconnected HealthStatus = "disconnected"
	// HealthError means the probe failed or timed out.
	HealthError HealthStatus = "error"
)

// HealthReport is an immutable probe result.
type HealthReport struct {
	Service    string        `json:"service"`
	Status     HealthStatus  `json:"status"`
	Latency    time.Duration `json:"latency,omitempty"`
	ObservedAt time.Time     `json:"observed_at"`
	Detail     string        `json:"detail,omitempty"`
}

// Healthy reports whether the probe succeeded.
func (r HealthReport) Healthy() bool {
	return r.Status == HealthConnected
}

// Probe is the round trip issued against a live handle.
type Probe func(ctx context.Context) error

// RunProbe executes probe with a timeout and builds the report.
func RunProbe(ctx context.Context, service string, timeout time.Duration, probe Probe) HealthReport {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := probe(probeCtx)
	latency := time.Since(start)

	if err != nil {
		return HealthReport{
			Service:    service,
			Status:     HealthError,
			ObservedAt: time.Now(),
			Detail:     sanitize.Message(err),
		}
	}
	return HealthReport{
		Service:    service,
		Status:     HealthConnected,
		Latency:    latency,
		ObservedAt: time.Now(),
	}
}

func disconnectedReport(service string, state ConnectionState) HealthReport {
	return HealthReport{
		Service:    service,
		Status:     HealthDisconnected,
		ObservedAt: time.Now(),
		Detail:     "state is " + state.String(),
	}
}

// HealthMonitor drives a fixed-interval tick. It is started after each entry
// into Connected and stopped on disconnect, before handle replacement and on close.
type HealthMonitor struct {
	interval time.Duration
	sched    *scheduler
	tick     func()

	mu   sync.Mutex
	task *task
}

func newHealthMonitor(interval time.Duration, sched *scheduler, tick func()) *HealthMonitor {
	return &HealthMonitor{interval: interval, sched: sched, tick: tick}
}

// Start replaces any running timer with a fresh one.
func (h *HealthMonitor) Start() {
	if h.interval <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.task.cancel()
	h.task = h.sched.every(h.interval, h.tick)
}

// Stop cancels the timer.
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.task.cancel()
	h.task = nil
}

// Running reports whether a timer is active.
func (h *HealthMonitor) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.task != nil
}
