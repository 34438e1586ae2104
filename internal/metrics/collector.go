package metrics

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/storefront/storefront/pkg/recovery"
)

// Collector records connection-manager metrics in a private Prometheus registry.
// It implements recovery.Observer.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry

	connectionState     *prometheus.GaugeVec
	activeSubscriptions *prometheus.GaugeVec
	connectAttempts     *prometheus.CounterVec
	retryExhausted      *prometheus.CounterVec
	healthChecks        *prometheus.CounterVec
	healthLatency       *prometheus.HistogramVec
	operationCounter    *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec

	operations map[string]*OperationMetrics
	lastReset  time.Time
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// OperationMetrics summarizes one service operation.
type OperationMetrics struct {
	Count         int64         `json:"count"`
	Errors        int64         `json:"errors"`
	TotalDuration time.Duration `json:"total_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
	LastOperation time.Time     `json:"last_operation"`
}

var _ recovery.Observer = (*Collector)(nil)

// NewCollector creates a new metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{Enabled: true, Namespace: "storefront"}
	}

	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	collector := &Collector{
		config:     config,
		registry:   prometheus.NewRegistry(),
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}

	collector.initMetrics()
	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// Enabled reports whether metrics are being recorded.
func (c *Collector) Enabled() bool {
	return c.config.Enabled
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if !c.config.Enabled {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// StateChanged records the new connection state. Leaving Connected drops the
// service's active subscriptions to zero until they are restored.
func (c *Collector) StateChanged(service string, from, to recovery.ConnectionState) {
	if !c.config.Enabled {
		return
	}
	c.connectionState.WithLabelValues(service).Set(float64(to))
	if from == recovery.StateConnected && to != recovery.StateConnected {
		c.activeSubscriptions.WithLabelValues(service).Set(0)
	}
}

// AttemptFinished counts a connect attempt.
func (c *Collector) AttemptFinished(service string, _ int, err error) {
	if !c.config.Enabled {
		return
	}
	c.connectAttempts.WithLabelValues(service, status(err)).Inc()
}

// RetryExhausted counts an exhausted retry cycle.
func (c *Collector) RetryExhausted(service string, _ int, _ time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.retryExhausted.WithLabelValues(service).Inc()
}

// HealthChecked records a health report.
func (c *Collector) HealthChecked(service string, report recovery.HealthReport) {
	if !c.config.Enabled {
		return
	}
	c.healthChecks.WithLabelValues(service, string(report.Status)).Inc()
	if report.Healthy() {
		c.healthLatency.WithLabelValues(service).Observe(report.Latency.Seconds())
	}
}

// SetActiveSubscriptions records the number of active channel subscriptions.
func (c *Collector) SetActiveSubscriptions(service string, n int) {
	if !c.config.Enabled {
		return
	}
	c.activeSubscriptions.WithLabelValues(service).Set(float64(n))
}

// RecordOperation records a keyed or channel operation.
func (c *Collector) RecordOperation(service, operation string, duration time.Duration, err error) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	key := service + "." + operation
	m, ok := c.operations[key]
	if !ok {
		m = &OperationMetrics{}
		c.operations[key] = m
	}
	m.Count++
	m.TotalDuration += duration
	m.AvgDuration = time.Duration(int64(m.TotalDuration) / m.Count)
	m.LastOperation = time.Now()
	if err != nil {
		m.Errors++
	}
	c.mu.Unlock()

	c.operationCounter.WithLabelValues(service, operation, status(err)).Inc()
	c.operationDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// GetMetrics returns a copy of the per-operation summaries keyed by "service.operation".
func (c *Collector) GetMetrics() map[string]OperationMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]OperationMetrics, len(c.operations))
	for k, v := range c.operations {
		out[k] = *v
	}
	return out
}

// ResetMetrics clears the operation summaries.
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (c *Collector) initMetrics() {
	ns := c.config.Namespace

	c.connectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "connection_state",
			Help:      "Connection state (0 disconnected, 1 connecting, 2 connected, 3 degraded, 4 closed)",
		},
		[]string{"service"},
	)

	c.activeSubscriptions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "active_subscriptions",
			Help:      "Number of active channel subscriptions",
		},
		[]string{"service"},
	)

	c.connectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "connect_attempts_total",
			Help:      "Total number of connect attempts",
		},
		[]string{"service", "result"},
	)

	c.retryExhausted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "retry_exhausted_total",
			Help:      "Total number of exhausted retry cycles",
		},
		[]string{"service"},
	)

	c.healthChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "health_checks_total",
			Help:      "Total number of health probes by outcome",
		},
		[]string{"service", "status"},
	)

	c.healthLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "health_probe_latency_seconds",
			Help:      "Latency of successful health probes",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		},
		[]string{"service"},
	)

	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "operations_total",
			Help:      "Total number of operations",
		},
		[]string{"service", "operation", "status"},
	)

	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "operation_duration_seconds",
			Help:      "Duration of operations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"service", "operation"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.connectionState,
		c.activeSubscriptions,
		c.connectAttempts,
		c.retryExhausted,
		c.healthChecks,
		c.healthLatency,
		c.operationCounter,
		c.operationDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: c.config.Namespace}),
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}
