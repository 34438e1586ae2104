package recovery

import (
	"time"

	"go.uber.org/zap"
)

// Config configures a Supervisor.
type Config struct {
	// ConnectTimeout bounds each dial and, unless HealthCheckTimeout is set, each probe.
	ConnectTimeout time.Duration

	// MaxAttempts is the number of failed dials that exhausts a retry cycle.
	MaxAttempts int

	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    float64

	// Settle delays applied before the first reconnect of a cycle.
	DisconnectSettleDelay time.Duration
	TopologySettleDelay   time.Duration
	AuthSettleDelay       time.Duration

	// HealthCheckInterval of zero disables periodic probing.
	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration

	// RecentErrors is the size of the error ring reported in Stats.
	RecentErrors int

	// Seed makes backoff jitter deterministic.
	Seed *uint64

	Logger   *zap.Logger
	Observer Observer
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:        10 * time.Second,
		MaxAttempts:           5,
		BaseDelay:             1 * time.Second,
		MaxDelay:              30 * time.Second,
		Jitter:                0.1,
		DisconnectSettleDelay: 5 * time.Second,
		TopologySettleDelay:   10 * time.Second,
		AuthSettleDelay:       5 * time.Second,
		HealthCheckInterval:   30 * time.Second,
		RecentErrors:          10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		c.Jitter = d.Jitter
	}
	if c.DisconnectSettleDelay <= 0 {
		c.DisconnectSettleDelay = d.DisconnectSettleDelay
	}
	if c.TopologySettleDelay <= 0 {
		c.TopologySettleDelay = d.TopologySettleDelay
	}
	if c.AuthSettleDelay <= 0 {
		c.AuthSettleDelay = d.AuthSettleDelay
	}
	if c.HealthCheckInterval < 0 {
		c.HealthCheckInterval = 0
	}
	if c.HealthCheckTimeout <= 0 {
		c.HealthCheckTimeout = c.ConnectTimeout
	}
	if c.RecentErrors <= 0 {
		c.RecentErrors = d.RecentErrors
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Observer == nil {
		c.Observer = nopObserver{}
	}
	return c
}
