package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/storefront/storefront/pkg/errors"
	"github.com/storefront/storefront/pkg/logging"
	"github.com/storefront/storefront/pkg/recovery"
	"github.com/storefront/storefront/pkg/sanitize"
)

// Accepted connection-string schemes.
var (
	DatabaseSchemes = []string{"mongodb", "mongodb+srv"}
	CacheSchemes    = []string{"redis", "rediss"}
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Database   DatabaseConfig   `yaml:"database"`
	Cache      CacheConfig      `yaml:"cache"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DatabaseConfig configures the document database connection.
type DatabaseConfig struct {
	URI                    string        `yaml:"uri"`
	Name                   string        `yaml:"name"`
	ConnectTimeout         time.Duration `yaml:"connect_timeout"`
	ServerSelectionTimeout time.Duration `yaml:"server_selection_timeout"`
	HeartbeatInterval      time.Duration `yaml:"heartbeat_interval"`
}

// CacheConfig configures the cache connection.
type CacheConfig struct {
	URI              string        `yaml:"uri"`
	DefaultTTL       time.Duration `yaml:"default_ttl"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	OperationTimeout time.Duration `yaml:"operation_timeout"`

	// HeartbeatInterval paces the pings of a standby client after a failed dial.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// ResilienceConfig configures reconnection and health checking for both managers.
type ResilienceConfig struct {
	MaxAttempts           int           `yaml:"max_attempts"`
	BaseDelay             time.Duration `yaml:"base_delay"`
	MaxDelay              time.Duration `yaml:"max_delay"`
	Jitter                float64       `yaml:"jitter"`
	DisconnectSettleDelay time.Duration `yaml:"disconnect_settle_delay"`
	TopologySettleDelay   time.Duration `yaml:"topology_settle_delay"`
	AuthSettleDelay       time.Duration `yaml:"auth_settle_delay"`
	HealthCheckInterval   time.Duration `yaml:"health_check_interval"`
	HealthCheckTimeout    time.Duration `yaml:"health_check_timeout"`
	RecentErrors          int           `yaml:"recent_errors"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	API     APIConfig     `yaml:"api"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// APIConfig configures the status HTTP server.
type APIConfig struct {
	Address    string `yaml:"address"`
	EnableCORS bool   `yaml:"enable_cors"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "json",
		},
		Database: DatabaseConfig{
			Name:                   "storefront",
			ConnectTimeout:         10 * time.Second,
			ServerSelectionTimeout: 5 * time.Second,
			HeartbeatInterval:      10 * time.Second,
		},
		Cache: CacheConfig{
			DefaultTTL:        time.Hour,
			ConnectTimeout:    5 * time.Second,
			OperationTimeout:  2 * time.Second,
			HeartbeatInterval: 10 * time.Second,
		},
		Resilience: ResilienceConfig{
			MaxAttempts:           5,
			BaseDelay:             1 * time.Second,
			MaxDelay:              30 * time.Second,
			Jitter:                0.1,
			DisconnectSettleDelay: 5 * time.Second,
			TopologySettleDelay:   10 * time.Second,
			AuthSettleDelay:       5 * time.Second,
			HealthCheckInterval:   30 * time.Second,
			RecentErrors:          10,
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:   true,
				Namespace: "storefront",
			},
			API: APIConfig{
				Address: ":8080",
			},
		},
	}
}

// Load builds a configuration from defaults, an optional file and the environment, then validates it.
func Load(path string) (*Configuration, error) {
	cfg := NewDefault()
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.NewError(errors.ErrCodeInvalidConfig, "failed to parse config file").
			WithComponent("config").
			WithContext("file", filename).
			WithCause(err)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables. The conventional
// MONGODB_URI and REDIS_URL are honored; STOREFRONT_* variables take precedence.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("MONGODB_URI"); val != "" {
		c.Database.URI = val
	}
	if val := os.Getenv("REDIS_URL"); val != "" {
		c.Cache.URI = val
	}

	strs := map[string]*string{
		"STOREFRONT_LOG_LEVEL":     &c.Global.LogLevel,
		"STOREFRONT_LOG_FORMAT":    &c.Global.LogFormat,
		"STOREFRONT_DATABASE_URI":  &c.Database.URI,
		"STOREFRONT_DATABASE_NAME": &c.Database.Name,
		"STOREFRONT_CACHE_URI":     &c.Cache.URI,
		"STOREFRONT_API_ADDRESS":   &c.Monitoring.API.Address,
	}
	for key, dst := range strs {
		if val := os.Getenv(key); val != "" {
			*dst = val
		}
	}

	durations := map[string]*time.Duration{
		"STOREFRONT_CACHE_TTL":             &c.Cache.DefaultTTL,
		"STOREFRONT_CACHE_OP_TIMEOUT":      &c.Cache.OperationTimeout,
		"STOREFRONT_BASE_DELAY":            &c.Resilience.BaseDelay,
		"STOREFRONT_MAX_DELAY":             &c.Resilience.MaxDelay,
		"STOREFRONT_HEALTH_CHECK_INTERVAL": &c.Resilience.HealthCheckInterval,
	}
	for key, dst := range durations {
		val := os.Getenv(key)
		if val == "" {
			continue
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return envError(key, err)
		}
		*dst = d
	}

	if val := os.Getenv("STOREFRONT_MAX_ATTEMPTS"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return envError("STOREFRONT_MAX_ATTEMPTS", err)
		}
		c.Resilience.MaxAttempts = n
	}
	if val := os.Getenv("STOREFRONT_METRICS_ENABLED"); val != "" {
		c.Monitoring.Metrics.Enabled = strings.ToLower(val) == "true"
	}

	return nil
}

func envError(key string, err error) error {
	return errors.NewError(errors.ErrCodeInvalidConfig, "invalid environment variable").
		WithComponent("config").
		WithContext("variable", key).
		WithCause(err)
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration. Errors are fatal and never retried.
func (c *Configuration) Validate() error {
	if err := ValidateURI("database.uri", c.Database.URI, DatabaseSchemes...); err != nil {
		return err
	}
	if err := ValidateURI("cache.uri", c.Cache.URI, CacheSchemes...); err != nil {
		return err
	}

	if c.Database.Name == "" {
		return invalid("database.name must not be empty")
	}
	if c.Resilience.MaxAttempts <= 0 {
		return invalid("resilience.max_attempts must be greater than 0")
	}
	if c.Resilience.BaseDelay <= 0 || c.Resilience.MaxDelay < c.Resilience.BaseDelay {
		return invalid("resilience delays must satisfy 0 < base_delay <= max_delay")
	}
	if c.Resilience.Jitter < 0 || c.Resilience.Jitter >= 1 {
		return invalid("resilience.jitter must be in [0, 1)")
	}
	if c.Resilience.HealthCheckInterval < 0 {
		return invalid("resilience.health_check_interval must not be negative")
	}
	if c.Cache.DefaultTTL < 0 {
		return invalid("cache.default_ttl must not be negative")
	}

	if _, err := logging.ParseLevel(c.Global.LogLevel); err != nil {
		return invalid(fmt.Sprintf("invalid log_level: %s (must be one of: DEBUG, INFO, WARN, ERROR)", c.Global.LogLevel))
	}

	return nil
}

func invalid(msg string) error {
	return errors.NewError(errors.ErrCodeInvalidConfig, msg).WithComponent("config")
}

// ValidateURI checks that uri is present and uses one of the allowed schemes.
// The URI never appears unsanitized in the returned error.
func ValidateURI(field, uri string, schemes ...string) error {
	if strings.TrimSpace(uri) == "" {
		return errors.NewError(errors.ErrCodeMissingConfig, field+" is required").
			WithComponent("config")
	}

	u, err := url.Parse(uri)
	if err != nil {
		return errors.NewError(errors.ErrCodeInvalidConfig, field+" is not a valid URI").
			WithComponent("config").
			WithContext("uri", sanitize.String(uri))
	}

	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			return nil
		}
	}
	return errors.NewError(errors.ErrCodeInvalidConfig,
		fmt.Sprintf("%s has unsupported scheme %q (expected one of: %s)", field, u.Scheme, strings.Join(schemes, ", "))).
		WithComponent("config").
		WithContext("uri", sanitize.String(uri))
}

// Logging returns the logger configuration.
func (c *Configuration) Logging() logging.Config {
	return logging.Config{Level: c.Global.LogLevel, Format: c.Global.LogFormat}
}

// SupervisorConfig converts the resilience settings for the named service
// ("database" or "cache"). Logger and Observer are left for the caller.
func (c *Configuration) SupervisorConfig(service string) recovery.Config {
	r := c.Resilience
	cfg := recovery.Config{
		MaxAttempts:           r.MaxAttempts,
		BaseDelay:             r.BaseDelay,
		MaxDelay:              r.MaxDelay,
		Jitter:                r.Jitter,
		DisconnectSettleDelay: r.DisconnectSettleDelay,
		TopologySettleDelay:   r.TopologySettleDelay,
		AuthSettleDelay:       r.AuthSettleDelay,
		HealthCheckInterval:   r.HealthCheckInterval,
		HealthCheckTimeout:    r.HealthCheckTimeout,
		RecentErrors:          r.RecentErrors,
	}
	switch service {
	case "database":
		cfg.ConnectTimeout = c.Database.ConnectTimeout
	case "cache":
		cfg.ConnectTimeout = c.Cache.ConnectTimeout
	}
	return cfg
}
