// Package api provides HTTP endpoints for health and status monitoring of the backing-service managers.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storefront/storefront/internal/metrics"
	"github.com/storefront/storefront/pkg/recovery"
)

// Version is reported by /info.
var Version = "dev"

const correlationIDHeader = "X-Correlation-ID"

// Component is a supervised backing service exposed by the API.
type Component interface {
	Name() string
	State() recovery.ConnectionState
	CheckHealth(ctx context.Context) recovery.HealthReport
	Stats() recovery.Stats
}

// MetricsProvider exposes collected metrics.
type MetricsProvider interface {
	Handler() http.Handler
	GetMetrics() map[string]metrics.OperationMetrics
}

// Server provides HTTP API endpoints for monitoring
type Server struct {
	httpServer *http.Server
	router     *gin.Engine
	components []Component
	metrics    MetricsProvider
	logger     *zap.Logger
	config     ServerConfig
}

// ServerConfig configures the API server
type ServerConfig struct {
	// Address to bind the server to (e.g., "localhost:8080")
	Address string `yaml:"address" json:"address"`

	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// HealthTimeout bounds the on-demand probes issued by /health.
	HealthTimeout time.Duration `yaml:"health_timeout" json:"health_timeout"`

	EnableCORS bool `yaml:"enable_cors" json:"enable_cors"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:       ":8080",
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  10 * time.Second,
		IdleTimeout:   60 * time.Second,
		HealthTimeout: 5 * time.Second,
		EnableCORS:    false,
	}
}

// NewServer creates a new API server. provider may be nil.
func NewServer(config ServerConfig, logger *zap.Logger, provider MetricsProvider, components ...Component) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.HealthTimeout <= 0 {
		config.HealthTimeout = DefaultServerConfig().HealthTimeout
	}

	s := &Server{
		components: components,
		metrics:    provider,
		logger:     logger.Named("api"),
		config:     config,
	}

	router := gin.New()
	router.Use(s.correlationMiddleware())
	router.Use(s.loggingMiddleware())
	if config.EnableCORS {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowMethods = []string{http.MethodGet, http.MethodHead, http.MethodOptions}
		router.Use(cors.New(corsConfig))
	}
	router.Use(gin.Recovery())

	router.GET("/health", s.handleHealth)
	router.GET("/health/live", s.handleLiveness)
	router.GET("/health/ready", s.handleReadiness)
	router.GET("/status", s.handleStatus)
	router.GET("/status/:component", s.handleComponentStatus)
	router.GET("/info", s.handleInfo)
	if provider != nil {
		router.GET("/metrics", gin.WrapH(provider.Handler()))
	}

	s.router = router
	s.httpServer = &http.Server{
		Addr:         config.Address,
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("Starting API server", zap.String("address", s.config.Address))
	return s.httpServer.ListenAndServe()
}

// StartBackground starts the server in a background goroutine
func (s *Server) StartBackground() {
	go func() {
		if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", zap.Error(err))
		}
	}()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Health endpoint handlers

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.HealthTimeout)
	defer cancel()

	reports := make([]recovery.HealthReport, len(s.components))
	done := make(chan struct{})
	for i, comp := range s.components {
		go func(i int, comp Component) {
			reports[i] = comp.CheckHealth(ctx)
			done <- struct{}{}
		}(i, comp)
	}
	for range s.components {
		<-done
	}

	healthy := true
	for _, r := range reports {
		if !r.Healthy() {
			healthy = false
		}
	}

	statusCode := http.StatusOK
	status := "healthy"
	if !healthy {
		statusCode = http.StatusServiceUnavailable
		status = "unhealthy"
	}

	c.JSON(statusCode, gin.H{
		"status":     status,
		"timestamp":  time.Now(),
		"components": reports,
	})
}

func (s *Server) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"alive":     true,
		"timestamp": time.Now(),
	})
}

// handleReadiness reports ready only when every component is Connected. It
// never probes.
func (s *Server) handleReadiness(c *gin.Context) {
	states := make(map[string]string, len(s.components))
	ready := true
	for _, comp := range s.components {
		state := comp.State()
		states[comp.Name()] = state.String()
		if state != recovery.StateConnected {
			ready = false
		}
	}

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, gin.H{
		"ready":      ready,
		"components": states,
		"timestamp":  time.Now(),
	})
}

// Status endpoint handlers

func (s *Server) handleStatus(c *gin.Context) {
	stats := make([]recovery.Stats, 0, len(s.components))
	for _, comp := range s.components {
		stats = append(stats, comp.Stats())
	}

	body := gin.H{
		"components": stats,
		"timestamp":  time.Now(),
	}
	if s.metrics != nil {
		body["operations"] = s.metrics.GetMetrics()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleComponentStatus(c *gin.Context) {
	name := c.Param("component")
	for _, comp := range s.components {
		if comp.Name() == name {
			c.JSON(http.StatusOK, comp.Stats())
			return
		}
	}
	respondError(c, http.StatusNotFound, "component not found: "+name)
}

func (s *Server) handleInfo(c *gin.Context) {
	names := make([]string, 0, len(s.components))
	for _, comp := range s.components {
		names = append(names, comp.Name())
	}

	endpoints := []string{
		"/health",
		"/health/live",
		"/health/ready",
		"/status",
		"/status/{component}",
		"/info",
	}
	if s.metrics != nil {
		endpoints = append(endpoints, "/metrics")
	}

	c.JSON(http.StatusOK, gin.H{
		"service":    "storefront",
		"version":    Version,
		"components": names,
		"endpoints":  endpoints,
		"timestamp":  time.Now(),
	})
}

// Middleware

func (s *Server) correlationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(correlationIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("correlation_id", id)
		c.Header(correlationIDHeader, id)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("API request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("correlation_id", c.GetString("correlation_id")))
	}
}

func respondError(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":     message,
		"timestamp": time.Now(),
	})
}
