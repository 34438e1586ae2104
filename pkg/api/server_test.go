package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/storefront/internal/metrics"
	"github.com/storefront/storefront/pkg/recovery"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeComponent struct {
	name   string
	state  recovery.ConnectionState
	report recovery.HealthReport
	probes int
}

func (f *fakeComponent) Name() string                    { return f.name }
func (f *fakeComponent) State() recovery.ConnectionState { return f.state }

func (f *fakeComponent) CheckHealth(context.Context) recovery.HealthReport {
	f.probes++
	return f.report
}

func (f *fakeComponent) Stats() recovery.Stats {
	return recovery.Stats{
		Name:          f.name,
		State:         f.state,
		Connected:     f.state == recovery.StateConnected,
		Subscriptions: []string{"orders"},
	}
}

func connected(name string) *fakeComponent {
	return &fakeComponent{
		name:  name,
		state: recovery.StateConnected,
		report: recovery.HealthReport{
			Service: name, Status: recovery.HealthConnected, Latency: time.Millisecond, ObservedAt: time.Now(),
		},
	}
}

func disconnected(name string) *fakeComponent {
	return &fakeComponent{
		name:  name,
		state: recovery.StateDisconnected,
		report: recovery.HealthReport{
			Service: name, Status: recovery.HealthDisconnected, ObservedAt: time.Now(), Detail: "state is disconnected",
		},
	}
}

func serve(t *testing.T, s *Server, method, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var body map[string]interface{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func TestLiveness(t *testing.T) {
	s := NewServer(DefaultServerConfig(), nil, nil, disconnected("database"))

	w, body := serve(t, s, http.MethodGet, "/health/live")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["alive"])
	assert.NotEmpty(t, w.Header().Get(correlationIDHeader))
}

func TestReadiness(t *testing.T) {
	db, cache := connected("database"), connected("cache")
	s := NewServer(DefaultServerConfig(), nil, nil, db, cache)

	w, body := serve(t, s, http.MethodGet, "/health/ready")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["ready"])

	cache.state = recovery.StateConnecting
	w, body = serve(t, s, http.MethodGet, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, false, body["ready"])
	assert.Equal(t, map[string]interface{}{"database": "connected", "cache": "connecting"}, body["components"])

	assert.Zero(t, db.probes+cache.probes, "readiness must not probe")
}

func TestHealthProbesEveryComponent(t *testing.T) {
	db, cache := connected("database"), connected("cache")
	s := NewServer(DefaultServerConfig(), nil, nil, db, cache)

	w, body := serve(t, s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Len(t, body["components"], 2)
	assert.Equal(t, 1, db.probes)
	assert.Equal(t, 1, cache.probes)

	s = NewServer(DefaultServerConfig(), nil, nil, db, disconnected("cache"))
	w, body = serve(t, s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unhealthy", body["status"])
}

func TestStatus(t *testing.T) {
	collector, err := metrics.NewCollector(nil)
	require.NoError(t, err)
	collector.RecordOperation("cache", "get", time.Millisecond, nil)

	s := NewServer(DefaultServerConfig(), nil, collector, connected("database"), disconnected("cache"))

	w, body := serve(t, s, http.MethodGet, "/status")
	assert.Equal(t, http.StatusOK, w.Code)
	components, ok := body["components"].([]interface{})
	require.True(t, ok)
	require.Len(t, components, 2)
	assert.Equal(t, "connected", components[0].(map[string]interface{})["state"])
	assert.Equal(t, "disconnected", components[1].(map[string]interface{})["state"])
	assert.Contains(t, body["operations"], "cache.get")

	w, body = serve(t, s, http.MethodGet, "/status/cache")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cache", body["name"])

	w, _ = serve(t, s, http.MethodGet, "/status/queue")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	collector, err := metrics.NewCollector(nil)
	require.NoError(t, err)
	collector.StateChanged("database", recovery.StateConnecting, recovery.StateConnected)

	s := NewServer(DefaultServerConfig(), nil, collector)
	w, _ := serve(t, s, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "storefront_connection_state")

	s = NewServer(DefaultServerConfig(), nil, nil)
	w, _ = serve(t, s, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInfoAndCORS(t *testing.T) {
	config := DefaultServerConfig()
	config.EnableCORS = true
	s := NewServer(config, nil, nil, connected("database"))

	w, body := serve(t, s, http.MethodGet, "/info")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{"database"}, body["components"])

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCorrelationIDIsEchoed(t *testing.T) {
	s := NewServer(DefaultServerConfig(), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set(correlationIDHeader, "req-42")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, "req-42", w.Header().Get(correlationIDHeader))
}
