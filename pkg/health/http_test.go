package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/fleetcore/pkg/types"
)

func listenerPort(t *testing.T, server *httptest.Server) int {
	t.Helper()
	addr := server.Listener.Addr().(*net.TCPAddr)
	return addr.Port
}

func baseConfig(port int) types.HealthCheckConfig {
	return types.HealthCheckConfig{
		Path:        "/health",
		Port:        port,
		Method:      http.MethodGet,
		IntervalMs:  10_000,
		TimeoutMs:   2_000,
		MaxFailures: 3,
		Type:        types.HealthCheckTypeHTTP,
	}
}

func TestHTTPChecker_HealthyEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("healthy"))
	}))
	defer server.Close()

	checker, err := NewChecker("127.0.0.1", baseConfig(listenerPort(t, server)))
	require.NoError(t, err)

	result := checker.Check(context.Background())
	assert.True(t, result.Healthy, result.Message)
	assert.Greater(t, result.Duration, time.Duration(0))
}

func TestHTTPChecker_UnhealthyEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	checker, err := NewChecker("127.0.0.1", baseConfig(listenerPort(t, server)))
	require.NoError(t, err)

	result := checker.Check(context.Background())
	assert.False(t, result.Healthy)
}

func TestHTTPChecker_CustomHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Custom-Header") != "test-value" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := baseConfig(listenerPort(t, server))
	cfg.Headers = map[string]string{"X-Custom-Header": "test-value"}

	checker, err := NewChecker("127.0.0.1", cfg)
	require.NoError(t, err)

	result := checker.Check(context.Background())
	assert.True(t, result.Healthy, result.Message)
}

func TestHTTPChecker_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := baseConfig(listenerPort(t, server))
	cfg.TimeoutMs = 20

	checker, err := NewChecker("127.0.0.1", cfg)
	require.NoError(t, err)

	result := checker.Check(context.Background())
	assert.False(t, result.Healthy)
}

func TestHTTPChecker_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker, err := NewChecker("127.0.0.1", baseConfig(listenerPort(t, server)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := checker.Check(ctx)
	assert.False(t, result.Healthy)
}

func TestHTTPChecker_Type(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker, err := NewChecker("127.0.0.1", baseConfig(listenerPort(t, server)))
	require.NoError(t, err)
	assert.Equal(t, types.HealthCheckTypeHTTP, checker.Type())
}

func TestHTTPChecker_JSONValueExistsAssertion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"status":"ok"}}`))
	}))
	defer server.Close()

	cfg := baseConfig(listenerPort(t, server))
	cfg.Custom = &types.Assertion{
		Kind:          types.AssertionJSONValueExists,
		JSONPath:      "data.status",
		ExpectedValue: "ok",
	}

	checker, err := NewChecker("127.0.0.1", cfg)
	require.NoError(t, err)

	result := checker.Check(context.Background())
	assert.True(t, result.Healthy, result.Message)
}

func TestHTTPChecker_JSONValueExistsAssertion_Mismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"status":"degraded"}}`))
	}))
	defer server.Close()

	cfg := baseConfig(listenerPort(t, server))
	cfg.Custom = &types.Assertion{
		Kind:          types.AssertionJSONValueExists,
		JSONPath:      "data.status",
		ExpectedValue: "ok",
	}

	checker, err := NewChecker("127.0.0.1", cfg)
	require.NoError(t, err)

	result := checker.Check(context.Background())
	assert.False(t, result.Healthy)
}

func TestNewChecker_RejectsIntervalBelowFloor(t *testing.T) {
	cfg := baseConfig(8080)
	cfg.IntervalMs = 1000

	_, err := NewChecker("127.0.0.1", cfg)
	assert.ErrorIs(t, err, types.ErrIntervalTooShort)
}

func TestNewChecker_RejectsTimeoutAboveInterval(t *testing.T) {
	cfg := baseConfig(8080)
	cfg.TimeoutMs = cfg.IntervalMs + 1

	_, err := NewChecker("127.0.0.1", cfg)
	assert.ErrorIs(t, err, types.ErrTimeoutExceedsInterval)
}
