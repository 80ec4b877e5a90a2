package health

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cuemby/fleetcore/pkg/types"
)

// HTTPChecker performs an HTTP or HTTPS probe and, when cfg.Custom is set,
// refines the protocol-native pass/fail with an Assertion over the response.
type HTTPChecker struct {
	url       string
	method    string
	headers   map[string]string
	custom    *types.Assertion
	client    *http.Client
	checkType types.HealthCheckType
}

func newHTTPChecker(address string, cfg types.HealthCheckConfig, tlsEnabled bool) *HTTPChecker {
	scheme := "http"
	checkType := types.HealthCheckTypeHTTP
	if tlsEnabled {
		scheme = "https"
		checkType = types.HealthCheckTypeHTTPS
	}

	method := cfg.Method
	if method == "" {
		method = http.MethodGet
	}

	transport := &http.Transport{}
	if cfg.TLSSkip {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opt-in per HealthCheckConfig.TLSSkip
	}

	return &HTTPChecker{
		url:     fmt.Sprintf("%s://%s:%d%s", scheme, address, cfg.Port, cfg.Path),
		method:  method,
		headers: cfg.Headers,
		custom:  cfg.Custom,
		client: &http.Client{
			Timeout:   time.Duration(cfg.TimeoutMs) * time.Millisecond,
			Transport: transport,
		},
		checkType: checkType,
	}
}

func (h *HTTPChecker) Type() types.HealthCheckType {
	return h.checkType
}

func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, h.method, h.url, nil)
	if err != nil {
		return Result{Healthy: false, Message: fmt.Sprintf("building request: %v", err), CheckedAt: start, Duration: time.Since(start)}
	}
	for key, value := range h.headers {
		req.Header.Set(key, value)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Result{Healthy: false, Message: fmt.Sprintf("request failed: %v", err), CheckedAt: start, Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Healthy: false, Message: fmt.Sprintf("reading response body: %v", err), CheckedAt: start, Duration: time.Since(start)}
	}

	if h.custom == nil {
		healthy := resp.StatusCode >= 200 && resp.StatusCode < 300
		return Result{
			Healthy:   healthy,
			Message:   fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	healthy, msg, err := EvaluateAssertion(*h.custom, resp.StatusCode, body)
	if err != nil {
		return Result{Healthy: false, Message: err.Error(), CheckedAt: start, Duration: time.Since(start)}
	}
	return Result{Healthy: healthy, Message: msg, CheckedAt: start, Duration: time.Since(start)}
}
