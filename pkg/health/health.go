// Package health implements the probe primitives the Health-Check Scheduler
// drives: HTTP/HTTPS/TCP checks, each optionally refined by an Assertion
// against the response body or status.
package health

import (
	"context"
	"time"

	"github.com/cuemby/fleetcore/pkg/types"
)

// Result is the outcome of a single probe.
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker performs one probe against a HealthCheckConfig's target.
type Checker interface {
	Check(ctx context.Context) Result
	Type() types.HealthCheckType
}

// NewChecker builds the Checker matching cfg.Type. TCP checks ignore
// cfg.Custom; HTTP/HTTPS checks apply it when set.
func NewChecker(address string, cfg types.HealthCheckConfig) (Checker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case types.HealthCheckTypeHTTP:
		return newHTTPChecker(address, cfg, false), nil
	case types.HealthCheckTypeHTTPS:
		return newHTTPChecker(address, cfg, true), nil
	case types.HealthCheckTypeTCP:
		return newTCPChecker(address, cfg), nil
	default:
		return nil, &UnknownCheckTypeError{Type: string(cfg.Type)}
	}
}
