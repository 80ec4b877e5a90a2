package types

import "errors"

// Sentinel errors returned by HealthCheckConfig.Validate.
var (
	ErrIntervalTooShort       = errors.New("health check interval_ms must be >= 10000")
	ErrTimeoutExceedsInterval = errors.New("health check timeout_ms must be <= interval_ms")
)
