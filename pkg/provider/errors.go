package provider

import (
	"errors"
	"fmt"
)

// TransientProviderError wraps a provider failure the caller should retry at
// the next tick: network timeouts, 5xx responses, rate-limiting.
type TransientProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *TransientProviderError) Error() string {
	return fmt.Sprintf("%s: %s: transient: %v", e.Provider, e.Op, e.Err)
}

func (e *TransientProviderError) Unwrap() error { return e.Err }

// PermanentProviderError wraps a provider failure that will not succeed on
// retry: authentication or validation failures (4xx-class).
type PermanentProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *PermanentProviderError) Error() string {
	return fmt.Sprintf("%s: %s: permanent: %v", e.Provider, e.Op, e.Err)
}

func (e *PermanentProviderError) Unwrap() error { return e.Err }

// RateLimitedError indicates the adapter's own request budget was exceeded.
// The Fleet Reconciler treats this as transient.
type RateLimitedError struct {
	Provider string
	Op       string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: %s: rate limited", e.Provider, e.Op)
}

// UnknownRegionError is returned when a canonical region token has no
// provider-native mapping.
type UnknownRegionError struct {
	Provider string
	Region   string
}

func (e *UnknownRegionError) Error() string {
	return fmt.Sprintf("%s: unknown region %q", e.Provider, e.Region)
}

// IsTransient reports whether err should be retried by the caller, including
// RateLimitedError which the Reconciler treats as transient.
func IsTransient(err error) bool {
	var transient *TransientProviderError
	var rateLimited *RateLimitedError
	return errors.As(err, &transient) || errors.As(err, &rateLimited)
}

// IsPermanent reports whether err is a PermanentProviderError.
func IsPermanent(err error) bool {
	var permanent *PermanentProviderError
	return errors.As(err, &permanent)
}
