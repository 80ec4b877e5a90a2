package api

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5"

	"github.com/cuemby/fleetcore/pkg/health"
	"github.com/cuemby/fleetcore/pkg/provider"
	"github.com/cuemby/fleetcore/pkg/reconciler"
	"github.com/cuemby/fleetcore/pkg/rollout"
)

// statusForError maps a domain error to the HTTP status code the API
// surface should respond with. Anything not matched here is a 500: the
// handler didn't anticipate it, so it isn't safe to guess at intent.
func statusForError(err error) int {
	var notFound *strategyNotFoundError
	var rateLimited *provider.RateLimitedError
	var transient *provider.TransientProviderError
	var permanent *provider.PermanentProviderError
	var unknownRegion *provider.UnknownRegionError
	var invalidRules *reconciler.InvalidRulesError
	var unknownProvider *reconciler.UnknownProviderError
	var rolloutInProgress *rollout.RolloutInProgressError
	var unknownStrategy *rollout.UnknownStrategyTypeError
	var unknownCheckType *health.UnknownCheckTypeError

	switch {
	case errors.Is(err, errWriteNotAllowed):
		return http.StatusMethodNotAllowed
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &rateLimited):
		return http.StatusTooManyRequests
	case errors.As(err, &transient):
		return http.StatusServiceUnavailable
	case errors.As(err, &permanent):
		return http.StatusBadRequest
	case errors.As(err, &unknownRegion):
		return http.StatusBadRequest
	case errors.As(err, &invalidRules):
		return http.StatusBadRequest
	case errors.As(err, &unknownProvider):
		return http.StatusBadRequest
	case errors.Is(err, reconciler.ErrReconciliationInProgress):
		return http.StatusConflict
	case errors.As(err, &rolloutInProgress):
		return http.StatusConflict
	case errors.As(err, &unknownStrategy):
		return http.StatusBadRequest
	case errors.As(err, &unknownCheckType):
		return http.StatusBadRequest
	case errors.Is(err, pgx.ErrNoRows):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
