package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/fleetcore/pkg/types"
)

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

// respondBadBody reports a malformed request body; always a client error,
// regardless of what statusForError would otherwise guess.
func respondBadBody(w http.ResponseWriter, err error) {
	Respond(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
}

// --- Container Supervisor ---

func (s *Server) handleHealerStart(w http.ResponseWriter, _ *http.Request) {
	s.supervisor.StartHealing()
	Respond(w, http.StatusOK, map[string]bool{"healing_enabled": true})
}

func (s *Server) handleHealerStop(w http.ResponseWriter, _ *http.Request) {
	s.supervisor.StopHealing()
	Respond(w, http.StatusOK, map[string]bool{"healing_enabled": false})
}

type healSelectiveRequest struct {
	ContainerIDs []string
}

func (s *Server) handleHealerHealSelective(w http.ResponseWriter, r *http.Request) {
	var req healSelectiveRequest
	if err := decodeJSON(r, &req); err != nil {
		respondBadBody(w, err)
		return
	}
	if err := s.supervisor.HealSelective(r.Context(), req.ContainerIDs); err != nil {
		RespondError(w, err)
		return
	}
	Respond(w, http.StatusOK, map[string]int{"healed": len(req.ContainerIDs)})
}

func (s *Server) handleHealerReport(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, s.supervisor.GetHealingReport())
}

type healerMetricsResponse struct {
	HealingEnabled     bool
	Restarted          int
	Recreated          int
	SkippedMaxAttempts int
}

func (s *Server) handleHealerMetrics(w http.ResponseWriter, _ *http.Request) {
	resp := healerMetricsResponse{HealingEnabled: s.supervisor.HealingEnabled()}
	for _, ev := range s.supervisor.GetHealingReport() {
		switch ev.Kind {
		case types.HealingEventRestarted:
			resp.Restarted++
		case types.HealingEventRecreated:
			resp.Recreated++
		case types.HealingEventSkippedMaxAttempts:
			resp.SkippedMaxAttempts++
		}
	}
	Respond(w, http.StatusOK, resp)
}

type rollingUpdateRequest struct {
	Image      string
	VersionTag string
}

// handleHealerRollingUpdate runs the update in the background and returns
// immediately: a full rolling update can take minutes on a large
// population, far past any reasonable client timeout.
func (s *Server) handleHealerRollingUpdate(w http.ResponseWriter, r *http.Request) {
	var req rollingUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondBadBody(w, err)
		return
	}
	if req.Image == "" || req.VersionTag == "" {
		Respond(w, http.StatusBadRequest, ErrorResponse{Error: "image and version_tag are required"})
		return
	}

	go func() {
		if err := s.supervisor.PerformRollingUpdate(context.Background(), req.Image, req.VersionTag); err != nil {
			s.logger.Error().Err(err).Str("image", req.Image).Msg("rolling update failed")
		}
	}()

	Respond(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// --- Rollout Executor ---

func (s *Server) handleCreateStrategy(w http.ResponseWriter, r *http.Request) {
	population := chi.URLParam(r, "population")
	var strategy types.RolloutStrategy
	if err := decodeJSON(r, &strategy); err != nil {
		respondBadBody(w, err)
		return
	}

	s.strategiesMu.Lock()
	s.strategies[population] = strategy
	s.strategiesMu.Unlock()

	Respond(w, http.StatusCreated, strategy)
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	population := chi.URLParam(r, "population")

	s.strategiesMu.Lock()
	strategy, ok := s.strategies[population]
	s.strategiesMu.Unlock()

	if !ok {
		RespondError(w, errStrategyNotFound(population))
		return
	}
	Respond(w, http.StatusOK, strategy)
}

func (s *Server) handleListStrategies(w http.ResponseWriter, _ *http.Request) {
	s.strategiesMu.Lock()
	defer s.strategiesMu.Unlock()
	Respond(w, http.StatusOK, s.strategies)
}

func (s *Server) handleUpdateStrategy(w http.ResponseWriter, r *http.Request) {
	population := chi.URLParam(r, "population")

	s.strategiesMu.Lock()
	_, ok := s.strategies[population]
	s.strategiesMu.Unlock()
	if !ok {
		RespondError(w, errStrategyNotFound(population))
		return
	}

	s.handleCreateStrategy(w, r)
}

func (s *Server) handleDeleteStrategy(w http.ResponseWriter, r *http.Request) {
	population := chi.URLParam(r, "population")

	s.strategiesMu.Lock()
	delete(s.strategies, population)
	s.strategiesMu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

type startRolloutRequest struct {
	Current       []types.ContainerRecord
	NewImage      string
	NewVersionTag string
}

// handleStartRollout launches the rollout in the background: Linear and
// Exponential strategies pause between steps, so a synchronous request
// would hold the connection open for the whole rollout.
func (s *Server) handleStartRollout(w http.ResponseWriter, r *http.Request) {
	population := chi.URLParam(r, "population")

	s.strategiesMu.Lock()
	strategy, ok := s.strategies[population]
	s.strategiesMu.Unlock()
	if !ok {
		RespondError(w, errStrategyNotFound(population))
		return
	}

	var req startRolloutRequest
	if err := decodeJSON(r, &req); err != nil {
		respondBadBody(w, err)
		return
	}

	go func() {
		if _, err := s.executor.Execute(context.Background(), population, req.Current, strategy, req.NewImage, req.NewVersionTag); err != nil {
			s.logger.Error().Err(err).Str("population", population).Msg("rollout failed")
		}
	}()

	Respond(w, http.StatusAccepted, map[string]string{"status": "started", "population": population})
}

type strategyNotFoundError struct {
	population string
}

func (e *strategyNotFoundError) Error() string {
	return "no rollout strategy registered for population " + e.population
}

func errStrategyNotFound(population string) error {
	return &strategyNotFoundError{population: population}
}
