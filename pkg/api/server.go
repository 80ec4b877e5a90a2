// Package api implements fleetcore's operator-facing REST surface: health
// and readiness probes, Prometheus metrics, and the Container Supervisor /
// Rollout Executor control endpoints.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/cuemby/fleetcore/pkg/healer"
	"github.com/cuemby/fleetcore/pkg/log"
	"github.com/cuemby/fleetcore/pkg/metrics"
	"github.com/cuemby/fleetcore/pkg/rollout"
	"github.com/cuemby/fleetcore/pkg/store"
	"github.com/cuemby/fleetcore/pkg/types"
)

// Server hosts fleetcore's HTTP API over a chi router. Start and
// StartReadOnly serve it over plain HTTP with their own http.Server; TLS,
// if needed, is terminated in front of it.
type Server struct {
	Router *chi.Mux

	ruleStore     *store.RuleStore
	livenessStore *store.LivenessStore
	supervisor    *healer.Supervisor
	executor      *rollout.Executor

	// strategies holds one RolloutStrategy per population, the
	// operator-facing registry handleCreateStrategy/handleStartRollout read
	// and write. It is process-local: a restart loses in-flight
	// registrations, same as the Rollout Executor's own in-progress tracking.
	strategiesMu sync.Mutex
	strategies   map[string]types.RolloutStrategy

	logger    zerolog.Logger
	startedAt time.Time

	srv   *http.Server
	roSrv *http.Server
}

// NewServer wires the router: global middleware, health/readiness/metrics
// endpoints, and the domain routes under /api/v1.
func NewServer(ruleStore *store.RuleStore, livenessStore *store.LivenessStore, supervisor *healer.Supervisor, executor *rollout.Executor) *Server {
	s := &Server{
		Router:        chi.NewRouter(),
		ruleStore:     ruleStore,
		livenessStore: livenessStore,
		supervisor:    supervisor,
		executor:      executor,
		strategies:    make(map[string]types.RolloutStrategy),
		logger:        log.WithComponent("api"),
		startedAt:     time.Now(),
	}

	s.Router.Use(middleware.RequestID)
	s.Router.Use(requestLogger(s.logger))
	s.Router.Use(recordMetrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Handle("/metrics", metrics.Handler())

	s.Router.Route("/api/v1", func(r chi.Router) {
		r.Route("/healer", func(r chi.Router) {
			r.Post("/start", s.handleHealerStart)
			r.Post("/stop", s.handleHealerStop)
			r.Post("/heal", s.handleHealerHealSelective)
			r.Get("/report", s.handleHealerReport)
			r.Get("/metrics", s.handleHealerMetrics)
			r.Post("/rolling-update", s.handleHealerRollingUpdate)
		})

		r.Route("/rollouts", func(r chi.Router) {
			r.Get("/strategies", s.handleListStrategies)
			r.Route("/{population}", func(r chi.Router) {
				r.Post("/strategy", s.handleCreateStrategy)
				r.Get("/strategy", s.handleGetStrategy)
				r.Put("/strategy", s.handleUpdateStrategy)
				r.Delete("/strategy", s.handleDeleteStrategy)
				r.Post("/start", s.handleStartRollout)
			})
		})
	})

	return s
}

// Start begins serving on addr. It blocks until the server stops or
// encounters an error other than http.ErrServerClosed.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("api server listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down, waiting for in-flight requests to
// finish or ctx to expire.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// StartReadOnly serves the same router on addr, but wrapped in the
// ReadOnly middleware, so a local-only or otherwise less-trusted listener
// can observe state without being able to mutate it. It blocks the same
// way Start does.
func (s *Server) StartReadOnly(addr string) error {
	s.roSrv = &http.Server{
		Addr:              addr,
		Handler:           ReadOnly(s.Router),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("read-only api server listening")
	if err := s.roSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// StopReadOnly gracefully shuts down the read-only listener, if started.
func (s *Server) StopReadOnly(ctx context.Context) error {
	if s.roSrv == nil {
		return nil
	}
	return s.roSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.ruleStore.Ping(ctx); err != nil {
		metrics.UpdateComponent("rule_store", false, err.Error())
	} else {
		metrics.UpdateComponent("rule_store", true, "connected")
	}
	if err := s.livenessStore.Ping(ctx); err != nil {
		metrics.UpdateComponent("liveness_store", false, err.Error())
	} else {
		metrics.UpdateComponent("liveness_store", true, "connected")
	}

	readiness := metrics.GetReadiness()
	status := http.StatusOK
	if readiness.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	Respond(w, status, readiness)
}
