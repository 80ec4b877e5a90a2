// Package scheduler implements the Health-Check Scheduler: one cooperative
// task per (worker, HealthCheckConfig), probing on its own interval and
// writing availability into the shared liveness store.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/fleetcore/pkg/health"
	"github.com/cuemby/fleetcore/pkg/log"
	"github.com/cuemby/fleetcore/pkg/metrics"
	"github.com/cuemby/fleetcore/pkg/types"
)

// LivenessWriter persists the outcome of a probe for a worker. The Redis-
// backed store implements this; tests use a fake.
type LivenessWriter interface {
	Set(ctx context.Context, workerID, region string, liveness types.WorkerLiveness) error
}

// Task describes one health check to run against one worker.
type Task struct {
	HealthCheckID string
	WorkerID      string
	Region        string
	Address       string
	Config        types.HealthCheckConfig
}

// Scheduler runs any number of independent Tasks concurrently, each on its
// own goroutine, and can stop individual tasks without affecting the rest.
type Scheduler struct {
	liveness LivenessWriter
	logger   zerolog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewScheduler(liveness LivenessWriter) *Scheduler {
	return &Scheduler{
		liveness: liveness,
		logger:   log.WithComponent("scheduler"),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Start launches a task's probe loop. Calling Start again for an already
// running HealthCheckID stops the prior run and starts a new one.
func (s *Scheduler) Start(ctx context.Context, task Task) error {
	if err := task.Config.Validate(); err != nil {
		return fmt.Errorf("invalid health check config for %s: %w", task.HealthCheckID, err)
	}

	checker, err := health.NewChecker(task.Address, task.Config)
	if err != nil {
		return fmt.Errorf("building checker for %s: %w", task.HealthCheckID, err)
	}

	s.Stop(task.HealthCheckID)

	taskCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancels[task.HealthCheckID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(taskCtx, task, checker)
	}()

	return nil
}

// Stop cancels a running task. No further liveness writes occur for it once
// Stop returns and its goroutine observes cancellation.
func (s *Scheduler) Stop(healthCheckID string) {
	s.mu.Lock()
	cancel, ok := s.cancels[healthCheckID]
	if ok {
		delete(s.cancels, healthCheckID)
	}
	s.mu.Unlock()

	if ok {
		cancel()
	}
}

// StopAll cancels every running task and waits for their goroutines to exit.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.cancels))
	for id := range s.cancels {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Stop(id)
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, task Task, checker health.Checker) {
	logger := s.logger.With().Str("health_check_id", task.HealthCheckID).Str("worker_id", task.WorkerID).Logger()

	grace := time.Duration(task.Config.GracePeriodMs) * time.Millisecond
	if grace > 0 {
		select {
		case <-time.After(grace):
		case <-ctx.Done():
			return
		}
	}

	failures := 0
	interval := time.Duration(task.Config.IntervalMs) * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		timer := metrics.NewTimer()
		result := checker.Check(ctx)
		timer.ObserveDurationVec(metrics.ProbeDuration, string(task.Config.Type))

		if ctx.Err() != nil {
			return
		}

		outcome := "healthy"
		if result.Healthy {
			failures = 0
		} else {
			failures++
			outcome = "unhealthy"
		}
		metrics.ProbesTotal.WithLabelValues(string(task.Config.Type), outcome).Inc()

		available := failures <= task.Config.MaxFailures
		metrics.WorkerAvailable.WithLabelValues(task.WorkerID, task.Region).Set(boolToFloat(available))

		liveness := types.WorkerLiveness{Available: available, LastHealthCheck: result.CheckedAt}
		if err := s.liveness.Set(ctx, task.WorkerID, task.Region, liveness); err != nil {
			logger.Error().Err(err).Msg("failed to write worker liveness")
		}

		if !result.Healthy {
			logger.Warn().Str("message", result.Message).Int("failures", failures).Msg("health probe failed")
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return
		}
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
