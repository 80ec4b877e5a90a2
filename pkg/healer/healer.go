// Package healer implements the Container Supervisor: a poll loop that
// restarts or recreates dead containers on a worker, bounded by a
// per-container attempt ceiling, and the rolling-update primitive that
// replaces a population one container at a time.
package healer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/fleetcore/pkg/log"
	"github.com/cuemby/fleetcore/pkg/metrics"
	"github.com/cuemby/fleetcore/pkg/runtime"
	"github.com/cuemby/fleetcore/pkg/types"
)

const (
	minBackoff = 1 * time.Second
	maxBackoff = 60 * time.Second
)

// Supervisor tracks a worker's containers and heals ones the runtime
// reports dead, up to MaxHealAttempts per container before giving up.
type Supervisor struct {
	runtime runtime.Runtime

	mu         sync.Mutex
	containers map[string]*types.ContainerRecord

	healingEnabled atomic.Bool

	maxHealAttempts int
	rollingPause    time.Duration

	ring     *eventRing
	notifier *Notifier
	cache    *Cache
	logger   zerolog.Logger

	stopCh chan struct{}
}

type Option func(*Supervisor)

func WithRollingPause(d time.Duration) Option {
	return func(s *Supervisor) { s.rollingPause = d }
}

func WithNotifier(n *Notifier) Option {
	return func(s *Supervisor) { s.notifier = n }
}

// WithCache persists every RegisterContainer/Forget/emit through to a
// worker-local BoltDB file, so a restarted Supervisor can recover tracked
// containers and healing history via LoadCache instead of starting blind.
// A container's HealAttempts is persisted as it stood at RegisterContainer;
// later increments and resets made while healing are not written through.
func WithCache(c *Cache) Option {
	return func(s *Supervisor) { s.cache = c }
}

func NewSupervisor(rt runtime.Runtime, maxHealAttempts, ringCapacity int, opts ...Option) *Supervisor {
	s := &Supervisor{
		runtime:         rt,
		containers:      make(map[string]*types.ContainerRecord),
		maxHealAttempts: maxHealAttempts,
		rollingPause:    10 * time.Second,
		ring:            newEventRing(ringCapacity),
		logger:          log.WithComponent("healer"),
		stopCh:          make(chan struct{}),
	}
	s.healingEnabled.Store(true)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterContainer adds or replaces the tracked record for a container.
// The rollout executor's create callback in cmd/fleetcorectl calls this for
// every container it creates so the Supervisor knows its recreate config.
func (s *Supervisor) RegisterContainer(record types.ContainerRecord) {
	s.mu.Lock()
	s.containers[record.ID] = &record
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.SaveContainer(record); err != nil {
			s.logger.Error().Err(err).Str("container_id", record.ID).Msg("failed to persist container to cache")
		}
	}
}

// Forget drops a container from tracking, e.g. after a deliberate removal
// the Supervisor should not try to heal.
func (s *Supervisor) Forget(id string) {
	s.mu.Lock()
	delete(s.containers, id)
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.DeleteContainer(id); err != nil {
			s.logger.Error().Err(err).Str("container_id", id).Msg("failed to remove container from cache")
		}
	}
}

// LoadCache re-registers every container persisted in the Supervisor's
// cache and replays its healing history into the in-memory ring. Call
// this once, right after NewSupervisor, before Poll starts.
func (s *Supervisor) LoadCache() error {
	if s.cache == nil {
		return nil
	}

	records, err := s.cache.LoadContainers()
	if err != nil {
		return err
	}
	s.mu.Lock()
	for i := range records {
		s.containers[records[i].ID] = &records[i]
	}
	s.mu.Unlock()

	events, err := s.cache.LoadEvents()
	if err != nil {
		return err
	}
	for _, ev := range events {
		s.ring.Add(ev)
	}

	return nil
}

// StartHealing enables the supervisor's poll loop to act on dead
// containers. Healing is enabled by default at construction.
func (s *Supervisor) StartHealing() { s.healingEnabled.Store(true) }

// StopHealing disables healing globally without stopping the poll loop
// itself; status is still observed, just not acted on.
func (s *Supervisor) StopHealing() { s.healingEnabled.Store(false) }

func (s *Supervisor) HealingEnabled() bool { return s.healingEnabled.Load() }

// Stop terminates a running Poll loop.
func (s *Supervisor) Stop() { close(s.stopCh) }

// Poll runs the supervisor loop until ctx is canceled or Stop is called.
// Backoff starts at 1s and doubles (capped at 60s) every consecutive
// failed poll iteration, resetting to 1s on the next success.
func (s *Supervisor) Poll(ctx context.Context) {
	backoff := minBackoff

	s.logger.Info().Msg("container supervisor started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("container supervisor stopped")
			return
		case <-s.stopCh:
			s.logger.Info().Msg("container supervisor stopped")
			return
		default:
		}

		timer := metrics.NewTimer()
		err := s.pollOnce(ctx)
		timer.ObserveDuration(metrics.SupervisorPollDuration)

		if err != nil {
			s.logger.Error().Err(err).Dur("backoff", backoff).Msg("poll iteration failed")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = minBackoff
		select {
		case <-time.After(minBackoff):
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}

// pollOnce inspects every tracked container's runtime status and heals any
// reported dead, when healing is enabled.
func (s *Supervisor) pollOnce(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.containers))
	for id := range s.containers {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		state, err := s.runtime.GetContainerStatus(ctx, id)
		if err != nil {
			return fmt.Errorf("getting status for %s: %w", id, err)
		}

		if state != types.ContainerStateDead {
			continue
		}
		if !s.HealingEnabled() {
			continue
		}
		s.heal(ctx, id)
	}

	return nil
}

// heal attempts to recover one dead container: a restart first, a full
// recreate if the restart itself errors. HealAttempts is reset to zero on
// success and bounded by maxHealAttempts before the Supervisor gives up.
func (s *Supervisor) heal(ctx context.Context, id string) {
	s.mu.Lock()
	record, ok := s.containers[id]
	s.mu.Unlock()
	if !ok {
		return
	}

	if record.HealAttempts >= s.maxHealAttempts {
		s.emit(id, types.HealingEventSkippedMaxAttempts)
		metrics.HealingEventsTotal.WithLabelValues(string(types.HealingEventSkippedMaxAttempts)).Inc()
		s.notifier.NotifySkippedMaxAttempts(ctx, id, record.HealAttempts)
		return
	}

	err := s.runtime.RestartContainer(ctx, id)
	kind := types.HealingEventRestarted
	if err != nil {
		s.logger.Warn().Err(err).Str("container_id", id).Msg("restart failed, recreating")
		err = s.recreate(ctx, record)
		kind = types.HealingEventRecreated
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		record.HealAttempts++
		metrics.HealAttemptsGauge.WithLabelValues(id).Set(float64(record.HealAttempts))
		s.logger.Error().Err(err).Str("container_id", id).Int("attempts", record.HealAttempts).Msg("heal attempt failed")
		return
	}

	record.HealAttempts = 0
	metrics.HealAttemptsGauge.WithLabelValues(id).Set(0)
	metrics.ContainersHealedTotal.Inc()
	s.emit(id, kind)
	metrics.HealingEventsTotal.WithLabelValues(string(kind)).Inc()
}

func (s *Supervisor) recreate(ctx context.Context, record *types.ContainerRecord) error {
	if err := s.runtime.DeleteContainer(ctx, record.ID); err != nil {
		return fmt.Errorf("deleting %s before recreate: %w", record.ID, err)
	}
	if err := s.runtime.CreateContainer(ctx, record.ID, record.Config.CreateOptions); err != nil {
		return fmt.Errorf("recreating %s: %w", record.ID, err)
	}
	if err := s.runtime.StartContainer(ctx, record.ID); err != nil {
		return fmt.Errorf("starting recreated %s: %w", record.ID, err)
	}
	return nil
}

func (s *Supervisor) emit(containerID string, kind types.HealingEventKind) {
	event := types.HealingEvent{ContainerID: containerID, Timestamp: time.Now(), Kind: kind}
	s.ring.Add(event)

	if s.cache != nil {
		if err := s.cache.AppendEvent(event); err != nil {
			s.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to persist healing event to cache")
		}
	}
}

// HealSelective forces a heal attempt on specific containers regardless of
// their currently observed state, bypassing the dead-state gate in
// pollOnce. Used by the operator API for manual intervention.
func (s *Supervisor) HealSelective(ctx context.Context, containerIDs []string) error {
	for _, id := range containerIDs {
		s.mu.Lock()
		_, ok := s.containers[id]
		s.mu.Unlock()
		if !ok {
			return fmt.Errorf("container %s is not tracked by this supervisor", id)
		}
		s.heal(ctx, id)
	}
	return nil
}

// PerformRollingUpdate recreates every tracked container with a new image
// and version tag, one at a time, pausing rollingPause between each so the
// population never drops capacity by more than one container at once.
func (s *Supervisor) PerformRollingUpdate(ctx context.Context, image, versionTag string) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.containers))
	for id := range s.containers {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for i, id := range ids {
		s.mu.Lock()
		record := s.containers[id]
		record.Config.CreateOptions.Image = image
		record.Config.VersionTag = versionTag
		s.mu.Unlock()

		if err := s.recreate(ctx, record); err != nil {
			return fmt.Errorf("rolling update of %s: %w", id, err)
		}
		record.VersionTag = versionTag
		record.Image = image

		if i < len(ids)-1 {
			select {
			case <-time.After(s.rollingPause):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// GetHealingReport returns the bounded history of healing outcomes,
// oldest-first.
func (s *Supervisor) GetHealingReport() []types.HealingEvent {
	return s.ring.Snapshot()
}
