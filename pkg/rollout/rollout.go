// Package rollout implements the Rollout Executor: advancing a container
// population from one version to another under a BlueGreen, Linear, or
// Exponential strategy, with a probe gate before any step commits.
package rollout

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/fleetcore/pkg/log"
	"github.com/cuemby/fleetcore/pkg/metrics"
	"github.com/cuemby/fleetcore/pkg/types"
)

// CreateFunc provisions one container running newImage at versionTag and
// returns its record. RemoveFunc tears one down by ID. ProbeFunc reports
// whether a freshly created container is healthy enough to keep serving
// traffic; rollout progress gates on it.
type CreateFunc func(ctx context.Context, image, versionTag string) (types.ContainerRecord, error)
type RemoveFunc func(ctx context.Context, id string) error
type ProbeFunc func(ctx context.Context, record types.ContainerRecord) (bool, error)

// Executor runs rollouts for any number of independent populations,
// serialized per population name so two rollouts never race the same set
// of containers.
type Executor struct {
	create CreateFunc
	remove RemoveFunc
	probe  ProbeFunc
	logger zerolog.Logger

	mu         sync.Mutex
	inProgress map[string]bool
}

func NewExecutor(create CreateFunc, remove RemoveFunc, probe ProbeFunc) *Executor {
	return &Executor{
		create:     create,
		remove:     remove,
		probe:      probe,
		logger:     log.WithComponent("rollout"),
		inProgress: make(map[string]bool),
	}
}

func (e *Executor) acquire(population string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inProgress[population] {
		return &RolloutInProgressError{Population: population}
	}
	e.inProgress[population] = true
	return nil
}

func (e *Executor) release(population string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inProgress, population)
}

// Execute advances population from its current (all old-version) state to
// newImage/newVersionTag under strategy. On success it returns the final
// container set; on a failed probe it rolls back to the original set and
// returns an error.
func (e *Executor) Execute(ctx context.Context, population string, current []types.ContainerRecord, strategy types.RolloutStrategy, newImage, newVersionTag string) ([]types.ContainerRecord, error) {
	if err := e.acquire(population); err != nil {
		return nil, err
	}
	defer e.release(population)

	strategyName := strategyLabel(strategy.Type)
	timer := metrics.NewTimer()

	var result []types.ContainerRecord
	var err error

	switch strategy.Type {
	case types.RolloutStrategyBlueGreen:
		result, err = e.executeBlueGreen(ctx, current, newImage, newVersionTag)
	case types.RolloutStrategyLinear:
		result, err = e.executeLinear(ctx, current, strategy, newImage, newVersionTag)
	case types.RolloutStrategyExponential:
		result, err = e.executeExponential(ctx, current, strategy, newImage, newVersionTag)
	default:
		err = &UnknownStrategyTypeError{Type: int(strategy.Type)}
	}

	timer.ObserveDurationVec(metrics.RolloutStepDuration, strategyName)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	metrics.RolloutsTotal.WithLabelValues(strategyName, outcome).Inc()

	return result, err
}

func strategyLabel(t types.RolloutStrategyType) string {
	switch t {
	case types.RolloutStrategyBlueGreen:
		return "blue_green"
	case types.RolloutStrategyLinear:
		return "linear"
	case types.RolloutStrategyExponential:
		return "exponential"
	default:
		return "unknown"
	}
}

// executeBlueGreen creates a full parallel population at the new version,
// probes every member, and only then destroys the old population. Any probe
// failure rolls back by destroying the new population instead.
func (e *Executor) executeBlueGreen(ctx context.Context, old []types.ContainerRecord, image, versionTag string) ([]types.ContainerRecord, error) {
	created := make([]types.ContainerRecord, 0, len(old))
	for range old {
		rec, err := e.create(ctx, image, versionTag)
		if err != nil {
			e.destroyAll(ctx, created)
			return nil, fmt.Errorf("creating blue/green replacement: %w", err)
		}
		created = append(created, rec)
	}

	for _, rec := range created {
		healthy, err := e.probe(ctx, rec)
		if err != nil || !healthy {
			e.logger.Warn().Str("container_id", rec.ID).Msg("blue/green probe failed, rolling back")
			e.destroyAll(ctx, created)
			return old, fmt.Errorf("blue/green probe failed for %s, rolled back", rec.ID)
		}
	}

	e.destroyAll(ctx, old)
	return created, nil
}

// executeLinear advances the new-version count to ceil(total*k/steps) on
// step k, probing and pausing IntervalSecond between steps.
func (e *Executor) executeLinear(ctx context.Context, current []types.ContainerRecord, strategy types.RolloutStrategy, image, versionTag string) ([]types.ContainerRecord, error) {
	total := len(current)
	old := append([]types.ContainerRecord{}, current...)
	var newGen []types.ContainerRecord

	steps := strategy.Steps
	if steps <= 0 {
		steps = 1
	}

	for step := 1; step <= steps; step++ {
		target := int(math.Ceil(float64(total) * float64(step) / float64(steps)))

		var err error
		old, newGen, err = e.advance(ctx, old, newGen, total, target, image, versionTag)
		if err != nil {
			e.rollbackTo(ctx, &old, &newGen, total, image, versionTag, current)
			return current, err
		}

		if step < steps {
			select {
			case <-time.After(time.Duration(strategy.IntervalSecond) * time.Second):
			case <-ctx.Done():
				return current, ctx.Err()
			}
		}
	}

	return append(old, newGen...), nil
}

// executeExponential doubles the new-version percentage starting at
// InitialPercentage, clamped to 100, probing at each step, and stops after
// Steps steps or upon reaching 100%, whichever comes first.
func (e *Executor) executeExponential(ctx context.Context, current []types.ContainerRecord, strategy types.RolloutStrategy, image, versionTag string) ([]types.ContainerRecord, error) {
	total := len(current)
	old := append([]types.ContainerRecord{}, current...)
	var newGen []types.ContainerRecord

	percentage := strategy.InitialPercentage
	if percentage <= 0 {
		percentage = 1
	}
	if percentage > 100 {
		percentage = 100
	}

	steps := strategy.Steps
	if steps <= 0 {
		steps = 1
	}

	for step := 1; step <= steps; step++ {
		target := int(math.Round(float64(total) * float64(percentage) / 100))

		var err error
		old, newGen, err = e.advance(ctx, old, newGen, total, target, image, versionTag)
		if err != nil {
			e.rollbackTo(ctx, &old, &newGen, total, image, versionTag, current)
			return current, err
		}

		if percentage >= 100 {
			break
		}

		percentage *= 2
		if percentage > 100 {
			percentage = 100
		}
	}

	return append(old, newGen...), nil
}

// advance grows newGen toward target and shrinks old by the same amount,
// probing each newly created member before it counts toward the step.
// Removal from old always takes the oldest members first.
func (e *Executor) advance(ctx context.Context, old, newGen []types.ContainerRecord, total, target int, image, versionTag string) ([]types.ContainerRecord, []types.ContainerRecord, error) {
	for len(newGen) < target {
		rec, err := e.create(ctx, image, versionTag)
		if err != nil {
			return old, newGen, fmt.Errorf("creating new-version container: %w", err)
		}
		healthy, err := e.probe(ctx, rec)
		if err != nil || !healthy {
			_ = e.remove(ctx, rec.ID)
			return old, newGen, fmt.Errorf("probe failed for new-version container %s", rec.ID)
		}
		newGen = append(newGen, rec)
	}

	oldTarget := total - target
	sortOldestFirst(old)
	for len(old) > oldTarget {
		victim := old[0]
		if err := e.remove(ctx, victim.ID); err != nil {
			return old, newGen, fmt.Errorf("removing old-version container %s: %w", victim.ID, err)
		}
		old = old[1:]
	}

	return old, newGen, nil
}

// rollbackTo destroys whatever new-version containers were created and
// recreates old-version containers so the population returns to original.
// It is idempotent: calling it twice on an already-restored population is a
// no-op because len(newGen)==0 and len(old)==len(original).
func (e *Executor) rollbackTo(ctx context.Context, old *[]types.ContainerRecord, newGen *[]types.ContainerRecord, total int, image, versionTag string, original []types.ContainerRecord) {
	e.destroyAll(ctx, *newGen)
	*newGen = nil

	originalImage := ""
	originalVersion := ""
	if len(original) > 0 {
		originalImage = original[0].Image
		originalVersion = original[0].VersionTag
	}

	for len(*old) < total {
		rec, err := e.create(ctx, originalImage, originalVersion)
		if err != nil {
			e.logger.Error().Err(err).Msg("failed to recreate old-version container during rollback")
			return
		}
		*old = append(*old, rec)
	}
}

func (e *Executor) destroyAll(ctx context.Context, records []types.ContainerRecord) {
	for _, rec := range records {
		if err := e.remove(ctx, rec.ID); err != nil {
			e.logger.Error().Err(err).Str("container_id", rec.ID).Msg("failed to remove container during rollout cleanup")
		}
	}
}

func sortOldestFirst(records []types.ContainerRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}
