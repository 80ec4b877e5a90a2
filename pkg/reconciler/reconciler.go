// Package reconciler implements the Fleet Reconciler: the control loop that
// compares the desired instance count per (provider, region) rule against
// what each cloud adapter actually reports, and issues the create/destroy
// calls to close the gap.
package reconciler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/fleetcore/pkg/log"
	"github.com/cuemby/fleetcore/pkg/metrics"
	"github.com/cuemby/fleetcore/pkg/provider"
	"github.com/cuemby/fleetcore/pkg/types"
)

// bucketKey groups instances and rules by provider and canonical region.
type bucketKey struct {
	Provider types.Provider
	Region   string
}

// ReconciliationReport summarizes the outcome of one Reconcile call.
type ReconciliationReport struct {
	Created   []types.Instance
	Destroyed []types.Instance
	// Failures holds the error each provider's ListInstances or individual
	// create/destroy call failed with, keyed by provider name. A provider
	// present here had some or all of its buckets skipped this tick.
	Failures map[types.Provider]error
}

// Reconciler runs reconciliation ticks against a fixed set of provider
// adapters. Only one tick runs at a time; a tick that overlaps a running one
// is rejected rather than queued.
type Reconciler struct {
	providers   map[types.Provider]provider.Provider
	defaultPlan provider.Plan
	logger      zerolog.Logger

	runningMu sync.Mutex
	stopCh    chan struct{}
}

// Option configures a Reconciler at construction time.
type Option func(*Reconciler)

// WithDefaultPlan sets the instance shape used for every CreateInstance
// call. Rules carry only a desired count; the shape they provision is a
// control-plane-wide default, not a per-rule field.
func WithDefaultPlan(plan provider.Plan) Option {
	return func(r *Reconciler) { r.defaultPlan = plan }
}

func NewReconciler(providers map[types.Provider]provider.Provider, opts ...Option) *Reconciler {
	r := &Reconciler{
		providers: providers,
		defaultPlan: provider.Plan{
			VCPU:     1,
			MemoryMB: 1024,
			Image:    "ubuntu-22.04",
		},
		logger: log.WithComponent("reconciler"),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Manage runs reconciliation on a fixed interval until ctx is canceled or
// Stop is called. rulesFn is invoked fresh on every tick so callers can back
// it with a live rule store.
func (r *Reconciler) Manage(ctx context.Context, rulesFn func(ctx context.Context) ([]types.Rule, error), interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", interval).Msg("fleet reconciler started")

	for {
		select {
		case <-ticker.C:
			rules, err := rulesFn(ctx)
			if err != nil {
				r.logger.Error().Err(err).Msg("failed to load rules for reconciliation tick")
				continue
			}
			if _, err := r.Reconcile(ctx, rules); err != nil && err != ErrReconciliationInProgress {
				r.logger.Error().Err(err).Msg("reconciliation tick failed")
			}
		case <-ctx.Done():
			r.logger.Info().Msg("fleet reconciler stopped")
			return
		case <-r.stopCh:
			r.logger.Info().Msg("fleet reconciler stopped")
			return
		}
	}
}

// Stop terminates a running Manage loop.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

// Reconcile runs one reconciliation tick: validate rules, list current
// instances per provider (tolerating partial provider failure), then create
// or destroy instances to close the gap between desired and actual counts
// per (provider, region) bucket.
func (r *Reconciler) Reconcile(ctx context.Context, rules []types.Rule) (*ReconciliationReport, error) {
	if !r.runningMu.TryLock() {
		return nil, ErrReconciliationInProgress
	}
	defer r.runningMu.Unlock()

	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationTicksTotal.Inc()
	}()

	if err := validateRules(rules); err != nil {
		metrics.ReconciliationFailuresTotal.WithLabelValues("", "invalid_rules").Inc()
		return nil, err
	}

	neededProviders := make(map[types.Provider]struct{})
	for _, rule := range rules {
		neededProviders[rule.Provider] = struct{}{}
	}

	actual, listFailures := r.listAll(ctx, neededProviders)

	report := &ReconciliationReport{Failures: listFailures}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, rule := range rules {
		if _, failed := listFailures[rule.Provider]; failed {
			continue
		}
		adapter, ok := r.providers[rule.Provider]
		if !ok {
			mu.Lock()
			report.Failures[rule.Provider] = &UnknownProviderError{Provider: string(rule.Provider)}
			mu.Unlock()
			continue
		}

		key := bucketKey{Provider: rule.Provider, Region: rule.Region}
		bucket := actual[key]

		wg.Add(1)
		go func(rule types.Rule, adapter provider.Provider, bucket []types.Instance) {
			defer wg.Done()
			created, destroyed, err := r.applyDelta(ctx, adapter, rule, bucket)

			mu.Lock()
			defer mu.Unlock()
			report.Created = append(report.Created, created...)
			report.Destroyed = append(report.Destroyed, destroyed...)
			if err != nil {
				report.Failures[rule.Provider] = err
				metrics.ReconciliationFailuresTotal.WithLabelValues(string(rule.Provider), "apply_delta").Inc()
			}

			metrics.InstancesDesired.WithLabelValues(string(rule.Provider), rule.Region).Set(float64(rule.DesiredCount))
			metrics.InstancesLive.WithLabelValues(string(rule.Provider), rule.Region).Set(float64(len(bucket) + len(created) - len(destroyed)))
		}(rule, adapter, bucket)
	}

	wg.Wait()

	return report, nil
}

// validateRules enforces uniqueness of (Provider, Region) across the rule
// set before any provider call is made.
func validateRules(rules []types.Rule) error {
	seen := make(map[bucketKey]struct{}, len(rules))
	for _, rule := range rules {
		key := bucketKey{Provider: rule.Provider, Region: rule.Region}
		if _, ok := seen[key]; ok {
			return &InvalidRulesError{Provider: string(rule.Provider), Region: rule.Region}
		}
		seen[key] = struct{}{}
	}
	return nil
}

// listAll lists instances for every needed provider concurrently. A
// provider whose ListInstances call fails is recorded in failures and
// excluded from the returned buckets; other providers still succeed.
func (r *Reconciler) listAll(ctx context.Context, needed map[types.Provider]struct{}) (map[bucketKey][]types.Instance, map[types.Provider]error) {
	type listResult struct {
		name      types.Provider
		instances []types.Instance
		err       error
	}

	results := make(chan listResult, len(needed))
	var wg sync.WaitGroup

	for name := range needed {
		adapter, ok := r.providers[name]
		if !ok {
			results <- listResult{name: name, err: &UnknownProviderError{Provider: string(name)}}
			continue
		}
		wg.Add(1)
		go func(name types.Provider, adapter provider.Provider) {
			defer wg.Done()
			timer := metrics.NewTimer()
			instances, err := adapter.ListInstances(ctx)
			timer.ObserveDurationVec(metrics.ProviderRequestDuration, string(name), "ListInstances")
			outcome := "success"
			if err != nil {
				outcome = "failure"
			}
			metrics.ProviderRequestsTotal.WithLabelValues(string(name), "ListInstances", outcome).Inc()
			results <- listResult{name: name, instances: instances, err: err}
		}(name, adapter)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	buckets := make(map[bucketKey][]types.Instance)
	failures := make(map[types.Provider]error)

	for res := range results {
		if res.err != nil {
			r.logger.Error().Err(res.err).Str("provider", string(res.name)).Msg("failed to list instances")
			failures[res.name] = res.err
			continue
		}
		for _, inst := range res.instances {
			key := bucketKey{Provider: inst.Provider, Region: inst.Region}
			buckets[key] = append(buckets[key], inst)
		}
	}

	return buckets, failures
}

// applyDelta creates or destroys instances so bucket's length converges on
// rule.DesiredCount. Destroy victims are chosen oldest-first by
// (CreatedAt, ID) so scale-down is deterministic across ties.
func (r *Reconciler) applyDelta(ctx context.Context, adapter provider.Provider, rule types.Rule, bucket []types.Instance) ([]types.Instance, []types.Instance, error) {
	delta := rule.DesiredCount - len(bucket)
	if delta == 0 {
		return nil, nil, nil
	}

	if delta > 0 {
		created := make([]types.Instance, 0, delta)
		for i := 0; i < delta; i++ {
			timer := metrics.NewTimer()
			inst, err := adapter.CreateInstance(ctx, rule.Region, r.defaultPlan)
			timer.ObserveDurationVec(metrics.ProviderRequestDuration, string(rule.Provider), "CreateInstance")
			if err != nil {
				metrics.ProviderRequestsTotal.WithLabelValues(string(rule.Provider), "CreateInstance", "failure").Inc()
				return created, nil, err
			}
			metrics.ProviderRequestsTotal.WithLabelValues(string(rule.Provider), "CreateInstance", "success").Inc()
			metrics.InstancesCreatedTotal.WithLabelValues(string(rule.Provider), rule.Region).Inc()
			created = append(created, inst)
		}
		return created, nil, nil
	}

	victims := selectVictims(bucket, -delta)
	destroyed := make([]types.Instance, 0, len(victims))
	for _, victim := range victims {
		timer := metrics.NewTimer()
		err := adapter.DestroyInstance(ctx, victim.ID)
		timer.ObserveDurationVec(metrics.ProviderRequestDuration, string(rule.Provider), "DestroyInstance")
		if err != nil {
			metrics.ProviderRequestsTotal.WithLabelValues(string(rule.Provider), "DestroyInstance", "failure").Inc()
			return nil, destroyed, err
		}
		metrics.ProviderRequestsTotal.WithLabelValues(string(rule.Provider), "DestroyInstance", "success").Inc()
		metrics.InstancesDestroyedTotal.WithLabelValues(string(rule.Provider), rule.Region).Inc()
		destroyed = append(destroyed, victim)
	}
	return nil, destroyed, nil
}

// selectVictims returns the n oldest instances in bucket, ordered by
// (CreatedAt asc, ID asc).
func selectVictims(bucket []types.Instance, n int) []types.Instance {
	sorted := make([]types.Instance, len(bucket))
	copy(sorted, bucket)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}
