package reconciler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/fleetcore/pkg/provider"
	"github.com/cuemby/fleetcore/pkg/types"
)

// fakeProvider is an in-memory Provider used across reconciler tests.
type fakeProvider struct {
	mu        sync.Mutex
	name      types.Provider
	instances map[string]types.Instance
	listErr   error
	nextID    int
}

func newFakeProvider(name types.Provider, seed ...types.Instance) *fakeProvider {
	p := &fakeProvider{name: name, instances: make(map[string]types.Instance)}
	for _, inst := range seed {
		p.instances[inst.ID] = inst
	}
	return p
}

func (p *fakeProvider) Name() types.Provider { return p.name }

func (p *fakeProvider) ListInstances(ctx context.Context) ([]types.Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listErr != nil {
		return nil, p.listErr
	}
	out := make([]types.Instance, 0, len(p.instances))
	for _, inst := range p.instances {
		out = append(out, inst)
	}
	return out, nil
}

func (p *fakeProvider) CreateInstance(ctx context.Context, region string, plan provider.Plan) (types.Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	inst := types.Instance{
		ID:        genID(p.name, p.nextID),
		Provider:  p.name,
		Region:    region,
		VCPU:      plan.VCPU,
		MemoryMB:  plan.MemoryMB,
		State:     types.InstanceStateRunning,
		CreatedAt: time.Now(),
	}
	p.instances[inst.ID] = inst
	return inst, nil
}

func (p *fakeProvider) DestroyInstance(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.instances, id)
	return nil
}

func (p *fakeProvider) ListVolumes(ctx context.Context) ([]types.Volume, error) { return nil, nil }
func (p *fakeProvider) CreateVolume(ctx context.Context, region string, sizeGB int, tier types.VolumeTier) (types.Volume, error) {
	return types.Volume{}, nil
}
func (p *fakeProvider) DestroyVolume(ctx context.Context, id string) error { return nil }
func (p *fakeProvider) AttachVolume(ctx context.Context, volumeID, instanceID string, opts provider.VolumeAttachOptions) error {
	return nil
}
func (p *fakeProvider) DetachVolume(ctx context.Context, volumeID string, opts provider.VolumeDetachOptions) error {
	return nil
}
func (p *fakeProvider) ResizeVolume(ctx context.Context, volumeID string, newSizeGB int, newTier *types.VolumeTier) error {
	return nil
}

func genID(name types.Provider, n int) string {
	return string(name) + "-" + time.Now().Format("150405") + "-" + string(rune('a'+n))
}

func TestReconcile_CreatesToMeetDesiredCount(t *testing.T) {
	aws := newFakeProvider(types.ProviderAWS)
	r := NewReconciler(map[types.Provider]provider.Provider{types.ProviderAWS: aws})

	rules := []types.Rule{{Provider: types.ProviderAWS, Region: "Frankfurt", DesiredCount: 3}}

	report, err := r.Reconcile(context.Background(), rules)
	require.NoError(t, err)
	assert.Len(t, report.Created, 3)
	assert.Empty(t, report.Destroyed)
	assert.Empty(t, report.Failures)
}

func TestReconcile_DestroysOldestFirstWhenOverDesiredCount(t *testing.T) {
	old := types.Instance{ID: "i-1", Provider: types.ProviderAWS, Region: "Frankfurt", CreatedAt: time.Now().Add(-time.Hour)}
	mid := types.Instance{ID: "i-2", Provider: types.ProviderAWS, Region: "Frankfurt", CreatedAt: time.Now().Add(-time.Minute)}
	newest := types.Instance{ID: "i-3", Provider: types.ProviderAWS, Region: "Frankfurt", CreatedAt: time.Now()}

	aws := newFakeProvider(types.ProviderAWS, old, mid, newest)
	r := NewReconciler(map[types.Provider]provider.Provider{types.ProviderAWS: aws})

	rules := []types.Rule{{Provider: types.ProviderAWS, Region: "Frankfurt", DesiredCount: 1}}

	report, err := r.Reconcile(context.Background(), rules)
	require.NoError(t, err)
	require.Len(t, report.Destroyed, 2)
	destroyedIDs := []string{report.Destroyed[0].ID, report.Destroyed[1].ID}
	assert.ElementsMatch(t, []string{"i-1", "i-2"}, destroyedIDs)

	remaining, err := aws.ListInstances(context.Background())
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "i-3", remaining[0].ID)
}

func TestReconcile_NoOpWhenActualMatchesDesired(t *testing.T) {
	inst := types.Instance{ID: "i-1", Provider: types.ProviderAWS, Region: "Frankfurt", CreatedAt: time.Now()}
	aws := newFakeProvider(types.ProviderAWS, inst)
	r := NewReconciler(map[types.Provider]provider.Provider{types.ProviderAWS: aws})

	rules := []types.Rule{{Provider: types.ProviderAWS, Region: "Frankfurt", DesiredCount: 1}}

	report, err := r.Reconcile(context.Background(), rules)
	require.NoError(t, err)
	assert.Empty(t, report.Created)
	assert.Empty(t, report.Destroyed)
}

func TestReconcile_RejectsDuplicateRuleTuples(t *testing.T) {
	aws := newFakeProvider(types.ProviderAWS)
	r := NewReconciler(map[types.Provider]provider.Provider{types.ProviderAWS: aws})

	rules := []types.Rule{
		{Provider: types.ProviderAWS, Region: "Frankfurt", DesiredCount: 1},
		{Provider: types.ProviderAWS, Region: "Frankfurt", DesiredCount: 2},
	}

	_, err := r.Reconcile(context.Background(), rules)
	require.Error(t, err)
	assert.IsType(t, &InvalidRulesError{}, err)
}

func TestReconcile_PartialProviderFailureDoesNotBlockOthers(t *testing.T) {
	aws := newFakeProvider(types.ProviderAWS)
	aws.listErr = assertError("boom")

	vultr := newFakeProvider(types.ProviderVultr)

	r := NewReconciler(map[types.Provider]provider.Provider{
		types.ProviderAWS:   aws,
		types.ProviderVultr: vultr,
	})

	rules := []types.Rule{
		{Provider: types.ProviderAWS, Region: "Frankfurt", DesiredCount: 2},
		{Provider: types.ProviderVultr, Region: "NewJersey", DesiredCount: 2},
	}

	report, err := r.Reconcile(context.Background(), rules)
	require.NoError(t, err)
	assert.Contains(t, report.Failures, types.ProviderAWS)
	assert.Len(t, report.Created, 2)
}

func TestReconcile_RejectsConcurrentTicks(t *testing.T) {
	blocking := &blockingProvider{unblock: make(chan struct{})}
	r := NewReconciler(map[types.Provider]provider.Provider{types.ProviderAWS: blocking})

	rules := []types.Rule{{Provider: types.ProviderAWS, Region: "Frankfurt", DesiredCount: 1}}

	var firstStarted int32
	go func() {
		atomic.StoreInt32(&firstStarted, 1)
		_, _ = r.Reconcile(context.Background(), rules)
	}()

	for atomic.LoadInt32(&firstStarted) == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)

	_, err := r.Reconcile(context.Background(), rules)
	assert.ErrorIs(t, err, ErrReconciliationInProgress)

	close(blocking.unblock)
}

type assertError string

func (e assertError) Error() string { return string(e) }

// blockingProvider blocks ListInstances until unblock is closed, letting
// tests assert the single-concurrent-tick guarantee.
type blockingProvider struct {
	unblock chan struct{}
}

func (p *blockingProvider) Name() types.Provider { return types.ProviderAWS }
func (p *blockingProvider) ListInstances(ctx context.Context) ([]types.Instance, error) {
	<-p.unblock
	return nil, nil
}
func (p *blockingProvider) CreateInstance(ctx context.Context, region string, plan provider.Plan) (types.Instance, error) {
	return types.Instance{}, nil
}
func (p *blockingProvider) DestroyInstance(ctx context.Context, id string) error { return nil }
func (p *blockingProvider) ListVolumes(ctx context.Context) ([]types.Volume, error) {
	return nil, nil
}
func (p *blockingProvider) CreateVolume(ctx context.Context, region string, sizeGB int, tier types.VolumeTier) (types.Volume, error) {
	return types.Volume{}, nil
}
func (p *blockingProvider) DestroyVolume(ctx context.Context, id string) error { return nil }
func (p *blockingProvider) AttachVolume(ctx context.Context, volumeID, instanceID string, opts provider.VolumeAttachOptions) error {
	return nil
}
func (p *blockingProvider) DetachVolume(ctx context.Context, volumeID string, opts provider.VolumeDetachOptions) error {
	return nil
}
func (p *blockingProvider) ResizeVolume(ctx context.Context, volumeID string, newSizeGB int, newTier *types.VolumeTier) error {
	return nil
}
