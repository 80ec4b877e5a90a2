package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/fleetcore/pkg/healer"
	"github.com/cuemby/fleetcore/pkg/rollout"
	"github.com/cuemby/fleetcore/pkg/types"
)

type fakeRuntime struct {
	mu       sync.Mutex
	statuses map[string]types.ContainerState
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{statuses: make(map[string]types.ContainerState)}
}

func (r *fakeRuntime) CreateContainer(ctx context.Context, id string, opts types.CreateOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[id] = types.ContainerStateCreated
	return nil
}

func (r *fakeRuntime) StartContainer(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[id] = types.ContainerStateRunning
	return nil
}

func (r *fakeRuntime) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	return nil
}

func (r *fakeRuntime) RestartContainer(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[id] = types.ContainerStateRunning
	return nil
}

func (r *fakeRuntime) DeleteContainer(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.statuses, id)
	return nil
}

func (r *fakeRuntime) GetContainerStatus(ctx context.Context, id string) (types.ContainerState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[id], nil
}

func (r *fakeRuntime) ListContainers(ctx context.Context) ([]string, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*Server, *healer.Supervisor) {
	t.Helper()
	rt := newFakeRuntime()
	sup := healer.NewSupervisor(rt, 3, 16)
	sup.RegisterContainer(types.ContainerRecord{ID: "c1", Image: "app:v1", State: types.ContainerStateRunning})

	exec := rollout.NewExecutor(
		func(ctx context.Context, image, versionTag string) (types.ContainerRecord, error) {
			return types.ContainerRecord{ID: "new-" + versionTag, Image: image, VersionTag: versionTag}, nil
		},
		func(ctx context.Context, id string) error { return nil },
		func(ctx context.Context, record types.ContainerRecord) (bool, error) { return true, nil },
	)

	return NewServer(nil, nil, sup, exec), sup
}

func TestHandleHealthz_ReturnsOK(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleHealerStartStop_TogglesHealingEnabled(t *testing.T) {
	server, sup := newTestServer(t)
	sup.StopHealing()
	require.False(t, sup.HealingEnabled())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/healer/start", nil)
	rec := httptest.NewRecorder()
	server.Router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, sup.HealingEnabled())
}

func TestHandleHealerHealSelective_RejectsUntrackedContainer(t *testing.T) {
	server, _ := newTestServer(t)

	body := strings.NewReader(`{"ContainerIDs": ["does-not-exist"]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/healer/heal", body)
	rec := httptest.NewRecorder()
	server.Router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleHealerReport_ReturnsEmptyReportInitially(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/healer/report", nil)
	rec := httptest.NewRecorder()
	server.Router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var events []types.HealingEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	assert.Empty(t, events)
}

func TestRolloutStrategyLifecycle_CreateGetUpdateDelete(t *testing.T) {
	server, _ := newTestServer(t)

	create := strings.NewReader(`{"Type": 1, "Steps": 4, "IntervalSecond": 0}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rollouts/web/strategy", create)
	rec := httptest.NewRecorder()
	server.Router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/rollouts/web/strategy", nil)
	rec = httptest.NewRecorder()
	server.Router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var strategy types.RolloutStrategy
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &strategy))
	assert.Equal(t, types.RolloutStrategyLinear, strategy.Type)
	assert.Equal(t, 4, strategy.Steps)

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/rollouts/web/strategy", nil)
	rec = httptest.NewRecorder()
	server.Router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/rollouts/web/strategy", nil)
	rec = httptest.NewRecorder()
	server.Router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleStartRollout_RejectsUnknownPopulation(t *testing.T) {
	server, _ := newTestServer(t)

	body := strings.NewReader(`{"NewImage": "app:v2", "NewVersionTag": "v2"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rollouts/unknown/start", body)
	rec := httptest.NewRecorder()
	server.Router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReadOnlyMiddleware_BlocksNonGetMethods(t *testing.T) {
	handler := ReadOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	get := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, get)
	assert.Equal(t, http.StatusOK, rec.Code)

	post := httptest.NewRequest(http.MethodPost, "/anything", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, post)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
