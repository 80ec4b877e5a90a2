package healer

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/fleetcore/pkg/types"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	path := filepath.Join(t.TempDir(), "healer.db")
	cache, err := NewCache(path)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestCache_SaveContainerThenLoadRoundTrips(t *testing.T) {
	cache := newTestCache(t)

	record := types.ContainerRecord{ID: "c1", Image: "app:v1", State: types.ContainerStateRunning, HealAttempts: 2}
	require.NoError(t, cache.SaveContainer(record))

	records, err := cache.LoadContainers()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, record, records[0])
}

func TestCache_DeleteContainerRemovesIt(t *testing.T) {
	cache := newTestCache(t)

	require.NoError(t, cache.SaveContainer(types.ContainerRecord{ID: "c1"}))
	require.NoError(t, cache.DeleteContainer("c1"))

	records, err := cache.LoadContainers()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestCache_AppendEventThenLoadReturnsOldestFirst(t *testing.T) {
	cache := newTestCache(t)

	first := types.HealingEvent{ContainerID: "c1", Timestamp: time.Now(), Kind: types.HealingEventRestarted}
	second := types.HealingEvent{ContainerID: "c1", Timestamp: first.Timestamp.Add(time.Second), Kind: types.HealingEventRecreated}

	require.NoError(t, cache.AppendEvent(first))
	require.NoError(t, cache.AppendEvent(second))

	events, err := cache.LoadEvents()
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, types.HealingEventRestarted, events[0].Kind)
	assert.Equal(t, types.HealingEventRecreated, events[1].Kind)
}

func TestSupervisor_LoadCacheRestoresContainersAndEvents(t *testing.T) {
	cache := newTestCache(t)
	require.NoError(t, cache.SaveContainer(types.ContainerRecord{ID: "c1", HealAttempts: 1}))
	require.NoError(t, cache.AppendEvent(types.HealingEvent{ContainerID: "c1", Timestamp: time.Now(), Kind: types.HealingEventRestarted}))

	rt := newFakeRuntime()
	sup := NewSupervisor(rt, 3, 16, WithCache(cache))
	require.NoError(t, sup.LoadCache())

	sup.mu.Lock()
	restored, ok := sup.containers["c1"]
	sup.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, 1, restored.HealAttempts)

	report := sup.GetHealingReport()
	require.Len(t, report, 1)
	assert.Equal(t, types.HealingEventRestarted, report[0].Kind)
}
