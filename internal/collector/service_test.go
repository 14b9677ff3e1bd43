package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostwatch/internal/clock"
	"hostwatch/internal/docker"
	"hostwatch/internal/eventbus"
	"hostwatch/internal/metrics"
	"hostwatch/internal/models"
	"hostwatch/internal/throttle"
)

type fakeRuntime struct {
	inventory []docker.InventoryRow
	stats     []docker.StatsRow
	statsErr  error
}

func (f *fakeRuntime) Inventory(context.Context) ([]docker.InventoryRow, error) { return f.inventory, nil }

func (f *fakeRuntime) Stats(context.Context) ([]docker.StatsRow, error) {
	return f.stats, f.statsErr
}

func TestContainerCollectorJoinsByName(t *testing.T) {
	rt := &fakeRuntime{
		inventory: []docker.InventoryRow{
			{ID: "a", Name: "web", Status: "Up 2 hours"},
			{ID: "b", Name: "worker", Status: "Exited (0) 1 hour ago"},
			{ID: "c", Name: "cache", Status: "Up 1 hour (Paused)"},
		},
		stats: []docker.StatsRow{{Name: "web", CPUPercent: 12.5, MemoryUsed: 100, MemoryLimit: 2000, NetworkRx: 1, NetworkTx: 2}},
	}
	c := NewContainerCollector(rt, clock.NewFake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)), discardLogger())

	snaps, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, snaps, 3)

	assert.Equal(t, models.ContainerRunning, snaps[0].Status)
	assert.Equal(t, 12.5, snaps[0].CPUPercent)
	assert.Equal(t, int64(2000), snaps[0].MemoryLimit)

	assert.Equal(t, models.ContainerStopped, snaps[1].Status)
	assert.Zero(t, snaps[1].CPUPercent)
	assert.Equal(t, int64(1<<30), snaps[1].MemoryLimit)

	assert.Equal(t, models.ContainerPaused, snaps[2].Status)
}

func TestContainerCollectorServesStaleOnFailure(t *testing.T) {
	rt := &fakeRuntime{inventory: []docker.InventoryRow{{ID: "a", Name: "web", Status: "Up"}}}
	c := NewContainerCollector(rt, clock.Real(), discardLogger())

	first, err := c.Collect(context.Background())
	require.NoError(t, err)

	rt.statsErr = errors.New("daemon timeout")
	rt.inventory = nil
	stale, err := c.Collect(context.Background())
	require.Error(t, err)
	assert.Equal(t, first, stale)
}

type recordingStore struct {
	mu         sync.Mutex
	metrics    []models.MetricsSnapshot
	containers [][]models.ContainerSnapshot
	fail       bool
}

func (s *recordingStore) InsertMetrics(_ context.Context, m models.MetricsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("disk I/O error")
	}
	s.metrics = append(s.metrics, m)
	return nil
}

func (s *recordingStore) InsertContainerStats(_ context.Context, stats []models.ContainerSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("disk I/O error")
	}
	s.containers = append(s.containers, stats)
	return nil
}

type observerFunc func(models.MetricsSnapshot)

func (f observerFunc) ObserveMetrics(_ context.Context, m models.MetricsSnapshot) { f(m) }

func TestTickMetricsPublishesEveryTickStoresThrottled(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	bus := eventbus.New()
	store := &recordingStore{}
	var observed int
	m := metrics.New()
	svc := NewService(ServiceOptions{
		Host:        NewHostSampler(&fakeSource{}, "/", fc, discardLogger()),
		Bus:         bus,
		Store:       store,
		MetricsGate: throttle.New(30*time.Second, fc),
		Observer:    observerFunc(func(models.MetricsSnapshot) { observed++ }),
		Metrics:     m,
	}, discardLogger())

	var published int
	bus.Metrics.Subscribe(func(models.MetricsSnapshot) { published++ })

	for i := 0; i < 12; i++ {
		svc.TickMetrics(context.Background())
		fc.Advance(5 * time.Second)
	}
	assert.Equal(t, 12, published)
	assert.Len(t, store.metrics, 2, "one write per 30s over 60s of 5s ticks")
	assert.Equal(t, 2, observed)

	store.fail = true
	fc.Advance(time.Minute)
	svc.TickMetrics(context.Background())
	assert.Equal(t, 13, published, "storage failure does not stop publishing")
	assert.Equal(t, 2, observed, "failed writes are not observed")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StorageFailures.WithLabelValues("metrics")))
}

func TestTickContainersPublishesStaleButDoesNotStoreIt(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	rt := &fakeRuntime{inventory: []docker.InventoryRow{{ID: "a", Name: "web", Status: "Up"}}}
	bus := eventbus.New()
	store := &recordingStore{}
	svc := NewService(ServiceOptions{
		Containers:    NewContainerCollector(rt, fc, discardLogger()),
		Bus:           bus,
		Store:         store,
		ContainerGate: throttle.New(time.Second, fc),
		Metrics:       metrics.New(),
	}, discardLogger())

	var got [][]models.ContainerSnapshot
	bus.Containers.Subscribe(func(s []models.ContainerSnapshot) { got = append(got, s) })

	svc.TickContainers(context.Background())
	rt.statsErr = errors.New("boom")
	fc.Advance(10 * time.Second)
	svc.TickContainers(context.Background())

	require.Len(t, got, 2)
	assert.Equal(t, got[0], got[1])
	assert.Len(t, store.containers, 1)
}
