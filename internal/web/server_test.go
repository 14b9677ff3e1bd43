package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostwatch/internal/db"
	"hostwatch/internal/eventbus"
	"hostwatch/internal/metrics"
	"hostwatch/internal/models"
)

func newTestServer(t *testing.T) (*Server, *db.Repository, *eventbus.Bus) {
	t.Helper()
	sqldb, err := db.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = sqldb.Close() })
	if err := db.Migrate(sqldb); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	repo := db.NewRepository(sqldb)
	bus := eventbus.New()
	s := NewServer(repo, bus, metrics.New(), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return s, repo, bus
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthAndReadiness(t *testing.T) {
	s, _, _ := newTestServer(t)
	h := s.Routes()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/readyz").Code)

	s.docker = pingFunc(func(context.Context) error { return io.ErrUnexpectedEOF })
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s.Routes(), http.MethodGet, "/readyz").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := do(t, s.Routes(), http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestSnapshotReturnsLastBusValues(t *testing.T) {
	s, repo, bus := newTestServer(t)
	bus.Metrics.Publish(models.MetricsSnapshot{CPUPercent: 42})
	bus.Services.Publish([]models.ServiceSnapshot{{ServiceID: "web", Status: models.StatusOnline}})
	_, err := repo.InsertNotification(context.Background(), models.Notification{Timestamp: time.Now(), Type: models.NotifyInfo, Title: "hi"})
	require.NoError(t, err)

	rec := do(t, s.Routes(), http.MethodGet, "/api/snapshot")
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Metrics  *models.MetricsSnapshot  `json:"metrics"`
		Services []models.ServiceSnapshot `json:"services"`
		Unread   int                      `json:"unread_notifications"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.NotNil(t, got.Metrics)
	assert.Equal(t, 42.0, got.Metrics.CPUPercent)
	assert.Len(t, got.Services, 1)
	assert.Equal(t, 1, got.Unread)
}

func TestMetricsHistoryPicksResolution(t *testing.T) {
	s, repo, _ := newTestServer(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()
	require.NoError(t, repo.InsertMetrics(ctx, models.MetricsSnapshot{Timestamp: now.Add(-10 * time.Minute), CPUPercent: 5}))
	require.NoError(t, repo.UpsertRollups(ctx, db.TableHourly, []models.MetricsRollup{{BucketTimestamp: now.Add(-48 * time.Hour), SampleCount: 60}}))
	require.NoError(t, repo.UpsertRollups(ctx, db.TableDaily, []models.MetricsRollup{{BucketTimestamp: now.Add(-20 * 24 * time.Hour), SampleCount: 1440}}))

	for _, tc := range []struct {
		rng, resolution string
	}{
		{"1h", "live"},
		{"3d", "hourly"},
		{"30d", "daily"},
	} {
		rec := do(t, s.Routes(), http.MethodGet, "/api/metrics/history?range="+tc.rng)
		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Resolution string            `json:"resolution"`
			Points     []json.RawMessage `json:"points"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, tc.resolution, body.Resolution, tc.rng)
		assert.Len(t, body.Points, 1, tc.rng)
	}
}

func TestNotificationReadFlow(t *testing.T) {
	s, repo, _ := newTestServer(t)
	ctx := context.Background()
	id, err := repo.InsertNotification(ctx, models.Notification{Timestamp: time.Now(), Type: models.NotifyError, Title: "Service Offline", Message: "Web is not responding"})
	require.NoError(t, err)
	_, err = repo.InsertNotification(ctx, models.Notification{Timestamp: time.Now(), Type: models.NotifySuccess, Title: "Service Recovered"})
	require.NoError(t, err)
	h := s.Routes()

	rec := do(t, h, http.MethodPost, "/api/notifications/"+jsonInt(id)+"/read")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/api/notifications/999/read").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/notifications/abc/read").Code)

	rec = do(t, h, http.MethodGet, "/api/notifications?unread=1")
	var unread []models.Notification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &unread))
	require.Len(t, unread, 1)
	assert.Equal(t, "Service Recovered", unread[0].Title)

	rec = do(t, h, http.MethodPost, "/api/notifications/read-all")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.Contains(rec.Body.Bytes(), []byte(`"updated": 1`)))

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/api/notifications/read-all").Code)
}

func TestServiceAndContainerHistory(t *testing.T) {
	s, repo, _ := newTestServer(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, repo.InsertServiceStatuses(ctx, []models.ServiceSnapshot{{Timestamp: now, ServiceID: "web", ServiceName: "Web", Status: models.StatusOnline}}))
	require.NoError(t, repo.InsertContainerStats(ctx, []models.ContainerSnapshot{{Timestamp: now, ContainerID: "abc", Name: "db", Status: models.ContainerRunning}}))
	h := s.Routes()

	rec := do(t, h, http.MethodGet, "/api/services/web/history?range=1h")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"uptime_percent"`)

	rec = do(t, h, http.MethodGet, "/api/containers/abc/history")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"container_id": "abc"`)

	rec = do(t, h, http.MethodGet, "/api/containers/missing/history")
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestParseRange(t *testing.T) {
	cases := map[string]time.Duration{
		"":     time.Hour,
		"15m":  15 * time.Minute,
		"7d":   7 * 24 * time.Hour,
		"-1h":  time.Hour,
		"junk": time.Hour,
		"0d":   time.Hour,
	}
	for in, want := range cases {
		if got := parseRange(in); got != want {
			t.Fatalf("parseRange(%q) = %v, want %v", in, got, want)
		}
	}
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
