package alerts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"hostwatch/internal/clock"
	"hostwatch/internal/db"
	"hostwatch/internal/health"
	"hostwatch/internal/metrics"
	"hostwatch/internal/models"
	"hostwatch/internal/notifier"
)

type recordingSender struct {
	mu     sync.Mutex
	pushes []notifier.Push
	err    error
}

func (s *recordingSender) Send(_ context.Context, p notifier.Push) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushes = append(s.pushes, p)
	return s.err
}

func (s *recordingSender) titles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, p := range s.pushes {
		out = append(out, p.Title)
	}
	return out
}

type fixture struct {
	repo   *db.Repository
	clock  *clock.Fake
	sender *recordingSender
	m      *metrics.Metrics
	d      *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sqldb, err := db.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = sqldb.Close() })
	if err := db.Migrate(sqldb); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	f := &fixture{
		repo:   db.NewRepository(sqldb),
		clock:  clock.NewFake(time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)),
		sender: &recordingSender{},
		m:      metrics.New(),
	}
	f.d, err = NewDispatcher(Options{
		Store:      f.repo,
		Sender:     f.sender,
		Clock:      f.clock,
		Thresholds: Thresholds{CPU: 90, Memory: 90, Disk: 90},
		Metrics:    f.m,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return f
}

func (f *fixture) notifications(t *testing.T) []models.Notification {
	t.Helper()
	list, err := f.repo.ListNotifications(context.Background(), false, 100)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	return list
}

func TestCPUCrossingIsEdgeTriggered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, cpu := range []float64{88, 91, 93, 89} {
		f.d.ObserveMetrics(ctx, models.MetricsSnapshot{Timestamp: f.clock.Now(), CPUPercent: cpu})
		f.clock.Advance(30 * time.Second)
	}

	got := f.sender.titles()
	if len(got) != 1 || got[0] != "High CPU Usage" {
		t.Fatalf("expected one High CPU Usage push, got %v", got)
	}
	list := f.notifications(t)
	if len(list) != 1 || list[0].Type != models.NotifyWarning {
		t.Fatalf("expected one stored warning, got %+v", list)
	}
	if !strings.Contains(list[0].Message, "91.0%") {
		t.Fatalf("message should carry the crossing value: %q", list[0].Message)
	}
}

func TestFirstSampleWithoutHistoryNeverAlerts(t *testing.T) {
	f := newFixture(t)
	f.d.ObserveMetrics(context.Background(), models.MetricsSnapshot{CPUPercent: 99, MemoryPercent: 99})
	if n := len(f.sender.titles()); n != 0 {
		t.Fatalf("expected no alert without a previous sample, got %d", n)
	}
}

func TestSeedUsesStoredSample(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.d.Seed(ctx); err != nil {
		t.Fatalf("seed on empty store: %v", err)
	}
	if err := f.repo.InsertMetrics(ctx, models.MetricsSnapshot{Timestamp: f.clock.Now(), MemoryPercent: 80, DiskPercent: 95}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := f.d.Seed(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}
	f.d.ObserveMetrics(ctx, models.MetricsSnapshot{MemoryPercent: 92, DiskPercent: 96})
	got := f.sender.titles()
	if len(got) != 1 || got[0] != "High Memory Usage" {
		t.Fatalf("expected memory alert only (disk was already high), got %v", got)
	}
}

func TestDedupWithinCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := Alert{Type: models.NotifyWarning, Title: "High CPU Usage", Message: "CPU usage is 95.0%", Push: true}

	if !f.d.Notify(ctx, a) {
		t.Fatalf("first alert should be dispatched")
	}
	f.clock.Advance(time.Minute)
	if f.d.Notify(ctx, a) {
		t.Fatalf("identical alert one minute later should be skipped")
	}
	f.clock.Advance(5 * time.Minute)
	if !f.d.Notify(ctx, a) {
		t.Fatalf("identical alert six minutes after the first should be dispatched")
	}

	if n := len(f.sender.titles()); n != 2 {
		t.Fatalf("expected 2 pushes, got %d", n)
	}
	if n := len(f.notifications(t)); n != 2 {
		t.Fatalf("expected 2 stored notifications, got %d", n)
	}
	if v := testutil.ToFloat64(f.m.AlertsTotal.WithLabelValues("skipped")); v != 1 {
		t.Fatalf("skipped count = %v, want 1", v)
	}
}

func TestDifferentMessageIsNotDeduplicated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.d.Notify(ctx, Alert{Title: "Service Offline", Message: "Web is not responding", Push: true})
	if !f.d.Notify(ctx, Alert{Title: "Service Offline", Message: "API is not responding", Push: true}) {
		t.Fatalf("different message should pass")
	}
}

func TestPushFailureKeepsNotification(t *testing.T) {
	f := newFixture(t)
	f.sender.err = errors.New("sink down")
	f.d.Notify(context.Background(), Alert{Type: models.NotifyError, Title: "Service Offline", Message: "Web is not responding", Push: true})

	if n := len(f.notifications(t)); n != 1 {
		t.Fatalf("expected notification to persist, got %d", n)
	}
	if v := testutil.ToFloat64(f.m.AlertsTotal.WithLabelValues("failed")); v != 1 {
		t.Fatalf("failed count = %v, want 1", v)
	}
}

func TestServiceEventsMapToNotifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := models.ServiceConfig{ID: "web", Name: "Web", URL: "https://web.example.com"}

	f.d.ServiceEvent(ctx, health.Event{Kind: health.EventOffline, Checker: models.CheckerInternal, Service: svc})
	f.d.ServiceEvent(ctx, health.Event{Kind: health.EventDegraded, Checker: models.CheckerInternal, Service: svc})
	f.d.ServiceEvent(ctx, health.Event{Kind: health.EventRecovered, Checker: models.CheckerInternal, Service: svc})
	f.d.ServiceEvent(ctx, health.Event{Kind: health.EventUnreachable, Checker: models.CheckerPublic, Service: svc, Address: svc.URL})

	got := f.sender.titles()
	want := []string{"Service Offline", "Service Recovered", "Service Unreachable"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("pushes = %v, want %v (degraded is stored only)", got, want)
	}
	list := f.notifications(t)
	if len(list) != 4 {
		t.Fatalf("expected 4 stored notifications, got %d", len(list))
	}
	for _, n := range list {
		if n.ServiceID != "web" {
			t.Fatalf("notification missing service id: %+v", n)
		}
	}
	if f.sender.pushes[0].URL != svc.URL {
		t.Fatalf("push should link to the service, got %q", f.sender.pushes[0].URL)
	}
}

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestPooledPushThroughTelegram(t *testing.T) {
	sqldb, err := db.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = sqldb.Close() })
	if err := db.Migrate(sqldb); err != nil {
		t.Fatalf("migrate db: %v", err)
	}

	var mu sync.Mutex
	var sent int
	tg := notifier.NewTelegram("token", "chat")
	tg.HTTP = &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		mu.Lock()
		sent++
		mu.Unlock()
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(`{"ok":true}`))}, nil
	})}

	d, err := NewDispatcher(Options{Store: db.NewRepository(sqldb), Sender: tg, Workers: 2}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	d.Notify(context.Background(), Alert{Title: "Service Offline", Message: "a", Push: true})
	d.Notify(context.Background(), Alert{Title: "Service Offline", Message: "b", Push: true})
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	if sent != 2 {
		t.Fatalf("expected 2 telegram calls, got %d", sent)
	}
}
