// Package web serves the read-only JSON API over collected data.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hostwatch/internal/db"
	"hostwatch/internal/eventbus"
	"hostwatch/internal/metrics"
	"hostwatch/internal/models"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	repo    *db.Repository
	bus     *eventbus.Bus
	metrics *metrics.Metrics
	docker  Pinger
	log     *slog.Logger
	now     func() time.Time
}

// NewServer builds the API. docker may be nil when the CLI runtime is used.
func NewServer(repo *db.Repository, bus *eventbus.Bus, m *metrics.Metrics, docker Pinger, logger *slog.Logger) *Server {
	return &Server{repo: repo, bus: bus, metrics: m, docker: docker, log: logger, now: time.Now}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/metrics/history", s.handleMetricsHistory)
	mux.HandleFunc("GET /api/services/{id}/history", s.handleServiceHistory)
	mux.HandleFunc("GET /api/containers/{id}/history", s.handleContainerHistory)
	mux.HandleFunc("GET /api/notifications", s.handleNotifications)
	mux.HandleFunc("POST /api/notifications/read-all", s.handleReadAll)
	mux.HandleFunc("POST /api/notifications/{id}/read", s.handleRead)
	return logMiddleware(mux, s.log)
}

type snapshot struct {
	Metrics    *models.MetricsSnapshot    `json:"metrics"`
	Containers []models.ContainerSnapshot `json:"containers"`
	Services   []models.ServiceSnapshot   `json:"services"`
	Public     []models.ServiceSnapshot   `json:"public"`
	Unread     int                        `json:"unread_notifications"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	var out snapshot
	if m, ok := s.bus.Metrics.Last(); ok {
		out.Metrics = &m
	}
	out.Containers, _ = s.bus.Containers.Last()
	out.Services, _ = s.bus.Services.Last()
	out.Public, _ = s.bus.Public.Last()
	unread, err := s.repo.UnreadNotificationCount(r.Context())
	if err != nil {
		s.log.Warn("unread count", "err", err)
	}
	out.Unread = unread
	writeJSON(w, out)
}

// handleMetricsHistory picks the finest table that still covers the range.
func (s *Server) handleMetricsHistory(w http.ResponseWriter, r *http.Request) {
	rng := parseRange(r.URL.Query().Get("range"))
	to := s.now()
	from := to.Add(-rng)
	ctx := r.Context()

	switch {
	case rng <= 24*time.Hour:
		points, err := s.repo.LiveMetrics(ctx, from, to)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, map[string]any{"resolution": "live", "points": nonNil(points)})
	default:
		table, resolution := db.TableHourly, "hourly"
		if rng > 7*24*time.Hour {
			table, resolution = db.TableDaily, "daily"
		}
		points, err := s.repo.Rollups(ctx, table, from, to)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, map[string]any{"resolution": resolution, "points": nonNil(points)})
	}
}

func (s *Server) handleServiceHistory(w http.ResponseWriter, r *http.Request) {
	rng := parseRange(r.URL.Query().Get("range"))
	rows, err := s.repo.ServiceHistory(r.Context(), r.PathValue("id"), s.now().Add(-rng), queryInt(r, "limit", 0))
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, nonNil(rows))
}

func (s *Server) handleContainerHistory(w http.ResponseWriter, r *http.Request) {
	rng := parseRange(r.URL.Query().Get("range"))
	rows, err := s.repo.RecentContainerStats(r.Context(), r.PathValue("id"), s.now().Add(-rng), queryInt(r, "limit", 0))
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, nonNil(rows))
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	unreadOnly := r.URL.Query().Get("unread") == "1"
	list, err := s.repo.ListNotifications(r.Context(), unreadOnly, queryInt(r, "limit", 100))
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, list)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}
	found, err := s.repo.MarkNotificationRead(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if !found {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleReadAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.repo.MarkAllNotificationsRead(r.Context())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, map[string]int64{"updated": n})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Ping(r.Context()); err != nil {
		http.Error(w, "db not ready", 503)
		return
	}
	if s.docker != nil {
		if err := s.docker.Ping(r.Context()); err != nil {
			http.Error(w, "docker not ready", 503)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(key)))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// parseRange accepts Go durations plus a day suffix ("7d").
func parseRange(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Hour
	}
	if days, ok := strings.CutSuffix(v, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return time.Hour
		}
		return time.Duration(n) * 24 * time.Hour
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}
