package collector

import (
	"context"
	"log/slog"

	"hostwatch/internal/eventbus"
	"hostwatch/internal/metrics"
	"hostwatch/internal/models"
	"hostwatch/internal/throttle"
)

type Store interface {
	InsertMetrics(ctx context.Context, m models.MetricsSnapshot) error
	InsertContainerStats(ctx context.Context, stats []models.ContainerSnapshot) error
}

// MetricsObserver is told about every snapshot that reached storage.
type MetricsObserver interface {
	ObserveMetrics(ctx context.Context, m models.MetricsSnapshot)
}

type ServiceOptions struct {
	Host          *HostSampler
	Containers    *ContainerCollector
	Bus           *eventbus.Bus
	Store         Store
	MetricsGate   *throttle.Throttle
	ContainerGate *throttle.Throttle
	Observer      MetricsObserver
	Metrics       *metrics.Metrics
}

// Service runs one sampling pass per tick: publish every snapshot, store it
// only when the storage throttle allows.
type Service struct {
	opts ServiceOptions
	log  *slog.Logger
}

func NewService(opts ServiceOptions, logger *slog.Logger) *Service {
	return &Service{opts: opts, log: logger}
}

func (s *Service) TickMetrics(ctx context.Context) {
	snap := s.opts.Host.Sample(ctx)
	s.opts.Bus.Metrics.Publish(snap)

	if !s.opts.MetricsGate.Allow() {
		return
	}
	if err := s.opts.Store.InsertMetrics(ctx, snap); err != nil {
		s.log.Error("store metrics", "err", err)
		s.countStorageFailure("metrics")
		return
	}
	if s.opts.Observer != nil {
		s.opts.Observer.ObserveMetrics(ctx, snap)
	}
}

func (s *Service) TickContainers(ctx context.Context) {
	snaps, err := s.opts.Containers.Collect(ctx)
	if err != nil {
		s.log.Warn("container collection failed, serving previous result", "err", err, "cached", len(snaps))
		if s.opts.Metrics != nil {
			s.opts.Metrics.CollectorErrors.WithLabelValues("containers").Inc()
		}
		s.opts.Bus.Containers.Publish(snaps)
		return
	}
	s.opts.Bus.Containers.Publish(snaps)

	if !s.opts.ContainerGate.Allow() {
		return
	}
	if err := s.opts.Store.InsertContainerStats(ctx, snaps); err != nil {
		s.log.Error("store container stats", "err", err, "count", len(snaps))
		s.countStorageFailure("containers")
	}
}

func (s *Service) countStorageFailure(kind string) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.StorageFailures.WithLabelValues(kind).Inc()
	}
}
