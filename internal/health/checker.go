package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"hostwatch/internal/clock"
	"hostwatch/internal/metrics"
	"hostwatch/internal/models"
	"hostwatch/internal/throttle"
)

// Event is a confirmed state change worth telling someone about.
type Event struct {
	Kind    EventKind
	Checker models.CheckerKind
	Service models.ServiceConfig
	Address string
	Result  ProbeResult
	At      time.Time
}

type EventSink interface {
	ServiceEvent(ctx context.Context, ev Event)
}

type SnapshotStore interface {
	InsertServiceStatuses(ctx context.Context, snaps []models.ServiceSnapshot) error
}

type Options struct {
	Machine Machine
	Prober  Prober
	Clock   clock.Clock
	// Workers bounds concurrent probes. Zero runs probes inline.
	Workers   int
	Sink      EventSink
	Publish   func([]models.ServiceSnapshot)
	Store     SnapshotStore
	StoreGate *throttle.Throttle
	Metrics   *metrics.Metrics
}

// Checker drives one Machine over the service inventory. The regular pass
// probes every idle service; retries, recovery probes and confirmations
// run as delayed callbacks on the clock.
type Checker struct {
	kind   models.CheckerKind
	target func(models.ServiceConfig) (string, bool)
	opts   Options
	log    *slog.Logger

	registry *Registry
	pool     *ants.Pool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewInternalChecker probes each service's internal address.
func NewInternalChecker(opts Options, logger *slog.Logger) (*Checker, error) {
	return newChecker(models.CheckerInternal, func(svc models.ServiceConfig) (string, bool) {
		return svc.InternalURL, svc.InternalURL != ""
	}, opts, logger)
}

// NewPublicChecker probes each service's public URL. Internal-only services
// and services without a URL are not tracked.
func NewPublicChecker(opts Options, logger *slog.Logger) (*Checker, error) {
	return newChecker(models.CheckerPublic, func(svc models.ServiceConfig) (string, bool) {
		return svc.URL, svc.URL != "" && !svc.InternalOnly
	}, opts, logger)
}

func newChecker(kind models.CheckerKind, target func(models.ServiceConfig) (string, bool), opts Options, logger *slog.Logger) (*Checker, error) {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	c := &Checker{kind: kind, target: target, opts: opts, log: logger, registry: NewRegistry()}
	if opts.Workers > 0 {
		pool, err := ants.NewPool(opts.Workers, ants.WithPanicHandler(func(p interface{}) {
			logger.Error("probe panicked", "panic", fmt.Sprint(p))
		}))
		if err != nil {
			return nil, fmt.Errorf("probe pool: %w", err)
		}
		c.pool = pool
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

func (c *Checker) Kind() models.CheckerKind { return c.kind }

func (c *Checker) Registry() *Registry { return c.registry }

// RunPass probes every eligible service that is not already busy and waits
// for the results. It returns the snapshots produced by this pass.
func (c *Checker) RunPass(ctx context.Context, services []models.ServiceConfig) []models.ServiceSnapshot {
	eligible := make([]models.ServiceConfig, 0, len(services))
	for _, svc := range services {
		if _, ok := c.target(svc); ok {
			eligible = append(eligible, svc)
		}
	}
	c.registry.sync(eligible)

	var (
		mu    sync.Mutex
		snaps []models.ServiceSnapshot
		wg    sync.WaitGroup
	)
	for _, svc := range eligible {
		if !c.registry.claim(svc.ID) {
			continue
		}
		wg.Add(1)
		err := c.submit(func() {
			defer wg.Done()
			if snap, ok := c.probe(ctx, svc); ok {
				mu.Lock()
				snaps = append(snaps, snap)
				mu.Unlock()
			}
		})
		if err != nil {
			wg.Done()
			c.registry.release(svc.ID)
			c.log.Warn("probe not scheduled", "service", svc.ID, "err", err)
		}
	}
	wg.Wait()
	c.emit(ctx, snaps, true)
	return snaps
}

func (c *Checker) submit(task func()) error {
	if c.pool == nil {
		task()
		return nil
	}
	return c.pool.Submit(task)
}

// probe runs one probe for a claimed service and applies the result.
func (c *Checker) probe(ctx context.Context, svc models.ServiceConfig) (models.ServiceSnapshot, bool) {
	addr, _ := c.target(svc)
	res := c.opts.Prober.Probe(ctx, addr)
	now := c.opts.Clock.Now()
	snap := models.ServiceSnapshot{
		Timestamp:    now,
		ServiceID:    svc.ID,
		ServiceName:  svc.Name,
		Status:       res.Status,
		ResponseTime: res.ResponseTime,
		Checker:      c.kind,
	}
	if c.opts.Metrics != nil {
		c.opts.Metrics.ProbesTotal.WithLabelValues(string(c.kind), string(res.Status)).Inc()
	}

	c.registry.mu.Lock()
	e, ok := c.registry.entries[svc.ID]
	if c.registry.closed || !ok {
		c.registry.mu.Unlock()
		return snap, false
	}
	prev := e.state
	next, events, follow := c.opts.Machine.Transition(e.state, res)
	e.state = next
	e.inFlight = false
	e.last = &snap
	if follow.Kind != NextNone {
		id := svc.ID
		e.timer = c.opts.Clock.AfterFunc(follow.Delay, func() { c.followUp(id) })
	}
	c.registry.mu.Unlock()

	if res.Err != nil {
		c.log.Debug("probe failed", "service", svc.ID, "addr", addr, "failures", next.Failures, "err", res.Err)
	}
	if next.RecoveryMode != prev.RecoveryMode {
		c.log.Info("recovery mode changed", "service", svc.ID, "recovery_mode", next.RecoveryMode)
	}
	for _, kind := range events {
		c.log.Info("service state changed", "service", svc.ID, "checker", c.kind, "event", kind)
		if c.opts.Sink != nil {
			c.opts.Sink.ServiceEvent(ctx, Event{Kind: kind, Checker: c.kind, Service: svc, Address: addr, Result: res, At: now})
		}
	}
	return snap, true
}

// followUp runs a scheduled retry, recovery probe or confirmation.
func (c *Checker) followUp(id string) {
	c.registry.mu.Lock()
	e, ok := c.registry.entries[id]
	if c.registry.closed || !ok {
		c.registry.mu.Unlock()
		return
	}
	e.timer = nil
	if e.inFlight {
		c.registry.mu.Unlock()
		return
	}
	e.inFlight = true
	svc := e.svc
	c.wg.Add(1)
	c.registry.mu.Unlock()

	err := c.submit(func() {
		defer c.wg.Done()
		if snap, ok := c.probe(c.ctx, svc); ok {
			c.emit(c.ctx, []models.ServiceSnapshot{snap}, false)
		}
	})
	if err != nil {
		c.wg.Done()
		c.registry.release(id)
		c.log.Warn("follow-up probe not scheduled", "service", id, "err", err)
	}
}

// emit publishes the full current view and stores fresh snapshots. Only
// regular passes are gated by the storage throttle; follow-up results are
// always stored and leave the gate untouched.
func (c *Checker) emit(ctx context.Context, fresh []models.ServiceSnapshot, gated bool) {
	if c.opts.Publish != nil {
		c.opts.Publish(c.registry.Snapshots())
	}
	if len(fresh) == 0 || c.opts.Store == nil {
		return
	}
	if gated && c.opts.StoreGate != nil && !c.opts.StoreGate.Allow() {
		return
	}
	if err := c.opts.Store.InsertServiceStatuses(ctx, fresh); err != nil {
		c.log.Error("store service status", "checker", c.kind, "err", err)
		if c.opts.Metrics != nil {
			c.opts.Metrics.StorageFailures.WithLabelValues("services").Inc()
		}
	}
}

// Stop cancels scheduled follow-ups, clears recovery flags and waits for
// running probes to finish. Callbacks that fire afterwards do nothing.
func (c *Checker) Stop() {
	c.registry.close()
	c.cancel()
	c.wg.Wait()
	if c.pool != nil {
		if err := c.pool.ReleaseTimeout(5 * time.Second); err != nil {
			c.log.Warn("probe pool release", "err", err)
		}
	}
}
