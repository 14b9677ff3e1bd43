// Package alerts turns threshold crossings and service state changes into
// persisted notifications and outgoing pushes.
package alerts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"hostwatch/internal/clock"
	"hostwatch/internal/health"
	"hostwatch/internal/metrics"
	"hostwatch/internal/models"
	"hostwatch/internal/notifier"
)

const DefaultCooldown = 5 * time.Minute

type Store interface {
	InsertNotification(ctx context.Context, n models.Notification) (int64, error)
	LatestMetrics(ctx context.Context) (models.MetricsSnapshot, error)
}

type Thresholds struct {
	CPU    float64
	Memory float64
	Disk   float64
}

// Alert is a candidate notification before dedup.
type Alert struct {
	Type      models.NotificationType
	Title     string
	Message   string
	ServiceID string
	// Push sends the alert to the external sink as well as storing it.
	Push     bool
	Priority notifier.Priority
	URL      string
}

type Options struct {
	Store      Store
	Sender     notifier.Sender
	Clock      clock.Clock
	Thresholds Thresholds
	// Cooldown suppresses an identical (title, message) pair. Zero means
	// DefaultCooldown.
	Cooldown time.Duration
	// Workers bounds concurrent pushes. Zero pushes inline.
	Workers int
	// DashboardURL is attached to pushes that carry no link of their own.
	DashboardURL string
	Metrics      *metrics.Metrics
}

type Dispatcher struct {
	opts Options
	log  *slog.Logger
	pool *ants.Pool
	wg   sync.WaitGroup

	mu   sync.Mutex
	prev *models.MetricsSnapshot
	sent map[string]time.Time
}

func NewDispatcher(opts Options, logger *slog.Logger) (*Dispatcher, error) {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Sender == nil {
		opts.Sender = notifier.Nop{}
	}
	d := &Dispatcher{opts: opts, log: logger, sent: make(map[string]time.Time)}
	if opts.Workers > 0 {
		pool, err := ants.NewPool(opts.Workers, ants.WithPanicHandler(func(p interface{}) {
			logger.Error("push panicked", "panic", fmt.Sprint(p))
		}))
		if err != nil {
			return nil, fmt.Errorf("push pool: %w", err)
		}
		d.pool = pool
	}
	return d, nil
}

// Seed loads the most recent stored sample so the first comparison after a
// restart is against real history rather than nothing.
func (d *Dispatcher) Seed(ctx context.Context) error {
	m, err := d.opts.Store.LatestMetrics(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("seed previous sample: %w", err)
	}
	d.mu.Lock()
	d.prev = &m
	d.mu.Unlock()
	return nil
}

// ObserveMetrics compares a freshly stored sample with the previous one and
// alerts on each resource that crossed its threshold upwards.
func (d *Dispatcher) ObserveMetrics(ctx context.Context, m models.MetricsSnapshot) {
	d.mu.Lock()
	prev := d.prev
	cur := m
	d.prev = &cur
	d.mu.Unlock()
	if prev == nil {
		return
	}

	th := d.opts.Thresholds
	checks := []struct {
		name      string
		threshold float64
		before    float64
		now       float64
	}{
		{"CPU", th.CPU, prev.CPUPercent, m.CPUPercent},
		{"Memory", th.Memory, prev.MemoryPercent, m.MemoryPercent},
		{"Disk", th.Disk, prev.DiskPercent, m.DiskPercent},
	}
	for _, c := range checks {
		if c.threshold <= 0 || !crossed(c.before, c.now, c.threshold) {
			continue
		}
		d.Notify(ctx, Alert{
			Type:     models.NotifyWarning,
			Title:    fmt.Sprintf("High %s Usage", c.name),
			Message:  fmt.Sprintf("%s usage is %.1f%% (threshold %.0f%%)", c.name, c.now, c.threshold),
			Push:     true,
			Priority: notifier.PriorityHigh,
		})
	}
}

func crossed(before, now, threshold float64) bool {
	return before <= threshold && now > threshold
}

// ServiceEvent implements health.EventSink.
func (d *Dispatcher) ServiceEvent(ctx context.Context, ev health.Event) {
	if a, ok := serviceAlert(ev); ok {
		d.Notify(ctx, a)
	}
}

func serviceAlert(ev health.Event) (Alert, bool) {
	svc := ev.Service
	name := svc.Name
	if name == "" {
		name = svc.ID
	}
	a := Alert{ServiceID: svc.ID, URL: svc.URL}
	switch ev.Kind {
	case health.EventOffline:
		a.Type, a.Push, a.Priority = models.NotifyError, true, notifier.PriorityUrgent
		a.Title = "Service Offline"
		a.Message = fmt.Sprintf("%s is not responding", name)
	case health.EventUnreachable:
		a.Type, a.Push, a.Priority = models.NotifyError, true, notifier.PriorityHigh
		a.Title = "Service Unreachable"
		a.Message = fmt.Sprintf("%s cannot be reached at %s", name, ev.Address)
	case health.EventRecovered:
		a.Type, a.Push, a.Priority = models.NotifySuccess, true, notifier.PriorityDefault
		a.Title = "Service Recovered"
		if ev.Checker == models.CheckerPublic {
			a.Message = fmt.Sprintf("%s is reachable again", name)
		} else {
			a.Message = fmt.Sprintf("%s is back online", name)
		}
	case health.EventDegraded:
		a.Type = models.NotifyWarning
		a.Title = "Service Degraded"
		a.Message = fmt.Sprintf("%s is responding slowly", name)
	default:
		return Alert{}, false
	}
	return a, true
}

// Notify stores a and pushes it when asked to. It returns false when an
// identical alert went out within the cooldown.
func (d *Dispatcher) Notify(ctx context.Context, a Alert) bool {
	now := d.opts.Clock.Now()
	key := a.Title + "\x00" + a.Message

	d.mu.Lock()
	if last, ok := d.sent[key]; ok && now.Sub(last) < d.opts.Cooldown {
		d.mu.Unlock()
		d.count("skipped")
		d.log.Debug("duplicate alert skipped", "title", a.Title)
		return false
	}
	d.sent[key] = now
	for k, t := range d.sent {
		if now.Sub(t) >= d.opts.Cooldown {
			delete(d.sent, k)
		}
	}
	d.mu.Unlock()

	n := models.Notification{Timestamp: now, Type: a.Type, Title: a.Title, Message: a.Message, ServiceID: a.ServiceID}
	if _, err := d.opts.Store.InsertNotification(ctx, n); err != nil {
		d.log.Error("store notification", "title", a.Title, "err", err)
		if d.opts.Metrics != nil {
			d.opts.Metrics.StorageFailures.WithLabelValues("notifications").Inc()
		}
	}
	d.log.Info("alert", "type", a.Type, "title", a.Title, "message", a.Message)

	if !a.Push {
		d.count("stored")
		return true
	}
	push := notifier.Push{Title: a.Title, Message: a.Message, Priority: a.Priority, URL: a.URL}
	if push.URL == "" {
		push.URL = d.opts.DashboardURL
	}
	pctx := context.WithoutCancel(ctx)
	d.wg.Add(1)
	task := func() {
		defer d.wg.Done()
		d.push(pctx, push)
	}
	if d.pool == nil {
		task()
		return true
	}
	if err := d.pool.Submit(task); err != nil {
		d.wg.Done()
		d.count("failed")
		d.log.Warn("push not scheduled", "title", a.Title, "err", err)
	}
	return true
}

func (d *Dispatcher) push(ctx context.Context, p notifier.Push) {
	if err := d.opts.Sender.Send(ctx, p); err != nil {
		d.count("failed")
		d.log.Warn("push failed", "title", p.Title, "err", err)
		return
	}
	d.count("sent")
}

func (d *Dispatcher) count(result string) {
	if d.opts.Metrics != nil {
		d.opts.Metrics.AlertsTotal.WithLabelValues(result).Inc()
	}
}

// Close waits for pushes already handed to the pool.
func (d *Dispatcher) Close() {
	d.wg.Wait()
	if d.pool != nil {
		if err := d.pool.ReleaseTimeout(5 * time.Second); err != nil {
			d.log.Warn("push pool release", "err", err)
		}
	}
}
