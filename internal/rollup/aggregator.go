// Package rollup folds live metrics into hourly and daily buckets and
// enforces retention on every time-series table.
package rollup

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/montanaflynn/stats"

	"hostwatch/internal/clock"
	"hostwatch/internal/db"
	"hostwatch/internal/metrics"
	"hostwatch/internal/models"
)

const (
	hourMS = int64(time.Hour / time.Millisecond)
	dayMS  = 24 * hourMS
)

// Aggregator runs rollup passes. Passes are serialized; running one twice
// over the same data leaves the same rows behind.
type Aggregator struct {
	repo      *db.Repository
	clock     clock.Clock
	retention Retention
	metrics   *metrics.Metrics
	log       *slog.Logger
	mu        sync.Mutex
}

func NewAggregator(repo *db.Repository, c clock.Clock, retention Retention, m *metrics.Metrics, logger *slog.Logger) *Aggregator {
	if c == nil {
		c = clock.Real()
	}
	return &Aggregator{repo: repo, clock: c, retention: retention.withDefaults(), metrics: m, log: logger}
}

// RunHourly folds every complete hour of live rows into metrics_hourly,
// then drops live rows past the live retention.
func (a *Aggregator) RunHourly(ctx context.Context) (models.AggregationLogEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	start := time.Now()
	now := a.clock.Now()
	end := time.UnixMilli(floorMS(now.UnixMilli(), hourMS))
	cutoff := now.Add(-a.retention.Live)

	live, err := a.repo.LiveMetrics(ctx, time.UnixMilli(0), end)
	if err != nil {
		return models.AggregationLogEntry{}, fmt.Errorf("read live metrics: %w", err)
	}
	rows := HourlyBuckets(live)
	if err := a.write(ctx, db.TableHourly, rows, cutoff); err != nil {
		return models.AggregationLogEntry{}, err
	}
	deleted, err := a.repo.DeleteBefore(ctx, db.TableLive, cutoff)
	if err != nil {
		return models.AggregationLogEntry{}, err
	}

	entry := models.AggregationLogEntry{
		AggregationType:  models.AggregationHourly,
		LastRun:          now,
		RecordsProcessed: int64(len(live)),
		RecordsDeleted:   deleted,
	}
	a.finish(ctx, entry, len(rows), time.Since(start))
	return entry, nil
}

// RunDaily folds every complete UTC day of hourly rows into metrics_daily
// and prunes all tables to their retention.
func (a *Aggregator) RunDaily(ctx context.Context) (models.AggregationLogEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	start := time.Now()
	now := a.clock.Now()
	end := time.UnixMilli(floorMS(now.UnixMilli(), dayMS))
	cutoff := now.Add(-a.retention.Hourly)

	hourly, err := a.repo.Rollups(ctx, db.TableHourly, time.UnixMilli(0), end)
	if err != nil {
		return models.AggregationLogEntry{}, fmt.Errorf("read hourly rollups: %w", err)
	}
	rows := DailyBuckets(hourly)
	if err := a.write(ctx, db.TableDaily, rows, cutoff); err != nil {
		return models.AggregationLogEntry{}, err
	}
	deleted, err := a.retention.Prune(ctx, a.repo, now)
	if err != nil {
		a.log.Error("retention prune", "err", err)
	}
	a.repo.Checkpoint(ctx)

	entry := models.AggregationLogEntry{
		AggregationType:  models.AggregationDaily,
		LastRun:          now,
		RecordsProcessed: int64(len(hourly)),
		RecordsDeleted:   deleted,
	}
	a.finish(ctx, entry, len(rows), time.Since(start))
	return entry, err
}

// write upserts buckets whose source rows are all still retained. Older
// buckets may have lost rows to pruning already, so they are only filled in
// when missing.
func (a *Aggregator) write(ctx context.Context, table db.Table, rows []models.MetricsRollup, cutoff time.Time) error {
	var fresh, backfill []models.MetricsRollup
	for _, r := range rows {
		if r.BucketTimestamp.Before(cutoff) {
			backfill = append(backfill, r)
		} else {
			fresh = append(fresh, r)
		}
	}
	if err := a.repo.UpsertRollups(ctx, table, fresh); err != nil {
		return err
	}
	return a.repo.InsertMissingRollups(ctx, table, backfill)
}

func (a *Aggregator) finish(ctx context.Context, e models.AggregationLogEntry, written int, took time.Duration) {
	if err := a.repo.InsertAggregationLog(ctx, e); err != nil {
		a.log.Error("write aggregation log", "type", e.AggregationType, "err", err)
	}
	a.log.Info("rollup complete", "type", e.AggregationType, "processed", e.RecordsProcessed,
		"buckets", written, "deleted", e.RecordsDeleted, "took", took)
	if a.metrics == nil {
		return
	}
	typ := string(e.AggregationType)
	a.metrics.RollupRows.WithLabelValues(typ, "processed").Add(float64(e.RecordsProcessed))
	a.metrics.RollupRows.WithLabelValues(typ, "deleted").Add(float64(e.RecordsDeleted))
	a.metrics.RollupDuration.WithLabelValues(typ).Observe(took.Seconds())
}

func floorMS(ts, size int64) int64 { return ts / size * size }

// HourlyBuckets groups live samples by hour and summarizes each group.
func HourlyBuckets(live []models.MetricsSnapshot) []models.MetricsRollup {
	groups := map[int64][]models.MetricsSnapshot{}
	for _, m := range live {
		b := floorMS(m.Timestamp.UnixMilli(), hourMS)
		groups[b] = append(groups[b], m)
	}
	out := make([]models.MetricsRollup, 0, len(groups))
	for b, g := range groups {
		out = append(out, summarize(time.UnixMilli(b), g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketTimestamp.Before(out[j].BucketTimestamp) })
	return out
}

func summarize(bucket time.Time, g []models.MetricsSnapshot) models.MetricsRollup {
	col := func(f func(models.MetricsSnapshot) float64) stats.Float64Data {
		d := make(stats.Float64Data, len(g))
		for i, m := range g {
			d[i] = f(m)
		}
		return d
	}
	cpu := col(func(m models.MetricsSnapshot) float64 { return m.CPUPercent })
	memUsed := col(func(m models.MetricsSnapshot) float64 { return float64(m.MemoryUsed) })
	memPct := col(func(m models.MetricsSnapshot) float64 { return m.MemoryPercent })
	diskUsed := col(func(m models.MetricsSnapshot) float64 { return float64(m.DiskUsed) })
	diskPct := col(func(m models.MetricsSnapshot) float64 { return m.DiskPercent })
	rx := col(func(m models.MetricsSnapshot) float64 { return m.NetworkRx })
	tx := col(func(m models.MetricsSnapshot) float64 { return m.NetworkTx })
	load := col(func(m models.MetricsSnapshot) float64 { return m.Load1 })

	return models.MetricsRollup{
		BucketTimestamp:  bucket,
		CPUPercentAvg:    meanOf(cpu),
		CPUPercentMax:    maxOf(cpu),
		MemoryUsedAvg:    meanOf(memUsed),
		MemoryUsedMax:    maxOf(memUsed),
		MemoryPercentAvg: meanOf(memPct),
		MemoryPercentMax: maxOf(memPct),
		DiskUsedAvg:      meanOf(diskUsed),
		DiskUsedMax:      maxOf(diskUsed),
		DiskPercentAvg:   meanOf(diskPct),
		DiskPercentMax:   maxOf(diskPct),
		NetworkRxAvg:     meanOf(rx),
		NetworkRxMax:     maxOf(rx),
		NetworkTxAvg:     meanOf(tx),
		NetworkTxMax:     maxOf(tx),
		Load1Avg:         meanOf(load),
		Load1Max:         maxOf(load),
		NetworkRxTotal:   sumOf(rx),
		NetworkTxTotal:   sumOf(tx),
		SampleCount:      int64(len(g)),
	}
}

// DailyBuckets groups hourly rows by UTC day. Averages are weighted by each
// hour's sample count.
func DailyBuckets(hourly []models.MetricsRollup) []models.MetricsRollup {
	groups := map[int64][]models.MetricsRollup{}
	for _, h := range hourly {
		b := floorMS(h.BucketTimestamp.UnixMilli(), dayMS)
		groups[b] = append(groups[b], h)
	}
	out := make([]models.MetricsRollup, 0, len(groups))
	for b, g := range groups {
		out = append(out, combine(time.UnixMilli(b), g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketTimestamp.Before(out[j].BucketTimestamp) })
	return out
}

func combine(bucket time.Time, g []models.MetricsRollup) models.MetricsRollup {
	weights := make(stats.Float64Data, len(g))
	for i, h := range g {
		weights[i] = float64(h.SampleCount)
	}
	total := sumOf(weights)
	wavg := func(f func(models.MetricsRollup) float64) float64 {
		d := make(stats.Float64Data, len(g))
		for i, h := range g {
			d[i] = f(h)
		}
		if total == 0 {
			return meanOf(d)
		}
		for i := range d {
			d[i] *= weights[i]
		}
		return sumOf(d) / total
	}
	top := func(f func(models.MetricsRollup) float64) float64 {
		d := make(stats.Float64Data, len(g))
		for i, h := range g {
			d[i] = f(h)
		}
		return maxOf(d)
	}
	add := func(f func(models.MetricsRollup) float64) float64 {
		d := make(stats.Float64Data, len(g))
		for i, h := range g {
			d[i] = f(h)
		}
		return sumOf(d)
	}

	return models.MetricsRollup{
		BucketTimestamp:  bucket,
		CPUPercentAvg:    wavg(func(h models.MetricsRollup) float64 { return h.CPUPercentAvg }),
		CPUPercentMax:    top(func(h models.MetricsRollup) float64 { return h.CPUPercentMax }),
		MemoryUsedAvg:    wavg(func(h models.MetricsRollup) float64 { return h.MemoryUsedAvg }),
		MemoryUsedMax:    top(func(h models.MetricsRollup) float64 { return h.MemoryUsedMax }),
		MemoryPercentAvg: wavg(func(h models.MetricsRollup) float64 { return h.MemoryPercentAvg }),
		MemoryPercentMax: top(func(h models.MetricsRollup) float64 { return h.MemoryPercentMax }),
		DiskUsedAvg:      wavg(func(h models.MetricsRollup) float64 { return h.DiskUsedAvg }),
		DiskUsedMax:      top(func(h models.MetricsRollup) float64 { return h.DiskUsedMax }),
		DiskPercentAvg:   wavg(func(h models.MetricsRollup) float64 { return h.DiskPercentAvg }),
		DiskPercentMax:   top(func(h models.MetricsRollup) float64 { return h.DiskPercentMax }),
		NetworkRxAvg:     wavg(func(h models.MetricsRollup) float64 { return h.NetworkRxAvg }),
		NetworkRxMax:     top(func(h models.MetricsRollup) float64 { return h.NetworkRxMax }),
		NetworkTxAvg:     wavg(func(h models.MetricsRollup) float64 { return h.NetworkTxAvg }),
		NetworkTxMax:     top(func(h models.MetricsRollup) float64 { return h.NetworkTxMax }),
		Load1Avg:         wavg(func(h models.MetricsRollup) float64 { return h.Load1Avg }),
		Load1Max:         top(func(h models.MetricsRollup) float64 { return h.Load1Max }),
		NetworkRxTotal:   add(func(h models.MetricsRollup) float64 { return h.NetworkRxTotal }),
		NetworkTxTotal:   add(func(h models.MetricsRollup) float64 { return h.NetworkTxTotal }),
		SampleCount:      int64(total),
	}
}

// stats only fails on empty input, which the grouping above never produces.
func meanOf(d stats.Float64Data) float64 {
	v, _ := stats.Mean(d)
	return v
}

func maxOf(d stats.Float64Data) float64 {
	v, _ := stats.Max(d)
	return v
}

func sumOf(d stats.Float64Data) float64 {
	v, _ := stats.Sum(d)
	return v
}
