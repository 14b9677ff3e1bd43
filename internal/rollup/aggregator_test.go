package rollup

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostwatch/internal/clock"
	"hostwatch/internal/db"
	"hostwatch/internal/metrics"
	"hostwatch/internal/models"
)

func newTestRepo(t *testing.T) *db.Repository {
	t.Helper()
	sqldb, err := db.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = sqldb.Close() })
	if err := db.Migrate(sqldb); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db.NewRepository(sqldb)
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func insertEvery(t *testing.T, repo *db.Repository, from, to time.Time, step time.Duration) int {
	t.Helper()
	n := 0
	for ts := from; ts.Before(to); ts = ts.Add(step) {
		m := models.MetricsSnapshot{Timestamp: ts, CPUPercent: float64(ts.Minute()), MemoryUsed: 1000, MemoryPercent: 50, NetworkRx: 10, NetworkTx: 5}
		if err := repo.InsertMetrics(context.Background(), m); err != nil {
			t.Fatalf("insert metrics: %v", err)
		}
		n++
	}
	return n
}

func TestHourlySampleCountMatchesLiveRows(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	fc := clock.NewFake(now)

	insertEvery(t, repo, now.Add(-150*time.Minute), now.Add(-90*time.Minute), 5*time.Minute) // 10:00..10:55
	insertEvery(t, repo, now.Add(-90*time.Minute), now.Add(-55*time.Minute), 5*time.Minute)  // 11:00..11:30
	insertEvery(t, repo, now.Add(-30*time.Minute), now, 5*time.Minute)                       // current hour

	agg := NewAggregator(repo, fc, Retention{}, metrics.New(), discardLogger())
	entry, err := agg.RunHourly(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(19), entry.RecordsProcessed)
	assert.Zero(t, entry.RecordsDeleted)

	rows, err := repo.Rollups(ctx, db.TableHourly, time.UnixMilli(0), now)
	require.NoError(t, err)
	require.Len(t, rows, 2, "the running hour is not rolled up")
	assert.True(t, rows[0].BucketTimestamp.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, int64(12), rows[0].SampleCount)
	assert.Equal(t, int64(7), rows[1].SampleCount)
	assert.InDelta(t, 27.5, rows[0].CPUPercentAvg, 1e-9)
	assert.Equal(t, 55.0, rows[0].CPUPercentMax)
	assert.Equal(t, 120.0, rows[0].NetworkRxTotal)

	live, err := repo.Count(ctx, db.TableLive)
	require.NoError(t, err)
	assert.Equal(t, int64(25), live, "nothing is older than 24h yet")
}

func TestHourlyRerunIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	insertEvery(t, repo, now.Add(-3*time.Hour), now, time.Minute)

	agg := NewAggregator(repo, clock.NewFake(now), Retention{}, nil, discardLogger())
	_, err := agg.RunHourly(ctx)
	require.NoError(t, err)
	first, err := repo.Rollups(ctx, db.TableHourly, time.UnixMilli(0), now)
	require.NoError(t, err)

	_, err = agg.RunHourly(ctx)
	require.NoError(t, err)
	second, err := repo.Rollups(ctx, db.TableHourly, time.UnixMilli(0), now)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	n, err := repo.CountAggregationLog(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "each run is logged")
}

func TestHourlyTwentyFiveHourBacklog(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 30, 0, 0, time.UTC)
	fc := clock.NewFake(now)
	total := insertEvery(t, repo, now.Add(-25*time.Hour), now, 10*time.Minute)
	require.Equal(t, 150, total)

	agg := NewAggregator(repo, fc, Retention{}, nil, discardLogger())
	entry, err := agg.RunHourly(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), entry.RecordsDeleted)

	live, err := repo.LiveMetrics(ctx, time.UnixMilli(0), now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, live, 144)
	assert.False(t, live[0].Timestamp.Before(now.Add(-24*time.Hour)))

	hourly, err := repo.Rollups(ctx, db.TableHourly, time.UnixMilli(0), now)
	require.NoError(t, err)
	require.Len(t, hourly, 25, "one row per complete hour, including the hour past the live window")
	for i, h := range hourly {
		assert.Zero(t, h.BucketTimestamp.UnixMilli()%hourMS)
		if i > 0 {
			assert.Equal(t, time.Hour, h.BucketTimestamp.Sub(hourly[i-1].BucketTimestamp))
		}
	}
	assert.Equal(t, int64(3), hourly[0].SampleCount)
	assert.Equal(t, int64(6), hourly[1].SampleCount)

	// An hour later the straddling bucket has lost rows to pruning; its
	// stored count must not shrink.
	fc.Advance(time.Hour)
	_, err = agg.RunHourly(ctx)
	require.NoError(t, err)
	hourly, err = repo.Rollups(ctx, db.TableHourly, time.UnixMilli(0), fc.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(6), hourly[1].SampleCount)
	assert.Len(t, hourly, 26)
}

func TestDailyWeightsBySampleCount(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	now := day.Add(24*time.Hour + 30*time.Minute)

	require.NoError(t, repo.UpsertRollups(ctx, db.TableHourly, []models.MetricsRollup{
		{BucketTimestamp: day, CPUPercentAvg: 10, CPUPercentMax: 20, NetworkRxTotal: 100, SampleCount: 10},
		{BucketTimestamp: day.Add(time.Hour), CPUPercentAvg: 50, CPUPercentMax: 70, NetworkRxTotal: 300, SampleCount: 30},
		{BucketTimestamp: day.Add(24 * time.Hour), CPUPercentAvg: 99, CPUPercentMax: 99, SampleCount: 1},
	}))

	agg := NewAggregator(repo, clock.NewFake(now), Retention{}, nil, discardLogger())
	entry, err := agg.RunDaily(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), entry.RecordsProcessed, "today's hours wait for tomorrow")

	daily, err := repo.Rollups(ctx, db.TableDaily, time.UnixMilli(0), now)
	require.NoError(t, err)
	require.Len(t, daily, 1)
	d := daily[0]
	assert.True(t, d.BucketTimestamp.Equal(day))
	assert.InDelta(t, 40, d.CPUPercentAvg, 1e-9)
	assert.Equal(t, 70.0, d.CPUPercentMax)
	assert.Equal(t, 400.0, d.NetworkRxTotal)
	assert.Equal(t, int64(40), d.SampleCount)

	_, err = agg.RunDaily(ctx)
	require.NoError(t, err)
	again, err := repo.Rollups(ctx, db.TableDaily, time.UnixMilli(0), now)
	require.NoError(t, err)
	assert.Equal(t, daily, again)
}

func TestDailyPrunesEveryTable(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 20, 0, 30, 0, 0, time.UTC)

	require.NoError(t, repo.UpsertRollups(ctx, db.TableHourly, []models.MetricsRollup{
		{BucketTimestamp: now.Add(-8 * 24 * time.Hour).Truncate(time.Hour), SampleCount: 1},
		{BucketTimestamp: now.Add(-2 * time.Hour).Truncate(time.Hour), SampleCount: 1},
	}))
	require.NoError(t, repo.UpsertRollups(ctx, db.TableDaily, []models.MetricsRollup{
		{BucketTimestamp: now.Add(-31 * 24 * time.Hour).Truncate(24 * time.Hour), SampleCount: 1},
	}))
	require.NoError(t, repo.InsertContainerStats(ctx, []models.ContainerSnapshot{
		{Timestamp: now.Add(-8 * 24 * time.Hour), ContainerID: "old", Name: "old", Status: models.ContainerRunning},
		{Timestamp: now.Add(-time.Hour), ContainerID: "new", Name: "new", Status: models.ContainerRunning},
	}))
	require.NoError(t, repo.InsertServiceStatuses(ctx, []models.ServiceSnapshot{
		{Timestamp: now.Add(-8 * 24 * time.Hour), ServiceID: "web", ServiceName: "Web", Status: models.StatusOnline},
	}))
	_, err := repo.InsertNotification(ctx, models.Notification{Timestamp: now.Add(-31 * 24 * time.Hour), Type: models.NotifyInfo, Title: "old"})
	require.NoError(t, err)
	_, err = repo.InsertNotification(ctx, models.Notification{Timestamp: now.Add(-24 * time.Hour), Type: models.NotifyInfo, Title: "recent"})
	require.NoError(t, err)

	agg := NewAggregator(repo, clock.NewFake(now), Retention{}, nil, discardLogger())
	entry, err := agg.RunDaily(ctx)
	require.NoError(t, err)

	counts := map[db.Table]int64{}
	for _, table := range []db.Table{db.TableHourly, db.TableContainers, db.TableServices, db.TableNotifications} {
		n, err := repo.Count(ctx, table)
		require.NoError(t, err)
		counts[table] = n
	}
	assert.Equal(t, int64(1), counts[db.TableHourly])
	assert.Equal(t, int64(1), counts[db.TableContainers])
	assert.Zero(t, counts[db.TableServices])
	assert.Equal(t, int64(1), counts[db.TableNotifications])

	// The old hourly row was folded into a daily row before it was pruned;
	// that daily row and the recent day survive, the 31-day-old one does not.
	daily, err := repo.Rollups(ctx, db.TableDaily, time.UnixMilli(0), now)
	require.NoError(t, err)
	for _, d := range daily {
		assert.False(t, d.BucketTimestamp.Before(now.Add(-30*24*time.Hour)))
	}
	assert.GreaterOrEqual(t, entry.RecordsDeleted, int64(5))

	last, err := repo.LastAggregation(ctx, models.AggregationDaily)
	require.NoError(t, err)
	assert.Equal(t, entry.RecordsDeleted, last.RecordsDeleted)
}

func TestCombineWithoutSamplesFallsBackToMean(t *testing.T) {
	got := DailyBuckets([]models.MetricsRollup{
		{BucketTimestamp: time.UnixMilli(0), CPUPercentAvg: 10},
		{BucketTimestamp: time.UnixMilli(hourMS), CPUPercentAvg: 30},
	})
	require.Len(t, got, 1)
	if math.Abs(got[0].CPUPercentAvg-20) > 1e-9 {
		t.Fatalf("avg = %v, want 20", got[0].CPUPercentAvg)
	}
}
