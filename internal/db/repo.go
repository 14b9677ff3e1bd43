package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"hostwatch/internal/models"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) DB() *sql.DB { return r.db }

func (r *Repository) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func ms(t time.Time) int64 { return t.UnixMilli() }

func fromMS(v int64) time.Time { return time.UnixMilli(v) }

const liveColumns = `timestamp,cpu_percent,memory_used,memory_total,memory_percent,disk_used,disk_total,disk_percent,network_rx,network_tx,load_1m,load_5m,load_15m,uptime`

func (r *Repository) InsertMetrics(ctx context.Context, m models.MetricsSnapshot) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO metrics_live (`+liveColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		ms(m.Timestamp), m.CPUPercent, m.MemoryUsed, m.MemoryTotal, m.MemoryPercent, m.DiskUsed, m.DiskTotal, m.DiskPercent,
		m.NetworkRx, m.NetworkTx, m.Load1, m.Load5, m.Load15, m.UptimeSec)
	if err != nil {
		return fmt.Errorf("insert metrics: %w", err)
	}
	return nil
}

func scanLive(sc interface{ Scan(...any) error }) (models.MetricsSnapshot, error) {
	var m models.MetricsSnapshot
	var ts int64
	err := sc.Scan(&ts, &m.CPUPercent, &m.MemoryUsed, &m.MemoryTotal, &m.MemoryPercent, &m.DiskUsed, &m.DiskTotal, &m.DiskPercent,
		&m.NetworkRx, &m.NetworkTx, &m.Load1, &m.Load5, &m.Load15, &m.UptimeSec)
	m.Timestamp = fromMS(ts)
	return m, err
}

// LatestMetrics returns sql.ErrNoRows when nothing has been stored yet.
func (r *Repository) LatestMetrics(ctx context.Context) (models.MetricsSnapshot, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+liveColumns+` FROM metrics_live ORDER BY timestamp DESC LIMIT 1`)
	return scanLive(row)
}

// LiveMetrics returns live rows with from <= timestamp < to, oldest first.
func (r *Repository) LiveMetrics(ctx context.Context, from, to time.Time) ([]models.MetricsSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+liveColumns+` FROM metrics_live WHERE timestamp >= ? AND timestamp < ? ORDER BY timestamp ASC`, ms(from), ms(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.MetricsSnapshot
	for rows.Next() {
		m, err := scanLive(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repository) InsertContainerStats(ctx context.Context, stats []models.ContainerSnapshot) error {
	if len(stats) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO container_stats
		(timestamp,container_id,container_name,cpu_percent,memory_used,memory_limit,network_rx,network_tx,status)
		VALUES (?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, s := range stats {
		if _, err := stmt.ExecContext(ctx, ms(s.Timestamp), s.ContainerID, s.Name, s.CPUPercent, s.MemoryUsed, s.MemoryLimit,
			s.NetworkRx, s.NetworkTx, string(s.Status)); err != nil {
			return fmt.Errorf("insert container %s: %w", s.Name, err)
		}
	}
	return tx.Commit()
}

func (r *Repository) RecentContainerStats(ctx context.Context, containerID string, from time.Time, limit int) ([]models.ContainerSnapshot, error) {
	if limit <= 0 || limit > 5000 {
		limit = 500
	}
	rows, err := r.db.QueryContext(ctx, `SELECT timestamp,container_id,container_name,cpu_percent,memory_used,memory_limit,network_rx,network_tx,status
		FROM container_stats WHERE container_id = ? AND timestamp >= ? ORDER BY timestamp ASC LIMIT ?`, containerID, ms(from), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.ContainerSnapshot, 0, 64)
	for rows.Next() {
		var s models.ContainerSnapshot
		var ts int64
		var status string
		if err := rows.Scan(&ts, &s.ContainerID, &s.Name, &s.CPUPercent, &s.MemoryUsed, &s.MemoryLimit, &s.NetworkRx, &s.NetworkTx, &status); err != nil {
			return nil, err
		}
		s.Timestamp = fromMS(ts)
		s.Status = models.ContainerStatus(status)
		out = append(out, s)
	}
	return out, rows.Err()
}

// uptimeWindow is the trailing window used for service_status.uptime_percent.
const uptimeWindow = 24 * time.Hour

// InsertServiceStatuses stores one batch of internal probe results. Each
// row carries the share of online or degraded rows for its service over the
// trailing 24h, itself included. Public reachability results are not
// stored; they measure a different path and would skew uptime.
func (r *Repository) InsertServiceStatuses(ctx context.Context, snaps []models.ServiceSnapshot) error {
	snaps = internalOnly(snaps)
	if len(snaps) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, s := range snaps {
		var total, up int64
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(CASE WHEN status IN ('online','degraded') THEN 1 ELSE 0 END),0)
			FROM service_status WHERE service_id = ? AND timestamp >= ?`, s.ServiceID, ms(s.Timestamp.Add(-uptimeWindow))).Scan(&total, &up)
		if err != nil {
			return fmt.Errorf("uptime for %s: %w", s.ServiceID, err)
		}
		total++
		if s.Status != models.StatusOffline {
			up++
		}
		uptime := float64(up) * 100 / float64(total)
		var rt sql.NullInt64
		if s.ResponseTime != nil {
			rt = sql.NullInt64{Int64: *s.ResponseTime, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO service_status (timestamp,service_id,service_name,status,response_time,uptime_percent)
			VALUES (?,?,?,?,?,?)`, ms(s.Timestamp), s.ServiceID, s.ServiceName, string(s.Status), rt, uptime); err != nil {
			return fmt.Errorf("insert service %s: %w", s.ServiceID, err)
		}
	}
	return tx.Commit()
}

func internalOnly(snaps []models.ServiceSnapshot) []models.ServiceSnapshot {
	out := snaps[:0:0]
	for _, s := range snaps {
		if s.Checker != models.CheckerPublic {
			out = append(out, s)
		}
	}
	return out
}

type ServiceHistoryRow struct {
	models.ServiceSnapshot
	UptimePercent float64 `json:"uptime_percent"`
}

func (r *Repository) ServiceHistory(ctx context.Context, serviceID string, from time.Time, limit int) ([]ServiceHistoryRow, error) {
	if limit <= 0 || limit > 5000 {
		limit = 500
	}
	rows, err := r.db.QueryContext(ctx, `SELECT timestamp,service_id,service_name,status,response_time,COALESCE(uptime_percent,0)
		FROM service_status WHERE service_id = ? AND timestamp >= ? ORDER BY timestamp ASC LIMIT ?`, serviceID, ms(from), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ServiceHistoryRow
	for rows.Next() {
		var h ServiceHistoryRow
		var ts int64
		var status string
		var rt sql.NullInt64
		if err := rows.Scan(&ts, &h.ServiceID, &h.ServiceName, &status, &rt, &h.UptimePercent); err != nil {
			return nil, err
		}
		h.Timestamp = fromMS(ts)
		h.Status = models.ServiceStatus(status)
		h.Checker = models.CheckerInternal
		if rt.Valid {
			v := rt.Int64
			h.ResponseTime = &v
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *Repository) InsertAggregationLog(ctx context.Context, e models.AggregationLogEntry) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO aggregation_log (aggregation_type,last_run,records_processed,records_deleted) VALUES (?,?,?,?)`,
		string(e.AggregationType), ms(e.LastRun), e.RecordsProcessed, e.RecordsDeleted)
	return err
}

// LastAggregation returns sql.ErrNoRows when the given pass never ran.
func (r *Repository) LastAggregation(ctx context.Context, typ models.AggregationType) (models.AggregationLogEntry, error) {
	var e models.AggregationLogEntry
	var ts int64
	var t string
	err := r.db.QueryRowContext(ctx, `SELECT aggregation_type,last_run,records_processed,records_deleted FROM aggregation_log
		WHERE aggregation_type = ? ORDER BY last_run DESC, id DESC LIMIT 1`, string(typ)).Scan(&t, &ts, &e.RecordsProcessed, &e.RecordsDeleted)
	e.AggregationType = models.AggregationType(t)
	e.LastRun = fromMS(ts)
	return e, err
}

func (r *Repository) CountAggregationLog(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM aggregation_log`).Scan(&n)
	return n, err
}
