package db

import (
	"context"
	"fmt"
	"time"

	"hostwatch/internal/models"
)

// Table names the time-series tables that retention may prune.
type Table string

const (
	TableLive          Table = "metrics_live"
	TableHourly        Table = "metrics_hourly"
	TableDaily         Table = "metrics_daily"
	TableContainers    Table = "container_stats"
	TableServices      Table = "service_status"
	TableNotifications Table = "notifications"
)

func (t Table) valid() bool {
	switch t {
	case TableLive, TableHourly, TableDaily, TableContainers, TableServices, TableNotifications:
		return true
	}
	return false
}

func (t Table) rollup() bool { return t == TableHourly || t == TableDaily }

const rollupSelect = `timestamp,cpu_percent_avg,cpu_percent_max,memory_used_avg,memory_used_max,memory_percent_avg,memory_percent_max,
	disk_used_avg,disk_used_max,disk_percent_avg,disk_percent_max,network_rx_avg,network_rx_max,network_tx_avg,network_tx_max,
	load_1m_avg,load_1m_max,network_rx_total,network_tx_total,sample_count`

const upsertRollup = `ON CONFLICT(timestamp) DO UPDATE SET
			cpu_percent_avg=excluded.cpu_percent_avg, cpu_percent_max=excluded.cpu_percent_max,
			memory_used_avg=excluded.memory_used_avg, memory_used_max=excluded.memory_used_max,
			memory_percent_avg=excluded.memory_percent_avg, memory_percent_max=excluded.memory_percent_max,
			disk_used_avg=excluded.disk_used_avg, disk_used_max=excluded.disk_used_max,
			disk_percent_avg=excluded.disk_percent_avg, disk_percent_max=excluded.disk_percent_max,
			network_rx_avg=excluded.network_rx_avg, network_rx_max=excluded.network_rx_max,
			network_tx_avg=excluded.network_tx_avg, network_tx_max=excluded.network_tx_max,
			load_1m_avg=excluded.load_1m_avg, load_1m_max=excluded.load_1m_max,
			network_rx_total=excluded.network_rx_total, network_tx_total=excluded.network_tx_total,
			sample_count=excluded.sample_count`

// UpsertRollups writes rows in one transaction, replacing any row with the
// same bucket timestamp.
func (r *Repository) UpsertRollups(ctx context.Context, table Table, rows []models.MetricsRollup) error {
	return r.writeRollups(ctx, table, rows, upsertRollup)
}

// InsertMissingRollups writes only rows whose bucket does not exist yet.
// Used for buckets whose source rows may already be partly pruned.
func (r *Repository) InsertMissingRollups(ctx context.Context, table Table, rows []models.MetricsRollup) error {
	return r.writeRollups(ctx, table, rows, `ON CONFLICT(timestamp) DO NOTHING`)
}

func (r *Repository) writeRollups(ctx context.Context, table Table, rows []models.MetricsRollup, conflict string) error {
	if !table.rollup() {
		return fmt.Errorf("not a rollup table: %s", table)
	}
	if len(rows) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+string(table)+` (`+rollupSelect+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?) `+conflict)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, m := range rows {
		if _, err := stmt.ExecContext(ctx, ms(m.BucketTimestamp),
			m.CPUPercentAvg, m.CPUPercentMax, m.MemoryUsedAvg, m.MemoryUsedMax, m.MemoryPercentAvg, m.MemoryPercentMax,
			m.DiskUsedAvg, m.DiskUsedMax, m.DiskPercentAvg, m.DiskPercentMax, m.NetworkRxAvg, m.NetworkRxMax,
			m.NetworkTxAvg, m.NetworkTxMax, m.Load1Avg, m.Load1Max, m.NetworkRxTotal, m.NetworkTxTotal, m.SampleCount); err != nil {
			return fmt.Errorf("write %s bucket %d: %w", table, ms(m.BucketTimestamp), err)
		}
	}
	return tx.Commit()
}

// Rollups returns rows with from <= timestamp < to, oldest first.
func (r *Repository) Rollups(ctx context.Context, table Table, from, to time.Time) ([]models.MetricsRollup, error) {
	if !table.rollup() {
		return nil, fmt.Errorf("not a rollup table: %s", table)
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+rollupSelect+` FROM `+string(table)+` WHERE timestamp >= ? AND timestamp < ? ORDER BY timestamp ASC`, ms(from), ms(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.MetricsRollup
	for rows.Next() {
		var m models.MetricsRollup
		var ts int64
		if err := rows.Scan(&ts,
			&m.CPUPercentAvg, &m.CPUPercentMax, &m.MemoryUsedAvg, &m.MemoryUsedMax, &m.MemoryPercentAvg, &m.MemoryPercentMax,
			&m.DiskUsedAvg, &m.DiskUsedMax, &m.DiskPercentAvg, &m.DiskPercentMax, &m.NetworkRxAvg, &m.NetworkRxMax,
			&m.NetworkTxAvg, &m.NetworkTxMax, &m.Load1Avg, &m.Load1Max, &m.NetworkRxTotal, &m.NetworkTxTotal, &m.SampleCount); err != nil {
			return nil, err
		}
		m.BucketTimestamp = fromMS(ts)
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteBefore removes rows of table with timestamp < cutoff.
func (r *Repository) DeleteBefore(ctx context.Context, table Table, cutoff time.Time) (int64, error) {
	if !table.valid() {
		return 0, fmt.Errorf("unknown table: %s", table)
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM `+string(table)+` WHERE timestamp < ?`, ms(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune %s: %w", table, err)
	}
	return res.RowsAffected()
}

func (r *Repository) Count(ctx context.Context, table Table) (int64, error) {
	if !table.valid() {
		return 0, fmt.Errorf("unknown table: %s", table)
	}
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+string(table)).Scan(&n)
	return n, err
}

// Checkpoint truncates the WAL after large deletes.
func (r *Repository) Checkpoint(ctx context.Context) {
	_, _ = r.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`)
	_, _ = r.db.ExecContext(ctx, `PRAGMA optimize`)
}
