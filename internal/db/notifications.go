package db

import (
	"context"
	"database/sql"
	"fmt"

	"hostwatch/internal/models"
)

func (r *Repository) InsertNotification(ctx context.Context, n models.Notification) (int64, error) {
	var svc sql.NullString
	if n.ServiceID != "" {
		svc = sql.NullString{String: n.ServiceID, Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `INSERT INTO notifications (timestamp,type,title,message,service_id,read) VALUES (?,?,?,?,?,?)`,
		ms(n.Timestamp), string(n.Type), n.Title, n.Message, svc, boolInt(n.Read))
	if err != nil {
		return 0, fmt.Errorf("insert notification: %w", err)
	}
	return res.LastInsertId()
}

func (r *Repository) ListNotifications(ctx context.Context, unreadOnly bool, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT id,timestamp,type,title,message,service_id,read FROM notifications`
	if unreadOnly {
		query += ` WHERE read = 0`
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Notification, 0, limit)
	for rows.Next() {
		var n models.Notification
		var ts int64
		var typ string
		var svc sql.NullString
		var read int
		if err := rows.Scan(&n.ID, &ts, &typ, &n.Title, &n.Message, &svc, &read); err != nil {
			return nil, err
		}
		n.Timestamp = fromMS(ts)
		n.Type = models.NotificationType(typ)
		n.ServiceID = svc.String
		n.Read = read != 0
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *Repository) UnreadNotificationCount(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE read = 0`).Scan(&n)
	return n, err
}

// MarkNotificationRead reports false when no notification has that id.
func (r *Repository) MarkNotificationRead(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *Repository) MarkAllNotificationsRead(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET read = 1 WHERE read = 0`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
