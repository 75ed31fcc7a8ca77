package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Proton-105/photostudio/internal/domain"
)

// NotificationRepository persists admin notifications.
type NotificationRepository interface {
	Create(ctx context.Context, n *domain.AdminNotification) error
	List(ctx context.Context, unreadOnly bool, page Page) ([]domain.AdminNotification, error)
	MarkRead(ctx context.Context, id int64) error
	CountUnread(ctx context.Context) (int, error)
}

type notificationRepository struct {
	base
}

func NewNotificationRepository(db *sql.DB, log *slog.Logger) NotificationRepository {
	return &notificationRepository{base: newBase(db, log)}
}

func (r *notificationRepository) Create(ctx context.Context, n *domain.AdminNotification) error {
	payload := n.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	err := r.q(ctx).QueryRowContext(ctx,
		`INSERT INTO admin_notifications (kind, message, payload) VALUES ($1, $2, $3) RETURNING id, created_at`,
		n.Kind, n.Message, []byte(payload),
	).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert admin notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) List(ctx context.Context, unreadOnly bool, page Page) ([]domain.AdminNotification, error) {
	page = page.Normalize()

	query := `SELECT id, kind, message, payload, read_at, created_at FROM admin_notifications`
	if unreadOnly {
		query += ` WHERE read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.q(ctx).QueryContext(ctx, query, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("list admin notifications: %w", err)
	}
	defer rows.Close()

	var out []domain.AdminNotification
	for rows.Next() {
		var (
			n       domain.AdminNotification
			payload []byte
			readAt  sql.NullTime
		)
		if err := rows.Scan(&n.ID, &n.Kind, &n.Message, &payload, &readAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan admin notification: %w", err)
		}
		n.Payload = json.RawMessage(payload)
		if readAt.Valid {
			n.ReadAt = &readAt.Time
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *notificationRepository) MarkRead(ctx context.Context, id int64) error {
	res, err := r.q(ctx).ExecContext(ctx,
		`UPDATE admin_notifications SET read_at = COALESCE(read_at, NOW()) WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark notification %d read: %w", id, err)
	}
	if ok, err := affected(res); err != nil || !ok {
		return fmt.Errorf("mark notification %d read: %w", id, firstErr(err, ErrNotFound))
	}
	return nil
}

func (r *notificationRepository) CountUnread(ctx context.Context) (int, error) {
	var n int
	if err := r.q(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM admin_notifications WHERE read_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return n, nil
}

// WebhookLogRepository records inbound webhook deliveries.
type WebhookLogRepository interface {
	Insert(ctx context.Context, l *domain.WebhookLog) error
	List(ctx context.Context, source string, page Page) ([]domain.WebhookLog, error)
}

type webhookLogRepository struct {
	base
}

func NewWebhookLogRepository(db *sql.DB, log *slog.Logger) WebhookLogRepository {
	return &webhookLogRepository{base: newBase(db, log)}
}

const maxLoggedPayload = 8 << 10

func (r *webhookLogRepository) Insert(ctx context.Context, l *domain.WebhookLog) error {
	payload := l.Payload
	if len(payload) > maxLoggedPayload {
		payload = payload[:maxLoggedPayload]
	}

	err := r.q(ctx).QueryRowContext(ctx,
		`INSERT INTO webhook_logs (source, message_id, status_code, payload, error) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		l.Source, l.MessageID, l.StatusCode, payload, l.Error,
	).Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert webhook log: %w", err)
	}
	return nil
}

func (r *webhookLogRepository) List(ctx context.Context, source string, page Page) ([]domain.WebhookLog, error) {
	page = page.Normalize()

	rows, err := r.q(ctx).QueryContext(ctx, `
		SELECT id, source, message_id, status_code, payload, error, created_at
		FROM webhook_logs
		WHERE ($1 = '' OR source = $1)
		ORDER BY id DESC LIMIT $2 OFFSET $3`, source, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("list webhook logs: %w", err)
	}
	defer rows.Close()

	var out []domain.WebhookLog
	for rows.Next() {
		var l domain.WebhookLog
		if err := rows.Scan(&l.ID, &l.Source, &l.MessageID, &l.StatusCode, &l.Payload, &l.Error, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook log: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// StatsRepository computes the admin dashboard summary.
type StatsRepository interface {
	Stats(ctx context.Context) (*domain.Stats, error)
}

type statsRepository struct {
	base
}

func NewStatsRepository(db *sql.DB, log *slog.Logger) StatsRepository {
	return &statsRepository{base: newBase(db, log)}
}

func (r *statsRepository) Stats(ctx context.Context) (*domain.Stats, error) {
	const query = `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM users WHERE last_active_at > NOW() - INTERVAL '1 day'),
			(SELECT COUNT(*) FROM avatars),
			(SELECT COUNT(*) FROM kie_tasks WHERE status IN ('pending', 'processing')),
			(SELECT COUNT(*) FROM kie_tasks WHERE status = 'completed'),
			(SELECT COUNT(*) FROM kie_tasks WHERE status = 'failed'),
			(SELECT COUNT(*) FROM generated_photos),
			(SELECT COUNT(*) FROM payments WHERE status = 'succeeded'),
			(SELECT COALESCE(SUM(amount), 0) FROM payments WHERE status = 'succeeded'),
			(SELECT COUNT(*) FROM admin_notifications WHERE read_at IS NULL)
	`

	var s domain.Stats
	if err := r.q(ctx).QueryRowContext(ctx, query).Scan(
		&s.Users, &s.ActiveToday, &s.Avatars, &s.TasksPending, &s.TasksCompleted, &s.TasksFailed,
		&s.PhotosGenerated, &s.PaymentsCount, &s.Revenue, &s.UnreadNotices,
	); err != nil {
		return nil, fmt.Errorf("select stats: %w", err)
	}
	return &s, nil
}
