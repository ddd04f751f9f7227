package postgres

import (
	"context"

	"github.com/cwrk-planet/chat-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type NotificationRepository struct {
	db *pgxpool.Pool
}

func NewNotificationRepository(db *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	meta, err := domain.EncodeMeta(n.Meta)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO notifications (user_id, sender_id, message, meta_data, seen)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`
	return r.db.QueryRow(ctx, query, n.UserID, n.SenderID, n.Message, meta, n.Seen).
		Scan(&n.ID, &n.CreatedAt)
}

func (r *NotificationRepository) Get(ctx context.Context, id string, userID int64) (*domain.Notification, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, user_id, sender_id, message, meta_data, seen, created_at
		FROM notifications WHERE id=$1 AND user_id=$2`, id, userID)
	return scanNotification(row)
}

// ListByUser — все уведомления пользователя, новые первыми.
func (r *NotificationRepository) ListByUser(ctx context.Context, userID int64, onlyUnseen bool) ([]domain.Notification, error) {
	query := `
		SELECT id, user_id, sender_id, message, meta_data, seen, created_at
		FROM notifications
		WHERE user_id=$1`
	if onlyUnseen {
		query += ` AND NOT seen`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func (r *NotificationRepository) MarkSeen(ctx context.Context, id string, userID int64) (*domain.Notification, error) {
	_, err := r.db.Exec(ctx,
		`UPDATE notifications SET seen=true WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, id, userID)
}

func (r *NotificationRepository) Delete(ctx context.Context, id string, userID int64) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM notifications WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var (
		n    domain.Notification
		meta []byte
	)
	if err := row.Scan(&n.ID, &n.UserID, &n.SenderID, &n.Message, &meta, &n.Seen, &n.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotificationNotFound
		}
		return nil, err
	}
	m, err := domain.DecodeMeta(meta)
	if err != nil {
		return nil, err
	}
	n.Meta = m
	return &n, nil
}
