package postgres

import (
	"context"
	"fmt"

	"github.com/cwrk-planet/chat-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MessageRepository struct {
	db *pgxpool.Pool
}

func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `id, sender_id, receiver_id, message, reply_to,
	is_read, is_deleted, is_edited, attachment_path, attachment_name, mime_type, created_at`

func scanMessage(row pgx.Row, m *domain.Message) error {
	return row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Text, &m.ReplyTo,
		&m.IsRead, &m.IsDeleted, &m.IsEdited, &m.AttachmentPath, &m.AttachmentName, &m.MimeType, &m.CreatedAt)
}

func (r *MessageRepository) Create(ctx context.Context, m *domain.Message) error {
	query := `
		INSERT INTO messages (sender_id, receiver_id, message, reply_to, attachment_path, attachment_name, mime_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`
	return r.db.QueryRow(ctx, query,
		m.SenderID, m.ReceiverID, m.Text, m.ReplyTo, m.AttachmentPath, m.AttachmentName, m.MimeType).
		Scan(&m.ID, &m.CreatedAt)
}

func (r *MessageRepository) Get(ctx context.Context, id string) (*domain.Message, error) {
	var m domain.Message
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id=$1`
	if err := scanMessage(r.db.QueryRow(ctx, query, id), &m); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrMessageNotFound
		}
		return nil, err
	}
	return &m, nil
}

// GetInConversation находит сообщение по id внутри пары a<->b (в обе стороны).
// Используется для проверки reply_to.
func (r *MessageRepository) GetInConversation(ctx context.Context, id string, a, b int64) (*domain.Message, error) {
	var m domain.Message
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE id=$1
		  AND ((sender_id=$2 AND receiver_id=$3) OR (sender_id=$3 AND receiver_id=$2))`
	if err := scanMessage(r.db.QueryRow(ctx, query, id, a, b), &m); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrMessageNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *MessageRepository) SetDeleted(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `UPDATE messages SET is_deleted=true WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

func (r *MessageRepository) UpdateText(ctx context.Context, id, text string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE messages SET message=$2, is_edited=true WHERE id=$1 AND NOT is_deleted`, id, text)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

// History возвращает историю пары с курсорной пагинацией (created_at,id DESC).
func (r *MessageRepository) History(ctx context.Context, a, b int64, after string, limit int) ([]domain.Message, string, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	cur, err := DecodeCursor(after)
	if err != nil {
		return nil, "", fmt.Errorf("decode cursor: %w", err)
	}
	const baseQuery = `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE ((sender_id=$1 AND receiver_id=$2) OR (sender_id=$2 AND receiver_id=$1))
		  AND (
		    $3::timestamptz IS NULL
		    OR created_at < $3
		    OR (created_at = $3 AND id < $4)
		  )
		ORDER BY created_at DESC, id DESC
		LIMIT $5
	`

	var createdAt any
	var id any
	if cur != nil {
		createdAt = cur.CreatedAt
		id = cur.ID
	}

	rows, err := r.db.Query(ctx, baseQuery, a, b, createdAt, id, limit)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, "", err
		}
		out = append(out, m)
	}

	var next string
	if len(out) == limit {
		last := out[len(out)-1]
		if c, e := EncodeCursor(Cursor{CreatedAt: last.CreatedAt, ID: last.ID}); e == nil {
			next = c
		}
	}
	return out, next, nil
}
