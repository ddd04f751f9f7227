package postgres

import (
	"context"

	"github.com/cwrk-planet/chat-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ChatRepository struct {
	db *pgxpool.Pool
}

func NewChatRepository(db *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{db: db}
}

// GetOrCreate ищет запись пары в любом направлении; создаёт при отсутствии.
func (r *ChatRepository) GetOrCreate(ctx context.Context, senderID, receiverID int64) (*domain.Chat, bool, error) {
	var c domain.Chat
	query := `
		SELECT id, sender_id, receiver_id, offer_id, created_at
		FROM chats
		WHERE offer_id IS NULL
		  AND ((sender_id=$1 AND receiver_id=$2) OR (sender_id=$2 AND receiver_id=$1))`
	err := r.db.QueryRow(ctx, query, senderID, receiverID).
		Scan(&c.ID, &c.SenderID, &c.ReceiverID, &c.OfferID, &c.CreatedAt)
	if err == nil {
		return &c, false, nil
	}
	if err != pgx.ErrNoRows {
		return nil, false, err
	}

	query = `
		INSERT INTO chats (sender_id, receiver_id)
		VALUES ($1, $2)
		RETURNING id, sender_id, receiver_id, offer_id, created_at`
	err = r.db.QueryRow(ctx, query, senderID, receiverID).
		Scan(&c.ID, &c.SenderID, &c.ReceiverID, &c.OfferID, &c.CreatedAt)
	if err != nil {
		return nil, false, err
	}
	return &c, true, nil
}

// GetOrCreateOffer — чат, привязанный к офферу (трёхсторонний контекст).
func (r *ChatRepository) GetOrCreateOffer(ctx context.Context, senderID, receiverID, offerID int64) (*domain.Chat, bool, error) {
	var c domain.Chat
	query := `
		SELECT id, sender_id, receiver_id, offer_id, created_at
		FROM chats
		WHERE offer_id=$3
		  AND ((sender_id=$1 AND receiver_id=$2) OR (sender_id=$2 AND receiver_id=$1))`
	err := r.db.QueryRow(ctx, query, senderID, receiverID, offerID).
		Scan(&c.ID, &c.SenderID, &c.ReceiverID, &c.OfferID, &c.CreatedAt)
	if err == nil {
		return &c, false, nil
	}
	if err != pgx.ErrNoRows {
		return nil, false, err
	}

	query = `
		INSERT INTO chats (sender_id, receiver_id, offer_id)
		VALUES ($1, $2, $3)
		RETURNING id, sender_id, receiver_id, offer_id, created_at`
	err = r.db.QueryRow(ctx, query, senderID, receiverID, offerID).
		Scan(&c.ID, &c.SenderID, &c.ReceiverID, &c.OfferID, &c.CreatedAt)
	if err != nil {
		return nil, false, err
	}
	return &c, true, nil
}

// ListByUser возвращает все чаты, где пользователь — одна из сторон.
func (r *ChatRepository) ListByUser(ctx context.Context, userID int64) ([]domain.Chat, error) {
	query := `
		SELECT id, sender_id, receiver_id, offer_id, created_at
		FROM chats
		WHERE sender_id=$1 OR receiver_id=$1
		ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Chat
	for rows.Next() {
		var c domain.Chat
		if err := rows.Scan(&c.ID, &c.SenderID, &c.ReceiverID, &c.OfferID, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
