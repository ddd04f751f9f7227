package postgres

import (
	"context"

	"github.com/cwrk-planet/chat-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Get(ctx context.Context, id int64) (*domain.User, error) {
	var u domain.User
	query := `
		SELECT id, email, first_name, last_name, is_active, last_seen, created_at
		FROM users WHERE id=$1`
	err := r.db.QueryRow(ctx, query, id).
		Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.IsActive, &u.LastSeen, &u.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) TouchLastSeen(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET last_seen=now() WHERE id=$1`, id)
	return err
}
