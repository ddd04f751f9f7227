package domain

import "time"

type Notification struct {
	ID        string    `db:"id"`
	UserID    int64     `db:"user_id"`
	SenderID  *int64    `db:"sender_id"`
	Message   string    `db:"message"`
	Meta      Meta      `db:"meta_data"`
	Seen      bool      `db:"seen"`
	CreatedAt time.Time `db:"created_at"`
}
