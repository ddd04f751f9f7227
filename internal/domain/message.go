package domain

import "time"

// Chat — запись-дедупликатор пары собеседников; создаётся при первом сообщении.
// Членство в комнате выводится из id участников, а не хранится здесь.
type Chat struct {
	ID         string    `db:"id"`
	SenderID   int64     `db:"sender_id"`
	ReceiverID int64     `db:"receiver_id"`
	OfferID    *int64    `db:"offer_id"`
	CreatedAt  time.Time `db:"created_at"`
}

type Message struct {
	ID         string    `db:"id"`
	SenderID   int64     `db:"sender_id"`
	ReceiverID int64     `db:"receiver_id"`
	Text       string    `db:"message"`
	ReplyTo    *string   `db:"reply_to"`
	IsRead     bool      `db:"is_read"`
	IsDeleted  bool      `db:"is_deleted"`
	IsEdited   bool      `db:"is_edited"`
	CreatedAt  time.Time `db:"created_at"`

	// вложение: файл лежит на диске, в базе только метаданные
	AttachmentPath *string `db:"attachment_path"`
	AttachmentName *string `db:"attachment_name"`
	MimeType       *string `db:"mime_type"`
}

// HasAttachment сообщает, есть ли у сообщения вложение.
func (m *Message) HasAttachment() bool {
	return m.AttachmentPath != nil && *m.AttachmentPath != ""
}
