package service

import "time"

// MessageView — сериализованное сообщение в том виде, в каком оно уходит
// клиенту (и по сокету, и в REST-ответах).
type MessageView struct {
	ID             string    `json:"id"`
	Sender         int64     `json:"sender"`
	Receiver       int64     `json:"receiver"`
	Message        string    `json:"message"`
	Timestamp      time.Time `json:"timestamp"`
	ReplyTo        *string   `json:"reply_to"`
	AttachmentURL  *string   `json:"attachment_url"`
	AttachmentName *string   `json:"attachment_name,omitempty"`
	MimeType       *string   `json:"mime_type,omitempty"`
	IsRead         bool      `json:"is_read"`
	IsDeleted      bool      `json:"is_deleted"`
	IsEdited       bool      `json:"is_edited"`
	MessageType    string    `json:"message_type"` // sent|received, зависит от зрителя
	RoomID         string    `json:"room_id"`
}
