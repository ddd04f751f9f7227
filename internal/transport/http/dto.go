package http

import (
	"encoding/json"
	"time"

	"github.com/cwrk-planet/chat-service/internal/service"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type ChatItem struct {
	ID        string    `json:"id"`
	Sender    int64     `json:"sender"`
	Receiver  int64     `json:"receiver"`
	OfferID   *int64    `json:"offer_id,omitempty"`
	RoomID    string    `json:"room_id"`
	CreatedAt time.Time `json:"created_at"`
}

type ChatsListResponse struct {
	Items []ChatItem `json:"items"`
}

type CreateOfferChatRequest struct {
	PeerID  int64 `json:"peer_id"`
	OfferID int64 `json:"offer_id"`
}

type MessagesResponse struct {
	Items      []*service.MessageView `json:"items"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

type UpdateMessageRequest struct {
	Message string `json:"message"`
}

type NotificationItem struct {
	ID       string          `json:"id"`
	SenderID *int64          `json:"sender_id,omitempty"`
	Message  string          `json:"message"`
	Time     time.Time       `json:"time"`
	Seen     bool            `json:"seen"`
	Meta     json.RawMessage `json:"meta_data"`
}

type NotificationsResponse struct {
	Items []NotificationItem `json:"items"`
}
