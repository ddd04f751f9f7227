package ws

import (
	"encoding/json"
	"strconv"

	"github.com/cwrk-planet/chat-service/internal/service"
)

// Входящий кадр чат-сокета. Интент определяется заполненными полями:
// delete_id — удаление, иначе отправка (с вложением/ответом или без).
type inboundChatFrame struct {
	UserID         flexID `json:"user_id"`
	Message        string `json:"message"`
	AttachmentData string `json:"attachment_data"`
	MimeType       string `json:"mime_type"`
	AttachmentName string `json:"attachment_name"`
	ReplyTo        string `json:"reply_to"`
	DeleteID       string `json:"delete_id"`
}

// flexID принимает id и числом, и строкой — клиенты шлют и так, и так.
type flexID int64

func (f *flexID) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		*f = flexID(n)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n)
	return nil
}

// Входящий кадр сокета уведомлений: серверный push — основной путь,
// клиентский relay оставлен для внутренних нужд.
type inboundNotificationFrame struct {
	Type         string               `json:"type"`
	Notification *relayedNotification `json:"notification"`
}

type relayedNotification struct {
	Message string         `json:"message"`
	Seen    bool           `json:"seen"`
	Meta    map[string]any `json:"meta_data"`
}

// Исходящие кадры.

type errorFrame struct {
	Error string `json:"error"`
}

type successFrame struct {
	Success string `json:"success"`
}

// chatFrame — {"message": {...}}: либо сериализованное сообщение,
// либо синтетический конверт события.
type chatFrame struct {
	Message any `json:"message"`
}

type eventEnvelope struct {
	Event  eventBody `json:"event"`
	RoomID string    `json:"room_id"`
}

type eventBody struct {
	Name     string `json:"name"`
	DeleteID string `json:"delete_id"`
}

// NewMessageFrame оборачивает сериализованное сообщение в кадр комнаты.
// Используется и сокетом, и REST-хендлерами при рассылке правок.
func NewMessageFrame(v *service.MessageView) any {
	return chatFrame{Message: v}
}

// NewDeleteFrame — синтетическое событие удаления для комнаты.
func NewDeleteFrame(roomID, deleteID string) any {
	return chatFrame{Message: eventEnvelope{
		Event:  eventBody{Name: "delete", DeleteID: deleteID},
		RoomID: roomID,
	}}
}

// resolveForViewer подставляет message_type относительно зрителя перед
// записью в сокет: одно и то же событие для автора — "sent", для
// собеседника — "received". Работает и для типизированных событий,
// и для сырых JSON, пришедших через шину.
func resolveForViewer(event any, viewerID int64) any {
	switch e := event.(type) {
	case chatFrame:
		if v, ok := e.Message.(*service.MessageView); ok {
			out := *v
			if out.Sender == viewerID {
				out.MessageType = "sent"
			} else {
				out.MessageType = "received"
			}
			return chatFrame{Message: &out}
		}
		return e
	case json.RawMessage:
		return resolveRawForViewer(e, viewerID)
	case []byte:
		return resolveRawForViewer(e, viewerID)
	}
	return event
}

func resolveRawForViewer(raw []byte, viewerID int64) any {
	var frame map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil {
		return json.RawMessage(raw)
	}
	msg, ok := frame["message"].(map[string]any)
	if !ok {
		return json.RawMessage(raw)
	}
	if _, isEvent := msg["event"]; isEvent {
		return json.RawMessage(raw)
	}
	sender, ok := msg["sender"].(float64)
	if !ok {
		return json.RawMessage(raw)
	}
	if int64(sender) == viewerID {
		msg["message_type"] = "sent"
	} else {
		msg["message_type"] = "received"
	}
	return frame
}
