package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cwrk-planet/chat-service/internal/broker"
	"github.com/cwrk-planet/chat-service/internal/domain"
	"github.com/cwrk-planet/chat-service/internal/metrics"
	"github.com/cwrk-planet/chat-service/internal/service"

	"github.com/gorilla/websocket"
)

type MessageSvc interface {
	Send(ctx context.Context, sender *domain.User, in service.SendInput, bootstrap bool) (*domain.Message, error)
	Delete(ctx context.Context, sender *domain.User, id string) (*domain.Message, error)
	RoomsForUser(ctx context.Context, userID int64) ([]string, error)
	View(m *domain.Message, viewerID int64) *service.MessageView
}

type NotificationSvc interface {
	Relay(ctx context.Context, userID int64, message string, seen bool, explicit map[string]any) (*domain.Notification, error)
}

type UserDirectory interface {
	Get(ctx context.Context, id int64) (*domain.User, error)
	TouchLastSeen(ctx context.Context, id int64) error
}

type TokenVerifier interface {
	ParseAndValidate(token string) (int64, error)
}

type Server struct {
	upgrader    websocket.Upgrader
	broker      broker.Broker
	verifier    TokenVerifier
	users       UserDirectory
	messageSvc  MessageSvc
	notifSvc    NotificationSvc
	pingEvery   time.Duration
	maxFileSize int64
}

func NewServer(b broker.Broker, verifier TokenVerifier, users UserDirectory, msgSvc MessageSvc, notifSvc NotificationSvc, maxFileSize int64, pingEvery time.Duration) *Server {
	if pingEvery <= 0 {
		pingEvery = 15 * time.Second
	}
	return &Server{
		broker:     b,
		verifier:   verifier,
		users:      users,
		messageSvc: msgSvc,
		notifSvc:   notifSvc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pingEvery:   pingEvery,
		maxFileSize: maxFileSize,
	}
}

// admit апгрейдит сокет и проводит двухфазный допуск: принять, проверить
// токен из query, при отказе отдать кадр ошибки и закрыть. Клиент всегда
// получает машиночитаемую причину, а не молчаливый разрыв.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, endpoint string) (*wsConn, *domain.User) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "endpoint", endpoint, "err", err)
		return nil, nil
	}

	c := newWsConn(conn, endpoint)

	reject := func(reason string) {
		c.state = stateRejected
		_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		_ = conn.WriteJSON(errorFrame{Error: reason})
		_ = c.Close()
	}

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		reject("token is required")
		return nil, nil
	}
	uid, err := s.verifier.ParseAndValidate(token)
	if err != nil {
		reject(err.Error())
		return nil, nil
	}
	user, err := s.users.Get(r.Context(), uid)
	if err != nil {
		reject("user not found")
		return nil, nil
	}

	c.userID = user.ID
	c.state = stateAuthenticated

	return c, user
}

// WS endpoint: GET /ws/chat?token=...
func (s *Server) HandleChatWS(w http.ResponseWriter, r *http.Request) {
	c, user := s.admit(w, r, "chat")
	if c == nil {
		return
	}
	metrics.ConnectionsActive.WithLabelValues("chat").Inc()
	defer metrics.ConnectionsActive.WithLabelValues("chat").Dec()

	// догоняем членство: по комнате на каждый существующий чат пользователя
	rooms, err := s.messageSvc.RoomsForUser(r.Context(), user.ID)
	if err != nil {
		slog.Error("ws.chat.RoomsForUser:", slog.Any("err", err))
	}
	for _, roomID := range rooms {
		s.broker.Join(roomID, c)
	}

	_ = c.Send(successFrame{Success: fmt.Sprintf("user %s is subscribed for chat", user.Email)})

	go c.writeLoop(s.pingEvery)
	s.readChatLoop(r.Context(), c, user)

	// сначала выходим из всех групп, потом отпускаем сокет:
	// рассылка не должна попасть в мёртвый хендл
	s.broker.LeaveAll(c)
	_ = c.Close()
}

// WS endpoint: GET /ws/notifications?token=...
func (s *Server) HandleNotificationsWS(w http.ResponseWriter, r *http.Request) {
	c, user := s.admit(w, r, "notifications")
	if c == nil {
		return
	}
	metrics.ConnectionsActive.WithLabelValues("notifications").Inc()
	defer metrics.ConnectionsActive.WithLabelValues("notifications").Dec()

	group := service.NotificationsGroup(user.ID)
	s.broker.Join(group, c)

	go c.writeLoop(s.pingEvery)
	s.readNotificationLoop(r.Context(), c, user)

	s.broker.LeaveAll(c)
	_ = c.Close()
}

// readChatLoop обрабатывает кадры строго по одному в порядке прихода:
// второй кадр того же подключения не начнётся, пока не закончится первый.
func (s *Server) readChatLoop(ctx context.Context, c *wsConn, user *domain.User) {
	defer func() { _ = c.Close() }()

	s.setupReadDeadlines(ctx, c, user)
	firstMessage := true

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var frame inboundChatFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			metrics.FramesReceived.WithLabelValues("invalid").Inc()
			_ = c.Send(errorFrame{Error: "json_decode_error: " + err.Error()})
			continue
		}

		if frame.DeleteID != "" {
			metrics.FramesReceived.WithLabelValues("delete").Inc()
			s.handleDelete(ctx, c, user, frame.DeleteID)
			continue
		}

		metrics.FramesReceived.WithLabelValues("send").Inc()
		if s.handleSend(ctx, c, user, frame, firstMessage) {
			firstMessage = false
		}
	}
}

func (s *Server) handleDelete(ctx context.Context, c *wsConn, user *domain.User, deleteID string) {
	m, err := s.messageSvc.Delete(ctx, user, deleteID)
	if err != nil {
		_ = c.Send(errorFrame{Error: s.errorText(err, inboundChatFrame{DeleteID: deleteID})})
		return
	}

	roomID := service.RoomID(m.SenderID, m.ReceiverID)
	// в комнату уходит событие, не полное сообщение
	s.broker.Broadcast(ctx, roomID, NewDeleteFrame(roomID, m.ID))
}

// handleSend возвращает true, если bootstrap чата состоялся.
func (s *Server) handleSend(ctx context.Context, c *wsConn, user *domain.User, frame inboundChatFrame, bootstrap bool) bool {
	in := service.SendInput{
		ReceiverID:     int64(frame.UserID),
		Text:           frame.Message,
		AttachmentData: frame.AttachmentData,
		MimeType:       frame.MimeType,
		AttachmentName: frame.AttachmentName,
		ReplyTo:        frame.ReplyTo,
	}

	m, err := s.messageSvc.Send(ctx, user, in, bootstrap)
	if err != nil {
		_ = c.Send(errorFrame{Error: s.errorText(err, frame)})
		return false
	}

	view := s.messageSvc.View(m, user.ID)
	// новая комната могла появиться только что — подписываем отправителя
	s.broker.Join(view.RoomID, c)
	s.broker.Broadcast(ctx, view.RoomID, NewMessageFrame(view))

	return true
}

func (s *Server) readNotificationLoop(ctx context.Context, c *wsConn, user *domain.User) {
	defer func() { _ = c.Close() }()

	s.setupReadDeadlines(ctx, c, user)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var frame inboundNotificationFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			metrics.FramesReceived.WithLabelValues("invalid").Inc()
			_ = c.Send(errorFrame{Error: "json_decode_error: " + err.Error()})
			continue
		}
		if frame.Type != "send_notification" {
			continue
		}
		metrics.FramesReceived.WithLabelValues("relay").Inc()
		if frame.Notification == nil {
			_ = c.Send(errorFrame{Error: "No notification data provided"})
			continue
		}
		n := frame.Notification
		if _, err := s.notifSvc.Relay(ctx, user.ID, n.Message, n.Seen, n.Meta); err != nil {
			slog.Error("ws.notifications.Relay:", slog.Any("err", err))
			_ = c.Send(errorFrame{Error: "failed to save notification"})
		}
	}
}

func (s *Server) setupReadDeadlines(ctx context.Context, c *wsConn, user *domain.User) {
	// лимит с запасом на base64-оверхед вложения
	c.conn.SetReadLimit(s.maxFileSize*2 + 64*1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
		_ = s.users.TouchLastSeen(ctx, user.ID)
		return nil
	})
}

// errorText переводит ошибки пайплайна в текст кадра ошибки.
func (s *Server) errorText(err error, frame inboundChatFrame) string {
	switch {
	case errors.Is(err, domain.ErrReceiverRequired),
		errors.Is(err, domain.ErrSelfMessage),
		errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, domain.ErrAttachmentName):
		return err.Error()
	case errors.Is(err, domain.ErrUserNotFound):
		return fmt.Sprintf("user %d not found", int64(frame.UserID))
	case errors.Is(err, domain.ErrAttachmentTooLarge):
		return fmt.Sprintf("file size is too large > %d", s.maxFileSize)
	case errors.Is(err, domain.ErrReplyNotFound):
		return fmt.Sprintf("can't reply to message_id %s as it is not found or doesn't belong to this chat", frame.ReplyTo)
	case errors.Is(err, domain.ErrAttachmentDecode):
		return err.Error()
	case errors.Is(err, domain.ErrPermissionDenied):
		return "You do not have permission to delete this message."
	case errors.Is(err, domain.ErrMessageNotFound):
		return "message not found"
	}
	slog.Error("ws.pipeline:", slog.Any("err", err))
	return "internal error"
}
