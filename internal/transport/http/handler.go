package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cwrk-planet/chat-service/internal/broker"
	"github.com/cwrk-planet/chat-service/internal/domain"
	"github.com/cwrk-planet/chat-service/internal/postgres"
	"github.com/cwrk-planet/chat-service/internal/service"
	httpmw "github.com/cwrk-planet/chat-service/internal/transport/http/middleware"
	"github.com/cwrk-planet/chat-service/internal/transport/ws"

	"github.com/go-chi/chi/v5"
)

type MessageSvc interface {
	ListChats(ctx context.Context, userID int64) ([]domain.Chat, error)
	GetOrCreateOfferChat(ctx context.Context, user1, user2 *domain.User, offerID int64) (*domain.Chat, error)
	History(ctx context.Context, userID, peerID int64, after string, limit int) ([]domain.Message, string, error)
	Edit(ctx context.Context, sender *domain.User, id, text string) (*domain.Message, error)
	Delete(ctx context.Context, sender *domain.User, id string) (*domain.Message, error)
	View(m *domain.Message, viewerID int64) *service.MessageView
}

type NotificationSvc interface {
	List(ctx context.Context, userID int64, onlyUnseen bool) ([]domain.Notification, error)
	MarkSeen(ctx context.Context, id string, userID int64) (*domain.Notification, error)
	Delete(ctx context.Context, id string, userID int64) error
}

type UserGetter interface {
	Get(ctx context.Context, id int64) (*domain.User, error)
}

type Handler struct {
	messageSvc MessageSvc
	notifSvc   NotificationSvc
	users      UserGetter
	broker     broker.Broker
}

func NewHandler(msgSvc MessageSvc, notifSvc NotificationSvc, users UserGetter, b broker.Broker) *Handler {
	return &Handler{
		messageSvc: msgSvc,
		notifSvc:   notifSvc,
		users:      users,
		broker:     b,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) currentUser(r *http.Request) (*domain.User, error) {
	return h.users.Get(r.Context(), httpmw.UserIDFromCtx(r.Context()))
}

// GET /chats
func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	userID := httpmw.UserIDFromCtx(r.Context())
	chats, err := h.messageSvc.ListChats(r.Context(), userID)
	if err != nil {
		slog.Error("handler.ListChats:", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	resp := ChatsListResponse{Items: make([]ChatItem, 0, len(chats))}
	for _, c := range chats {
		roomID := service.RoomID(c.SenderID, c.ReceiverID)
		if c.OfferID != nil {
			roomID = service.ContextualRoomID(c.SenderID, c.ReceiverID, *c.OfferID)
		}
		resp.Items = append(resp.Items, ChatItem{
			ID:        c.ID,
			Sender:    c.SenderID,
			Receiver:  c.ReceiverID,
			OfferID:   c.OfferID,
			RoomID:    roomID,
			CreatedAt: c.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /chats/offer
func (h *Handler) CreateOfferChat(w http.ResponseWriter, r *http.Request) {
	user, err := h.currentUser(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "user not found"})
		return
	}
	var req CreateOfferChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}
	peer, err := h.users.Get(r.Context(), req.PeerID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "user not found"})
		return
	}

	c, err := h.messageSvc.GetOrCreateOfferChat(r.Context(), user, peer, req.OfferID)
	if err != nil {
		if errors.Is(err, domain.ErrOfferChatClosed) {
			writeJSON(w, http.StatusForbidden, ErrorResponse{Error: err.Error()})
			return
		}
		slog.Error("handler.CreateOfferChat:", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, ChatItem{
		ID:        c.ID,
		Sender:    c.SenderID,
		Receiver:  c.ReceiverID,
		OfferID:   c.OfferID,
		RoomID:    service.ContextualRoomID(c.SenderID, c.ReceiverID, req.OfferID),
		CreatedAt: c.CreatedAt,
	})
}

// GET /chats/{peerID}/messages?after=&limit=
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID := httpmw.UserIDFromCtx(r.Context())
	peerID, err := strconv.ParseInt(chi.URLParam(r, "peerID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid peer id"})
		return
	}
	after := r.URL.Query().Get("after")
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}

	items, next, err := h.messageSvc.History(r.Context(), userID, peerID, after, limit)
	if err != nil {
		if errors.Is(err, postgres.ErrInvalidCursor) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_cursor"})
			return
		}
		slog.Error("handler.GetMessages:", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	resp := MessagesResponse{Items: make([]*service.MessageView, 0, len(items)), NextCursor: next}
	for i := range items {
		resp.Items = append(resp.Items, h.messageSvc.View(&items[i], userID))
	}
	writeJSON(w, http.StatusOK, resp)
}

// PATCH /messages/{id}
func (h *Handler) UpdateMessage(w http.ResponseWriter, r *http.Request) {
	user, err := h.currentUser(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "user not found"})
		return
	}
	var req UpdateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}

	m, err := h.messageSvc.Edit(r.Context(), user, chi.URLParam(r, "id"), req.Message)
	if err != nil {
		h.writeMessageError(w, err)
		return
	}

	view := h.messageSvc.View(m, user.ID)
	// отредактированное сообщение уходит и в комнату
	h.broker.Broadcast(r.Context(), view.RoomID, ws.NewMessageFrame(view))

	writeJSON(w, http.StatusOK, view)
}

// DELETE /messages/{id}
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	user, err := h.currentUser(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "user not found"})
		return
	}

	m, err := h.messageSvc.Delete(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		h.writeMessageError(w, err)
		return
	}

	roomID := service.RoomID(m.SenderID, m.ReceiverID)
	h.broker.Broadcast(r.Context(), roomID, ws.NewDeleteFrame(roomID, m.ID))

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeMessageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrMessageNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "message not found"})
	case errors.Is(err, domain.ErrPermissionDenied):
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "permission denied"})
	case errors.Is(err, domain.ErrEmptyMessage):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "field 'message' is required"})
	default:
		slog.Error("handler.message:", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
}

// GET /notifications
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	h.listNotifications(w, r, false)
}

// GET /notifications/unseen
func (h *Handler) ListUnseenNotifications(w http.ResponseWriter, r *http.Request) {
	h.listNotifications(w, r, true)
}

func (h *Handler) listNotifications(w http.ResponseWriter, r *http.Request, onlyUnseen bool) {
	userID := httpmw.UserIDFromCtx(r.Context())
	items, err := h.notifSvc.List(r.Context(), userID, onlyUnseen)
	if err != nil {
		slog.Error("handler.ListNotifications:", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	resp := NotificationsResponse{Items: make([]NotificationItem, 0, len(items))}
	for _, n := range items {
		item, err := notificationItem(n)
		if err != nil {
			slog.Error("handler.ListNotifications.Encode:", slog.Any("err", err))
			continue
		}
		resp.Items = append(resp.Items, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /notifications/{id}/seen
func (h *Handler) MarkNotificationSeen(w http.ResponseWriter, r *http.Request) {
	userID := httpmw.UserIDFromCtx(r.Context())
	n, err := h.notifSvc.MarkSeen(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotificationNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "notification not found"})
			return
		}
		slog.Error("handler.MarkNotificationSeen:", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	item, err := notificationItem(*n)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// DELETE /notifications/{id}
func (h *Handler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	userID := httpmw.UserIDFromCtx(r.Context())
	if err := h.notifSvc.Delete(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		if errors.Is(err, domain.ErrNotificationNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "notification not found"})
			return
		}
		slog.Error("handler.DeleteNotification:", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func notificationItem(n domain.Notification) (NotificationItem, error) {
	meta, err := domain.EncodeMeta(n.Meta)
	if err != nil {
		return NotificationItem{}, err
	}
	return NotificationItem{
		ID:       n.ID,
		SenderID: n.SenderID,
		Message:  n.Message,
		Time:     n.CreatedAt,
		Seen:     n.Seen,
		Meta:     meta,
	}, nil
}
