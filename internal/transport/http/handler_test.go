package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cwrk-planet/chat-service/internal/broker"
	"github.com/cwrk-planet/chat-service/internal/domain"
	"github.com/cwrk-planet/chat-service/internal/postgres"
	"github.com/cwrk-planet/chat-service/internal/service"
	"github.com/cwrk-planet/chat-service/internal/transport/ws"
)

type stubVerifier struct {
	tokens map[string]int64
}

func (v *stubVerifier) ParseAndValidate(token string) (int64, error) {
	if id, ok := v.tokens[token]; ok {
		return id, nil
	}
	return 0, errors.New("invalid token")
}

type stubUsers struct {
	users   map[int64]*domain.User
	touched int
}

func (s *stubUsers) Get(_ context.Context, id int64) (*domain.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return u, nil
}

func (s *stubUsers) TouchLastSeen(context.Context, int64) error {
	s.touched++
	return nil
}

type stubMsgSvc struct {
	chats      []domain.Chat
	history    []domain.Message
	historyErr error
	editMsg    *domain.Message
	editErr    error
	deleteMsg  *domain.Message
	deleteErr  error
}

func (s *stubMsgSvc) ListChats(context.Context, int64) ([]domain.Chat, error) {
	return s.chats, nil
}

func (s *stubMsgSvc) GetOrCreateOfferChat(_ context.Context, u1, u2 *domain.User, offerID int64) (*domain.Chat, error) {
	return &domain.Chat{ID: "c1", SenderID: u1.ID, ReceiverID: u2.ID, OfferID: &offerID}, nil
}

func (s *stubMsgSvc) History(context.Context, int64, int64, string, int) ([]domain.Message, string, error) {
	return s.history, "", s.historyErr
}

func (s *stubMsgSvc) Edit(context.Context, *domain.User, string, string) (*domain.Message, error) {
	return s.editMsg, s.editErr
}

func (s *stubMsgSvc) Delete(context.Context, *domain.User, string) (*domain.Message, error) {
	return s.deleteMsg, s.deleteErr
}

func (s *stubMsgSvc) View(m *domain.Message, viewerID int64) *service.MessageView {
	v := &service.MessageView{
		ID:        m.ID,
		Sender:    m.SenderID,
		Receiver:  m.ReceiverID,
		Message:   m.Text,
		IsDeleted: m.IsDeleted,
		IsEdited:  m.IsEdited,
		RoomID:    service.RoomID(m.SenderID, m.ReceiverID),
	}
	if m.SenderID == viewerID {
		v.MessageType = "sent"
	} else {
		v.MessageType = "received"
	}
	return v
}

type stubNotifSvc struct {
	items       []domain.Notification
	markSeenErr error
	deleteErr   error
}

func (s *stubNotifSvc) List(context.Context, int64, bool) ([]domain.Notification, error) {
	return s.items, nil
}

func (s *stubNotifSvc) MarkSeen(context.Context, string, int64) (*domain.Notification, error) {
	if s.markSeenErr != nil {
		return nil, s.markSeenErr
	}
	n := s.items[0]
	n.Seen = true
	return &n, nil
}

func (s *stubNotifSvc) Delete(context.Context, string, int64) error {
	return s.deleteErr
}

type sentEvent struct {
	group string
	event any
}

type recordingBroker struct {
	events []sentEvent
}

func (b *recordingBroker) Join(string, broker.Subscriber)  {}
func (b *recordingBroker) Leave(string, broker.Subscriber) {}
func (b *recordingBroker) LeaveAll(broker.Subscriber)      {}
func (b *recordingBroker) Close() error                    { return nil }

func (b *recordingBroker) Broadcast(_ context.Context, groupID string, event any) {
	b.events = append(b.events, sentEvent{group: groupID, event: event})
}

type stubSockets struct{}

func (stubSockets) HandleChatWS(w http.ResponseWriter, _ *http.Request)          { w.WriteHeader(200) }
func (stubSockets) HandleNotificationsWS(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) }

type handlerFixture struct {
	router   http.Handler
	msgSvc   *stubMsgSvc
	notifSvc *stubNotifSvc
	users    *stubUsers
	broker   *recordingBroker
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	users := &stubUsers{users: map[int64]*domain.User{
		1: {ID: 1, Email: "alice@example.com", FirstName: "Alice", IsActive: true},
	}}
	verifier := &stubVerifier{tokens: map[string]int64{"alice-token": 1}}
	msgSvc := &stubMsgSvc{}
	notifSvc := &stubNotifSvc{}
	b := &recordingBroker{}

	h := NewHandler(msgSvc, notifSvc, users, b)
	return &handlerFixture{
		router:   NewRouter(h, verifier, users, stubSockets{}, t.TempDir()),
		msgSvc:   msgSvc,
		notifSvc: notifSvc,
		users:    users,
		broker:   b,
	}
}

func (f *handlerFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer alice-token")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestRouter_AuthRequired(t *testing.T) {
	f := newHandlerFixture(t)

	for _, header := range []string{"", "Basic abc", "Bearer forged"} {
		req := httptest.NewRequest(http.MethodGet, "/chats", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: status=%d, want 401", header, rec.Code)
		}
	}
}

func TestRouter_HeartbeatTouchesLastSeen(t *testing.T) {
	f := newHandlerFixture(t)

	if rec := f.do(t, http.MethodGet, "/chats", nil); rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if f.users.touched == 0 {
		t.Fatalf("last_seen not touched on authenticated request")
	}
}

func TestListChats_RoomIDs(t *testing.T) {
	f := newHandlerFixture(t)
	offerID := int64(7)
	f.msgSvc.chats = []domain.Chat{
		{ID: "c1", SenderID: 2, ReceiverID: 1, CreatedAt: time.Now()},
		{ID: "c2", SenderID: 1, ReceiverID: 3, OfferID: &offerID, CreatedAt: time.Now()},
	}

	rec := f.do(t, http.MethodGet, "/chats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body)
	}
	var resp ChatsListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Items[0].RoomID != "room_1_2" || resp.Items[1].RoomID != "room_1_3_offer_7" {
		t.Fatalf("rooms: %+v", resp.Items)
	}
}

func TestUpdateMessage_BroadcastsEditedView(t *testing.T) {
	f := newHandlerFixture(t)
	f.msgSvc.editMsg = &domain.Message{ID: "m1", SenderID: 1, ReceiverID: 2, Text: "edited", IsEdited: true}

	rec := f.do(t, http.MethodPatch, "/messages/m1", UpdateMessageRequest{Message: "edited"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body)
	}
	var view service.MessageView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Message != "edited" || !view.IsEdited || view.MessageType != "sent" {
		t.Fatalf("view: %+v", view)
	}

	if len(f.broker.events) != 1 || f.broker.events[0].group != "room_1_2" {
		t.Fatalf("broadcasts: %+v", f.broker.events)
	}
}

func TestUpdateMessage_Forbidden(t *testing.T) {
	f := newHandlerFixture(t)
	f.msgSvc.editErr = domain.ErrPermissionDenied

	rec := f.do(t, http.MethodPatch, "/messages/m1", UpdateMessageRequest{Message: "hack"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status=%d", rec.Code)
	}
	if len(f.broker.events) != 0 {
		t.Fatalf("nothing should be broadcast on failure")
	}
}

func TestDeleteMessage_NoContentAndDeleteEvent(t *testing.T) {
	f := newHandlerFixture(t)
	f.msgSvc.deleteMsg = &domain.Message{ID: "m1", SenderID: 1, ReceiverID: 2, IsDeleted: true}

	rec := f.do(t, http.MethodDelete, "/messages/m1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status=%d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("204 must carry no body, got %q", rec.Body)
	}
	if len(f.broker.events) != 1 || f.broker.events[0].group != "room_1_2" {
		t.Fatalf("broadcasts: %+v", f.broker.events)
	}
	if f.broker.events[0].event != ws.NewDeleteFrame("room_1_2", "m1") {
		t.Fatalf("event: %+v", f.broker.events[0].event)
	}
}

func TestGetMessages_InvalidCursor(t *testing.T) {
	f := newHandlerFixture(t)
	f.msgSvc.historyErr = fmt.Errorf("decode cursor: %w", postgres.ErrInvalidCursor)

	rec := f.do(t, http.MethodGet, "/chats/2/messages?after=garbage", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error != "invalid_cursor" {
		t.Fatalf("error=%q", resp.Error)
	}
}

func TestNotificationEndpoints(t *testing.T) {
	f := newHandlerFixture(t)
	f.notifSvc.items = []domain.Notification{{
		ID:        "n1",
		UserID:    1,
		Message:   "Your order #42 shipped",
		Meta:      domain.OrderMeta{OrderID: "42"},
		CreatedAt: time.Now(),
	}}

	rec := f.do(t, http.MethodGet, "/notifications", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body)
	}
	var resp NotificationsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].ID != "n1" {
		t.Fatalf("items: %+v", resp.Items)
	}
	var meta map[string]any
	if err := json.Unmarshal(resp.Items[0].Meta, &meta); err != nil {
		t.Fatalf("decode meta: %v", err)
	}
	if meta["type"] != "order" || meta["order_id"] != "42" {
		t.Fatalf("meta: %v", meta)
	}

	if rec := f.do(t, http.MethodPost, "/notifications/n1/seen", nil); rec.Code != http.StatusOK {
		t.Fatalf("seen: status=%d", rec.Code)
	}

	f.notifSvc.deleteErr = domain.ErrNotificationNotFound
	if rec := f.do(t, http.MethodDelete, "/notifications/n404", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("delete: status=%d", rec.Code)
	}
}
