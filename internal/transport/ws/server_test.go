package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cwrk-planet/chat-service/internal/broker"
	"github.com/cwrk-planet/chat-service/internal/domain"
	"github.com/cwrk-planet/chat-service/internal/service"
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
	users map[int64]*domain.User
}

func (s *stubUsers) Get(_ context.Context, id int64) (*domain.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return u, nil
}

func (s *stubUsers) TouchLastSeen(context.Context, int64) error { return nil }

type sendCall struct {
	in        service.SendInput
	bootstrap bool
}

type stubMessageSvc struct {
	mu        sync.Mutex
	sends     []sendCall
	sendErr   error
	rooms     map[int64][]string
	deleteMsg *domain.Message
	deleteErr error
	nextID    int
}

func (s *stubMessageSvc) Send(_ context.Context, sender *domain.User, in service.SendInput, bootstrap bool) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	s.sends = append(s.sends, sendCall{in: in, bootstrap: bootstrap})
	s.nextID++
	return &domain.Message{
		ID:         fmt.Sprintf("m%d", s.nextID),
		SenderID:   sender.ID,
		ReceiverID: in.ReceiverID,
		Text:       in.Text,
		CreatedAt:  time.Now(),
	}, nil
}

func (s *stubMessageSvc) Delete(context.Context, *domain.User, string) (*domain.Message, error) {
	return s.deleteMsg, s.deleteErr
}

func (s *stubMessageSvc) RoomsForUser(_ context.Context, userID int64) ([]string, error) {
	return s.rooms[userID], nil
}

func (s *stubMessageSvc) View(m *domain.Message, viewerID int64) *service.MessageView {
	v := &service.MessageView{
		ID:       m.ID,
		Sender:   m.SenderID,
		Receiver: m.ReceiverID,
		Message:  m.Text,
		RoomID:   service.RoomID(m.SenderID, m.ReceiverID),
	}
	if m.SenderID == viewerID {
		v.MessageType = "sent"
	} else {
		v.MessageType = "received"
	}
	return v
}

// stubNotifSvc раздаёт relay-уведомление в группу, как настоящий сервис.
type stubNotifSvc struct {
	broker broker.Broker

	mu      sync.Mutex
	relayed []string
}

func (s *stubNotifSvc) Relay(ctx context.Context, userID int64, message string, seen bool, _ map[string]any) (*domain.Notification, error) {
	s.mu.Lock()
	s.relayed = append(s.relayed, message)
	s.mu.Unlock()

	s.broker.Broadcast(ctx, service.NotificationsGroup(userID), service.NotificationEvent{
		Type: "notification",
		Data: service.NotificationData{ID: "n1", Message: message, Seen: seen},
	})
	return &domain.Notification{ID: "n1", UserID: userID, Message: message, Seen: seen}, nil
}

type trackingBroker struct {
	*broker.Inproc

	mu        sync.Mutex
	leaveAlls int
}

func (b *trackingBroker) LeaveAll(s broker.Subscriber) {
	b.mu.Lock()
	b.leaveAlls++
	b.mu.Unlock()
	b.Inproc.LeaveAll(s)
}

func (b *trackingBroker) leaveAllCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.leaveAlls
}

type serverFixture struct {
	srv      *httptest.Server
	broker   *trackingBroker
	messages *stubMessageSvc
	notifs   *stubNotifSvc
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	b := &trackingBroker{Inproc: broker.NewInproc()}
	users := &stubUsers{users: map[int64]*domain.User{
		1: {ID: 1, Email: "alice@example.com", FirstName: "Alice", IsActive: true},
		2: {ID: 2, Email: "bob@example.com", FirstName: "Bob", IsActive: true},
	}}
	verifier := &stubVerifier{tokens: map[string]int64{
		"alice-token": 1,
		"bob-token":   2,
		"ghost-token": 99, // валидный токен без записи пользователя
	}}
	messages := &stubMessageSvc{rooms: map[int64][]string{1: {"room_1_2"}, 2: {"room_1_2"}}}
	notifs := &stubNotifSvc{broker: b}

	s := NewServer(b, verifier, users, messages, notifs, 1024, time.Minute)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/chat", s.HandleChatWS)
	mux.HandleFunc("/ws/notifications", s.HandleNotificationsWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &serverFixture{srv: srv, broker: b, messages: messages, notifs: notifs}
}

func (f *serverFixture) dial(t *testing.T, path, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + path
	if token != "" {
		url += "?token=" + token
	}
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readFrame(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]any
	if err := c.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func TestChatWS_AdmissionRejections(t *testing.T) {
	f := newServerFixture(t)

	cases := []struct {
		name  string
		token string
		want  string
	}{
		{"missing token", "", "token is required"},
		{"bad token", "forged", "invalid token"},
		{"unknown user", "ghost-token", "user not found"},
	}
	for _, tc := range cases {
		c := f.dial(t, "/ws/chat", tc.token)

		frame := readFrame(t, c)
		if frame["error"] != tc.want {
			t.Fatalf("%s: frame=%v, want error %q", tc.name, frame, tc.want)
		}
		// после кадра ошибки сервер закрывает сокет
		_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, _, err := c.ReadMessage(); err == nil {
			t.Fatalf("%s: connection must be closed after rejection", tc.name)
		}
	}
}

func TestChatWS_AdmitSendsSuccessFrame(t *testing.T) {
	f := newServerFixture(t)

	c := f.dial(t, "/ws/chat", "alice-token")
	frame := readFrame(t, c)
	if frame["success"] != "user alice@example.com is subscribed for chat" {
		t.Fatalf("frame=%v", frame)
	}
}

func TestChatWS_SendFansOutPerViewer(t *testing.T) {
	f := newServerFixture(t)

	alice := f.dial(t, "/ws/chat", "alice-token")
	bob := f.dial(t, "/ws/chat", "bob-token")
	readFrame(t, alice) // success
	readFrame(t, bob)

	if err := alice.WriteJSON(map[string]any{"user_id": 2, "message": "hi"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	aliceFrame := readFrame(t, alice)["message"].(map[string]any)
	bobFrame := readFrame(t, bob)["message"].(map[string]any)

	if aliceFrame["message_type"] != "sent" {
		t.Fatalf("sender view: %v", aliceFrame)
	}
	if bobFrame["message_type"] != "received" {
		t.Fatalf("receiver view: %v", bobFrame)
	}
	for _, frame := range []map[string]any{aliceFrame, bobFrame} {
		if frame["message"] != "hi" || frame["room_id"] != "room_1_2" || frame["sender"] != float64(1) {
			t.Fatalf("frame=%v", frame)
		}
	}
}

func TestChatWS_BootstrapOnlyOnFirstFrame(t *testing.T) {
	f := newServerFixture(t)

	alice := f.dial(t, "/ws/chat", "alice-token")
	readFrame(t, alice)

	for _, text := range []string{"first", "second"} {
		if err := alice.WriteJSON(map[string]any{"user_id": 2, "message": text}); err != nil {
			t.Fatalf("write: %v", err)
		}
		readFrame(t, alice)
	}

	f.messages.mu.Lock()
	defer f.messages.mu.Unlock()
	if len(f.messages.sends) != 2 {
		t.Fatalf("sends=%d, want 2", len(f.messages.sends))
	}
	if !f.messages.sends[0].bootstrap || f.messages.sends[1].bootstrap {
		t.Fatalf("bootstrap flags: %v %v", f.messages.sends[0].bootstrap, f.messages.sends[1].bootstrap)
	}
}

func TestChatWS_PipelineErrorsStayOnSocket(t *testing.T) {
	f := newServerFixture(t)
	f.messages.sendErr = domain.ErrReceiverRequired

	alice := f.dial(t, "/ws/chat", "alice-token")
	readFrame(t, alice)

	if err := alice.WriteJSON(map[string]any{"message": "hi"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if frame := readFrame(t, alice); frame["error"] != "user_id is required" {
		t.Fatalf("frame=%v", frame)
	}

	// сокет жив: malformed JSON тоже отвечается кадром, не разрывом
	if err := alice.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	frame := readFrame(t, alice)
	msg, _ := frame["error"].(string)
	if !strings.HasPrefix(msg, "json_decode_error") {
		t.Fatalf("frame=%v", frame)
	}
}

func TestChatWS_DeleteFansOutEvent(t *testing.T) {
	f := newServerFixture(t)
	f.messages.deleteMsg = &domain.Message{ID: "m9", SenderID: 1, ReceiverID: 2, IsDeleted: true}

	alice := f.dial(t, "/ws/chat", "alice-token")
	bob := f.dial(t, "/ws/chat", "bob-token")
	readFrame(t, alice)
	readFrame(t, bob)

	if err := alice.WriteJSON(map[string]any{"delete_id": "m9"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	for _, c := range []*websocket.Conn{alice, bob} {
		msg := readFrame(t, c)["message"].(map[string]any)
		event := msg["event"].(map[string]any)
		if event["name"] != "delete" || event["delete_id"] != "m9" || msg["room_id"] != "room_1_2" {
			t.Fatalf("frame=%v", msg)
		}
	}
}

func TestChatWS_DeleteDeniedForNonSender(t *testing.T) {
	f := newServerFixture(t)
	f.messages.deleteErr = domain.ErrPermissionDenied

	bob := f.dial(t, "/ws/chat", "bob-token")
	readFrame(t, bob)

	if err := bob.WriteJSON(map[string]any{"delete_id": "m9"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if frame := readFrame(t, bob); frame["error"] != "You do not have permission to delete this message." {
		t.Fatalf("frame=%v", frame)
	}
}

func TestChatWS_DisconnectLeavesAllGroups(t *testing.T) {
	f := newServerFixture(t)

	alice := f.dial(t, "/ws/chat", "alice-token")
	readFrame(t, alice)

	_ = alice.Close()

	deadline := time.Now().Add(2 * time.Second)
	for f.broker.leaveAllCalls() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("LeaveAll not called after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNotificationsWS_RelayRoundtrip(t *testing.T) {
	f := newServerFixture(t)

	bob := f.dial(t, "/ws/notifications", "bob-token")

	// кадр неизвестного типа молча игнорируется
	if err := bob.WriteJSON(map[string]any{"type": "ping"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	relay := map[string]any{
		"type":         "send_notification",
		"notification": map[string]any{"message": "order shipped", "seen": false},
	}
	if err := bob.WriteJSON(relay); err != nil {
		t.Fatalf("write: %v", err)
	}

	// первый входящий кадр — уведомление: "ping" не породил ответа
	frame := readFrame(t, bob)
	if frame["type"] != "notification" {
		t.Fatalf("frame=%v", frame)
	}
	data := frame["data"].(map[string]any)
	if data["message"] != "order shipped" {
		t.Fatalf("data=%v", data)
	}

	f.notifs.mu.Lock()
	defer f.notifs.mu.Unlock()
	if len(f.notifs.relayed) != 1 || f.notifs.relayed[0] != "order shipped" {
		t.Fatalf("relayed=%v", f.notifs.relayed)
	}
}

func TestNotificationsWS_RelayWithoutPayload(t *testing.T) {
	f := newServerFixture(t)

	bob := f.dial(t, "/ws/notifications", "bob-token")
	if err := bob.WriteJSON(map[string]any{"type": "send_notification"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if frame := readFrame(t, bob); frame["error"] != "No notification data provided" {
		t.Fatalf("frame=%v", frame)
	}
}

func TestNotificationsWS_ServerPushReachesGroup(t *testing.T) {
	f := newServerFixture(t)

	bob := f.dial(t, "/ws/notifications", "bob-token")

	// relay-эхо подтверждает, что join группы уже состоялся
	relay := map[string]any{
		"type":         "send_notification",
		"notification": map[string]any{"message": "warmup"},
	}
	if err := bob.WriteJSON(relay); err != nil {
		t.Fatalf("write: %v", err)
	}
	readFrame(t, bob)

	f.broker.Broadcast(context.Background(), service.NotificationsGroup(2), service.NotificationEvent{
		Type: "notification",
		Data: service.NotificationData{ID: "n2", Message: "direct push"},
	})

	frame := readFrame(t, bob)
	if frame["type"] != "notification" || frame["data"].(map[string]any)["message"] != "direct push" {
		t.Fatalf("frame=%v", frame)
	}
}
