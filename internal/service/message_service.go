package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/cwrk-planet/chat-service/internal/domain"
	"github.com/cwrk-planet/chat-service/internal/metrics"
)

type MessageRepo interface {
	Create(ctx context.Context, m *domain.Message) error
	Get(ctx context.Context, id string) (*domain.Message, error)
	GetInConversation(ctx context.Context, id string, a, b int64) (*domain.Message, error)
	SetDeleted(ctx context.Context, id string) error
	UpdateText(ctx context.Context, id, text string) error
	History(ctx context.Context, a, b int64, after string, limit int) ([]domain.Message, string, error)
}

type ChatRepo interface {
	GetOrCreate(ctx context.Context, senderID, receiverID int64) (*domain.Chat, bool, error)
	GetOrCreateOffer(ctx context.Context, senderID, receiverID, offerID int64) (*domain.Chat, bool, error)
	ListByUser(ctx context.Context, userID int64) ([]domain.Chat, error)
}

type Notifier interface {
	NotifyMeta(ctx context.Context, userID int64, message string, sender *domain.User, meta domain.Meta) (*domain.Notification, error)
}

type AttachmentStore interface {
	Save(data []byte, name string) (string, error)
	URL(path string) string
}

// OfferGate проверяет, что оффер в статусе, допускающем чат.
// Статусы заказов живут у внешнего коллаборатора, не здесь.
type OfferGate func(ctx context.Context, offerID int64) error

type MessageService struct {
	messages    MessageRepo
	chats       ChatRepo
	users       UserGetter
	notifier    Notifier
	store       AttachmentStore
	maxFileSize int64
	offerGate   OfferGate
}

func NewMessageService(
	messages MessageRepo,
	chats ChatRepo,
	users UserGetter,
	notifier Notifier,
	store AttachmentStore,
	maxFileSize int64,
	offerGate OfferGate,
) *MessageService {
	return &MessageService{
		messages:    messages,
		chats:       chats,
		users:       users,
		notifier:    notifier,
		store:       store,
		maxFileSize: maxFileSize,
		offerGate:   offerGate,
	}
}

type SendInput struct {
	ReceiverID     int64
	Text           string
	AttachmentData string // "mime,base64"
	MimeType       string
	AttachmentName string
	ReplyTo        string
}

// Send прогоняет кадр отправки через пайплайн: валидация, bootstrap чата,
// reply-уведомление, сохранение вложения и записи, уведомление получателя.
// Рассылку в комнату делает транспорт после успешного возврата.
func (s *MessageService) Send(ctx context.Context, sender *domain.User, in SendInput, bootstrap bool) (*domain.Message, error) {
	if in.ReceiverID == 0 {
		return nil, domain.ErrReceiverRequired
	}
	if in.ReceiverID == sender.ID {
		return nil, domain.ErrSelfMessage
	}
	receiver, err := s.users.Get(ctx, in.ReceiverID)
	if err != nil {
		return nil, err
	}
	if in.AttachmentData != "" && in.AttachmentName == "" {
		return nil, domain.ErrAttachmentName
	}
	if in.AttachmentData != "" && estimateBase64Size(payloadPart(in.AttachmentData)) > s.maxFileSize {
		return nil, domain.ErrAttachmentTooLarge
	}
	if in.AttachmentData == "" && strings.TrimSpace(in.Text) == "" {
		return nil, domain.ErrEmptyMessage
	}

	// запись-дедупликатор пары: цена только первого сообщения
	if bootstrap {
		if _, _, err := s.chats.GetOrCreate(ctx, sender.ID, receiver.ID); err != nil {
			return nil, fmt.Errorf("chat bootstrap: %w", err)
		}
	}

	var replyTo *string
	if in.ReplyTo != "" {
		replyObj, err := s.messages.GetInConversation(ctx, in.ReplyTo, sender.ID, receiver.ID)
		if err != nil {
			if err == domain.ErrMessageNotFound {
				return nil, domain.ErrReplyNotFound
			}
			return nil, err
		}
		// ответ на чужое сообщение — уведомляем его автора
		if replyObj.SenderID != sender.ID {
			author, err := s.users.Get(ctx, replyObj.SenderID)
			if err == nil {
				_, _ = s.notifier.NotifyMeta(ctx, author.ID,
					notificationText(sender.FullName(), "replied to your message: "+truncate(replyObj.Text, 50)),
					sender,
					domain.ChatMeta{
						SenderInfo: domain.SenderInfo{SenderID: strconv.FormatInt(sender.ID, 10)},
						ReceiverID: strconv.FormatInt(author.ID, 10),
						ChatroomID: RoomID(sender.ID, author.ID),
					})
			}
		}
		replyTo = &replyObj.ID
	}

	m := &domain.Message{
		SenderID:   sender.ID,
		ReceiverID: receiver.ID,
		Text:       in.Text,
		ReplyTo:    replyTo,
	}

	if in.AttachmentData != "" {
		mimeType, data, err := decodeAttachment(in.AttachmentData, in.MimeType)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrAttachmentDecode, err)
		}
		path, err := s.store.Save(data, in.AttachmentName)
		if err != nil {
			return nil, err
		}
		m.AttachmentPath = &path
		m.MimeType = &mimeType
		m.AttachmentName = &in.AttachmentName
	}

	if err := s.messages.Create(ctx, m); err != nil {
		return nil, err
	}
	metrics.MessagesSent.Inc()

	roomID := RoomID(sender.ID, receiver.ID)
	_, _ = s.notifier.NotifyMeta(ctx, receiver.ID,
		notificationText(sender.FullName(), in.Text),
		sender,
		domain.ChatMeta{
			SenderInfo: domain.SenderInfo{SenderID: strconv.FormatInt(sender.ID, 10)},
			ReceiverID: strconv.FormatInt(receiver.ID, 10),
			ChatroomID: roomID,
			ChatType:   "direct",
		})

	return m, nil
}

// Delete — мягкое удаление. Только автор; повторное удаление идемпотентно.
func (s *MessageService) Delete(ctx context.Context, sender *domain.User, id string) (*domain.Message, error) {
	m, err := s.messages.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.SenderID != sender.ID {
		return nil, domain.ErrPermissionDenied
	}
	if m.IsDeleted {
		return m, nil
	}
	if err := s.messages.SetDeleted(ctx, id); err != nil {
		return nil, err
	}
	m.IsDeleted = true
	metrics.MessagesDeleted.Inc()

	roomID := RoomID(m.SenderID, m.ReceiverID)
	_, _ = s.notifier.NotifyMeta(ctx, m.ReceiverID,
		notificationText(sender.FullName(), "A message was deleted in your chat."),
		sender,
		domain.ChatMeta{
			SenderInfo: domain.SenderInfo{SenderID: strconv.FormatInt(sender.ID, 10)},
			ReceiverID: strconv.FormatInt(m.ReceiverID, 10),
			ChatroomID: roomID,
			ChatType:   "direct",
		})

	return m, nil
}

// Edit меняет текст сообщения. Только автор; удалённое не редактируется.
func (s *MessageService) Edit(ctx context.Context, sender *domain.User, id, text string) (*domain.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.ErrEmptyMessage
	}
	m, err := s.messages.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.IsDeleted {
		return nil, domain.ErrMessageNotFound
	}
	if m.SenderID != sender.ID {
		return nil, domain.ErrPermissionDenied
	}
	if err := s.messages.UpdateText(ctx, id, text); err != nil {
		return nil, err
	}
	m.Text = text
	m.IsEdited = true

	return m, nil
}

func (s *MessageService) History(ctx context.Context, userID, peerID int64, after string, limit int) ([]domain.Message, string, error) {
	return s.messages.History(ctx, userID, peerID, after, limit)
}

func (s *MessageService) ListChats(ctx context.Context, userID int64) ([]domain.Chat, error) {
	return s.chats.ListByUser(ctx, userID)
}

// GetOrCreateOfferChat — чат в контексте оффера; допуск проверяет гейт
// внешнего коллаборатора (статус accepted/negotiation).
func (s *MessageService) GetOrCreateOfferChat(ctx context.Context, user1, user2 *domain.User, offerID int64) (*domain.Chat, error) {
	if s.offerGate != nil {
		if err := s.offerGate(ctx, offerID); err != nil {
			return nil, err
		}
	}
	c, _, err := s.chats.GetOrCreateOffer(ctx, user1.ID, user2.ID, offerID)
	return c, err
}

// RoomsForUser — комнаты всех существующих чатов пользователя;
// так подключение «догоняет» членство без отдельных subscribe.
func (s *MessageService) RoomsForUser(ctx context.Context, userID int64) ([]string, error) {
	chats, err := s.chats.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	rooms := make([]string, 0, len(chats))
	seen := make(map[string]struct{}, len(chats))
	for _, c := range chats {
		var roomID string
		if c.OfferID != nil {
			roomID = ContextualRoomID(c.SenderID, c.ReceiverID, *c.OfferID)
		} else {
			roomID = RoomID(c.SenderID, c.ReceiverID)
		}
		if _, ok := seen[roomID]; ok {
			continue
		}
		seen[roomID] = struct{}{}
		rooms = append(rooms, roomID)
	}
	return rooms, nil
}

// View собирает сериализованное представление сообщения для конкретного
// зрителя: message_type зависит от того, кто смотрит.
func (s *MessageService) View(m *domain.Message, viewerID int64) *MessageView {
	v := &MessageView{
		ID:        m.ID,
		Sender:    m.SenderID,
		Receiver:  m.ReceiverID,
		Message:   m.Text,
		Timestamp: m.CreatedAt,
		ReplyTo:   m.ReplyTo,
		IsRead:    m.IsRead,
		IsDeleted: m.IsDeleted,
		IsEdited:  m.IsEdited,
		RoomID:    RoomID(m.SenderID, m.ReceiverID),
	}
	if m.IsDeleted {
		v.Message = ""
	}
	if m.SenderID == viewerID {
		v.MessageType = "sent"
	} else {
		v.MessageType = "received"
	}
	if m.HasAttachment() {
		url := s.store.URL(*m.AttachmentPath)
		v.AttachmentURL = &url
		v.AttachmentName = m.AttachmentName
		v.MimeType = m.MimeType
	}
	return v
}

// decodeAttachment разбирает "mime,base64" и декодирует данные.
func decodeAttachment(raw, fallbackMime string) (string, []byte, error) {
	mimeType := fallbackMime
	payload := raw
	if i := strings.IndexByte(raw, ','); i >= 0 {
		mimeType = strings.TrimSpace(raw[:i])
		payload = raw[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, err
	}
	return mimeType, data, nil
}

func payloadPart(raw string) string {
	if i := strings.IndexByte(raw, ','); i >= 0 {
		return raw[i+1:]
	}
	return raw
}

// estimateBase64Size — дешёвая оценка размера по длине base64, без декодирования.
func estimateBase64Size(b64 string) int64 {
	compact := strings.Join(strings.Fields(b64), "")
	padding := int64(strings.Count(compact, "="))
	return int64(len(compact))*3/4 - padding
}

// notificationText — единый формат текста чат-уведомлений; клиенты
// различают их по префиксу "New message from".
func notificationText(senderName, body string) string {
	return "New message from " + senderName + ": " + truncate(body, 50) + "..."
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
