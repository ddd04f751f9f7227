package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cwrk-planet/chat-service/internal/broker"
	"github.com/cwrk-planet/chat-service/internal/domain"
	"github.com/cwrk-planet/chat-service/internal/metrics"
)

type NotificationRepo interface {
	Create(ctx context.Context, n *domain.Notification) error
	Get(ctx context.Context, id string, userID int64) (*domain.Notification, error)
	ListByUser(ctx context.Context, userID int64, onlyUnseen bool) ([]domain.Notification, error)
	MarkSeen(ctx context.Context, id string, userID int64) (*domain.Notification, error)
	Delete(ctx context.Context, id string, userID int64) error
}

type UserGetter interface {
	Get(ctx context.Context, id int64) (*domain.User, error)
}

// DisplayNameFunc — стратегия выбора отображаемого имени получателя.
// Профильные варианты (company/agency) подставляет внешний коллаборатор.
type DisplayNameFunc func(u *domain.User) string

// NotificationEvent — исходящий кадр сокета уведомлений.
type NotificationEvent struct {
	Type string           `json:"type"` // всегда "notification"
	Data NotificationData `json:"data"`
}

type NotificationData struct {
	ID       string          `json:"id"`
	Message  string          `json:"message"`
	Time     string          `json:"time"`
	Seen     bool            `json:"seen"`
	Email    string          `json:"email"`
	FullName string          `json:"full_name"`
	Meta     json.RawMessage `json:"meta_data"`
}

type NotificationService struct {
	repo        NotificationRepo
	users       UserGetter
	broker      broker.Broker
	displayName DisplayNameFunc
}

func NewNotificationService(repo NotificationRepo, users UserGetter, b broker.Broker, displayName DisplayNameFunc) *NotificationService {
	if displayName == nil {
		displayName = func(u *domain.User) string { return u.FullName() }
	}
	return &NotificationService{
		repo:        repo,
		users:       users,
		broker:      b,
		displayName: displayName,
	}
}

// Notify — единая точка входа для бизнес-кода (заказ создан, платёж прошёл).
// Классифицирует текст, сохраняет уведомление и, если получатель активен,
// раздаёт его в персональную группу. Ошибка сохранения возвращается вызывающему;
// падение push-а бизнес-операцию не валит.
func (s *NotificationService) Notify(ctx context.Context, userID int64, message string, sender *domain.User, explicit map[string]any) (*domain.Notification, error) {
	meta := Classify(message, explicit)
	if _, ok := explicit["type"]; !ok && sender != nil {
		meta = withSender(meta, sender)
	}
	return s.deliver(ctx, userID, message, sender, meta, false)
}

// NotifyMeta — то же, но с уже типизированными метаданными (чат-пайплайн
// знает структуру заранее, классификация не нужна).
func (s *NotificationService) NotifyMeta(ctx context.Context, userID int64, message string, sender *domain.User, meta domain.Meta) (*domain.Notification, error) {
	return s.deliver(ctx, userID, message, sender, meta, false)
}

// Relay сохраняет и раздаёт уведомление, присланное самим клиентом по сокету
// (отладочный/внутренний путь).
func (s *NotificationService) Relay(ctx context.Context, userID int64, message string, seen bool, explicit map[string]any) (*domain.Notification, error) {
	return s.deliver(ctx, userID, message, nil, Classify(message, explicit), seen)
}

func (s *NotificationService) deliver(ctx context.Context, userID int64, message string, sender *domain.User, meta domain.Meta, seen bool) (*domain.Notification, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	n := &domain.Notification{
		UserID:  user.ID,
		Message: message,
		Meta:    meta,
		Seen:    seen,
	}
	if sender != nil {
		n.SenderID = &sender.ID
	}
	if err := s.repo.Create(ctx, n); err != nil {
		slog.Error("notification.deliver.Create:", slog.Any("err", err))
		return nil, err
	}
	metrics.NotificationsCreated.WithLabelValues(string(meta.Type())).Inc()

	// неактивному пользователю не пушим: уведомление дождётся его в базе
	if user.IsActive {
		s.push(ctx, user, n)
	}

	return n, nil
}

func (s *NotificationService) push(ctx context.Context, user *domain.User, n *domain.Notification) {
	rawMeta, err := domain.EncodeMeta(n.Meta)
	if err != nil {
		slog.Error("notification.push.EncodeMeta:", slog.Any("err", err))
		rawMeta = []byte("null")
	}
	s.broker.Broadcast(ctx, NotificationsGroup(user.ID), NotificationEvent{
		Type: "notification",
		Data: NotificationData{
			ID:       n.ID,
			Message:  n.Message,
			Time:     n.CreatedAt.Format(time.RFC3339),
			Seen:     n.Seen,
			Email:    user.Email,
			FullName: s.displayName(user),
			Meta:     rawMeta,
		},
	})
	metrics.NotificationsPushed.Inc()
}

func (s *NotificationService) List(ctx context.Context, userID int64, onlyUnseen bool) ([]domain.Notification, error) {
	return s.repo.ListByUser(ctx, userID, onlyUnseen)
}

func (s *NotificationService) MarkSeen(ctx context.Context, id string, userID int64) (*domain.Notification, error) {
	return s.repo.MarkSeen(ctx, id, userID)
}

func (s *NotificationService) Delete(ctx context.Context, id string, userID int64) error {
	return s.repo.Delete(ctx, id, userID)
}

// Classify выводит типизированные метаданные из текста и явных данных.
// Явный дискриминатор побеждает и проходит без изменений. Иначе — скан
// по упорядоченному списку ключевых слов, первое совпадение выигрывает.
// Сопоставление по подстроке сохранено как в исходном поведении, менять
// семантику нельзя: на неё завязаны существующие вызывающие.
func Classify(text string, explicit map[string]any) domain.Meta {
	if explicit != nil {
		if _, ok := explicit["type"]; ok {
			if raw, err := json.Marshal(explicit); err == nil {
				if m, err := domain.DecodeMeta(raw); err == nil && m != nil {
					return m
				}
			}
		}
	}

	upper := strings.ToUpper(text)
	switch {
	case strings.Contains(upper, "MESSAGE") || strings.Contains(upper, "CHAT"):
		m := domain.ChatMeta{
			ReceiverID: str(explicit, "receiver_id"),
			ChatroomID: str(explicit, "chatroom_id"),
			ChatType:   "direct",
		}
		// chatroom_id восстанавливается из пары, если обе стороны известны
		if m.ChatroomID == "" {
			if s, r := str(explicit, "sender_id"), str(explicit, "receiver_id"); s != "" && r != "" {
				sid, serr := strconv.ParseInt(s, 10, 64)
				rid, rerr := strconv.ParseInt(r, 10, 64)
				if serr == nil && rerr == nil {
					m.ChatroomID = RoomID(sid, rid)
				}
			}
		}
		return m
	case strings.Contains(upper, "BID"):
		return domain.BidMeta{
			BidID:     str(explicit, "bid_id"),
			ProjectID: str(explicit, "project_id"),
			BidStatus: str(explicit, "bid_status"),
		}
	case strings.Contains(upper, "OFFER"):
		return domain.OfferMeta{
			OfferID:     str(explicit, "offer_id"),
			ProjectID:   str(explicit, "project_id"),
			OfferStatus: str(explicit, "offer_status"),
		}
	case strings.Contains(upper, "ORDER"):
		return domain.OrderMeta{
			OrderID:     str(explicit, "order_id"),
			OrderStatus: str(explicit, "order_status"),
			ProjectID:   str(explicit, "project_id"),
		}
	case strings.Contains(upper, "PROJECT"):
		return domain.ProjectMeta{
			ProjectID:     str(explicit, "project_id"),
			ProjectStatus: str(explicit, "project_status"),
			ProjectType:   str(explicit, "project_type"),
		}
	case strings.Contains(upper, "AGENCY"):
		return domain.AgencyMeta{AgencyID: str(explicit, "agency_id")}
	case strings.Contains(upper, "COMPANY"):
		return domain.CompanyMeta{CompanyID: str(explicit, "company_id")}
	}

	return domain.GeneralMeta{}
}

func str(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	}
	return ""
}

func withSender(m domain.Meta, sender *domain.User) domain.Meta {
	info := domain.SenderInfo{
		SenderID:    strconv.FormatInt(sender.ID, 10),
		SenderEmail: sender.Email,
		SenderName:  sender.FullName(),
	}
	switch v := m.(type) {
	case domain.ChatMeta:
		v.SenderInfo = info
		return v
	case domain.BidMeta:
		v.SenderInfo = info
		return v
	case domain.OfferMeta:
		v.SenderInfo = info
		return v
	case domain.OrderMeta:
		v.SenderInfo = info
		return v
	case domain.ProjectMeta:
		v.SenderInfo = info
		return v
	case domain.AgencyMeta:
		v.SenderInfo = info
		return v
	case domain.CompanyMeta:
		v.SenderInfo = info
		return v
	case domain.GeneralMeta:
		v.SenderInfo = info
		return v
	}
	return m
}
