package domain

import (
	"encoding/json"
	"fmt"
)

type MetaType string

const (
	MetaChat    MetaType = "chat"
	MetaBid     MetaType = "bid"
	MetaOffer   MetaType = "offer"
	MetaOrder   MetaType = "order"
	MetaProject MetaType = "project"
	MetaAgency  MetaType = "agency_profile"
	MetaCompany MetaType = "company_profile"
	MetaGeneral MetaType = "general"
)

// Meta — метаданные уведомления. Форма зависит от дискриминатора type,
// поэтому каждая категория — отдельный вариант со своими полями.
type Meta interface {
	Type() MetaType
}

// SenderInfo — общие поля об отправителе, publisher добавляет их в любой вариант.
type SenderInfo struct {
	SenderID    string `json:"sender_id,omitempty"`
	SenderEmail string `json:"sender_email,omitempty"`
	SenderName  string `json:"sender_name,omitempty"`
}

type ChatMeta struct {
	SenderInfo
	ReceiverID string `json:"receiver_id,omitempty"`
	ChatroomID string `json:"chatroom_id,omitempty"`
	ChatType   string `json:"chat_type,omitempty"`
}

type BidMeta struct {
	SenderInfo
	BidID     string `json:"bid_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	BidStatus string `json:"bid_status,omitempty"`
}

type OfferMeta struct {
	SenderInfo
	OfferID     string `json:"offer_id,omitempty"`
	ProjectID   string `json:"project_id,omitempty"`
	OfferStatus string `json:"offer_status,omitempty"`
}

type OrderMeta struct {
	SenderInfo
	OrderID     string `json:"order_id,omitempty"`
	OrderStatus string `json:"order_status,omitempty"`
	ProjectID   string `json:"project_id,omitempty"`
}

type ProjectMeta struct {
	SenderInfo
	ProjectID     string `json:"project_id,omitempty"`
	ProjectStatus string `json:"project_status,omitempty"`
	ProjectType   string `json:"project_type,omitempty"`
}

type AgencyMeta struct {
	SenderInfo
	AgencyID string `json:"agency_id,omitempty"`
}

type CompanyMeta struct {
	SenderInfo
	CompanyID string `json:"company_id,omitempty"`
}

type GeneralMeta struct {
	SenderInfo
}

func (ChatMeta) Type() MetaType    { return MetaChat }
func (BidMeta) Type() MetaType     { return MetaBid }
func (OfferMeta) Type() MetaType   { return MetaOffer }
func (OrderMeta) Type() MetaType   { return MetaOrder }
func (ProjectMeta) Type() MetaType { return MetaProject }
func (AgencyMeta) Type() MetaType  { return MetaAgency }
func (CompanyMeta) Type() MetaType { return MetaCompany }
func (GeneralMeta) Type() MetaType { return MetaGeneral }

// EncodeMeta сериализует вариант в плоский JSON-объект с тегом type.
func EncodeMeta(m Meta) ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode meta: %w", err)
	}
	var flat map[string]any
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("encode meta: %w", err)
	}
	flat["type"] = string(m.Type())

	return json.Marshal(flat)
}

// DecodeMeta восстанавливает вариант по тегу type. Неизвестный или
// отсутствующий тег трактуется как general.
func DecodeMeta(data []byte) (Meta, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var probe struct {
		Type MetaType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode meta: %w", err)
	}

	var m Meta
	switch probe.Type {
	case MetaChat:
		m = &ChatMeta{}
	case MetaBid:
		m = &BidMeta{}
	case MetaOffer:
		m = &OfferMeta{}
	case MetaOrder:
		m = &OrderMeta{}
	case MetaProject:
		m = &ProjectMeta{}
	case MetaAgency:
		m = &AgencyMeta{}
	case MetaCompany:
		m = &CompanyMeta{}
	default:
		m = &GeneralMeta{}
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode meta: %w", err)
	}

	return deref(m), nil
}

func deref(m Meta) Meta {
	switch v := m.(type) {
	case *ChatMeta:
		return *v
	case *BidMeta:
		return *v
	case *OfferMeta:
		return *v
	case *OrderMeta:
		return *v
	case *ProjectMeta:
		return *v
	case *AgencyMeta:
		return *v
	case *CompanyMeta:
		return *v
	case *GeneralMeta:
		return *v
	}
	return m
}
