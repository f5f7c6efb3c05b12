package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message is the append-only log of inbound and outbound SMS bodies
type Message struct {
	ID                uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	ContactID         *uuid.UUID `json:"contact_id" gorm:"type:uuid;index:idx_messages_contact,priority:1"`
	Direction         string     `json:"direction" gorm:"size:10;not null"`
	Kind              string     `json:"kind" gorm:"size:20;default:'conversation';index:idx_messages_kind_appointment,priority:1"`
	Body              string     `json:"body" gorm:"type:text;not null"`
	ProviderMessageID *string    `json:"provider_message_id" gorm:"size:64;uniqueIndex"`
	Status            string     `json:"status" gorm:"size:20;default:'queued';index"`
	ErrorCode         *string    `json:"error_code,omitempty" gorm:"size:10"`
	ErrorMessage      *string    `json:"error_message,omitempty" gorm:"type:text"`
	RetryCount        int        `json:"retry_count" gorm:"default:0"`
	Terminal          bool       `json:"terminal" gorm:"default:false"`
	CampaignID        *uuid.UUID `json:"campaign_id,omitempty" gorm:"type:uuid;index"`
	AppointmentID     *uuid.UUID `json:"appointment_id,omitempty" gorm:"type:uuid;index:idx_messages_kind_appointment,priority:2"`

	CreatedAt time.Time `json:"created_at" gorm:"index:idx_messages_contact,priority:2,sort:desc"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message directions
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message statuses
const (
	MessageStatusReceived  = "received"
	MessageStatusQueued    = "queued"
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusFailed    = "failed"
)

// Message kinds
const (
	MessageKindConversation = "conversation"
	MessageKindCompliance   = "compliance"
	MessageKindCampaign     = "campaign"
	MessageKindReminder     = "reminder"
)

// BeforeCreate assigns the id
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Kind == "" {
		m.Kind = MessageKindConversation
	}
	return nil
}
