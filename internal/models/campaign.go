package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Campaign is a templated bulk send to opted-in contacts
type Campaign struct {
	ID              uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID        *uuid.UUID `json:"tenant_id,omitempty" gorm:"type:uuid;index"`
	Name            string     `json:"name" gorm:"size:200;not null"`
	MessageTemplate string     `json:"message_template" gorm:"type:text;not null"`
	Status          string     `json:"status" gorm:"size:20;default:'draft';index"`
	ScheduledAt     *time.Time `json:"scheduled_at"`
	QuietHoursStart string     `json:"quiet_hours_start" gorm:"size:5;default:'21:00'"`
	QuietHoursEnd   string     `json:"quiet_hours_end" gorm:"size:5;default:'09:00'"`
	RespectTimezone bool       `json:"respect_timezone" gorm:"not null"`

	TotalRecipients int `json:"total_recipients" gorm:"default:0"`
	SentCount       int `json:"sent_count" gorm:"default:0"`
	DeliveredCount  int `json:"delivered_count" gorm:"default:0"`
	FailedCount     int `json:"failed_count" gorm:"default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Campaign statuses
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusScheduled = "scheduled"
	CampaignStatusActive    = "active"
	CampaignStatusPaused    = "paused"
	CampaignStatusCompleted = "completed"
)

// BeforeCreate assigns the id
func (c *Campaign) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// CampaignRecipient tracks delivery of one campaign to one contact
type CampaignRecipient struct {
	ID            uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	CampaignID    uuid.UUID  `json:"campaign_id" gorm:"type:uuid;not null;uniqueIndex:unique_campaign_contact,priority:1"`
	ContactID     uuid.UUID  `json:"contact_id" gorm:"type:uuid;not null;uniqueIndex:unique_campaign_contact,priority:2"`
	Status        string     `json:"status" gorm:"size:20;default:'pending';index"`
	NextAttemptAt *time.Time `json:"next_attempt_at"`
	SentAt        *time.Time `json:"sent_at"`
	MessageID     *uuid.UUID `json:"message_id,omitempty" gorm:"type:uuid"`
}

// Recipient statuses
const (
	RecipientStatusPending = "pending"
	RecipientStatusSent    = "sent"
	RecipientStatusFailed  = "failed"
	RecipientStatusSkipped = "skipped"
)

// BeforeCreate assigns the id
func (r *CampaignRecipient) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// CampaignStats summarizes recipient outcomes
type CampaignStats struct {
	TotalRecipients int `json:"total_recipients"`
	Pending         int `json:"pending"`
	Sent            int `json:"sent"`
	Failed          int `json:"failed"`
	Skipped         int `json:"skipped"`
}
