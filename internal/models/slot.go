package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Slot is a bookable time range [StartTime, EndTime) in UTC.
// Slots are never deleted, only toggled through IsAvailable.
type Slot struct {
	ID            uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID      *uuid.UUID `json:"tenant_id,omitempty" gorm:"type:uuid;index"`
	ProviderID    *uuid.UUID `json:"provider_id,omitempty" gorm:"type:uuid;index:idx_slots_provider_start,priority:1"`
	StartTime     time.Time  `json:"start_time" gorm:"not null;index;index:idx_slots_provider_start,priority:2"`
	EndTime       time.Time  `json:"end_time" gorm:"not null"`
	BufferMinutes int        `json:"buffer_minutes" gorm:"default:0"`
	SlotType      string     `json:"slot_type" gorm:"size:50;default:'standard'"`
	IsAvailable   bool       `json:"is_available" gorm:"not null;index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns the id
func (s *Slot) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// EffectiveEnd is the end of the slot including its trailing buffer
func (s *Slot) EffectiveEnd() time.Time {
	return s.EndTime.Add(time.Duration(s.BufferMinutes) * time.Minute)
}

// SlotQuery filters availability lookups
type SlotQuery struct {
	From       time.Time
	To         time.Time
	ProviderID *uuid.UUID
	Exclude    []uuid.UUID
	Limit      int
}

// Matches applies the availability filter to a single slot
func (q SlotQuery) Matches(s *Slot) bool {
	if !s.IsAvailable {
		return false
	}
	if s.StartTime.Before(q.From) {
		return false
	}
	if s.EffectiveEnd().After(q.To) {
		return false
	}
	if q.ProviderID != nil && (s.ProviderID == nil || *s.ProviderID != *q.ProviderID) {
		return false
	}
	for _, id := range q.Exclude {
		if id == s.ID {
			return false
		}
	}
	return true
}
