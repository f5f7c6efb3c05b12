package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Appointment binds a Contact to a Slot. Rows are never deleted: a reschedule
// marks the old row rescheduled and links a new confirmed row back to it.
type Appointment struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	ContactID uuid.UUID `json:"contact_id" gorm:"type:uuid;not null;index:idx_appointments_contact,priority:1"`
	// Only one confirmed appointment may reference a slot.
	SlotID uuid.UUID `json:"slot_id" gorm:"type:uuid;not null;uniqueIndex:idx_appointments_active_slot,where:status = 'confirmed'"`
	Status string    `json:"status" gorm:"size:20;default:'confirmed';index:idx_appointments_contact,priority:2"`

	BookedAt           time.Time  `json:"booked_at"`
	CancelledAt        *time.Time `json:"cancelled_at"`
	CancellationReason *string    `json:"cancellation_reason"`
	RescheduledFromID  *uuid.UUID `json:"rescheduled_from_id" gorm:"type:uuid"`
	Notes              *string    `json:"notes,omitempty"`
	Version            int        `json:"version" gorm:"not null;default:1"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AppointmentStatus constants
const (
	AppointmentStatusConfirmed   = "confirmed"
	AppointmentStatusCancelled   = "cancelled"
	AppointmentStatusRescheduled = "rescheduled"
)

// BeforeCreate assigns the id and the initial version
func (a *Appointment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Version == 0 {
		a.Version = 1
	}
	return nil
}

// IsActive reports whether the appointment still holds its slot
func (a *Appointment) IsActive() bool {
	return a.Status == AppointmentStatusConfirmed
}
