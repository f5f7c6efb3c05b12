package events

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys for appointment lifecycle events
const (
	AppointmentBooked      = "appointment.booked.v1"
	AppointmentCancelled   = "appointment.cancelled.v1"
	AppointmentRescheduled = "appointment.rescheduled.v1"
)

// Producer identifies this service in event metadata
const Producer = "smsbook-backend"

type Meta struct {
	// Trace / request correlation ID
	CorrelationID *string `json:"correlation_id,omitempty"`
	// Unique event ID
	ID string `json:"id"`
	// Emitting service
	Producer *string `json:"producer,omitempty"`
	// Timestamp when the event was emitted
	Time time.Time `json:"time"`
	// Event name and version, e.g. appointment.booked.v1
	Type string `json:"type"`
}

type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// NewEnvelope stamps a fresh id and time for the given event type
func NewEnvelope(eventType string, data any) Envelope {
	producer := Producer
	return Envelope{
		Meta: Meta{
			ID:       uuid.NewString(),
			Producer: &producer,
			Time:     time.Now().UTC(),
			Type:     eventType,
		},
		Data: data,
	}
}

// AppointmentBookedData is the payload of appointment.booked.v1
type AppointmentBookedData struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	ContactID     uuid.UUID `json:"contact_id"`
	SlotID        uuid.UUID `json:"slot_id"`
	StartTime     time.Time `json:"start_time"`
}

// AppointmentCancelledData is the payload of appointment.cancelled.v1
type AppointmentCancelledData struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	ContactID     uuid.UUID `json:"contact_id"`
	SlotID        uuid.UUID `json:"slot_id"`
	Reason        *string   `json:"reason,omitempty"`
}

// AppointmentRescheduledData is the payload of appointment.rescheduled.v1
type AppointmentRescheduledData struct {
	OldAppointmentID uuid.UUID `json:"old_appointment_id"`
	NewAppointmentID uuid.UUID `json:"new_appointment_id"`
	ContactID        uuid.UUID `json:"contact_id"`
	OldSlotID        uuid.UUID `json:"old_slot_id"`
	NewSlotID        uuid.UUID `json:"new_slot_id"`
	StartTime        time.Time `json:"start_time"`
}
