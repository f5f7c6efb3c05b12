package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Ananth-NQI/smsbook-backend/internal/models"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a write violates a uniqueness constraint
	ErrConflict = errors.New("record conflicts with an existing row")
)

// Store defines the interface for storage operations
type Store interface {
	// Contact operations
	CreateContact(ctx context.Context, contact *models.Contact) error
	GetContact(ctx context.Context, id uuid.UUID) (*models.Contact, error)
	GetContactByPhone(ctx context.Context, phone string) (*models.Contact, error)
	UpdateContact(ctx context.Context, contact *models.Contact) error
	GetOptedInContacts(ctx context.Context) ([]*models.Contact, error)

	// Slot operations
	CreateSlot(ctx context.Context, slot *models.Slot) error
	GetSlot(ctx context.Context, id uuid.UUID) (*models.Slot, error)
	FindAvailableSlots(ctx context.Context, q models.SlotQuery) ([]*models.Slot, error)
	SlotExists(ctx context.Context, start time.Time, providerID *uuid.UUID) (bool, error)

	// Appointment reads. Writes go through WithTx.
	GetAppointment(ctx context.Context, id uuid.UUID) (*models.Appointment, error)
	GetLatestConfirmedAppointment(ctx context.Context, contactID uuid.UUID) (*models.Appointment, error)
	GetConfirmedAppointmentsBySlot(ctx context.Context, slotID uuid.UUID) ([]*models.Appointment, error)
	GetUpcomingAppointments(ctx context.Context, from, to time.Time) ([]*models.Appointment, error)

	// WithTx runs fn in one atomic unit. Row locks taken through tx are held
	// until fn returns; a non-nil error rolls every write back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Conversation operations
	GetConversationState(ctx context.Context, contactID uuid.UUID) (*models.ConversationState, error)
	SaveConversationState(ctx context.Context, state *models.ConversationState) error
	ResetExpiredConversations(ctx context.Context, now time.Time) (int64, error)

	// Message operations
	CreateMessage(ctx context.Context, msg *models.Message) error
	UpdateMessage(ctx context.Context, msg *models.Message) error
	GetMessageByProviderID(ctx context.Context, providerID string) (*models.Message, error)
	GetRetryableMessages(ctx context.Context, maxRetries, limit int) ([]*models.Message, error)
	HasMessageForAppointment(ctx context.Context, appointmentID uuid.UUID, kind string) (bool, error)

	// Campaign operations
	CreateCampaign(ctx context.Context, campaign *models.Campaign, recipients []*models.CampaignRecipient) error
	GetCampaign(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	UpdateCampaign(ctx context.Context, campaign *models.Campaign) error
	GetCampaignsByStatus(ctx context.Context, status string) ([]*models.Campaign, error)
	GetDueRecipients(ctx context.Context, campaignID uuid.UUID, now time.Time, limit int) ([]*models.CampaignRecipient, error)
	UpdateRecipient(ctx context.Context, recipient *models.CampaignRecipient) error
	GetCampaignStats(ctx context.Context, campaignID uuid.UUID) (*models.CampaignStats, error)

	Ping(ctx context.Context) error
}

// Tx is the locked view of the slot and appointment tables inside WithTx
type Tx interface {
	// LockSlot reads a slot and holds an exclusive lock on it
	LockSlot(id uuid.UUID) (*models.Slot, error)
	// LockAppointment reads an appointment and holds an exclusive lock on it
	LockAppointment(id uuid.UUID) (*models.Appointment, error)
	SaveSlot(slot *models.Slot) error
	CreateAppointment(appt *models.Appointment) error
	SaveAppointment(appt *models.Appointment) error
}
