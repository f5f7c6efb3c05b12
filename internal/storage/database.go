package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Ananth-NQI/smsbook-backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DatabaseStore implements Store on top of gorm/postgres.
// Booking transactions rely on SELECT ... FOR UPDATE row locks so exclusivity
// holds across server processes.
type DatabaseStore struct {
	db *gorm.DB
}

// NewDatabaseStore wraps an open gorm connection. The connection should be
// opened with TranslateError so unique violations surface as ErrConflict.
func NewDatabaseStore(db *gorm.DB) *DatabaseStore {
	return &DatabaseStore{db: db}
}

// Migrate creates or updates the schema
func (s *DatabaseStore) Migrate() error {
	return s.db.AutoMigrate(
		&models.Contact{},
		&models.Slot{},
		&models.Appointment{},
		&models.ConversationState{},
		&models.Message{},
		&models.Campaign{},
		&models.CampaignRecipient{},
	)
}

func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %w", what, ErrConflict)
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}

func (s *DatabaseStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Contact operations
func (s *DatabaseStore) CreateContact(ctx context.Context, contact *models.Contact) error {
	return translate(s.db.WithContext(ctx).Create(contact).Error, "create contact")
}

func (s *DatabaseStore) GetContact(ctx context.Context, id uuid.UUID) (*models.Contact, error) {
	var contact models.Contact
	if err := s.db.WithContext(ctx).First(&contact, "id = ?", id).Error; err != nil {
		return nil, translate(err, "contact "+id.String())
	}
	return &contact, nil
}

func (s *DatabaseStore) GetContactByPhone(ctx context.Context, phone string) (*models.Contact, error) {
	var contact models.Contact
	if err := s.db.WithContext(ctx).First(&contact, "phone_number = ?", phone).Error; err != nil {
		return nil, translate(err, "contact by phone")
	}
	return &contact, nil
}

func (s *DatabaseStore) UpdateContact(ctx context.Context, contact *models.Contact) error {
	return translate(s.db.WithContext(ctx).Save(contact).Error, "update contact")
}

func (s *DatabaseStore) GetOptedInContacts(ctx context.Context) ([]*models.Contact, error) {
	var contacts []*models.Contact
	err := s.db.WithContext(ctx).
		Where("opt_in_status = ?", models.OptInStatusOptedIn).
		Order("created_at").
		Find(&contacts).Error
	return contacts, translate(err, "opted-in contacts")
}

// Slot operations
func (s *DatabaseStore) CreateSlot(ctx context.Context, slot *models.Slot) error {
	return translate(s.db.WithContext(ctx).Create(slot).Error, "create slot")
}

func (s *DatabaseStore) GetSlot(ctx context.Context, id uuid.UUID) (*models.Slot, error) {
	var slot models.Slot
	if err := s.db.WithContext(ctx).First(&slot, "id = ?", id).Error; err != nil {
		return nil, translate(err, "slot "+id.String())
	}
	return &slot, nil
}

// FindAvailableSlots is a plain read; the booking transaction re-checks under lock.
func (s *DatabaseStore) FindAvailableSlots(ctx context.Context, q models.SlotQuery) ([]*models.Slot, error) {
	query := s.db.WithContext(ctx).
		Where("is_available = ?", true).
		Where("start_time >= ?", q.From).
		Where("end_time + (buffer_minutes * interval '1 minute') <= ?", q.To)
	if q.ProviderID != nil {
		query = query.Where("provider_id = ?", *q.ProviderID)
	}
	if len(q.Exclude) > 0 {
		query = query.Where("id NOT IN ?", q.Exclude)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	var slots []*models.Slot
	err := query.Order("start_time ASC").Find(&slots).Error
	return slots, translate(err, "available slots")
}

func (s *DatabaseStore) SlotExists(ctx context.Context, start time.Time, providerID *uuid.UUID) (bool, error) {
	query := s.db.WithContext(ctx).Model(&models.Slot{}).Where("start_time = ?", start)
	if providerID != nil {
		query = query.Where("provider_id = ?", *providerID)
	} else {
		query = query.Where("provider_id IS NULL")
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, translate(err, "slot exists")
	}
	return count > 0, nil
}

// Appointment operations
func (s *DatabaseStore) GetAppointment(ctx context.Context, id uuid.UUID) (*models.Appointment, error) {
	var appt models.Appointment
	if err := s.db.WithContext(ctx).First(&appt, "id = ?", id).Error; err != nil {
		return nil, translate(err, "appointment "+id.String())
	}
	return &appt, nil
}

func (s *DatabaseStore) GetLatestConfirmedAppointment(ctx context.Context, contactID uuid.UUID) (*models.Appointment, error) {
	var appt models.Appointment
	err := s.db.WithContext(ctx).
		Where("contact_id = ? AND status = ?", contactID, models.AppointmentStatusConfirmed).
		Order("created_at DESC").
		First(&appt).Error
	if err != nil {
		return nil, translate(err, "latest confirmed appointment")
	}
	return &appt, nil
}

func (s *DatabaseStore) GetConfirmedAppointmentsBySlot(ctx context.Context, slotID uuid.UUID) ([]*models.Appointment, error) {
	var appts []*models.Appointment
	err := s.db.WithContext(ctx).
		Where("slot_id = ? AND status = ?", slotID, models.AppointmentStatusConfirmed).
		Find(&appts).Error
	return appts, translate(err, "appointments by slot")
}

func (s *DatabaseStore) GetUpcomingAppointments(ctx context.Context, from, to time.Time) ([]*models.Appointment, error) {
	var appts []*models.Appointment
	err := s.db.WithContext(ctx).
		Joins("JOIN slots ON slots.id = appointments.slot_id").
		Where("appointments.status = ?", models.AppointmentStatusConfirmed).
		Where("slots.start_time >= ? AND slots.start_time < ?", from, to).
		Order("slots.start_time ASC").
		Find(&appts).Error
	return appts, translate(err, "upcoming appointments")
}

// WithTx runs fn inside a database transaction
func (s *DatabaseStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&gormTx{db: db})
	})
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) LockSlot(id uuid.UUID) (*models.Slot, error) {
	var slot models.Slot
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&slot, "id = ?", id).Error
	if err != nil {
		return nil, translate(err, "lock slot "+id.String())
	}
	return &slot, nil
}

func (t *gormTx) LockAppointment(id uuid.UUID) (*models.Appointment, error) {
	var appt models.Appointment
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&appt, "id = ?", id).Error
	if err != nil {
		return nil, translate(err, "lock appointment "+id.String())
	}
	return &appt, nil
}

func (t *gormTx) SaveSlot(slot *models.Slot) error {
	return translate(t.db.Save(slot).Error, "save slot")
}

func (t *gormTx) CreateAppointment(appt *models.Appointment) error {
	return translate(t.db.Create(appt).Error, "create appointment")
}

func (t *gormTx) SaveAppointment(appt *models.Appointment) error {
	return translate(t.db.Save(appt).Error, "save appointment")
}

// Conversation operations
func (s *DatabaseStore) GetConversationState(ctx context.Context, contactID uuid.UUID) (*models.ConversationState, error) {
	var state models.ConversationState
	if err := s.db.WithContext(ctx).First(&state, "contact_id = ?", contactID).Error; err != nil {
		return nil, translate(err, "conversation state")
	}
	return &state, nil
}

// SaveConversationState upserts on contact_id
func (s *DatabaseStore) SaveConversationState(ctx context.Context, state *models.ConversationState) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "contact_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"current_state", "context", "last_message_at", "expires_at", "updated_at",
		}),
	}).Create(state).Error
	return translate(err, "save conversation state")
}

func (s *DatabaseStore) ResetExpiredConversations(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.ConversationState{}).
		Where("expires_at < ? AND current_state <> ?", now, string(models.StateIdle)).
		Updates(map[string]any{
			"current_state": string(models.StateIdle),
			"context":       datatypes.JSON("{}"),
			"expires_at":    nil,
			"updated_at":    now,
		})
	return res.RowsAffected, translate(res.Error, "reset expired conversations")
}

// Message operations
func (s *DatabaseStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	return translate(s.db.WithContext(ctx).Create(msg).Error, "create message")
}

func (s *DatabaseStore) UpdateMessage(ctx context.Context, msg *models.Message) error {
	return translate(s.db.WithContext(ctx).Save(msg).Error, "update message")
}

func (s *DatabaseStore) GetMessageByProviderID(ctx context.Context, providerID string) (*models.Message, error) {
	var msg models.Message
	if err := s.db.WithContext(ctx).First(&msg, "provider_message_id = ?", providerID).Error; err != nil {
		return nil, translate(err, "message by provider id")
	}
	return &msg, nil
}

func (s *DatabaseStore) GetRetryableMessages(ctx context.Context, maxRetries, limit int) ([]*models.Message, error) {
	var msgs []*models.Message
	err := s.db.WithContext(ctx).
		Where("direction = ? AND status = ? AND terminal = ? AND retry_count < ?",
			models.DirectionOutbound, models.MessageStatusFailed, false, maxRetries).
		Order("created_at ASC").
		Limit(limit).
		Find(&msgs).Error
	return msgs, translate(err, "retryable messages")
}

func (s *DatabaseStore) HasMessageForAppointment(ctx context.Context, appointmentID uuid.UUID, kind string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("appointment_id = ? AND kind = ?", appointmentID, kind).
		Count(&count).Error
	if err != nil {
		return false, translate(err, "message for appointment")
	}
	return count > 0, nil
}

// Campaign operations
func (s *DatabaseStore) CreateCampaign(ctx context.Context, campaign *models.Campaign, recipients []*models.CampaignRecipient) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		campaign.TotalRecipients = len(recipients)
		if err := tx.Create(campaign).Error; err != nil {
			return translate(err, "create campaign")
		}
		if len(recipients) == 0 {
			return nil
		}
		for _, r := range recipients {
			r.CampaignID = campaign.ID
		}
		return translate(tx.CreateInBatches(recipients, 500).Error, "create campaign recipients")
	})
}

func (s *DatabaseStore) GetCampaign(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	var campaign models.Campaign
	if err := s.db.WithContext(ctx).First(&campaign, "id = ?", id).Error; err != nil {
		return nil, translate(err, "campaign "+id.String())
	}
	return &campaign, nil
}

func (s *DatabaseStore) UpdateCampaign(ctx context.Context, campaign *models.Campaign) error {
	return translate(s.db.WithContext(ctx).Save(campaign).Error, "update campaign")
}

func (s *DatabaseStore) GetCampaignsByStatus(ctx context.Context, status string) ([]*models.Campaign, error) {
	var campaigns []*models.Campaign
	err := s.db.WithContext(ctx).Where("status = ?", status).Order("created_at").Find(&campaigns).Error
	return campaigns, translate(err, "campaigns by status")
}

func (s *DatabaseStore) GetDueRecipients(ctx context.Context, campaignID uuid.UUID, now time.Time, limit int) ([]*models.CampaignRecipient, error) {
	var recipients []*models.CampaignRecipient
	err := s.db.WithContext(ctx).
		Where("campaign_id = ? AND status = ?", campaignID, models.RecipientStatusPending).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now).
		Order("id").
		Limit(limit).
		Find(&recipients).Error
	return recipients, translate(err, "due recipients")
}

func (s *DatabaseStore) UpdateRecipient(ctx context.Context, recipient *models.CampaignRecipient) error {
	return translate(s.db.WithContext(ctx).Save(recipient).Error, "update recipient")
}

func (s *DatabaseStore) GetCampaignStats(ctx context.Context, campaignID uuid.UUID) (*models.CampaignStats, error) {
	if _, err := s.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}

	var rows []struct {
		Status string
		Count  int
	}
	err := s.db.WithContext(ctx).Model(&models.CampaignRecipient{}).
		Select("status, count(*) as count").
		Where("campaign_id = ?", campaignID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err, "campaign stats")
	}

	stats := &models.CampaignStats{}
	for _, row := range rows {
		stats.TotalRecipients += row.Count
		switch row.Status {
		case models.RecipientStatusPending:
			stats.Pending = row.Count
		case models.RecipientStatusSent:
			stats.Sent = row.Count
		case models.RecipientStatusFailed:
			stats.Failed = row.Count
		case models.RecipientStatusSkipped:
			stats.Skipped = row.Count
		}
	}
	return stats, nil
}
