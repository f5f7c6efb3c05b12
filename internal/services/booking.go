package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Ananth-NQI/smsbook-backend/internal/events"
	"github.com/Ananth-NQI/smsbook-backend/internal/models"
	"github.com/Ananth-NQI/smsbook-backend/internal/storage"
	"github.com/google/uuid"
)

// Availability window defaults used by the conversation flows
const (
	DefaultSlotLimit   = 5
	DefaultLookahead   = 7 * 24 * time.Hour
	cancelledBySMSNote = "Cancelled via SMS"
)

// BookingService owns every mutation of slots and appointments
type BookingService struct {
	store  storage.Store
	events events.Publisher
	log    *slog.Logger
	now    func() time.Time
}

// NewBookingService creates a new booking service
func NewBookingService(store storage.Store, publisher events.Publisher, logger *slog.Logger) *BookingService {
	return &BookingService{
		store:  store,
		events: publisher,
		log:    logger,
		now:    time.Now,
	}
}

// GetAvailableSlots returns up to limit open slots starting in [from, to), ordered by start time
func (s *BookingService) GetAvailableSlots(ctx context.Context, from, to time.Time, providerID *uuid.UUID, limit int) ([]*models.Slot, error) {
	return s.store.FindAvailableSlots(ctx, models.SlotQuery{
		From:       from,
		To:         to,
		ProviderID: providerID,
		Limit:      limit,
	})
}

// GetFreshAlternatives is GetAvailableSlots over the default lookahead with an
// exclusion set. A zero from means now.
func (s *BookingService) GetFreshAlternatives(ctx context.Context, exclude []uuid.UUID, from time.Time, limit int, providerID *uuid.UUID) ([]*models.Slot, error) {
	if from.IsZero() {
		from = s.now()
	}
	return s.store.FindAvailableSlots(ctx, models.SlotQuery{
		From:       from,
		To:         from.Add(DefaultLookahead),
		ProviderID: providerID,
		Exclude:    exclude,
		Limit:      limit,
	})
}

// GetSlot loads a slot, mapping a missing row to ErrSlotNotFound
func (s *BookingService) GetSlot(ctx context.Context, id uuid.UUID) (*models.Slot, error) {
	slot, err := s.store.GetSlot(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSlotNotFound, id)
	}
	return slot, err
}

// GetAppointment loads an appointment, mapping a missing row to ErrAppointmentNotFound
func (s *BookingService) GetAppointment(ctx context.Context, id uuid.UUID) (*models.Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAppointmentNotFound, id)
	}
	return appt, err
}

// LatestConfirmedAppointment returns the contact's most recent confirmed
// appointment, or nil when there is none.
func (s *BookingService) LatestConfirmedAppointment(ctx context.Context, contactID uuid.UUID) (*models.Appointment, error) {
	appt, err := s.store.GetLatestConfirmedAppointment(ctx, contactID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return appt, err
}

// BookAppointment claims a slot for a contact. The slot is re-read under an
// exclusive lock; a missing or already-taken slot yields ErrSlotUnavailable.
func (s *BookingService) BookAppointment(ctx context.Context, contactID, slotID uuid.UUID) (*models.Appointment, error) {
	var (
		appt *models.Appointment
		slot *models.Slot
	)

	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		slot, err = tx.LockSlot(slotID)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrSlotUnavailable
		}
		if err != nil {
			return err
		}
		if !slot.IsAvailable {
			return ErrSlotUnavailable
		}

		slot.IsAvailable = false
		if err := tx.SaveSlot(slot); err != nil {
			return err
		}

		appt = &models.Appointment{
			ContactID: contactID,
			SlotID:    slotID,
			Status:    models.AppointmentStatusConfirmed,
			BookedAt:  s.now().UTC(),
			Version:   1,
		}
		if err := tx.CreateAppointment(appt); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				return ErrSlotUnavailable
			}
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSlotUnavailable) {
			s.log.Info("slot_unavailable", "slot_id", slotID, "contact_id", contactID)
		}
		return nil, err
	}

	s.log.Info("appointment_booked", "appointment_id", appt.ID, "slot_id", slotID, "contact_id", contactID)
	s.publish(ctx, events.AppointmentBooked, events.AppointmentBookedData{
		AppointmentID: appt.ID,
		ContactID:     contactID,
		SlotID:        slotID,
		StartTime:     slot.StartTime,
	})
	return appt, nil
}

// CancelAppointment marks a confirmed appointment cancelled and reopens its slot
func (s *BookingService) CancelAppointment(ctx context.Context, appointmentID uuid.UUID, reason *string) (*models.Appointment, error) {
	var appt *models.Appointment

	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		appt, err = tx.LockAppointment(appointmentID)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrAppointmentNotFound, appointmentID)
		}
		if err != nil {
			return err
		}
		if !appt.IsActive() {
			return fmt.Errorf("%w: %s is %s", ErrAppointmentNotActive, appointmentID, appt.Status)
		}

		slot, err := tx.LockSlot(appt.SlotID)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrSlotNotFound, appt.SlotID)
		}
		if err != nil {
			return err
		}

		now := s.now().UTC()
		appt.Status = models.AppointmentStatusCancelled
		appt.CancelledAt = &now
		appt.CancellationReason = reason
		appt.Version++
		if err := tx.SaveAppointment(appt); err != nil {
			return err
		}

		slot.IsAvailable = true
		return tx.SaveSlot(slot)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("appointment_cancelled", "appointment_id", appt.ID, "slot_id", appt.SlotID)
	s.publish(ctx, events.AppointmentCancelled, events.AppointmentCancelledData{
		AppointmentID: appt.ID,
		ContactID:     appt.ContactID,
		SlotID:        appt.SlotID,
		Reason:        reason,
	})
	return appt, nil
}

// RescheduleAppointment moves a confirmed appointment to newSlotID. The old row
// is kept as rescheduled and a new confirmed row points back to it. Slot locks
// are taken in id order so two reschedules over the same pair cannot deadlock.
func (s *BookingService) RescheduleAppointment(ctx context.Context, appointmentID, newSlotID uuid.UUID) (*models.Appointment, error) {
	var (
		oldAppt *models.Appointment
		newAppt *models.Appointment
		newSlot *models.Slot
	)

	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		oldAppt, err = tx.LockAppointment(appointmentID)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrAppointmentNotFound, appointmentID)
		}
		if err != nil {
			return err
		}
		if !oldAppt.IsActive() {
			return fmt.Errorf("%w: %s is %s", ErrAppointmentNotActive, appointmentID, oldAppt.Status)
		}
		if oldAppt.SlotID == newSlotID {
			return ErrSlotUnavailable
		}

		locked := make(map[uuid.UUID]*models.Slot, 2)
		for _, id := range lockOrder(oldAppt.SlotID, newSlotID) {
			slot, err := tx.LockSlot(id)
			if errors.Is(err, storage.ErrNotFound) {
				if id == newSlotID {
					return ErrSlotUnavailable
				}
				return fmt.Errorf("%w: %s", ErrSlotNotFound, id)
			}
			if err != nil {
				return err
			}
			locked[id] = slot
		}

		oldSlot := locked[oldAppt.SlotID]
		newSlot = locked[newSlotID]
		if !newSlot.IsAvailable {
			return ErrSlotUnavailable
		}

		oldAppt.Status = models.AppointmentStatusRescheduled
		oldAppt.Version++
		if err := tx.SaveAppointment(oldAppt); err != nil {
			return err
		}

		oldSlot.IsAvailable = true
		if err := tx.SaveSlot(oldSlot); err != nil {
			return err
		}
		newSlot.IsAvailable = false
		if err := tx.SaveSlot(newSlot); err != nil {
			return err
		}

		fromID := oldAppt.ID
		newAppt = &models.Appointment{
			ContactID:         oldAppt.ContactID,
			SlotID:            newSlotID,
			Status:            models.AppointmentStatusConfirmed,
			BookedAt:          s.now().UTC(),
			RescheduledFromID: &fromID,
			Notes:             oldAppt.Notes,
			Version:           1,
		}
		if err := tx.CreateAppointment(newAppt); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				return ErrSlotUnavailable
			}
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSlotUnavailable) {
			s.log.Info("slot_unavailable", "slot_id", newSlotID, "appointment_id", appointmentID)
		}
		return nil, err
	}

	s.log.Info("appointment_rescheduled",
		"old_appointment_id", oldAppt.ID,
		"new_appointment_id", newAppt.ID,
		"new_slot_id", newSlotID,
	)
	s.publish(ctx, events.AppointmentRescheduled, events.AppointmentRescheduledData{
		OldAppointmentID: oldAppt.ID,
		NewAppointmentID: newAppt.ID,
		ContactID:        newAppt.ContactID,
		OldSlotID:        oldAppt.SlotID,
		NewSlotID:        newSlotID,
		StartTime:        newSlot.StartTime,
	})
	return newAppt, nil
}

func lockOrder(a, b uuid.UUID) []uuid.UUID {
	ids := []uuid.UUID{a, b}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// publish runs after commit; failures never undo the booking
func (s *BookingService) publish(ctx context.Context, key string, data any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, key, events.NewEnvelope(key, data)); err != nil {
		s.log.Warn("event_publish_failed", "key", key, "error", err)
	}
}
