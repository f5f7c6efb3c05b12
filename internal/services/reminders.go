package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Ananth-NQI/smsbook-backend/internal/models"
	"github.com/Ananth-NQI/smsbook-backend/internal/storage"
	"github.com/Ananth-NQI/smsbook-backend/internal/utils"
)

// ReminderWindow is how far ahead appointments get a reminder
const ReminderWindow = 24 * time.Hour

// ReminderService sends one reminder per upcoming appointment
type ReminderService struct {
	store     storage.Store
	outbound  OutboundChannel
	templates *TemplateService
	quiet     utils.QuietHours
	log       *slog.Logger
	now       func() time.Time
}

func NewReminderService(store storage.Store, outbound OutboundChannel, templates *TemplateService, quiet utils.QuietHours, logger *slog.Logger) *ReminderService {
	return &ReminderService{
		store:     store,
		outbound:  outbound,
		templates: templates,
		quiet:     quiet,
		log:       logger,
		now:       time.Now,
	}
}

// SendDueReminders reminds contacts of confirmed appointments starting within
// the window. Appointments that already have a reminder message are skipped;
// contacts inside quiet hours are picked up by a later pass.
func (s *ReminderService) SendDueReminders(ctx context.Context) (int, error) {
	now := s.now()
	appointments, err := s.store.GetUpcomingAppointments(ctx, now, now.Add(ReminderWindow))
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, appt := range appointments {
		if err := ctx.Err(); err != nil {
			return sent, err
		}

		done, err := s.store.HasMessageForAppointment(ctx, appt.ID, models.MessageKindReminder)
		if err != nil {
			return sent, err
		}
		if done {
			continue
		}

		contact, err := s.store.GetContact(ctx, appt.ContactID)
		if errors.Is(err, storage.ErrNotFound) {
			s.log.Error("reminder_contact_missing", "appointment_id", appt.ID, "contact_id", appt.ContactID)
			continue
		}
		if err != nil {
			return sent, err
		}
		if contact.IsOptedOut() {
			continue
		}

		loc := contact.Location()
		if s.quiet.Contains(now, loc) {
			continue
		}

		slot, err := s.store.GetSlot(ctx, appt.SlotID)
		if err != nil {
			s.log.Error("reminder_slot_missing", "appointment_id", appt.ID, "slot_id", appt.SlotID, "error", err)
			continue
		}

		vars := s.templates.ContactVars(contact)
		vars["when"] = FormatConfirmTime(slot.StartTime, loc)
		apptID := appt.ID
		if _, err := s.outbound.SendMessage(ctx, contact.PhoneNumber, s.templates.Reply("reminder", vars), SendOptions{
			Kind:          models.MessageKindReminder,
			AppointmentID: &apptID,
		}); err != nil {
			s.log.Warn("reminder_send_failed", "appointment_id", appt.ID, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}
