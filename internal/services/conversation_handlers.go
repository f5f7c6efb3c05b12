package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Ananth-NQI/smsbook-backend/internal/models"
)

func (s *ConversationService) reply(name string, vars map[string]string) string {
	return s.templates.Reply(name, vars)
}

// abort returns the contact to idle after an integrity failure
func (s *ConversationService) abort(in *inbound, intent Intent, op string, err error) Transition {
	s.log.Error("conversation_flow_error",
		"contact_id", in.contact.ID,
		"state", in.state,
		"op", op,
		"error", err,
	)
	return Transition{Flow: models.Idle{}, Reply: s.reply("flow_error", nil), Intent: intent}
}

// handleIdle routes a classified message when no flow is active. Mid-flow
// handlers redispatch here when the contact changes their mind.
func (s *ConversationService) handleIdle(ctx context.Context, in *inbound, result IntentResult) Transition {
	switch result.Intent {
	case IntentBook:
		return s.beginBooking(ctx, in, result.Intent)
	case IntentCancel:
		return s.beginCancel(ctx, in, result.Intent)
	case IntentReschedule:
		return s.beginReschedule(ctx, in, result.Intent)
	case IntentConfirm, IntentDeny, IntentSelectSlot:
		return Transition{Flow: models.Idle{}, Reply: s.reply("redirect", nil), Intent: result.Intent}
	case IntentQuestion, IntentUnclear:
		reply := result.ResponseText
		if reply == "" {
			reply = ClarifyText
		}
		if len(result.NeedsInfo) > 0 {
			return Transition{Flow: models.AwaitingInfo{}, Reply: reply, Intent: result.Intent}
		}
		return Transition{Flow: models.Idle{}, Reply: reply, Intent: result.Intent}
	}
	return Transition{Flow: models.Idle{}, Reply: result.ResponseText, Intent: result.Intent}
}

func (s *ConversationService) beginBooking(ctx context.Context, in *inbound, intent Intent) Transition {
	now := s.now()
	slots, err := s.booking.GetAvailableSlots(ctx, now, now.Add(DefaultLookahead), nil, DefaultSlotLimit)
	if err != nil {
		return s.abort(in, intent, "get_available_slots", err)
	}
	if len(slots) == 0 {
		return Transition{Flow: models.Idle{}, Reply: s.reply("no_slots", nil), Intent: intent}
	}
	presented := PresentSlots(slots, in.loc)
	return Transition{
		Flow:   models.ShowingSlots{Presented: presented},
		Reply:  s.templates.SlotPresentation(presented),
		Intent: intent,
	}
}

func (s *ConversationService) beginCancel(ctx context.Context, in *inbound, intent Intent) Transition {
	appt, err := s.booking.LatestConfirmedAppointment(ctx, in.contact.ID)
	if err != nil {
		return s.abort(in, intent, "latest_appointment", err)
	}
	if appt == nil {
		return Transition{Flow: models.Idle{}, Reply: s.reply("no_appointment_cancel", nil), Intent: intent}
	}
	slot, err := s.booking.GetSlot(ctx, appt.SlotID)
	if err != nil {
		return s.abort(in, intent, "get_slot", err)
	}
	return Transition{
		Flow:   models.ConfirmingCancel{PendingAppointmentID: appt.ID},
		Reply:  s.reply("confirm_cancel", map[string]string{"when": FormatConfirmTime(slot.StartTime, in.loc)}),
		Intent: intent,
	}
}

func (s *ConversationService) beginReschedule(ctx context.Context, in *inbound, intent Intent) Transition {
	appt, err := s.booking.LatestConfirmedAppointment(ctx, in.contact.ID)
	if err != nil {
		return s.abort(in, intent, "latest_appointment", err)
	}
	if appt == nil {
		return Transition{Flow: models.Idle{}, Reply: s.reply("no_appointment_reschedule", nil), Intent: intent}
	}
	alts, err := s.booking.GetFreshAlternatives(ctx, []uuid.UUID{appt.SlotID}, s.now(), DefaultSlotLimit, nil)
	if err != nil {
		return s.abort(in, intent, "get_alternatives", err)
	}
	if len(alts) == 0 {
		return Transition{Flow: models.Idle{}, Reply: s.reply("no_alternatives", nil), Intent: intent}
	}
	presented := PresentSlots(alts, in.loc)
	return Transition{
		Flow:   models.RescheduleShowSlots{OriginalAppointmentID: appt.ID, Presented: presented},
		Reply:  s.templates.SlotPresentation(presented),
		Intent: intent,
	}
}

func (s *ConversationService) handleShowingSlots(ctx context.Context, in *inbound, f models.ShowingSlots) Transition {
	result := s.classify(ctx, in, f.Presented)
	if result.Intent == IntentCancel || result.Intent == IntentReschedule {
		return s.handleIdle(ctx, in, result)
	}

	id, ok := s.slots.Resolve(ctx, in.message, f.Presented, in.loc)
	if !ok {
		retries := f.RetryCount + 1
		if retries >= MaxRetries {
			return Transition{Flow: models.Idle{}, Reply: s.reply("booking_reset", nil), Intent: result.Intent}
		}
		return Transition{
			Flow:   models.ShowingSlots{Presented: f.Presented, RetryCount: retries},
			Reply:  s.reply("slot_not_understood", nil),
			Intent: result.Intent,
		}
	}

	return Transition{
		Flow:   models.ConfirmingBooking{Presented: f.Presented, SelectedSlotID: id},
		Reply:  s.reply("confirm_selection", map[string]string{"slot": displayFor(f.Presented, id)}),
		Intent: IntentSelectSlot,
	}
}

func (s *ConversationService) handleConfirmingBooking(ctx context.Context, in *inbound, f models.ConfirmingBooking) Transition {
	result := s.classify(ctx, in, f.Presented)
	switch result.Intent {
	case IntentCancel:
		return s.handleIdle(ctx, in, result)
	case IntentDeny:
		if len(f.Presented) == 0 {
			return s.beginBooking(ctx, in, result.Intent)
		}
		return Transition{
			Flow:   models.ShowingSlots{Presented: f.Presented, RetryCount: f.RetryCount},
			Reply:  s.reply("pick_another", nil),
			Intent: result.Intent,
		}
	case IntentConfirm:
	default:
		return Transition{Flow: f, Reply: s.reply("confirm_reprompt", nil), Intent: result.Intent}
	}

	appt, err := s.booking.BookAppointment(ctx, in.contact.ID, f.SelectedSlotID)
	if errors.Is(err, ErrSlotUnavailable) {
		alts, altErr := s.booking.GetFreshAlternatives(ctx, []uuid.UUID{f.SelectedSlotID}, s.now(), DefaultSlotLimit, nil)
		if altErr != nil {
			return s.abort(in, result.Intent, "get_alternatives", altErr)
		}
		if len(alts) == 0 {
			return Transition{Flow: models.Idle{}, Reply: s.reply("slot_taken_no_alts", nil), Intent: result.Intent}
		}
		presented := PresentSlots(alts, in.loc)
		return Transition{
			Flow:   models.ShowingSlots{Presented: presented},
			Reply:  s.reply("slot_taken", nil) + "\n" + s.templates.SlotPresentation(presented),
			Intent: result.Intent,
		}
	}
	if err != nil {
		return s.abort(in, result.Intent, "book_appointment", err)
	}

	return Transition{
		Flow:   models.Idle{},
		Reply:  s.templates.Confirmation(s.startOf(ctx, appt.SlotID, f.Presented), in.loc),
		Intent: result.Intent,
	}
}

func (s *ConversationService) handleConfirmingCancel(ctx context.Context, in *inbound, f models.ConfirmingCancel) Transition {
	result := s.classify(ctx, in, nil)
	if result.Intent != IntentConfirm {
		return Transition{Flow: models.Idle{}, Reply: s.reply("cancel_kept", nil), Intent: result.Intent}
	}

	reason := cancelledBySMSNote
	_, err := s.booking.CancelAppointment(ctx, f.PendingAppointmentID, &reason)
	switch {
	case errors.Is(err, ErrAppointmentNotActive):
		return Transition{Flow: models.Idle{}, Reply: s.reply("no_appointment_cancel", nil), Intent: result.Intent}
	case err != nil:
		return s.abort(in, result.Intent, "cancel_appointment", err)
	}
	return Transition{Flow: models.Idle{}, Reply: s.reply("cancel_done", nil), Intent: result.Intent}
}

func (s *ConversationService) handleRescheduleShowSlots(ctx context.Context, in *inbound, f models.RescheduleShowSlots) Transition {
	result := s.classify(ctx, in, f.Presented)
	if result.Intent == IntentCancel {
		return s.handleIdle(ctx, in, result)
	}

	id, ok := s.slots.Resolve(ctx, in.message, f.Presented, in.loc)
	if !ok {
		retries := f.RetryCount + 1
		if retries >= MaxRetries {
			return Transition{Flow: models.Idle{}, Reply: s.reply("reschedule_reset", nil), Intent: result.Intent}
		}
		return Transition{
			Flow: models.RescheduleShowSlots{
				OriginalAppointmentID: f.OriginalAppointmentID,
				Presented:             f.Presented,
				RetryCount:            retries,
			},
			Reply:  s.reply("reschedule_not_understood", nil),
			Intent: result.Intent,
		}
	}

	return Transition{
		Flow: models.ConfirmingReschedule{
			OriginalAppointmentID: f.OriginalAppointmentID,
			Presented:             f.Presented,
			SelectedSlotID:        id,
		},
		Reply:  s.reply("confirm_reschedule", map[string]string{"slot": displayFor(f.Presented, id)}),
		Intent: IntentSelectSlot,
	}
}

func (s *ConversationService) handleConfirmingReschedule(ctx context.Context, in *inbound, f models.ConfirmingReschedule) Transition {
	result := s.classify(ctx, in, f.Presented)
	switch result.Intent {
	case IntentDeny:
		return Transition{Flow: models.Idle{}, Reply: s.reply("reschedule_declined", nil), Intent: result.Intent}
	case IntentConfirm:
	default:
		return Transition{Flow: f, Reply: s.reply("reschedule_reprompt", nil), Intent: result.Intent}
	}

	appt, err := s.booking.RescheduleAppointment(ctx, f.OriginalAppointmentID, f.SelectedSlotID)
	switch {
	case errors.Is(err, ErrSlotUnavailable):
		alts, altErr := s.booking.GetFreshAlternatives(ctx, []uuid.UUID{f.SelectedSlotID}, s.now(), DefaultSlotLimit, nil)
		if altErr != nil {
			return s.abort(in, result.Intent, "get_alternatives", altErr)
		}
		if len(alts) == 0 {
			return Transition{Flow: models.Idle{}, Reply: s.reply("reschedule_taken_no_alts", nil), Intent: result.Intent}
		}
		presented := PresentSlots(alts, in.loc)
		return Transition{
			Flow: models.RescheduleShowSlots{
				OriginalAppointmentID: f.OriginalAppointmentID,
				Presented:             presented,
			},
			Reply:  s.reply("reschedule_taken", nil) + "\n" + s.templates.SlotPresentation(presented),
			Intent: result.Intent,
		}
	case errors.Is(err, ErrAppointmentNotActive):
		return Transition{Flow: models.Idle{}, Reply: s.reply("no_appointment_reschedule", nil), Intent: result.Intent}
	case err != nil:
		return s.abort(in, result.Intent, "reschedule_appointment", err)
	}

	return Transition{
		Flow:   models.Idle{},
		Reply:  s.templates.Confirmation(s.startOf(ctx, appt.SlotID, f.Presented), in.loc),
		Intent: result.Intent,
	}
}

// handleAwaitingInfo re-runs the idle handler; the follow-up usually names
// the intent. RetryCount only records how many rounds the contact has taken.
func (s *ConversationService) handleAwaitingInfo(ctx context.Context, in *inbound, f models.AwaitingInfo) Transition {
	result := s.classify(ctx, in, nil)
	t := s.handleIdle(ctx, in, result)
	if next, ok := t.Flow.(models.AwaitingInfo); ok {
		next.RetryCount = f.RetryCount + 1
		t.Flow = next
	}
	return t
}

// startOf finds the start time for a booked slot, preferring the store
func (s *ConversationService) startOf(ctx context.Context, slotID uuid.UUID, presented []models.PresentedSlot) time.Time {
	if slot, err := s.booking.GetSlot(ctx, slotID); err == nil {
		return slot.StartTime
	}
	for _, p := range presented {
		if p.SlotID == slotID {
			return p.StartTime
		}
	}
	return time.Time{}
}

func displayFor(presented []models.PresentedSlot, id uuid.UUID) string {
	for _, p := range presented {
		if p.SlotID == id {
			return p.Display
		}
	}
	return "that time"
}
