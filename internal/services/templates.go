package services

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Ananth-NQI/smsbook-backend/internal/models"
)

// MaxSMSLength caps every outbound reply
const MaxSMSLength = 480

// Display layouts for slot times in the contact's timezone
const (
	slotDisplayLayout    = "Mon Jan 02, 3:04 PM"
	confirmDisplayLayout = "Mon Jan 02 at 3:04 PM"
)

// ReplyTemplates maps reply names to their SMS text. Placeholders use {name}.
var ReplyTemplates = map[string]string{
	// Compliance
	"opt_out": "You have been unsubscribed and will not receive further messages. Reply START to re-subscribe.",
	"opt_in":  "You have been re-subscribed to {business_name} messages. Reply STOP to unsubscribe.",
	"help":    "{business_name}: For support call {support_number}. Msg frequency varies. Msg&data rates may apply. Reply STOP to cancel.",

	// Booking flow
	"no_slots":            "I don't see open times right now. Want me to check again later?",
	"slot_not_understood": "I didn't catch that slot. Reply with the number from the list.",
	"booking_reset":       "Let's reset. Reply BOOK whenever you're ready and I will share fresh times.",
	"confirm_selection":   "Great, should I book {slot}? Reply YES to confirm or NO to pick another time.",
	"confirm_reprompt":    "Please reply YES to confirm this slot or NO to choose another.",
	"pick_another":        "No problem. Reply with another slot number when ready.",
	"slot_taken":          "Sorry, that slot was just booked by someone else.",
	"slot_taken_no_alts":  "Sorry, that slot was taken and I have no fresh alternatives yet.",
	"confirmed":           "You're all set! Your appointment is confirmed for {when}. Reply CANCEL to cancel or RESCHEDULE to change.",
	"confirmed_no_time":   "You're all set! Your appointment is confirmed.",

	// Cancel flow
	"no_appointment_cancel": "I couldn't find an active appointment to cancel.",
	"confirm_cancel":        "I found your appointment on {when}. Reply YES to confirm cancellation or NO to keep it.",
	"cancel_kept":           "OK, your appointment is still on the books.",
	"cancel_done":           "Done - your appointment is cancelled.",

	// Reschedule flow
	"no_appointment_reschedule": "I couldn't find an active appointment to reschedule.",
	"no_alternatives":           "I don't see alternative slots right now. Please try again soon.",
	"reschedule_not_understood": "I didn't catch that slot. Reply with one of the slot numbers.",
	"reschedule_reset":          "Let's reset for now. Reply RESCHEDULE when you want to try again.",
	"confirm_reschedule":        "Perfect - should I move your appointment to {slot}? Reply YES or NO.",
	"reschedule_reprompt":       "Please reply YES to confirm the reschedule or NO to keep it.",
	"reschedule_declined":       "No changes made. Your current appointment remains booked.",
	"reschedule_taken":          "That slot was just taken. Here are fresh options:",
	"reschedule_taken_no_alts":  "That new slot was taken and I have no alternatives right now.",

	// General
	"redirect":         "I can help you book, reschedule, or cancel. What would you like to do?",
	"flow_error":       "Sorry, something went wrong with that request. Let's start over - reply BOOK, CANCEL, or RESCHEDULE.",
	"reminder":         "Hi {first_name}, this is a reminder of your appointment with {business_name} on {when}. Reply CANCEL to cancel or RESCHEDULE to change.",
	"presentation":     "Here are some available times:",
	"presentation_cta": "Reply with a number to book.",
}

// TemplateService renders reply texts with business details filled in
type TemplateService struct {
	businessName  string
	supportNumber string
	fromNumber    string
}

// NewTemplateService creates a new template service
func NewTemplateService(businessName, supportNumber, fromNumber string) *TemplateService {
	return &TemplateService{
		businessName:  businessName,
		supportNumber: supportNumber,
		fromNumber:    fromNumber,
	}
}

// Reply renders a named reply. Unknown names render the generic fallback.
func (t *TemplateService) Reply(name string, vars map[string]string) string {
	tmpl, ok := ReplyTemplates[name]
	if !ok {
		return FallbackText
	}
	return Truncate(RenderTemplate(tmpl, t.withDefaults(vars)))
}

func (t *TemplateService) withDefaults(vars map[string]string) map[string]string {
	merged := map[string]string{
		"business_name":  t.businessName,
		"support_number": t.supportNumber,
		"phone_number":   t.fromNumber,
	}
	for k, v := range vars {
		merged[k] = v
	}
	return merged
}

// ContactVars returns the placeholders available for a contact
func (t *TemplateService) ContactVars(contact *models.Contact) map[string]string {
	first := strings.TrimSpace(contact.FirstName)
	if first == "" {
		first = "there"
	}
	return t.withDefaults(map[string]string{
		"first_name": first,
		"last_name":  strings.TrimSpace(contact.LastName),
	})
}

// SlotPresentation renders a numbered list of presented slots
func (t *TemplateService) SlotPresentation(presented []models.PresentedSlot) string {
	if len(presented) == 0 {
		return ReplyTemplates["no_slots"]
	}
	var b strings.Builder
	b.WriteString(ReplyTemplates["presentation"])
	for _, p := range presented {
		b.WriteString("\n")
		b.WriteString(strconv.Itoa(p.Index))
		b.WriteString(") ")
		b.WriteString(p.Display)
	}
	b.WriteString("\n")
	b.WriteString(ReplyTemplates["presentation_cta"])
	return Truncate(b.String())
}

// Confirmation renders the booked message for a slot start
func (t *TemplateService) Confirmation(start time.Time, loc *time.Location) string {
	if start.IsZero() {
		return ReplyTemplates["confirmed_no_time"]
	}
	return t.Reply("confirmed", map[string]string{"when": FormatConfirmTime(start, loc)})
}

// PresentSlots converts slots into the presented form in the contact's timezone
func PresentSlots(slots []*models.Slot, loc *time.Location) []models.PresentedSlot {
	presented := make([]models.PresentedSlot, 0, len(slots))
	for i, s := range slots {
		presented = append(presented, models.PresentedSlot{
			Index:     i + 1,
			SlotID:    s.ID,
			StartTime: s.StartTime.UTC(),
			Display:   FormatSlotTime(s.StartTime, loc),
		})
	}
	return presented
}

// FormatSlotTime renders "Mon Jan 02, 3:04 PM" in loc (UTC when nil)
func FormatSlotTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(slotDisplayLayout)
}

// FormatConfirmTime renders "Mon Jan 02 at 3:04 PM" in loc (UTC when nil)
func FormatConfirmTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(confirmDisplayLayout)
}

// Truncate caps s at MaxSMSLength, marking the cut with "..."
func Truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= MaxSMSLength {
		return s
	}
	return string(runes[:MaxSMSLength-3]) + "..."
}

var placeholderPattern = regexp.MustCompile(`\{([a-z_]+)\}`)

// RenderTemplate substitutes {name} placeholders from vars in a single pass.
// Unknown placeholders and anything that is not a plain identifier stay literal,
// and substituted values are never re-expanded.
func RenderTemplate(tmpl string, vars map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		if v, ok := vars[m[1:len(m)-1]]; ok {
			return v
		}
		return m
	})
}
