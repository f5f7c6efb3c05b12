package services

import (
	"context"

	"github.com/Ananth-NQI/smsbook-backend/internal/models"
	"github.com/google/uuid"
)

// Intent is the classified purpose of an inbound message
type Intent string

const (
	IntentBook       Intent = "BOOK"
	IntentReschedule Intent = "RESCHEDULE"
	IntentCancel     Intent = "CANCEL"
	IntentQuestion   Intent = "QUESTION"
	IntentConfirm    Intent = "CONFIRM"
	IntentDeny       Intent = "DENY"
	IntentSelectSlot Intent = "SELECT_SLOT"
	IntentUnclear    Intent = "UNCLEAR"
)

// Intents is the fixed vocabulary, in the order offered to the model
var Intents = []Intent{
	IntentBook, IntentCancel, IntentConfirm, IntentDeny,
	IntentQuestion, IntentReschedule, IntentSelectSlot, IntentUnclear,
}

// Valid reports whether i belongs to the vocabulary
func (i Intent) Valid() bool {
	for _, known := range Intents {
		if i == known {
			return true
		}
	}
	return false
}

// ConfidenceThreshold is the minimum confidence for a label to be trusted
const ConfidenceThreshold = 0.6

const (
	FallbackText = "Sorry, having a brief issue. Please try again in a moment."
	ClarifyText  = "Could you clarify if you want to book, reschedule, cancel, or ask a question?"
)

// IntentResult is what a classifier returns for one message
type IntentResult struct {
	Intent        Intent         `json:"intent"`
	Confidence    float64        `json:"confidence"`
	ExtractedData map[string]any `json:"extracted_data"`
	ResponseText  string         `json:"response_text"`
	NeedsInfo     []string       `json:"needs_info"`
}

// ClassifyRequest carries the message and the conversation it belongs to
type ClassifyRequest struct {
	Message        string
	History        []models.Turn
	PresentedSlots []models.PresentedSlot
	State          models.State
	Timezone       string
}

// IntentClassifier labels an inbound message
type IntentClassifier interface {
	DetectIntent(ctx context.Context, req ClassifyRequest) (IntentResult, error)
}

// SlotSelector maps free text to one of the presented slots. ok is false when
// the message does not identify a presented slot.
type SlotSelector interface {
	ParseSlotSelection(ctx context.Context, message string, presented []models.PresentedSlot) (id uuid.UUID, ok bool, err error)
}
