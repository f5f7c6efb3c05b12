package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// State labels the stage of a contact's SMS dialog
type State string

// Conversation states
const (
	StateIdle                 State = "idle"
	StateShowingSlots         State = "showing_slots"
	StateConfirmingBooking    State = "confirming_booking"
	StateConfirmingCancel     State = "confirming_cancel"
	StateRescheduleShowSlots  State = "reschedule_show_slots"
	StateConfirmingReschedule State = "confirming_reschedule"
	StateAwaitingInfo         State = "awaiting_info"
)

// MaxHistoryEntries caps the rolling history kept in the context (user and assistant entries)
const MaxHistoryEntries = 10

// ConversationTTL bounds how long a non-idle conversation may hold partial state
const ConversationTTL = 2 * time.Hour

// ConversationState stores the dialog stage for one contact
type ConversationState struct {
	ID            uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	ContactID     uuid.UUID      `json:"contact_id" gorm:"type:uuid;uniqueIndex;not null"`
	CurrentState  State          `json:"current_state" gorm:"size:50;default:'idle'"`
	Context       datatypes.JSON `json:"context" gorm:"type:jsonb;default:'{}'"`
	LastMessageAt *time.Time     `json:"last_message_at"`
	ExpiresAt     *time.Time     `json:"expires_at" gorm:"index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns the id and the idle default
func (s *ConversationState) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CurrentState == "" {
		s.CurrentState = StateIdle
	}
	if len(s.Context) == 0 {
		s.Context = datatypes.JSON("{}")
	}
	return nil
}

// Apply stores an encoded context and recomputes the expiry window
func (s *ConversationState) Apply(cc ConversationContext, now time.Time) error {
	raw, err := cc.Encode()
	if err != nil {
		return err
	}
	s.CurrentState = cc.Flow.State()
	s.Context = raw
	s.LastMessageAt = &now
	if s.CurrentState == StateIdle {
		s.ExpiresAt = nil
	} else {
		expires := now.Add(ConversationTTL)
		s.ExpiresAt = &expires
	}
	return nil
}

// Reset returns the state to idle with an empty context
func (s *ConversationState) Reset() {
	s.CurrentState = StateIdle
	s.Context = datatypes.JSON("{}")
	s.ExpiresAt = nil
}

// Turn is one history entry
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AppendHistory adds a user/assistant pair and keeps the newest MaxHistoryEntries
func AppendHistory(history []Turn, user, assistant string) []Turn {
	updated := make([]Turn, 0, len(history)+2)
	updated = append(updated, history...)
	updated = append(updated, Turn{Role: "user", Content: user}, Turn{Role: "assistant", Content: assistant})
	if len(updated) > MaxHistoryEntries {
		updated = updated[len(updated)-MaxHistoryEntries:]
	}
	return updated
}

// PresentedSlot is a slot as it was shown to the contact
type PresentedSlot struct {
	Index     int       `json:"index"`
	SlotID    uuid.UUID `json:"slot_id"`
	StartTime time.Time `json:"start_time"`
	Display   string    `json:"display"`
}

// Flow is the state-specific part of a conversation context. Each state has
// exactly one variant carrying only the fields that state uses.
type Flow interface {
	State() State
	Validate() error
}

// Idle carries no flow data
type Idle struct{}

// ShowingSlots waits for the contact to pick one of the presented slots
type ShowingSlots struct {
	Presented  []PresentedSlot `json:"presented_slots"`
	RetryCount int             `json:"retry_count"`
}

// ConfirmingBooking waits for YES/NO on a selected slot
type ConfirmingBooking struct {
	Presented      []PresentedSlot `json:"presented_slots"`
	SelectedSlotID uuid.UUID       `json:"selected_slot_id"`
	RetryCount     int             `json:"retry_count"`
}

// ConfirmingCancel waits for YES/NO on cancelling an appointment
type ConfirmingCancel struct {
	PendingAppointmentID uuid.UUID `json:"pending_appointment_id"`
}

// RescheduleShowSlots waits for the contact to pick a replacement slot
type RescheduleShowSlots struct {
	OriginalAppointmentID uuid.UUID       `json:"original_appointment_id"`
	Presented             []PresentedSlot `json:"presented_slots"`
	RetryCount            int             `json:"retry_count"`
}

// ConfirmingReschedule waits for YES/NO on moving an appointment
type ConfirmingReschedule struct {
	OriginalAppointmentID uuid.UUID       `json:"original_appointment_id"`
	Presented             []PresentedSlot `json:"presented_slots"`
	SelectedSlotID        uuid.UUID       `json:"selected_slot_id"`
}

// AwaitingInfo waits for details the classifier asked for
type AwaitingInfo struct {
	RetryCount int `json:"retry_count"`
}

func (Idle) State() State                 { return StateIdle }
func (ShowingSlots) State() State         { return StateShowingSlots }
func (ConfirmingBooking) State() State    { return StateConfirmingBooking }
func (ConfirmingCancel) State() State     { return StateConfirmingCancel }
func (RescheduleShowSlots) State() State  { return StateRescheduleShowSlots }
func (ConfirmingReschedule) State() State { return StateConfirmingReschedule }
func (AwaitingInfo) State() State         { return StateAwaitingInfo }

func (Idle) Validate() error { return nil }

func (f ShowingSlots) Validate() error {
	if len(f.Presented) == 0 {
		return errors.New("showing_slots: no presented slots")
	}
	return nil
}

func (f ConfirmingBooking) Validate() error {
	if f.SelectedSlotID == uuid.Nil {
		return errors.New("confirming_booking: missing selected_slot_id")
	}
	return nil
}

func (f ConfirmingCancel) Validate() error {
	if f.PendingAppointmentID == uuid.Nil {
		return errors.New("confirming_cancel: missing pending_appointment_id")
	}
	return nil
}

func (f RescheduleShowSlots) Validate() error {
	if f.OriginalAppointmentID == uuid.Nil {
		return errors.New("reschedule_show_slots: missing original_appointment_id")
	}
	if len(f.Presented) == 0 {
		return errors.New("reschedule_show_slots: no presented slots")
	}
	return nil
}

func (f ConfirmingReschedule) Validate() error {
	if f.OriginalAppointmentID == uuid.Nil || f.SelectedSlotID == uuid.Nil {
		return errors.New("confirming_reschedule: missing appointment or slot id")
	}
	return nil
}

func (AwaitingInfo) Validate() error { return nil }

// ConversationContext is the decoded form of ConversationState.Context
type ConversationContext struct {
	Flow       Flow
	History    []Turn
	LastIntent string
}

// contextDocument is the persisted JSON shape
type contextDocument struct {
	State      State           `json:"state"`
	Flow       json.RawMessage `json:"flow,omitempty"`
	History    []Turn          `json:"history,omitempty"`
	LastIntent string          `json:"last_intent,omitempty"`
}

// ErrContextMismatch is returned when the stored context belongs to another state
var ErrContextMismatch = errors.New("conversation context does not match state")

// Encode validates the active flow and serializes the context
func (c ConversationContext) Encode() (datatypes.JSON, error) {
	flow := c.Flow
	if flow == nil {
		flow = Idle{}
	}
	if err := flow.Validate(); err != nil {
		return nil, err
	}
	doc := contextDocument{
		State:      flow.State(),
		History:    c.History,
		LastIntent: c.LastIntent,
	}
	if _, idle := flow.(Idle); !idle {
		raw, err := json.Marshal(flow)
		if err != nil {
			return nil, fmt.Errorf("encode %s flow: %w", flow.State(), err)
		}
		doc.Flow = raw
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

// DecodeContext parses a stored context for the given state
func DecodeContext(state State, raw datatypes.JSON) (ConversationContext, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("{}")) || bytes.Equal(trimmed, []byte("null")) {
		if state != "" && state != StateIdle {
			return ConversationContext{Flow: Idle{}}, ErrContextMismatch
		}
		return ConversationContext{Flow: Idle{}}, nil
	}

	var doc contextDocument
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return ConversationContext{Flow: Idle{}}, fmt.Errorf("decode conversation context: %w", err)
	}
	if doc.State == "" {
		doc.State = StateIdle
	}
	if state == "" {
		state = StateIdle
	}
	if doc.State != state {
		return ConversationContext{Flow: Idle{}, History: doc.History}, ErrContextMismatch
	}

	flow, err := newFlow(state)
	if err != nil {
		return ConversationContext{Flow: Idle{}, History: doc.History}, err
	}
	if len(doc.Flow) > 0 {
		if err := json.Unmarshal(doc.Flow, flow); err != nil {
			return ConversationContext{Flow: Idle{}, History: doc.History}, fmt.Errorf("decode %s flow: %w", state, err)
		}
	}
	value := derefFlow(flow)
	if err := value.Validate(); err != nil {
		return ConversationContext{Flow: Idle{}, History: doc.History}, err
	}
	return ConversationContext{Flow: value, History: doc.History, LastIntent: doc.LastIntent}, nil
}

func newFlow(state State) (any, error) {
	switch state {
	case StateIdle:
		return &Idle{}, nil
	case StateShowingSlots:
		return &ShowingSlots{}, nil
	case StateConfirmingBooking:
		return &ConfirmingBooking{}, nil
	case StateConfirmingCancel:
		return &ConfirmingCancel{}, nil
	case StateRescheduleShowSlots:
		return &RescheduleShowSlots{}, nil
	case StateConfirmingReschedule:
		return &ConfirmingReschedule{}, nil
	case StateAwaitingInfo:
		return &AwaitingInfo{}, nil
	}
	return nil, fmt.Errorf("unknown conversation state %q", state)
}

func derefFlow(v any) Flow {
	switch f := v.(type) {
	case *Idle:
		return *f
	case *ShowingSlots:
		return *f
	case *ConfirmingBooking:
		return *f
	case *ConfirmingCancel:
		return *f
	case *RescheduleShowSlots:
		return *f
	case *ConfirmingReschedule:
		return *f
	case *AwaitingInfo:
		return *f
	}
	return Idle{}
}
