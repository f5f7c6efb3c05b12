package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/Ananth-NQI/smsbook-backend/internal/logging"
	"github.com/Ananth-NQI/smsbook-backend/internal/models"
	"github.com/Ananth-NQI/smsbook-backend/internal/storage"
)

// MaxRetries is how many unparseable slot replies reset a flow
const MaxRetries = 3

// Transition is the outcome of one state handler
type Transition struct {
	Flow   models.Flow
	Reply  string
	Intent Intent
}

// inbound is one message being processed for a contact
type inbound struct {
	contact *models.Contact
	message string
	state   models.State
	history []models.Turn
	loc     *time.Location
}

// ConversationDeps wires the collaborators of ConversationService
type ConversationDeps struct {
	Store      storage.Store
	Booking    *BookingService
	Classifier IntentClassifier
	Selector   SlotSelector
	Compliance *ComplianceGate
	Outbound   OutboundChannel
	Locker     ContactLocker
	Templates  *TemplateService
	Logger     *slog.Logger
}

// ConversationService drives the per-contact SMS dialog
type ConversationService struct {
	store      storage.Store
	booking    *BookingService
	classifier IntentClassifier
	slots      *SlotResolver
	compliance *ComplianceGate
	outbound   OutboundChannel
	locker     ContactLocker
	templates  *TemplateService
	log        *slog.Logger
	now        func() time.Time
}

func NewConversationService(deps ConversationDeps) *ConversationService {
	return &ConversationService{
		store:      deps.Store,
		booking:    deps.Booking,
		classifier: deps.Classifier,
		slots:      NewSlotResolver(deps.Selector),
		compliance: deps.Compliance,
		outbound:   deps.Outbound,
		locker:     deps.Locker,
		templates:  deps.Templates,
		log:        deps.Logger,
		now:        time.Now,
	}
}

// ProcessInboundMessage runs one inbound SMS through the compliance gate and
// the state machine. Callers verify the provider signature and deduplicate
// messageID first.
//
// Opted-out contacts and messages that lose the per-contact lock are dropped
// silently. State is persisted before the reply is sent, and the send happens
// outside the lock; a failed send never rolls state back.
func (s *ConversationService) ProcessInboundMessage(ctx context.Context, phone, body, messageID string) error {
	body = strings.TrimSpace(body)
	log := s.log.With("from", logging.MaskPhone(phone), "sid", messageID)

	contact, err := getOrCreateContact(ctx, s.store, phone)
	if err != nil {
		return err
	}

	if handled, err := s.compliance.Handle(ctx, contact, body); handled {
		return err
	}
	if contact.IsOptedOut() {
		log.Debug("opted_out_message_ignored")
		return nil
	}

	release, err := s.locker.Acquire(ctx, contact.ID.String(), ContactLockTTL)
	switch {
	case errors.Is(err, ErrLockHeld):
		log.Warn("conversation_lock_contention")
		return nil
	case err != nil:
		log.Warn("conversation_lock_unavailable", "error", err)
		release = func() {}
	}

	reply, err := s.advance(ctx, contact, body)
	release()
	if err != nil {
		log.Error("conversation_update_failed", "error", err)
		reply = s.templates.Reply("flow_error", nil)
	}

	if reply != "" {
		if _, sendErr := s.outbound.SendMessage(ctx, contact.PhoneNumber, reply, SendOptions{
			Kind: models.MessageKindConversation,
		}); sendErr != nil {
			log.Warn("conversation_reply_failed", "error", sendErr)
		}
	}
	return err
}

// advance is the locked read-modify-write of the contact's conversation state
func (s *ConversationService) advance(ctx context.Context, contact *models.Contact, body string) (string, error) {
	state, err := s.store.GetConversationState(ctx, contact.ID)
	if errors.Is(err, storage.ErrNotFound) {
		state = &models.ConversationState{ContactID: contact.ID, CurrentState: models.StateIdle}
	} else if err != nil {
		return "", err
	}

	cc, err := models.DecodeContext(state.CurrentState, state.Context)
	if err != nil {
		s.log.Warn("conversation_context_invalid",
			"contact_id", contact.ID,
			"state", state.CurrentState,
			"error", err,
		)
		state.CurrentState = models.StateIdle
	}

	in := &inbound{
		contact: contact,
		message: body,
		state:   cc.Flow.State(),
		history: cc.History,
		loc:     contact.Location(),
	}
	t := s.dispatch(ctx, in, cc.Flow)
	if t.Reply == "" {
		t.Reply = ClarifyText
	}
	t.Reply = Truncate(t.Reply)

	next := models.ConversationContext{
		Flow:       t.Flow,
		History:    models.AppendHistory(cc.History, body, t.Reply),
		LastIntent: string(t.Intent),
	}
	if err := state.Apply(next, s.now().UTC()); err != nil {
		s.log.Error("conversation_transition_invalid", "contact_id", contact.ID, "error", err)
		next.Flow = models.Idle{}
		t.Reply = s.templates.Reply("flow_error", nil)
		next.History = models.AppendHistory(cc.History, body, t.Reply)
		if err := state.Apply(next, s.now().UTC()); err != nil {
			return "", err
		}
	}

	if err := s.store.SaveConversationState(ctx, state); err != nil {
		return "", err
	}

	s.log.Info("conversation_advanced",
		"contact_id", contact.ID,
		"from_state", in.state,
		"to_state", state.CurrentState,
		"intent", t.Intent,
	)
	return t.Reply, nil
}

// dispatch selects the handler for the active flow
func (s *ConversationService) dispatch(ctx context.Context, in *inbound, flow models.Flow) Transition {
	switch f := flow.(type) {
	case models.Idle:
		return s.handleIdle(ctx, in, s.classify(ctx, in, nil))
	case models.ShowingSlots:
		return s.handleShowingSlots(ctx, in, f)
	case models.ConfirmingBooking:
		return s.handleConfirmingBooking(ctx, in, f)
	case models.ConfirmingCancel:
		return s.handleConfirmingCancel(ctx, in, f)
	case models.RescheduleShowSlots:
		return s.handleRescheduleShowSlots(ctx, in, f)
	case models.ConfirmingReschedule:
		return s.handleConfirmingReschedule(ctx, in, f)
	case models.AwaitingInfo:
		return s.handleAwaitingInfo(ctx, in, f)
	}
	s.log.Error("conversation_unknown_flow", "state", in.state)
	return s.handleIdle(ctx, in, s.classify(ctx, in, nil))
}

func (s *ConversationService) classify(ctx context.Context, in *inbound, presented []models.PresentedSlot) IntentResult {
	result, err := s.classifier.DetectIntent(ctx, ClassifyRequest{
		Message:        in.message,
		History:        in.history,
		PresentedSlots: presented,
		State:          in.state,
		Timezone:       in.contact.Timezone,
	})
	if err != nil {
		s.log.Warn("classifier_failed", "error", err)
		return IntentResult{Intent: IntentUnclear, ResponseText: FallbackText}
	}
	return result
}

// ExpireStale resets conversations whose inactivity window has passed
func (s *ConversationService) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.store.ResetExpiredConversations(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("conversations_expired", "count", n)
	}
	return n, nil
}
