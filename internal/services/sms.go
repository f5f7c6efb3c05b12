package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Ananth-NQI/smsbook-backend/internal/logging"
	"github.com/Ananth-NQI/smsbook-backend/internal/models"
	"github.com/Ananth-NQI/smsbook-backend/internal/storage"
	"github.com/Ananth-NQI/smsbook-backend/internal/utils"
	"github.com/google/uuid"
)

// SendOptions tune a single outbound message
type SendOptions struct {
	// ForceSend bypasses opt-out suppression. Only compliance replies set it.
	ForceSend     bool
	Kind          string
	CampaignID    *uuid.UUID
	AppointmentID *uuid.UUID
}

// OutboundChannel is the durable SMS send used by conversation, compliance,
// campaigns and reminders.
type OutboundChannel interface {
	SendMessage(ctx context.Context, to, body string, opts SendOptions) (*models.Message, error)
}

// SMSService logs every message and sends through the provider with bounded retries
type SMSService struct {
	store       storage.Store
	provider    SMSProvider
	maxAttempts int
	backoff     func(attempt int) time.Duration
	log         *slog.Logger
}

// NewSMSService creates the outbound channel. maxAttempts below 1 means 3.
func NewSMSService(store storage.Store, provider SMSProvider, maxAttempts int, logger *slog.Logger) *SMSService {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	return &SMSService{
		store:       store,
		provider:    provider,
		maxAttempts: maxAttempts,
		backoff:     exponentialBackoff,
		log:         logger,
	}
}

// exponentialBackoff waits 1s, 2s, 4s... after each failed attempt
func exponentialBackoff(attempt int) time.Duration {
	return time.Second << attempt
}

// SendMessage validates the destination, records a queued message and sends
// it. Retryable provider errors are retried with backoff; the message ends
// sent or failed. A failed message is returned together with the error.
func (s *SMSService) SendMessage(ctx context.Context, to, body string, opts SendOptions) (*models.Message, error) {
	if !utils.IsValidE164(to) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPhoneNumber, logging.MaskPhone(to))
	}

	contact, err := getOrCreateContact(ctx, s.store, to)
	if err != nil {
		return nil, err
	}
	if contact.IsOptedOut() && !opts.ForceSend {
		return nil, ErrContactOptedOut
	}

	kind := opts.Kind
	if kind == "" {
		kind = models.MessageKindConversation
	}
	contactID := contact.ID
	msg := &models.Message{
		ContactID:     &contactID,
		Direction:     models.DirectionOutbound,
		Kind:          kind,
		Body:          Truncate(body),
		Status:        models.MessageStatusQueued,
		CampaignID:    opts.CampaignID,
		AppointmentID: opts.AppointmentID,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		s.log.Info("sending_sms_attempt", "to", logging.MaskPhone(to), "attempt", attempt+1)

		sid, err := s.provider.Send(ctx, to, msg.Body)
		if err == nil {
			msg.ProviderMessageID = &sid
			msg.Status = models.MessageStatusSent
			msg.ErrorCode, msg.ErrorMessage = nil, nil
			if err := s.store.UpdateMessage(ctx, msg); err != nil {
				s.log.Error("message_update_failed", "message_id", msg.ID, "error", err)
			}
			return msg, nil
		}
		lastErr = err

		pErr := asProviderError(err)
		s.log.Warn("send_sms_failed",
			"to", logging.MaskPhone(to),
			"attempt", attempt+1,
			"status", pErr.Status,
			"code", pErr.Code,
			"error", err,
		)
		if !pErr.Retryable() || attempt == s.maxAttempts-1 {
			s.markFailed(ctx, msg, pErr)
			return msg, err
		}

		if err := sleepCtx(ctx, s.backoff(attempt)); err != nil {
			s.markFailed(ctx, msg, &ProviderError{Err: err})
			return msg, err
		}
	}
	return msg, lastErr
}

func (s *SMSService) markFailed(ctx context.Context, msg *models.Message, pErr *ProviderError) {
	msg.Status = models.MessageStatusFailed
	msg.Terminal = pErr.Terminal()
	if pErr.Code != 0 {
		code := strconv.Itoa(pErr.Code)
		msg.ErrorCode = &code
	}
	text := pErr.Error()
	msg.ErrorMessage = &text
	// The failure must be recorded even if the caller's context is gone.
	if err := s.store.UpdateMessage(context.WithoutCancel(ctx), msg); err != nil {
		s.log.Error("message_update_failed", "message_id", msg.ID, "error", err)
	}
}

// RecordInbound logs an inbound SMS against its contact
func (s *SMSService) RecordInbound(ctx context.Context, from, body, providerID string) (*models.Contact, error) {
	contact, err := getOrCreateContact(ctx, s.store, from)
	if err != nil {
		return nil, err
	}

	s.log.Info("inbound_sms_received", "from", logging.MaskPhone(from), "sid", providerID)

	contactID := contact.ID
	msg := &models.Message{
		ContactID: &contactID,
		Direction: models.DirectionInbound,
		Body:      body,
		Status:    models.MessageStatusReceived,
	}
	if providerID != "" {
		msg.ProviderMessageID = &providerID
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return contact, ErrDuplicateMessage
		}
		return nil, err
	}
	return contact, nil
}

// UpdateStatus applies a provider delivery callback
func (s *SMSService) UpdateStatus(ctx context.Context, providerID, status, errorCode, errorMessage string) error {
	msg, err := s.store.GetMessageByProviderID(ctx, providerID)
	if errors.Is(err, storage.ErrNotFound) {
		s.log.Warn("status_update_missing_message", "sid", providerID)
		return nil
	}
	if err != nil {
		return err
	}

	msg.Status = normalizeDeliveryStatus(status)
	if errorCode != "" {
		msg.ErrorCode = &errorCode
		if code, convErr := strconv.Atoi(errorCode); convErr == nil && terminalProviderCodes[code] {
			msg.Terminal = true
		}
	}
	if errorMessage != "" {
		msg.ErrorMessage = &errorMessage
	}
	return s.store.UpdateMessage(ctx, msg)
}

// normalizeDeliveryStatus folds provider statuses into the message statuses
func normalizeDeliveryStatus(status string) string {
	switch status {
	case "delivered", "read":
		return models.MessageStatusDelivered
	case "failed", "undelivered", "canceled":
		return models.MessageStatusFailed
	case "queued", "accepted", "scheduled":
		return models.MessageStatusQueued
	default:
		return models.MessageStatusSent
	}
}

// RetryFailed resends failed, non-terminal outbound messages below the retry
// cap, one attempt each. Messages to contacts who opted out since are made
// terminal, except compliance replies.
func (s *SMSService) RetryFailed(ctx context.Context, limit int) (int, error) {
	msgs, err := s.store.GetRetryableMessages(ctx, s.maxAttempts, limit)
	if err != nil {
		return 0, err
	}

	resent := 0
	for _, msg := range msgs {
		if ctx.Err() != nil {
			return resent, ctx.Err()
		}
		if msg.ContactID == nil {
			continue
		}
		contact, err := s.store.GetContact(ctx, *msg.ContactID)
		if err != nil {
			s.log.Warn("retry_contact_missing", "message_id", msg.ID, "error", err)
			continue
		}
		if contact.IsOptedOut() && msg.Kind != models.MessageKindCompliance {
			msg.Terminal = true
			if err := s.store.UpdateMessage(ctx, msg); err != nil {
				return resent, err
			}
			continue
		}

		msg.RetryCount++
		sid, sendErr := s.provider.Send(ctx, contact.PhoneNumber, msg.Body)
		if sendErr != nil {
			pErr := asProviderError(sendErr)
			msg.Terminal = pErr.Terminal()
			text := pErr.Error()
			msg.ErrorMessage = &text
			s.log.Warn("retry_send_failed", "message_id", msg.ID, "retry_count", msg.RetryCount, "error", sendErr)
		} else {
			msg.ProviderMessageID = &sid
			msg.Status = models.MessageStatusSent
			msg.ErrorCode, msg.ErrorMessage = nil, nil
			resent++
		}
		if err := s.store.UpdateMessage(ctx, msg); err != nil {
			return resent, err
		}
	}
	return resent, nil
}

func asProviderError(err error) *ProviderError {
	var pErr *ProviderError
	if errors.As(err, &pErr) {
		return pErr
	}
	return &ProviderError{Err: err}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
