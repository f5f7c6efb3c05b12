package handlers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberutils "github.com/gofiber/fiber/v2/utils"

	"github.com/Ananth-NQI/smsbook-backend/internal/logging"
	"github.com/Ananth-NQI/smsbook-backend/internal/models"
	"github.com/Ananth-NQI/smsbook-backend/internal/services"
	"github.com/Ananth-NQI/smsbook-backend/internal/utils"
)

// processTimeout bounds the background handling of one inbound message
const processTimeout = 60 * time.Second

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// InboundProcessor runs an inbound message through the conversation
type InboundProcessor interface {
	ProcessInboundMessage(ctx context.Context, phone, body, messageID string) error
}

// MessageLog records inbound messages and delivery callbacks
type MessageLog interface {
	RecordInbound(ctx context.Context, from, body, providerID string) (*models.Contact, error)
	UpdateStatus(ctx context.Context, providerID, status, errorCode, errorMessage string) error
}

// SMSHandler handles Twilio SMS webhooks
type SMSHandler struct {
	processor InboundProcessor
	messages  MessageLog
	dedup     services.InboundDeduper
	log       *slog.Logger
	wg        sync.WaitGroup
}

// NewSMSHandler creates a new SMS webhook handler
func NewSMSHandler(processor InboundProcessor, messages MessageLog, dedup services.InboundDeduper, logger *slog.Logger) *SMSHandler {
	return &SMSHandler{
		processor: processor,
		messages:  messages,
		dedup:     dedup,
		log:       logger,
	}
}

// TwilioSMSPayload is the form Twilio posts for an inbound SMS
type TwilioSMSPayload struct {
	MessageSid string `form:"MessageSid"`
	AccountSid string `form:"AccountSid"`
	From       string `form:"From"`
	To         string `form:"To"`
	Body       string `form:"Body"`
	NumMedia   string `form:"NumMedia"`
}

// TwilioStatusPayload is the form Twilio posts for a delivery status change
type TwilioStatusPayload struct {
	MessageSid    string `form:"MessageSid"`
	MessageStatus string `form:"MessageStatus"`
	ErrorCode     string `form:"ErrorCode"`
	ErrorMessage  string `form:"ErrorMessage"`
}

// HandleInbound acknowledges the webhook immediately and processes the
// message in the background. Redeliveries of a MessageSid are dropped.
func (h *SMSHandler) HandleInbound(c *fiber.Ctx) error {
	var payload TwilioSMSPayload
	if err := c.BodyParser(&payload); err != nil {
		h.log.Warn("inbound_webhook_invalid", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid webhook payload",
		})
	}
	// BodyParser strings alias the request buffer, which fasthttp reuses
	// once the handler returns; everything below outlives the request.
	payload.From = fiberutils.CopyString(payload.From)
	payload.Body = fiberutils.CopyString(payload.Body)
	payload.MessageSid = fiberutils.CopyString(payload.MessageSid)

	from := utils.NormalizePhone(payload.From)
	if !utils.IsValidE164(from) {
		h.log.Warn("inbound_webhook_bad_sender", "from", logging.MaskPhone(payload.From))
		return twiml(c)
	}

	ctx := c.UserContext()
	if payload.MessageSid != "" {
		first, err := h.dedup.FirstSeen(ctx, payload.MessageSid)
		if err != nil {
			h.log.Warn("inbound_dedup_unavailable", "sid", payload.MessageSid, "error", err)
		} else if !first {
			h.log.Info("inbound_duplicate_ignored", "sid", payload.MessageSid)
			return twiml(c)
		}
	}

	if _, err := h.messages.RecordInbound(ctx, from, payload.Body, payload.MessageSid); err != nil {
		if errors.Is(err, services.ErrDuplicateMessage) {
			h.log.Info("inbound_duplicate_ignored", "sid", payload.MessageSid)
			return twiml(c)
		}
		h.log.Error("inbound_record_failed", "sid", payload.MessageSid, "error", err)
	}

	h.wg.Add(1)
	go func(from, body, sid string) {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()
		if err := h.processor.ProcessInboundMessage(ctx, from, body, sid); err != nil {
			h.log.Error("inbound_processing_failed", "sid", sid, "error", err)
		}
	}(from, payload.Body, payload.MessageSid)

	return twiml(c)
}

// HandleStatus applies a delivery status callback
func (h *SMSHandler) HandleStatus(c *fiber.Ctx) error {
	var payload TwilioStatusPayload
	if err := c.BodyParser(&payload); err != nil || payload.MessageSid == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid status payload",
		})
	}

	payload.MessageSid = fiberutils.CopyString(payload.MessageSid)
	payload.MessageStatus = fiberutils.CopyString(payload.MessageStatus)
	payload.ErrorCode = fiberutils.CopyString(payload.ErrorCode)
	payload.ErrorMessage = fiberutils.CopyString(payload.ErrorMessage)

	if err := h.messages.UpdateStatus(c.UserContext(), payload.MessageSid, payload.MessageStatus, payload.ErrorCode, payload.ErrorMessage); err != nil {
		h.log.Error("status_update_failed", "sid", payload.MessageSid, "error", err)
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Drain waits for background processing to finish
func (h *SMSHandler) Drain() {
	h.wg.Wait()
}

func twiml(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/xml")
	return c.SendString(emptyTwiML)
}
