package handlers

import (
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/Ananth-NQI/smsbook-backend/internal/services"
	"github.com/Ananth-NQI/smsbook-backend/internal/storage"
)

const defaultSlotListLimit = 20

// AdminHandler handles operator requests for slots, appointments and campaigns
type AdminHandler struct {
	booking   *services.BookingService
	campaigns *services.CampaignService
	log       *slog.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(booking *services.BookingService, campaigns *services.CampaignService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		booking:   booking,
		campaigns: campaigns,
		log:       logger,
	}
}

// writeError maps domain errors to HTTP statuses
func (h *AdminHandler) writeError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrSlotUnavailable),
		errors.Is(err, services.ErrAppointmentNotActive),
		errors.Is(err, services.ErrCampaignState):
		status = fiber.StatusConflict
	case errors.Is(err, services.ErrAppointmentNotFound),
		errors.Is(err, services.ErrSlotNotFound),
		errors.Is(err, services.ErrCampaignNotFound),
		errors.Is(err, storage.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, services.ErrEmptyTemplate):
		status = fiber.StatusBadRequest
	}

	if status == fiber.StatusInternalServerError {
		h.log.Error("admin_request_failed", "path", c.Path(), "error", err)
		return c.Status(status).JSON(fiber.Map{"error": "Internal server error"})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func paramID(c *fiber.Ctx) (uuid.UUID, error) {
	return uuid.Parse(c.Params("id"))
}

// ListSlots returns open slots. Query: from, to (RFC3339), limit, provider_id.
func (h *AdminHandler) ListSlots(c *fiber.Ctx) error {
	from := time.Now().UTC()
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return badRequest(c, "from must be RFC3339")
		}
		from = t
	}
	to := from.Add(services.DefaultLookahead)
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return badRequest(c, "to must be RFC3339")
		}
		to = t
	}
	limit := c.QueryInt("limit", defaultSlotListLimit)

	var providerID *uuid.UUID
	if v := c.Query("provider_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return badRequest(c, "provider_id must be a uuid")
		}
		providerID = &id
	}

	slots, err := h.booking.GetAvailableSlots(c.UserContext(), from, to, providerID, limit)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"slots":   slots,
		"count":   len(slots),
	})
}

// SeedSlots creates business-hours slots for the coming days
func (h *AdminHandler) SeedSlots(c *fiber.Ctx) error {
	days, err := strconv.Atoi(c.Query("days", "7"))
	if err != nil || days < 1 {
		return badRequest(c, "days must be a positive integer")
	}
	created, err := h.booking.SeedBusinessHours(c.UserContext(), time.Now().UTC(), days)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"created": created,
	})
}

// CreateAppointment books a slot for a contact
func (h *AdminHandler) CreateAppointment(c *fiber.Ctx) error {
	var req struct {
		ContactID uuid.UUID `json:"contact_id"`
		SlotID    uuid.UUID `json:"slot_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.ContactID == uuid.Nil || req.SlotID == uuid.Nil {
		return badRequest(c, "contact_id and slot_id are required")
	}

	appt, err := h.booking.BookAppointment(c.UserContext(), req.ContactID, req.SlotID)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":     true,
		"appointment": appt,
	})
}

// CancelAppointment cancels an appointment and reopens its slot
func (h *AdminHandler) CancelAppointment(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return badRequest(c, "Invalid appointment id")
	}
	var req struct {
		Reason *string `json:"reason"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
	}

	appt, err := h.booking.CancelAppointment(c.UserContext(), id, req.Reason)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"success":     true,
		"appointment": appt,
	})
}

// RescheduleAppointment moves an appointment to another slot
func (h *AdminHandler) RescheduleAppointment(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return badRequest(c, "Invalid appointment id")
	}
	var req struct {
		SlotID uuid.UUID `json:"slot_id"`
	}
	if err := c.BodyParser(&req); err != nil || req.SlotID == uuid.Nil {
		return badRequest(c, "slot_id is required")
	}

	appt, err := h.booking.RescheduleAppointment(c.UserContext(), id, req.SlotID)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"success":     true,
		"appointment": appt,
	})
}

// CreateCampaign snapshots opted-in contacts into a draft campaign
func (h *AdminHandler) CreateCampaign(c *fiber.Ctx) error {
	var req struct {
		Name            string `json:"name"`
		MessageTemplate string `json:"message_template"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Name == "" {
		return badRequest(c, "name is required")
	}

	campaign, err := h.campaigns.CreateCampaign(c.UserContext(), req.Name, req.MessageTemplate)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":  true,
		"campaign": campaign,
	})
}

// ActivateCampaign starts a campaign
func (h *AdminHandler) ActivateCampaign(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return badRequest(c, "Invalid campaign id")
	}
	campaign, err := h.campaigns.Activate(c.UserContext(), id)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "campaign": campaign})
}

// PauseCampaign pauses an active campaign
func (h *AdminHandler) PauseCampaign(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return badRequest(c, "Invalid campaign id")
	}
	campaign, err := h.campaigns.Pause(c.UserContext(), id)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "campaign": campaign})
}

// ScheduleCampaign sets a draft campaign to start at scheduled_at
func (h *AdminHandler) ScheduleCampaign(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return badRequest(c, "Invalid campaign id")
	}
	var req struct {
		ScheduledAt time.Time `json:"scheduled_at"`
	}
	if err := c.BodyParser(&req); err != nil || req.ScheduledAt.IsZero() {
		return badRequest(c, "scheduled_at is required")
	}
	campaign, err := h.campaigns.Schedule(c.UserContext(), id, req.ScheduledAt)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "campaign": campaign})
}

// CampaignStats returns recipient counts for a campaign
func (h *AdminHandler) CampaignStats(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return badRequest(c, "Invalid campaign id")
	}
	stats, err := h.campaigns.Stats(c.UserContext(), id)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "stats": stats})
}
