package routes

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/Ananth-NQI/smsbook-backend/internal/handlers"
	"github.com/Ananth-NQI/smsbook-backend/internal/middleware"
)

// Options carries what route setup needs from configuration
type Options struct {
	Version         string
	TwilioAuthToken string
	SkipWebhookAuth bool
	AdminAPIKey     string
	Logger          *slog.Logger
}

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, sms *handlers.SMSHandler, admin *handlers.AdminHandler, health *handlers.HealthHandler, opts Options) {
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "SMS Booking Backend",
			"version": opts.Version,
			"endpoints": fiber.Map{
				"health":  "/health",
				"webhook": "/webhooks/sms/inbound",
				"admin":   "/admin",
			},
		})
	})

	app.Get("/health", health.Check)

	// ========== WEBHOOK ROUTES ==========
	webhooks := app.Group("/webhooks/sms")
	if opts.SkipWebhookAuth {
		opts.Logger.Warn("twilio_webhook_validation_disabled")
	} else {
		webhooks.Use(middleware.ValidateTwilioSignature(opts.TwilioAuthToken, opts.Logger))
	}
	webhooks.Post("/inbound", sms.HandleInbound)
	webhooks.Post("/status", sms.HandleStatus)

	// ========== ADMIN ROUTES ==========
	adminGroup := app.Group("/admin", middleware.RequireAPIKey(opts.AdminAPIKey))
	adminGroup.Get("/slots", admin.ListSlots)
	adminGroup.Post("/slots/seed", admin.SeedSlots)
	adminGroup.Post("/appointments", admin.CreateAppointment)
	adminGroup.Post("/appointments/:id/cancel", admin.CancelAppointment)
	adminGroup.Post("/appointments/:id/reschedule", admin.RescheduleAppointment)
	adminGroup.Post("/campaigns", admin.CreateCampaign)
	adminGroup.Post("/campaigns/:id/activate", admin.ActivateCampaign)
	adminGroup.Post("/campaigns/:id/pause", admin.PauseCampaign)
	adminGroup.Post("/campaigns/:id/schedule", admin.ScheduleCampaign)
	adminGroup.Get("/campaigns/:id/stats", admin.CampaignStats)
}
