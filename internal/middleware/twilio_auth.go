package middleware

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/twilio/twilio-go/client"
)

// ValidateTwilioSignature rejects webhook requests not signed by Twilio
func ValidateTwilioSignature(authToken string, logger *slog.Logger) fiber.Handler {
	validator := client.NewRequestValidator(authToken)

	return func(c *fiber.Ctx) error {
		signature := c.Get("X-Twilio-Signature")
		if signature == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing Twilio signature",
			})
		}

		if authToken == "" {
			logger.Error("twilio_auth_token_missing")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Server configuration error",
			})
		}

		params := make(map[string]string)
		c.Request().PostArgs().VisitAll(func(key, value []byte) {
			params[string(key)] = string(value)
		})

		if !validator.Validate(fullURL(c), params, signature) {
			logger.Warn("twilio_signature_invalid", "path", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid signature",
			})
		}

		return c.Next()
	}
}

// fullURL rebuilds the URL Twilio signed, honoring a proxy's forwarded scheme
func fullURL(c *fiber.Ctx) string {
	protocol := "https"
	if proto := c.Get(fiber.HeaderXForwardedProto); proto != "" {
		protocol = proto
	} else if c.Protocol() == "http" {
		protocol = "http"
	}
	// PathOriginal excludes scheme and host even for absolute-form request lines
	uri := c.Request().URI()
	target := protocol + "://" + c.Hostname() + string(uri.PathOriginal())
	if query := uri.QueryString(); len(query) > 0 {
		target += "?" + string(query)
	}
	return target
}
