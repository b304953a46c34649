package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
)

// WebhookTokenHeader carries the shared secret of inbound courier webhooks.
const WebhookTokenHeader = "X-Webhook-Token"

// WebhookTokenMiddleware validates the shared secret sent by the courier.
func WebhookTokenMiddleware(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		got := c.Get(WebhookTokenHeader)
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid webhook token")
		}
		return c.Next()
	}
}
