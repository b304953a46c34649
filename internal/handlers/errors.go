package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/example/commerce/internal/logger"
	"github.com/example/commerce/internal/services"
)

// ErrorHandler renders every error returned by a handler as
// {"success": false, "message": ..., "request_id": ...}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	return respondError(c, err, nil)
}

// respondError writes an error response. data, when set, carries the state
// that was persisted before the failure.
func respondError(c *fiber.Ctx, err error, data any) error {
	status, message := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		logger.Get().Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Any("request_id", requestID(c)),
			zap.Error(err),
		)
	}

	body := fiber.Map{
		"success":    false,
		"message":    message,
		"request_id": requestID(c),
	}
	if data != nil {
		body["data"] = data
	}
	return c.Status(status).JSON(body)
}

func statusFor(err error) (int, string) {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code, fe.Message
	}

	var se *services.Error
	if !errors.As(err, &se) {
		return fiber.StatusInternalServerError, "internal server error"
	}
	switch se.Kind {
	case services.KindValidation:
		return fiber.StatusBadRequest, se.Message
	case services.KindNotFound:
		return fiber.StatusNotFound, se.Message
	case services.KindConflict:
		return fiber.StatusConflict, se.Message
	case services.KindForbidden:
		return fiber.StatusForbidden, se.Message
	case services.KindExternal:
		return fiber.StatusBadGateway, se.Message
	default:
		return fiber.StatusInternalServerError, "internal server error"
	}
}

func requestID(c *fiber.Ctx) any {
	if id := c.Locals("requestid"); id != nil {
		return id
	}
	return c.GetRespHeader(fiber.HeaderXRequestID)
}
