package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/commerce/internal/services"
)

// TestStatusFor verifies error kinds map to HTTP statuses and safe messages.
func TestStatusFor(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"fiber error", fiber.NewError(fiber.StatusUnauthorized, "unauthorized"), 401, "unauthorized"},
		{"validation", services.Validation("qty %d", 0), 400, "qty 0"},
		{"not found", services.NotFound("order not found"), 404, "order not found"},
		{"conflict", services.Conflict("already paid"), 409, "already paid"},
		{"forbidden", services.Forbidden("not yours"), 403, "not yours"},
		{"external", services.External(errors.New("timeout"), "refund failed"), 502, "refund failed"},
		{"wrapped", fmt.Errorf("cancel: %w", services.Conflict("shipped")), 409, "shipped"},
		{"unexpected", errors.New("db down"), 500, "internal server error"},
		{"unknown kind", &services.Error{Message: "odd"}, 500, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, message := statusFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.message, message)
		})
	}
}

// TestRespondError verifies partial results travel with the error body.
func TestRespondError(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Get("/partial", func(c *fiber.Ctx) error {
		return respondError(c, services.External(errors.New("503"), "refund failed"), fiber.Map{"id": "ret-1"})
	})
	app.Get("/plain", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/partial", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "refund failed", body["message"])
	assert.Equal(t, "ret-1", body["data"].(map[string]any)["id"])

	resp, err = app.Test(httptest.NewRequest("GET", "/plain", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)

	body = nil
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "internal server error", body["message"])
	assert.NotContains(t, body, "data")
}
