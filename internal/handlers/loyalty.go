package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/commerce/internal/services"
)

// LoyaltyHandler shows the caller's loyalty balance and ledger.
type LoyaltyHandler struct {
	loyalty *services.LoyaltyService
}

func NewLoyaltyHandler(loyalty *services.LoyaltyService) *LoyaltyHandler {
	return &LoyaltyHandler{loyalty: loyalty}
}

func (h *LoyaltyHandler) Summary(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}

	balance, err := h.loyalty.GetBalance(c.UserContext(), userID)
	if err != nil {
		return err
	}
	transactions, err := h.loyalty.ListTransactions(c.UserContext(), userID)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"balance":      balance,
			"transactions": transactions,
		},
	})
}
