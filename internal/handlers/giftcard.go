package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/example/commerce/internal/services"
)

type GiftCardHandler struct {
	cards *services.GiftCardStore
}

func NewGiftCardHandler(cards *services.GiftCardStore) *GiftCardHandler {
	return &GiftCardHandler{cards: cards}
}

func (h *GiftCardHandler) Get(c *fiber.Ctx) error {
	card, err := h.cards.Get(c.UserContext(), c.Params("code"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": card})
}

func (h *GiftCardHandler) Issue(c *fiber.Ctx) error {
	var in services.IssueGiftCardInput
	if err := parseBody(c, &in); err != nil {
		return err
	}

	card, err := h.cards.Issue(c.UserContext(), in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": card})
}

type giftCardAmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// Redeem spends part of a card's balance.
func (h *GiftCardHandler) Redeem(c *fiber.Ctx) error {
	var req giftCardAmountRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	card, err := h.cards.Deduct(c.UserContext(), c.Params("code"), req.Amount)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": card})
}

// Credit tops a card up and reactivates it.
func (h *GiftCardHandler) Credit(c *fiber.Ctx) error {
	var req giftCardAmountRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	card, err := h.cards.Credit(c.UserContext(), c.Params("code"), req.Amount)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": card})
}
