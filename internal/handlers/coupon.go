package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/example/commerce/internal/services"
	"github.com/example/commerce/internal/utils"
)

type CouponHandler struct {
	coupons *services.CouponStore
}

func NewCouponHandler(coupons *services.CouponStore) *CouponHandler {
	return &CouponHandler{coupons: coupons}
}

type validateCouponRequest struct {
	Code   string          `json:"code"`
	Amount decimal.Decimal `json:"amount"`
}

// Validate previews a coupon against an order amount without claiming it.
func (h *CouponHandler) Validate(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	var req validateCouponRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.Code == "" {
		return fiber.NewError(fiber.StatusBadRequest, "code is required")
	}

	preview, err := h.coupons.ValidateOnly(c.UserContext(), req.Code, userID, req.Amount)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": preview})
}

func (h *CouponHandler) Create(c *fiber.Ctx) error {
	var in services.CreateCouponInput
	if err := parseBody(c, &in); err != nil {
		return err
	}

	coupon, err := h.coupons.Create(c.UserContext(), in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": coupon})
}

func (h *CouponHandler) List(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	coupons, total, err := h.coupons.List(c.UserContext(), pg.Offset, pg.Limit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success":    true,
		"data":       coupons,
		"pagination": pg.Meta(total),
	})
}

func (h *CouponHandler) Deactivate(c *fiber.Ctx) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.coupons.Deactivate(c.UserContext(), id); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "message": "coupon deactivated"})
}
