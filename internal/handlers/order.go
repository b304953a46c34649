package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/commerce/internal/models"
	"github.com/example/commerce/internal/services"
	"github.com/example/commerce/internal/utils"
)

// IdempotencyKeyHeader lets clients retry a checkout without placing a second order.
const IdempotencyKeyHeader = "Idempotency-Key"

// OrderHandler manages order endpoints.
type OrderHandler struct {
	orders *services.OrderService
}

// NewOrderHandler constructs OrderHandler.
func NewOrderHandler(orders *services.OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

type checkoutRequest struct {
	PaymentMethod   string          `json:"payment_method"`
	Currency        string          `json:"currency"`
	Country         string          `json:"country"`
	CouponCode      string          `json:"coupon_code"`
	LoyaltyDiscount decimal.Decimal `json:"loyalty_discount"`
	Notes           string          `json:"notes"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

// Checkout turns the caller's cart into an order.
func (h *OrderHandler) Checkout(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}

	var req checkoutRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	result, err := h.orders.Checkout(c.UserContext(), services.CheckoutRequest{
		UserID:          userID,
		PaymentMethod:   req.PaymentMethod,
		Currency:        req.Currency,
		Country:         req.Country,
		CouponCode:      req.CouponCode,
		LoyaltyDiscount: req.LoyaltyDiscount,
		Notes:           req.Notes,
		IdempotencyKey:  c.Get(IdempotencyKeyHeader),
	})
	if err != nil {
		if result != nil {
			return respondError(c, err, result)
		}
		return err
	}

	status := fiber.StatusCreated
	if result.Replayed {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{"success": true, "data": result})
}

// ListOrders returns the caller's orders.
func (h *OrderHandler) ListOrders(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	return h.list(c, &userID)
}

// ListAllOrders returns every user's orders; admin only.
func (h *OrderHandler) ListAllOrders(c *fiber.Ctx) error {
	return h.list(c, nil)
}

func (h *OrderHandler) list(c *fiber.Ctx, userID *uuid.UUID) error {
	pg := utils.ParsePagination(c)
	orders, total, err := h.orders.ListOrders(c.UserContext(), services.OrderFilter{
		UserID: userID,
		Status: c.Query("status"),
		Offset: pg.Offset,
		Limit:  pg.Limit,
	})
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       orders,
		"pagination": pg.Meta(total),
	})
}

// GetOrder returns one of the caller's orders.
func (h *OrderHandler) GetOrder(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	orderID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	order, err := h.orders.GetOrder(c.UserContext(), userID, orderID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": order})
}

// CancelOrder cancels one of the caller's orders.
func (h *OrderHandler) CancelOrder(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	orderID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req cancelOrderRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	order, err := h.orders.CancelOrder(c.UserContext(), userID, orderID, req.Reason)
	return respondCancelled(c, order, err)
}

// AdminCancelOrder cancels any order.
func (h *OrderHandler) AdminCancelOrder(c *fiber.Ctx) error {
	orderID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req cancelOrderRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	order, err := h.orders.CancelOrderByID(c.UserContext(), orderID, req.Reason)
	return respondCancelled(c, order, err)
}

// respondCancelled reports a cancellation whose refund failed with the
// cancelled order attached.
func respondCancelled(c *fiber.Ctx, order *models.Order, err error) error {
	if err != nil {
		if order != nil {
			return respondError(c, err, order)
		}
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": order})
}

// InitiatePayment creates the gateway order of a pending online order.
func (h *OrderHandler) InitiatePayment(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	orderID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	payment, err := h.orders.InitiatePayment(c.UserContext(), userID, orderID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": payment})
}

// VerifyPayment confirms a completed gateway checkout.
func (h *OrderHandler) VerifyPayment(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	orderID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	var in services.VerifyPaymentInput
	if err := parseBody(c, &in); err != nil {
		return err
	}
	in.UserID = userID
	in.OrderID = orderID

	order, err := h.orders.VerifyPayment(c.UserContext(), in)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": order})
}
