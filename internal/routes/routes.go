package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/commerce/internal/handlers"
	"github.com/example/commerce/internal/middleware"
)

// Handlers groups every HTTP handler the API exposes.
type Handlers struct {
	Orders    *handlers.OrderHandler
	Coupons   *handlers.CouponHandler
	Returns   *handlers.ReturnHandler
	Delivery  *handlers.DeliveryHandler
	GiftCards *handlers.GiftCardHandler
	Loyalty   *handlers.LoyaltyHandler
}

// Security holds the secrets route guards check against.
type Security struct {
	JWTSecret    string
	WebhookToken string
}

// Register wires up all HTTP routes.
func Register(app fiber.Router, h Handlers, sec Security) {
	api := app.Group("/api")

	// Courier pushes authenticate with a shared token instead of a JWT.
	webhooks := api.Group("/webhooks")
	webhooks.Post("/delhivery", middleware.WebhookTokenMiddleware(sec.WebhookToken), h.Delivery.Webhook)

	auth := middleware.AuthMiddleware(sec.JWTSecret)

	orders := api.Group("/orders", auth)
	orders.Post("/", h.Orders.Checkout)
	orders.Get("/", h.Orders.ListOrders)
	orders.Get("/:id", h.Orders.GetOrder)
	orders.Post("/:id/cancel", h.Orders.CancelOrder)
	orders.Post("/:id/pay", h.Orders.InitiatePayment)
	orders.Post("/:id/verify-payment", h.Orders.VerifyPayment)

	api.Post("/coupons/validate", auth, h.Coupons.Validate)

	returns := api.Group("/returns", auth)
	returns.Post("/", h.Returns.Create)
	returns.Get("/", h.Returns.List)
	returns.Get("/:id", h.Returns.Get)
	returns.Post("/:id/cancel", h.Returns.Cancel)

	api.Get("/gift-cards/:code", auth, h.GiftCards.Get)
	api.Get("/loyalty", auth, h.Loyalty.Summary)

	admin := api.Group("/admin", auth, middleware.AdminOnly())

	admin.Get("/orders", h.Orders.ListAllOrders)
	admin.Post("/orders/:id/cancel", h.Orders.AdminCancelOrder)
	admin.Post("/orders/:id/shipment", h.Delivery.CreateShipment)

	admin.Get("/shipments/:awb/track", h.Delivery.Track)
	admin.Post("/shipments/:awb/cancel", h.Delivery.CancelShipment)
	admin.Post("/shipments/pickup", h.Delivery.SchedulePickup)

	admin.Post("/coupons", h.Coupons.Create)
	admin.Get("/coupons", h.Coupons.List)
	admin.Post("/coupons/:id/deactivate", h.Coupons.Deactivate)

	admin.Get("/returns", h.Returns.ListAll)
	admin.Post("/returns/:id/approve", h.Returns.Approve)
	admin.Post("/returns/:id/reject", h.Returns.Reject)

	admin.Post("/gift-cards", h.GiftCards.Issue)
	admin.Post("/gift-cards/:code/redeem", h.GiftCards.Redeem)
	admin.Post("/gift-cards/:code/credit", h.GiftCards.Credit)
}
