package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/example/commerce/internal/logger"
	"github.com/example/commerce/internal/services"
)

// DeliveryHandler ships orders and receives courier status updates.
type DeliveryHandler struct {
	shipments *services.ShipmentLinker
}

func NewDeliveryHandler(shipments *services.ShipmentLinker) *DeliveryHandler {
	return &DeliveryHandler{shipments: shipments}
}

// courierPush accepts both the flat event shape and Delhivery's scan push,
// which nests the status under Shipment.
type courierPush struct {
	services.CourierEvent
	Shipment struct {
		AWB    string `json:"AWB"`
		Status struct {
			Status         string `json:"Status"`
			StatusType     string `json:"StatusType"`
			StatusLocation string `json:"StatusLocation"`
		} `json:"Status"`
	} `json:"Shipment"`
}

func (p courierPush) event() services.CourierEvent {
	if p.AWB != "" {
		return p.CourierEvent
	}
	return services.CourierEvent{
		AWB:        p.Shipment.AWB,
		Status:     p.Shipment.Status.Status,
		StatusCode: p.Shipment.Status.StatusType,
		Location:   p.Shipment.Status.StatusLocation,
	}
}

type schedulePickupRequest struct {
	Date         time.Time `json:"date"`
	PackageCount int       `json:"package_count"`
}

// CreateShipment manifests a shipment for an order.
func (h *DeliveryHandler) CreateShipment(c *fiber.Ctx) error {
	orderID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var in services.CreateOrderShipmentInput
	if err := parseBody(c, &in); err != nil {
		return err
	}

	shipment, err := h.shipments.CreateOrderShipment(c.UserContext(), orderID, in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": shipment})
}

func (h *DeliveryHandler) Track(c *fiber.Ctx) error {
	tracking, err := h.shipments.TrackShipment(c.UserContext(), c.Params("awb"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": tracking})
}

func (h *DeliveryHandler) CancelShipment(c *fiber.Ctx) error {
	ref, err := h.shipments.CancelShipment(c.UserContext(), c.Params("awb"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": ref})
}

func (h *DeliveryHandler) SchedulePickup(c *fiber.Ctx) error {
	var req schedulePickupRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	pickup, err := h.shipments.SchedulePickup(c.UserContext(), req.Date, req.PackageCount)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": pickup})
}

// Webhook applies a courier status push. Unknown waybills are acknowledged so
// the courier does not keep retrying them.
func (h *DeliveryHandler) Webhook(c *fiber.Ctx) error {
	var push courierPush
	if err := parseBody(c, &push); err != nil {
		return err
	}
	event := push.event()
	if event.AWB == "" {
		return fiber.NewError(fiber.StatusBadRequest, "awb is required")
	}

	ref, status, err := h.shipments.HandleCourierEvent(c.UserContext(), event)
	if services.KindOf(err) == services.KindNotFound {
		logger.Get().Warn("courier event for unknown awb", zap.String("awb", event.AWB))
		return c.JSON(fiber.Map{"success": true, "message": "ignored"})
	}
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"reference": ref,
			"status":    status,
		},
	})
}
