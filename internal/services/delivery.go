package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/commerce/internal/logger"
	"github.com/example/commerce/internal/models"
)

// ReferenceType names the aggregate that owns a shipment.
type ReferenceType string

const (
	ReferenceOrder   ReferenceType = "Order"
	ReferenceBuyback ReferenceType = "Buyback"
	ReferenceReturn  ReferenceType = "Return"
)

// ShipmentRef points at the aggregate that owns a shipment.
type ShipmentRef struct {
	ID   uuid.UUID     `json:"id"`
	Type ReferenceType `json:"type"`
}

type DeliveryDetails struct {
	AWB     string `json:"awb"`
	Courier string `json:"courier"`
	Status  string `json:"status"`
}

// CourierEvent is the inbound courier status webhook payload.
type CourierEvent struct {
	AWB        string `json:"awb"`
	Status     string `json:"status"`
	StatusCode string `json:"status_code"`
	Location   string `json:"location"`
}

// CreateOrderShipmentInput is the admin request to ship an order.
type CreateOrderShipmentInput struct {
	Consignee     ShipmentAddress `json:"consignee"`
	WeightGrams   int             `json:"weight_grams"`
	International bool            `json:"international"`
}

var courierStatuses = map[string]string{
	"MANIFESTED":       models.DeliveryPickupScheduled,
	"OPEN":             models.DeliveryPickupScheduled,
	"SCHEDULED":        models.DeliveryPickupScheduled,
	"PICKUP SCHEDULED": models.DeliveryPickupScheduled,
	"PICKUP_SCHEDULED": models.DeliveryPickupScheduled,
	"PICKED UP":        models.DeliveryPickedUp,
	"PICKED_UP":        models.DeliveryPickedUp,
	"PICKEDUP":         models.DeliveryPickedUp,
	"IN TRANSIT":       models.DeliveryInTransit,
	"IN_TRANSIT":       models.DeliveryInTransit,
	"PENDING":          models.DeliveryInTransit,
	"DISPATCHED":       models.DeliveryOutForDelivery,
	"OUT FOR DELIVERY": models.DeliveryOutForDelivery,
	"OUT_FOR_DELIVERY": models.DeliveryOutForDelivery,
	"DELIVERED":        models.DeliveryDelivered,
	"RTO":              models.DeliveryRTO,
	"RTO INITIATED":    models.DeliveryRTO,
	"RTO IN TRANSIT":   models.DeliveryRTO,
	"RTO DELIVERED":    models.DeliveryRTO,
	"RETURNED":         models.DeliveryRTO,
	"CANCELLED":        models.DeliveryCancelled,
	"CANCELED":         models.DeliveryCancelled,
	"FAILED":           models.DeliveryFailed,
	"LOST":             models.DeliveryFailed,
	"UNDELIVERED":      models.DeliveryFailed,
}

// Delhivery StatusType codes, used when the status text is missing.
var courierStatusCodes = map[string]string{
	"PU": models.DeliveryPickedUp,
	"UD": models.DeliveryInTransit,
	"DL": models.DeliveryDelivered,
	"RT": models.DeliveryRTO,
	"CN": models.DeliveryCancelled,
}

// MapCourierStatus maps a courier status string (or, when empty, its status
// code) to the internal vocabulary. Unknown statuses map to IN_TRANSIT.
func MapCourierStatus(status, code string) string {
	normalized := strings.ToUpper(strings.Join(strings.Fields(status), " "))
	if mapped, ok := courierStatuses[normalized]; ok {
		return mapped
	}
	if normalized == "" {
		if mapped, ok := courierStatusCodes[strings.ToUpper(strings.TrimSpace(code))]; ok {
			return mapped
		}
	}
	return models.DeliveryInTransit
}

// ShipmentLinker ties courier shipments to orders, buybacks and returns.
type ShipmentLinker struct {
	db      *gorm.DB
	courier CourierClient
	log     *zap.Logger
	now     func() time.Time
}

// NewShipmentLinker creates a linker. courier may be nil when shipments are
// only linked, never created.
func NewShipmentLinker(db *gorm.DB, courier CourierClient) *ShipmentLinker {
	return &ShipmentLinker{
		db:      db,
		courier: courier,
		log:     logger.Named("shipments"),
		now:     time.Now,
	}
}

func modelFor(refType ReferenceType) (any, error) {
	switch refType {
	case ReferenceOrder:
		return &models.Order{}, nil
	case ReferenceBuyback:
		return &models.Buyback{}, nil
	case ReferenceReturn:
		return &models.ReturnOrder{}, nil
	default:
		return nil, Validation("unknown reference type %q", refType)
	}
}

func (l *ShipmentLinker) update(ctx context.Context, ref ShipmentRef, updates map[string]any) error {
	model, err := modelFor(ref.Type)
	if err != nil {
		return err
	}
	res := l.db.WithContext(ctx).Model(model).Where("id = ?", ref.ID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update %s %s: %w", ref.Type, ref.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return NotFound("%s %s not found", strings.ToLower(string(ref.Type)), ref.ID)
	}
	return nil
}

// UpdateDeliveryDetails links a shipment to its owner. Linking a shipment
// marks a Paid order, or a Pending cash-on-delivery order, as Shipped.
func (l *ShipmentLinker) UpdateDeliveryDetails(ctx context.Context, ref ShipmentRef, details DeliveryDetails) error {
	if strings.TrimSpace(details.AWB) == "" {
		return Validation("awb is required")
	}
	status := details.Status
	if status == "" {
		status = models.DeliveryPickupScheduled
	}

	if err := l.update(ctx, ref, map[string]any{
		"awb":             strings.TrimSpace(details.AWB),
		"courier":         details.Courier,
		"delivery_status": status,
	}); err != nil {
		return err
	}

	if ref.Type == ReferenceOrder {
		if err := l.db.WithContext(ctx).Model(&models.Order{}).
			Where("id = ? AND (status = ? OR (status = ? AND payment_method = ?))",
				ref.ID, models.OrderStatusPaid, models.OrderStatusPending, models.PaymentMethodCOD).
			Updates(map[string]any{
				"status":     models.OrderStatusShipped,
				"shipped_at": l.now(),
			}).Error; err != nil {
			return fmt.Errorf("mark order shipped: %w", err)
		}
	}
	return nil
}

// UpdateDeliveryStatus stores the internal delivery status of a shipment. A
// delivered order moves to Delivered; a delivered cash-on-delivery order is
// also marked paid.
func (l *ShipmentLinker) UpdateDeliveryStatus(ctx context.Context, ref ShipmentRef, status, location string) error {
	updates := map[string]any{"delivery_status": status}
	if location != "" {
		updates["delivery_location"] = location
	}
	if err := l.update(ctx, ref, updates); err != nil {
		return err
	}

	if ref.Type != ReferenceOrder || status != models.DeliveryDelivered {
		return nil
	}

	now := l.now()
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Order{}).
			Where("id = ? AND status <> ?", ref.ID, models.OrderStatusCancelled).
			Updates(map[string]any{
				"status":       models.OrderStatusDelivered,
				"delivered_at": now,
			}).Error; err != nil {
			return err
		}
		return tx.Model(&models.Order{}).
			Where("id = ? AND payment_method = ? AND payment_status = ?", ref.ID, models.PaymentMethodCOD, models.PaymentStatusPending).
			Updates(map[string]any{
				"payment_status": models.PaymentStatusPaid,
				"paid_at":        now,
			}).Error
	})
}

// ResolveByAWB finds the owner of a shipment, checking orders, then
// buybacks, then returns.
func (l *ShipmentLinker) ResolveByAWB(ctx context.Context, awb string) (ShipmentRef, error) {
	awb = strings.TrimSpace(awb)
	if awb == "" {
		return ShipmentRef{}, Validation("awb is required")
	}

	lookups := []ReferenceType{ReferenceOrder, ReferenceBuyback, ReferenceReturn}
	for _, refType := range lookups {
		model, _ := modelFor(refType)
		var ids []uuid.UUID
		if err := l.db.WithContext(ctx).Model(model).Where("awb = ?", awb).Limit(1).Pluck("id", &ids).Error; err != nil {
			return ShipmentRef{}, fmt.Errorf("resolve awb %s: %w", awb, err)
		}
		if len(ids) > 0 {
			return ShipmentRef{ID: ids[0], Type: refType}, nil
		}
	}
	return ShipmentRef{}, NotFound("no shipment with awb %s", awb)
}

// HandleCourierEvent applies an inbound courier status update.
func (l *ShipmentLinker) HandleCourierEvent(ctx context.Context, event CourierEvent) (ShipmentRef, string, error) {
	ref, err := l.ResolveByAWB(ctx, event.AWB)
	if err != nil {
		return ShipmentRef{}, "", err
	}
	status := MapCourierStatus(event.Status, event.StatusCode)
	if err := l.UpdateDeliveryStatus(ctx, ref, status, event.Location); err != nil {
		return ref, status, err
	}

	l.log.Info("courier status applied",
		zap.String("awb", event.AWB),
		zap.String("reference_type", string(ref.Type)),
		zap.String("courier_status", event.Status),
		zap.String("status", status),
	)
	return ref, status, nil
}

// CreateOrderShipment manifests a shipment for an order and links its AWB.
func (l *ShipmentLinker) CreateOrderShipment(ctx context.Context, orderID uuid.UUID, in CreateOrderShipmentInput) (*ShipmentResult, error) {
	if l.courier == nil {
		return nil, errors.New("courier client not configured")
	}

	var order models.Order
	err := l.db.WithContext(ctx).Preload("Items").Where("id = ?", orderID).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("order not found")
	}
	if err != nil {
		return nil, err
	}
	if order.AWB != "" {
		return nil, Conflict("order %s already has shipment %s", order.OrderNumber, order.AWB)
	}
	shippable := order.Status == models.OrderStatusPaid ||
		(order.Status == models.OrderStatusPending && order.PaymentMethod == models.PaymentMethodCOD)
	if !shippable {
		return nil, Conflict("order %s in status %s cannot be shipped", order.OrderNumber, order.Status)
	}

	qty := 0
	names := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		qty += item.Quantity
		names = append(names, item.ProductName)
	}

	req := CreateShipmentRequest{
		OrderNumber:   order.OrderNumber,
		Consignee:     in.Consignee,
		PaymentMode:   ShipmentPaymentPrepaid,
		TotalAmount:   order.TotalAmount,
		Quantity:      qty,
		WeightGrams:   in.WeightGrams,
		Description:   strings.Join(names, ", "),
		International: in.International,
	}
	if order.PaymentMethod == models.PaymentMethodCOD && order.PaymentStatus != models.PaymentStatusPaid {
		req.PaymentMode = ShipmentPaymentCOD
		req.CODAmount = order.TotalAmount
	}

	shipment, err := l.courier.CreateShipment(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := l.UpdateDeliveryDetails(ctx, ShipmentRef{ID: order.ID, Type: ReferenceOrder}, DeliveryDetails{
		AWB:     shipment.AWB,
		Courier: CourierDelhivery,
		Status:  models.DeliveryPickupScheduled,
	}); err != nil {
		return nil, err
	}
	return shipment, nil
}

// TrackShipment returns live tracking from the courier.
func (l *ShipmentLinker) TrackShipment(ctx context.Context, awb string) (*TrackingResult, error) {
	if l.courier == nil {
		return nil, errors.New("courier client not configured")
	}
	return l.courier.Track(ctx, awb)
}

// CancelShipment cancels a shipment with the courier and marks its owner's
// delivery as cancelled.
func (l *ShipmentLinker) CancelShipment(ctx context.Context, awb string) (ShipmentRef, error) {
	if l.courier == nil {
		return ShipmentRef{}, errors.New("courier client not configured")
	}
	ref, err := l.ResolveByAWB(ctx, awb)
	if err != nil {
		return ShipmentRef{}, err
	}
	if err := l.courier.Cancel(ctx, strings.TrimSpace(awb)); err != nil {
		return ref, err
	}
	return ref, l.UpdateDeliveryStatus(ctx, ref, models.DeliveryCancelled, "")
}

// SchedulePickup books a courier pickup for packageCount packages.
func (l *ShipmentLinker) SchedulePickup(ctx context.Context, at time.Time, packageCount int) (*PickupResult, error) {
	if l.courier == nil {
		return nil, errors.New("courier client not configured")
	}
	if at.IsZero() {
		at = l.now().Add(24 * time.Hour)
	}
	return l.courier.SchedulePickup(ctx, PickupRequest{Date: at, PackageCount: packageCount})
}
