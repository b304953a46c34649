package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order statuses.
const (
	OrderStatusPending   = "Pending"
	OrderStatusPaid      = "Paid"
	OrderStatusShipped   = "Shipped"
	OrderStatusDelivered = "Delivered"
	OrderStatusCancelled = "Cancelled"
)

// Payment statuses.
const (
	PaymentStatusPending  = "Pending"
	PaymentStatusPaid     = "Paid"
	PaymentStatusFailed   = "Failed"
	PaymentStatusRefunded = "Refunded"
)

// Payment methods.
const (
	PaymentMethodCOD      = "cod"
	PaymentMethodRazorpay = "razorpay"
)

// Refund statuses shared by orders and returns.
const (
	RefundStatusPending   = "pending"
	RefundStatusCreated   = "created"
	RefundStatusProcessed = "processed"
	RefundStatusFailed    = "failed"
)

// Delivery statuses, the internal courier vocabulary.
const (
	DeliveryPickupScheduled = "PICKUP_SCHEDULED"
	DeliveryPickedUp        = "PICKED_UP"
	DeliveryInTransit       = "IN_TRANSIT"
	DeliveryOutForDelivery  = "OUT_FOR_DELIVERY"
	DeliveryDelivered       = "DELIVERED"
	DeliveryRTO             = "RTO"
	DeliveryCancelled       = "CANCELLED"
	DeliveryFailed          = "FAILED"
)

type Order struct {
	BaseModel
	UserID              uuid.UUID       `gorm:"type:uuid;index" json:"user_id"`
	OrderNumber         string          `gorm:"uniqueIndex" json:"order_number"`
	Status              string          `gorm:"index" json:"status"`
	PlacedAt            time.Time       `json:"placed_at"`
	Currency            string          `json:"currency"`
	Country             string          `json:"country"`
	Subtotal            decimal.Decimal `gorm:"type:numeric(20,2)" json:"subtotal"`
	ShippingFee         decimal.Decimal `gorm:"type:numeric(20,2)" json:"shipping_fee"`
	Tax                 decimal.Decimal `gorm:"type:numeric(20,2)" json:"tax"`
	Discount            decimal.Decimal `gorm:"type:numeric(20,2)" json:"discount"`
	LoyaltyDiscount     decimal.Decimal `gorm:"type:numeric(20,2)" json:"loyalty_discount"`
	TotalAmount         decimal.Decimal `gorm:"type:numeric(20,2)" json:"total_amount"`
	PaymentMethod       string          `json:"payment_method"`
	PaymentStatus       string          `json:"payment_status"`
	GatewayOrderID      string          `gorm:"index" json:"gateway_order_id"`
	GatewayPaymentID    string          `json:"gateway_payment_id"`
	PaidAt              *time.Time      `json:"paid_at"`
	CouponID            *uuid.UUID      `gorm:"type:uuid" json:"coupon_id"`
	CouponCode          string          `json:"coupon_code"`
	CouponUsageRecorded bool            `json:"coupon_usage_recorded"`
	RefundID            string          `json:"refund_id"`
	RefundStatus        string          `json:"refund_status"`
	CancelReason        string          `json:"cancel_reason"`
	CancelledAt         *time.Time      `json:"cancelled_at"`
	AWB                 string          `gorm:"index" json:"awb"`
	Courier             string          `json:"courier"`
	DeliveryStatus      string          `json:"delivery_status"`
	DeliveryLocation    string          `json:"delivery_location"`
	ShippedAt           *time.Time      `json:"shipped_at"`
	DeliveredAt         *time.Time      `json:"delivered_at"`
	Notes               string          `json:"notes"`
	Items               []OrderItem     `json:"items,omitempty"`
}

type OrderItem struct {
	BaseModel
	OrderID     uuid.UUID       `gorm:"type:uuid;index" json:"order_id"`
	ProductID   uuid.UUID       `gorm:"type:uuid" json:"product_id"`
	ProductName string          `json:"product_name"`
	Size        string          `json:"size"`
	Color       string          `json:"color"`
	SKU         string          `json:"sku"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:numeric(20,2)" json:"unit_price"`
	LineTotal   decimal.Decimal `gorm:"type:numeric(20,2)" json:"line_total"`
	Currency    string          `json:"currency"`
}
