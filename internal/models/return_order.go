package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Return statuses.
const (
	ReturnStatusPending   = "Pending"
	ReturnStatusApproved  = "Approved"
	ReturnStatusRejected  = "Rejected"
	ReturnStatusCancelled = "Cancelled"
)

type ReturnOrder struct {
	BaseModel
	ReturnNumber     string          `gorm:"uniqueIndex" json:"return_number"`
	OrderID          uuid.UUID       `gorm:"type:uuid;index" json:"order_id"`
	OrderNumber      string          `gorm:"index" json:"order_number"`
	UserID           uuid.UUID       `gorm:"type:uuid;index" json:"user_id"`
	Status           string          `gorm:"index" json:"status"`
	Reason           string          `json:"reason"`
	RefundAmount     decimal.Decimal `gorm:"type:numeric(20,2)" json:"refund_amount"`
	RefundStatus     string          `json:"refund_status"`
	RefundID         string          `json:"refund_id"`
	RefundPaymentID  string          `json:"refund_payment_id"`
	RefundError      string          `json:"refund_error"`
	IdempotencyKey   string          `json:"idempotency_key"`
	AdminRemarks     string          `json:"admin_remarks"`
	ProcessedBy      *uuid.UUID      `gorm:"type:uuid" json:"processed_by"`
	ProcessedAt      *time.Time      `json:"processed_at"`
	CancelledAt      *time.Time      `json:"cancelled_at"`
	AWB              string          `gorm:"index" json:"awb"`
	Courier          string          `json:"courier"`
	DeliveryStatus   string          `json:"delivery_status"`
	DeliveryLocation string          `json:"delivery_location"`
	Items            []ReturnItem    `json:"items,omitempty"`
}

// ReturnItem is an independent copy of an order line at the time of the request.
type ReturnItem struct {
	BaseModel
	ReturnOrderID uuid.UUID       `gorm:"type:uuid;index" json:"return_order_id"`
	ProductID     uuid.UUID       `gorm:"type:uuid" json:"product_id"`
	ProductName   string          `json:"product_name"`
	Size          string          `json:"size"`
	Color         string          `json:"color"`
	SKU           string          `json:"sku"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `gorm:"type:numeric(20,2)" json:"unit_price"`
	LineTotal     decimal.Decimal `gorm:"type:numeric(20,2)" json:"line_total"`
	Currency      string          `json:"currency"`
	IsReturned    bool            `json:"is_returned"`
	Reason        string          `json:"reason"`
}
