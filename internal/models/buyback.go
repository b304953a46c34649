package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Buyback struct {
	BaseModel
	UserID           uuid.UUID       `gorm:"type:uuid;index" json:"user_id"`
	ProductID        *uuid.UUID      `gorm:"type:uuid" json:"product_id"`
	Description      string          `json:"description"`
	QuotedAmount     decimal.Decimal `gorm:"type:numeric(20,2)" json:"quoted_amount"`
	Status           string          `json:"status"`
	AWB              string          `gorm:"index" json:"awb"`
	Courier          string          `json:"courier"`
	DeliveryStatus   string          `json:"delivery_status"`
	DeliveryLocation string          `json:"delivery_location"`
}
