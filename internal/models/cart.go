package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CartItem struct {
	BaseModel
	UserID        uuid.UUID       `gorm:"type:uuid;index" json:"user_id"`
	ProductID     uuid.UUID       `gorm:"type:uuid" json:"product_id"`
	Size          string          `json:"size"`
	Color         string          `json:"color"`
	SKU           string          `json:"sku"`
	Quantity      int             `json:"quantity"`
	PriceSnapshot decimal.Decimal `gorm:"type:numeric(20,2)" json:"price_snapshot"`
	Currency      string          `json:"currency"`
}
