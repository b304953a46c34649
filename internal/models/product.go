package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Product struct {
	BaseModel
	Slug     string           `gorm:"uniqueIndex" json:"slug"`
	Name     string           `json:"name"`
	IsActive bool             `gorm:"default:true" json:"is_active"`
	Variants []ProductVariant `json:"variants,omitempty"`
	Prices   []ProductPrice   `json:"prices,omitempty"`
}

// ProductVariant is the inventory ledger row for one size/color/SKU of a product.
type ProductVariant struct {
	BaseModel
	ProductID uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_variant_key" json:"product_id"`
	Size      string    `gorm:"uniqueIndex:idx_variant_key" json:"size"`
	Color     string    `gorm:"uniqueIndex:idx_variant_key" json:"color"`
	SKU       string    `gorm:"uniqueIndex:idx_variant_key" json:"sku"`
	Quantity  int       `gorm:"not null;default:0" json:"quantity"`
	Reserved  int       `gorm:"not null;default:0" json:"reserved"`
}

// ProductPrice is one price tier of a product for a currency and destination country.
type ProductPrice struct {
	BaseModel
	ProductID      uuid.UUID       `gorm:"type:uuid;index" json:"product_id"`
	Currency       string          `gorm:"index" json:"currency"`
	Country        string          `json:"country"`
	Amount         decimal.Decimal `gorm:"type:numeric(20,2)" json:"amount"`
	ShippingAmount decimal.Decimal `gorm:"type:numeric(20,2)" json:"shipping_amount"`
}
