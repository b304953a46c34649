package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type GiftCard struct {
	BaseModel
	Code     string          `gorm:"uniqueIndex" json:"code"`
	Balance  decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0" json:"balance"`
	Currency string          `json:"currency"`
	IsActive bool            `gorm:"not null;default:true" json:"is_active"`
	OrderID  *uuid.UUID      `gorm:"type:uuid" json:"order_id"`
	OwnerID  uuid.UUID       `gorm:"type:uuid;index" json:"owner_id"`
}
