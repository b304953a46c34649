package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// User represents an authenticated customer or administrator.
type User struct {
	BaseModel
	FirstName     string          `json:"first_name"`
	LastName      string          `json:"last_name"`
	Phone         string          `gorm:"uniqueIndex" json:"phone"`
	Email         string          `json:"email"`
	Role          string          `gorm:"default:customer" json:"role"`
	LoyaltyPoints decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0" json:"loyalty_points"`
	Orders        []Order         `json:"orders,omitempty"`
}

// Loyalty ledger entry types.
const (
	BonusTypeRedeem  = "redeem"
	BonusTypeRestore = "restore"
	BonusTypeEarn    = "earn"
)

// BonusTransaction records every movement of a user's loyalty points.
type BonusTransaction struct {
	BaseModel
	UserID            uuid.UUID       `gorm:"type:uuid;index" json:"user_id"`
	TransactionNumber string          `gorm:"uniqueIndex" json:"transaction_number"`
	Type              string          `json:"type"`
	Status            string          `json:"status"`
	Amount            decimal.Decimal `gorm:"type:numeric(20,2)" json:"amount"`
	OrderID           *uuid.UUID      `gorm:"type:uuid" json:"order_id"`
	OccurredAt        time.Time       `json:"occurred_at"`
}
