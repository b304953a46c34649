package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	CouponTypePercentage = "percentage"
	CouponTypeFixed      = "fixed"
)

// Coupon is never deleted; admins deactivate it instead.
type Coupon struct {
	BaseModel
	Code              string           `gorm:"uniqueIndex" json:"code"`
	Type              string           `json:"type"`
	Value             decimal.Decimal  `gorm:"type:numeric(20,2)" json:"value"`
	MinOrderAmount    *decimal.Decimal `gorm:"type:numeric(20,2)" json:"min_order_amount,omitempty"`
	MaxDiscountAmount *decimal.Decimal `gorm:"type:numeric(20,2)" json:"max_discount_amount,omitempty"`
	ValidFrom         *time.Time       `json:"valid_from,omitempty"`
	ValidUntil        *time.Time       `json:"valid_until,omitempty"`
	UsageLimit        *int             `json:"usage_limit,omitempty"`
	UsedCount         int              `gorm:"not null;default:0" json:"used_count"`
	PerUserLimit      int              `gorm:"not null" json:"per_user_limit"`
	FirstOrderOnly    bool             `json:"first_order_only"`
	IsActive          bool             `gorm:"not null;default:true" json:"is_active"`
}

// CouponRedemption is one member of a coupon's used-by set.
type CouponRedemption struct {
	BaseModel
	CouponID uuid.UUID  `gorm:"type:uuid;index:idx_redemption_user" json:"coupon_id"`
	UserID   uuid.UUID  `gorm:"type:uuid;index:idx_redemption_user" json:"user_id"`
	OrderID  *uuid.UUID `gorm:"type:uuid" json:"order_id"`
}

// CouponUsage is the append-only audit trail of applied coupons.
type CouponUsage struct {
	BaseModel
	CouponID       uuid.UUID       `gorm:"type:uuid;index" json:"coupon_id"`
	UserID         uuid.UUID       `gorm:"type:uuid;index" json:"user_id"`
	OrderID        uuid.UUID       `gorm:"type:uuid" json:"order_id"`
	DiscountAmount decimal.Decimal `gorm:"type:numeric(20,2)" json:"discount_amount"`
	UsedAt         time.Time       `json:"used_at"`
}
