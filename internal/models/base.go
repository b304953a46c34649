package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BaseModel provides shared columns for all tables.
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate ensures UUIDs are generated for new records.
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// All lists every persisted model in dependency order for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&User{},
		&BonusTransaction{},
		&Product{},
		&ProductVariant{},
		&ProductPrice{},
		&CartItem{},
		&Order{},
		&OrderItem{},
		&Coupon{},
		&CouponRedemption{},
		&CouponUsage{},
		&ReturnOrder{},
		&ReturnItem{},
		&GiftCard{},
		&Buyback{},
		&PaymentSetting{},
	}
}
