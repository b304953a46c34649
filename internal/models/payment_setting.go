package models

// PaymentSetting is a gateway credential row, read on every gateway call so
// rotated keys take effect without a restart.
type PaymentSetting struct {
	BaseModel
	Provider  string `gorm:"uniqueIndex" json:"provider"`
	KeyID     string `json:"key_id"`
	KeySecret string `json:"-"`
	IsActive  bool   `gorm:"not null;default:true" json:"is_active"`
}
