package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/example/commerce/internal/models"
)

// Credential source names accepted by RAZORPAY_CREDENTIAL_SOURCE.
const (
	CredentialSourceStatic   = "static"
	CredentialSourceDatabase = "database"
)

// ProviderRazorpay is the payment_settings row read by DBCredentials.
const ProviderRazorpay = "razorpay"

// Credentials is an API key pair of a payment provider.
type Credentials struct {
	KeyID     string
	KeySecret string
}

// CredentialSource yields gateway credentials. Implementations are consulted
// on every gateway call and must not be cached by callers.
type CredentialSource interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// StaticCredentials are loaded once from configuration.
type StaticCredentials Credentials

func (c StaticCredentials) Credentials(context.Context) (Credentials, error) {
	if c.KeyID == "" || c.KeySecret == "" {
		return Credentials{}, errors.New("static gateway credentials are empty")
	}
	return Credentials(c), nil
}

// DBCredentials reads the provider's active payment_settings row on every call,
// so rotated keys apply without a restart.
type DBCredentials struct {
	db       *gorm.DB
	provider string
}

func NewDBCredentials(db *gorm.DB, provider string) *DBCredentials {
	return &DBCredentials{db: db, provider: provider}
}

func (c *DBCredentials) Credentials(ctx context.Context) (Credentials, error) {
	var setting models.PaymentSetting
	err := c.db.WithContext(ctx).
		Where("provider = ? AND is_active = ?", c.provider, true).
		First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Credentials{}, fmt.Errorf("no active payment settings for %s", c.provider)
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("load payment settings: %w", err)
	}
	if setting.KeyID == "" || setting.KeySecret == "" {
		return Credentials{}, fmt.Errorf("payment settings for %s are incomplete", c.provider)
	}
	return Credentials{KeyID: setting.KeyID, KeySecret: setting.KeySecret}, nil
}
