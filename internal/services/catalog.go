package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/commerce/internal/models"
)

// CatalogService resolves product prices and stock for checkout.
type CatalogService struct {
	db        *gorm.DB
	inventory *InventoryLedger
}

func NewCatalogService(db *gorm.DB, inventory *InventoryLedger) *CatalogService {
	return &CatalogService{db: db, inventory: inventory}
}

// GetProduct returns an active product.
func (s *CatalogService) GetProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := s.db.WithContext(ctx).Where("id = ? AND is_active = ?", productID, true).First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("product %s not found", productID)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetPrice returns the price tier of a product for a currency. A tier for the
// exact destination country wins over the country-agnostic one (empty country).
func (s *CatalogService) GetPrice(ctx context.Context, productID uuid.UUID, currency, country string) (*models.ProductPrice, error) {
	var tier models.ProductPrice
	err := s.db.WithContext(ctx).
		Where("product_id = ? AND currency = ? AND country IN ?", productID, currency, []string{country, ""}).
		Order("country DESC").
		First(&tier).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("no %s price for product %s", currency, productID)
	}
	if err != nil {
		return nil, err
	}
	return &tier, nil
}

// GetAvailableQty returns the free stock of a variant.
func (s *CatalogService) GetAvailableQty(ctx context.Context, productID uuid.UUID, key VariantKey) (int, error) {
	return s.inventory.Available(ctx, productID, key)
}
