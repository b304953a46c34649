package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/commerce/internal/models"
)

// VariantKey identifies one inventory row of a product. SKU is matched
// exactly, so an empty SKU only matches variants stored without one.
type VariantKey struct {
	Size  string `json:"size"`
	Color string `json:"color"`
	SKU   string `json:"sku"`
}

func (k VariantKey) String() string {
	if k.SKU != "" {
		return fmt.Sprintf("%s/%s/%s", k.Size, k.Color, k.SKU)
	}
	return fmt.Sprintf("%s/%s", k.Size, k.Color)
}

// InventoryLedger mutates per-variant stock counters. Every mutation is one
// conditional UPDATE; a false result means the condition did not hold at the
// instant of the write and is not an error.
type InventoryLedger struct {
	db *gorm.DB
}

func NewInventoryLedger(db *gorm.DB) *InventoryLedger {
	return &InventoryLedger{db: db}
}

func (l *InventoryLedger) variant(ctx context.Context, productID uuid.UUID, key VariantKey) *gorm.DB {
	return l.db.WithContext(ctx).
		Model(&models.ProductVariant{}).
		Where("product_id = ? AND size = ? AND color = ? AND sku = ?", productID, key.Size, key.Color, key.SKU)
}

// Reserve moves qty from free stock to reserved stock if at least qty is free.
func (l *InventoryLedger) Reserve(ctx context.Context, productID uuid.UUID, key VariantKey, qty int) (bool, error) {
	if qty <= 0 {
		return false, Validation("quantity must be positive")
	}
	res := l.variant(ctx, productID, key).
		Where("quantity >= ?", qty).
		Updates(map[string]any{
			"quantity": gorm.Expr("quantity - ?", qty),
			"reserved": gorm.Expr("reserved + ?", qty),
		})
	if res.Error != nil {
		return false, fmt.Errorf("reserve %s %s: %w", productID, key, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Release returns qty from reserved stock to free stock if at least qty is reserved.
func (l *InventoryLedger) Release(ctx context.Context, productID uuid.UUID, key VariantKey, qty int) (bool, error) {
	if qty <= 0 {
		return false, Validation("quantity must be positive")
	}
	res := l.variant(ctx, productID, key).
		Where("reserved >= ?", qty).
		Updates(map[string]any{
			"quantity": gorm.Expr("quantity + ?", qty),
			"reserved": gorm.Expr("reserved - ?", qty),
		})
	if res.Error != nil {
		return false, fmt.Errorf("release %s %s: %w", productID, key, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Decrement consumes qty of free stock, failing when less than qty is on hand.
func (l *InventoryLedger) Decrement(ctx context.Context, productID uuid.UUID, key VariantKey, qty int) (bool, error) {
	if qty <= 0 {
		return false, Validation("quantity must be positive")
	}
	res := l.variant(ctx, productID, key).
		Where("quantity >= ?", qty).
		Update("quantity", gorm.Expr("quantity - ?", qty))
	if res.Error != nil {
		return false, fmt.Errorf("decrement %s %s: %w", productID, key, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Increment restocks qty units, creating the variant row when it does not exist.
func (l *InventoryLedger) Increment(ctx context.Context, productID uuid.UUID, key VariantKey, qty int) (bool, error) {
	if qty <= 0 {
		return false, Validation("quantity must be positive")
	}

	ok, err := l.increment(ctx, productID, key, qty)
	if err != nil || ok {
		return ok, err
	}

	row := models.ProductVariant{
		ProductID: productID,
		Size:      key.Size,
		Color:     key.Color,
		SKU:       key.SKU,
		Quantity:  qty,
	}
	createErr := l.db.WithContext(ctx).Create(&row).Error
	if createErr == nil {
		return true, nil
	}

	// A concurrent Increment may have created the row first.
	ok, err = l.increment(ctx, productID, key, qty)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("create variant %s %s: %w", productID, key, createErr)
	}
	return true, nil
}

func (l *InventoryLedger) increment(ctx context.Context, productID uuid.UUID, key VariantKey, qty int) (bool, error) {
	res := l.variant(ctx, productID, key).
		Update("quantity", gorm.Expr("quantity + ?", qty))
	if res.Error != nil {
		return false, fmt.Errorf("increment %s %s: %w", productID, key, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Get returns the ledger row of a variant.
func (l *InventoryLedger) Get(ctx context.Context, productID uuid.UUID, key VariantKey) (*models.ProductVariant, error) {
	var row models.ProductVariant
	err := l.variant(ctx, productID, key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("variant %s of product %s not found", key, productID)
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Available returns the free quantity of a variant.
func (l *InventoryLedger) Available(ctx context.Context, productID uuid.UUID, key VariantKey) (int, error) {
	row, err := l.Get(ctx, productID, key)
	if err != nil {
		return 0, err
	}
	return row.Quantity, nil
}
