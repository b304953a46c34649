package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/example/commerce/internal/models"
)

type IssueGiftCardInput struct {
	OwnerID  uuid.UUID       `json:"owner_id"`
	OrderID  *uuid.UUID      `json:"order_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// GiftCardStore keeps gift card balances. Deductions are a single
// conditional update bounded by the current balance.
type GiftCardStore struct {
	db *gorm.DB
}

func NewGiftCardStore(db *gorm.DB) *GiftCardStore {
	return &GiftCardStore{db: db}
}

func newGiftCardCode() string {
	return "GC-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

func (s *GiftCardStore) Issue(ctx context.Context, in IssueGiftCardInput) (*models.GiftCard, error) {
	if !in.Amount.IsPositive() {
		return nil, Validation("amount must be positive")
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = defaultCurrency
	}

	card := models.GiftCard{
		Code:     newGiftCardCode(),
		Balance:  in.Amount.Round(2),
		Currency: currency,
		IsActive: true,
		OrderID:  in.OrderID,
		OwnerID:  in.OwnerID,
	}
	if err := s.db.WithContext(ctx).Create(&card).Error; err != nil {
		return nil, fmt.Errorf("issue gift card: %w", err)
	}
	return &card, nil
}

func (s *GiftCardStore) Get(ctx context.Context, code string) (*models.GiftCard, error) {
	var card models.GiftCard
	err := s.db.WithContext(ctx).Where("code = ?", normalizeCode(code)).First(&card).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("gift card not found")
	}
	if err != nil {
		return nil, err
	}
	return &card, nil
}

// Deduct spends amount from an active card. A short balance, an inactive card
// or a lost race is reported as a conflict. A card spent to zero is deactivated.
func (s *GiftCardStore) Deduct(ctx context.Context, code string, amount decimal.Decimal) (*models.GiftCard, error) {
	if !amount.IsPositive() {
		return nil, Validation("amount must be positive")
	}
	code = normalizeCode(code)

	res := s.db.WithContext(ctx).Model(&models.GiftCard{}).
		Where("code = ? AND is_active = ? AND balance >= ?", code, true, amount).
		Updates(map[string]any{
			"balance":   gorm.Expr("balance - ?", amount),
			"is_active": gorm.Expr("CASE WHEN balance - ? <= 0 THEN ? ELSE ? END", amount, false, true),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("deduct gift card: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(ctx, code); err != nil {
			return nil, err
		}
		return nil, Conflict("gift card balance is insufficient or the card is inactive")
	}
	return s.Get(ctx, code)
}

// Credit adds amount back to a card and reactivates it.
func (s *GiftCardStore) Credit(ctx context.Context, code string, amount decimal.Decimal) (*models.GiftCard, error) {
	if !amount.IsPositive() {
		return nil, Validation("amount must be positive")
	}
	code = normalizeCode(code)

	res := s.db.WithContext(ctx).Model(&models.GiftCard{}).
		Where("code = ?", code).
		Updates(map[string]any{
			"balance":   gorm.Expr("balance + ?", amount),
			"is_active": true,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("credit gift card: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, NotFound("gift card not found")
	}
	return s.Get(ctx, code)
}
