package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/example/commerce/internal/models"
)

const bonusStatusCompleted = "completed"

// LoyaltyService owns the user's loyalty point balance and its ledger.
type LoyaltyService struct {
	db *gorm.DB
}

func NewLoyaltyService(db *gorm.DB) *LoyaltyService {
	return &LoyaltyService{db: db}
}

func (s *LoyaltyService) GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	var user models.User
	err := s.db.WithContext(ctx).Select("id", "loyalty_points").Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, NotFound("user %s not found", userID)
	}
	if err != nil {
		return decimal.Zero, err
	}
	return user.LoyaltyPoints, nil
}

// Deduct removes amount points if the balance covers it and records a redeem
// transaction. A short balance returns false.
func (s *LoyaltyService) Deduct(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, orderID *uuid.UUID) (bool, error) {
	if !amount.IsPositive() {
		return false, Validation("loyalty amount must be positive")
	}

	deducted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).
			Where("id = ? AND loyalty_points >= ?", userID, amount).
			Update("loyalty_points", gorm.Expr("loyalty_points - ?", amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		deducted = true
		return tx.Create(newBonusTransaction(userID, models.BonusTypeRedeem, amount, orderID)).Error
	})
	if err != nil {
		return false, fmt.Errorf("deduct loyalty points: %w", err)
	}
	return deducted, nil
}

// Restore credits amount points back, for example after a cancellation.
func (s *LoyaltyService) Restore(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, orderID *uuid.UUID) error {
	if !amount.IsPositive() {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).
			Where("id = ?", userID).
			Update("loyalty_points", gorm.Expr("loyalty_points + ?", amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return NotFound("user %s not found", userID)
		}
		return tx.Create(newBonusTransaction(userID, models.BonusTypeRestore, amount, orderID)).Error
	})
	if err != nil && KindOf(err) == KindUnknown {
		return fmt.Errorf("restore loyalty points: %w", err)
	}
	return err
}

// ListTransactions returns the user's ledger newest first.
func (s *LoyaltyService) ListTransactions(ctx context.Context, userID uuid.UUID) ([]models.BonusTransaction, error) {
	var txs []models.BonusTransaction
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("occurred_at DESC").Find(&txs).Error
	return txs, err
}

func newBonusTransaction(userID uuid.UUID, kind string, amount decimal.Decimal, orderID *uuid.UUID) *models.BonusTransaction {
	return &models.BonusTransaction{
		UserID:            userID,
		TransactionNumber: "BT-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12]),
		Type:              kind,
		Status:            bonusStatusCompleted,
		Amount:            amount,
		OrderID:           orderID,
		OccurredAt:        time.Now(),
	}
}

// Redeemed returns the points redeemed against orderID.
func (s *LoyaltyService) Redeemed(ctx context.Context, orderID uuid.UUID) (decimal.Decimal, error) {
	var txs []models.BonusTransaction
	if err := s.db.WithContext(ctx).
		Where("order_id = ? AND type = ?", orderID, models.BonusTypeRedeem).
		Find(&txs).Error; err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, tx := range txs {
		total = total.Add(tx.Amount)
	}
	return total, nil
}
