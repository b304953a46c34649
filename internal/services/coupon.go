package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/commerce/internal/cache"
	"github.com/example/commerce/internal/logger"
	"github.com/example/commerce/internal/models"
)

const couponPreviewTTL = 30 * time.Second

var hundred = decimal.NewFromInt(100)

// CouponPreview is the read-only effect of a coupon on an order amount.
type CouponPreview struct {
	Code     string          `json:"code"`
	Valid    bool            `json:"valid"`
	Discount decimal.Decimal `json:"discount"`
	Final    decimal.Decimal `json:"final"`
	Reason   string          `json:"reason,omitempty"`
}

// CreateCouponInput is the admin payload for a new coupon.
type CreateCouponInput struct {
	Code              string           `json:"code"`
	Type              string           `json:"type"`
	Value             decimal.Decimal  `json:"value"`
	MinOrderAmount    *decimal.Decimal `json:"min_order_amount"`
	MaxDiscountAmount *decimal.Decimal `json:"max_discount_amount"`
	ValidFrom         *time.Time       `json:"valid_from"`
	ValidUntil        *time.Time       `json:"valid_until"`
	UsageLimit        *int             `json:"usage_limit"`
	PerUserLimit      *int             `json:"per_user_limit"`
	FirstOrderOnly    bool             `json:"first_order_only"`
}

// CouponStore tracks coupon usage. Claims and undos are conditional updates;
// previews never mutate state.
type CouponStore struct {
	db    *gorm.DB
	cache cache.Cache
	log   *zap.Logger
	now   func() time.Time
}

// NewCouponStore creates a store. previews may be nil to disable preview caching.
func NewCouponStore(db *gorm.DB, previews cache.Cache) *CouponStore {
	return &CouponStore{
		db:    db,
		cache: previews,
		log:   logger.Named("coupons"),
		now:   time.Now,
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ComputeDiscount returns the discount of coupon on amount. Percentages are
// rounded to 2 decimals half away from zero and capped by MaxDiscountAmount.
// The result is clamped to [0, amount].
func ComputeDiscount(coupon *models.Coupon, amount decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal
	switch coupon.Type {
	case models.CouponTypePercentage:
		discount = amount.Mul(coupon.Value).Div(hundred).Round(2)
		if coupon.MaxDiscountAmount != nil && discount.GreaterThan(*coupon.MaxDiscountAmount) {
			discount = *coupon.MaxDiscountAmount
		}
	case models.CouponTypeFixed:
		discount = coupon.Value
	}

	if discount.IsNegative() {
		return decimal.Zero
	}
	if discount.GreaterThan(amount) {
		return amount
	}
	return discount
}

func (s *CouponStore) GetByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := s.db.WithContext(ctx).Where("code = ?", normalizeCode(code)).First(&coupon).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("coupon %s not found", normalizeCode(code))
	}
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

// ValidateOnly previews a coupon for userID on amount. An unusable coupon is
// reported through Valid and Reason, not as an error.
func (s *CouponStore) ValidateOnly(ctx context.Context, code string, userID uuid.UUID, amount decimal.Decimal) (CouponPreview, error) {
	code = normalizeCode(code)
	key := fmt.Sprintf("coupon:preview:%s:%s:%s", code, userID, amount.StringFixed(2))

	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key); err == nil {
			var cached CouponPreview
			if json.Unmarshal(raw, &cached) == nil {
				return cached, nil
			}
		} else if !errors.Is(err, cache.ErrNotFound) {
			s.log.Warn("coupon preview cache read failed", zap.Error(err))
		}
	}

	preview, err := s.validate(ctx, code, userID, amount)
	if err != nil {
		return CouponPreview{}, err
	}

	if s.cache != nil {
		if raw, err := json.Marshal(preview); err == nil {
			if err := s.cache.Set(ctx, key, raw, couponPreviewTTL); err != nil {
				s.log.Warn("coupon preview cache write failed", zap.Error(err))
			}
		}
	}
	return preview, nil
}

// Validate checks a coupon against the store without consulting the preview
// cache. Checkout uses it so a coupon consumed moments ago is seen as used.
func (s *CouponStore) Validate(ctx context.Context, code string, userID uuid.UUID, amount decimal.Decimal) (CouponPreview, error) {
	return s.validate(ctx, normalizeCode(code), userID, amount)
}

func (s *CouponStore) validate(ctx context.Context, code string, userID uuid.UUID, amount decimal.Decimal) (CouponPreview, error) {
	preview := CouponPreview{Code: code, Discount: decimal.Zero, Final: amount}
	reject := func(reason string) (CouponPreview, error) {
		preview.Reason = reason
		return preview, nil
	}

	var coupon models.Coupon
	err := s.db.WithContext(ctx).Where("code = ?", code).First(&coupon).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return reject("coupon not found")
	}
	if err != nil {
		return CouponPreview{}, err
	}

	if !coupon.IsActive {
		return reject("coupon is not active")
	}
	if reason := s.windowReason(&coupon); reason != "" {
		return reject(reason)
	}
	if coupon.MinOrderAmount != nil && amount.LessThan(*coupon.MinOrderAmount) {
		return reject(fmt.Sprintf("minimum order amount is %s", coupon.MinOrderAmount.StringFixed(2)))
	}
	if coupon.UsageLimit != nil && coupon.UsedCount >= *coupon.UsageLimit {
		return reject("coupon usage limit reached")
	}

	if coupon.PerUserLimit > 0 {
		var used int64
		if err := s.db.WithContext(ctx).Model(&models.CouponRedemption{}).
			Where("coupon_id = ? AND user_id = ?", coupon.ID, userID).
			Count(&used).Error; err != nil {
			return CouponPreview{}, err
		}
		if used >= int64(coupon.PerUserLimit) {
			return reject("coupon already used")
		}
	}

	if coupon.FirstOrderOnly {
		first, err := isFirstOrder(s.db.WithContext(ctx), userID, nil)
		if err != nil {
			return CouponPreview{}, err
		}
		if !first {
			return reject("coupon is valid on the first order only")
		}
	}

	preview.Valid = true
	preview.Discount = ComputeDiscount(&coupon, amount)
	preview.Final = amount.Sub(preview.Discount)
	return preview, nil
}

func (s *CouponStore) windowReason(coupon *models.Coupon) string {
	now := s.now()
	if coupon.ValidFrom != nil && now.Before(*coupon.ValidFrom) {
		return "coupon is not yet valid"
	}
	if coupon.ValidUntil != nil && now.After(*coupon.ValidUntil) {
		return "coupon has expired"
	}
	return ""
}

// isFirstOrder reports whether userID has no live orders besides exclude.
func isFirstOrder(db *gorm.DB, userID uuid.UUID, exclude *uuid.UUID) (bool, error) {
	q := db.Model(&models.Order{}).Where("user_id = ? AND status <> ?", userID, models.OrderStatusCancelled)
	if exclude != nil {
		q = q.Where("id <> ?", *exclude)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count == 0, nil
}

// TryClaim consumes one use of the coupon for userID on orderID. It returns
// nil, nil when the coupon cannot be claimed for any reason. The usage
// increment and the redemption row are written in one transaction.
func (s *CouponStore) TryClaim(ctx context.Context, code string, userID, orderID uuid.UUID) (*models.Coupon, error) {
	code = normalizeCode(code)
	var claimed *models.Coupon

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var coupon models.Coupon
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("code = ?", code).
			First(&coupon).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if s.windowReason(&coupon) != "" {
			return nil
		}
		if coupon.FirstOrderOnly {
			first, err := isFirstOrder(tx, userID, &orderID)
			if err != nil || !first {
				return err
			}
		}

		res := tx.Model(&models.Coupon{}).
			Where("id = ? AND is_active = ?", coupon.ID, true).
			Where("(usage_limit IS NULL OR used_count < usage_limit)").
			Where("(per_user_limit = 0 OR (SELECT COUNT(*) FROM coupon_redemptions r WHERE r.coupon_id = coupons.id AND r.user_id = ?) < per_user_limit)", userID).
			Update("used_count", gorm.Expr("used_count + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		oid := orderID
		if err := tx.Create(&models.CouponRedemption{CouponID: coupon.ID, UserID: userID, OrderID: &oid}).Error; err != nil {
			return err
		}

		coupon.UsedCount++
		claimed = &coupon
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim coupon %s: %w", code, err)
	}
	return claimed, nil
}

// UndoClaim reverts the claim of couponID by userID made for orderID. A nil
// orderID reverts the user's newest claim.
func (s *CouponStore) UndoClaim(ctx context.Context, couponID, userID, orderID uuid.UUID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("coupon_id = ? AND user_id = ?", couponID, userID)
		if orderID != uuid.Nil {
			q = q.Where("order_id = ?", orderID)
		}
		var redemption models.CouponRedemption
		err := q.Order("created_at DESC").First(&redemption).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Delete(&redemption).Error; err != nil {
			return err
		}
		return tx.Model(&models.Coupon{}).
			Where("id = ? AND used_count > 0", couponID).
			Update("used_count", gorm.Expr("used_count - 1")).Error
	})
	if err != nil {
		return fmt.Errorf("undo coupon claim %s: %w", couponID, err)
	}
	return nil
}

// RecordUsage appends the audit row of an applied coupon. Failures are logged
// and never undo the claim.
func (s *CouponStore) RecordUsage(ctx context.Context, couponID, userID, orderID uuid.UUID, discount decimal.Decimal) {
	usage := models.CouponUsage{
		CouponID:       couponID,
		UserID:         userID,
		OrderID:        orderID,
		DiscountAmount: discount,
		UsedAt:         s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&usage).Error; err != nil {
		s.log.Warn("failed to record coupon usage",
			zap.String("coupon_id", couponID.String()),
			zap.String("order_id", orderID.String()),
			zap.Error(err),
		)
	}
}

// Create registers a new coupon. Codes are stored upper-cased and must be unique.
func (s *CouponStore) Create(ctx context.Context, in CreateCouponInput) (*models.Coupon, error) {
	code := normalizeCode(in.Code)
	if code == "" {
		return nil, Validation("code is required")
	}
	switch in.Type {
	case models.CouponTypePercentage:
		if in.Value.GreaterThan(hundred) {
			return nil, Validation("percentage value must not exceed 100")
		}
	case models.CouponTypeFixed:
	default:
		return nil, Validation("type must be %q or %q", models.CouponTypePercentage, models.CouponTypeFixed)
	}
	if !in.Value.IsPositive() {
		return nil, Validation("value must be positive")
	}
	if in.ValidFrom != nil && in.ValidUntil != nil && in.ValidUntil.Before(*in.ValidFrom) {
		return nil, Validation("valid_until is before valid_from")
	}
	if in.UsageLimit != nil && *in.UsageLimit < 0 {
		return nil, Validation("usage_limit must not be negative")
	}

	perUser := 1
	if in.PerUserLimit != nil {
		if *in.PerUserLimit < 0 {
			return nil, Validation("per_user_limit must not be negative")
		}
		perUser = *in.PerUserLimit
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&models.Coupon{}).Where("code = ?", code).Count(&existing).Error; err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, Conflict("coupon %s already exists", code)
	}

	coupon := models.Coupon{
		Code:              code,
		Type:              in.Type,
		Value:             in.Value,
		MinOrderAmount:    in.MinOrderAmount,
		MaxDiscountAmount: in.MaxDiscountAmount,
		ValidFrom:         in.ValidFrom,
		ValidUntil:        in.ValidUntil,
		UsageLimit:        in.UsageLimit,
		PerUserLimit:      perUser,
		FirstOrderOnly:    in.FirstOrderOnly,
		IsActive:          true,
	}
	if err := s.db.WithContext(ctx).Create(&coupon).Error; err != nil {
		return nil, fmt.Errorf("create coupon: %w", err)
	}
	return &coupon, nil
}

func (s *CouponStore) Deactivate(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Model(&models.Coupon{}).Where("id = ?", id).Update("is_active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return NotFound("coupon %s not found", id)
	}
	return nil
}

func (s *CouponStore) List(ctx context.Context, offset, limit int) ([]models.Coupon, int64, error) {
	var (
		coupons []models.Coupon
		total   int64
	)
	db := s.db.WithContext(ctx).Model(&models.Coupon{})
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&coupons).Error; err != nil {
		return nil, 0, err
	}
	return coupons, total, nil
}
