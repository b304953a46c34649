package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/commerce/internal/models"
)

// VerifyPaymentInput is the client's proof of a completed gateway checkout.
type VerifyPaymentInput struct {
	UserID         uuid.UUID `json:"-"`
	OrderID        uuid.UUID `json:"-"`
	GatewayOrderID string    `json:"razorpay_order_id"`
	PaymentID      string    `json:"razorpay_payment_id"`
	Signature      string    `json:"razorpay_signature"`
}

// OrderFilter scopes ListOrders. A nil UserID lists every user's orders.
type OrderFilter struct {
	UserID *uuid.UUID
	Status string
	Offset int
	Limit  int
}

func (s *OrderService) loadOrder(ctx context.Context, query string, args ...any) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where(query, args...).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("order not found")
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrder returns an order owned by userID.
func (s *OrderService) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	return s.loadOrder(ctx, "id = ? AND user_id = ?", orderID, userID)
}

// GetOrderByID returns any order; admin use only.
func (s *OrderService) GetOrderByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.loadOrder(ctx, "id = ?", orderID)
}

func (s *OrderService) ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Order{})
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var orders []models.Order
	if err := query.
		Preload("Items").
		Order("placed_at desc").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// VerifyPayment checks the gateway signature and marks the order paid. A
// repeated verification of the same payment returns the paid order.
func (s *OrderService) VerifyPayment(ctx context.Context, in VerifyPaymentInput) (*models.Order, error) {
	order, err := s.GetOrder(ctx, in.UserID, in.OrderID)
	if err != nil {
		return nil, err
	}

	if order.PaymentStatus == models.PaymentStatusPaid {
		if order.GatewayPaymentID == in.PaymentID {
			return order, nil
		}
		return nil, Conflict("order %s is already paid", order.OrderNumber)
	}
	if order.Status != models.OrderStatusPending {
		return nil, Conflict("order %s is %s", order.OrderNumber, order.Status)
	}
	if order.GatewayOrderID == "" || in.GatewayOrderID != order.GatewayOrderID {
		return nil, Validation("gateway order id does not match order %s", order.OrderNumber)
	}

	if !s.deps.Gateway.VerifySignature(ctx, in.GatewayOrderID, in.PaymentID, in.Signature) {
		if err := s.db.WithContext(ctx).Model(&models.Order{}).
			Where("id = ? AND payment_status <> ?", order.ID, models.PaymentStatusPaid).
			Update("payment_status", models.PaymentStatusFailed).Error; err != nil {
			return nil, fmt.Errorf("mark payment failed: %w", err)
		}
		s.log.Warn("payment signature mismatch",
			zap.String("order_number", order.OrderNumber),
			zap.String("payment_id", in.PaymentID),
		)
		return nil, Validation("payment signature verification failed")
	}

	paidAt := s.now()
	res := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ? AND payment_status <> ?", order.ID, models.OrderStatusPending, models.PaymentStatusPaid).
		Updates(map[string]any{
			"status":             models.OrderStatusPaid,
			"payment_status":     models.PaymentStatusPaid,
			"gateway_payment_id": in.PaymentID,
			"paid_at":            paidAt,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("mark order paid: %w", res.Error)
	}

	updated, err := s.GetOrder(ctx, in.UserID, in.OrderID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 && updated.GatewayPaymentID != in.PaymentID {
		return nil, Conflict("order %s changed during verification", order.OrderNumber)
	}

	s.log.Info("payment verified",
		zap.String("order_number", updated.OrderNumber),
		zap.String("payment_id", in.PaymentID),
	)
	return updated, nil
}

// CancelOrder cancels an order that has not shipped. Stock is restocked, the
// coupon claim undone and redeemed loyalty points restored. A paid gateway
// order is refunded in full; a failed refund keeps the cancellation, records
// RefundStatus failed and returns the order alongside an external error.
func (s *OrderService) CancelOrder(ctx context.Context, userID, orderID uuid.UUID, reason string) (*models.Order, error) {
	order, err := s.GetOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	return s.cancel(ctx, order, reason)
}

// CancelOrderByID is the admin variant of CancelOrder.
func (s *OrderService) CancelOrderByID(ctx context.Context, orderID uuid.UUID, reason string) (*models.Order, error) {
	order, err := s.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.cancel(ctx, order, reason)
}

func (s *OrderService) cancel(ctx context.Context, order *models.Order, reason string) (*models.Order, error) {
	if order.Status != models.OrderStatusPending && order.Status != models.OrderStatusPaid {
		return nil, Conflict("order %s in status %s cannot be cancelled", order.OrderNumber, order.Status)
	}

	cancelledAt := s.now()
	res := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", order.ID, order.Status).
		Updates(map[string]any{
			"status":        models.OrderStatusCancelled,
			"cancel_reason": reason,
			"cancelled_at":  cancelledAt,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("cancel order: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, Conflict("order %s changed, reload and retry", order.OrderNumber)
	}

	l := s.log.With(zap.String("order_number", order.OrderNumber))

	for _, item := range order.Items {
		key := variantKeyOf(item.Size, item.Color, item.SKU)
		if _, err := s.deps.Inventory.Increment(ctx, item.ProductID, key, item.Quantity); err != nil {
			l.Error("restock failed", zap.String("product_id", item.ProductID.String()), zap.Error(err))
		}
	}

	if order.CouponUsageRecorded && order.CouponID != nil {
		if err := s.deps.Coupons.UndoClaim(ctx, *order.CouponID, order.UserID, order.ID); err != nil {
			l.Error("coupon claim undo failed", zap.Error(err))
		} else if err := s.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", order.ID).
			Update("coupon_usage_recorded", false).Error; err != nil {
			l.Warn("failed to clear coupon usage flag", zap.Error(err))
		}
	}

	if redeemed, err := s.deps.Loyalty.Redeemed(ctx, order.ID); err != nil {
		l.Error("loyalty lookup failed", zap.Error(err))
	} else if redeemed.IsPositive() {
		if err := s.deps.Loyalty.Restore(ctx, order.UserID, redeemed, &order.ID); err != nil {
			l.Error("loyalty restore failed", zap.Error(err))
		}
	}

	var refundErr error
	if order.PaymentMethod == models.PaymentMethodRazorpay &&
		order.PaymentStatus == models.PaymentStatusPaid &&
		order.GatewayPaymentID != "" {
		refundErr = s.refundOrder(ctx, order)
	}

	updated, err := s.GetOrderByID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	l.Info("order cancelled", zap.String("reason", reason))
	return updated, refundErr
}

func (s *OrderService) refundOrder(ctx context.Context, order *models.Order) error {
	result := s.deps.Gateway.CreateRefund(ctx, RefundRequest{
		PaymentID: order.GatewayPaymentID,
		Amount:    order.TotalAmount,
		Notes: map[string]string{
			"order_number":    order.OrderNumber,
			"idempotency_key": "order-" + order.ID.String(),
		},
	})

	updates := map[string]any{}
	if result.Success {
		status := result.Status
		if status == "" {
			status = models.RefundStatusCreated
		}
		updates["refund_id"] = result.RefundID
		updates["refund_status"] = status
		updates["payment_status"] = models.PaymentStatusRefunded
	} else {
		updates["refund_status"] = models.RefundStatusFailed
	}

	if err := s.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", order.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("store refund result: %w", err)
	}

	if result.Success {
		return nil
	}

	s.log.Error("order refund failed",
		zap.String("order_number", order.OrderNumber),
		zap.Int("status_code", result.StatusCode),
		zap.String("error", result.Error),
	)
	if s.deps.Notifier != nil {
		if err := s.deps.Notifier.NotifyRefundFailed(ctx, order.OrderNumber, order.TotalAmount, order.Currency, result.Error); err != nil {
			s.log.Warn("refund failure notification failed", zap.Error(err))
		}
	}
	return External(errors.New(result.Error), "order cancelled but refund failed")
}
