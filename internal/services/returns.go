package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/commerce/internal/logger"
	"github.com/example/commerce/internal/models"
)

type ReturnItemInput struct {
	ProductID uuid.UUID `json:"product_id"`
	Size      string    `json:"size"`
	Color     string    `json:"color"`
	SKU       string    `json:"sku"`
	Quantity  int       `json:"quantity"`
	Reason    string    `json:"reason"`
}

type CreateReturnInput struct {
	UserID  uuid.UUID         `json:"-"`
	OrderID uuid.UUID         `json:"order_id"`
	Reason  string            `json:"reason"`
	Items   []ReturnItemInput `json:"items"`
}

// ReturnFilter scopes ListReturns. A nil UserID lists every user's returns.
type ReturnFilter struct {
	UserID *uuid.UUID
	Status string
	Offset int
	Limit  int
}

// ReturnService runs the return state machine: Pending moves once to
// Approved, Rejected or Cancelled. Approval refunds through the gateway.
type ReturnService struct {
	db       *gorm.DB
	gateway  PaymentGateway
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
}

// NewReturnService creates the service. notifier may be nil.
func NewReturnService(db *gorm.DB, gateway PaymentGateway, notifier Notifier) *ReturnService {
	return &ReturnService{
		db:       db,
		gateway:  gateway,
		notifier: notifier,
		log:      logger.Named("returns"),
		now:      time.Now,
	}
}

func newReturnNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("RET-%s-%s", now.Format("20060102"), suffix)
}

// matches reports whether a requested item refers to an order line. Empty
// variant fields in the request match any value.
func (in ReturnItemInput) matches(line models.OrderItem) bool {
	if in.ProductID != line.ProductID {
		return false
	}
	if in.Size != "" && in.Size != line.Size {
		return false
	}
	if in.Color != "" && in.Color != line.Color {
		return false
	}
	return in.SKU == "" || in.SKU == line.SKU
}

// CreateReturn opens a Pending return against an order of the user. Each
// requested quantity is bounded by the purchased quantity of the order lines
// it matches; earlier returns of the same lines are not taken into account.
func (s *ReturnService) CreateReturn(ctx context.Context, in CreateReturnInput) (*models.ReturnOrder, error) {
	if len(in.Items) == 0 {
		return nil, Validation("at least one item is required")
	}

	var order models.Order
	err := s.db.WithContext(ctx).Preload("Items").
		Where("id = ? AND user_id = ?", in.OrderID, in.UserID).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("order not found")
	}
	if err != nil {
		return nil, err
	}
	if order.Status == models.OrderStatusCancelled {
		return nil, Validation("order %s is cancelled", order.OrderNumber)
	}

	requested := make(map[uuid.UUID]int, len(in.Items))
	ret := &models.ReturnOrder{
		ReturnNumber: newReturnNumber(s.now()),
		OrderID:      order.ID,
		OrderNumber:  order.OrderNumber,
		UserID:       in.UserID,
		Status:       models.ReturnStatusPending,
		Reason:       strings.TrimSpace(in.Reason),
		RefundAmount: decimal.Zero,
	}

	for _, item := range in.Items {
		if item.Quantity <= 0 {
			return nil, Validation("quantity for product %s must be positive", item.ProductID)
		}

		var lines []*models.OrderItem
		purchased, taken := 0, 0
		for i := range order.Items {
			if item.matches(order.Items[i]) {
				line := &order.Items[i]
				lines = append(lines, line)
				purchased += line.Quantity
				taken += requested[line.ID]
			}
		}
		if len(lines) == 0 {
			return nil, Validation("product %s is not part of order %s", item.ProductID, order.OrderNumber)
		}
		if taken+item.Quantity > purchased {
			return nil, Validation("requested quantity %d of %s exceeds purchased quantity %d",
				taken+item.Quantity, lines[0].ProductName, purchased)
		}

		reason := strings.TrimSpace(item.Reason)
		if reason == "" {
			reason = ret.Reason
		}

		// A request without a variant is spread over the matching lines in order.
		remaining := item.Quantity
		for _, line := range lines {
			qty := min(remaining, line.Quantity-requested[line.ID])
			if qty <= 0 {
				continue
			}
			requested[line.ID] += qty
			remaining -= qty
			ret.Items = append(ret.Items, models.ReturnItem{
				ProductID:   line.ProductID,
				ProductName: line.ProductName,
				Size:        line.Size,
				Color:       line.Color,
				SKU:         line.SKU,
				Quantity:    qty,
				UnitPrice:   line.UnitPrice,
				LineTotal:   line.UnitPrice.Mul(decimal.NewFromInt(int64(qty))).Round(2),
				Currency:    line.Currency,
				IsReturned:  true,
				Reason:      reason,
			})
			if remaining == 0 {
				break
			}
		}
	}

	s.warnOverReturn(ctx, &order, requested)

	ret.ID = uuid.New()
	ret.IdempotencyKey = "return-" + ret.ID.String()

	if err := s.db.WithContext(ctx).Create(ret).Error; err != nil {
		return nil, fmt.Errorf("create return: %w", err)
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyReturnRequested(ctx, ret); err != nil {
			s.log.Warn("return notification failed", zap.Error(err))
		}
	}
	s.log.Info("return requested",
		zap.String("return_number", ret.ReturnNumber),
		zap.String("order_number", ret.OrderNumber),
	)
	return ret, nil
}

// warnOverReturn logs order lines whose open returns, this one included,
// exceed the purchased quantity. The return is still accepted.
func (s *ReturnService) warnOverReturn(ctx context.Context, order *models.Order, requested map[uuid.UUID]int) {
	var prior []models.ReturnItem
	err := s.db.WithContext(ctx).
		Joins("JOIN return_orders ON return_orders.id = return_items.return_order_id").
		Where("return_orders.order_id = ? AND return_orders.status IN ?", order.ID,
			[]string{models.ReturnStatusPending, models.ReturnStatusApproved}).
		Find(&prior).Error
	if err != nil {
		s.log.Warn("load earlier returns", zap.Error(err))
		return
	}

	for _, line := range order.Items {
		qty, ok := requested[line.ID]
		if !ok {
			continue
		}
		for _, item := range prior {
			if item.ProductID == line.ProductID && item.Size == line.Size &&
				item.Color == line.Color && item.SKU == line.SKU {
				qty += item.Quantity
			}
		}
		if qty > line.Quantity {
			s.log.Warn("cumulative return quantity exceeds purchase",
				zap.String("order_number", order.OrderNumber),
				zap.String("product", line.ProductName),
				zap.Int("returned", qty),
				zap.Int("purchased", line.Quantity),
			)
		}
	}
}

func (s *ReturnService) load(ctx context.Context, query string, args ...any) (*models.ReturnOrder, error) {
	var ret models.ReturnOrder
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where(query, args...).
		First(&ret).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("return not found")
	}
	if err != nil {
		return nil, err
	}
	return &ret, nil
}

func (s *ReturnService) GetReturn(ctx context.Context, userID, returnID uuid.UUID) (*models.ReturnOrder, error) {
	return s.load(ctx, "id = ? AND user_id = ?", returnID, userID)
}

func (s *ReturnService) GetReturnByID(ctx context.Context, returnID uuid.UUID) (*models.ReturnOrder, error) {
	return s.load(ctx, "id = ?", returnID)
}

func (s *ReturnService) ListReturns(ctx context.Context, filter ReturnFilter) ([]models.ReturnOrder, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.ReturnOrder{})
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

	var returns []models.ReturnOrder
	if err := query.
		Preload("Items").
		Order("created_at desc").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&returns).Error; err != nil {
		return nil, 0, err
	}
	return returns, total, nil
}

// transition moves a Pending return to another status in one conditional
// update, so only one of several concurrent transitions can win.
func (s *ReturnService) transition(ctx context.Context, ret *models.ReturnOrder, to string, updates map[string]any) error {
	if ret.Status != models.ReturnStatusPending {
		return Conflict("return %s is %s, only Pending returns can be %s", ret.ReturnNumber, ret.Status, strings.ToLower(to))
	}

	updates["status"] = to
	res := s.db.WithContext(ctx).Model(&models.ReturnOrder{}).
		Where("id = ? AND status = ?", ret.ID, models.ReturnStatusPending).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update return %s: %w", ret.ReturnNumber, res.Error)
	}
	if res.RowsAffected == 0 {
		return Conflict("return %s is no longer Pending", ret.ReturnNumber)
	}
	return nil
}

// ApproveReturn approves a Pending return and refunds the returned lines. The
// approval is stored before the gateway is called and is never reverted; a
// refund that cannot be made leaves RefundStatus failed and returns the
// updated return alongside the error.
func (s *ReturnService) ApproveReturn(ctx context.Context, adminID, returnID uuid.UUID, remarks string) (*models.ReturnOrder, error) {
	ret, err := s.GetReturnByID(ctx, returnID)
	if err != nil {
		return nil, err
	}

	amount := decimal.Zero
	for _, item := range ret.Items {
		if item.IsReturned {
			amount = amount.Add(item.LineTotal)
		}
	}

	processedAt := s.now()
	if err := s.transition(ctx, ret, models.ReturnStatusApproved, map[string]any{
		"refund_amount": amount,
		"refund_status": models.RefundStatusPending,
		"admin_remarks": remarks,
		"processed_by":  adminID,
		"processed_at":  processedAt,
	}); err != nil {
		return nil, err
	}

	l := s.log.With(zap.String("return_number", ret.ReturnNumber))
	l.Info("return approved", zap.String("refund_amount", amount.StringFixed(2)))

	var order models.Order
	if err := s.db.WithContext(ctx).Where("id = ?", ret.OrderID).First(&order).Error; err != nil {
		return s.failRefund(ctx, ret, amount, "", "source order unavailable", fmt.Errorf("load order %s: %w", ret.OrderNumber, err))
	}
	if order.GatewayPaymentID == "" {
		return s.failRefund(ctx, ret, amount, "", "order has no gateway payment",
			Validation("order %s has no online payment to refund", order.OrderNumber))
	}

	result := s.gateway.CreateRefund(ctx, RefundRequest{
		PaymentID: order.GatewayPaymentID,
		Amount:    amount,
		Notes: map[string]string{
			"return_number":   ret.ReturnNumber,
			"order_number":    ret.OrderNumber,
			"idempotency_key": ret.IdempotencyKey,
		},
	})
	if !result.Success {
		l.Error("refund failed", zap.Int("status_code", result.StatusCode), zap.String("raw", result.Raw))
		return s.failRefund(ctx, ret, amount, order.GatewayPaymentID, result.Error,
			External(errors.New(result.Error), "refund failed"))
	}

	status := result.Status
	if status == "" {
		status = models.RefundStatusCreated
	}
	if err := s.db.WithContext(ctx).Model(&models.ReturnOrder{}).Where("id = ?", ret.ID).Updates(map[string]any{
		"refund_id":         result.RefundID,
		"refund_status":     status,
		"refund_payment_id": order.GatewayPaymentID,
		"refund_error":      "",
	}).Error; err != nil {
		return nil, fmt.Errorf("store refund of %s: %w", ret.ReturnNumber, err)
	}

	l.Info("refund created", zap.String("refund_id", result.RefundID), zap.String("status", status))
	return s.GetReturnByID(ctx, ret.ID)
}

// failRefund records a failed refund on an approved return.
func (s *ReturnService) failRefund(ctx context.Context, ret *models.ReturnOrder, amount decimal.Decimal, paymentID, reason string, cause error) (*models.ReturnOrder, error) {
	updates := map[string]any{
		"refund_status":     models.RefundStatusFailed,
		"refund_error":      reason,
		"refund_payment_id": paymentID,
	}
	if err := s.db.WithContext(ctx).Model(&models.ReturnOrder{}).Where("id = ?", ret.ID).Updates(updates).Error; err != nil {
		s.log.Error("failed to record refund failure", zap.String("return_number", ret.ReturnNumber), zap.Error(err))
	}

	if s.notifier != nil {
		currency := ""
		if len(ret.Items) > 0 {
			currency = ret.Items[0].Currency
		}
		if err := s.notifier.NotifyRefundFailed(ctx, ret.ReturnNumber, amount, currency, reason); err != nil {
			s.log.Warn("refund failure notification failed", zap.Error(err))
		}
	}

	updated, err := s.GetReturnByID(ctx, ret.ID)
	if err != nil {
		return nil, errors.Join(cause, err)
	}
	return updated, cause
}

// RejectReturn closes a Pending return without any refund or restock.
func (s *ReturnService) RejectReturn(ctx context.Context, adminID, returnID uuid.UUID, remarks string) (*models.ReturnOrder, error) {
	ret, err := s.GetReturnByID(ctx, returnID)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, ret, models.ReturnStatusRejected, map[string]any{
		"admin_remarks": remarks,
		"processed_by":  adminID,
		"processed_at":  s.now(),
	}); err != nil {
		return nil, err
	}
	return s.GetReturnByID(ctx, ret.ID)
}

// CancelReturn lets the owner withdraw a Pending return.
func (s *ReturnService) CancelReturn(ctx context.Context, userID, returnID uuid.UUID) (*models.ReturnOrder, error) {
	ret, err := s.GetReturn(ctx, userID, returnID)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, ret, models.ReturnStatusCancelled, map[string]any{
		"cancelled_at": s.now(),
	}); err != nil {
		return nil, err
	}
	return s.GetReturnByID(ctx, ret.ID)
}
