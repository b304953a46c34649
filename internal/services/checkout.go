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

	"github.com/example/commerce/internal/cache"
	"github.com/example/commerce/internal/logger"
	"github.com/example/commerce/internal/models"
	"github.com/example/commerce/internal/saga"
)

const (
	defaultCurrency       = "INR"
	idempotencyInProgress = "in-progress"
)

type CartProvider interface {
	GetLineItems(ctx context.Context, userID uuid.UUID) ([]models.CartItem, error)
	Clear(ctx context.Context, userID uuid.UUID) error
}

type ProductCatalog interface {
	GetProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error)
	GetPrice(ctx context.Context, productID uuid.UUID, currency, country string) (*models.ProductPrice, error)
	GetAvailableQty(ctx context.Context, productID uuid.UUID, key VariantKey) (int, error)
}

type LoyaltyProvider interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	Deduct(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, orderID *uuid.UUID) (bool, error)
	Restore(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, orderID *uuid.UUID) error
	Redeemed(ctx context.Context, orderID uuid.UUID) (decimal.Decimal, error)
}

type StockLedger interface {
	Decrement(ctx context.Context, productID uuid.UUID, key VariantKey, qty int) (bool, error)
	Increment(ctx context.Context, productID uuid.UUID, key VariantKey, qty int) (bool, error)
}

type CouponClaimer interface {
	Validate(ctx context.Context, code string, userID uuid.UUID, amount decimal.Decimal) (CouponPreview, error)
	TryClaim(ctx context.Context, code string, userID, orderID uuid.UUID) (*models.Coupon, error)
	UndoClaim(ctx context.Context, couponID, userID, orderID uuid.UUID) error
	RecordUsage(ctx context.Context, couponID, userID, orderID uuid.UUID, discount decimal.Decimal)
}

type PaymentGateway interface {
	CreateOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string) (*GatewayOrder, error)
	VerifySignature(ctx context.Context, orderID, paymentID, signature string) bool
	CreateRefund(ctx context.Context, req RefundRequest) RefundResult
}

// OrderDeps are the collaborators of OrderService. Notifier and Idempotency
// are optional.
type OrderDeps struct {
	Cart        CartProvider
	Catalog     ProductCatalog
	Loyalty     LoyaltyProvider
	Inventory   StockLedger
	Coupons     CouponClaimer
	Gateway     PaymentGateway
	Notifier    Notifier
	Idempotency cache.Cache
}

type OrderOptions struct {
	// VerifyLoyaltyBalance rejects a loyalty discount larger than the balance.
	VerifyLoyaltyBalance bool
	IdempotencyTTL       time.Duration
}

// CheckoutRequest turns the user's cart into an order.
type CheckoutRequest struct {
	UserID          uuid.UUID       `json:"-"`
	PaymentMethod   string          `json:"payment_method"`
	Currency        string          `json:"currency"`
	Country         string          `json:"country"`
	CouponCode      string          `json:"coupon_code"`
	LoyaltyDiscount decimal.Decimal `json:"loyalty_discount"`
	Notes           string          `json:"notes"`
	IdempotencyKey  string          `json:"-"`
}

type CheckoutResult struct {
	Order    *models.Order `json:"order"`
	Payment  *GatewayOrder `json:"payment,omitempty"`
	Replayed bool          `json:"replayed,omitempty"`
}

// OrderService owns the order aggregate: checkout, payment and cancellation.
type OrderService struct {
	db   *gorm.DB
	deps OrderDeps
	opts OrderOptions
	log  *zap.Logger
	now  func() time.Time
}

func NewOrderService(db *gorm.DB, deps OrderDeps, opts OrderOptions) *OrderService {
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	return &OrderService{
		db:   db,
		deps: deps,
		opts: opts,
		log:  logger.Named("orders"),
		now:  time.Now,
	}
}

func newOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102"), suffix)
}

func variantKeyOf(size, color, sku string) VariantKey {
	return VariantKey{Size: size, Color: color, SKU: sku}
}

// Checkout creates an order from the user's cart. Stock consumption and the
// coupon claim are compensated in reverse order when a later one fails, and
// the order row is deleted, so a failed checkout leaves no trace apart from a
// best-effort loyalty deduction.
//
// For gateway payments a failure to create the gateway order returns the
// persisted Pending order together with the error; the client retries through
// InitiatePayment.
func (s *OrderService) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if err := s.normalize(&req); err != nil {
		return nil, err
	}

	idemKey := ""
	if req.IdempotencyKey != "" && s.deps.Idempotency != nil {
		idemKey = fmt.Sprintf("checkout:idem:%s:%s", req.UserID, req.IdempotencyKey)
		replay, err := s.claimIdempotencyKey(ctx, idemKey, req.UserID)
		if err != nil || replay != nil {
			return replay, err
		}
	}

	result, err := s.checkout(ctx, req)

	if idemKey != "" {
		if result == nil {
			if delErr := s.deps.Idempotency.Delete(context.WithoutCancel(ctx), idemKey); delErr != nil {
				s.log.Warn("failed to release idempotency key", zap.Error(delErr))
			}
		} else if setErr := s.deps.Idempotency.Set(ctx, idemKey, []byte(result.Order.ID.String()), s.opts.IdempotencyTTL); setErr != nil {
			s.log.Warn("failed to store idempotency key", zap.Error(setErr))
		}
	}

	return result, err
}

func (s *OrderService) normalize(req *CheckoutRequest) error {
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	switch req.PaymentMethod {
	case models.PaymentMethodCOD, models.PaymentMethodRazorpay:
	case "":
		return Validation("payment_method is required")
	default:
		return Validation("unsupported payment method %q", req.PaymentMethod)
	}

	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.Currency == "" {
		req.Currency = defaultCurrency
	}
	req.Country = strings.ToUpper(strings.TrimSpace(req.Country))
	req.CouponCode = normalizeCode(req.CouponCode)

	if req.LoyaltyDiscount.IsNegative() {
		return Validation("loyalty_discount must not be negative")
	}
	req.LoyaltyDiscount = req.LoyaltyDiscount.Round(2)
	return nil
}

// claimIdempotencyKey returns a replayed result when the key already maps to
// an order.
func (s *OrderService) claimIdempotencyKey(ctx context.Context, key string, userID uuid.UUID) (*CheckoutResult, error) {
	ok, err := s.deps.Idempotency.SetNX(ctx, key, []byte(idempotencyInProgress), s.opts.IdempotencyTTL)
	if err != nil {
		return nil, fmt.Errorf("idempotency key: %w", err)
	}
	if ok {
		return nil, nil
	}

	raw, err := s.deps.Idempotency.Get(ctx, key)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, Conflict("checkout with this idempotency key is being retried, try again")
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency key: %w", err)
	}
	if string(raw) == idempotencyInProgress {
		return nil, Conflict("checkout with this idempotency key is already in progress")
	}

	orderID, err := uuid.Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("idempotency key holds %q: %w", raw, err)
	}
	order, err := s.GetOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	return &CheckoutResult{Order: order, Replayed: true}, nil
}

func (s *OrderService) checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	now := s.now()
	order := &models.Order{
		UserID:          req.UserID,
		OrderNumber:     newOrderNumber(now),
		Status:          models.OrderStatusPending,
		PlacedAt:        now,
		Currency:        req.Currency,
		Country:         req.Country,
		Tax:             decimal.Zero,
		Discount:        decimal.Zero,
		LoyaltyDiscount: req.LoyaltyDiscount,
		PaymentMethod:   req.PaymentMethod,
		PaymentStatus:   models.PaymentStatusPending,
		CouponCode:      req.CouponCode,
		Notes:           req.Notes,
	}

	if err := s.priceItems(ctx, req, order); err != nil {
		return nil, err
	}

	if req.CouponCode != "" {
		preview, err := s.deps.Coupons.Validate(ctx, req.CouponCode, req.UserID, order.Subtotal)
		if err != nil {
			return nil, err
		}
		if !preview.Valid {
			return nil, Validation("coupon %s: %s", req.CouponCode, preview.Reason)
		}
		order.Discount = preview.Discount
	}

	if s.opts.VerifyLoyaltyBalance && req.LoyaltyDiscount.IsPositive() {
		balance, err := s.deps.Loyalty.GetBalance(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
		if req.LoyaltyDiscount.GreaterThan(balance) {
			return nil, Validation("loyalty discount %s exceeds balance %s", req.LoyaltyDiscount.StringFixed(2), balance.StringFixed(2))
		}
	}

	order.TotalAmount = orderTotal(order)

	if err := s.placeOrder(ctx, req, order); err != nil {
		var stepErr *saga.StepError
		if errors.As(err, &stepErr) {
			return nil, stepErr.Err
		}
		return nil, err
	}

	s.afterPlacement(ctx, req, order)

	result := &CheckoutResult{Order: order}
	if order.PaymentMethod == models.PaymentMethodRazorpay && order.PaymentStatus == models.PaymentStatusPending {
		payment, err := s.createGatewayOrder(ctx, order)
		if err != nil {
			return result, err
		}
		result.Payment = payment
	}
	return result, nil
}

// priceItems builds the order lines from the cart at current prices.
func (s *OrderService) priceItems(ctx context.Context, req CheckoutRequest, order *models.Order) error {
	cart, err := s.deps.Cart.GetLineItems(ctx, req.UserID)
	if err != nil {
		return fmt.Errorf("load cart: %w", err)
	}
	if len(cart) == 0 {
		return Validation("cart is empty")
	}

	subtotal := decimal.Zero
	shipping := decimal.Zero
	for _, entry := range cart {
		if entry.Quantity <= 0 {
			return Validation("cart item %s has invalid quantity %d", entry.ID, entry.Quantity)
		}
		key := variantKeyOf(entry.Size, entry.Color, entry.SKU)

		product, err := s.deps.Catalog.GetProduct(ctx, entry.ProductID)
		if err != nil {
			if KindOf(err) == KindNotFound {
				return Validation("product %s is no longer available", entry.ProductID)
			}
			return err
		}

		tier, err := s.deps.Catalog.GetPrice(ctx, entry.ProductID, req.Currency, req.Country)
		if err != nil {
			if KindOf(err) == KindNotFound {
				return Validation("%s has no %s price", product.Name, req.Currency)
			}
			return err
		}

		available, err := s.deps.Catalog.GetAvailableQty(ctx, entry.ProductID, key)
		if err != nil {
			if KindOf(err) == KindNotFound {
				return Validation("%s %s is not stocked", product.Name, key)
			}
			return err
		}
		if available < entry.Quantity {
			return Validation("%s %s: only %d left", product.Name, key, available)
		}

		qty := decimal.NewFromInt(int64(entry.Quantity))
		lineTotal := tier.Amount.Mul(qty).Round(2)
		subtotal = subtotal.Add(lineTotal)
		shipping = shipping.Add(tier.ShippingAmount.Mul(qty))

		order.Items = append(order.Items, models.OrderItem{
			ProductID:   entry.ProductID,
			ProductName: product.Name,
			Size:        entry.Size,
			Color:       entry.Color,
			SKU:         entry.SKU,
			Quantity:    entry.Quantity,
			UnitPrice:   tier.Amount,
			LineTotal:   lineTotal,
			Currency:    req.Currency,
		})
	}

	order.Subtotal = subtotal.Round(2)
	order.ShippingFee = shipping.Round(2)
	return nil
}

// orderTotal is subtotal + shipping + tax - discounts, never below zero.
func orderTotal(order *models.Order) decimal.Decimal {
	total := order.Subtotal.
		Add(order.ShippingFee).
		Add(order.Tax).
		Sub(order.Discount.Add(order.LoyaltyDiscount))
	if total.IsNegative() {
		return decimal.Zero
	}
	return total.Round(2)
}

// placeOrder persists the order, consumes stock per line and claims the coupon.
func (s *OrderService) placeOrder(ctx context.Context, req CheckoutRequest, order *models.Order) error {
	run := saga.New(s.log)

	run.Add(saga.Step{
		Name: "persist order",
		Do: func(ctx context.Context) error {
			if order.TotalAmount.IsZero() {
				paidAt := s.now()
				order.PaymentStatus = models.PaymentStatusPaid
				order.Status = models.OrderStatusPaid
				order.PaidAt = &paidAt
			}
			return s.db.WithContext(ctx).Create(order).Error
		},
		Undo: func(ctx context.Context) error {
			return s.deleteOrder(ctx, order.ID)
		},
	})

	for _, item := range order.Items {
		key := variantKeyOf(item.Size, item.Color, item.SKU)
		run.Add(saga.Step{
			Name: "decrement " + item.ProductID.String() + " " + key.String(),
			Do: func(ctx context.Context) error {
				ok, err := s.deps.Inventory.Decrement(ctx, item.ProductID, key, item.Quantity)
				if err != nil {
					return err
				}
				if !ok {
					return Conflict("stock reservation failed for %s %s", item.ProductName, key)
				}
				return nil
			},
			Undo: func(ctx context.Context) error {
				ok, err := s.deps.Inventory.Increment(ctx, item.ProductID, key, item.Quantity)
				if err == nil && !ok {
					err = fmt.Errorf("restock of %s %s not applied", item.ProductID, key)
				}
				return err
			},
		})
	}

	if req.CouponCode != "" {
		var claimed *models.Coupon
		run.Add(saga.Step{
			Name: "claim coupon " + req.CouponCode,
			Do: func(ctx context.Context) error {
				coupon, err := s.deps.Coupons.TryClaim(ctx, req.CouponCode, req.UserID, order.ID)
				if err != nil {
					return err
				}
				if coupon == nil {
					return Conflict("coupon %s could not be claimed", req.CouponCode)
				}
				claimed = coupon
				return nil
			},
			Undo: func(ctx context.Context) error {
				return s.deps.Coupons.UndoClaim(ctx, claimed.ID, req.UserID, order.ID)
			},
		})
		run.Add(saga.Step{
			Name: "link coupon " + req.CouponCode,
			Do: func(ctx context.Context) error {
				err := s.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", order.ID).Updates(map[string]any{
					"coupon_id":             claimed.ID,
					"coupon_usage_recorded": true,
				}).Error
				if err != nil {
					return err
				}
				order.CouponID = &claimed.ID
				order.CouponUsageRecorded = true
				return nil
			},
		})
	}

	return run.Run(ctx)
}

func (s *OrderService) deleteOrder(ctx context.Context, orderID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("order_id = ?", orderID).Delete(&models.OrderItem{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", orderID).Delete(&models.Order{}).Error
	})
}

// afterPlacement runs the best-effort steps that follow a committed order.
func (s *OrderService) afterPlacement(ctx context.Context, req CheckoutRequest, order *models.Order) {
	l := s.log.With(zap.String("order_number", order.OrderNumber))

	if order.CouponID != nil {
		s.deps.Coupons.RecordUsage(ctx, *order.CouponID, req.UserID, order.ID, order.Discount)
	}

	if order.LoyaltyDiscount.IsPositive() {
		ok, err := s.deps.Loyalty.Deduct(ctx, req.UserID, order.LoyaltyDiscount, &order.ID)
		switch {
		case err != nil:
			l.Warn("loyalty deduction failed", zap.Error(err))
		case !ok:
			l.Warn("loyalty deduction skipped: insufficient balance",
				zap.String("amount", order.LoyaltyDiscount.StringFixed(2)))
		}
	}

	if err := s.deps.Cart.Clear(ctx, req.UserID); err != nil {
		l.Warn("failed to clear cart", zap.Error(err))
	}

	if s.deps.Notifier != nil {
		if err := s.deps.Notifier.NotifyNewOrder(ctx, order); err != nil {
			l.Warn("new order notification failed", zap.Error(err))
		}
	}

	l.Info("order placed",
		zap.String("payment_method", order.PaymentMethod),
		zap.String("total", order.TotalAmount.StringFixed(2)),
	)
}

// InitiatePayment (re)creates the gateway order of a Pending gateway-paid order.
func (s *OrderService) InitiatePayment(ctx context.Context, userID, orderID uuid.UUID) (*GatewayOrder, error) {
	order, err := s.GetOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentMethod != models.PaymentMethodRazorpay {
		return nil, Validation("order %s is not paid online", order.OrderNumber)
	}
	if order.Status != models.OrderStatusPending || order.PaymentStatus == models.PaymentStatusPaid || order.PaymentStatus == models.PaymentStatusRefunded {
		return nil, Conflict("order %s is not awaiting payment", order.OrderNumber)
	}
	return s.createGatewayOrder(ctx, order)
}

func (s *OrderService) createGatewayOrder(ctx context.Context, order *models.Order) (*GatewayOrder, error) {
	payment, err := s.deps.Gateway.CreateOrder(ctx, order.TotalAmount, order.Currency, order.OrderNumber)
	if err != nil {
		s.log.Error("gateway order creation failed",
			zap.String("order_number", order.OrderNumber),
			zap.Error(err),
		)
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", order.ID).Updates(map[string]any{
		"gateway_order_id": payment.ID,
		"payment_status":   models.PaymentStatusPending,
	}).Error; err != nil {
		return nil, fmt.Errorf("store gateway order id: %w", err)
	}
	order.GatewayOrderID = payment.ID
	order.PaymentStatus = models.PaymentStatusPending
	return payment, nil
}
