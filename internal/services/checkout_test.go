package services

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/example/commerce/internal/cache"
	"github.com/example/commerce/internal/models"
)

type checkoutEnv struct {
	db        *gorm.DB
	svc       *OrderService
	gateway   *fakeGateway
	notifier  *fakeNotifier
	inventory *InventoryLedger
	coupons   *CouponStore
	loyalty   *LoyaltyService
	user      *models.User
	shirt     seededProduct
	cap       seededProduct
}

type envOption func(*OrderDeps, *OrderOptions)

func newCheckoutEnv(t *testing.T, opts ...envOption) *checkoutEnv {
	t.Helper()
	db := newTestDB(t)

	env := &checkoutEnv{
		db:        db,
		gateway:   newFakeGateway(),
		notifier:  &fakeNotifier{},
		inventory: NewInventoryLedger(db),
		coupons:   NewCouponStore(db, nil),
		loyalty:   NewLoyaltyService(db),
		user:      seedUser(t, db, "100"),
		shirt:     seedProduct(t, db, "shirt", "500", "20", 5),
		cap:       seedProduct(t, db, "cap", "300", "10", 1),
	}

	deps := OrderDeps{
		Cart:      NewCartService(db),
		Catalog:   NewCatalogService(db, env.inventory),
		Loyalty:   env.loyalty,
		Inventory: env.inventory,
		Coupons:   env.coupons,
		Gateway:   env.gateway,
		Notifier:  env.notifier,
	}
	options := OrderOptions{}
	for _, opt := range opts {
		opt(&deps, &options)
	}
	env.svc = NewOrderService(db, deps, options)
	return env
}

func (e *checkoutEnv) checkout(t *testing.T, method string, mutate func(*CheckoutRequest)) (*CheckoutResult, error) {
	t.Helper()
	req := CheckoutRequest{UserID: e.user.ID, PaymentMethod: method, Currency: "INR"}
	if mutate != nil {
		mutate(&req)
	}
	return e.svc.Checkout(context.Background(), req)
}

func (e *checkoutEnv) orderCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&models.Order{}).Count(&n).Error)
	return n
}

// optimisticCatalog reports plenty of stock so failures surface at decrement time.
type optimisticCatalog struct {
	*CatalogService
}

func (optimisticCatalog) GetAvailableQty(context.Context, uuid.UUID, VariantKey) (int, error) {
	return 100, nil
}

// refusingCoupons validates normally but loses every claim.
type refusingCoupons struct {
	*CouponStore
}

func (refusingCoupons) TryClaim(context.Context, string, uuid.UUID, uuid.UUID) (*models.Coupon, error) {
	return nil, nil
}

// TestOrderService_Checkout_COD verifies pricing, stock consumption and cart clearing.
func TestOrderService_Checkout_COD(t *testing.T) {
	env := newCheckoutEnv(t)
	addToCart(t, env.db, env.user.ID, env.shirt, 2)

	result, err := env.checkout(t, models.PaymentMethodCOD, nil)
	require.NoError(t, err)
	require.NotNil(t, result.Order)
	assert.Nil(t, result.Payment)

	order := result.Order
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)
	assert.True(t, dec("1000").Equal(order.Subtotal))
	assert.True(t, dec("40").Equal(order.ShippingFee))
	assert.True(t, order.Tax.IsZero())
	assert.True(t, dec("1040").Equal(order.TotalAmount))
	require.Len(t, order.Items, 1)
	assert.Equal(t, "shirt", order.Items[0].ProductName)
	assert.True(t, dec("1000").Equal(order.Items[0].LineTotal))

	assert.Equal(t, 3, variantRow(t, env.db, env.shirt).Quantity)

	items, err := NewCartService(env.db).GetLineItems(context.Background(), env.user.ID)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, 1, env.notifier.newOrders)

	stored, err := env.svc.GetOrder(context.Background(), env.user.ID, order.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Items, 1)
}

// TestOrderService_Checkout_CouponAndLoyalty verifies discounts and their side effects.
func TestOrderService_Checkout_CouponAndLoyalty(t *testing.T) {
	env := newCheckoutEnv(t)
	createSave10(t, env.coupons, nil)
	addToCart(t, env.db, env.user.ID, env.shirt, 2)

	result, err := env.checkout(t, models.PaymentMethodCOD, func(r *CheckoutRequest) {
		r.CouponCode = "save10"
		r.LoyaltyDiscount = dec("30")
	})
	require.NoError(t, err)

	order := result.Order
	assert.True(t, dec("50").Equal(order.Discount))
	assert.True(t, dec("30").Equal(order.LoyaltyDiscount))
	assert.True(t, dec("960").Equal(order.TotalAmount))
	assert.Equal(t, "SAVE10", order.CouponCode)
	require.NotNil(t, order.CouponID)
	assert.True(t, order.CouponUsageRecorded)

	coupon, err := env.coupons.GetByCode(context.Background(), "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, 1, coupon.UsedCount)

	var usages int64
	require.NoError(t, env.db.Model(&models.CouponUsage{}).Where("order_id = ?", order.ID).Count(&usages).Error)
	assert.Equal(t, int64(1), usages)

	balance, err := env.loyalty.GetBalance(context.Background(), env.user.ID)
	require.NoError(t, err)
	assert.True(t, dec("70").Equal(balance))
}

// TestOrderService_Checkout_TotalClampedAtZero verifies discounts never make the total negative.
func TestOrderService_Checkout_TotalClampedAtZero(t *testing.T) {
	env := newCheckoutEnv(t)
	addToCart(t, env.db, env.user.ID, env.cap, 1)

	result, err := env.checkout(t, models.PaymentMethodRazorpay, func(r *CheckoutRequest) {
		r.LoyaltyDiscount = dec("5000")
	})
	require.NoError(t, err)
	assert.True(t, result.Order.TotalAmount.IsZero())
	assert.Equal(t, models.PaymentStatusPaid, result.Order.PaymentStatus)
	assert.Nil(t, result.Payment, "nothing to collect online")
	assert.Empty(t, env.gateway.created)
}

// TestOrderService_Checkout_InvalidCouponAbortsBeforeMutation verifies nothing is written.
func TestOrderService_Checkout_InvalidCouponAbortsBeforeMutation(t *testing.T) {
	env := newCheckoutEnv(t)
	createSave10(t, env.coupons, nil)
	addToCart(t, env.db, env.user.ID, env.shirt, 1)

	require.NoError(t, env.db.Model(&models.ProductPrice{}).Where("product_id = ?", env.shirt.ID).Update("amount", dec("50")).Error)

	_, err := env.checkout(t, models.PaymentMethodCOD, func(r *CheckoutRequest) { r.CouponCode = "SAVE10" })
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Contains(t, err.Error(), "minimum order amount")

	assert.Equal(t, int64(0), env.orderCount(t))
	assert.Equal(t, 5, variantRow(t, env.db, env.shirt).Quantity)
}

// TestOrderService_Checkout_Validation verifies request and cart validation.
func TestOrderService_Checkout_Validation(t *testing.T) {
	env := newCheckoutEnv(t)

	_, err := env.checkout(t, models.PaymentMethodCOD, nil)
	assert.Equal(t, KindValidation, KindOf(err), "empty cart")

	addToCart(t, env.db, env.user.ID, env.cap, 2)
	_, err = env.checkout(t, models.PaymentMethodCOD, nil)
	assert.Equal(t, KindValidation, KindOf(err), "more than available")

	_, err = env.checkout(t, "paypal", nil)
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = env.checkout(t, models.PaymentMethodCOD, func(r *CheckoutRequest) { r.Currency = "USD" })
	assert.Equal(t, KindValidation, KindOf(err), "no USD price tier")

	_, err = env.checkout(t, models.PaymentMethodCOD, func(r *CheckoutRequest) { r.LoyaltyDiscount = dec("-1") })
	assert.Equal(t, KindValidation, KindOf(err))

	assert.Equal(t, int64(0), env.orderCount(t))
}

// TestOrderService_Checkout_StockFailureCompensates verifies a failed decrement
// restores earlier lines and removes the order.
func TestOrderService_Checkout_StockFailureCompensates(t *testing.T) {
	env := newCheckoutEnv(t, func(deps *OrderDeps, _ *OrderOptions) {
		deps.Catalog = optimisticCatalog{deps.Catalog.(*CatalogService)}
	})
	createSave10(t, env.coupons, nil)
	addToCart(t, env.db, env.user.ID, env.shirt, 2)
	addToCart(t, env.db, env.user.ID, env.cap, 2)

	_, err := env.checkout(t, models.PaymentMethodCOD, func(r *CheckoutRequest) { r.CouponCode = "SAVE10" })
	require.Error(t, err)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Contains(t, err.Error(), "stock reservation failed")

	assert.Equal(t, 5, variantRow(t, env.db, env.shirt).Quantity)
	assert.Equal(t, 1, variantRow(t, env.db, env.cap).Quantity)
	assert.Equal(t, int64(0), env.orderCount(t))

	var items int64
	require.NoError(t, env.db.Model(&models.OrderItem{}).Count(&items).Error)
	assert.Equal(t, int64(0), items)

	coupon, err := env.coupons.GetByCode(context.Background(), "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, 0, coupon.UsedCount)

	cart, err := NewCartService(env.db).GetLineItems(context.Background(), env.user.ID)
	require.NoError(t, err)
	assert.Len(t, cart, 2, "cart is kept for a retry")
}

// TestOrderService_Checkout_CouponClaimFailureCompensates verifies a lost claim restores stock.
func TestOrderService_Checkout_CouponClaimFailureCompensates(t *testing.T) {
	env := newCheckoutEnv(t, func(deps *OrderDeps, _ *OrderOptions) {
		deps.Coupons = refusingCoupons{deps.Coupons.(*CouponStore)}
	})
	createSave10(t, env.coupons, nil)
	addToCart(t, env.db, env.user.ID, env.shirt, 2)

	_, err := env.checkout(t, models.PaymentMethodCOD, func(r *CheckoutRequest) {
		r.CouponCode = "SAVE10"
		r.LoyaltyDiscount = dec("10")
	})
	require.Error(t, err)
	assert.Equal(t, KindConflict, KindOf(err))

	assert.Equal(t, 5, variantRow(t, env.db, env.shirt).Quantity)
	assert.Equal(t, int64(0), env.orderCount(t))

	balance, err := env.loyalty.GetBalance(context.Background(), env.user.ID)
	require.NoError(t, err)
	assert.True(t, dec("100").Equal(balance), "points untouched when checkout fails")
}

// TestOrderService_Checkout_UsedCouponIgnoresCachedPreview verifies a coupon
// consumed by an earlier order is rejected up front even while a stale
// preview of it is cached.
func TestOrderService_Checkout_UsedCouponIgnoresCachedPreview(t *testing.T) {
	env := newCheckoutEnv(t)
	mr := miniredis.RunT(t)
	previews, err := cache.NewRedisAdapter("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = previews.Close() })
	env.coupons.cache = previews

	createSave10(t, env.coupons, nil)
	ctx := context.Background()

	preview, err := env.coupons.ValidateOnly(ctx, "SAVE10", env.user.ID, dec("1000"))
	require.NoError(t, err)
	require.True(t, preview.Valid)

	addToCart(t, env.db, env.user.ID, env.shirt, 2)
	_, err = env.checkout(t, models.PaymentMethodCOD, func(r *CheckoutRequest) { r.CouponCode = "SAVE10" })
	require.NoError(t, err)

	cached, err := env.coupons.ValidateOnly(ctx, "SAVE10", env.user.ID, dec("1000"))
	require.NoError(t, err)
	assert.True(t, cached.Valid, "preview endpoint still serves the cached answer")

	addToCart(t, env.db, env.user.ID, env.shirt, 2)
	_, err = env.checkout(t, models.PaymentMethodCOD, func(r *CheckoutRequest) { r.CouponCode = "SAVE10" })
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Contains(t, err.Error(), "coupon already used")

	assert.Equal(t, int64(1), env.orderCount(t))
	assert.Equal(t, 3, variantRow(t, env.db, env.shirt).Quantity, "stock untouched by the rejected checkout")
}

// TestOrderService_Checkout_CouponLinkFailureUndoesClaim verifies a claim is
// reverted when the order cannot be marked with it afterwards.
func TestOrderService_Checkout_CouponLinkFailureUndoesClaim(t *testing.T) {
	env := newCheckoutEnv(t)
	coupon := createSave10(t, env.coupons, nil)
	addToCart(t, env.db, env.user.ID, env.shirt, 2)

	require.NoError(t, env.db.Callback().Update().Before("gorm:update").Register("test:fail_coupon_link", func(tx *gorm.DB) {
		if fields, ok := tx.Statement.Dest.(map[string]any); ok {
			if _, hit := fields["coupon_usage_recorded"]; hit {
				_ = tx.AddError(errors.New("orders table unavailable"))
			}
		}
	}))

	_, err := env.checkout(t, models.PaymentMethodCOD, func(r *CheckoutRequest) { r.CouponCode = "SAVE10" })
	require.Error(t, err)

	assert.Equal(t, int64(0), env.orderCount(t))
	assert.Equal(t, 5, variantRow(t, env.db, env.shirt).Quantity)

	var stored models.Coupon
	require.NoError(t, env.db.First(&stored, "id = ?", coupon.ID).Error)
	assert.Equal(t, 0, stored.UsedCount)

	var redemptions int64
	require.NoError(t, env.db.Model(&models.CouponRedemption{}).Where("coupon_id = ?", coupon.ID).Count(&redemptions).Error)
	assert.Zero(t, redemptions)
}

// TestOrderService_Checkout_VerifyLoyaltyBalance verifies the optional balance check.
func TestOrderService_Checkout_VerifyLoyaltyBalance(t *testing.T) {
	env := newCheckoutEnv(t, func(_ *OrderDeps, opts *OrderOptions) {
		opts.VerifyLoyaltyBalance = true
	})
	addToCart(t, env.db, env.user.ID, env.shirt, 1)

	_, err := env.checkout(t, models.PaymentMethodCOD, func(r *CheckoutRequest) { r.LoyaltyDiscount = dec("150") })
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Equal(t, int64(0), env.orderCount(t))

	result, err := env.checkout(t, models.PaymentMethodCOD, func(r *CheckoutRequest) { r.LoyaltyDiscount = dec("100") })
	require.NoError(t, err)
	assert.True(t, dec("420").Equal(result.Order.TotalAmount))
}

// TestOrderService_Checkout_UnverifiedLoyaltyIsBestEffort verifies the default
// policy keeps the client discount even when the deduction cannot be made.
func TestOrderService_Checkout_UnverifiedLoyaltyIsBestEffort(t *testing.T) {
	env := newCheckoutEnv(t)
	addToCart(t, env.db, env.user.ID, env.shirt, 1)

	result, err := env.checkout(t, models.PaymentMethodCOD, func(r *CheckoutRequest) { r.LoyaltyDiscount = dec("150") })
	require.NoError(t, err)
	assert.True(t, dec("370").Equal(result.Order.TotalAmount))

	balance, err := env.loyalty.GetBalance(context.Background(), env.user.ID)
	require.NoError(t, err)
	assert.True(t, dec("100").Equal(balance))
}

// TestOrderService_Checkout_Razorpay verifies the gateway order is created and stored.
func TestOrderService_Checkout_Razorpay(t *testing.T) {
	env := newCheckoutEnv(t)
	addToCart(t, env.db, env.user.ID, env.shirt, 1)

	result, err := env.checkout(t, models.PaymentMethodRazorpay, nil)
	require.NoError(t, err)
	require.NotNil(t, result.Payment)
	assert.Equal(t, "order_"+result.Order.OrderNumber, result.Payment.ID)
	assert.Equal(t, int64(52000), result.Payment.Amount)

	stored, err := env.svc.GetOrder(context.Background(), env.user.ID, result.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Payment.ID, stored.GatewayOrderID)
	assert.Equal(t, models.OrderStatusPending, stored.Status)
}

// TestOrderService_Checkout_GatewayFailureKeepsPendingOrder verifies the retry path.
func TestOrderService_Checkout_GatewayFailureKeepsPendingOrder(t *testing.T) {
	env := newCheckoutEnv(t)
	env.gateway.createErr = External(errors.New("timeout"), "payment gateway unreachable")
	addToCart(t, env.db, env.user.ID, env.shirt, 1)

	result, err := env.checkout(t, models.PaymentMethodRazorpay, nil)
	require.Error(t, err)
	assert.Equal(t, KindExternal, KindOf(err))
	require.NotNil(t, result)
	assert.Equal(t, models.OrderStatusPending, result.Order.Status)
	assert.Empty(t, result.Order.GatewayOrderID)
	assert.Equal(t, 4, variantRow(t, env.db, env.shirt).Quantity)

	env.gateway.createErr = nil
	payment, err := env.svc.InitiatePayment(context.Background(), env.user.ID, result.Order.ID)
	require.NoError(t, err)

	stored, err := env.svc.GetOrder(context.Background(), env.user.ID, result.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.ID, stored.GatewayOrderID)
}

// TestOrderService_InitiatePayment_Rejections verifies only pending online orders can be paid.
func TestOrderService_InitiatePayment_Rejections(t *testing.T) {
	env := newCheckoutEnv(t)
	addToCart(t, env.db, env.user.ID, env.shirt, 1)
	cod, err := env.checkout(t, models.PaymentMethodCOD, nil)
	require.NoError(t, err)

	_, err = env.svc.InitiatePayment(context.Background(), env.user.ID, cod.Order.ID)
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = env.svc.InitiatePayment(context.Background(), uuid.New(), cod.Order.ID)
	assert.Equal(t, KindNotFound, KindOf(err))
}

// TestOrderService_Checkout_IdempotencyKey verifies a repeated key replays the first order.
func TestOrderService_Checkout_IdempotencyKey(t *testing.T) {
	mr := miniredis.RunT(t)
	keys, err := cache.NewRedisAdapter("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = keys.Close() })

	env := newCheckoutEnv(t, func(deps *OrderDeps, _ *OrderOptions) {
		deps.Idempotency = keys
	})
	addToCart(t, env.db, env.user.ID, env.shirt, 1)

	first, err := env.checkout(t, models.PaymentMethodCOD, func(r *CheckoutRequest) { r.IdempotencyKey = "k-1" })
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := env.checkout(t, models.PaymentMethodCOD, func(r *CheckoutRequest) { r.IdempotencyKey = "k-1" })
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, int64(1), env.orderCount(t))

	// A failed checkout releases its key.
	_, err = env.checkout(t, models.PaymentMethodCOD, func(r *CheckoutRequest) { r.IdempotencyKey = "k-2" })
	assert.Equal(t, KindValidation, KindOf(err), "cart is empty now")
	assert.False(t, mr.Exists("checkout:idem:"+env.user.ID.String()+":k-2"))
}

func placeRazorpayOrder(t *testing.T, env *checkoutEnv, mutate func(*CheckoutRequest)) *models.Order {
	t.Helper()
	addToCart(t, env.db, env.user.ID, env.shirt, 2)
	result, err := env.checkout(t, models.PaymentMethodRazorpay, mutate)
	require.NoError(t, err)
	return result.Order
}

func verifyInput(env *checkoutEnv, order *models.Order, paymentID string) VerifyPaymentInput {
	return VerifyPaymentInput{
		UserID:         env.user.ID,
		OrderID:        order.ID,
		GatewayOrderID: order.GatewayOrderID,
		PaymentID:      paymentID,
		Signature:      "deadbeef",
	}
}

// TestOrderService_VerifyPayment verifies success, idempotent repeats and conflicts.
func TestOrderService_VerifyPayment(t *testing.T) {
	env := newCheckoutEnv(t)
	order := placeRazorpayOrder(t, env, nil)
	ctx := context.Background()

	paid, err := env.svc.VerifyPayment(ctx, verifyInput(env, order, "pay_1"))
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, paid.Status)
	assert.Equal(t, models.PaymentStatusPaid, paid.PaymentStatus)
	assert.Equal(t, "pay_1", paid.GatewayPaymentID)
	assert.NotNil(t, paid.PaidAt)

	again, err := env.svc.VerifyPayment(ctx, verifyInput(env, order, "pay_1"))
	require.NoError(t, err)
	assert.Equal(t, paid.ID, again.ID)

	_, err = env.svc.VerifyPayment(ctx, verifyInput(env, order, "pay_2"))
	assert.Equal(t, KindConflict, KindOf(err))
}

// TestOrderService_VerifyPayment_SignatureMismatch verifies a bad signature fails the payment.
func TestOrderService_VerifyPayment_SignatureMismatch(t *testing.T) {
	env := newCheckoutEnv(t)
	order := placeRazorpayOrder(t, env, nil)
	env.gateway.signatureOK = false

	_, err := env.svc.VerifyPayment(context.Background(), verifyInput(env, order, "pay_1"))
	assert.Equal(t, KindValidation, KindOf(err))

	stored, err := env.svc.GetOrder(context.Background(), env.user.ID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, stored.PaymentStatus)
	assert.Equal(t, models.OrderStatusPending, stored.Status)

	in := verifyInput(env, order, "pay_1")
	in.GatewayOrderID = "order_other"
	_, err = env.svc.VerifyPayment(context.Background(), in)
	assert.Equal(t, KindValidation, KindOf(err))
}

// TestOrderService_CancelOrder_RefundsPaidOrder verifies every cancellation side effect.
func TestOrderService_CancelOrder_RefundsPaidOrder(t *testing.T) {
	env := newCheckoutEnv(t)
	createSave10(t, env.coupons, nil)
	order := placeRazorpayOrder(t, env, func(r *CheckoutRequest) {
		r.CouponCode = "SAVE10"
		r.LoyaltyDiscount = dec("20")
	})
	ctx := context.Background()
	_, err := env.svc.VerifyPayment(ctx, verifyInput(env, order, "pay_1"))
	require.NoError(t, err)

	cancelled, err := env.svc.CancelOrder(ctx, env.user.ID, order.ID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, models.PaymentStatusRefunded, cancelled.PaymentStatus)
	assert.Equal(t, "rfnd_1", cancelled.RefundID)
	assert.Equal(t, models.RefundStatusProcessed, cancelled.RefundStatus)
	assert.False(t, cancelled.CouponUsageRecorded)
	assert.NotNil(t, cancelled.CancelledAt)

	refunds := env.gateway.refundCalls()
	require.Len(t, refunds, 1)
	assert.Equal(t, "pay_1", refunds[0].PaymentID)
	assert.True(t, order.TotalAmount.Equal(refunds[0].Amount))

	assert.Equal(t, 5, variantRow(t, env.db, env.shirt).Quantity)

	coupon, err := env.coupons.GetByCode(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, 0, coupon.UsedCount)

	balance, err := env.loyalty.GetBalance(ctx, env.user.ID)
	require.NoError(t, err)
	assert.True(t, dec("100").Equal(balance))

	_, err = env.svc.CancelOrder(ctx, env.user.ID, order.ID, "again")
	assert.Equal(t, KindConflict, KindOf(err))
}

// TestOrderService_CancelOrder_RefundFailure verifies the cancellation stands when the refund fails.
func TestOrderService_CancelOrder_RefundFailure(t *testing.T) {
	env := newCheckoutEnv(t)
	order := placeRazorpayOrder(t, env, nil)
	ctx := context.Background()
	_, err := env.svc.VerifyPayment(ctx, verifyInput(env, order, "pay_1"))
	require.NoError(t, err)
	env.gateway.refund = RefundResult{Error: "gateway down", StatusCode: 503}

	cancelled, err := env.svc.CancelOrder(ctx, env.user.ID, order.ID, "late delivery")
	require.Error(t, err)
	assert.Equal(t, KindExternal, KindOf(err))
	require.NotNil(t, cancelled)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, models.RefundStatusFailed, cancelled.RefundStatus)
	assert.Equal(t, models.PaymentStatusPaid, cancelled.PaymentStatus)
	assert.Equal(t, []string{order.OrderNumber}, env.notifier.refundFailures)
}

// TestOrderService_CancelOrder_Shipped verifies shipped orders cannot be cancelled.
func TestOrderService_CancelOrder_Shipped(t *testing.T) {
	env := newCheckoutEnv(t)
	addToCart(t, env.db, env.user.ID, env.shirt, 1)
	result, err := env.checkout(t, models.PaymentMethodCOD, nil)
	require.NoError(t, err)
	require.NoError(t, env.db.Model(&models.Order{}).Where("id = ?", result.Order.ID).Update("status", models.OrderStatusShipped).Error)

	_, err = env.svc.CancelOrder(context.Background(), env.user.ID, result.Order.ID, "")
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, 4, variantRow(t, env.db, env.shirt).Quantity)
}

// TestOrderService_ListOrders verifies user scoping and pagination.
func TestOrderService_ListOrders(t *testing.T) {
	env := newCheckoutEnv(t)
	for i := 0; i < 3; i++ {
		addToCart(t, env.db, env.user.ID, env.shirt, 1)
		_, err := env.checkout(t, models.PaymentMethodCOD, nil)
		require.NoError(t, err)
	}
	ctx := context.Background()

	orders, total, err := env.svc.ListOrders(ctx, OrderFilter{UserID: &env.user.ID, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, orders, 2)

	other := uuid.New()
	orders, total, err = env.svc.ListOrders(ctx, OrderFilter{UserID: &other, Limit: 10})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, orders)

	_, total, err = env.svc.ListOrders(ctx, OrderFilter{Status: models.OrderStatusPending, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}
