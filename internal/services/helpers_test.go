package services

import (
	"context"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/commerce/internal/models"
)

// newTestDB opens an in-memory database with every table migrated. The pool
// is limited to one connection so concurrent callers serialize on it.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func intPtr(v int) *int {
	return &v
}

func seedUser(t *testing.T, db *gorm.DB, points string) *models.User {
	t.Helper()
	user := models.User{
		FirstName:     "Asha",
		Phone:         "+91" + uuid.NewString()[:10],
		Role:          models.RoleCustomer,
		LoyaltyPoints: dec(points),
	}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

type seededProduct struct {
	ID  uuid.UUID
	Key VariantKey
}

// seedProduct creates an active product with one variant and an INR price tier.
func seedProduct(t *testing.T, db *gorm.DB, name, price, shipping string, stock int) seededProduct {
	t.Helper()
	product := models.Product{Slug: uuid.NewString(), Name: name, IsActive: true}
	require.NoError(t, db.Create(&product).Error)

	key := VariantKey{Size: "M", Color: "Black", SKU: "SKU-" + name}
	require.NoError(t, db.Create(&models.ProductVariant{
		ProductID: product.ID,
		Size:      key.Size,
		Color:     key.Color,
		SKU:       key.SKU,
		Quantity:  stock,
	}).Error)
	require.NoError(t, db.Create(&models.ProductPrice{
		ProductID:      product.ID,
		Currency:       "INR",
		Amount:         dec(price),
		ShippingAmount: dec(shipping),
	}).Error)

	return seededProduct{ID: product.ID, Key: key}
}

func addToCart(t *testing.T, db *gorm.DB, userID uuid.UUID, p seededProduct, qty int) {
	t.Helper()
	require.NoError(t, db.Create(&models.CartItem{
		UserID:    userID,
		ProductID: p.ID,
		Size:      p.Key.Size,
		Color:     p.Key.Color,
		SKU:       p.Key.SKU,
		Quantity:  qty,
		Currency:  "INR",
	}).Error)
}

func variantRow(t *testing.T, db *gorm.DB, p seededProduct) models.ProductVariant {
	t.Helper()
	var row models.ProductVariant
	require.NoError(t, db.Where("product_id = ? AND sku = ?", p.ID, p.Key.SKU).First(&row).Error)
	return row
}

// fakeGateway records calls and answers with canned results.
type fakeGateway struct {
	mu sync.Mutex

	createErr   error
	orderSeq    int
	created     []decimal.Decimal
	signatureOK bool
	refund      RefundResult
	refunds     []RefundRequest
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		signatureOK: true,
		refund:      RefundResult{Success: true, RefundID: "rfnd_1", Status: models.RefundStatusProcessed},
	}
}

func (g *fakeGateway) CreateOrder(_ context.Context, amount decimal.Decimal, currency, receipt string) (*GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.orderSeq++
	g.created = append(g.created, amount)
	return &GatewayOrder{
		ID:       "order_" + receipt,
		Amount:   ToMinorUnits(amount),
		Currency: currency,
		Receipt:  receipt,
		Status:   "created",
	}, nil
}

func (g *fakeGateway) VerifySignature(_ context.Context, _, _, _ string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.signatureOK
}

func (g *fakeGateway) CreateRefund(_ context.Context, req RefundRequest) RefundResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, req)
	return g.refund
}

func (g *fakeGateway) refundCalls() []RefundRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]RefundRequest(nil), g.refunds...)
}

// fakeNotifier counts notifications.
type fakeNotifier struct {
	mu             sync.Mutex
	newOrders      int
	returns        int
	refundFailures []string
}

func (n *fakeNotifier) NotifyNewOrder(context.Context, *models.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.newOrders++
	return nil
}

func (n *fakeNotifier) NotifyReturnRequested(context.Context, *models.ReturnOrder) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.returns++
	return nil
}

func (n *fakeNotifier) NotifyRefundFailed(_ context.Context, reference string, _ decimal.Decimal, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refundFailures = append(n.refundFailures, reference)
	return nil
}
