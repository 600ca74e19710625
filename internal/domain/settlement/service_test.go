// internal/domain/settlement/service_test.go
package settlement

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/your-org/storefront-backend/internal/config"
	"github.com/your-org/storefront-backend/internal/domain/cart"
	"github.com/your-org/storefront-backend/internal/domain/order"
	"github.com/your-org/storefront-backend/internal/domain/payment"
	"github.com/your-org/storefront-backend/internal/domain/product"
	"github.com/your-org/storefront-backend/internal/pkg/errs"
	"github.com/your-org/storefront-backend/internal/pkg/notify"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event notify.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	err = db.AutoMigrate(
		&product.Product{},
		&product.PopularityRecord{},
		&cart.Cart{},
		&cart.CartItem{},
		&order.Order{},
		&order.OrderItem{},
		&order.OrderStatusHistory{},
		&payment.Payment{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	t.Cleanup(func() {
		sqlDB.Close()
	})
	return db
}

// fixture is a ready-to-settle order: confirmed payment, active cart,
// stocked product.
type fixture struct {
	product *product.Product
	cart    *cart.Cart
	order   *order.Order
	payment *payment.Payment
}

var fixtureSeq int

func seedSettleable(t *testing.T, db *gorm.DB, stock, quantity int) *fixture {
	t.Helper()
	fixtureSeq++
	name := fmt.Sprintf("widget-%d", fixtureSeq)
	p := &product.Product{
		SKU:           "SKU-" + name,
		Name:          name,
		Slug:          name,
		Price:         1000,
		Quantity:      stock,
		TrackQuantity: true,
		IsActive:      true,
	}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("failed to seed product: %v", err)
	}

	c := &cart.Cart{UserID: 1, IsActive: true}
	if err := db.Create(c).Error; err != nil {
		t.Fatalf("failed to seed cart: %v", err)
	}
	line := &cart.CartItem{CartID: c.ID, ProductID: p.ID, Quantity: quantity, Price: 1000}
	if err := db.Create(line).Error; err != nil {
		t.Fatalf("failed to seed cart item: %v", err)
	}

	total := int64(quantity) * 1000
	o := &order.Order{
		OrderNumber: order.GenerateOrderNumber(),
		UserID:      1,
		CartID:      c.ID,
		Status:      order.StatusPaymentPending,
		SubTotal:    total,
		TotalAmount: total,
		Currency:    "USD",
		Items: []order.OrderItem{
			{ProductID: p.ID, ProductName: p.Name, ProductSKU: p.SKU, Quantity: quantity, Price: 1000, Total: total},
		},
	}
	if err := db.Create(o).Error; err != nil {
		t.Fatalf("failed to seed order: %v", err)
	}

	now := time.Now()
	pay := &payment.Payment{
		OrderID:        o.ID,
		Gateway:        payment.GatewayManual,
		Status:         payment.StatusConfirmed,
		Amount:         total,
		Currency:       "USD",
		TransactionRef: "TX-" + o.OrderNumber,
		PaidAt:         &now,
	}
	if err := db.Create(pay).Error; err != nil {
		t.Fatalf("failed to seed payment: %v", err)
	}

	return &fixture{product: p, cart: c, order: o, payment: pay}
}

func TestSettleAppliesAllSideEffectsOnce(t *testing.T) {
	db := setupTestDB(t)
	pub := &recordingPublisher{}
	coord := NewCoordinator(db, &config.Config{}, pub)
	fx := seedSettleable(t, db, 5, 2)

	settled, err := coord.Settle(context.Background(), fx.order.ID)
	if err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	if settled.Status != order.StatusPaid {
		t.Errorf("expected order paid, got %s", settled.Status)
	}

	var p product.Product
	db.First(&p, fx.product.ID)
	if p.Quantity != 3 {
		t.Errorf("expected stock 3, got %d", p.Quantity)
	}
	if p.OrdersFulfilled != 1 {
		t.Errorf("expected orders_fulfilled 1, got %d", p.OrdersFulfilled)
	}

	var rec product.PopularityRecord
	if err := db.Where("product_id = ?", fx.product.ID).First(&rec).Error; err != nil {
		t.Fatalf("expected popularity record: %v", err)
	}
	if rec.QuantitySold != 2 {
		t.Errorf("expected quantity_sold 2, got %d", rec.QuantitySold)
	}

	var c cart.Cart
	db.First(&c, fx.cart.ID)
	if c.IsActive {
		t.Error("expected cart deactivated")
	}
	var lineCount int64
	db.Model(&cart.CartItem{}).Where("cart_id = ?", fx.cart.ID).Count(&lineCount)
	if lineCount != 0 {
		t.Errorf("expected cart items removed, found %d", lineCount)
	}

	var pay payment.Payment
	db.First(&pay, fx.payment.ID)
	if pay.Status != payment.StatusSettled || pay.SettledAt == nil {
		t.Errorf("expected payment settled, got %+v", pay)
	}

	if n := pub.count(notify.EventPaymentConfirmed); n != 1 {
		t.Errorf("expected one payment.confirmed event, got %d", n)
	}
}

func TestSettleIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	pub := &recordingPublisher{}
	coord := NewCoordinator(db, &config.Config{}, pub)
	fx := seedSettleable(t, db, 5, 2)

	for i := 0; i < 4; i++ {
		settled, err := coord.Settle(context.Background(), fx.order.ID)
		if err != nil {
			t.Fatalf("Settle() call %d error = %v", i+1, err)
		}
		if settled.Status != order.StatusPaid {
			t.Errorf("call %d: expected paid, got %s", i+1, settled.Status)
		}
	}

	var p product.Product
	db.First(&p, fx.product.ID)
	if p.Quantity != 3 {
		t.Errorf("expected stock decremented exactly once to 3, got %d", p.Quantity)
	}
	var rec product.PopularityRecord
	db.Where("product_id = ?", fx.product.ID).First(&rec)
	if rec.QuantitySold != 2 {
		t.Errorf("expected quantity_sold 2, got %d", rec.QuantitySold)
	}
	if n := pub.count(notify.EventPaymentConfirmed); n != 1 {
		t.Errorf("expected one payment.confirmed event, got %d", n)
	}
}

func TestConcurrentSettleAppliesOnce(t *testing.T) {
	db := setupTestDB(t)
	pub := &recordingPublisher{}
	coord := NewCoordinator(db, &config.Config{}, pub)
	fx := seedSettleable(t, db, 5, 2)

	const callers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := coord.Settle(context.Background(), fx.order.ID)
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Errorf("Settle() error = %v", err)
		}
	}

	var o order.Order
	db.First(&o, fx.order.ID)
	if o.Status != order.StatusPaid {
		t.Errorf("expected order paid, got %s", o.Status)
	}
	var p product.Product
	db.First(&p, fx.product.ID)
	if p.Quantity != 3 {
		t.Errorf("expected stock decremented exactly once to 3, got %d", p.Quantity)
	}
	if p.OrdersFulfilled != 1 {
		t.Errorf("expected orders_fulfilled 1, got %d", p.OrdersFulfilled)
	}
	var rec product.PopularityRecord
	db.Where("product_id = ?", fx.product.ID).First(&rec)
	if rec.QuantitySold != 2 {
		t.Errorf("expected quantity_sold 2, got %d", rec.QuantitySold)
	}
	if n := pub.count(notify.EventPaymentConfirmed); n != 1 {
		t.Errorf("expected one payment.confirmed event, got %d", n)
	}
}

func TestSettleInsufficientStockRollsBackEverything(t *testing.T) {
	db := setupTestDB(t)
	pub := &recordingPublisher{}
	coord := NewCoordinator(db, &config.Config{}, pub)
	fx := seedSettleable(t, db, 1, 2) // stock below ordered quantity

	_, err := coord.Settle(context.Background(), fx.order.ID)
	if !errs.IsInsufficientStock(err) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}

	var o order.Order
	db.First(&o, fx.order.ID)
	if o.Status != order.StatusPaymentPending {
		t.Errorf("expected order status rolled back to payment_pending, got %s", o.Status)
	}
	var p product.Product
	db.First(&p, fx.product.ID)
	if p.Quantity != 1 {
		t.Errorf("expected stock untouched at 1, got %d", p.Quantity)
	}
	var c cart.Cart
	db.First(&c, fx.cart.ID)
	if !c.IsActive {
		t.Error("expected cart still active")
	}
	var pay payment.Payment
	db.First(&pay, fx.payment.ID)
	if pay.Status != payment.StatusConfirmed {
		t.Errorf("expected payment still confirmed, got %s", pay.Status)
	}
	var recCount int64
	db.Model(&product.PopularityRecord{}).Count(&recCount)
	if recCount != 0 {
		t.Errorf("expected no popularity records, got %d", recCount)
	}
	if n := pub.count(notify.EventPaymentConfirmed); n != 0 {
		t.Errorf("expected no events, got %d", n)
	}
}

func TestSettleStockNeverGoesNegative(t *testing.T) {
	db := setupTestDB(t)
	coord := NewCoordinator(db, &config.Config{}, nil)
	fx := seedSettleable(t, db, 2, 2)

	if _, err := coord.Settle(context.Background(), fx.order.ID); err != nil {
		t.Fatalf("Settle() error = %v", err)
	}

	// A second order for the same product now finds zero stock
	fx2 := seedSettleable(t, db, 0, 1)
	// Reuse the first product so stock is genuinely zero
	db.Model(&order.OrderItem{}).Where("order_id = ?", fx2.order.ID).Update("product_id", fx.product.ID)

	_, err := coord.Settle(context.Background(), fx2.order.ID)
	if !errs.IsInsufficientStock(err) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
	var p product.Product
	db.First(&p, fx.product.ID)
	if p.Quantity < 0 {
		t.Errorf("stock went negative: %d", p.Quantity)
	}
}

func TestSettleUntrackedProductSkipsDecrement(t *testing.T) {
	db := setupTestDB(t)
	coord := NewCoordinator(db, &config.Config{}, nil)
	fx := seedSettleable(t, db, 5, 2)
	db.Model(&product.Product{}).Where("id = ?", fx.product.ID).Update("track_quantity", false)

	if _, err := coord.Settle(context.Background(), fx.order.ID); err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	var p product.Product
	db.First(&p, fx.product.ID)
	if p.Quantity != 5 {
		t.Errorf("expected stock untouched at 5, got %d", p.Quantity)
	}
	if p.OrdersFulfilled != 1 {
		t.Errorf("expected orders_fulfilled 1, got %d", p.OrdersFulfilled)
	}
}

func TestSettleRequiresConfirmedPayment(t *testing.T) {
	db := setupTestDB(t)
	coord := NewCoordinator(db, &config.Config{}, nil)
	fx := seedSettleable(t, db, 5, 2)
	db.Model(&payment.Payment{}).Where("id = ?", fx.payment.ID).Update("status", payment.StatusPending)

	if _, err := coord.Settle(context.Background(), fx.order.ID); !errs.IsValidation(err) {
		t.Fatalf("expected validation error for unconfirmed payment, got %v", err)
	}
}

func TestSettleRequiresPayment(t *testing.T) {
	db := setupTestDB(t)
	coord := NewCoordinator(db, &config.Config{}, nil)
	fx := seedSettleable(t, db, 5, 2)
	db.Unscoped().Delete(&payment.Payment{}, fx.payment.ID)

	if _, err := coord.Settle(context.Background(), fx.order.ID); !errs.IsValidation(err) {
		t.Fatalf("expected validation error for missing payment, got %v", err)
	}
}

func TestSettleUnknownOrder(t *testing.T) {
	db := setupTestDB(t)
	coord := NewCoordinator(db, &config.Config{}, nil)

	if _, err := coord.Settle(context.Background(), 999); !errs.IsNotFound(err) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestSettleCancelledOrderIsNoOp(t *testing.T) {
	db := setupTestDB(t)
	coord := NewCoordinator(db, &config.Config{}, nil)
	fx := seedSettleable(t, db, 5, 2)
	db.Model(&order.Order{}).Where("id = ?", fx.order.ID).Update("status", order.StatusCancelled)

	settled, err := coord.Settle(context.Background(), fx.order.ID)
	if err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	if settled.Status != order.StatusCancelled {
		t.Errorf("expected order left cancelled, got %s", settled.Status)
	}
	var p product.Product
	db.First(&p, fx.product.ID)
	if p.Quantity != 5 {
		t.Errorf("expected stock untouched, got %d", p.Quantity)
	}
}
