// internal/domain/cart/service_test.go
package cart

import (
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/your-org/storefront-backend/internal/config"
	"github.com/your-org/storefront-backend/internal/domain/product"
	"github.com/your-org/storefront-backend/internal/pkg/errs"
)

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
	// A private in-memory database exists per connection, so keep one.
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&product.Product{}, &Cart{}, &CartItem{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})
	return db
}

func seedProduct(t *testing.T, db *gorm.DB, name string, price int64, quantity int) *product.Product {
	t.Helper()
	p := &product.Product{
		SKU:           "SKU-" + name,
		Name:          name,
		Slug:          name,
		Price:         price,
		Quantity:      quantity,
		TrackQuantity: true,
		IsActive:      true,
	}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("failed to seed product: %v", err)
	}
	return p
}

func newTestService(db *gorm.DB) *Service {
	return NewService(db, nil, &config.Config{})
}

func TestAddToCartCreatesActiveCart(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	p := seedProduct(t, db, "widget", 1500, 10)

	resp, err := svc.AddToCart(1, &AddToCartRequest{ProductID: p.ID, Quantity: 2})
	if err != nil {
		t.Fatalf("AddToCart() error = %v", err)
	}
	if !resp.Cart.IsActive {
		t.Error("expected cart to be active")
	}
	if len(resp.Cart.Items) != 1 {
		t.Fatalf("expected 1 cart item, got %d", len(resp.Cart.Items))
	}
	if resp.Cart.Items[0].Price != 1500 {
		t.Errorf("expected frozen price 1500, got %d", resp.Cart.Items[0].Price)
	}
	if resp.Totals.SubTotal != 3000 {
		t.Errorf("expected subtotal 3000, got %d", resp.Totals.SubTotal)
	}
}

func TestAddToCartMergesExistingLine(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	p := seedProduct(t, db, "widget", 1000, 10)

	if _, err := svc.AddToCart(1, &AddToCartRequest{ProductID: p.ID, Quantity: 2}); err != nil {
		t.Fatalf("first AddToCart() error = %v", err)
	}
	resp, err := svc.AddToCart(1, &AddToCartRequest{ProductID: p.ID, Quantity: 3})
	if err != nil {
		t.Fatalf("second AddToCart() error = %v", err)
	}
	if len(resp.Cart.Items) != 1 {
		t.Fatalf("expected a single merged line, got %d", len(resp.Cart.Items))
	}
	if resp.Cart.Items[0].Quantity != 5 {
		t.Errorf("expected merged quantity 5, got %d", resp.Cart.Items[0].Quantity)
	}
}

func TestAddToCartFrozenPriceSurvivesPriceChange(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	p := seedProduct(t, db, "widget", 1000, 10)

	if _, err := svc.AddToCart(1, &AddToCartRequest{ProductID: p.ID, Quantity: 1}); err != nil {
		t.Fatalf("AddToCart() error = %v", err)
	}

	if err := db.Model(&product.Product{}).Where("id = ?", p.ID).Update("price", 9999).Error; err != nil {
		t.Fatalf("failed to update price: %v", err)
	}

	resp, err := svc.GetCart(1)
	if err != nil {
		t.Fatalf("GetCart() error = %v", err)
	}
	if resp.Cart.Items[0].Price != 1000 {
		t.Errorf("expected frozen price 1000, got %d", resp.Cart.Items[0].Price)
	}
}

func TestAddToCartInsufficientStock(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	p := seedProduct(t, db, "widget", 1000, 3)

	_, err := svc.AddToCart(1, &AddToCartRequest{ProductID: p.ID, Quantity: 5})
	if !errs.IsInsufficientStock(err) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
}

func TestAddToCartUnknownProduct(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)

	_, err := svc.AddToCart(1, &AddToCartRequest{ProductID: 999, Quantity: 1})
	if !errs.IsNotFound(err) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestUpdateCartItemZeroRemovesLine(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	p := seedProduct(t, db, "widget", 1000, 10)

	resp, err := svc.AddToCart(1, &AddToCartRequest{ProductID: p.ID, Quantity: 2})
	if err != nil {
		t.Fatalf("AddToCart() error = %v", err)
	}
	itemID := resp.Cart.Items[0].ID

	resp, err = svc.UpdateCartItem(1, itemID, &UpdateCartItemRequest{Quantity: 0})
	if err != nil {
		t.Fatalf("UpdateCartItem() error = %v", err)
	}
	if len(resp.Cart.Items) != 0 {
		t.Errorf("expected empty cart, got %d items", len(resp.Cart.Items))
	}
}

func TestRemoveFromCartUnknownItem(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	p := seedProduct(t, db, "widget", 1000, 10)

	if _, err := svc.AddToCart(1, &AddToCartRequest{ProductID: p.ID, Quantity: 1}); err != nil {
		t.Fatalf("AddToCart() error = %v", err)
	}
	_, err := svc.RemoveFromCart(1, 424242)
	if !errs.IsNotFound(err) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestDeactivateCartRetiresHeaderAndItems(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	p := seedProduct(t, db, "widget", 1000, 10)

	resp, err := svc.AddToCart(1, &AddToCartRequest{ProductID: p.ID, Quantity: 2})
	if err != nil {
		t.Fatalf("AddToCart() error = %v", err)
	}
	cartID := resp.Cart.ID

	if err := DeactivateCart(db, cartID); err != nil {
		t.Fatalf("DeactivateCart() error = %v", err)
	}

	if _, err := svc.GetActiveCart(1); !errs.IsNotFound(err) {
		t.Fatalf("expected no active cart after deactivation, got %v", err)
	}

	// A subsequent add starts a fresh cart
	resp, err = svc.AddToCart(1, &AddToCartRequest{ProductID: p.ID, Quantity: 1})
	if err != nil {
		t.Fatalf("AddToCart() after deactivation error = %v", err)
	}
	if resp.Cart.ID == cartID {
		t.Error("expected a new cart after deactivation")
	}
}

func TestCartsAreIsolatedPerUser(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	p := seedProduct(t, db, "widget", 1000, 10)

	if _, err := svc.AddToCart(1, &AddToCartRequest{ProductID: p.ID, Quantity: 2}); err != nil {
		t.Fatalf("AddToCart() user 1 error = %v", err)
	}
	if _, err := svc.AddToCart(2, &AddToCartRequest{ProductID: p.ID, Quantity: 5}); err != nil {
		t.Fatalf("AddToCart() user 2 error = %v", err)
	}

	c1, err := svc.GetActiveCart(1)
	if err != nil {
		t.Fatalf("GetActiveCart(1) error = %v", err)
	}
	c2, err := svc.GetActiveCart(2)
	if err != nil {
		t.Fatalf("GetActiveCart(2) error = %v", err)
	}
	if c1.ID == c2.ID {
		t.Error("expected distinct carts per user")
	}
	if c1.Items[0].Quantity != 2 || c2.Items[0].Quantity != 5 {
		t.Errorf("cart quantities crossed users: %d, %d", c1.Items[0].Quantity, c2.Items[0].Quantity)
	}
}
