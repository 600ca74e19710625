// internal/domain/product/service_test.go
package product

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

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
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Product{}, &PopularityRecord{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	t.Cleanup(func() {
		sqlDB.Close()
	})
	return db
}

func TestGetProductNotFound(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)

	if _, err := svc.GetProduct(42); !errs.IsNotFound(err) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestGetBestSellersOrder(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)

	products := []Product{
		{SKU: "A", Name: "a", Slug: "a", Price: 100, IsActive: true},
		{SKU: "B", Name: "b", Slug: "b", Price: 100, IsActive: true},
		{SKU: "C", Name: "c", Slug: "c", Price: 100, IsActive: true},
	}
	for i := range products {
		if err := db.Create(&products[i]).Error; err != nil {
			t.Fatalf("failed to seed product: %v", err)
		}
	}
	now := time.Now()
	records := []PopularityRecord{
		{ProductID: products[0].ID, QuantitySold: 5, LastSoldAt: now},
		{ProductID: products[1].ID, QuantitySold: 20, LastSoldAt: now},
		{ProductID: products[2].ID, QuantitySold: 1, LastSoldAt: now},
	}
	for i := range records {
		if err := db.Create(&records[i]).Error; err != nil {
			t.Fatalf("failed to seed popularity: %v", err)
		}
	}

	top, err := svc.GetBestSellers(2)
	if err != nil {
		t.Fatalf("GetBestSellers() error = %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("expected 2 records, got %d", len(top))
	}
	if top[0].ProductID != products[1].ID || top[1].ProductID != products[0].ID {
		t.Errorf("unexpected best seller order: %+v", top)
	}
}

func TestHasStockFor(t *testing.T) {
	p := &Product{Quantity: 3, TrackQuantity: true}
	if !p.HasStockFor(3) {
		t.Error("expected stock for exactly available quantity")
	}
	if p.HasStockFor(4) {
		t.Error("expected no stock beyond available quantity")
	}

	unlimited := &Product{Quantity: 0, TrackQuantity: false}
	if !unlimited.HasStockFor(100) {
		t.Error("untracked products always have stock")
	}
}
