// internal/infrastructure/database/postgres/migration.go
package postgres

import (
	"fmt"
	"log"

	"gorm.io/gorm"

	"github.com/your-org/storefront-backend/internal/domain/cart"
	"github.com/your-org/storefront-backend/internal/domain/order"
	"github.com/your-org/storefront-backend/internal/domain/payment"
	"github.com/your-org/storefront-backend/internal/domain/product"
)

// Migration handles database migrations
type Migration struct {
	db *gorm.DB
}

// NewMigration creates a new migration instance
func NewMigration(db *gorm.DB) *Migration {
	return &Migration{
		db: db,
	}
}

// RunAutoMigrations runs GORM auto-migrations for all models
func (m *Migration) RunAutoMigrations() error {
	log.Println("🔄 Running database auto-migrations...")

	// Models in dependency order
	models := []interface{}{
		// Product domain - base tables
		&product.Product{},
		&product.PopularityRecord{},

		// Cart domain
		&cart.Cart{},
		&cart.CartItem{},

		// Order domain - dependent tables
		&order.Order{},
		&order.OrderItem{},
		&order.OrderStatusHistory{},

		// Payment domain
		&payment.Payment{},
	}

	for _, model := range models {
		log.Printf("Migrating model: %T", model)
		if err := m.db.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate model %T: %w", model, err)
		}
	}

	log.Println("✅ Database auto-migrations completed successfully")
	return nil
}

// CreateIndexes creates additional indexes for better performance
func (m *Migration) CreateIndexes() error {
	log.Println("🔄 Creating additional database indexes...")

	indexes := []string{
		// Product indexes
		"CREATE INDEX IF NOT EXISTS idx_products_active_price ON products(is_active, price)",
		"CREATE INDEX IF NOT EXISTS idx_products_created_at ON products(created_at DESC)",

		// Popularity indexes
		"CREATE INDEX IF NOT EXISTS idx_popularity_quantity_sold ON popularity_records(quantity_sold DESC)",
		"CREATE INDEX IF NOT EXISTS idx_popularity_last_sold ON popularity_records(last_sold_at DESC)",

		// Cart indexes: one active cart per user
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_carts_one_active_per_user ON carts(user_id) WHERE is_active AND deleted_at IS NULL",
		"CREATE INDEX IF NOT EXISTS idx_cart_items_cart_product ON cart_items(cart_id, product_id)",

		// Order indexes
		"CREATE INDEX IF NOT EXISTS idx_orders_user_status ON orders(user_id, status)",
		"CREATE INDEX IF NOT EXISTS idx_orders_status_created ON orders(status, created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders(created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id)",
		"CREATE INDEX IF NOT EXISTS idx_order_items_product ON order_items(product_id)",
		"CREATE INDEX IF NOT EXISTS idx_order_status_history_order ON order_status_history(order_id, created_at DESC)",

		// Payment indexes: transaction refs are unique when present
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_transaction_ref_unique ON payments(transaction_ref) WHERE transaction_ref <> ''",
		"CREATE INDEX IF NOT EXISTS idx_payments_order_status ON payments(order_id, status)",
		"CREATE INDEX IF NOT EXISTS idx_payments_created_at ON payments(created_at DESC)",
	}

	successCount := 0
	failCount := 0

	for _, indexSQL := range indexes {
		if err := m.db.Exec(indexSQL).Error; err != nil {
			log.Printf("⚠️ Failed to create index: %v", err)
			failCount++
		} else {
			successCount++
		}
	}

	log.Printf("✅ Created %d indexes successfully (%d failed)", successCount, failCount)
	return nil
}

// SeedInitialData loads a small catalog in development environments
func (m *Migration) SeedInitialData() error {
	var count int64
	if err := m.db.Model(&product.Product{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count products: %w", err)
	}
	if count > 0 {
		return nil
	}

	log.Println("🔄 Seeding initial catalog...")

	products := []product.Product{
		{SKU: "TSHIRT-BLK-M", Name: "Black T-Shirt (M)", Slug: "black-t-shirt-m", Description: "Plain black cotton t-shirt", Price: 1999, Quantity: 100, TrackQuantity: true, IsActive: true},
		{SKU: "MUG-WHT", Name: "White Mug", Slug: "white-mug", Description: "Ceramic mug, 350ml", Price: 899, Quantity: 250, TrackQuantity: true, IsActive: true},
		{SKU: "STICKER-PACK", Name: "Sticker Pack", Slug: "sticker-pack", Description: "Assorted vinyl stickers", Price: 499, Quantity: 0, TrackQuantity: false, IsActive: true},
	}
	for i := range products {
		if err := m.db.Create(&products[i]).Error; err != nil {
			return fmt.Errorf("failed to seed product %s: %w", products[i].SKU, err)
		}
	}

	log.Printf("✅ Seeded %d products", len(products))
	return nil
}
