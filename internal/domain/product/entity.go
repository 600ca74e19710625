// internal/domain/product/entity.go
package product

import (
	"time"

	"gorm.io/gorm"
)

// Product represents the purchasable slice of the catalogue: identity,
// price and the authoritative inventory count. The count is decremented
// only by the settlement coordinator, exactly once per paid order.
type Product struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	SKU             string         `gorm:"uniqueIndex;not null;size:100" json:"sku"`
	Name            string         `gorm:"not null;size:255" json:"name"`
	Slug            string         `gorm:"uniqueIndex;not null;size:255" json:"slug"`
	Description     string         `gorm:"type:text" json:"description"`
	Price           int64          `gorm:"not null" json:"price"` // Price in cents
	Quantity        int            `gorm:"default:0" json:"quantity"`
	TrackQuantity   bool           `gorm:"default:true" json:"track_quantity"`
	IsActive        bool           `gorm:"default:true" json:"is_active"`
	OrdersFulfilled int            `gorm:"default:0" json:"orders_fulfilled"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

// PopularityRecord accumulates units sold per product. It only ever grows,
// and only from settled orders.
type PopularityRecord struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	ProductID    uint      `gorm:"uniqueIndex;not null" json:"product_id"`
	QuantitySold int       `gorm:"not null;default:0" json:"quantity_sold"`
	LastSoldAt   time.Time `json:"last_sold_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName overrides
func (Product) TableName() string          { return "products" }
func (PopularityRecord) TableName() string { return "popularity_records" }

// IsInStock checks whether any units are available
func (p *Product) IsInStock() bool {
	return p.Quantity > 0 || !p.TrackQuantity
}

// HasStockFor checks whether the requested quantity can be covered
func (p *Product) HasStockFor(quantity int) bool {
	return !p.TrackQuantity || p.Quantity >= quantity
}

// GetFormattedPrice returns the price as a float in major units
func (p *Product) GetFormattedPrice() float64 {
	return float64(p.Price) / 100
}
