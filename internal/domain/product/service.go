// internal/domain/product/service.go
package product

import (
	"fmt"
	"strconv"

	"github.com/your-org/storefront-backend/internal/pkg/errs"
	"gorm.io/gorm"
)

// Service exposes the product/inventory store to the rest of the engine
type Service struct {
	db *gorm.DB
}

// NewService creates a new product service
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// GetProduct retrieves a single active product by ID
func (s *Service) GetProduct(id uint) (*Product, error) {
	var prod Product
	result := s.db.Where("id = ?", id).First(&prod)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, errs.NewNotFound("product", strconv.FormatUint(uint64(id), 10))
		}
		return nil, fmt.Errorf("failed to retrieve product: %w", result.Error)
	}
	return &prod, nil
}

// SaveProduct persists inventory and counter changes
func (s *Service) SaveProduct(prod *Product) error {
	if err := s.db.Save(prod).Error; err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

// GetPopularity retrieves the popularity record for a product, if any
func (s *Service) GetPopularity(productID uint) (*PopularityRecord, error) {
	var record PopularityRecord
	result := s.db.Where("product_id = ?", productID).First(&record)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, errs.NewNotFound("popularity record", strconv.FormatUint(uint64(productID), 10))
		}
		return nil, fmt.Errorf("failed to retrieve popularity record: %w", result.Error)
	}
	return &record, nil
}

// GetBestSellers returns the top products by units sold from settled orders
func (s *Service) GetBestSellers(limit int) ([]PopularityRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	var records []PopularityRecord
	if err := s.db.Order("quantity_sold DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to retrieve best sellers: %w", err)
	}
	return records, nil
}
