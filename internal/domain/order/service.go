// internal/domain/order/service.go
package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/your-org/storefront-backend/internal/config"
	"github.com/your-org/storefront-backend/internal/domain/cart"
	"github.com/your-org/storefront-backend/internal/domain/product"
	"github.com/your-org/storefront-backend/internal/pkg/errs"
	"github.com/your-org/storefront-backend/internal/pkg/notify"
)

// Service handles order business logic
type Service struct {
	db          *gorm.DB
	redisClient *redis.Client
	config      *config.Config
	publisher   notify.Publisher
}

// NewService creates a new order service
func NewService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, publisher notify.Publisher) *Service {
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	return &Service{
		db:          db,
		redisClient: redisClient,
		config:      cfg,
		publisher:   publisher,
	}
}

// PlaceOrderRequest represents a request to create an order from the cart
type PlaceOrderRequest struct {
	ShippingAddress string `json:"shipping_address" binding:"required"`
	Notes           string `json:"notes"`
}

// OrderListResponse is a paginated list of orders
type OrderListResponse struct {
	Orders     []Order `json:"orders"`
	Total      int64   `json:"total"`
	Page       int     `json:"page"`
	Limit      int     `json:"limit"`
	TotalPages int     `json:"total_pages"`
}

// PlaceOrder builds a pending order from the user's active cart. Line
// prices are the frozen cart prices. Stock is validated but not
// reserved; inventory only moves when the payment settles, and the cart
// stays active until then.
func (s *Service) PlaceOrder(ctx context.Context, userID uint, req *PlaceOrderRequest) (*Order, error) {
	var activeCart cart.Cart
	err := s.db.Preload("Items").
		Where("user_id = ? AND is_active = ?", userID, true).
		First(&activeCart).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errs.ErrEmptyCart
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	if activeCart.IsEmpty() {
		return nil, errs.ErrEmptyCart
	}

	// Snapshot products and validate availability up front
	items := make([]OrderItem, 0, len(activeCart.Items))
	var subTotal int64
	for _, line := range activeCart.Items {
		var p product.Product
		if err := s.db.First(&p, line.ProductID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil, errs.NewNotFound("product", fmt.Sprintf("%d", line.ProductID))
			}
			return nil, fmt.Errorf("failed to get product: %w", err)
		}
		if !p.IsActive {
			return nil, errs.NewValidation("product '%s' is no longer available", p.Name)
		}
		if p.TrackQuantity && !p.HasStockFor(line.Quantity) {
			return nil, &errs.InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Requested:   line.Quantity,
				Available:   p.Quantity,
			}
		}

		lineTotal := line.Price * int64(line.Quantity)
		subTotal += lineTotal
		items = append(items, OrderItem{
			ProductID:   p.ID,
			ProductName: p.Name,
			ProductSKU:  p.SKU,
			Quantity:    line.Quantity,
			Price:       line.Price,
			Total:       lineTotal,
		})
	}

	currency := s.config.Payment.Currency
	if currency == "" {
		currency = "USD"
	}

	newOrder := &Order{
		OrderNumber:     GenerateOrderNumber(),
		UserID:          userID,
		CartID:          activeCart.ID,
		Status:          StatusPending,
		SubTotal:        subTotal,
		TotalAmount:     subTotal,
		Currency:        currency,
		ShippingAddress: req.ShippingAddress,
		Notes:           req.Notes,
		Items:           items,
	}

	tx := s.db.Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	if err := tx.Create(newOrder).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	history := &OrderStatusHistory{
		OrderID: newOrder.ID,
		Status:  StatusPending,
		Comment: "Order placed",
	}
	if err := tx.Create(history).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to record status history: %w", err)
	}
	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit order: %w", err)
	}

	s.publisher.Publish(ctx, notify.Event{
		Type:    notify.EventOrderCreated,
		OrderID: newOrder.ID,
		UserID:  newOrder.UserID,
		Data: map[string]interface{}{
			"order_number": newOrder.OrderNumber,
			"total_amount": newOrder.TotalAmount,
			"currency":     newOrder.Currency,
		},
		OccurredAt: time.Now(),
	})

	return newOrder, nil
}

// GetOrder returns an order with its items and status history
func (s *Service) GetOrder(orderID uint) (*Order, error) {
	var o Order
	err := s.db.Preload("Items").Preload("StatusHistory").First(&o, orderID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errs.NewNotFound("order", fmt.Sprintf("%d", orderID))
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &o, nil
}

// GetOrderByNumber returns an order looked up by its order number
func (s *Service) GetOrderByNumber(orderNumber string) (*Order, error) {
	var o Order
	err := s.db.Preload("Items").Preload("StatusHistory").
		Where("order_number = ?", orderNumber).First(&o).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errs.NewNotFound("order", orderNumber)
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &o, nil
}

// GetUserOrders returns the user's orders, newest first, paginated
func (s *Service) GetUserOrders(userID uint, page, limit int) (*OrderListResponse, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	var total int64
	if err := s.db.Model(&Order{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}

	var orders []Order
	err := s.db.Preload("Items").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return &OrderListResponse{
		Orders:     orders,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
	}, nil
}

// Ship marks a paid order as shipped. A carrier tracking number may be
// supplied; a blank one gets generated. Any other current status is
// rejected, including shipping twice.
func (s *Service) Ship(ctx context.Context, orderID uint, trackingNumber, comment string) (*Order, error) {
	o, err := s.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if !o.Status.CanTransitionTo(StatusShipped) {
		return nil, errs.NewValidation("order %s cannot be shipped from status '%s'", o.OrderNumber, o.Status)
	}

	now := time.Now()
	tracking := strings.TrimSpace(trackingNumber)
	if tracking == "" {
		tracking = generateTrackingNumber()
	}
	if err := s.transition(o, StatusShipped, comment, func(tx *gorm.DB) error {
		// Guarded against a concurrent transition since the read above
		result := tx.Model(&Order{}).
			Where("id = ? AND status = ?", o.ID, StatusPaid).
			Updates(map[string]interface{}{
				"status":          StatusShipped,
				"tracking_number": tracking,
				"shipped_at":      now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errs.NewValidation("order %s changed status concurrently", o.OrderNumber)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	o.TrackingNumber = tracking
	o.ShippedAt = &now

	s.publisher.Publish(ctx, notify.Event{
		Type:    notify.EventOrderShipped,
		OrderID: o.ID,
		UserID:  o.UserID,
		Data: map[string]interface{}{
			"order_number":    o.OrderNumber,
			"tracking_number": tracking,
		},
		OccurredAt: now,
	})
	return o, nil
}

// Deliver marks a shipped order as delivered
func (s *Service) Deliver(ctx context.Context, orderID uint, comment string) (*Order, error) {
	o, err := s.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if !o.Status.CanTransitionTo(StatusDelivered) {
		return nil, errs.NewValidation("order %s cannot be delivered from status '%s'", o.OrderNumber, o.Status)
	}

	now := time.Now()
	if err := s.transition(o, StatusDelivered, comment, func(tx *gorm.DB) error {
		result := tx.Model(&Order{}).
			Where("id = ? AND status = ?", o.ID, StatusShipped).
			Updates(map[string]interface{}{
				"status":       StatusDelivered,
				"delivered_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errs.NewValidation("order %s changed status concurrently", o.OrderNumber)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	o.DeliveredAt = &now

	s.publisher.Publish(ctx, notify.Event{
		Type:    notify.EventOrderDelivered,
		OrderID: o.ID,
		UserID:  o.UserID,
		Data: map[string]interface{}{
			"order_number": o.OrderNumber,
		},
		OccurredAt: now,
	})
	return o, nil
}

// CancelOrder cancels an order that has not yet been paid
func (s *Service) CancelOrder(ctx context.Context, orderID uint, reason string) (*Order, error) {
	o, err := s.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if !o.CanBeCancelled() {
		return nil, errs.NewValidation("order %s cannot be cancelled from status '%s'", o.OrderNumber, o.Status)
	}

	now := time.Now()
	if err := s.transition(o, StatusCancelled, reason, func(tx *gorm.DB) error {
		result := tx.Model(&Order{}).
			Where("id = ? AND status IN ?", o.ID, []OrderStatus{StatusPending, StatusPaymentPending}).
			Updates(map[string]interface{}{
				"status":       StatusCancelled,
				"cancelled_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errs.NewValidation("order %s changed status concurrently", o.OrderNumber)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	o.CancelledAt = &now

	s.publisher.Publish(ctx, notify.Event{
		Type:    notify.EventOrderCancelled,
		OrderID: o.ID,
		UserID:  o.UserID,
		Data: map[string]interface{}{
			"order_number": o.OrderNumber,
			"reason":       reason,
		},
		OccurredAt: now,
	})
	return o, nil
}

const staleSweepLockKey = "orders:expire-stale:lock"

// ExpireStalePending cancels orders that have sat unpaid for longer than
// olderThan. Returns the number of orders expired. A short redis lock
// keeps concurrent sweeps from walking the same rows; redis being down
// degrades to running unlocked (the per-order status guard still holds).
func (s *Service) ExpireStalePending(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = 24 * time.Hour
	}
	if s.redisClient != nil {
		locked, err := s.redisClient.SetNX(ctx, staleSweepLockKey, "1", time.Minute).Result()
		if err == nil && !locked {
			return 0, errs.NewValidation("a stale order sweep is already running")
		}
		if err == nil {
			defer s.redisClient.Del(ctx, staleSweepLockKey)
		}
	}
	cutoff := time.Now().Add(-olderThan)

	var stale []Order
	err := s.db.Where("status IN ? AND created_at < ?",
		[]OrderStatus{StatusPending, StatusPaymentPending}, cutoff).
		Find(&stale).Error
	if err != nil {
		return 0, fmt.Errorf("failed to find stale orders: %w", err)
	}

	expired := 0
	for i := range stale {
		o := &stale[i]
		now := time.Now()
		if err := s.transition(o, StatusCancelled, "Expired: payment not completed", func(tx *gorm.DB) error {
			// Guarded against a settlement racing past the read above
			result := tx.Model(&Order{}).
				Where("id = ? AND status IN ?", o.ID, []OrderStatus{StatusPending, StatusPaymentPending}).
				Updates(map[string]interface{}{
					"status":       StatusCancelled,
					"cancelled_at": now,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return gorm.ErrRecordNotFound
			}
			return nil
		}); err != nil {
			if err == gorm.ErrRecordNotFound {
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}

// transition applies a status update plus its history row in one
// transaction. The update callback performs the actual column changes.
func (s *Service) transition(o *Order, target OrderStatus, comment string, update func(tx *gorm.DB) error) error {
	tx := s.db.Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	if err := update(tx); err != nil {
		tx.Rollback()
		if err == gorm.ErrRecordNotFound || errs.IsValidation(err) {
			return err
		}
		return fmt.Errorf("failed to update order status: %w", err)
	}
	history := &OrderStatusHistory{
		OrderID: o.ID,
		Status:  target,
		Comment: comment,
	}
	if err := tx.Create(history).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record status history: %w", err)
	}
	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit status change: %w", err)
	}
	o.Status = target
	return nil
}

func generateTrackingNumber() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
	return "TRK-" + id[:12]
}
