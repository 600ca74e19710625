// internal/domain/settlement/service.go
package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/your-org/storefront-backend/internal/config"
	"github.com/your-org/storefront-backend/internal/domain/cart"
	"github.com/your-org/storefront-backend/internal/domain/order"
	"github.com/your-org/storefront-backend/internal/domain/payment"
	"github.com/your-org/storefront-backend/internal/domain/product"
	"github.com/your-org/storefront-backend/internal/pkg/errs"
	"github.com/your-org/storefront-backend/internal/pkg/notify"
)

// Coordinator applies the side effects of a confirmed payment exactly
// once: inventory decrement, popularity upsert, cart teardown, payment
// and order promotion. Everything runs in one transaction; settling an
// already settled order is a no-op.
type Coordinator struct {
	db        *gorm.DB
	config    *config.Config
	publisher notify.Publisher
}

// NewCoordinator creates a settlement coordinator
func NewCoordinator(db *gorm.DB, cfg *config.Config, publisher notify.Publisher) *Coordinator {
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	return &Coordinator{
		db:        db,
		config:    cfg,
		publisher: publisher,
	}
}

// Settle promotes an order to paid and applies all settlement side
// effects. The status update is a compare-and-set on the unsettled
// statuses, so concurrent calls for the same order race safely: exactly
// one wins, the rest observe the settled order and change nothing.
func (c *Coordinator) Settle(ctx context.Context, orderID uint) (*order.Order, error) {
	tx := c.db.Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	var o order.Order
	if err := tx.Preload("Items").First(&o, orderID).Error; err != nil {
		tx.Rollback()
		if err == gorm.ErrRecordNotFound {
			return nil, errs.NewNotFound("order", fmt.Sprintf("%d", orderID))
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	// Already settled (or terminal): nothing to do
	if !o.IsSettleable() {
		tx.Rollback()
		return &o, nil
	}

	var pay payment.Payment
	if err := tx.Where("order_id = ?", o.ID).First(&pay).Error; err != nil {
		tx.Rollback()
		if err == gorm.ErrRecordNotFound {
			return nil, errs.NewValidation("order %s has no payment to settle", o.OrderNumber)
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	if !pay.IsConfirmed() {
		tx.Rollback()
		return nil, errs.NewValidation("payment for order %s is not confirmed (status '%s')", o.OrderNumber, pay.Status)
	}

	// Claim the order. Zero rows means a concurrent settlement won.
	result := tx.Model(&order.Order{}).
		Where("id = ? AND status IN ?", o.ID,
			[]order.OrderStatus{order.StatusPending, order.StatusPaymentPending}).
		Update("status", order.StatusPaid)
	if result.Error != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to claim order: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		var settled order.Order
		if err := c.db.Preload("Items").First(&settled, orderID).Error; err != nil {
			return nil, fmt.Errorf("failed to reload order: %w", err)
		}
		return &settled, nil
	}

	now := time.Now()

	for _, item := range o.Items {
		var p product.Product
		if err := tx.First(&p, item.ProductID).Error; err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("failed to get product %d: %w", item.ProductID, err)
		}

		if p.TrackQuantity {
			// Guarded decrement keeps inventory from ever going negative
			dec := tx.Model(&product.Product{}).
				Where("id = ? AND quantity >= ?", p.ID, item.Quantity).
				Updates(map[string]interface{}{
					"quantity":         gorm.Expr("quantity - ?", item.Quantity),
					"orders_fulfilled": gorm.Expr("orders_fulfilled + 1"),
				})
			if dec.Error != nil {
				tx.Rollback()
				return nil, fmt.Errorf("failed to decrement stock: %w", dec.Error)
			}
			if dec.RowsAffected == 0 {
				tx.Rollback()
				return nil, &errs.InsufficientStockError{
					ProductID:   p.ID,
					ProductName: p.Name,
					Requested:   item.Quantity,
					Available:   p.Quantity,
				}
			}
		} else {
			if err := tx.Model(&product.Product{}).Where("id = ?", p.ID).
				Update("orders_fulfilled", gorm.Expr("orders_fulfilled + 1")).Error; err != nil {
				tx.Rollback()
				return nil, fmt.Errorf("failed to update product: %w", err)
			}
		}

		record := product.PopularityRecord{
			ProductID:    item.ProductID,
			QuantitySold: item.Quantity,
			LastSoldAt:   now,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "product_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"quantity_sold": gorm.Expr("quantity_sold + ?", item.Quantity),
				"last_sold_at":  now,
				"updated_at":    now,
			}),
		}).Create(&record).Error
		if err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("failed to update popularity: %w", err)
		}
	}

	if err := cart.DeactivateCart(tx, o.CartID); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Model(&pay).Updates(map[string]interface{}{
		"status":     payment.StatusSettled,
		"settled_at": now,
	}).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to settle payment: %w", err)
	}

	history := &order.OrderStatusHistory{
		OrderID: o.ID,
		Status:  order.StatusPaid,
		Comment: fmt.Sprintf("Payment settled via %s", pay.Gateway),
	}
	if err := tx.Create(history).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to record status history: %w", err)
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit settlement: %w", err)
	}

	o.Status = order.StatusPaid
	logrus.WithFields(logrus.Fields{
		"order_id":     o.ID,
		"order_number": o.OrderNumber,
		"gateway":      pay.Gateway,
		"amount":       pay.Amount,
	}).Info("Order settled")

	c.publisher.Publish(ctx, notify.Event{
		Type:    notify.EventPaymentConfirmed,
		OrderID: o.ID,
		UserID:  o.UserID,
		Data: map[string]interface{}{
			"order_number":    o.OrderNumber,
			"amount":          pay.Amount,
			"currency":        pay.Currency,
			"gateway":         string(pay.Gateway),
			"transaction_ref": pay.TransactionRef,
		},
		OccurredAt: now,
	})

	return &o, nil
}
