// internal/domain/order/entity.go
package order

import (
	"fmt"
	"math/rand"
	"time"

	"gorm.io/gorm"
)

// OrderStatus represents the status of an order
type OrderStatus string

const (
	StatusPending        OrderStatus = "pending"
	StatusPaymentPending OrderStatus = "payment_pending"
	StatusPaid           OrderStatus = "paid"
	StatusShipped        OrderStatus = "shipped"
	StatusDelivered      OrderStatus = "delivered"
	StatusCancelled      OrderStatus = "cancelled"
	StatusFailed         OrderStatus = "failed"
)

// validTransitions is the forward-only order lifecycle. An order never
// moves backwards; cancellation and failure are only reachable before
// payment settles.
var validTransitions = map[OrderStatus][]OrderStatus{
	StatusPending:        {StatusPaymentPending, StatusPaid, StatusCancelled, StatusFailed},
	StatusPaymentPending: {StatusPaid, StatusCancelled, StatusFailed},
	StatusPaid:           {StatusShipped},
	StatusShipped:        {StatusDelivered},
	StatusDelivered:      {},
	StatusCancelled:      {},
	StatusFailed:         {},
}

// CanTransitionTo reports whether the order may move to the given status
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions
func (s OrderStatus) IsTerminal() bool {
	return len(validTransitions[s]) == 0
}

// Order represents a customer order
type Order struct {
	ID          uint        `gorm:"primaryKey" json:"id"`
	OrderNumber string      `gorm:"uniqueIndex;not null" json:"order_number"`
	UserID      uint        `gorm:"not null;index" json:"user_id"`
	CartID      uint        `gorm:"not null" json:"cart_id"`
	Status      OrderStatus `gorm:"not null;default:'pending';index" json:"status"`

	// Amounts in cents
	SubTotal    int64  `gorm:"not null" json:"sub_total"`
	TotalAmount int64  `gorm:"not null" json:"total_amount"`
	Currency    string `gorm:"not null;default:'USD'" json:"currency"`

	// Shipping
	ShippingAddress string     `json:"shipping_address"`
	TrackingNumber  string     `json:"tracking_number,omitempty"`
	ShippedAt       *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt     *time.Time `json:"delivered_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`

	Notes     string         `json:"notes,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	Items         []OrderItem          `gorm:"foreignKey:OrderID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"items"`
	StatusHistory []OrderStatusHistory `gorm:"foreignKey:OrderID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"status_history,omitempty"`
}

// OrderItem is a line copied from the cart at placement time. Price and
// name are snapshots; later product edits do not affect placed orders.
type OrderItem struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	OrderID     uint      `gorm:"not null;index" json:"order_id"`
	ProductID   uint      `gorm:"not null;index" json:"product_id"`
	ProductName string    `gorm:"not null" json:"product_name"`
	ProductSKU  string    `gorm:"not null" json:"product_sku"`
	Quantity    int       `gorm:"not null" json:"quantity"`
	Price       int64     `gorm:"not null" json:"price"`
	Total       int64     `gorm:"not null" json:"total"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// OrderStatusHistory records each status change for auditing
type OrderStatusHistory struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	OrderID   uint        `gorm:"not null;index" json:"order_id"`
	Status    OrderStatus `gorm:"not null" json:"status"`
	Comment   string      `json:"comment,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// TableName overrides
func (Order) TableName() string              { return "orders" }
func (OrderItem) TableName() string          { return "order_items" }
func (OrderStatusHistory) TableName() string { return "order_status_history" }

// GenerateOrderNumber produces a human-readable order number
func GenerateOrderNumber() string {
	return fmt.Sprintf("ORD-%s-%05d", time.Now().Format("20060102"), rand.Intn(100000))
}

// CanBeCancelled reports whether the order is still cancellable
func (o *Order) CanBeCancelled() bool {
	return o.Status == StatusPending || o.Status == StatusPaymentPending
}

// IsSettleable reports whether a payment settlement may still apply
func (o *Order) IsSettleable() bool {
	return o.Status == StatusPending || o.Status == StatusPaymentPending
}

// GetFormattedTotal returns the total in display units
func (o *Order) GetFormattedTotal() float64 {
	return float64(o.TotalAmount) / 100
}
