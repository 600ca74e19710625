// internal/domain/payment/entity.go
package payment

import (
	"time"

	"gorm.io/gorm"
)

// PaymentStatus represents the status of a payment
type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusConfirmed PaymentStatus = "confirmed"
	StatusSettled   PaymentStatus = "settled"
	StatusFailed    PaymentStatus = "failed"
)

// Gateway identifies which adapter produced a payment
type Gateway string

const (
	GatewayHostedCheckout Gateway = "hosted_checkout"
	GatewayCardIntent     Gateway = "card_intent"
	GatewayManual         Gateway = "manual"
)

// Payment records a payment attempt against an order. An order has at
// most one payment row; TransactionRef is the gateway's reference and
// is unique, which is what makes RecordPayment idempotent.
type Payment struct {
	ID             uint          `gorm:"primaryKey" json:"id"`
	OrderID        uint          `gorm:"uniqueIndex;not null" json:"order_id"`
	Gateway        Gateway       `gorm:"not null" json:"gateway"`
	Method         string        `json:"method,omitempty"`
	Status         PaymentStatus `gorm:"not null;default:'pending';index" json:"status"`
	Amount         int64         `gorm:"not null" json:"amount"`
	Currency       string        `gorm:"not null" json:"currency"`
	// Unique for non-empty values via a partial index created in migration
	TransactionRef string        `gorm:"index" json:"transaction_ref,omitempty"`

	// Gateway-specific references
	StripeSessionID string `gorm:"index" json:"stripe_session_id,omitempty"`
	StripeIntentID  string `gorm:"index" json:"stripe_intent_id,omitempty"`
	GatewayResponse string `gorm:"type:text" json:"-"`

	PaidAt    *time.Time     `json:"paid_at,omitempty"`
	SettledAt *time.Time     `json:"settled_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName overrides the table name
func (Payment) TableName() string {
	return "payments"
}

// IsConfirmed reports whether the gateway has confirmed the funds
func (p *Payment) IsConfirmed() bool {
	return p.Status == StatusConfirmed || p.Status == StatusSettled
}
