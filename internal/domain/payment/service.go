// internal/domain/payment/service.go
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"gorm.io/gorm"

	"github.com/your-org/storefront-backend/internal/config"
	"github.com/your-org/storefront-backend/internal/domain/order"
	"github.com/your-org/storefront-backend/internal/pkg/errs"
)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Confirm(id string, params *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error)
}

// Service handles payment business logic across the three gateways:
// Stripe hosted checkout, Stripe payment intents, and manually recorded
// out-of-band payments (bank transfer, KHQR scan).
type Service struct {
	db       *gorm.DB
	config   *config.Config
	sessions stripeSessionAPI
	intents  stripePaymentIntentAPI
}

// NewService creates a payment service backed by the real Stripe client
func NewService(db *gorm.DB, cfg *config.Config) *Service {
	sc := client.New(cfg.Payment.Stripe.SecretKey, nil)
	return &Service{
		db:       db,
		config:   cfg,
		sessions: sc.CheckoutSessions,
		intents:  sc.PaymentIntents,
	}
}

// NewServiceWithClients creates a payment service with injected Stripe
// clients, used by tests.
func NewServiceWithClients(db *gorm.DB, cfg *config.Config, sessions stripeSessionAPI, intents stripePaymentIntentAPI) *Service {
	return &Service{
		db:       db,
		config:   cfg,
		sessions: sessions,
		intents:  intents,
	}
}

// HostedCheckoutResponse carries the redirect for a hosted checkout
type HostedCheckoutResponse struct {
	Payment     *Payment `json:"payment"`
	SessionID   string   `json:"session_id"`
	CheckoutURL string   `json:"checkout_url"`
}

// IntentResponse carries the client secret for a direct card intent
type IntentResponse struct {
	Payment      *Payment `json:"payment"`
	IntentID     string   `json:"intent_id"`
	ClientSecret string   `json:"client_secret"`
}

// CreateIntentRequest starts a direct card payment for an order. Amount
// must match the order total exactly.
type CreateIntentRequest struct {
	OrderID uint  `json:"order_id" binding:"required"`
	Amount  int64 `json:"amount" binding:"required"`
}

// RecordPaymentRequest registers an out-of-band payment. At least one of
// order_id and transaction_ref must be supplied; order_id is required
// only when no payment row exists yet.
type RecordPaymentRequest struct {
	OrderID        uint   `json:"order_id"`
	TransactionRef string `json:"transaction_ref"`
	Amount         int64  `json:"amount" binding:"required"`
	Method         string `json:"method"`
	Status         string `json:"status"`
}

// StartHostedCheckout creates a Stripe Checkout session for a pending
// order and moves the order to payment_pending. Calling it again for the
// same order replaces the session on the existing payment row.
func (s *Service) StartHostedCheckout(ctx context.Context, orderID uint) (*HostedCheckoutResponse, error) {
	o, err := s.loadPayableOrder(orderID)
	if err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.config.Payment.Stripe.SuccessURL),
		CancelURL:         stripe.String(s.config.Payment.Stripe.CancelURL),
		ClientReferenceID: stripe.String(o.OrderNumber),
		Metadata: map[string]string{
			"order_id":     fmt.Sprintf("%d", o.ID),
			"order_number": o.OrderNumber,
		},
	}
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(o.Items))
	for _, item := range o.Items {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(int64(item.Quantity)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(o.Currency)),
				UnitAmount: stripe.Int64(item.Price),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.ProductName),
				},
			},
		})
	}
	params.LineItems = lineItems
	boundedCtx, cancel := s.gatewayContext(ctx)
	defer cancel()
	params.Context = boundedCtx
	params.SetIdempotencyKey("checkout-" + o.OrderNumber)

	session, err := s.sessions.New(params)
	if err != nil {
		return nil, errs.NewGateway("stripe", "create checkout session", err)
	}

	p, err := s.upsertPayment(o, GatewayHostedCheckout, func(p *Payment) {
		p.StripeSessionID = session.ID
		p.GatewayResponse = marshalGatewayResponse(session)
	})
	if err != nil {
		return nil, err
	}

	return &HostedCheckoutResponse{
		Payment:     p,
		SessionID:   session.ID,
		CheckoutURL: session.URL,
	}, nil
}

// ConfirmHostedSession resolves a completed Checkout session, typically
// from the checkout.session.completed webhook. The payment becomes
// confirmed and is ready to settle.
func (s *Service) ConfirmHostedSession(ctx context.Context, sessionID string) (*Payment, error) {
	var p Payment
	if err := s.db.Where("stripe_session_id = ?", sessionID).First(&p).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errs.NewNotFound("payment", sessionID)
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	if p.IsConfirmed() {
		return &p, nil
	}

	params := &stripe.CheckoutSessionParams{}
	boundedCtx, cancel := s.gatewayContext(ctx)
	defer cancel()
	params.Context = boundedCtx
	session, err := s.sessions.Get(sessionID, params)
	if err != nil {
		return nil, errs.NewGateway("stripe", "get checkout session", err)
	}
	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return nil, errs.NewValidation("checkout session %s is not paid (status '%s')", sessionID, session.PaymentStatus)
	}

	ref := session.ID
	if session.PaymentIntent != nil {
		ref = session.PaymentIntent.ID
	}
	return s.markConfirmed(&p, ref)
}

// CreateIntent creates a Stripe PaymentIntent for a pending order. The
// requested amount must equal the order total.
func (s *Service) CreateIntent(ctx context.Context, req *CreateIntentRequest) (*IntentResponse, error) {
	o, err := s.loadPayableOrder(req.OrderID)
	if err != nil {
		return nil, err
	}
	if req.Amount != o.TotalAmount {
		return nil, errs.NewValidation("amount %d does not match order total %d", req.Amount, o.TotalAmount)
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(o.TotalAmount),
		Currency: stripe.String(strings.ToLower(o.Currency)),
		Metadata: map[string]string{
			"order_id":     fmt.Sprintf("%d", o.ID),
			"order_number": o.OrderNumber,
		},
	}
	boundedCtx, cancel := s.gatewayContext(ctx)
	defer cancel()
	params.Context = boundedCtx
	params.SetIdempotencyKey("intent-" + o.OrderNumber)

	intent, err := s.intents.New(params)
	if err != nil {
		return nil, errs.NewGateway("stripe", "create payment intent", err)
	}

	p, err := s.upsertPayment(o, GatewayCardIntent, func(p *Payment) {
		p.StripeIntentID = intent.ID
		p.GatewayResponse = marshalGatewayResponse(intent)
	})
	if err != nil {
		return nil, err
	}

	return &IntentResponse{
		Payment:      p,
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
	}, nil
}

// ConfirmIntent confirms a PaymentIntent and, on success, marks the
// payment confirmed. A non-succeeded intent is a validation failure, not
// a gateway failure.
func (s *Service) ConfirmIntent(ctx context.Context, intentID string) (*Payment, error) {
	var p Payment
	if err := s.db.Where("stripe_intent_id = ?", intentID).First(&p).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errs.NewNotFound("payment", intentID)
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	if p.IsConfirmed() {
		return &p, nil
	}

	boundedCtx, cancel := s.gatewayContext(ctx)
	defer cancel()

	getParams := &stripe.PaymentIntentParams{}
	getParams.Context = boundedCtx
	intent, err := s.intents.Get(intentID, getParams)
	if err != nil {
		return nil, errs.NewGateway("stripe", "get payment intent", err)
	}

	if intent.Status != stripe.PaymentIntentStatusSucceeded {
		confirmParams := &stripe.PaymentIntentConfirmParams{}
		confirmParams.Context = boundedCtx
		intent, err = s.intents.Confirm(intentID, confirmParams)
		if err != nil {
			return nil, errs.NewGateway("stripe", "confirm payment intent", err)
		}
	}
	if intent.Status != stripe.PaymentIntentStatusSucceeded {
		return nil, errs.NewValidation("payment intent %s not succeeded (status '%s')", intentID, intent.Status)
	}

	return s.markConfirmed(&p, intent.ID)
}

// RecordPayment registers an out-of-band payment. Lookup goes by
// transaction reference first, falling back to the order's payment row;
// the reference doubles as the idempotency key, so recording the same
// one twice returns the original payment untouched. A pending manual
// payment recorded earlier can be progressed to confirmed by a later
// call carrying either reference.
func (s *Service) RecordPayment(ctx context.Context, req *RecordPaymentRequest) (*Payment, error) {
	ref := strings.TrimSpace(req.TransactionRef)
	if ref == "" && req.OrderID == 0 {
		return nil, errs.NewValidation("either an order id or a transaction reference is required")
	}
	status, err := manualRecordStatus(req.Status)
	if err != nil {
		return nil, err
	}

	if ref != "" {
		var existing Payment
		err := s.db.Where("transaction_ref = ?", ref).First(&existing).Error
		switch {
		case err == nil:
			if req.OrderID != 0 && existing.OrderID != req.OrderID {
				return nil, errs.NewValidation("transaction reference '%s' already recorded for another order", ref)
			}
			if existing.IsConfirmed() || status != StatusConfirmed {
				return &existing, nil
			}
			return s.markConfirmed(&existing, ref)
		case err != gorm.ErrRecordNotFound:
			return nil, fmt.Errorf("failed to check transaction reference: %w", err)
		}
	}

	if req.OrderID == 0 {
		return nil, errs.NewValidation("transaction reference '%s' is not recorded; an order id is required to create a payment", ref)
	}

	o, err := s.loadPayableOrder(req.OrderID)
	if err != nil {
		return nil, err
	}
	if req.Amount != o.TotalAmount {
		return nil, errs.NewValidation("amount %d does not match order total %d", req.Amount, o.TotalAmount)
	}

	method := req.Method
	if method == "" {
		method = "manual"
	}
	now := time.Now()

	p, err := s.upsertPayment(o, GatewayManual, func(p *Payment) {
		p.Method = method
		p.Status = status
		if ref != "" {
			p.TransactionRef = ref
		}
		if status == StatusConfirmed {
			p.PaidAt = &now
		}
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// manualRecordStatus maps a requested record status onto the payment
// lifecycle. "settled" from the operator means ready to settle; the
// coordinator owns the actual settled flip.
func manualRecordStatus(raw string) (PaymentStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "settled", "confirmed":
		return StatusConfirmed, nil
	case "pending":
		return StatusPending, nil
	default:
		return "", errs.NewValidation("unknown payment status '%s'", raw)
	}
}

// PaymentListResponse is a paginated list of payments
type PaymentListResponse struct {
	Payments   []Payment `json:"payments"`
	Total      int64     `json:"total"`
	Page       int       `json:"page"`
	Limit      int       `json:"limit"`
	TotalPages int       `json:"total_pages"`
}

// ListPayments returns payments newest first, optionally filtered by
// status. Used by the admin surface.
func (s *Service) ListPayments(status PaymentStatus, page, limit int) (*PaymentListResponse, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	query := s.db.Model(&Payment{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count payments: %w", err)
	}

	var payments []Payment
	err := query.Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&payments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return &PaymentListResponse{
		Payments:   payments,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
	}, nil
}

// GetPaymentByOrder returns the payment row for an order
func (s *Service) GetPaymentByOrder(orderID uint) (*Payment, error) {
	var p Payment
	if err := s.db.Where("order_id = ?", orderID).First(&p).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errs.NewNotFound("payment", fmt.Sprintf("order %d", orderID))
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &p, nil
}

// loadPayableOrder fetches an order that can still accept payment
func (s *Service) loadPayableOrder(orderID uint) (*order.Order, error) {
	var o order.Order
	if err := s.db.Preload("Items").First(&o, orderID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errs.NewNotFound("order", fmt.Sprintf("%d", orderID))
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	if !o.IsSettleable() {
		return nil, errs.NewValidation("order %s does not accept payment in status '%s'", o.OrderNumber, o.Status)
	}
	return &o, nil
}

// upsertPayment creates or updates the order's single payment row and
// moves a pending order to payment_pending, in one transaction.
func (s *Service) upsertPayment(o *order.Order, gateway Gateway, mutate func(*Payment)) (*Payment, error) {
	tx := s.db.Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}

	var p Payment
	err := tx.Where("order_id = ?", o.ID).First(&p).Error
	switch err {
	case nil:
		// A confirmed payment is immutable until settlement; retries
		// get the existing row back regardless of gateway.
		if p.IsConfirmed() {
			tx.Rollback()
			return &p, nil
		}
	case gorm.ErrRecordNotFound:
		p = Payment{
			OrderID:  o.ID,
			Status:   StatusPending,
			Amount:   o.TotalAmount,
			Currency: o.Currency,
		}
	default:
		tx.Rollback()
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}

	p.Gateway = gateway
	mutate(&p)
	if err := tx.Save(&p).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to save payment: %w", err)
	}

	if o.Status == order.StatusPending {
		result := tx.Model(&order.Order{}).
			Where("id = ? AND status = ?", o.ID, order.StatusPending).
			Update("status", order.StatusPaymentPending)
		if result.Error != nil {
			tx.Rollback()
			return nil, fmt.Errorf("failed to update order status: %w", result.Error)
		}
		if result.RowsAffected > 0 {
			history := &order.OrderStatusHistory{
				OrderID: o.ID,
				Status:  order.StatusPaymentPending,
				Comment: fmt.Sprintf("Payment started via %s", gateway),
			}
			if err := tx.Create(history).Error; err != nil {
				tx.Rollback()
				return nil, fmt.Errorf("failed to record status history: %w", err)
			}
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit payment: %w", err)
	}
	return &p, nil
}

// markConfirmed stamps the gateway reference and confirmation time
func (s *Service) markConfirmed(p *Payment, transactionRef string) (*Payment, error) {
	now := time.Now()
	updates := map[string]interface{}{
		"status":          StatusConfirmed,
		"transaction_ref": transactionRef,
		"paid_at":         now,
	}
	if err := s.db.Model(p).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to confirm payment: %w", err)
	}
	p.Status = StatusConfirmed
	p.TransactionRef = transactionRef
	p.PaidAt = &now
	return p, nil
}

// marshalGatewayResponse keeps the raw gateway object for auditing.
// Marshal failures degrade to an empty string rather than failing the
// payment.
func marshalGatewayResponse(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// gatewayContext bounds outbound Stripe calls
func (s *Service) gatewayContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.config.Payment.GatewayTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
