// internal/interfaces/http/handlers/payment.go
package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
	"gorm.io/gorm"

	"github.com/your-org/storefront-backend/internal/config"
	"github.com/your-org/storefront-backend/internal/domain/order"
	"github.com/your-org/storefront-backend/internal/domain/payment"
	"github.com/your-org/storefront-backend/internal/domain/settlement"
	"github.com/your-org/storefront-backend/internal/interfaces/http/middleware"
	"github.com/your-org/storefront-backend/internal/pkg/errs"
	"github.com/your-org/storefront-backend/internal/pkg/notify"
)

// PaymentHandler handles payment endpoints across the gateways
type PaymentHandler struct {
	paymentService *payment.Service
	orderService   *order.Service
	coordinator    *settlement.Coordinator
	config         *config.Config
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(db *gorm.DB, cfg *config.Config, publisher notify.Publisher) *PaymentHandler {
	return &PaymentHandler{
		paymentService: payment.NewService(db, cfg),
		orderService:   order.NewService(db, nil, cfg, publisher),
		coordinator:    settlement.NewCoordinator(db, cfg, publisher),
		config:         cfg,
	}
}

// StartHostedCheckout handles POST /orders/:id/checkout
func (h *PaymentHandler) StartHostedCheckout(c *gin.Context) {
	if !h.authorizeOrderAccess(c) {
		return
	}
	orderID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	resp, err := h.paymentService.StartHostedCheckout(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Checkout session created", "data": resp})
}

// CreateIntent handles POST /payments/intent
func (h *PaymentHandler) CreateIntent(c *gin.Context) {
	if _, exists := middleware.GetUserIDFromContext(c); !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req payment.CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "details": err.Error()})
		return
	}

	resp, err := h.paymentService.CreateIntent(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Payment intent created", "data": resp})
}

// ConfirmIntent handles POST /payments/intent/:intent_id/confirm. A
// successful confirmation settles the order immediately; a settlement
// failure surfaces as a non-2xx so the caller knows the order is not
// paid.
func (h *PaymentHandler) ConfirmIntent(c *gin.Context) {
	if _, exists := middleware.GetUserIDFromContext(c); !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	intentID := c.Param("intent_id")

	p, err := h.paymentService.ConfirmIntent(c.Request.Context(), intentID)
	if err != nil {
		respondError(c, err)
		return
	}

	settled, err := h.coordinator.Settle(c.Request.Context(), p.OrderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Payment confirmed", "data": gin.H{"payment": p, "order": settled}})
}

// RecordPayment handles POST /admin/payments/record for out-of-band
// payments such as bank transfers and KHQR scans.
func (h *PaymentHandler) RecordPayment(c *gin.Context) {
	var req payment.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "details": err.Error()})
		return
	}

	p, err := h.paymentService.RecordPayment(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	// Pending records are bookkeeping only; settlement waits for the
	// confirming call.
	if !p.IsConfirmed() {
		c.JSON(http.StatusOK, gin.H{"message": "Payment recorded", "data": gin.H{"payment": p}})
		return
	}

	settled, err := h.coordinator.Settle(c.Request.Context(), p.OrderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Payment recorded", "data": gin.H{"payment": p, "order": settled}})
}

// ListPayments handles GET /admin/payments
func (h *PaymentHandler) ListPayments(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	status := payment.PaymentStatus(c.Query("status"))

	resp, err := h.paymentService.ListPayments(status, page, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// GetPayment handles GET /orders/:id/payment
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	if !h.authorizeOrderAccess(c) {
		return
	}
	orderID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	p, err := h.paymentService.GetPaymentByOrder(orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": p})
}

// Webhook handles POST /webhooks/stripe. Signature verification uses the
// configured webhook secret; unverified payloads are rejected.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 65536))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read payload"})
		return
	}

	event, err := webhook.ConstructEvent(payload, c.GetHeader("Stripe-Signature"), h.config.Payment.Stripe.WebhookSecret)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid webhook signature"})
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed event payload"})
			return
		}
		p, err := h.paymentService.ConfirmHostedSession(c.Request.Context(), session.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		if _, err := h.coordinator.Settle(c.Request.Context(), p.OrderID); err != nil {
			respondError(c, err)
			return
		}

	case "payment_intent.succeeded":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed event payload"})
			return
		}
		p, err := h.paymentService.ConfirmIntent(c.Request.Context(), intent.ID)
		if err != nil {
			// An intent we never issued is not our event to settle
			if !errs.IsNotFound(err) {
				respondError(c, err)
				return
			}
		} else if _, err := h.coordinator.Settle(c.Request.Context(), p.OrderID); err != nil {
			respondError(c, err)
			return
		}

	default:
		logrus.WithField("type", event.Type).Debug("Ignoring unhandled webhook event")
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// authorizeOrderAccess checks the :id order belongs to the caller
func (h *PaymentHandler) authorizeOrderAccess(c *gin.Context) bool {
	userID, exists := middleware.GetUserIDFromContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return false
	}
	orderID, ok := parseUintParam(c, "id")
	if !ok {
		return false
	}
	o, err := h.orderService.GetOrder(orderID)
	if err != nil {
		respondError(c, err)
		return false
	}
	isAdmin, _ := c.Get("is_admin")
	if o.UserID != userID && isAdmin != true {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return false
	}
	return true
}
