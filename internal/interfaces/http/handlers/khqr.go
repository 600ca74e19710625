// internal/interfaces/http/handlers/khqr.go
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/your-org/storefront-backend/internal/config"
	"github.com/your-org/storefront-backend/internal/domain/order"
	"github.com/your-org/storefront-backend/internal/interfaces/http/middleware"
	"github.com/your-org/storefront-backend/internal/pkg/khqr"
)

// KHQRHandler serves KHQR payment payloads for orders
type KHQRHandler struct {
	orderService *order.Service
	encoder      *khqr.Encoder
	config       *config.Config
}

// NewKHQRHandler creates a KHQR handler. Construction fails when the
// merchant account is not configured.
func NewKHQRHandler(db *gorm.DB, cfg *config.Config) (*KHQRHandler, error) {
	encoder, err := khqr.NewEncoder(khqr.Config{
		MerchantAccount:  cfg.KHQR.MerchantAccount,
		MerchantName:     cfg.KHQR.MerchantName,
		MerchantCity:     cfg.KHQR.MerchantCity,
		MerchantCategory: cfg.KHQR.MerchantCategory,
		CountryCode:      cfg.KHQR.CountryCode,
	})
	if err != nil {
		return nil, err
	}
	return &KHQRHandler{
		orderService: order.NewService(db, nil, cfg, nil),
		encoder:      encoder,
		config:       cfg,
	}, nil
}

// GetOrderQR handles GET /orders/:id/khqr, returning the payload and a
// base64 PNG for the order total.
func (h *KHQRHandler) GetOrderQR(c *gin.Context) {
	userID, exists := middleware.GetUserIDFromContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	orderID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	o, err := h.orderService.GetOrder(orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	if o.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}

	qr, err := h.encoder.EncodeWithImage(o.GetFormattedTotal(), o.Currency, 256)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"order_number": o.OrderNumber,
		"payload":      qr.Payload,
		"image_base64": qr.ImageBase64,
	}})
}
