// internal/interfaces/http/routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/your-org/storefront-backend/internal/config"
	"github.com/your-org/storefront-backend/internal/interfaces/http/handlers"
	"github.com/your-org/storefront-backend/internal/interfaces/http/middleware"
	"github.com/your-org/storefront-backend/internal/pkg/notify"
)

// SetupRoutes wires all API routes
func SetupRoutes(rg *gin.RouterGroup, db *gorm.DB, redisClient *redis.Client, cfg *config.Config) {
	publisher := notify.NewRedisPublisher(redisClient, cfg.Notifications.Channel, logrus.StandardLogger())

	setupProductRoutes(rg, db, cfg)
	setupCartRoutes(rg, db, redisClient, cfg)
	setupOrderRoutes(rg, db, redisClient, cfg, publisher)
	setupPaymentRoutes(rg, db, cfg, publisher)
	setupAdminRoutes(rg, db, redisClient, cfg, publisher)
}

func setupProductRoutes(rg *gin.RouterGroup, db *gorm.DB, cfg *config.Config) {
	productHandler := handlers.NewProductHandler(db, cfg)

	products := rg.Group("/products")
	{
		products.GET("/best-sellers", productHandler.GetBestSellers)
		products.GET("/:id", productHandler.GetProduct)
	}
}

func setupCartRoutes(rg *gin.RouterGroup, db *gorm.DB, redisClient *redis.Client, cfg *config.Config) {
	cartHandler := handlers.NewCartHandler(db, redisClient, cfg)

	// Guest carts ride a session cookie, no auth required
	session := rg.Group("/cart/session")
	{
		session.GET("", cartHandler.GetSessionCart)
		session.POST("/items", cartHandler.AddToSessionCart)
	}

	carts := rg.Group("/cart")
	carts.Use(middleware.AuthMiddleware(cfg))
	{
		carts.GET("", cartHandler.GetCart)
		carts.DELETE("", cartHandler.ClearCart)
		carts.POST("/items", cartHandler.AddToCart)
		carts.PUT("/items/:id", cartHandler.UpdateCartItem)
		carts.DELETE("/items/:id", cartHandler.RemoveFromCart)
		carts.POST("/merge", cartHandler.MergeSessionCart)
	}
}

func setupOrderRoutes(rg *gin.RouterGroup, db *gorm.DB, redisClient *redis.Client, cfg *config.Config, publisher notify.Publisher) {
	orderHandler := handlers.NewOrderHandler(db, redisClient, cfg, publisher)

	orders := rg.Group("/orders")
	orders.Use(middleware.AuthMiddleware(cfg))
	{
		orders.POST("", orderHandler.PlaceOrder)
		orders.GET("", orderHandler.GetOrders)
		orders.GET("/:id", orderHandler.GetOrder)
		orders.POST("/:id/cancel", orderHandler.CancelOrder)
	}
}

func setupPaymentRoutes(rg *gin.RouterGroup, db *gorm.DB, cfg *config.Config, publisher notify.Publisher) {
	paymentHandler := handlers.NewPaymentHandler(db, cfg, publisher)

	orders := rg.Group("/orders")
	orders.Use(middleware.AuthMiddleware(cfg))
	{
		orders.POST("/:id/checkout", paymentHandler.StartHostedCheckout)
		orders.GET("/:id/payment", paymentHandler.GetPayment)
	}

	payments := rg.Group("/payments")
	payments.Use(middleware.AuthMiddleware(cfg))
	{
		payments.POST("/intent", paymentHandler.CreateIntent)
		payments.POST("/intent/:intent_id/confirm", paymentHandler.ConfirmIntent)
	}

	// KHQR payloads, only when a merchant account is configured
	if khqrHandler, err := handlers.NewKHQRHandler(db, cfg); err == nil {
		khqrGroup := rg.Group("/orders")
		khqrGroup.Use(middleware.AuthMiddleware(cfg))
		khqrGroup.GET("/:id/khqr", khqrHandler.GetOrderQR)
	} else {
		logrus.WithError(err).Warn("KHQR endpoints disabled")
	}

	// Stripe webhook, no auth (signature-verified)
	rg.POST("/webhooks/stripe", paymentHandler.Webhook)
}

func setupAdminRoutes(rg *gin.RouterGroup, db *gorm.DB, redisClient *redis.Client, cfg *config.Config, publisher notify.Publisher) {
	orderHandler := handlers.NewOrderHandler(db, redisClient, cfg, publisher)
	paymentHandler := handlers.NewPaymentHandler(db, cfg, publisher)

	admin := rg.Group("/admin")
	admin.Use(middleware.AuthMiddleware(cfg))
	admin.Use(middleware.AdminMiddleware())
	{
		admin.POST("/orders/:id/ship", orderHandler.ShipOrder)
		admin.POST("/orders/:id/deliver", orderHandler.DeliverOrder)
		admin.POST("/orders/expire-stale", orderHandler.ExpireStaleOrders)
		admin.POST("/payments/record", paymentHandler.RecordPayment)
		admin.GET("/payments", paymentHandler.ListPayments)
	}
}
