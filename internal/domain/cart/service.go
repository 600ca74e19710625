// internal/domain/cart/service.go
package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/your-org/storefront-backend/internal/config"
	"github.com/your-org/storefront-backend/internal/domain/product"
	"github.com/your-org/storefront-backend/internal/pkg/errs"
)

const (
	// SessionCartTTL is how long guest carts live in Redis
	SessionCartTTL = 7 * 24 * time.Hour
	// SessionCartKeyPrefix is the Redis key prefix for guest carts
	SessionCartKeyPrefix = "cart:session:"
)

// Service handles cart business logic
type Service struct {
	db          *gorm.DB
	redisClient *redis.Client
	config      *config.Config
}

// NewService creates a new cart service
func NewService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *Service {
	return &Service{
		db:          db,
		redisClient: redisClient,
		config:      cfg,
	}
}

// AddToCartRequest represents a request to add an item to the cart
type AddToCartRequest struct {
	ProductID uint `json:"product_id" binding:"required"`
	Quantity  int  `json:"quantity" binding:"required,min=1"`
}

// UpdateCartItemRequest represents a request to change a line's quantity
type UpdateCartItemRequest struct {
	Quantity int `json:"quantity" binding:"required,min=0"`
}

// CartResponse is the cart plus computed totals
type CartResponse struct {
	Cart   *Cart      `json:"cart"`
	Totals CartTotals `json:"totals"`
}

// GetActiveCart returns the user's active cart with its items.
// Returns a NotFoundError when the user has no active cart.
func (s *Service) GetActiveCart(userID uint) (*Cart, error) {
	var c Cart
	err := s.db.Preload("Items").
		Where("user_id = ? AND is_active = ?", userID, true).
		First(&c).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errs.NewNotFound("cart", fmt.Sprintf("user %d", userID))
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	return &c, nil
}

// GetCart returns the user's active cart with totals, creating nothing.
// A user without a cart gets an empty response rather than an error.
func (s *Service) GetCart(userID uint) (*CartResponse, error) {
	c, err := s.GetActiveCart(userID)
	if err != nil {
		if errs.IsNotFound(err) {
			return &CartResponse{Cart: &Cart{UserID: userID, IsActive: true}, Totals: CartTotals{}}, nil
		}
		return nil, err
	}
	return &CartResponse{Cart: c, Totals: s.calculateTotals(c)}, nil
}

// AddToCart adds a product to the user's active cart, creating the cart
// on first use. The line price is frozen from the product at add time.
func (s *Service) AddToCart(userID uint, req *AddToCartRequest) (*CartResponse, error) {
	if req.Quantity <= 0 {
		return nil, errs.NewValidation("quantity must be positive")
	}

	var p product.Product
	if err := s.db.First(&p, req.ProductID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errs.NewNotFound("product", fmt.Sprintf("%d", req.ProductID))
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	if !p.IsActive {
		return nil, errs.NewValidation("product '%s' is not available", p.Name)
	}

	c, err := s.getOrCreateActiveCart(userID)
	if err != nil {
		return nil, err
	}

	// Merge quantity into an existing line for the same product
	var item CartItem
	err = s.db.Where("cart_id = ? AND product_id = ?", c.ID, req.ProductID).First(&item).Error
	switch err {
	case nil:
		newQuantity := item.Quantity + req.Quantity
		if p.TrackQuantity && !p.HasStockFor(newQuantity) {
			return nil, &errs.InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Requested:   newQuantity,
				Available:   p.Quantity,
			}
		}
		item.Quantity = newQuantity
		if err := s.db.Save(&item).Error; err != nil {
			return nil, fmt.Errorf("failed to update cart item: %w", err)
		}
	case gorm.ErrRecordNotFound:
		if p.TrackQuantity && !p.HasStockFor(req.Quantity) {
			return nil, &errs.InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Requested:   req.Quantity,
				Available:   p.Quantity,
			}
		}
		item = CartItem{
			CartID:    c.ID,
			ProductID: req.ProductID,
			Quantity:  req.Quantity,
			Price:     p.Price,
		}
		if err := s.db.Create(&item).Error; err != nil {
			return nil, fmt.Errorf("failed to add cart item: %w", err)
		}
	default:
		return nil, fmt.Errorf("failed to check cart item: %w", err)
	}

	return s.GetCart(userID)
}

// UpdateCartItem changes a line's quantity; zero removes the line
func (s *Service) UpdateCartItem(userID uint, itemID uint, req *UpdateCartItemRequest) (*CartResponse, error) {
	if req.Quantity < 0 {
		return nil, errs.NewValidation("quantity cannot be negative")
	}

	c, err := s.GetActiveCart(userID)
	if err != nil {
		return nil, err
	}

	var item CartItem
	if err := s.db.Where("id = ? AND cart_id = ?", itemID, c.ID).First(&item).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errs.NewNotFound("cart item", fmt.Sprintf("%d", itemID))
		}
		return nil, fmt.Errorf("failed to get cart item: %w", err)
	}

	if req.Quantity == 0 {
		if err := s.db.Delete(&item).Error; err != nil {
			return nil, fmt.Errorf("failed to remove cart item: %w", err)
		}
		return s.GetCart(userID)
	}

	var p product.Product
	if err := s.db.First(&p, item.ProductID).Error; err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	if p.TrackQuantity && !p.HasStockFor(req.Quantity) {
		return nil, &errs.InsufficientStockError{
			ProductID:   p.ID,
			ProductName: p.Name,
			Requested:   req.Quantity,
			Available:   p.Quantity,
		}
	}

	item.Quantity = req.Quantity
	if err := s.db.Save(&item).Error; err != nil {
		return nil, fmt.Errorf("failed to update cart item: %w", err)
	}

	return s.GetCart(userID)
}

// RemoveFromCart deletes a line from the user's active cart
func (s *Service) RemoveFromCart(userID uint, itemID uint) (*CartResponse, error) {
	c, err := s.GetActiveCart(userID)
	if err != nil {
		return nil, err
	}

	result := s.db.Where("id = ? AND cart_id = ?", itemID, c.ID).Delete(&CartItem{})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to remove cart item: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, errs.NewNotFound("cart item", fmt.Sprintf("%d", itemID))
	}

	return s.GetCart(userID)
}

// ClearCart removes every line from the user's active cart
func (s *Service) ClearCart(userID uint) error {
	c, err := s.GetActiveCart(userID)
	if err != nil {
		if errs.IsNotFound(err) {
			return nil
		}
		return err
	}
	if err := s.db.Where("cart_id = ?", c.ID).Delete(&CartItem{}).Error; err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}

// DeactivateCart performs the settlement-time teardown of a cart within
// the given transaction: items are deleted and the header is retired.
// The next AddToCart starts a fresh cart.
func DeactivateCart(tx *gorm.DB, cartID uint) error {
	if err := tx.Where("cart_id = ?", cartID).Delete(&CartItem{}).Error; err != nil {
		return fmt.Errorf("failed to delete cart items: %w", err)
	}
	if err := tx.Model(&Cart{}).Where("id = ?", cartID).Update("is_active", false).Error; err != nil {
		return fmt.Errorf("failed to deactivate cart: %w", err)
	}
	return nil
}

// GetSessionCart returns a guest cart from Redis
func (s *Service) GetSessionCart(ctx context.Context, sessionID string) (*SessionCart, error) {
	key := SessionCartKeyPrefix + sessionID
	data, err := s.redisClient.Get(ctx, key).Result()
	if err == redis.Nil {
		return &SessionCart{
			SessionID: sessionID,
			Items:     []SessionCartItem{},
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
			ExpiresAt: time.Now().Add(SessionCartTTL),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session cart: %w", err)
	}

	var sc SessionCart
	if err := json.Unmarshal([]byte(data), &sc); err != nil {
		return nil, fmt.Errorf("failed to decode session cart: %w", err)
	}
	return &sc, nil
}

// AddToSessionCart adds a product to a guest cart in Redis
func (s *Service) AddToSessionCart(ctx context.Context, sessionID string, req *AddToCartRequest) (*SessionCart, error) {
	if req.Quantity <= 0 {
		return nil, errs.NewValidation("quantity must be positive")
	}

	var p product.Product
	if err := s.db.First(&p, req.ProductID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errs.NewNotFound("product", fmt.Sprintf("%d", req.ProductID))
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	if !p.IsActive {
		return nil, errs.NewValidation("product '%s' is not available", p.Name)
	}

	sc, err := s.GetSessionCart(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	found := false
	for i := range sc.Items {
		if sc.Items[i].ProductID == req.ProductID {
			sc.Items[i].Quantity += req.Quantity
			found = true
			break
		}
	}
	if !found {
		sc.Items = append(sc.Items, SessionCartItem{
			ProductID: req.ProductID,
			Quantity:  req.Quantity,
			Price:     p.Price,
			AddedAt:   time.Now(),
		})
	}
	sc.UpdatedAt = time.Now()

	if err := s.saveSessionCart(ctx, sc); err != nil {
		return nil, err
	}
	return sc, nil
}

// MergeSessionCart folds a guest cart into the user's active cart after
// login, then deletes the Redis copy. Lines failing stock checks are
// skipped rather than failing the whole merge.
func (s *Service) MergeSessionCart(ctx context.Context, sessionID string, userID uint) (*CartResponse, error) {
	sc, err := s.GetSessionCart(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	for _, item := range sc.Items {
		req := &AddToCartRequest{ProductID: item.ProductID, Quantity: item.Quantity}
		if _, err := s.AddToCart(userID, req); err != nil {
			if errs.IsInsufficientStock(err) || errs.IsValidation(err) || errs.IsNotFound(err) {
				continue
			}
			return nil, err
		}
	}

	key := SessionCartKeyPrefix + sessionID
	if err := s.redisClient.Del(ctx, key).Err(); err != nil {
		return nil, fmt.Errorf("failed to delete session cart: %w", err)
	}

	return s.GetCart(userID)
}

func (s *Service) getOrCreateActiveCart(userID uint) (*Cart, error) {
	var c Cart
	err := s.db.Where("user_id = ? AND is_active = ?", userID, true).First(&c).Error
	if err == nil {
		return &c, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	c = Cart{UserID: userID, IsActive: true}
	if err := s.db.Create(&c).Error; err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}
	return &c, nil
}

func (s *Service) saveSessionCart(ctx context.Context, sc *SessionCart) error {
	data, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("failed to encode session cart: %w", err)
	}
	key := SessionCartKeyPrefix + sc.SessionID
	if err := s.redisClient.Set(ctx, key, data, SessionCartTTL).Err(); err != nil {
		return fmt.Errorf("failed to save session cart: %w", err)
	}
	return nil
}

func (s *Service) calculateTotals(c *Cart) CartTotals {
	totals := CartTotals{ItemCount: len(c.Items)}
	for _, item := range c.Items {
		totals.TotalQuantity += item.Quantity
		totals.SubTotal += item.Price * int64(item.Quantity)
	}
	return totals
}
