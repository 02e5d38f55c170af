package service

import (
	"context"
	"errors"
	"fmt"

	"orderly/internal/models"
	"orderly/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CartRepository stores the per-user cart snapshot.
type CartRepository interface {
	GetActiveCart(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
	CreateCart(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
	GetCartItem(ctx context.Context, itemID uuid.UUID) (*models.CartItem, error)
	UpsertCartItem(ctx context.Context, cartID, productID uuid.UUID, quantity int) (*models.CartItem, error)
	UpdateCartItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int) error
	DeleteCartItem(ctx context.Context, itemID uuid.UUID) error
	ClearCart(ctx context.Context, cartID uuid.UUID) error
}

// ProductReader looks up catalog entries, usually through the cache.
type ProductReader interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
}

// CartService manages the mutable pre-order cart. Stock checks here are
// advisory; checkout re-checks under row locks.
type CartService struct {
	carts    CartRepository
	products ProductReader
	logger   *zap.Logger
}

func NewCartService(carts CartRepository, products ProductReader) *CartService {
	return &CartService{
		carts:    carts,
		products: products,
		logger:   util.GetLogger(),
	}
}

// GetOrCreateCart returns the user's active cart, creating it on first use.
func (s *CartService) GetOrCreateCart(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.GetOrCreateCart")
	defer span.End()

	cart, err := s.carts.GetActiveCart(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return s.carts.CreateCart(ctx, userID)
	}
	return cart, err
}

// AddItem adds quantity of a product, merging with an existing line.
func (s *CartService) AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem")
	defer span.End()

	if quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", models.ErrValidation)
	}

	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	merged := quantity
	for _, line := range cart.Items {
		if line.ProductID == productID {
			merged += line.Quantity
		}
	}

	if err := s.checkProduct(ctx, productID, merged); err != nil {
		return nil, err
	}
	if _, err := s.carts.UpsertCartItem(ctx, cart.ID, productID, merged); err != nil {
		return nil, err
	}

	s.logger.Debug("Cart item added",
		zap.String("user_id", userID.String()),
		zap.String("product_id", productID.String()),
		zap.Int("quantity", merged))
	return s.carts.GetActiveCart(ctx, userID)
}

// UpdateItem sets the quantity of one of the user's cart lines.
func (s *CartService) UpdateItem(ctx context.Context, userID, itemID uuid.UUID, quantity int) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.UpdateItem")
	defer span.End()

	if quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", models.ErrValidation)
	}

	item, err := s.ownedItem(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}
	if err := s.checkProduct(ctx, item.ProductID, quantity); err != nil {
		return nil, err
	}
	if err := s.carts.UpdateCartItemQuantity(ctx, itemID, quantity); err != nil {
		return nil, err
	}
	return s.carts.GetActiveCart(ctx, userID)
}

// RemoveItem deletes one of the user's cart lines.
func (s *CartService) RemoveItem(ctx context.Context, userID, itemID uuid.UUID) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.RemoveItem")
	defer span.End()

	if _, err := s.ownedItem(ctx, userID, itemID); err != nil {
		return nil, err
	}
	if err := s.carts.DeleteCartItem(ctx, itemID); err != nil {
		return nil, err
	}
	return s.carts.GetActiveCart(ctx, userID)
}

// ClearCart empties the user's cart.
func (s *CartService) ClearCart(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.ClearCart")
	defer span.End()

	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.carts.ClearCart(ctx, cart.ID); err != nil {
		return nil, err
	}
	return s.carts.GetActiveCart(ctx, userID)
}

func (s *CartService) checkProduct(ctx context.Context, productID uuid.UUID, quantity int) error {
	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if !product.IsActive {
		return models.InvalidStatef("Product %s is not available", product.Name)
	}
	if product.Stock < quantity {
		return &models.InsufficientStockError{ProductID: productID, Available: product.Stock, Requested: quantity}
	}
	return nil
}

// ownedItem loads a line and checks it sits in the user's active cart.
func (s *CartService) ownedItem(ctx context.Context, userID, itemID uuid.UUID) (*models.CartItem, error) {
	cart, err := s.carts.GetActiveCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	item, err := s.carts.GetCartItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.CartID != cart.ID {
		return nil, models.NotFoundf("Cart item with id %s not found", itemID)
	}
	return item, nil
}
