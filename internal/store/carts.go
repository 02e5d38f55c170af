package store

import (
	"context"
	"fmt"
	"time"

	"orderly/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const cartColumns = "id, user_id, status, created_at, updated_at"

type cartItemRow struct {
	ID          uuid.UUID       `db:"id"`
	CartID      uuid.UUID       `db:"cart_id"`
	ProductID   uuid.UUID       `db:"product_id"`
	Quantity    int             `db:"quantity"`
	CreatedAt   time.Time       `db:"created_at"`
	Name        string          `db:"name"`
	Description string          `db:"description"`
	Price       decimal.Decimal `db:"price"`
	Stock       int             `db:"stock"`
	IsActive    bool            `db:"is_active"`
}

func loadCartItems(ctx context.Context, q sqlx.QueryerContext, cartID uuid.UUID) ([]models.CartItem, error) {
	var rows []cartItemRow
	err := sqlx.SelectContext(ctx, q, &rows, `
		SELECT ci.id, ci.cart_id, ci.product_id, ci.quantity, ci.created_at,
		       p.name, p.description, p.price, p.stock, p.is_active
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = $1
		ORDER BY ci.created_at, ci.id`, cartID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart items: %w", err)
	}

	items := make([]models.CartItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, models.CartItem{
			ID:        r.ID,
			CartID:    r.CartID,
			ProductID: r.ProductID,
			Quantity:  r.Quantity,
			CreatedAt: r.CreatedAt,
			Product: &models.Product{
				ID:          r.ProductID,
				Name:        r.Name,
				Description: r.Description,
				Price:       r.Price,
				Stock:       r.Stock,
				IsActive:    r.IsActive,
			},
		})
	}
	return items, nil
}

// GetActiveCart returns the user's active cart with its lines.
func (s *Store) GetActiveCart(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := s.db.GetContext(ctx, &cart,
		"SELECT "+cartColumns+" FROM carts WHERE user_id = $1 AND status = $2",
		userID, models.CartStatusActive)
	if err != nil {
		return nil, notFound(err, "No active cart found")
	}

	cart.Items, err = loadCartItems(ctx, s.db, cart.ID)
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// CreateCart creates the user's active cart, or returns the one a concurrent
// request created first.
func (s *Store) CreateCart(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO carts (id, user_id, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) WHERE status = 'active' DO NOTHING`,
		uuid.New(), userID, models.CartStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}
	return s.GetActiveCart(ctx, userID)
}

// GetCartItem retrieves a single cart line.
func (s *Store) GetCartItem(ctx context.Context, itemID uuid.UUID) (*models.CartItem, error) {
	var item models.CartItem
	err := s.db.GetContext(ctx, &item,
		"SELECT id, cart_id, product_id, quantity, created_at FROM cart_items WHERE id = $1", itemID)
	if err != nil {
		return nil, notFound(err, "Cart item with id %s not found", itemID)
	}
	return &item, nil
}

// UpsertCartItem sets the quantity of product in the cart, creating the line if needed.
func (s *Store) UpsertCartItem(ctx context.Context, cartID, productID uuid.UUID, quantity int) (*models.CartItem, error) {
	var item models.CartItem
	err := s.db.GetContext(ctx, &item, `
		INSERT INTO cart_items (id, cart_id, product_id, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT ON CONSTRAINT cart_items_cart_product_key
		DO UPDATE SET quantity = EXCLUDED.quantity
		RETURNING id, cart_id, product_id, quantity, created_at`,
		uuid.New(), cartID, productID, quantity)
	if err != nil {
		return nil, fmt.Errorf("failed to save cart item: %w", err)
	}
	s.touchCart(ctx, cartID)
	return &item, nil
}

// UpdateCartItemQuantity overwrites a line's quantity.
func (s *Store) UpdateCartItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE cart_items SET quantity = $1 WHERE id = $2", quantity, itemID)
	if err != nil {
		return fmt.Errorf("failed to update cart item: %w", err)
	}
	return requireRow(res, "Cart item with id %s not found", itemID)
}

// DeleteCartItem removes a line.
func (s *Store) DeleteCartItem(ctx context.Context, itemID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM cart_items WHERE id = $1", itemID)
	if err != nil {
		return fmt.Errorf("failed to delete cart item: %w", err)
	}
	return requireRow(res, "Cart item with id %s not found", itemID)
}

// ClearCart removes every line but keeps the cart.
func (s *Store) ClearCart(ctx context.Context, cartID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM cart_items WHERE cart_id = $1", cartID); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	s.touchCart(ctx, cartID)
	return nil
}

func (s *Store) touchCart(ctx context.Context, cartID uuid.UUID) {
	_, _ = s.db.ExecContext(ctx, "UPDATE carts SET updated_at = NOW() WHERE id = $1", cartID)
}
