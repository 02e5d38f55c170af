package store

import (
	"context"
	"fmt"
	"time"

	"orderly/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string, maxOpenConns int) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if maxOpenConns <= 0 {
		maxOpenConns = 25
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Tx is the unit of work used by the order lifecycle. Every method runs inside
// one database transaction; row locks are held until WithTx returns.
type Tx interface {
	GetCart(ctx context.Context, cartID uuid.UUID) (*models.Cart, error)
	LockProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error)
	UpdateProductStock(ctx context.Context, productID uuid.UUID, stock int) error
	InsertOrder(ctx context.Context, order *models.Order) error
	DeleteCart(ctx context.Context, cartID uuid.UUID) error
	LockOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status models.OrderStatus) error
	SetOrderDriver(ctx context.Context, orderID, driverID uuid.UUID) error
}

// WithTx runs fn in a transaction, committing only when fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", models.ErrTransient, err)
	}
	defer tx.Rollback()

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type txStore struct {
	tx *sqlx.Tx
}

// GetCart locks the cart row, so a second checkout of the same cart waits
// for the first and then finds it gone.
func (t *txStore) GetCart(ctx context.Context, cartID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := t.tx.GetContext(ctx, &cart,
		"SELECT "+cartColumns+" FROM carts WHERE id = $1 FOR UPDATE", cartID)
	if err != nil {
		return nil, notFound(err, "Cart with id %s not found", cartID)
	}

	cart.Items, err = loadCartItems(ctx, t.tx, cart.ID)
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

func (t *txStore) LockProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := t.tx.GetContext(ctx, &product,
		"SELECT "+productColumns+" FROM products WHERE id = $1 FOR UPDATE", productID)
	if err != nil {
		return nil, notFound(err, "Product with id %s not found", productID)
	}
	return &product, nil
}

func (t *txStore) UpdateProductStock(ctx context.Context, productID uuid.UUID, stock int) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE products SET stock = $1, updated_at = NOW() WHERE id = $2",
		stock, productID)
	if err != nil {
		return fmt.Errorf("failed to update stock: %w", err)
	}
	return nil
}

func (t *txStore) InsertOrder(ctx context.Context, order *models.Order) error {
	return insertOrder(ctx, t.tx, order)
}

func (t *txStore) DeleteCart(ctx context.Context, cartID uuid.UUID) error {
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM cart_items WHERE cart_id = $1", cartID); err != nil {
		return fmt.Errorf("failed to delete cart items: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, "DELETE FROM carts WHERE id = $1", cartID)
	if err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	return requireRow(res, "Cart with id %s not found", cartID)
}

func (t *txStore) LockOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := t.tx.GetContext(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if err != nil {
		return nil, notFound(err, "Order with id %s not found", orderID)
	}

	items, err := loadOrderItems(ctx, t.tx, []uuid.UUID{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]
	return &order, nil
}

func (t *txStore) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status models.OrderStatus) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	return nil
}

func (t *txStore) SetOrderDriver(ctx context.Context, orderID, driverID uuid.UUID) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE orders SET driver_id = $1, updated_at = NOW() WHERE id = $2",
		driverID, orderID)
	if err != nil {
		return fmt.Errorf("failed to assign driver: %w", err)
	}
	return nil
}
