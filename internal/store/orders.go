package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"orderly/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const orderColumns = "id, user_id, status, total, driver_id, created_at, updated_at"

// OrderFilter narrows ListOrders. Zero values mean "any".
type OrderFilter struct {
	UserID     *uuid.UUID
	DriverID   *uuid.UUID
	Unassigned bool
	Statuses   []models.OrderStatus
}

func insertOrder(ctx context.Context, tx *sqlx.Tx, order *models.Order) error {
	err := tx.QueryRowxContext(ctx, `
		INSERT INTO orders (id, user_id, status, total, driver_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		order.ID, order.UserID, order.Status, order.Total, order.DriverID).
		Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, quantity, price, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			item.ID, item.OrderID, item.ProductID, item.Quantity, item.Price, item.Subtotal)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	if addr := order.ShippingAddress; addr != nil {
		addr.OrderID = order.ID
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO shipping_addresses
				(id, order_id, recipient_name, phone, street, city, state, postal_code, country)
			VALUES
				(:id, :order_id, :recipient_name, :phone, :street, :city, :state, :postal_code, :country)`,
			addr)
		if err != nil {
			return fmt.Errorf("failed to insert shipping address: %w", err)
		}
	}
	return nil
}

func loadOrderItems(ctx context.Context, q sqlx.QueryerContext, orderIDs []uuid.UUID) (map[uuid.UUID][]models.OrderItem, error) {
	byOrder := make(map[uuid.UUID][]models.OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return byOrder, nil
	}

	query, args, err := sqlx.In(`
		SELECT id, order_id, product_id, quantity, price, subtotal
		FROM order_items WHERE order_id IN (?) ORDER BY order_id, id`, orderIDs)
	if err != nil {
		return nil, err
	}

	var items []models.OrderItem
	if err := sqlx.SelectContext(ctx, q, &items, sqlx.Rebind(sqlx.DOLLAR, query), args...); err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}
	for _, item := range items {
		byOrder[item.OrderID] = append(byOrder[item.OrderID], item)
	}
	return byOrder, nil
}

// GetOrder retrieves an order with its lines and shipping address
func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "Order with id %s not found", id)
	}

	items, err := loadOrderItems(ctx, s.db, []uuid.UUID{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]

	var addr models.ShippingAddress
	err = s.db.GetContext(ctx, &addr, `
		SELECT id, order_id, recipient_name, phone, street, city, state, postal_code, country
		FROM shipping_addresses WHERE order_id = $1`, order.ID)
	switch {
	case err == nil:
		order.ShippingAddress = &addr
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, fmt.Errorf("failed to load shipping address: %w", err)
	}
	return &order, nil
}

// ListOrders returns one page of orders matching f, newest first, and the total match count.
func (s *Store) ListOrders(ctx context.Context, f OrderFilter, page models.Page) ([]models.Order, int, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.UserID != nil {
		where = append(where, "user_id = "+arg(*f.UserID))
	}
	if f.DriverID != nil {
		where = append(where, "driver_id = "+arg(*f.DriverID))
	}
	if f.Unassigned {
		where = append(where, "driver_id IS NULL")
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		where = append(where, "status = ANY("+arg(pq.Array(statuses))+")")
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM orders"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	query := "SELECT " + orderColumns + " FROM orders" + clause +
		" ORDER BY created_at DESC, id LIMIT " + arg(page.Limit) + " OFFSET " + arg(page.Offset)

	var orders []models.Order
	if err := s.db.SelectContext(ctx, &orders, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}

	ids := make([]uuid.UUID, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
	}
	items, err := loadOrderItems(ctx, s.db, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, total, nil
}
