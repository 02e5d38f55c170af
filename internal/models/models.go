package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product represents a catalog entry. Only price, active flag and stock matter to ordering.
type Product struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	Description string          `db:"description" json:"description,omitempty"`
	Price       decimal.Decimal `db:"price" json:"price"`
	Stock       int             `db:"stock" json:"stock"`
	IsActive    bool            `db:"is_active" json:"is_active"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// CartStatusActive is the only stored cart status; checkout deletes the cart.
const CartStatusActive = "active"

// Cart is the mutable pre-order snapshot of a user's selections.
type Cart struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	UserID    uuid.UUID  `db:"user_id" json:"user_id"`
	Status    string     `db:"status" json:"status"`
	Items     []CartItem `db:"-" json:"items"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// CartItem is one (product, quantity) line. Product is populated on reads.
type CartItem struct {
	ID        uuid.UUID `db:"id" json:"id"`
	CartID    uuid.UUID `db:"cart_id" json:"cart_id"`
	ProductID uuid.UUID `db:"product_id" json:"product_id"`
	Quantity  int       `db:"quantity" json:"quantity"`
	Product   *Product  `db:"-" json:"product,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Total sums the current catalog price of every line.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		if item.Product == nil {
			continue
		}
		total = total.Add(LineSubtotal(item.Product.Price, item.Quantity))
	}
	return total
}

// Order is the immutable commercial record created from a cart.
type Order struct {
	ID              uuid.UUID        `db:"id" json:"id"`
	UserID          uuid.UUID        `db:"user_id" json:"user_id"`
	Status          OrderStatus      `db:"status" json:"status"`
	Total           decimal.Decimal  `db:"total" json:"total"`
	DriverID        *uuid.UUID       `db:"driver_id" json:"driver_id"`
	Items           []OrderItem      `db:"-" json:"items"`
	ShippingAddress *ShippingAddress `db:"-" json:"shipping_address"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
}

// OrderItem freezes the unit price at checkout time.
type OrderItem struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	OrderID   uuid.UUID       `db:"order_id" json:"order_id"`
	ProductID uuid.UUID       `db:"product_id" json:"product_id"`
	Quantity  int             `db:"quantity" json:"quantity"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Subtotal  decimal.Decimal `db:"subtotal" json:"subtotal"`
}

// ShippingAddress is written once with the order and never edited.
type ShippingAddress struct {
	ID            uuid.UUID `db:"id" json:"id"`
	OrderID       uuid.UUID `db:"order_id" json:"order_id"`
	RecipientName string    `db:"recipient_name" json:"recipient_name" binding:"required,max=100"`
	Phone         string    `db:"phone" json:"phone" binding:"required,max=20"`
	Street        string    `db:"street" json:"street" binding:"required,max=200"`
	City          string    `db:"city" json:"city" binding:"required,max=100"`
	State         string    `db:"state" json:"state" binding:"required,max=100"`
	PostalCode    string    `db:"postal_code" json:"postal_code" binding:"required,max=20"`
	Country       string    `db:"country" json:"country" binding:"required,max=100"`
}

// LineSubtotal is price × quantity rounded half-up to cents.
func LineSubtotal(price decimal.Decimal, quantity int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(quantity))).Round(2)
}

// IsAssignable reports whether a driver may still be attached to the order.
func (o *Order) IsAssignable() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusProcessing
}

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// Page is an offset/limit window over a list.
type Page struct {
	Offset int `form:"offset" json:"offset"`
	Limit  int `form:"limit" json:"limit"`
}

// Normalize clamps the window into its allowed range.
func (p Page) Normalize() Page {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

// OrderPage is the paginated envelope returned by list endpoints.
type OrderPage struct {
	Items   []Order `json:"items"`
	Total   int     `json:"total"`
	Offset  int     `json:"offset"`
	Limit   int     `json:"limit"`
	HasMore bool    `json:"has_more"`
}

// NewOrderPage builds the envelope for one window of a list of total rows.
func NewOrderPage(items []Order, total int, page Page) OrderPage {
	if items == nil {
		items = []Order{}
	}
	return OrderPage{
		Items:   items,
		Total:   total,
		Offset:  page.Offset,
		Limit:   page.Limit,
		HasMore: page.Offset+len(items) < total,
	}
}
