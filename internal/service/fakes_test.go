package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"orderly/internal/models"
	"orderly/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// memStore is an in-memory store. WithTx serializes transactions behind one
// mutex and restores a snapshot when fn fails, which gives the same
// atomicity and row-lock serialization the engine relies on.
type memStore struct {
	mu       sync.Mutex
	products map[uuid.UUID]models.Product
	carts    map[uuid.UUID]models.Cart
	orders   map[uuid.UUID]models.Order

	failDeleteCart bool
}

func newMemStore() *memStore {
	return &memStore{
		products: make(map[uuid.UUID]models.Product),
		carts:    make(map[uuid.UUID]models.Cart),
		orders:   make(map[uuid.UUID]models.Order),
	}
}

func (m *memStore) addProduct(price string, stock int, active bool) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.products[id] = models.Product{
		ID:       id,
		Name:     "product-" + id.String()[:8],
		Price:    decimal.RequireFromString(price),
		Stock:    stock,
		IsActive: active,
	}
	return id
}

func (m *memStore) addCart(userID uuid.UUID, lines map[uuid.UUID]int) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart := models.Cart{ID: uuid.New(), UserID: userID, Status: models.CartStatusActive}
	for pid, qty := range lines {
		cart.Items = append(cart.Items, models.CartItem{ID: uuid.New(), CartID: cart.ID, ProductID: pid, Quantity: qty})
	}
	m.carts[cart.ID] = cart
	return cart.ID
}

func (m *memStore) stock(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].Stock
}

func (m *memStore) hasCart(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.carts[id]
	return ok
}

func (m *memStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

type memSnapshot struct {
	products map[uuid.UUID]models.Product
	carts    map[uuid.UUID]models.Cart
	orders   map[uuid.UUID]models.Order
}

func (m *memStore) snapshot() memSnapshot {
	s := memSnapshot{
		products: make(map[uuid.UUID]models.Product, len(m.products)),
		carts:    make(map[uuid.UUID]models.Cart, len(m.carts)),
		orders:   make(map[uuid.UUID]models.Order, len(m.orders)),
	}
	for k, v := range m.products {
		s.products[k] = v
	}
	for k, v := range m.carts {
		v.Items = append([]models.CartItem(nil), v.Items...)
		s.carts[k] = v
	}
	for k, v := range m.orders {
		v.Items = append([]models.OrderItem(nil), v.Items...)
		s.orders[k] = v
	}
	return s
}

func (m *memStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&memTx{m: m}); err != nil {
		m.products, m.carts, m.orders = snap.products, snap.carts, snap.orders
		return err
	}
	return nil
}

func (m *memStore) GetOrder(_ context.Context, id uuid.UUID) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, models.NotFoundf("Order with id %s not found", id)
	}
	return cloneOrder(o), nil
}

func (m *memStore) ListOrders(_ context.Context, f store.OrderFilter, page models.Page) ([]models.Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []models.Order
	for _, o := range m.orders {
		if f.UserID != nil && o.UserID != *f.UserID {
			continue
		}
		if f.DriverID != nil && (o.DriverID == nil || *o.DriverID != *f.DriverID) {
			continue
		}
		if f.Unassigned && o.DriverID != nil {
			continue
		}
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, o.Status) {
			continue
		}
		matched = append(matched, *cloneOrder(o))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	if page.Offset >= total {
		return nil, total, nil
	}
	end := page.Offset + page.Limit
	if end > total {
		end = total
	}
	return matched[page.Offset:end], total, nil
}

func containsStatus(list []models.OrderStatus, s models.OrderStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (m *memStore) GetActiveCart(_ context.Context, userID uuid.UUID) (*models.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeCart(userID)
}

func (m *memStore) activeCart(userID uuid.UUID) (*models.Cart, error) {
	for _, c := range m.carts {
		if c.UserID == userID && c.Status == models.CartStatusActive {
			return m.hydrate(c), nil
		}
	}
	return nil, models.NotFoundf("No active cart found")
}

func (m *memStore) hydrate(c models.Cart) *models.Cart {
	out := c
	out.Items = make([]models.CartItem, len(c.Items))
	for i, item := range c.Items {
		if p, ok := m.products[item.ProductID]; ok {
			item.Product = &p
		}
		out.Items[i] = item
	}
	return &out
}

func (m *memStore) CreateCart(_ context.Context, userID uuid.UUID) (*models.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, err := m.activeCart(userID); err == nil {
		return c, nil
	}
	c := models.Cart{ID: uuid.New(), UserID: userID, Status: models.CartStatusActive, CreatedAt: time.Now()}
	m.carts[c.ID] = c
	return m.hydrate(c), nil
}

func (m *memStore) GetCartItem(_ context.Context, itemID uuid.UUID) (*models.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.carts {
		for _, item := range c.Items {
			if item.ID == itemID {
				return &item, nil
			}
		}
	}
	return nil, models.NotFoundf("Cart item with id %s not found", itemID)
}

func (m *memStore) UpsertCartItem(_ context.Context, cartID, productID uuid.UUID, quantity int) (*models.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.carts[cartID]
	for i, item := range c.Items {
		if item.ProductID == productID {
			c.Items[i].Quantity = quantity
			m.carts[cartID] = c
			out := c.Items[i]
			return &out, nil
		}
	}
	item := models.CartItem{ID: uuid.New(), CartID: cartID, ProductID: productID, Quantity: quantity}
	c.Items = append(c.Items, item)
	m.carts[cartID] = c
	return &item, nil
}

func (m *memStore) UpdateCartItemQuantity(_ context.Context, itemID uuid.UUID, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.carts {
		for i, item := range c.Items {
			if item.ID == itemID {
				c.Items[i].Quantity = quantity
				m.carts[id] = c
				return nil
			}
		}
	}
	return models.NotFoundf("Cart item with id %s not found", itemID)
}

func (m *memStore) DeleteCartItem(_ context.Context, itemID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.carts {
		for i, item := range c.Items {
			if item.ID == itemID {
				c.Items = append(c.Items[:i:i], c.Items[i+1:]...)
				m.carts[id] = c
				return nil
			}
		}
	}
	return models.NotFoundf("Cart item with id %s not found", itemID)
}

func (m *memStore) ClearCart(_ context.Context, cartID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.carts[cartID]
	c.Items = nil
	m.carts[cartID] = c
	return nil
}

func (m *memStore) GetProduct(_ context.Context, id uuid.UUID) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, models.NotFoundf("Product with id %s not found", id)
	}
	return &p, nil
}

func cloneOrder(o models.Order) *models.Order {
	o.Items = append([]models.OrderItem(nil), o.Items...)
	if o.DriverID != nil {
		d := *o.DriverID
		o.DriverID = &d
	}
	if o.ShippingAddress != nil {
		a := *o.ShippingAddress
		o.ShippingAddress = &a
	}
	return &o
}

// memTx runs with memStore.mu already held.
type memTx struct {
	m *memStore
}

func (t *memTx) GetCart(_ context.Context, cartID uuid.UUID) (*models.Cart, error) {
	c, ok := t.m.carts[cartID]
	if !ok {
		return nil, models.NotFoundf("Cart with id %s not found", cartID)
	}
	return t.m.hydrate(c), nil
}

func (t *memTx) LockProduct(_ context.Context, productID uuid.UUID) (*models.Product, error) {
	p, ok := t.m.products[productID]
	if !ok {
		return nil, models.NotFoundf("Product with id %s not found", productID)
	}
	return &p, nil
}

func (t *memTx) UpdateProductStock(_ context.Context, productID uuid.UUID, stock int) error {
	p := t.m.products[productID]
	p.Stock = stock
	t.m.products[productID] = p
	return nil
}

func (t *memTx) InsertOrder(_ context.Context, order *models.Order) error {
	now := time.Now()
	order.CreatedAt, order.UpdatedAt = now, now
	t.m.orders[order.ID] = *cloneOrder(*order)
	return nil
}

func (t *memTx) DeleteCart(_ context.Context, cartID uuid.UUID) error {
	if t.m.failDeleteCart {
		return context.DeadlineExceeded
	}
	if _, ok := t.m.carts[cartID]; !ok {
		return models.NotFoundf("Cart with id %s not found", cartID)
	}
	delete(t.m.carts, cartID)
	return nil
}

func (t *memTx) LockOrder(_ context.Context, orderID uuid.UUID) (*models.Order, error) {
	o, ok := t.m.orders[orderID]
	if !ok {
		return nil, models.NotFoundf("Order with id %s not found", orderID)
	}
	return cloneOrder(o), nil
}

func (t *memTx) UpdateOrderStatus(_ context.Context, orderID uuid.UUID, status models.OrderStatus) error {
	o := t.m.orders[orderID]
	o.Status = status
	o.UpdatedAt = time.Now()
	t.m.orders[orderID] = o
	return nil
}

func (t *memTx) SetOrderDriver(_ context.Context, orderID, driverID uuid.UUID) error {
	o := t.m.orders[orderID]
	o.DriverID = &driverID
	t.m.orders[orderID] = o
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	ok     bool
	events []*models.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e *models.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ok {
		p.events = append(p.events, e)
	}
	return p.ok
}

func (p *recordingPublisher) byType(eventType string) []*models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*models.Event
	for _, e := range p.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type recordingCache struct {
	mu          sync.Mutex
	invalidated []uuid.UUID
}

func (c *recordingCache) Invalidate(_ context.Context, ids ...uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, ids...)
}

type recordingBroadcaster struct {
	mu       sync.Mutex
	messages []models.StatusMessage
}

func (b *recordingBroadcaster) Broadcast(_ uuid.UUID, message any) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := message.(models.StatusMessage); ok {
		b.messages = append(b.messages, m)
	}
	return 1
}
