package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"orderly/internal/models"
	"orderly/internal/store"
	"orderly/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderRepository is the persistence the lifecycle engine needs.
type OrderRepository interface {
	WithTx(ctx context.Context, fn func(tx store.Tx) error) error
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListOrders(ctx context.Context, f store.OrderFilter, page models.Page) ([]models.Order, int, error)
	GetActiveCart(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
}

// EventPublisher hands events to the broker. It reports success and never blocks indefinitely.
type EventPublisher interface {
	Publish(ctx context.Context, event *models.Event) bool
}

// ProductCache drops stale catalog entries after stock changes.
type ProductCache interface {
	Invalidate(ctx context.Context, ids ...uuid.UUID)
}

// Broadcaster pushes a message to live subscribers of an order.
type Broadcaster interface {
	Broadcast(orderID uuid.UUID, message any) int
}

// OrderService owns the order lifecycle: checkout, status changes,
// cancellation with stock restitution, and driver assignment.
type OrderService struct {
	repo        OrderRepository
	publisher   EventPublisher
	cache       ProductCache
	broadcaster Broadcaster
	logger      *zap.Logger
}

// NewOrderService creates a new order service. publisher, cache and broadcaster may be nil.
func NewOrderService(
	repo OrderRepository,
	publisher EventPublisher,
	cache ProductCache,
	broadcaster Broadcaster,
) *OrderService {
	return &OrderService{
		repo:        repo,
		publisher:   publisher,
		cache:       cache,
		broadcaster: broadcaster,
		logger:      util.GetLogger(),
	}
}

// Checkout converts the user's active cart into an order and announces it.
func (s *OrderService) Checkout(ctx context.Context, userID uuid.UUID, address *models.ShippingAddress) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Checkout")
	defer span.End()

	cart, err := s.repo.GetActiveCart(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		util.OrdersFailedTotal.WithLabelValues("no_cart").Inc()
		return nil, models.InvalidStatef("No active cart found")
	}
	if err != nil {
		return nil, err
	}

	order, err := s.CreateOrder(ctx, cart.ID, userID, address)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	s.publishOrderCreated(ctx, order)
	return order, nil
}

// CreateOrder runs the cart-to-order transaction: validate lines, freeze
// prices, insert the order, decrement stock under row locks, delete the cart.
func (s *OrderService) CreateOrder(ctx context.Context, cartID, userID uuid.UUID, address *models.ShippingAddress) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		util.CheckoutLatency.Observe(time.Since(start).Seconds())
	}()

	var order *models.Order
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		cart, err := tx.GetCart(ctx, cartID)
		if err != nil {
			return err
		}
		if cart.UserID != userID {
			return models.InvalidStatef("Cart does not belong to this user")
		}
		if cart.Status != models.CartStatusActive {
			return models.InvalidStatef("Cart is not active")
		}
		if len(cart.Items) == 0 {
			return models.InvalidStatef("Cannot create order from empty cart")
		}

		draft, err := draftOrder(cart, address)
		if err != nil {
			return err
		}
		if err := tx.InsertOrder(ctx, draft); err != nil {
			return err
		}
		if err := adjustStock(ctx, tx, draft.Items, -1); err != nil {
			return err
		}
		if err := tx.DeleteCart(ctx, cart.ID); err != nil {
			return err
		}
		order = draft
		return nil
	})
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues(failureReason(err)).Inc()
		util.RecordError(span, err)
		s.logger.Info("Checkout rejected",
			zap.String("cart_id", cartID.String()),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return nil, err
	}

	util.OrdersCreatedTotal.Inc()
	s.invalidateProducts(ctx, order.Items)
	s.logger.Info("Order created",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", userID.String()),
		zap.String("total", order.Total.StringFixed(2)),
		zap.Int("lines", len(order.Items)))

	return order, nil
}

// draftOrder validates the cart lines and freezes their prices.
func draftOrder(cart *models.Cart, address *models.ShippingAddress) (*models.Order, error) {
	order := &models.Order{
		ID:     uuid.New(),
		UserID: cart.UserID,
		Status: models.OrderStatusPending,
		Total:  decimal.Zero,
		Items:  make([]models.OrderItem, 0, len(cart.Items)),
	}

	for _, line := range cart.Items {
		p := line.Product
		if p == nil {
			return nil, models.NotFoundf("Product with id %s not found", line.ProductID)
		}
		if !p.IsActive {
			return nil, models.InvalidStatef("Product %s is no longer available", p.Name)
		}
		if p.Stock < line.Quantity {
			return nil, &models.InsufficientStockError{ProductID: p.ID, Available: p.Stock, Requested: line.Quantity}
		}

		subtotal := models.LineSubtotal(p.Price, line.Quantity)
		order.Items = append(order.Items, models.OrderItem{
			ID:        uuid.New(),
			OrderID:   order.ID,
			ProductID: p.ID,
			Quantity:  line.Quantity,
			Price:     p.Price,
			Subtotal:  subtotal,
		})
		order.Total = order.Total.Add(subtotal)
	}

	if address != nil {
		addr := *address
		addr.ID = uuid.New()
		addr.OrderID = order.ID
		order.ShippingAddress = &addr
	}
	return order, nil
}

// adjustStock locks each product row in id order and moves its stock by
// sign × quantity. A decrement below zero fails with InsufficientStock.
func adjustStock(ctx context.Context, tx store.Tx, items []models.OrderItem, sign int) error {
	qty := make(map[uuid.UUID]int, len(items))
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		if _, seen := qty[item.ProductID]; !seen {
			ids = append(ids, item.ProductID)
		}
		qty[item.ProductID] += item.Quantity
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	for _, id := range ids {
		product, err := tx.LockProduct(ctx, id)
		if err != nil {
			return err
		}
		next := product.Stock + sign*qty[id]
		if next < 0 {
			util.StockReservationsFailed.WithLabelValues("insufficient_stock").Inc()
			return &models.InsufficientStockError{ProductID: id, Available: product.Stock, Requested: qty[id]}
		}
		if err := tx.UpdateProductStock(ctx, id, next); err != nil {
			return err
		}
	}
	return nil
}

// GetOrder returns an order with lines and shipping address.
func (s *OrderService) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	return s.repo.GetOrder(ctx, id)
}

// UpdateStatus moves an order along the lifecycle. Cancellation always goes
// through CancelOrder so stock is returned.
func (s *OrderService) UpdateStatus(ctx context.Context, id uuid.UUID, status models.OrderStatus) (*models.Order, error) {
	if status == models.OrderStatusCancelled {
		return s.CancelOrder(ctx, id)
	}

	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatus")
	defer span.End()

	var from models.OrderStatus
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		order, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		from = order.Status
		if err := models.ValidateTransition(order.Status, status); err != nil {
			return err
		}
		return tx.UpdateOrderStatus(ctx, id, status)
	})
	if err != nil {
		s.recordTransition(from, status, err)
		util.RecordError(span, err)
		return nil, err
	}
	s.recordTransition(from, status, nil)

	return s.afterChange(ctx, id)
}

// CancelOrder cancels an order and returns every line's quantity to stock.
func (s *OrderService) CancelOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder")
	defer span.End()

	var (
		from  models.OrderStatus
		items []models.OrderItem
	)
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		order, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		from = order.Status
		if err := models.ValidateTransition(order.Status, models.OrderStatusCancelled); err != nil {
			return err
		}
		if err := adjustStock(ctx, tx, order.Items, +1); err != nil {
			return err
		}
		items = order.Items
		return tx.UpdateOrderStatus(ctx, id, models.OrderStatusCancelled)
	})
	if err != nil {
		s.recordTransition(from, models.OrderStatusCancelled, err)
		util.RecordError(span, err)
		return nil, err
	}
	s.recordTransition(from, models.OrderStatusCancelled, nil)
	util.OrdersCancelledTotal.Inc()
	s.invalidateProducts(ctx, items)

	return s.afterChange(ctx, id)
}

// AssignDriver attaches a driver to an order that is pending or processing.
func (s *OrderService) AssignDriver(ctx context.Context, id, driverID uuid.UUID) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.AssignDriver")
	defer span.End()

	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		order, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		if !order.IsAssignable() {
			return models.InvalidStatef("Order is not in a valid status for assignment")
		}
		if order.DriverID != nil {
			return models.ErrDriverAlreadyAssigned
		}
		return tx.SetOrderDriver(ctx, id, driverID)
	})
	if err != nil {
		util.DriverAssignmentsTotal.WithLabelValues(failureReason(err)).Inc()
		util.RecordError(span, err)
		return nil, err
	}
	util.DriverAssignmentsTotal.WithLabelValues("assigned").Inc()
	s.logger.Info("Driver assigned",
		zap.String("order_id", id.String()),
		zap.String("driver_id", driverID.String()))

	return s.afterChange(ctx, id)
}

// ListAvailableOrders lists unassigned orders a driver can still claim.
func (s *OrderService) ListAvailableOrders(ctx context.Context, page models.Page) (models.OrderPage, error) {
	return s.list(ctx, "OrderService.ListAvailableOrders", store.OrderFilter{
		Unassigned: true,
		Statuses:   []models.OrderStatus{models.OrderStatusPending, models.OrderStatusProcessing},
	}, page)
}

// ListDriverOrders lists orders assigned to driverID.
func (s *OrderService) ListDriverOrders(ctx context.Context, driverID uuid.UUID, page models.Page) (models.OrderPage, error) {
	return s.list(ctx, "OrderService.ListDriverOrders", store.OrderFilter{DriverID: &driverID}, page)
}

// ListUserOrders lists a customer's orders, optionally by status.
func (s *OrderService) ListUserOrders(ctx context.Context, userID uuid.UUID, status *models.OrderStatus, page models.Page) (models.OrderPage, error) {
	f := store.OrderFilter{UserID: &userID}
	if status != nil {
		f.Statuses = []models.OrderStatus{*status}
	}
	return s.list(ctx, "OrderService.ListUserOrders", f, page)
}

// ListAllOrders lists every order, optionally by status.
func (s *OrderService) ListAllOrders(ctx context.Context, status *models.OrderStatus, page models.Page) (models.OrderPage, error) {
	var f store.OrderFilter
	if status != nil {
		f.Statuses = []models.OrderStatus{*status}
	}
	return s.list(ctx, "OrderService.ListAllOrders", f, page)
}

func (s *OrderService) list(ctx context.Context, spanName string, f store.OrderFilter, page models.Page) (models.OrderPage, error) {
	ctx, span := util.StartSpan(ctx, spanName)
	defer span.End()

	page = page.Normalize()
	orders, total, err := s.repo.ListOrders(ctx, f, page)
	if err != nil {
		util.RecordError(span, err)
		return models.OrderPage{}, err
	}
	return models.NewOrderPage(orders, total, page), nil
}

// afterChange reloads a committed order and pushes it to live subscribers.
func (s *OrderService) afterChange(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload order %s: %w", id, err)
	}
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(order.ID, models.NewStatusMessage(order))
	}
	return order, nil
}

func (s *OrderService) publishOrderCreated(ctx context.Context, order *models.Order) {
	if s.publisher == nil {
		return
	}

	event, err := models.NewEvent(
		models.EventTypeOrderCreated,
		models.ProducerOrders,
		util.CorrelationID(ctx),
		models.NewOrderCreatedPayload(order),
	)
	if err != nil {
		s.logger.Error("Failed to build order.created event", zap.String("order_id", order.ID.String()), zap.Error(err))
		return
	}

	if !s.publisher.Publish(ctx, event) {
		s.logger.Warn("order.created was not published",
			zap.String("order_id", order.ID.String()),
			zap.String("event_id", event.EventID.String()))
	}
}

func (s *OrderService) invalidateProducts(ctx context.Context, items []models.OrderItem) {
	if s.cache == nil || len(items) == 0 {
		return
	}
	ids := make([]uuid.UUID, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}
	s.cache.Invalidate(ctx, ids...)
}

func (s *OrderService) recordTransition(from, to models.OrderStatus, err error) {
	result := "ok"
	if err != nil {
		result = failureReason(err)
	}
	util.OrderTransitionsTotal.WithLabelValues(string(from), string(to), result).Inc()
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, models.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, models.ErrDriverAlreadyAssigned):
		return "already_assigned"
	case errors.Is(err, models.ErrInvalidState):
		return "invalid_state"
	default:
		return "error"
	}
}
