package api

import (
	"context"
	"net/http"
	"time"

	"orderly/internal/hub"
	"orderly/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OrderService is the order lifecycle as seen by HTTP callers.
type OrderService interface {
	Checkout(ctx context.Context, userID uuid.UUID, address *models.ShippingAddress) (*models.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.OrderStatus) (*models.Order, error)
	CancelOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	AssignDriver(ctx context.Context, id, driverID uuid.UUID) (*models.Order, error)
	ListAvailableOrders(ctx context.Context, page models.Page) (models.OrderPage, error)
	ListDriverOrders(ctx context.Context, driverID uuid.UUID, page models.Page) (models.OrderPage, error)
	ListUserOrders(ctx context.Context, userID uuid.UUID, status *models.OrderStatus, page models.Page) (models.OrderPage, error)
	ListAllOrders(ctx context.Context, status *models.OrderStatus, page models.Page) (models.OrderPage, error)
}

type CartService interface {
	GetOrCreateCart(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
	AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*models.Cart, error)
	UpdateItem(ctx context.Context, userID, itemID uuid.UUID, quantity int) (*models.Cart, error)
	RemoveItem(ctx context.Context, userID, itemID uuid.UUID) (*models.Cart, error)
	ClearCart(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
}

// ReadinessCheck reports whether one dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	orders   OrderService
	carts    CartService
	auth     *Authenticator
	hub      *hub.Hub
	checks   map[string]ReadinessCheck
	upgrader websocket.Upgrader
}

// NewHandler creates a new HTTP handler
func NewHandler(orders OrderService, carts CartService, auth *Authenticator, h *hub.Hub, checks map[string]ReadinessCheck) *Handler {
	return &Handler{
		orders: orders,
		carts:  carts,
		auth:   auth,
		hub:    h,
		checks: checks,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")

	// authenticates through the query string after the upgrade
	v1.GET("/orders/ws/:id", h.orderUpdates)

	authed := v1.Group("", h.authenticate())
	{
		authed.POST("/orders", h.checkout)
		authed.GET("/orders/me", h.listMyOrders)
		authed.GET("/orders", allow(models.Principal.CanListAllOrders), h.listAllOrders)
		authed.GET("/orders/available", allow(models.Principal.CanDeliver), h.listAvailableOrders)
		authed.GET("/orders/my-deliveries", allow(models.Principal.CanDeliver), h.listMyDeliveries)
		authed.GET("/orders/:id", h.getOrder)
		authed.PATCH("/orders/:id/cancel", h.cancelOrder)
		authed.PATCH("/orders/:id/status", allow(models.Principal.CanSetStatus), h.updateStatus)
		authed.PATCH("/orders/:id/assign", allow(models.Principal.CanDeliver), h.assignDriver)

		authed.GET("/cart", h.getCart)
		authed.POST("/cart/items", h.addCartItem)
		authed.PATCH("/cart/items/:id", h.updateCartItem)
		authed.DELETE("/cart/items/:id", h.removeCartItem)
		authed.DELETE("/cart", h.clearCart)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when every dependency answers.
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not ready"
	}
	c.JSON(status, gin.H{
		"status": state,
		"checks": results,
		"time":   time.Now().Unix(),
	})
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "Invalid id")
		return uuid.Nil, false
	}
	return id, true
}
