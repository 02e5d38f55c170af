package api

import (
	"net/http"

	"orderly/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// cartResponse adds the priced total to the stored cart.
type cartResponse struct {
	*models.Cart
	Total decimal.Decimal `json:"total"`
}

func respondCart(c *gin.Context, status int, cart *models.Cart) {
	c.JSON(status, cartResponse{Cart: cart, Total: cart.Total()})
}

type addItemRequest struct {
	ProductID uuid.UUID `json:"product_id" binding:"required"`
	Quantity  int       `json:"quantity" binding:"required,min=1"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity" binding:"required,min=1"`
}

func (h *Handler) getCart(c *gin.Context) {
	cart, err := h.carts.GetOrCreateCart(c.Request.Context(), principal(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondCart(c, http.StatusOK, cart)
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	cart, err := h.carts.AddItem(c.Request.Context(), principal(c).UserID, req.ProductID, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	respondCart(c, http.StatusCreated, cart)
}

func (h *Handler) updateCartItem(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req updateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	cart, err := h.carts.UpdateItem(c.Request.Context(), principal(c).UserID, id, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	respondCart(c, http.StatusOK, cart)
}

func (h *Handler) removeCartItem(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	cart, err := h.carts.RemoveItem(c.Request.Context(), principal(c).UserID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondCart(c, http.StatusOK, cart)
}

func (h *Handler) clearCart(c *gin.Context) {
	cart, err := h.carts.ClearCart(c.Request.Context(), principal(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondCart(c, http.StatusOK, cart)
}
