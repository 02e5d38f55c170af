package api

import (
	"net/http"

	"orderly/internal/models"

	"github.com/gin-gonic/gin"
)

type checkoutRequest struct {
	ShippingAddress *models.ShippingAddress `json:"shipping_address"`
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

type listQuery struct {
	models.Page
	Status string `form:"status"`
}

// checkout turns the caller's active cart into an order.
func (h *Handler) checkout(c *gin.Context) {
	var req checkoutRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body: "+err.Error())
			return
		}
	}

	order, err := h.orders.Checkout(c.Request.Context(), principal(c).UserID, req.ShippingAddress)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) getOrder(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if !principal(c).CanViewOrder(order) {
		respondError(c, models.Forbiddenf("Not authorized to view this order"))
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if !principal(c).CanCancelOrder(order) {
		respondError(c, models.Forbiddenf("Not authorized to cancel this order"))
		return
	}

	order, err = h.orders.CancelOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) updateStatus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	status, err := models.ParseOrderStatus(req.Status)
	if err != nil {
		respondError(c, err)
		return
	}

	order, err := h.orders.UpdateStatus(c.Request.Context(), id, status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) assignDriver(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	order, err := h.orders.AssignDriver(c.Request.Context(), id, principal(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) listMyOrders(c *gin.Context) {
	q, status, ok := bindListQuery(c)
	if !ok {
		return
	}
	page, err := h.orders.ListUserOrders(c.Request.Context(), principal(c).UserID, status, q.Page)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) listAllOrders(c *gin.Context) {
	q, status, ok := bindListQuery(c)
	if !ok {
		return
	}
	page, err := h.orders.ListAllOrders(c.Request.Context(), status, q.Page)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) listAvailableOrders(c *gin.Context) {
	q, _, ok := bindListQuery(c)
	if !ok {
		return
	}
	page, err := h.orders.ListAvailableOrders(c.Request.Context(), q.Page)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) listMyDeliveries(c *gin.Context) {
	q, _, ok := bindListQuery(c)
	if !ok {
		return
	}
	page, err := h.orders.ListDriverOrders(c.Request.Context(), principal(c).UserID, q.Page)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// bindListQuery reads offset, limit and an optional status filter.
func bindListQuery(c *gin.Context) (listQuery, *models.OrderStatus, bool) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "Invalid query: "+err.Error())
		return q, nil, false
	}
	if q.Offset < 0 || q.Limit < 0 || q.Limit > models.MaxPageLimit {
		badRequest(c, "offset must be >= 0 and limit between 1 and 100")
		return q, nil, false
	}
	q.Page = q.Page.Normalize()

	if q.Status == "" {
		return q, nil, true
	}
	status, err := models.ParseOrderStatus(q.Status)
	if err != nil {
		respondError(c, err)
		return q, nil, false
	}
	return q, &status, true
}
