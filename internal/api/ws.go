package api

import (
	"orderly/internal/hub"
	"orderly/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// orderUpdates streams status changes for one order. The token and the
// caller's access are checked after the upgrade so refusals arrive as a
// policy-violation close frame.
func (h *Handler) orderUpdates(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		return
	}
	logger := util.LoggerFromContext(c.Request.Context())

	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		hub.ClosePolicyViolation(ws, "invalid order id")
		return
	}

	p, err := h.auth.ParseToken(c.Query("token"))
	if err != nil {
		hub.ClosePolicyViolation(ws, "authentication failed")
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil || !p.CanViewOrder(order) {
		logger.Info("WebSocket subscription refused",
			zap.String("order_id", orderID.String()),
			zap.String("user_id", p.UserID.String()))
		hub.ClosePolicyViolation(ws, "not authorized for this order")
		return
	}

	logger.Info("WebSocket subscribed",
		zap.String("order_id", orderID.String()),
		zap.String("user_id", p.UserID.String()))
	h.hub.NewClient(ws).Run(p.UserID, orderID)
}
