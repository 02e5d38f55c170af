package api

import (
	"errors"
	"net/http"

	"orderly/internal/models"
	"orderly/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrValidation),
		errors.Is(err, models.ErrInvalidState),
		errors.Is(err, models.ErrInsufficientStock),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrDriverAlreadyAssigned):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {"detail": ...}. Server errors hide their cause.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	detail := err.Error()

	if status >= http.StatusInternalServerError {
		util.LoggerFromContext(c.Request.Context()).Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		if status == http.StatusServiceUnavailable {
			detail = "Service temporarily unavailable"
		} else {
			detail = "Internal server error"
		}
	}
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

func badRequest(c *gin.Context, detail string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": detail})
}
