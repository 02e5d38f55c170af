package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"orderly/internal/models"
	"orderly/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const principalKey = "principal"

// requestID propagates or assigns X-Request-ID and stores it on the request context.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := util.WithCorrelationID(c.Request.Context(), c.GetHeader(util.CorrelationHeader))
		c.Request = c.Request.WithContext(ctx)
		c.Header(util.CorrelationHeader, util.CorrelationID(ctx))
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		util.LoggerFromContext(c.Request.Context()).Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

// authenticate requires a valid bearer token.
func (h *Handler) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Missing bearer token"})
			return
		}

		p, err := h.auth.ParseToken(strings.TrimSpace(token))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": err.Error()})
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

// allow admits only callers for whom can holds.
func allow(can func(models.Principal) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !can(principal(c)) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "Insufficient permissions"})
			return
		}
		c.Next()
	}
}

func principal(c *gin.Context) models.Principal {
	p, _ := c.MustGet(principalKey).(models.Principal)
	return p
}
