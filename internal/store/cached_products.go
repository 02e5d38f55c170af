package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"orderly/internal/models"
	"orderly/internal/redisclient"
	"orderly/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProductSource is the authoritative product lookup behind the cache.
type ProductSource interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
}

// CachedProducts is a read-through Redis cache in front of the products table.
// Cache failures fall back to the source.
type CachedProducts struct {
	source ProductSource
	cache  *redisclient.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedProducts(source ProductSource, cache *redisclient.Client, ttl time.Duration) *CachedProducts {
	return &CachedProducts{
		source: source,
		cache:  cache,
		ttl:    ttl,
		logger: util.GetLogger(),
	}
}

func productKey(id uuid.UUID) string {
	return fmt.Sprintf("product:%s", id)
}

// GetProduct returns the cached product or loads and caches it.
func (c *CachedProducts) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var cached models.Product
	err := c.cache.GetJSON(ctx, productKey(id), &cached)
	if err == nil {
		util.CacheRequestsTotal.WithLabelValues("hit").Inc()
		return &cached, nil
	}
	if errors.Is(err, redisclient.ErrCacheMiss) {
		util.CacheRequestsTotal.WithLabelValues("miss").Inc()
	} else {
		util.CacheRequestsTotal.WithLabelValues("error").Inc()
		c.logger.Warn("Product cache read failed", zap.String("product_id", id.String()), zap.Error(err))
	}

	product, err := c.source.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := c.cache.SetJSON(ctx, productKey(id), product, c.ttl); err != nil {
		c.logger.Warn("Product cache write failed", zap.String("product_id", id.String()), zap.Error(err))
	}
	return product, nil
}

// Invalidate drops cached entries after their stock changed.
func (c *CachedProducts) Invalidate(ctx context.Context, ids ...uuid.UUID) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = productKey(id)
	}
	if err := c.cache.Delete(ctx, keys...); err != nil {
		c.logger.Warn("Product cache invalidation failed", zap.Int("keys", len(keys)), zap.Error(err))
	}
}
