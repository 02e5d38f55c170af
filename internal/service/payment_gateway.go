package service

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"orderly/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ChargeRequest asks the gateway to take a payment. Requests with the same
// IdempotencyKey return the first result.
type ChargeRequest struct {
	IdempotencyKey string
	OrderID        uuid.UUID
	Amount         decimal.Decimal
}

// ChargeResult is the gateway's answer.
type ChargeResult struct {
	TransactionID string
	PaymentMethod string
	Status        string
	ProcessedAt   time.Time
}

// PaymentGateway charges customers.
type PaymentGateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

const defaultChargeRetention = 24 * time.Hour

// FakeGateway emulates a card processor with fixed latency and a success rate.
// Results are replayed by idempotency key for the retention window, which
// should be at least the consumer's idempotency TTL.
type FakeGateway struct {
	latency     time.Duration
	successRate float64
	retention   time.Duration
	now         func() time.Time

	mu      sync.Mutex
	rng     *rand.Rand
	charges map[string]*ChargeResult
	order   []string // keys by ProcessedAt, oldest first
}

func NewFakeGateway(latency time.Duration, successRate float64, retention time.Duration) *FakeGateway {
	if retention <= 0 {
		retention = defaultChargeRetention
	}
	return &FakeGateway{
		latency:     latency,
		successRate: successRate,
		retention:   retention,
		now:         time.Now,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		charges:     make(map[string]*ChargeResult),
	}
}

func (g *FakeGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: payment amount must be positive, got %s", models.ErrValidation, req.Amount)
	}

	g.mu.Lock()
	g.evictExpired()
	if prev, ok := g.charges[req.IdempotencyKey]; ok {
		g.mu.Unlock()
		return prev, nil
	}
	g.mu.Unlock()

	select {
	case <-time.After(g.latency):
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: payment gateway: %v", models.ErrTransient, ctx.Err())
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.evictExpired()
	if prev, ok := g.charges[req.IdempotencyKey]; ok {
		return prev, nil
	}

	status := models.PaymentStatusSuccess
	if g.rng.Float64() >= g.successRate {
		status = models.PaymentStatusFailed
	}
	result := &ChargeResult{
		TransactionID: uuid.NewString(),
		PaymentMethod: "credit_card",
		Status:        status,
		ProcessedAt:   g.now().UTC(),
	}
	g.charges[req.IdempotencyKey] = result
	g.order = append(g.order, req.IdempotencyKey)
	return result, nil
}

// evictExpired must be called with mu held.
func (g *FakeGateway) evictExpired() {
	cutoff := g.now().Add(-g.retention)
	n := 0
	for _, key := range g.order {
		if !g.charges[key].ProcessedAt.Before(cutoff) {
			break
		}
		delete(g.charges, key)
		n++
	}
	g.order = g.order[n:]
}
