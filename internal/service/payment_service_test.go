package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"orderly/internal/models"
	"orderly/internal/redisclient"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type paymentFixture struct {
	orders    *orderFixture
	gateway   *FakeGateway
	publisher *recordingPublisher
	redis     *miniredis.Miniredis
	svc       *PaymentService
}

func newPaymentFixture(t *testing.T, successRate float64) *paymentFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &paymentFixture{
		orders:    newOrderFixture(),
		gateway:   NewFakeGateway(time.Millisecond, successRate, time.Hour),
		publisher: &recordingPublisher{ok: true},
		redis:     mr,
	}
	f.svc = NewPaymentService(f.orders.svc, f.gateway, redisclient.NewFromClient(rdb), f.publisher, PaymentConfig{
		IdempotencyTTL: time.Hour,
		GatewayTimeout: time.Second,
	})
	return f
}

// placeOrder checks out a 2 × 10.99 cart and returns the order.created body.
func (f *paymentFixture) placeOrder(t *testing.T) (*models.Order, []byte) {
	t.Helper()
	userID := uuid.New()
	p := f.orders.store.addProduct("10.99", 10, true)
	f.orders.store.addCart(userID, map[uuid.UUID]int{p: 2})

	order, err := f.orders.svc.Checkout(context.Background(), userID, nil)
	require.NoError(t, err)

	events := f.orders.publisher.byType(models.EventTypeOrderCreated)
	require.NotEmpty(t, events)
	body, err := json.Marshal(events[len(events)-1])
	require.NoError(t, err)
	return order, body
}

func TestPaymentAdvancesOrderAndPublishes(t *testing.T) {
	f := newPaymentFixture(t, 1.0)
	ctx := context.Background()
	order, body := f.placeOrder(t)

	require.NoError(t, f.svc.HandleOrderCreated(ctx, body))

	stored, err := f.orders.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusProcessing, stored.Status)

	events := f.publisher.byType(models.EventTypePaymentProcessed)
	require.Len(t, events, 1)
	assert.Equal(t, models.ProducerPayments, events[0].Producer)

	var payload models.PaymentProcessedPayload
	require.NoError(t, events[0].DecodePayload(&payload))
	assert.Equal(t, order.ID, payload.OrderID)
	assert.Equal(t, models.PaymentStatusSuccess, payload.Status)
	assert.Equal(t, "credit_card", payload.PaymentMethod)
	assert.True(t, payload.Amount.Equal(decimal.RequireFromString("21.98")))
	_, err = uuid.Parse(payload.TransactionID)
	assert.NoError(t, err)
}

func TestPaymentIsIdempotent(t *testing.T) {
	f := newPaymentFixture(t, 1.0)
	ctx := context.Background()
	order, body := f.placeOrder(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.svc.HandleOrderCreated(ctx, body))
	}

	assert.Len(t, f.publisher.byType(models.EventTypePaymentProcessed), 1)
	assert.Len(t, f.orders.broadcaster.messages, 1, "the order advances exactly once")

	stored, err := f.orders.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusProcessing, stored.Status)
}

func TestPaymentConcurrentDuplicates(t *testing.T) {
	f := newPaymentFixture(t, 1.0)
	_, body := f.placeOrder(t)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.svc.HandleOrderCreated(context.Background(), body)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrEventInFlight)
		}
	}
	assert.Len(t, f.publisher.byType(models.EventTypePaymentProcessed), 1)
}

func TestPaymentLeavesForeignLockInPlace(t *testing.T) {
	f := newPaymentFixture(t, 1.0)
	ctx := context.Background()
	_, body := f.placeOrder(t)

	event, err := models.DecodeEvent(body, models.EventTypeOrderCreated)
	require.NoError(t, err)
	key := "lock:event:" + event.EventID.String()
	require.NoError(t, f.redis.Set(key, "other-consumer"))

	assert.ErrorIs(t, f.svc.HandleOrderCreated(ctx, body), ErrEventInFlight)
	held, err := f.redis.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "other-consumer", held)

	f.redis.Del(key)
	require.NoError(t, f.svc.HandleOrderCreated(ctx, body))
	assert.False(t, f.redis.Exists(key), "own lock is released after processing")
	assert.Len(t, f.publisher.byType(models.EventTypePaymentProcessed), 1)
}

func TestPaymentFailureLeavesOrderPending(t *testing.T) {
	f := newPaymentFixture(t, 0)
	ctx := context.Background()
	order, body := f.placeOrder(t)

	require.NoError(t, f.svc.HandleOrderCreated(ctx, body))

	stored, err := f.orders.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, stored.Status)

	events := f.publisher.byType(models.EventTypePaymentProcessed)
	require.Len(t, events, 1)
	var payload models.PaymentProcessedPayload
	require.NoError(t, events[0].DecodePayload(&payload))
	assert.Equal(t, models.PaymentStatusFailed, payload.Status)
}

func TestPaymentPublishFailureIsRetriedWithoutDoubleAdvance(t *testing.T) {
	f := newPaymentFixture(t, 1.0)
	ctx := context.Background()
	order, body := f.placeOrder(t)

	f.publisher.ok = false
	err := f.svc.HandleOrderCreated(ctx, body)
	require.ErrorIs(t, err, models.ErrTransient)

	f.publisher.ok = true
	require.NoError(t, f.svc.HandleOrderCreated(ctx, body))

	events := f.publisher.byType(models.EventTypePaymentProcessed)
	require.Len(t, events, 1)
	stored, err := f.orders.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusProcessing, stored.Status)
	assert.Len(t, f.orders.broadcaster.messages, 1)
}

func TestPaymentRejectsMalformedMessages(t *testing.T) {
	f := newPaymentFixture(t, 1.0)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.HandleOrderCreated(ctx, []byte("{")), models.ErrMessageMalformed)

	event, err := models.NewEvent(models.EventTypeOrderCreated, models.ProducerOrders, "", map[string]string{"order_id": "x"})
	require.NoError(t, err)
	body, _ := json.Marshal(event)
	assert.ErrorIs(t, f.svc.HandleOrderCreated(ctx, body), models.ErrMessageMalformed)
}

func TestPaymentForCancelledOrderIsPermanent(t *testing.T) {
	f := newPaymentFixture(t, 1.0)
	ctx := context.Background()
	order, body := f.placeOrder(t)

	_, err := f.orders.svc.CancelOrder(ctx, order.ID)
	require.NoError(t, err)

	err = f.svc.HandleOrderCreated(ctx, body)
	assert.ErrorIs(t, err, models.ErrInvalidState)
	assert.Empty(t, f.publisher.byType(models.EventTypePaymentProcessed))
}

func TestPaymentRedisDownIsTransient(t *testing.T) {
	f := newPaymentFixture(t, 1.0)
	_, body := f.placeOrder(t)
	f.redis.Close()

	err := f.svc.HandleOrderCreated(context.Background(), body)
	assert.ErrorIs(t, err, models.ErrTransient)
}

func TestFakeGatewayReplaysByIdempotencyKey(t *testing.T) {
	g := NewFakeGateway(0, 1.0, time.Hour)
	ctx := context.Background()
	req := ChargeRequest{IdempotencyKey: "k", OrderID: uuid.New(), Amount: decimal.NewFromInt(5)}

	first, err := g.Charge(ctx, req)
	require.NoError(t, err)
	second, err := g.Charge(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.TransactionID, second.TransactionID)

	_, err = g.Charge(ctx, ChargeRequest{IdempotencyKey: "z", Amount: decimal.Zero})
	assert.ErrorIs(t, err, models.ErrValidation)

	slow := NewFakeGateway(time.Hour, 1.0, time.Hour)
	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = slow.Charge(cctx, ChargeRequest{IdempotencyKey: "s", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, models.ErrTransient)
}

func TestFakeGatewayForgetsExpiredCharges(t *testing.T) {
	g := NewFakeGateway(0, 1.0, time.Hour)
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return clock }
	ctx := context.Background()

	first, err := g.Charge(ctx, ChargeRequest{IdempotencyKey: "a", Amount: decimal.NewFromInt(5)})
	require.NoError(t, err)

	clock = clock.Add(30 * time.Minute)
	_, err = g.Charge(ctx, ChargeRequest{IdempotencyKey: "b", Amount: decimal.NewFromInt(5)})
	require.NoError(t, err)
	assert.Len(t, g.charges, 2)

	clock = clock.Add(45 * time.Minute)
	_, err = g.Charge(ctx, ChargeRequest{IdempotencyKey: "c", Amount: decimal.NewFromInt(5)})
	require.NoError(t, err)
	assert.Len(t, g.charges, 2, "charge a is past retention")
	assert.NotContains(t, g.charges, "a")
	assert.Equal(t, []string{"b", "c"}, g.order)

	again, err := g.Charge(ctx, ChargeRequest{IdempotencyKey: "a", Amount: decimal.NewFromInt(5)})
	require.NoError(t, err)
	assert.NotEqual(t, first.TransactionID, again.TransactionID)
}
