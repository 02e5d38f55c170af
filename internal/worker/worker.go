package worker

import (
	"context"
	"errors"
	"sync"

	"orderly/internal/broker"
	"orderly/internal/models"
	"orderly/internal/util"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Source delivers messages to a handler until ctx is cancelled.
type Source interface {
	Run(ctx context.Context, handler broker.Handler) error
}

// runner gives a worker Start/Stop semantics over a blocking Source.
type runner struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (r *runner) start(ctx context.Context, src Source, handler broker.Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	r.mu.Lock()
	r.cancel, r.done = cancel, done
	r.mu.Unlock()

	defer close(done)
	return src.Run(ctx, handler)
}

// stop cancels the source and waits for in-flight messages to drain.
func (r *runner) stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// OrderCreatedHandler is the payment side of the order.created contract.
type OrderCreatedHandler interface {
	HandleOrderCreated(ctx context.Context, body []byte) error
}

// PaymentWorker charges orders as order.created events arrive.
type PaymentWorker struct {
	source   Source
	payments OrderCreatedHandler
	logger   *zap.Logger
	runner
}

func NewPaymentWorker(source Source, payments OrderCreatedHandler) *PaymentWorker {
	return &PaymentWorker{
		source:   source,
		payments: payments,
		logger:   util.GetLogger(),
	}
}

// Start blocks until Stop is called or ctx is cancelled.
func (pw *PaymentWorker) Start(ctx context.Context) error {
	pw.logger.Info("Starting payment worker...")
	return pw.start(ctx, pw.source, pw.handle)
}

func (pw *PaymentWorker) Stop() {
	pw.logger.Info("Stopping payment worker...")
	pw.stop()
}

func (pw *PaymentWorker) handle(ctx context.Context, d amqp.Delivery) error {
	err := pw.payments.HandleOrderCreated(ctx, d.Body)
	if err == nil {
		return nil
	}
	// bad input and business refusals will not succeed on redelivery
	if errors.Is(err, models.ErrMessageMalformed) || models.IsClientError(err) {
		return broker.Permanent(err)
	}
	return err
}

// StatusRelay pushes payment outcomes from the broker to live subscribers.
type StatusRelay struct {
	source      Source
	broadcaster Broadcaster
	logger      *zap.Logger
	runner
}

// Broadcaster matches the hub's fan-out method.
type Broadcaster interface {
	Broadcast(orderID uuid.UUID, message any) int
}

func NewStatusRelay(source Source, broadcaster Broadcaster) *StatusRelay {
	return &StatusRelay{
		source:      source,
		broadcaster: broadcaster,
		logger:      util.GetLogger(),
	}
}

func (sr *StatusRelay) Start(ctx context.Context) error {
	sr.logger.Info("Starting status relay...")
	return sr.start(ctx, sr.source, sr.handle)
}

func (sr *StatusRelay) Stop() {
	sr.logger.Info("Stopping status relay...")
	sr.stop()
}

func (sr *StatusRelay) handle(ctx context.Context, d amqp.Delivery) error {
	event, err := models.DecodeEvent(d.Body, models.EventTypePaymentProcessed)
	if err != nil {
		return broker.Permanent(err)
	}
	var payload models.PaymentProcessedPayload
	if err := event.DecodePayload(&payload); err != nil {
		return broker.Permanent(err)
	}
	if err := payload.Validate(); err != nil {
		return broker.Permanent(err)
	}

	n := sr.broadcaster.Broadcast(payload.OrderID, models.NewPaymentMessage(&payload))
	util.LoggerFromContext(ctx).Debug("Relayed payment outcome",
		zap.String("order_id", payload.OrderID.String()),
		zap.String("status", payload.Status),
		zap.Int("subscribers", n))
	return nil
}
