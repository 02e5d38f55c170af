package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"orderly/internal/models"
	"orderly/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrEventInFlight means another consumer holds the event's processing lock.
var ErrEventInFlight = fmt.Errorf("%w: event is being processed elsewhere", models.ErrTransient)

// IdempotencyStore remembers processed event ids in a store shared by all consumers.
type IdempotencyStore interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID string, ttl time.Duration) error
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// OrderLifecycle is the slice of OrderService the payment flow drives.
type OrderLifecycle interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.OrderStatus) (*models.Order, error)
}

type PaymentConfig struct {
	IdempotencyTTL time.Duration
	GatewayTimeout time.Duration
	LockTTL        time.Duration
}

// PaymentService consumes order.created events: it charges the order once,
// advances it to processing and announces payment.processed.
type PaymentService struct {
	orders      OrderLifecycle
	gateway     PaymentGateway
	idempotency IdempotencyStore
	publisher   EventPublisher
	cfg         PaymentConfig
	logger      *zap.Logger
}

func NewPaymentService(
	orders OrderLifecycle,
	gateway PaymentGateway,
	idempotency IdempotencyStore,
	publisher EventPublisher,
	cfg PaymentConfig,
) *PaymentService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2*cfg.GatewayTimeout + 30*time.Second
	}
	return &PaymentService{
		orders:      orders,
		gateway:     gateway,
		idempotency: idempotency,
		publisher:   publisher,
		cfg:         cfg,
		logger:      util.GetLogger(),
	}
}

// HandleOrderCreated processes one order.created message body. A nil return
// means the message is done with, including duplicates.
func (ps *PaymentService) HandleOrderCreated(ctx context.Context, body []byte) error {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandleOrderCreated")
	defer span.End()

	event, err := models.DecodeEvent(body, models.EventTypeOrderCreated)
	if err != nil {
		return err
	}
	var payload models.OrderCreatedPayload
	if err := event.DecodePayload(&payload); err != nil {
		return err
	}
	if err := payload.Validate(); err != nil {
		return err
	}

	ctx = util.WithCorrelationID(ctx, event.CorrelationID)
	logger := util.LoggerFromContext(ctx).With(
		zap.String("event_id", event.EventID.String()),
		zap.String("order_id", payload.OrderID.String()))

	eventID := event.EventID.String()
	if done, err := ps.idempotency.IsEventProcessed(ctx, eventID); err != nil {
		return fmt.Errorf("%w: idempotency check: %v", models.ErrTransient, err)
	} else if done {
		util.DuplicateEventsTotal.WithLabelValues(event.EventType).Inc()
		logger.Info("Event already processed, skipping")
		return nil
	}

	lockToken, locked, err := ps.idempotency.AcquireLock(ctx, "event:"+eventID, ps.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("%w: acquire event lock: %v", models.ErrTransient, err)
	}
	if !locked {
		return ErrEventInFlight
	}
	defer func() {
		if err := ps.idempotency.ReleaseLock(context.WithoutCancel(ctx), "event:"+eventID, lockToken); err != nil {
			logger.Warn("Failed to release event lock", zap.Error(err))
		}
	}()

	// a concurrent holder may have finished between the check and the lock
	if done, err := ps.idempotency.IsEventProcessed(ctx, eventID); err != nil {
		return fmt.Errorf("%w: idempotency check: %v", models.ErrTransient, err)
	} else if done {
		util.DuplicateEventsTotal.WithLabelValues(event.EventType).Inc()
		return nil
	}

	if err := ps.processPayment(ctx, event, &payload, logger); err != nil {
		util.RecordError(span, err)
		return err
	}

	if err := ps.idempotency.MarkEventProcessed(ctx, eventID, ps.cfg.IdempotencyTTL); err != nil {
		logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}

func (ps *PaymentService) processPayment(ctx context.Context, event *models.Event, payload *models.OrderCreatedPayload, logger *zap.Logger) error {
	order, err := ps.orders.GetOrder(ctx, payload.OrderID)
	if err != nil {
		return err
	}
	if order.Status == models.OrderStatusCancelled {
		return models.InvalidStatef("Order %s was cancelled before payment", order.ID)
	}

	util.PaymentAttemptsTotal.Inc()
	start := time.Now()

	chargeCtx, cancel := context.WithTimeout(ctx, ps.cfg.GatewayTimeout)
	result, err := ps.gateway.Charge(chargeCtx, ChargeRequest{
		IdempotencyKey: event.EventID.String(),
		OrderID:        order.ID,
		Amount:         payload.Total,
	})
	cancel()
	util.PaymentProcessingLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		util.PaymentOutcomesTotal.WithLabelValues("error").Inc()
		if errors.Is(err, models.ErrValidation) {
			return err
		}
		return fmt.Errorf("%w: charge: %v", models.ErrTransient, err)
	}
	util.PaymentOutcomesTotal.WithLabelValues(result.Status).Inc()

	if result.Status == models.PaymentStatusSuccess {
		switch order.Status {
		case models.OrderStatusPending:
			if _, err := ps.orders.UpdateStatus(ctx, order.ID, models.OrderStatusProcessing); err != nil {
				return err
			}
		default:
			// an earlier attempt advanced the order and failed later on
			logger.Info("Order already advanced", zap.String("status", string(order.Status)))
		}
	}

	out, err := models.NewEvent(models.EventTypePaymentProcessed, models.ProducerPayments, event.CorrelationID,
		models.PaymentProcessedPayload{
			OrderID:       order.ID,
			UserID:        payload.UserID,
			Amount:        payload.Total,
			PaymentMethod: result.PaymentMethod,
			TransactionID: result.TransactionID,
			Status:        result.Status,
		})
	if err != nil {
		return err
	}
	if !ps.publisher.Publish(ctx, out) {
		return fmt.Errorf("%w: payment.processed not published", models.ErrTransient)
	}

	logger.Info("Payment processed",
		zap.String("status", result.Status),
		zap.String("transaction_id", result.TransactionID),
		zap.String("amount", payload.Total.StringFixed(2)))
	return nil
}
