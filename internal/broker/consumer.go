package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"orderly/internal/util"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Handler processes one delivery. The consumer settles the delivery from
// the returned error: nil acks, Permanent errors dead-letter, anything else retries.
type Handler func(ctx context.Context, d amqp.Delivery) error

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Redeliverer schedules a copy of a failed message on a retry queue.
type Redeliverer interface {
	Redeliver(ctx context.Context, queue string, msg amqp.Publishing) error
}

type channelRedeliverer struct{ ch *amqp.Channel }

func (r channelRedeliverer) Redeliver(ctx context.Context, queue string, msg amqp.Publishing) error {
	return r.ch.PublishWithContext(ctx, "", queue, false, false, msg)
}

// Consumer reads one queue with bounded concurrency and reconnects on
// channel loss.
type Consumer struct {
	conn      *Connection
	topology  Topology
	eventType string
	prefetch  int
	fanout    bool
	logger    *zap.Logger
}

// NewConsumer consumes the durable work queue for eventType.
func NewConsumer(conn *Connection, topology Topology, eventType string, prefetch int) *Consumer {
	if prefetch < 1 {
		prefetch = 1
	}
	return &Consumer{
		conn:      conn,
		topology:  topology,
		eventType: eventType,
		prefetch:  prefetch,
		logger:    util.GetLogger(),
	}
}

// NewFanoutConsumer consumes a private auto-delete queue, so every process
// running one sees each event. Failed deliveries are dropped.
func NewFanoutConsumer(conn *Connection, topology Topology, eventType string, prefetch int) *Consumer {
	c := NewConsumer(conn, topology, eventType, prefetch)
	c.fanout = true
	c.topology.Retry = RetryPolicy{}
	return c
}

// Run consumes until ctx is cancelled. In-flight handlers are allowed to
// finish; deliveries not yet started are requeued.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		ch, err := c.conn.Channel()
		if err == nil {
			attempt = 0
			err = c.consume(ctx, ch, handler)
			if err == nil {
				return nil
			}
		}

		delay := Backoff(attempt, initialBackoff, 30*time.Second)
		attempt++
		c.logger.Warn("Consumer interrupted, retrying",
			zap.String("event_type", c.eventType),
			zap.Duration("retry_in", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// consume returns nil on shutdown and an error when the channel is lost.
func (c *Consumer) consume(ctx context.Context, ch *amqp.Channel, handler Handler) error {
	defer ch.Close()

	queue := QueueName(c.eventType)
	if c.fanout {
		name, err := c.topology.DeclareFanout(ch, c.eventType)
		if err != nil {
			return err
		}
		queue = name
	} else if err := c.topology.Declare(ch); err != nil {
		return err
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	tag := fmt.Sprintf("%s-%s", QueueName(c.eventType), uuid.NewString()[:8])
	deliveries, err := ch.Consume(
		queue,
		tag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	s := &settler{
		eventType:   c.eventType,
		queue:       queue,
		policy:      c.topology.Retry,
		redeliverer: channelRedeliverer{ch: ch},
		logger:      c.logger,
	}

	c.logger.Info("Consumer started",
		zap.String("queue", queue),
		zap.Int("prefetch", c.prefetch))

	sem := make(chan struct{}, c.prefetch)
	var wg sync.WaitGroup
	handlerCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			c.shutdown(ch, tag, deliveries, &wg)
			return nil

		case amqpErr := <-closed:
			wg.Wait()
			return fmt.Errorf("channel closed: %v", amqpErr)

		case d, ok := <-deliveries:
			if !ok {
				wg.Wait()
				return errors.New("delivery stream closed")
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				_ = d.Nack(false, true)
				c.shutdown(ch, tag, deliveries, &wg)
				return nil
			}

			wg.Add(1)
			go func(d amqp.Delivery) {
				defer wg.Done()
				defer func() { <-sem }()
				s.handle(handlerCtx, d, handler)
			}(d)
		}
	}
}

func (c *Consumer) shutdown(ch *amqp.Channel, tag string, deliveries <-chan amqp.Delivery, wg *sync.WaitGroup) {
	c.logger.Info("Consumer stopping", zap.String("event_type", c.eventType))

	if err := ch.Cancel(tag, false); err == nil {
		for d := range deliveries {
			_ = d.Nack(false, true)
		}
	}
	wg.Wait()
}

type settler struct {
	eventType   string
	queue       string
	policy      RetryPolicy
	redeliverer Redeliverer
	logger      *zap.Logger
}

func (s *settler) handle(ctx context.Context, d amqp.Delivery, handler Handler) {
	ctx = util.WithCorrelationID(ctx, d.CorrelationId)
	err := handler(ctx, d)
	outcome := s.settle(ctx, d, err)
	util.MessagesConsumedTotal.WithLabelValues(QueueName(s.eventType), outcome).Inc()
}

// settle acks, retries or dead-letters d and returns the outcome label.
func (s *settler) settle(ctx context.Context, d amqp.Delivery, err error) string {
	logger := s.logger.With(
		zap.String("queue", s.queue),
		zap.String("message_id", d.MessageId),
		zap.String("correlation_id", util.CorrelationID(ctx)),
	)

	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			logger.Error("Failed to ack message", zap.Error(ackErr))
		}
		return "acked"
	}

	if IsPermanent(err) || s.policy.MaxAttempts == 0 {
		logger.Error("Message rejected", zap.Error(err))
		_ = d.Reject(false)
		return "dead_lettered"
	}

	attempt := RetryCount(d.Headers) + 1
	if attempt > s.policy.MaxAttempts {
		logger.Error("Retries exhausted, dead-lettering",
			zap.Int("attempts", attempt-1),
			zap.Error(err))
		_ = d.Reject(false)
		return "dead_lettered"
	}

	retryQueue := RetryQueueName(s.eventType, attempt)
	if rerr := s.redeliverer.Redeliver(ctx, retryQueue, retryPublishing(d, attempt)); rerr != nil {
		logger.Error("Failed to schedule retry, requeueing", zap.Error(rerr))
		_ = d.Nack(false, true)
		return "requeued"
	}

	logger.Warn("Message scheduled for retry",
		zap.Int("attempt", attempt),
		zap.Duration("delay", s.policy.Delay(attempt)),
		zap.Error(err))
	_ = d.Ack(false)
	return "retried"
}

func retryPublishing(d amqp.Delivery, attempt int) amqp.Publishing {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[HeaderRetryCount] = int32(attempt)

	return amqp.Publishing{
		Headers:       headers,
		ContentType:   d.ContentType,
		DeliveryMode:  amqp.Persistent,
		CorrelationId: d.CorrelationId,
		MessageId:     d.MessageId,
		Timestamp:     d.Timestamp,
		Type:          d.Type,
		Body:          d.Body,
	}
}
