package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"orderly/internal/models"
	"orderly/internal/util"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher sends events to the topic exchange on a confirm-mode channel.
// Publish blocks until the broker acks or the confirm timeout elapses.
type Publisher struct {
	conn           *Connection
	topology       Topology
	confirmTimeout time.Duration
	logger         *zap.Logger

	mu      sync.Mutex
	ch      *amqp.Channel
	returns chan amqp.Return
}

func NewPublisher(conn *Connection, topology Topology, confirmTimeout time.Duration) *Publisher {
	return &Publisher{
		conn:           conn,
		topology:       topology,
		confirmTimeout: confirmTimeout,
		logger:         util.GetLogger(),
	}
}

// NewPublishing wraps an encoded event in a persistent AMQP message.
func NewPublishing(event *models.Event, body []byte) amqp.Publishing {
	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     event.EventID.String(),
		CorrelationId: event.CorrelationID,
		Timestamp:     event.OccurredAt,
		Type:          event.EventType,
		Headers: amqp.Table{
			HeaderEventType:    event.EventType,
			HeaderEventVersion: int32(event.EventVersion),
			HeaderProducer:     event.Producer,
		},
		Body: body,
	}
}

// Publish reports whether the broker accepted and routed the event.
// It never returns an error; failures are logged and counted.
func (p *Publisher) Publish(ctx context.Context, event *models.Event) bool {
	ctx, span := util.StartSpan(ctx, "Publisher.Publish")
	defer span.End()

	logger := util.LoggerFromContext(ctx).With(
		zap.String("event_type", event.EventType),
		zap.String("event_id", event.EventID.String()),
	)

	if err := p.publish(ctx, event); err != nil {
		util.RecordError(span, err)
		util.EventsPublishedTotal.WithLabelValues(event.EventType, "failed").Inc()
		logger.Error("Failed to publish event", zap.Error(err))
		return false
	}

	util.EventsPublishedTotal.WithLabelValues(event.EventType, "success").Inc()
	logger.Info("Event published")
	return true
}

func (p *Publisher) publish(ctx context.Context, event *models.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.confirmTimeout)
	defer cancel()

	msg := NewPublishing(event, body)
	dc, err := ch.PublishWithDeferredConfirmWithContext(
		ctx,
		p.topology.Exchange,
		event.EventType,
		true,  // mandatory
		false, // immediate
		msg,
	)
	if err != nil {
		p.reset()
		return fmt.Errorf("publish: %w", err)
	}

	acked, err := dc.WaitContext(ctx)
	if err != nil {
		p.reset()
		return fmt.Errorf("wait for confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("broker nacked event")
	}

	// basic.return arrives before the ack, so it is already buffered
	for {
		select {
		case ret := <-p.returns:
			if ret.MessageId == msg.MessageId {
				return fmt.Errorf("unroutable: %s", ret.ReplyText)
			}
		default:
			return nil
		}
	}
}

func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	if err := p.topology.Declare(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}

	p.returns = ch.NotifyReturn(make(chan amqp.Return, 16))
	p.ch = ch
	return ch, nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
}

// Close releases the publishing channel. The connection is owned by the caller.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
}
