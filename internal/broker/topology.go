package broker

import (
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Header names on the wire.
const (
	HeaderEventType    = "event_type"
	HeaderEventVersion = "event_version"
	HeaderProducer     = "producer"
	HeaderRetryCount   = "x-retry-count"
)

// Declarer is the subset of *amqp.Channel used to declare topology.
type Declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// RetryPolicy bounds redelivery of failed messages.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Delay is the wait before retry attempt n (1-based): base × 2^(n-1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.BaseDelay << (attempt - 1)
}

// AuditLimits bound a queue that keeps a copy of events nobody works off.
// The oldest messages are dropped once either limit is hit.
type AuditLimits struct {
	MaxLength int
	TTL       time.Duration
}

// Topology describes the exchanges and queues for a set of event types.
// EventTypes get work queues with dead-lettering and retries;
// AuditEventTypes get a single bounded queue each.
type Topology struct {
	Exchange           string
	DeadLetterExchange string
	EventTypes         []string
	AuditEventTypes    []string
	Audit              AuditLimits
	Retry              RetryPolicy
}

// QueueName maps "order.created" to "order_created".
func QueueName(eventType string) string {
	return strings.ReplaceAll(eventType, ".", "_")
}

func DeadLetterQueueName(eventType string) string {
	return QueueName(eventType) + "_dlq"
}

func DeadLetterRoutingKey(eventType string) string {
	return eventType + ".dlq"
}

// RetryQueueName is the holding queue for the given retry attempt.
func RetryQueueName(eventType string, attempt int) string {
	return fmt.Sprintf("%s.retry.%d", QueueName(eventType), attempt)
}

// Declare creates everything idempotently; it is safe to call on every new channel.
func (t Topology) Declare(ch Declarer) error {
	for _, exchange := range []string{t.Exchange, t.DeadLetterExchange} {
		err := ch.ExchangeDeclare(
			exchange,
			amqp.ExchangeTopic,
			true,  // durable
			false, // auto-delete
			false, // internal
			false, // no-wait
			nil,
		)
		if err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
		}
	}

	for _, eventType := range t.EventTypes {
		if err := t.declareEventQueues(ch, eventType); err != nil {
			return err
		}
	}
	for _, eventType := range t.AuditEventTypes {
		if err := t.declareAuditQueue(ch, eventType); err != nil {
			return err
		}
	}
	return nil
}

func (t Topology) declareAuditQueue(ch Declarer, eventType string) error {
	queue := QueueName(eventType)
	args := amqp.Table{"x-overflow": "drop-head"}
	if t.Audit.MaxLength > 0 {
		args["x-max-length"] = int64(t.Audit.MaxLength)
	}
	if t.Audit.TTL > 0 {
		args["x-message-ttl"] = t.Audit.TTL.Milliseconds()
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, eventType, t.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", queue, err)
	}
	return nil
}

func (t Topology) declareEventQueues(ch Declarer, eventType string) error {
	queue := QueueName(eventType)
	dlq := DeadLetterQueueName(eventType)
	dlKey := DeadLetterRoutingKey(eventType)

	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", dlq, err)
	}
	if err := ch.QueueBind(dlq, dlKey, t.DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", dlq, err)
	}

	_, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-dead-letter-exchange":    t.DeadLetterExchange,
			"x-dead-letter-routing-key": dlKey,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, eventType, t.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", queue, err)
	}

	// expired retries go back to the work queue through the default exchange
	for attempt := 1; attempt <= t.Retry.MaxAttempts; attempt++ {
		name := RetryQueueName(eventType, attempt)
		_, err := ch.QueueDeclare(name, true, false, false, false, amqp.Table{
			"x-message-ttl":             t.Retry.Delay(attempt).Milliseconds(),
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": queue,
		})
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", name, err)
		}
	}
	return nil
}

// DeclareFanout declares a server-named exclusive queue bound to eventType.
// Each process gets its own copy of every matching event.
func (t Topology) DeclareFanout(ch Declarer, eventType string) (string, error) {
	err := ch.ExchangeDeclare(t.Exchange, amqp.ExchangeTopic, true, false, false, false, nil)
	if err != nil {
		return "", fmt.Errorf("failed to declare exchange %s: %w", t.Exchange, err)
	}

	q, err := ch.QueueDeclare(
		"",
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return "", fmt.Errorf("failed to declare fanout queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, eventType, t.Exchange, false, nil); err != nil {
		return "", fmt.Errorf("failed to bind fanout queue: %w", err)
	}
	return q.Name, nil
}

// RetryCount reads x-retry-count from headers, defaulting to 0.
func RetryCount(headers amqp.Table) int {
	switch v := headers[HeaderRetryCount].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint8:
		return int(v)
	case uint16:
		return int(v)
	case uint32:
		return int(v)
	case float32:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
