package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated     = "order.created"
	EventTypePaymentProcessed = "payment.processed"
)

// Producers
const (
	ProducerOrders   = "orders-service"
	ProducerPayments = "payment-service"
)

// Payment outcomes
const (
	PaymentStatusSuccess = "success"
	PaymentStatusFailed  = "failed"
)

// Event is the envelope every message on the bus is wrapped in.
type Event struct {
	EventID       uuid.UUID       `json:"event_id"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"timestamp"`
	Producer      string          `json:"producer"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEvent builds a version 1 envelope around payload.
func NewEvent(eventType, producer, correlationID string, payload any) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	e := &Event{
		EventID:       uuid.New(),
		CorrelationID: correlationID,
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		Payload:       raw,
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Validate checks the envelope fields consumers rely on.
func (e *Event) Validate() error {
	switch {
	case e.EventID == uuid.Nil:
		return fmt.Errorf("%w: event_id is required", ErrMessageMalformed)
	case !isDottedType(e.EventType):
		return fmt.Errorf("%w: event_type %q must look like domain.action", ErrMessageMalformed, e.EventType)
	case e.EventVersion < 1:
		return fmt.Errorf("%w: event_version must be >= 1", ErrMessageMalformed)
	case strings.TrimSpace(e.Producer) == "":
		return fmt.Errorf("%w: producer is required", ErrMessageMalformed)
	case len(e.Payload) == 0:
		return fmt.Errorf("%w: payload is required", ErrMessageMalformed)
	}
	return nil
}

func isDottedType(t string) bool {
	parts := strings.Split(t, ".")
	if len(parts) < 2 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}

// DecodeEvent parses and validates an envelope, expecting the given type.
func DecodeEvent(body []byte, eventType string) (*Event, error) {
	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMessageMalformed, err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if e.EventType != eventType {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrMessageMalformed, eventType, e.EventType)
	}
	return &e, nil
}

// DecodePayload unmarshals the payload into v.
func (e *Event) DecodePayload(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: payload: %v", ErrMessageMalformed, err)
	}
	return nil
}

// OrderItemPayload is one line of an order.created event.
type OrderItemPayload struct {
	ID        uuid.UUID       `json:"id"`
	ProductID uuid.UUID       `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// OrderCreatedPayload is published after checkout commits.
type OrderCreatedPayload struct {
	OrderID uuid.UUID          `json:"order_id"`
	UserID  uuid.UUID          `json:"user_id"`
	Total   decimal.Decimal    `json:"total"`
	Items   []OrderItemPayload `json:"items"`
}

// NewOrderCreatedPayload snapshots order for the bus.
func NewOrderCreatedPayload(order *Order) OrderCreatedPayload {
	items := make([]OrderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderItemPayload{
			ID:        item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
			Subtotal:  item.Subtotal,
		})
	}
	return OrderCreatedPayload{
		OrderID: order.ID,
		UserID:  order.UserID,
		Total:   order.Total,
		Items:   items,
	}
}

func (p *OrderCreatedPayload) Validate() error {
	if p.OrderID == uuid.Nil || p.UserID == uuid.Nil {
		return fmt.Errorf("%w: order_id and user_id are required", ErrMessageMalformed)
	}
	if !p.Total.IsPositive() {
		return fmt.Errorf("%w: total must be positive, got %s", ErrMessageMalformed, p.Total)
	}
	return nil
}

// PaymentProcessedPayload reports the outcome of a charge.
type PaymentProcessedPayload struct {
	OrderID       uuid.UUID       `json:"order_id"`
	UserID        uuid.UUID       `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
	TransactionID string          `json:"transaction_id"`
	Status        string          `json:"status"`
}

func (p *PaymentProcessedPayload) Validate() error {
	if p.OrderID == uuid.Nil {
		return fmt.Errorf("%w: order_id is required", ErrMessageMalformed)
	}
	if p.Status != PaymentStatusSuccess && p.Status != PaymentStatusFailed {
		return fmt.Errorf("%w: unknown payment status %q", ErrMessageMalformed, p.Status)
	}
	return nil
}
