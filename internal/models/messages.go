package models

import (
	"time"

	"github.com/google/uuid"
)

// Live update message types
const (
	MessageTypeStatusChanged    = "order.status_changed"
	MessageTypePaymentProcessed = "payment.processed"
)

// StatusMessage is pushed to subscribers of an order.
type StatusMessage struct {
	Type          string      `json:"type"`
	OrderID       uuid.UUID   `json:"order_id"`
	Status        OrderStatus `json:"status,omitempty"`
	DriverID      *uuid.UUID  `json:"driver_id,omitempty"`
	PaymentStatus string      `json:"payment_status,omitempty"`
	TransactionID string      `json:"transaction_id,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
}

// NewStatusMessage describes the order's current state.
func NewStatusMessage(o *Order) StatusMessage {
	return StatusMessage{
		Type:      MessageTypeStatusChanged,
		OrderID:   o.ID,
		Status:    o.Status,
		DriverID:  o.DriverID,
		Timestamp: time.Now().UTC(),
	}
}

// NewPaymentMessage relays a payment outcome. A successful charge implies processing.
func NewPaymentMessage(p *PaymentProcessedPayload) StatusMessage {
	msg := StatusMessage{
		Type:          MessageTypePaymentProcessed,
		OrderID:       p.OrderID,
		PaymentStatus: p.Status,
		TransactionID: p.TransactionID,
		Timestamp:     time.Now().UTC(),
	}
	if p.Status == PaymentStatusSuccess {
		msg.Status = OrderStatusProcessing
	}
	return msg
}
