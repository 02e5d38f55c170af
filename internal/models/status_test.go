package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTransition(t *testing.T) {
	legal := map[OrderStatus]map[OrderStatus]bool{
		OrderStatusPending:    {OrderStatusProcessing: true, OrderStatusCancelled: true},
		OrderStatusProcessing: {OrderStatusShipped: true, OrderStatusCancelled: true},
		OrderStatusShipped:    {OrderStatusDelivered: true},
		OrderStatusDelivered:  {},
		OrderStatusCancelled:  {},
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			err := ValidateTransition(from, to)
			if legal[from][to] {
				assert.NoError(t, err, "%s -> %s", from, to)
				continue
			}
			require.Error(t, err, "%s -> %s", from, to)
			assert.True(t, errors.Is(err, ErrInvalidTransition))
		}
	}
}

func TestTransitionErrorMessages(t *testing.T) {
	err := ValidateTransition(OrderStatusShipped, OrderStatusPending)
	assert.EqualError(t, err, "Cannot transition from shipped to pending. Allowed transitions: delivered")

	err = ValidateTransition(OrderStatusPending, OrderStatusDelivered)
	assert.EqualError(t, err, "Cannot transition from pending to delivered. Allowed transitions: processing, cancelled")

	err = ValidateTransition(OrderStatusDelivered, OrderStatusCancelled)
	assert.EqualError(t, err, "Cannot transition from delivered to cancelled. Allowed transitions: none (final state)")

	err = ValidateTransition(OrderStatusPending, OrderStatusPending)
	assert.EqualError(t, err, "Order is already in status pending")

	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, []OrderStatus{OrderStatusProcessing, OrderStatusCancelled}, te.Allowed)
}

func TestAllowedTransitionsIsACopy(t *testing.T) {
	next := OrderStatusPending.AllowedTransitions()
	next[0] = OrderStatusDelivered
	assert.True(t, OrderStatusPending.CanTransitionTo(OrderStatusProcessing))
}

func TestParseOrderStatus(t *testing.T) {
	s, err := ParseOrderStatus("SHIPPED")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusShipped, s)
	assert.True(t, OrderStatusDelivered.IsFinal())
	assert.False(t, OrderStatusShipped.IsFinal())

	_, err = ParseOrderStatus("lost")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestInsufficientStockError(t *testing.T) {
	err := error(&InsufficientStockError{Available: 1, Requested: 2})
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Contains(t, err.Error(), "Available: 1, Requested: 2")
	assert.True(t, IsClientError(err))
	assert.False(t, IsClientError(errors.New("connection refused")))
}
