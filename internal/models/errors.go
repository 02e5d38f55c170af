package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrValidation            = errors.New("validation failed")
	ErrInvalidState          = errors.New("invalid state")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrDriverAlreadyAssigned = errors.New("order already has a driver assigned")
	ErrForbidden             = errors.New("forbidden")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrMessageMalformed      = errors.New("malformed message")
	ErrTransient             = errors.New("dependency unavailable")
)

// InsufficientStockError carries the quantities that failed the stock check.
type InsufficientStockError struct {
	ProductID uuid.UUID
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("Product with id %s has insufficient stock. Available: %d, Requested: %d",
		e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// TransitionError reports an illegal status change and the legal alternatives.
type TransitionError struct {
	From    OrderStatus
	To      OrderStatus
	Allowed []OrderStatus
}

func (e *TransitionError) Error() string {
	if e.From == e.To {
		return fmt.Sprintf("Order is already in status %s", e.From)
	}
	allowed := "none (final state)"
	if len(e.Allowed) > 0 {
		names := make([]string, len(e.Allowed))
		for i, s := range e.Allowed {
			names[i] = string(s)
		}
		allowed = strings.Join(names, ", ")
	}
	return fmt.Sprintf("Cannot transition from %s to %s. Allowed transitions: %s", e.From, e.To, allowed)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// NotFoundf wraps ErrNotFound with a human readable message.
func NotFoundf(format string, args ...any) error {
	return &detailError{sentinel: ErrNotFound, msg: fmt.Sprintf(format, args...)}
}

// InvalidStatef wraps ErrInvalidState with a human readable message.
func InvalidStatef(format string, args ...any) error {
	return &detailError{sentinel: ErrInvalidState, msg: fmt.Sprintf(format, args...)}
}

// Forbiddenf wraps ErrForbidden with a human readable message.
func Forbiddenf(format string, args ...any) error {
	return &detailError{sentinel: ErrForbidden, msg: fmt.Sprintf(format, args...)}
}

// detailError keeps the client-facing message free of the sentinel prefix.
type detailError struct {
	sentinel error
	msg      string
}

func (e *detailError) Error() string { return e.msg }

func (e *detailError) Unwrap() error { return e.sentinel }

// IsClientError reports whether err is caused by the request rather than a dependency.
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrValidation, ErrInvalidState, ErrInsufficientStock,
		ErrInvalidTransition, ErrDriverAlreadyAssigned, ErrForbidden, ErrUnauthorized,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
