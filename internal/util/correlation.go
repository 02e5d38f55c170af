package util

import (
	"context"

	"github.com/google/uuid"
)

// CorrelationHeader carries the request id across HTTP and into published events.
const CorrelationHeader = "X-Request-ID"

type correlationKey struct{}

// WithCorrelationID stores id in ctx. An empty id is replaced by a fresh one.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id stored by WithCorrelationID, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
