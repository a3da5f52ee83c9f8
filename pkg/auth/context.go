package auth

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Context keys for authentication data
type contextKey string

const (
	// ContextKeyCaller is the context key for the authenticated caller address
	ContextKeyCaller contextKey = "caller_address"
	// ContextKeyRequestID is the context key for the request ID
	ContextKeyRequestID contextKey = "request_id"
)

// WithCaller adds the authenticated caller address to the context
func WithCaller(ctx context.Context, address common.Address) context.Context {
	return context.WithValue(ctx, ContextKeyCaller, address)
}

// CallerFromContext retrieves the authenticated caller address from the context
func CallerFromContext(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(ContextKeyCaller).(common.Address)
	return addr, ok
}

// WithRequestID adds the request ID to the context
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, id)
}

// RequestIDFromContext retrieves the request ID from the context
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ContextKeyRequestID).(string)
	return id, ok
}
