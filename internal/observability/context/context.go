package context

import (
	stdcontext "context"
	"strings"
)

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	orderIDKey   ctxKey = "order_id"
	providerKey  ctxKey = "provider"
)

func WithRequestID(ctx stdcontext.Context, requestID string) stdcontext.Context {
	return withValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx stdcontext.Context) string {
	return valueFrom(ctx, requestIDKey)
}

// WithOrderID tags ctx with the payment order being worked on.
func WithOrderID(ctx stdcontext.Context, orderID string) stdcontext.Context {
	return withValue(ctx, orderIDKey, orderID)
}

func OrderIDFromContext(ctx stdcontext.Context) string {
	return valueFrom(ctx, orderIDKey)
}

func WithProvider(ctx stdcontext.Context, provider string) stdcontext.Context {
	return withValue(ctx, providerKey, provider)
}

func ProviderFromContext(ctx stdcontext.Context) string {
	return valueFrom(ctx, providerKey)
}

func withValue(ctx stdcontext.Context, key ctxKey, value string) stdcontext.Context {
	if ctx == nil {
		ctx = stdcontext.Background()
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return ctx
	}
	return stdcontext.WithValue(ctx, key, value)
}

func valueFrom(ctx stdcontext.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(key).(string)
	return value
}
