package context

import (
	stdcontext "context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextValues(t *testing.T) {
	ctx := WithRequestID(stdcontext.Background(), " req-1 ")
	ctx = WithOrderID(ctx, "ORD-1")
	ctx = WithProvider(ctx, "")

	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "ORD-1", OrderIDFromContext(ctx))
	assert.Equal(t, "", ProviderFromContext(ctx))
	assert.Equal(t, "", RequestIDFromContext(nil))
}
