package ussd

import (
	"context"
	"os"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGuardSingleHolder(t *testing.T) {
	ctx := context.Background()
	guard := NewMemoryGuard()

	release, err := guard.Acquire(ctx, "ORD-1", time.Minute)
	require.NoError(t, err)
	_, err = guard.Acquire(ctx, "ORD-1", time.Minute)
	assert.ErrorIs(t, err, ErrAlreadyInFlight)

	other, err := guard.Acquire(ctx, "ORD-2", time.Minute)
	require.NoError(t, err)
	other(ctx)

	release(ctx)
	release(ctx)
	again, err := guard.Acquire(ctx, "ORD-1", time.Minute)
	require.NoError(t, err)
	again(ctx)
}

type failingGuard struct{ err error }

func (f failingGuard) Acquire(context.Context, string, time.Duration) (Release, error) {
	return nil, f.err
}

func TestChainGuardUnwindsOnFailure(t *testing.T) {
	ctx := context.Background()
	memory := NewMemoryGuard()
	chain := chainGuard{memory, failingGuard{err: ErrAlreadyInFlight}}

	_, err := chain.Acquire(ctx, "ORD-1", time.Minute)
	assert.ErrorIs(t, err, ErrAlreadyInFlight)

	release, err := memory.Acquire(ctx, "ORD-1", time.Minute)
	require.NoError(t, err)
	release(ctx)
}

func TestRedisGuard(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())

	first := NewRedisGuard(client)
	second := NewRedisGuard(client)

	release, err := first.Acquire(ctx, t.Name(), time.Minute)
	require.NoError(t, err)
	_, err = second.Acquire(ctx, t.Name(), time.Minute)
	assert.ErrorIs(t, err, ErrAlreadyInFlight)

	release(ctx)
	again, err := second.Acquire(ctx, t.Name(), time.Minute)
	require.NoError(t, err)
	again(ctx)
}
