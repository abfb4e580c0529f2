package ussd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const (
	guardKeyFormat = "paygate:ussd:inflight:%s"

	releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`
)

// Release frees a guard slot. It is safe to call more than once.
type Release func(ctx context.Context)

// Guard admits at most one live session per order id.
type Guard interface {
	Acquire(ctx context.Context, orderID string, ttl time.Duration) (Release, error)
}

// MemoryGuard is the in-process guard.
type MemoryGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{held: map[string]struct{}{}}
}

func (g *MemoryGuard) Acquire(_ context.Context, orderID string, _ time.Duration) (Release, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[orderID]; ok {
		return nil, ErrAlreadyInFlight
	}
	g.held[orderID] = struct{}{}

	var once sync.Once
	return func(context.Context) {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, orderID)
			g.mu.Unlock()
		})
	}, nil
}

// RedisGuard holds a SETNX lock per order so that several instances agree.
// The lock value is a random token; release deletes the key only while the
// token still matches.
type RedisGuard struct {
	client redis.UniversalClient
	script *redis.Script
}

func NewRedisGuard(client redis.UniversalClient) *RedisGuard {
	if client == nil {
		return nil
	}
	return &RedisGuard{client: client, script: redis.NewScript(releaseScript)}
}

func (g *RedisGuard) Acquire(ctx context.Context, orderID string, ttl time.Duration) (Release, error) {
	if g == nil || g.client == nil {
		return nil, errors.New("redis guard not configured")
	}
	if strings.TrimSpace(orderID) == "" {
		return nil, errors.New("guard key is empty")
	}
	if ttl <= 0 {
		return nil, errors.New("guard ttl must be positive")
	}

	key := fmt.Sprintf(guardKeyFormat, orderID)
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire in-flight lock: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyInFlight
	}

	var once sync.Once
	return func(ctx context.Context) {
		once.Do(func() {
			_ = g.script.Run(ctx, g.client, []string{key}, token).Err()
		})
	}, nil
}

// chainGuard acquires every guard in order and unwinds on the first failure.
type chainGuard []Guard

func (c chainGuard) Acquire(ctx context.Context, orderID string, ttl time.Duration) (Release, error) {
	releases := make([]Release, 0, len(c))
	releaseAll := func(ctx context.Context) {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i](ctx)
		}
	}
	for _, guard := range c {
		release, err := guard.Acquire(ctx, orderID, ttl)
		if err != nil {
			releaseAll(ctx)
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}

// NewGuard returns the memory guard, chained with redis when a client is given.
func NewGuard(memory *MemoryGuard, client redis.UniversalClient) Guard {
	if client == nil {
		return memory
	}
	return chainGuard{memory, NewRedisGuard(client)}
}
