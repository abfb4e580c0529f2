package ussd

import (
	"context"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/paygate/internal/config"
	paymentservice "github.com/smallbiznis/paygate/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("ussd.engine",
	fx.Provide(provideGuard),
	fx.Provide(func(svc *paymentservice.Service) Providers { return svc }),
	fx.Provide(provideEngine),
)

type guardParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Cfg       config.Config
	Log       *zap.Logger
}

func provideGuard(p guardParams) Guard {
	memory := NewMemoryGuard()
	if !p.Cfg.Redis.Enabled() {
		return memory
	}

	client := redis.NewClient(&redis.Options{
		Addr:     strings.TrimSpace(p.Cfg.Redis.Addr),
		Password: strings.TrimSpace(p.Cfg.Redis.Password),
		DB:       p.Cfg.Redis.DB,
	})
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				p.Log.Warn("redis unreachable, in-flight guard will fail closed until it recovers", zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	p.Log.Info("ussd in-flight guard uses redis", zap.String("addr", p.Cfg.Redis.Addr))
	return NewGuard(memory, client)
}

func provideEngine(lc fx.Lifecycle, p Params) *Engine {
	engine := NewEngine(p)
	lc.Append(fx.Hook{OnStop: engine.Stop})
	return engine
}
