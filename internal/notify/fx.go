package notify

import (
	"github.com/smallbiznis/paygate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notify",
	fx.Provide(providePublisher),
	fx.Provide(provideDispatcher),
	fx.Provide(func(d *Dispatcher) Notifier { return d }),
)

// A broker that cannot be reached at startup degrades to log delivery so
// payments keep flowing.
func providePublisher(cfg config.Config, log *zap.Logger) Publisher {
	if !cfg.AMQP.Enabled() {
		return NewLogPublisher(log)
	}
	publisher, err := NewAMQPPublisher(cfg.AMQP, log)
	if err != nil {
		log.Error("amqp unavailable, notifications go to the log", zap.Error(err))
		return NewLogPublisher(log)
	}
	return publisher
}

func provideDispatcher(lc fx.Lifecycle, log *zap.Logger, publisher Publisher) *Dispatcher {
	d := NewDispatcher(log, publisher, defaultBufferSize)
	lc.Append(fx.Hook{
		OnStart: d.Start,
		OnStop:  d.Stop,
	})
	return d
}
