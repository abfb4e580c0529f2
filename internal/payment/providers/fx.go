package providers

import (
	"github.com/smallbiznis/paygate/internal/config"
	"github.com/smallbiznis/paygate/internal/payment/domain"
	"github.com/smallbiznis/paygate/internal/payment/providers/beem"
	"github.com/smallbiznis/paygate/internal/payment/providers/flutterwave"
	"github.com/smallbiznis/paygate/internal/payment/providers/httpclient"
	"github.com/smallbiznis/paygate/internal/payment/providers/mock"
	"github.com/smallbiznis/paygate/internal/payment/providers/paypal"
	"github.com/smallbiznis/paygate/internal/payment/providers/stripe"
	"github.com/smallbiznis/paygate/internal/payment/providers/zenopay"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.providers",
	fx.Provide(provideHTTPConfig),
	fx.Provide(Provide),
)

type Params struct {
	fx.In

	Log  *zap.Logger
	HTTP httpclient.Config
}

type Result struct {
	fx.Out

	Providers []domain.Provider `group:"payment_providers,flatten"`
}

// Provide builds every provider variant into the payment_providers group.
func Provide(p Params) Result {
	log := p.Log.Named("payment.providers")
	return Result{Providers: []domain.Provider{
		zenopay.New(p.HTTP, log),
		paypal.New(p.HTTP, log),
		stripe.New(p.HTTP, log),
		flutterwave.New(p.HTTP, log),
		beem.New(p.HTTP, log),
		mock.New(),
	}}
}

// Breaker settings are read once; a restart picks up changes.
func provideHTTPConfig(holder *config.PaymentsConfigHolder) httpclient.Config {
	cfg := holder.Get().ProviderHTTP
	return httpclient.Config{
		Timeout:             cfg.Timeout,
		MaxHalfOpenRequests: cfg.MaxHalfOpenRequests,
		Interval:            cfg.Interval,
		OpenTimeout:         cfg.OpenTimeout,
		ConsecutiveFailures: cfg.ConsecutiveFailures,
	}
}
