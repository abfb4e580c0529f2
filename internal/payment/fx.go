package payment

import (
	"github.com/smallbiznis/paygate/internal/payment/adapters"
	"github.com/smallbiznis/paygate/internal/payment/providers"
	paymentservice "github.com/smallbiznis/paygate/internal/payment/service"
	"github.com/smallbiznis/paygate/internal/payment/webhook"
	settingsservice "github.com/smallbiznis/paygate/internal/paymentsettings/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	providers.Module,
	fx.Provide(adapters.ProvideRegistry),
	fx.Provide(func(store *settingsservice.Store) paymentservice.Settings { return store }),
	fx.Provide(paymentservice.NewService),
	fx.Provide(func(svc *paymentservice.Service) webhook.ProviderResolver { return svc }),
	fx.Provide(webhook.NewService),
)
