package paymentsettings

import (
	"github.com/smallbiznis/paygate/internal/paymentsettings/repository"
	"github.com/smallbiznis/paygate/internal/paymentsettings/service"
	"go.uber.org/fx"
)

var Module = fx.Module("paymentsettings.store",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
