package payment

import (
	"github.com/smallbiznis/modulebilling/internal/payment/adapters"
	"github.com/smallbiznis/modulebilling/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.gateway",
	fx.Provide(adapters.NewDefaultRegistry),
	fx.Provide(service.NewService),
)
