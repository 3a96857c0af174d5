package credential

import (
	"github.com/smallbiznis/modulebilling/internal/credential/repository"
	"github.com/smallbiznis/modulebilling/internal/credential/service"
	"go.uber.org/fx"
)

var Module = fx.Module("credential.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
