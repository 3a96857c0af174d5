package module

import (
	"github.com/smallbiznis/modulebilling/internal/module/hooks"
	"github.com/smallbiznis/modulebilling/internal/module/registry"
	"go.uber.org/fx"
)

var Module = fx.Module("module.registry",
	fx.Provide(registry.Provide),
	fx.Provide(hooks.NewRegistry),
)
