package liability

import (
	"github.com/smallbiznis/chainstream/internal/liability/service"
	"go.uber.org/fx"
)

var Module = fx.Module("liability.service",
	fx.Provide(service.NewService),
)
