package karma

import (
	"github.com/smallbiznis/karma/internal/karma/service"
	"go.uber.org/fx"
)

var Module = fx.Module("karma.service",
	fx.Provide(service.NewService),
)
