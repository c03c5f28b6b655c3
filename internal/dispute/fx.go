package dispute

import (
	"github.com/smallbiznis/karma/internal/dispute/repository"
	"github.com/smallbiznis/karma/internal/dispute/service"
	"go.uber.org/fx"
)

var Module = fx.Module("dispute.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
