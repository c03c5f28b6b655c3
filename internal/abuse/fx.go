package abuse

import (
	"github.com/smallbiznis/karma/internal/abuse/repository"
	"github.com/smallbiznis/karma/internal/abuse/service"
	"go.uber.org/fx"
)

var Module = fx.Module("abuse.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
