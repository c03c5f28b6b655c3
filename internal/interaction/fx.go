package interaction

import (
	"github.com/smallbiznis/karma/internal/interaction/domain"
	"github.com/smallbiznis/karma/internal/interaction/repository"
	"github.com/smallbiznis/karma/internal/interaction/service"
	"go.uber.org/fx"
)

var Module = fx.Module("interaction.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(svc domain.Service) domain.Log { return svc }),
)
