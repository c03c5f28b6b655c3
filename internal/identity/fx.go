package identity

import (
	"github.com/smallbiznis/karma/internal/identity/domain"
	"github.com/smallbiznis/karma/internal/identity/repository"
	"github.com/smallbiznis/karma/internal/identity/service"
	"go.uber.org/fx"
)

var Module = fx.Module("identity.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(svc domain.Service) domain.Registry { return svc }),
)
