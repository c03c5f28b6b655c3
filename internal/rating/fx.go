package rating

import (
	"github.com/smallbiznis/karma/internal/rating/repository"
	"github.com/smallbiznis/karma/internal/rating/service"
	"go.uber.org/fx"
)

var Module = fx.Module("rating.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
