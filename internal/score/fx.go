package score

import (
	"github.com/smallbiznis/karma/internal/score/repository"
	"github.com/smallbiznis/karma/internal/score/service"
	"go.uber.org/fx"
)

var Module = fx.Module("score.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
