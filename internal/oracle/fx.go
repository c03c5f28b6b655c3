package oracle

import (
	"github.com/smallbiznis/karma/internal/oracle/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("oracle",
	fx.Provide(repository.Provide),
)
