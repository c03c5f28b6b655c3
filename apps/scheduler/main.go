package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/karma/internal/abuse"
	"github.com/smallbiznis/karma/internal/audit"
	"github.com/smallbiznis/karma/internal/clock"
	"github.com/smallbiznis/karma/internal/config"
	"github.com/smallbiznis/karma/internal/ledger"
	"github.com/smallbiznis/karma/internal/observability"
	"github.com/smallbiznis/karma/internal/oracle"
	"github.com/smallbiznis/karma/internal/ratelimit"
	"github.com/smallbiznis/karma/internal/rating"
	"github.com/smallbiznis/karma/internal/scheduler"
	"github.com/smallbiznis/karma/internal/score"
	"github.com/smallbiznis/karma/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		ratelimit.Module,

		// Domain services required by scheduler
		audit.Module,
		rating.Module,
		score.Module,
		oracle.Module,
		ledger.Module,
		abuse.Module,

		// Jobs only, the API runs in apps/api
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
