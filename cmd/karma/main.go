package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/karma/internal/abuse"
	"github.com/smallbiznis/karma/internal/audit"
	"github.com/smallbiznis/karma/internal/authorization"
	"github.com/smallbiznis/karma/internal/clock"
	"github.com/smallbiznis/karma/internal/config"
	"github.com/smallbiznis/karma/internal/dispute"
	"github.com/smallbiznis/karma/internal/identity"
	"github.com/smallbiznis/karma/internal/interaction"
	"github.com/smallbiznis/karma/internal/karma"
	"github.com/smallbiznis/karma/internal/ledger"
	"github.com/smallbiznis/karma/internal/migration"
	"github.com/smallbiznis/karma/internal/observability"
	"github.com/smallbiznis/karma/internal/oracle"
	"github.com/smallbiznis/karma/internal/ratelimit"
	"github.com/smallbiznis/karma/internal/rating"
	"github.com/smallbiznis/karma/internal/scheduler"
	"github.com/smallbiznis/karma/internal/score"
	"github.com/smallbiznis/karma/internal/server"
	"github.com/smallbiznis/karma/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		ratelimit.Module,

		// Functional Domains
		audit.Module,
		authorization.Module,
		identity.Module,
		interaction.Module,
		rating.Module,
		score.Module,
		ledger.Module,
		oracle.Module,
		abuse.Module,
		dispute.Module,
		karma.Module,

		// API, admin routes and background jobs in one process
		server.Module,
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
