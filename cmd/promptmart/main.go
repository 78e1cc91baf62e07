package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/promptmart/internal/clock"
	"github.com/smallbiznis/promptmart/internal/config"
	"github.com/smallbiznis/promptmart/internal/migration"
	"github.com/smallbiznis/promptmart/internal/observability"
	"github.com/smallbiznis/promptmart/internal/scheduler"
	"github.com/smallbiznis/promptmart/internal/server"
	"github.com/smallbiznis/promptmart/pkg/db"
	"go.uber.org/fx"
)

// Single-process deployment: HTTP API and background jobs together.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		server.Domains,
		server.Module,

		scheduler.Module,
		scheduler.Invoke,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
