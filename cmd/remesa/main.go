package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/socioscloud/remesa/internal/audit"
	"github.com/socioscloud/remesa/internal/clock"
	"github.com/socioscloud/remesa/internal/config"
	"github.com/socioscloud/remesa/internal/lifecycle"
	"github.com/socioscloud/remesa/internal/migration"
	"github.com/socioscloud/remesa/internal/remittance"
	"github.com/socioscloud/remesa/internal/vault"
	"github.com/socioscloud/remesa/pkg/db"
	"github.com/socioscloud/remesa/pkg/log"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		log.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		vault.Module,

		// Functional domains
		lifecycle.Module,
		audit.Module,
		remittance.Module,

		migration.Module,
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
