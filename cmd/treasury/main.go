package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/chainstream/internal/clock"
	"github.com/smallbiznis/chainstream/internal/config"
	"github.com/smallbiznis/chainstream/internal/events"
	"github.com/smallbiznis/chainstream/internal/ledger"
	"github.com/smallbiznis/chainstream/internal/liability"
	"github.com/smallbiznis/chainstream/internal/observability"
	"github.com/smallbiznis/chainstream/internal/payment"
	"github.com/smallbiznis/chainstream/internal/ratelimit"
	"github.com/smallbiznis/chainstream/internal/route"
	"github.com/smallbiznis/chainstream/internal/scheduler"
	"github.com/smallbiznis/chainstream/internal/server"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		clock.Module,
		events.Module,
		ratelimit.Module,

		// Treasury domains
		liability.Module,
		route.Module,
		ledger.Module,
		payment.Module,

		scheduler.Module,
		server.Module,
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
