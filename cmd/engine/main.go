// Command engine runs the Engine service: the compiler, coordinator, and
// timeout supervisor behind the HTTP operations named in SPEC_FULL.md §6
// (execute, get/cancel/resume execution, execute-single-node, execution
// history).
//
// Grounded on cmd/orchestrator/main.go's Echo setup/middleware/routes
// split, adapted to the Engine's own handler and a background
// coordinator completion-signal loop plus a timeout sweeper running
// alongside the HTTP server.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/lyzr/workflow-platform/common/bootstrap"
	"github.com/lyzr/workflow-platform/internal/engine"
	"github.com/lyzr/workflow-platform/internal/engine/coordinator"
	"github.com/lyzr/workflow-platform/internal/engine/supervisor"
	"github.com/lyzr/workflow-platform/internal/wiring"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := bootstrap.Setup(ctx, "engine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap engine: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	platform, err := wiring.Build(components)
	if err != nil {
		components.Logger.Error("failed to wire platform dependencies", "error", err)
		os.Exit(1)
	}

	coord := coordinator.New(
		platform.Workflows,
		platform.Executions,
		platform.ExecutionLogs,
		platform.Redis,
		platform.SDK,
		platform.Registry,
		platform.Evaluator,
		platform.Broker,
		components.Logger,
		nil,
	)
	go func() {
		if err := coord.Start(ctx); err != nil && ctx.Err() == nil {
			components.Logger.Error("coordinator loop exited", "error", err)
		}
	}()

	sweeper := supervisor.NewTimeoutSweeper(platform.Executions, coord, components.Logger)
	go func() {
		if err := sweeper.Start(ctx); err != nil && ctx.Err() == nil {
			components.Logger.Error("timeout sweeper exited", "error", err)
		}
	}()

	svc := engine.NewService(coord, platform.Executions)
	handler := engine.NewHandler(svc)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok", "service": "engine"})
	})
	engine.RegisterRoutes(e, handler)

	components.Logger.Info("engine ready", "port", components.Config.Service.Port)
	if err := e.Start(fmt.Sprintf(":%d", components.Config.Service.Port)); err != nil {
		components.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
