// Command scheduler runs the Scheduler service: workflow deploy/undeploy/
// pause/resume, the trigger index, inbound webhook/GitHub/Slack event
// ingestion, and the CRON driver, per SPEC_FULL.md §4.1 and §6.
//
// Grounded on cmd/orchestrator/main.go's Echo setup/middleware/routes
// split, generalized to also start the CRON driver's background
// goroutine alongside the HTTP server.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/lyzr/workflow-platform/common/bootstrap"
	"github.com/lyzr/workflow-platform/internal/distlock"
	"github.com/lyzr/workflow-platform/internal/engine/client"
	"github.com/lyzr/workflow-platform/internal/scheduler"
	"github.com/lyzr/workflow-platform/internal/scheduler/cron"
	"github.com/lyzr/workflow-platform/internal/webhookverify"
	"github.com/lyzr/workflow-platform/internal/wiring"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := bootstrap.Setup(ctx, "scheduler")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap scheduler: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	platform, err := wiring.Build(components)
	if err != nil {
		components.Logger.Error("failed to wire platform dependencies", "error", err)
		os.Exit(1)
	}

	engineClient := client.New(getEnv("ENGINE_URL", "http://localhost:8081"))
	locker := distlock.New(platform.Redis)

	var svc *scheduler.Service
	cronDriver := cron.New(locker, components.Logger, func(fireCtx context.Context, workflowID, nodeID string) {
		if _, err := svc.TriggerExecution(fireCtx, workflowID, nodeID, map[string]any{"type": "CRON"}, nil, "scheduler"); err != nil {
			components.Logger.Error("cron-triggered execution failed", "workflow_id", workflowID, "error", err)
		}
	})
	cronDriver.Start()
	defer cronDriver.Stop()

	svc = scheduler.New(platform.Workflows, platform.TriggerIndex, engineClient, cronDriver)

	githubVerify, err := webhookverify.New(webhookverify.Config{
		Strategy: githubVerifyStrategy(components.Config.Platform.GithubWebhookSecret),
		Secret:   components.Config.Platform.GithubWebhookSecret,
		Header:   "X-Hub-Signature-256",
	})
	if err != nil {
		components.Logger.Error("failed to configure github webhook verifier", "error", err)
		os.Exit(1)
	}
	slackVerify, err := webhookverify.New(webhookverify.Config{
		Strategy:        githubVerifyStrategy(components.Config.Platform.SlackSigningSecret),
		Secret:          components.Config.Platform.SlackSigningSecret,
		Header:          "X-Slack-Signature",
		TimestampHeader: "X-Slack-Request-Timestamp",
	})
	if err != nil {
		components.Logger.Error("failed to configure slack webhook verifier", "error", err)
		os.Exit(1)
	}

	handler := scheduler.NewHandler(svc, githubVerify, slackVerify, platform.ExecutionLogs)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok", "service": "scheduler"})
	})
	scheduler.RegisterRoutes(e, handler)

	components.Logger.Info("scheduler ready", "port", components.Config.Service.Port)
	if err := e.Start(fmt.Sprintf(":%d", components.Config.Service.Port)); err != nil {
		components.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// githubVerifyStrategy selects "none" when no secret is configured so a
// development deployment without GITHUB_WEBHOOK_SECRET/SLACK_SIGNING_SECRET
// set doesn't fail to start.
func githubVerifyStrategy(secret string) string {
	if secret == "" {
		return "none"
	}
	return "hmac"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
