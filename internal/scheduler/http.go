package scheduler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/workflow-platform/internal/actorctx"
	"github.com/lyzr/workflow-platform/internal/apperr"
	"github.com/lyzr/workflow-platform/internal/models"
	"github.com/lyzr/workflow-platform/internal/webhookverify"
)

// MilestoneWaiter resolves response_mode=sync webhooks by polling for
// the triggering execution's first milestone log entry.
type MilestoneWaiter interface {
	FirstMilestone(ctx context.Context, executionID string) (*models.ExecutionLogEntry, error)
}

// Handler adapts a Service onto echo routes.
type Handler struct {
	svc          *Service
	githubVerify webhookverify.Verifier
	slackVerify  webhookverify.Verifier
	milestones   MilestoneWaiter
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service, githubVerify, slackVerify webhookverify.Verifier, milestones MilestoneWaiter) *Handler {
	return &Handler{svc: svc, githubVerify: githubVerify, slackVerify: slackVerify, milestones: milestones}
}

// RegisterRoutes wires every Scheduler route named in §6.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	e.Use(actorctx.Extract())

	e.POST("/deployments/:workflow_id", h.Deploy)
	e.DELETE("/deployments/:workflow_id", h.Undeploy)
	e.POST("/deployments/:workflow_id/pause", h.Pause)
	e.POST("/deployments/:workflow_id/resume", h.Resume)
	e.POST("/executions/workflows/:workflow_id/trigger", h.TriggerExecution)

	e.Any("/webhooks/*", h.Webhook)
	e.POST("/github/trigger", h.GithubTrigger)
	e.POST("/slack/events", h.SlackEvents)
	e.POST("/slack/commands", h.SlackCommands)
}

func respondErr(c echo.Context, err error) error {
	status, appErr := apperr.Respond(err)
	return c.JSON(status, appErr)
}

// Deploy handles POST /deployments/:workflow_id.
func (h *Handler) Deploy(c echo.Context) error {
	actor, aerr := actorctx.RequireActor(c)
	if aerr != nil {
		return aerr
	}
	result, err := h.svc.Deploy(c.Request().Context(), c.Param("workflow_id"), actor)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// Undeploy handles DELETE /deployments/:workflow_id.
func (h *Handler) Undeploy(c echo.Context) error {
	actor, aerr := actorctx.RequireActor(c)
	if aerr != nil {
		return aerr
	}
	if err := h.svc.Undeploy(c.Request().Context(), c.Param("workflow_id"), actor); err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "message": "undeployed"})
}

// Pause handles POST /deployments/:workflow_id/pause.
func (h *Handler) Pause(c echo.Context) error {
	actor, aerr := actorctx.RequireActor(c)
	if aerr != nil {
		return aerr
	}
	if err := h.svc.Pause(c.Request().Context(), c.Param("workflow_id"), actor); err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

// Resume handles POST /deployments/:workflow_id/resume.
func (h *Handler) Resume(c echo.Context) error {
	actor, aerr := actorctx.RequireActor(c)
	if aerr != nil {
		return aerr
	}
	if err := h.svc.Resume(c.Request().Context(), c.Param("workflow_id"), actor); err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

// TriggerExecution handles POST /executions/workflows/:workflow_id/trigger.
func (h *Handler) TriggerExecution(c echo.Context) error {
	actor, aerr := actorctx.RequireActor(c)
	if aerr != nil {
		return aerr
	}
	var req struct {
		NodeID          string         `json:"node_id"`
		TriggerMetadata map[string]any `json:"trigger_metadata"`
		InputData       map[string]any `json:"input_data"`
	}
	if err := c.Bind(&req); err != nil {
		return respondErr(c, apperr.Wrap(apperr.ValidationError, "invalid request body", err))
	}
	executionID, err := h.svc.TriggerExecution(c.Request().Context(), c.Param("workflow_id"), req.NodeID, req.TriggerMetadata, req.InputData, actor)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"execution_id": executionID})
}

// Webhook handles all methods under /webhooks/*path, matched by
// index_key = webhook:<path>:<method>.
func (h *Handler) Webhook(c echo.Context) error {
	path := strings.TrimPrefix(c.Request().URL.Path, "/webhooks")
	body := map[string]any{}
	_ = c.Bind(&body)

	actor := actorctx.Get(c)
	result, err := h.svc.PostWebhook(c.Request().Context(), path, c.Request().Method, body, actor)
	if err != nil {
		return respondErr(c, err)
	}

	if c.QueryParam("response_mode") == "sync" && result.Matched > 0 {
		return h.waitForMilestone(c, result.ExecutionIDs[0], result)
	}
	return c.JSON(http.StatusOK, result)
}

// waitForMilestone implements the §4.1 sync response mode: wait up to
// 10s for the triggering execution's first milestone log event, then
// degrade to an async ack.
func (h *Handler) waitForMilestone(c echo.Context, executionID string, fallback *IngestResult) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return c.JSON(http.StatusAccepted, fallback)
		case <-ticker.C:
			if milestone, err := h.milestones.FirstMilestone(ctx, executionID); err == nil {
				return c.JSON(http.StatusOK, milestone)
			}
		}
	}
}

// GithubTrigger handles POST /github/trigger.
func (h *Handler) GithubTrigger(c echo.Context) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return respondErr(c, apperr.Wrap(apperr.ValidationError, "failed to read request body", err))
	}
	if err := h.githubVerify.Verify(c.Request(), raw); err != nil {
		return respondErr(c, apperr.Wrap(apperr.AuthError, "github signature verification failed", err))
	}

	var req struct {
		EventType     string         `json:"event_type"`
		DeliveryID    string         `json:"delivery_id"`
		GithubPayload map[string]any `json:"github_payload"`
	}
	if err := bindJSON(raw, &req); err != nil {
		return respondErr(c, apperr.Wrap(apperr.ValidationError, "invalid request body", err))
	}

	actor := actorctx.Get(c)
	result, err := h.svc.PostGithubEvent(c.Request().Context(), req.EventType, req.DeliveryID, req.GithubPayload, actor)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// SlackEvents handles POST /slack/events, echoing the URL-verification
// challenge before signature verification touches the event routing
// path (Slack's challenge handshake carries no signature to verify
// against a registered trigger).
func (h *Handler) SlackEvents(c echo.Context) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return respondErr(c, apperr.Wrap(apperr.ValidationError, "failed to read request body", err))
	}

	var probe struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
	}
	_ = bindJSON(raw, &probe)
	if probe.Type == "url_verification" {
		return c.JSON(http.StatusOK, map[string]string{"challenge": probe.Challenge})
	}

	if err := h.slackVerify.Verify(c.Request(), raw); err != nil {
		return respondErr(c, apperr.Wrap(apperr.AuthError, "slack signature verification failed", err))
	}

	var payload map[string]any
	if err := bindJSON(raw, &payload); err != nil {
		return respondErr(c, apperr.Wrap(apperr.ValidationError, "invalid request body", err))
	}

	actor := actorctx.Get(c)
	result, err := h.svc.PostSlackEvent(c.Request().Context(), payload, actor)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func bindJSON(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// SlackCommands handles POST /slack/commands (form-encoded slash commands).
func (h *Handler) SlackCommands(c echo.Context) error {
	if err := c.Request().ParseForm(); err != nil {
		return respondErr(c, apperr.Wrap(apperr.ValidationError, "invalid form body", err))
	}
	payload := map[string]any{}
	for k := range c.Request().PostForm {
		payload[k] = c.Request().PostForm.Get(k)
	}
	teamID := c.Request().PostForm.Get("team_id")
	payload["team_id"] = teamID

	actor := actorctx.Get(c)
	result, err := h.svc.PostSlackEvent(c.Request().Context(), payload, actor)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, result)
}
