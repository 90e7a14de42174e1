package engine

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/workflow-platform/internal/actorctx"
	"github.com/lyzr/workflow-platform/internal/apperr"
)

// Handler adapts a Service onto echo routes.
type Handler struct {
	svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes wires every Engine route named in §6.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	e.Use(actorctx.Extract())

	e.POST("/v1/workflows/:id/execute", h.Execute)
	e.GET("/v1/executions/:id", h.GetExecution)
	e.POST("/v1/executions/:id/cancel", h.CancelExecution)
	e.POST("/v1/executions/:id/resume", h.ResumeExecution)
	e.POST("/v1/workflows/:id/nodes/:node_id/execute", h.ExecuteSingleNode)
	e.GET("/v1/workflows/:id/executions", h.ExecutionHistory)
}

func respondErr(c echo.Context, err error) error {
	status, appErr := apperr.Respond(err)
	return c.JSON(status, appErr)
}

// Execute handles POST /v1/workflows/:id/execute.
func (h *Handler) Execute(c echo.Context) error {
	var req struct {
		NodeID      string         `json:"node_id"`
		TriggerInfo map[string]any `json:"trigger_info"`
		InputData   map[string]any `json:"input_data"`
		Actor       string         `json:"actor"`
	}
	if err := c.Bind(&req); err != nil {
		return respondErr(c, apperr.Wrap(apperr.ValidationError, "invalid request body", err))
	}
	actor := req.Actor
	if headerActor := actorctx.Get(c); headerActor != "" {
		actor = headerActor
	}

	execution, err := h.svc.Execute(c.Request().Context(), c.Param("id"), req.NodeID, req.TriggerInfo, req.InputData, actor)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"execution_id": execution.ExecutionID})
}

// GetExecution handles GET /v1/executions/:id.
func (h *Handler) GetExecution(c echo.Context) error {
	execution, err := h.svc.GetExecution(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, execution)
}

// CancelExecution handles POST /v1/executions/:id/cancel.
func (h *Handler) CancelExecution(c echo.Context) error {
	if err := h.svc.CancelExecution(c.Request().Context(), c.Param("id")); err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

// ResumeExecution handles POST /v1/executions/:id/resume.
func (h *Handler) ResumeExecution(c echo.Context) error {
	var req struct {
		InteractionID string         `json:"interaction_id"`
		Approved      *bool          `json:"approved,omitempty"`
		OutputPort    string         `json:"output_port,omitempty"`
		ResumeData    map[string]any `json:"resume_data,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return respondErr(c, apperr.Wrap(apperr.ValidationError, "invalid request body", err))
	}

	resumeData := map[string]any{"interaction_id": req.InteractionID}
	for k, v := range req.ResumeData {
		resumeData[k] = v
	}
	if req.Approved != nil {
		resumeData["approved"] = *req.Approved
	}
	if req.OutputPort != "" {
		resumeData["output_port"] = req.OutputPort
	}

	execution, err := h.svc.ResumeExecution(c.Request().Context(), c.Param("id"), resumeData)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, execution)
}

// ExecuteSingleNode handles POST /v1/workflows/:id/nodes/:node_id/execute.
func (h *Handler) ExecuteSingleNode(c echo.Context) error {
	actor, aerr := actorctx.RequireActor(c)
	if aerr != nil {
		return aerr
	}
	var req struct {
		InputData map[string]any `json:"input_data"`
	}
	if err := c.Bind(&req); err != nil {
		return respondErr(c, apperr.Wrap(apperr.ValidationError, "invalid request body", err))
	}

	result, err := h.svc.ExecuteSingleNode(c.Request().Context(), c.Param("id"), c.Param("node_id"), req.InputData, actor)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// ExecutionHistory handles GET /v1/workflows/:id/executions.
func (h *Handler) ExecutionHistory(c echo.Context) error {
	limit := DefaultHistoryPageSize
	if raw := c.QueryParam("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	executions, err := h.svc.ExecutionHistory(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"executions": executions})
}
