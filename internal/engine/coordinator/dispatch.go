package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lyzr/workflow-platform/internal/apperr"
	"github.com/lyzr/workflow-platform/internal/engine/compiler"
	"github.com/lyzr/workflow-platform/internal/models"
	"github.com/lyzr/workflow-platform/internal/resolver"
	"github.com/lyzr/workflow-platform/internal/runner"
)

// dispatchToken is what gets marshaled onto a worker stream for a
// non-inline node. The worker unmarshals it, builds its own
// runner.Context, executes the matching runner, and pushes a
// CompletionSignal back onto CompletionQueue.
type dispatchToken struct {
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	NodeID      string         `json:"node_id"`
	Type        models.NodeType `json:"type"`
	Subtype     string         `json:"subtype"`
	Config      map[string]any `json:"config"`
	Input       map[string]any `json:"input"`
	TriggerInfo models.TriggerInfo `json:"trigger_info"`
	StaticData  map[string]any `json:"static_data"`
	Actor       string         `json:"actor"`
}

// buildContext resolves nodeDef's configuration and assembles the
// runner.Context a node's runner executes against.
func (co *Coordinator) buildContext(ctx context.Context, execution *models.Execution, wf *models.Workflow, nodeDef *models.Node, inputs map[string]any) (*runner.Context, error) {
	rctx := co.resolverContext(execution, wf)
	config := resolver.ResolveConfig(nodeDef.Configurations, rctx)

	return &runner.Context{
		ExecutionID: execution.ExecutionID,
		WorkflowID:  wf.ID,
		Node:        nodeDef,
		Config:      config,
		Input:       inputs,
		TriggerInfo: execution.TriggerInfo,
		StaticData:  wf.StaticData,
		Actor:       execution.Actor,
		Credentials: co.credentials,
		Logger:      co.logger,
	}, nil
}

// dispatchNode runs an inline node synchronously in-process, or
// publishes a dispatch token to the node kind's worker stream.
func (co *Coordinator) dispatchNode(ctx context.Context, execution *models.Execution, wf *models.Workflow, ir *compiler.IR, nodeID string, inputs map[string]any) error {
	nodeDef := ir.NodeDef(nodeID)
	if nodeDef == nil {
		return apperr.New(apperr.Internal, "node missing from compiled graph: "+nodeID)
	}

	if runner.IsInline(nodeDef.Type) {
		return co.dispatchInline(ctx, execution, wf, ir, nodeDef, inputs)
	}

	rctx := co.resolverContext(execution, wf)
	config := resolver.ResolveConfig(nodeDef.Configurations, rctx)

	token := dispatchToken{
		ExecutionID: execution.ExecutionID,
		WorkflowID:  wf.ID,
		NodeID:      nodeID,
		Type:        nodeDef.Type,
		Subtype:     nodeDef.Subtype,
		Config:      config,
		Input:       inputs,
		TriggerInfo: execution.TriggerInfo,
		StaticData:  wf.StaticData,
		Actor:       execution.Actor,
	}
	payload, err := json.Marshal(token)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to marshal dispatch token", err)
	}

	stream := runner.StreamForType(nodeDef.Type)
	if stream == "" {
		return apperr.New(apperr.Internal, fmt.Sprintf("no dispatch stream for node type %s", nodeDef.Type))
	}
	if _, err := co.redis.AddToStream(ctx, stream, map[string]interface{}{"token": string(payload)}); err != nil {
		return apperr.Wrap(apperr.Internal, "failed to publish dispatch token", err)
	}
	co.logMilestone(ctx, execution.ExecutionID, nodeID, "dispatched to "+stream)
	return nil
}

// dispatchInline runs a TRIGGER/FLOW/TOOL/MEMORY node's runner
// synchronously, recording its result and recursing into advance within
// the same call stack. FLOW.IF/SWITCH route by emitting on a non-"main"
// port, which gatherInputs then treats the untaken branch's edges as
// resolved-but-not-activated.
func (co *Coordinator) dispatchInline(ctx context.Context, execution *models.Execution, wf *models.Workflow, ir *compiler.IR, nodeDef *models.Node, inputs map[string]any) error {
	run, ok := co.registry.Get(nodeDef.Type, nodeDef.Subtype)
	if !ok {
		return apperr.New(apperr.Internal, fmt.Sprintf("no runner registered for %s.%s", nodeDef.Type, nodeDef.Subtype))
	}

	rc, err := co.buildContext(ctx, execution, wf, nodeDef, inputs)
	if err != nil {
		return err
	}

	started := time.Now().UTC()
	result, err := run.Execute(ctx, rc)
	if err != nil {
		result = models.NodeExecutionResult{
			Status:       models.NodeError,
			ErrorMessage: err.Error(),
			StartedAt:    started,
			FinishedAt:   time.Now().UTC(),
		}
	}
	if result.OutputPort == "" {
		result.OutputPort = "main"
	}
	if result.StartedAt.IsZero() {
		result.StartedAt = started
	}
	if result.FinishedAt.IsZero() {
		result.FinishedAt = time.Now().UTC()
	}

	if err := co.recordResult(ctx, execution, nodeDef.ID, result); err != nil {
		return err
	}
	co.advance(ctx, execution, wf, ir, nodeDef.ID)
	return nil
}

// pauseExecution persists a HUMAN_LOOP node's suspension, recording the
// frontier of not-yet-dispatched dependents so Resume knows where to
// continue.
func (co *Coordinator) pauseExecution(ctx context.Context, execution *models.Execution, nodeID string, result models.NodeExecutionResult, ir *compiler.IR) error {
	const defaultPauseTimeout = 5 * time.Minute
	pending := &models.PendingPause{
		NodeID:            nodeID,
		TimeoutAt:         time.Now().UTC().Add(defaultPauseTimeout),
		RemainingFrontier: ir.Nodes[nodeID].Dependents,
	}
	if v, ok := result.OutputData["interaction_id"].(string); ok {
		pending.InteractionID = v
	}
	if v, ok := result.OutputData["channel_config"].(map[string]any); ok {
		pending.ChannelConfig = v
	}
	if v, ok := result.OutputData["question"].(string); ok {
		pending.Question = v
	}
	// "timeout" is the HUMAN_LOOP payload's duration in seconds, per
	// SPEC_FULL.md §4.2's pause/resume payload description.
	if v, ok := result.OutputData["timeout"].(float64); ok && v > 0 {
		pending.TimeoutAt = time.Now().UTC().Add(time.Duration(v) * time.Second)
	}
	if v, ok := result.OutputData["timeout_at"].(time.Time); ok {
		pending.TimeoutAt = v
	}
	if v, ok := result.OutputData["timeout_branch"].([]string); ok {
		pending.TimeoutBranch = v
	} else if v, ok := result.OutputData["timeout_branch"].([]any); ok {
		for _, s := range v {
			if str, ok := s.(string); ok {
				pending.TimeoutBranch = append(pending.TimeoutBranch, str)
			}
		}
	}
	if v, ok := result.OutputData["approved_message"].(string); ok {
		pending.ApprovedMessage = v
	}
	if v, ok := result.OutputData["rejected_message"].(string); ok {
		pending.RejectedMessage = v
	}
	if v, ok := result.OutputData["timeout_message"].(string); ok {
		pending.TimeoutMessage = v
	}

	execution.Status = models.ExecutionPaused
	execution.PendingPause = pending
	if err := co.executions.UpdateStatus(ctx, execution); err != nil {
		return apperr.Wrap(apperr.Internal, "failed to persist pending pause", err)
	}
	co.logMilestone(ctx, execution.ExecutionID, nodeID, "paused: awaiting human interaction")
	return nil
}
