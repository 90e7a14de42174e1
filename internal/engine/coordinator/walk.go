package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lyzr/workflow-platform/internal/apperr"
	"github.com/lyzr/workflow-platform/internal/engine/compiler"
	"github.com/lyzr/workflow-platform/internal/models"
	"github.com/lyzr/workflow-platform/internal/resolver"
)

// handleCompletionSignal is invoked for every message popped off
// CompletionQueue by Start. Reloads execution and workflow state fresh
// (no IR caching) and advances the graph from the signal's node.
func (co *Coordinator) handleCompletionSignal(ctx context.Context, raw string) {
	var signal CompletionSignal
	if err := json.Unmarshal([]byte(raw), &signal); err != nil {
		co.logger.Error("failed to unmarshal completion signal", "error", err)
		return
	}

	execution, err := co.executions.GetByID(ctx, signal.ExecutionID)
	if err != nil {
		co.logger.Error("completion signal references unknown execution", "execution_id", signal.ExecutionID, "error", err)
		return
	}
	if execution.Status == models.ExecutionCanceled {
		return
	}

	wf, err := co.workflows.GetByID(ctx, execution.WorkflowID)
	if err != nil {
		co.logger.Error("completion signal references unknown workflow", "workflow_id", execution.WorkflowID, "error", err)
		return
	}
	ir, err := compiler.Compile(wf)
	if err != nil {
		co.logger.Error("failed to compile workflow graph on completion", "workflow_id", wf.ID, "error", err)
		return
	}

	var outputData map[string]any
	if signal.OutputRef != "" {
		loaded, err := co.sdk.LoadOutput(ctx, signal.OutputRef)
		if err != nil {
			co.logger.Error("failed to load node output from storage", "ref", signal.OutputRef, "error", err)
		} else {
			outputData = loaded
		}
	}

	result := models.NodeExecutionResult{
		Status:       signal.Status,
		OutputData:   outputData,
		OutputPort:   signal.OutputPort,
		ErrorMessage: signal.ErrorMessage,
		ErrorDetails: signal.ErrorDetails,
		StartedAt:    signal.StartedAt,
		FinishedAt:   signal.FinishedAt,
	}
	if result.OutputPort == "" {
		result.OutputPort = "main"
	}

	if err := co.recordResult(ctx, execution, signal.NodeID, result); err != nil {
		co.logger.Error("failed to record node result", "execution_id", execution.ExecutionID, "node_id", signal.NodeID, "error", err)
		return
	}
	co.advance(ctx, execution, wf, ir, signal.NodeID)
}

func (co *Coordinator) recordResult(ctx context.Context, execution *models.Execution, nodeID string, result models.NodeExecutionResult) error {
	if execution.NodeResults == nil {
		execution.NodeResults = make(map[string]models.NodeExecutionResult)
	}
	execution.NodeResults[nodeID] = result
	execution.ExecutionSequence = append(execution.ExecutionSequence, nodeID)
	if err := co.executions.RecordNodeResult(ctx, execution.ExecutionID, nodeID, result); err != nil {
		return apperr.Wrap(apperr.Internal, "failed to persist node result", err)
	}
	if err := co.sdk.Consume(ctx, execution.ExecutionID, nodeID); err != nil {
		co.logger.Warn("failed to consume counter", "execution_id", execution.ExecutionID, "node_id", nodeID, "error", err)
	}
	return nil
}

// recordSkipped records nodeID's SKIPPED result without adding it to
// ExecutionSequence: a node a branching decision never activated was
// never attempted, so it must not appear among the nodes attempted.
func (co *Coordinator) recordSkipped(ctx context.Context, execution *models.Execution, nodeID string, result models.NodeExecutionResult) error {
	if execution.NodeResults == nil {
		execution.NodeResults = make(map[string]models.NodeExecutionResult)
	}
	execution.NodeResults[nodeID] = result
	if err := co.executions.RecordNodeResult(ctx, execution.ExecutionID, nodeID, result); err != nil {
		return apperr.Wrap(apperr.Internal, "failed to persist node result", err)
	}
	return nil
}

// advance reacts to completedNodeID's freshly-recorded result: it either
// pauses, fails, or fans out to every dependent node whose inbound edges
// are now satisfied, finishing the execution once nothing remains.
func (co *Coordinator) advance(ctx context.Context, execution *models.Execution, wf *models.Workflow, ir *compiler.IR, completedNodeID string) {
	result := execution.NodeResults[completedNodeID]
	node := ir.Nodes[completedNodeID]
	nodeDef := ir.NodeDef(completedNodeID)

	switch result.Status {
	case models.NodePaused:
		if err := co.pauseExecution(ctx, execution, completedNodeID, result, ir); err != nil {
			co.logger.Error("failed to persist pending pause", "execution_id", execution.ExecutionID, "node_id", completedNodeID, "error", err)
		}
		return
	case models.NodeError:
		policy := nodeDef.OnErrorPolicy()
		if policy == "stop" || policy == "retry" {
			// "retry" reaching advance means the dispatch layer already
			// exhausted the node's RetryPolicy; fall back to stop semantics.
			co.failExecution(ctx, execution, result.ErrorMessage)
			return
		}
		// policy == "continue": treat the node as if it emitted nothing
		// and proceed to successors.
	}

	if fresh, err := co.executions.GetByID(ctx, execution.ExecutionID); err == nil && fresh.Status == models.ExecutionCanceled {
		return
	}

	if node == nil {
		co.logger.Error("completed node missing from compiled graph", "node_id", completedNodeID)
		return
	}

	loopBackPort := ""
	if isLoopNode(nodeDef) {
		loopBackPort = portOrDefault(nodeDef.Configurations, "loop_back_port", "loop_back")
	}

	for _, c := range wf.Connections {
		if c.FromNode != completedNodeID {
			continue
		}
		if result.Status != models.NodeSkipped && result.OutputPort != "" && result.OutputPort != c.NormalizedFromPort() {
			// This branch was not taken: the edge is resolved but not
			// activated. Anything reachable only through it is skipped so
			// a downstream join never blocks on a path that will never run.
			co.propagateSkip(ctx, execution, wf, ir, c.ToNode)
			continue
		}
		if loopBackPort != "" && result.OutputPort == loopBackPort {
			// Looping back re-enters nodes that already produced a result
			// in the prior iteration; forget that result (and its dispatch
			// claim) so the body can run again, up to and including the
			// LOOP node itself where the back-edge closes the cycle.
			co.resetLoopIteration(ctx, execution, wf, completedNodeID, c.ToNode)
		}
		if err := co.tryDispatch(ctx, execution, wf, ir, c.ToNode); err != nil {
			co.logger.Error("failed to dispatch dependent node", "execution_id", execution.ExecutionID, "node_id", c.ToNode, "error", err)
		}
	}

	if node.IsTerminal && co.allTerminalsResolved(execution, ir) {
		co.finishExecution(ctx, execution, ir)
	}
}

// propagateSkip marks nodeID SKIPPED once every inbound edge it has is
// itself resolved (by a real result or an earlier skip) without any of
// them activating it, then fans the same decision out to its own
// dependents. It backs off the moment another inbound path hasn't
// resolved yet, since that path may still activate the node for real.
func (co *Coordinator) propagateSkip(ctx context.Context, execution *models.Execution, wf *models.Workflow, ir *compiler.IR, nodeID string) {
	if _, ok := execution.NodeResults[nodeID]; ok {
		return
	}
	for _, c := range wf.Connections {
		if c.ToNode != nodeID {
			continue
		}
		if _, ok := execution.NodeResults[c.FromNode]; !ok {
			return
		}
	}

	now := time.Now().UTC()
	result := models.NodeExecutionResult{Status: models.NodeSkipped, OutputPort: "main", StartedAt: now, FinishedAt: now}
	if err := co.recordSkipped(ctx, execution, nodeID, result); err != nil {
		co.logger.Error("failed to record skipped node", "execution_id", execution.ExecutionID, "node_id", nodeID, "error", err)
		return
	}

	node := ir.Nodes[nodeID]
	for _, c := range wf.Connections {
		if c.FromNode != nodeID {
			continue
		}
		co.propagateSkip(ctx, execution, wf, ir, c.ToNode)
	}

	if node != nil && node.IsTerminal && co.allTerminalsResolved(execution, ir) {
		co.finishExecution(ctx, execution, ir)
	}
}

func (co *Coordinator) allTerminalsResolved(execution *models.Execution, ir *compiler.IR) bool {
	for _, t := range ir.TerminalNodes() {
		if _, ok := execution.NodeResults[t.ID]; !ok {
			return false
		}
	}
	return true
}

func (co *Coordinator) finishExecution(ctx context.Context, execution *models.Execution, ir *compiler.IR) {
	fresh, err := co.executions.GetByID(ctx, execution.ExecutionID)
	if err == nil && (fresh.Status == models.ExecutionSuccess || fresh.Status == models.ExecutionError || fresh.Status == models.ExecutionCanceled) {
		return // another goroutine already finished this execution
	}

	final := make(map[string]any)
	for _, t := range ir.TerminalNodes() {
		if r, ok := execution.NodeResults[t.ID]; ok {
			final[t.ID] = r.OutputData
		}
	}
	execution.Status = models.ExecutionSuccess
	execution.FinalOutput = final
	execution.EndTime = time.Now().UTC()
	if err := co.executions.UpdateStatus(ctx, execution); err != nil {
		co.logger.Error("failed to mark execution successful", "execution_id", execution.ExecutionID, "error", err)
		return
	}
	co.logMilestone(ctx, execution.ExecutionID, "", "execution finished: SUCCESS")
}

func (co *Coordinator) failExecution(ctx context.Context, execution *models.Execution, message string) {
	execution.Status = models.ExecutionError
	execution.ErrorMessage = message
	execution.EndTime = time.Now().UTC()
	if err := co.executions.UpdateStatus(ctx, execution); err != nil {
		co.logger.Error("failed to mark execution failed", "execution_id", execution.ExecutionID, "error", err)
		return
	}
	co.logMilestone(ctx, execution.ExecutionID, "", "execution finished: ERROR: "+message)
}

// gatherInputs collects the input map for nodeID from every resolved
// upstream result, per the gating rule: a node is ready once every
// inbound edge's source has produced a result. An edge whose upstream
// emitted on a different port than the edge consumes is resolved but
// not activated -- it contributes nothing and never blocks readiness.
func (co *Coordinator) gatherInputs(execution *models.Execution, wf *models.Workflow, nodeID string) (ready bool, inputs map[string]any, err error) {
	inputs = make(map[string]any)
	for _, c := range wf.Connections {
		if c.ToNode != nodeID {
			continue
		}
		upstream, ok := execution.NodeResults[c.FromNode]
		if !ok {
			return false, nil, nil
		}
		if upstream.Status == models.NodeSkipped {
			continue // upstream never ran for real: resolved, not activated
		}
		if upstream.OutputPort != "" && upstream.OutputPort != c.NormalizedFromPort() {
			continue // resolved, not activated
		}
		value := any(upstream.OutputData)
		if c.ConversionFunction != "" {
			value, err = co.evaluator.Transform(c.ConversionFunction, upstream.OutputData, map[string]any{
				"trigger": execution.TriggerInfo,
				"static":  wf.StaticData,
			})
			if err != nil {
				return false, nil, apperr.Wrap(apperr.ValidationError, "conversion_function failed on connection "+c.ID, err)
			}
		}
		inputs[c.NormalizedToPort()] = value
	}
	return true, inputs, nil
}

// tryDispatch attempts to run nodeID once its inbound edges are
// satisfied, claiming the dispatch with an idempotent Redis key so two
// concurrently-completing parents never both dispatch the same join.
func (co *Coordinator) tryDispatch(ctx context.Context, execution *models.Execution, wf *models.Workflow, ir *compiler.IR, nodeID string) error {
	ready, inputs, err := co.gatherInputs(execution, wf, nodeID)
	if err != nil {
		return err
	}
	if !ready {
		return nil
	}

	claimed, err := co.redis.SetNX(ctx, dispatchClaimKey(execution.ExecutionID, nodeID), "1", time.Hour)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to claim node dispatch", err)
	}
	if !claimed {
		return nil
	}

	return co.dispatchNode(ctx, execution, wf, ir, nodeID, inputs)
}

func dispatchClaimKey(executionID, nodeID string) string {
	return fmt.Sprintf("dispatched:%s:%s", executionID, nodeID)
}

func isLoopNode(nodeDef *models.Node) bool {
	return nodeDef != nil && nodeDef.Type == models.NodeTypeFlow && strings.EqualFold(nodeDef.Subtype, "LOOP")
}

func portOrDefault(config map[string]any, key, fallback string) string {
	if v, ok := config[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// resetLoopIteration forgets the prior iteration's results for every node
// on the loop body's path, starting at the loop-back edge's target and
// following connections forward until the walk closes the cycle back at
// loopNodeID (inclusive), so the body -- including the LOOP node itself --
// dispatches again instead of being blocked by its earlier claim.
func (co *Coordinator) resetLoopIteration(ctx context.Context, execution *models.Execution, wf *models.Workflow, loopNodeID, fromNodeID string) {
	visited := make(map[string]bool)
	queue := []string{fromNodeID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true

		delete(execution.NodeResults, id)
		if err := co.redis.Delete(ctx, dispatchClaimKey(execution.ExecutionID, id)); err != nil {
			co.logger.Warn("failed to clear loop dispatch claim", "execution_id", execution.ExecutionID, "node_id", id, "error", err)
		}

		if id == loopNodeID {
			continue // cycle closes here; don't walk past it again
		}
		for _, c := range wf.Connections {
			if c.FromNode == id {
				queue = append(queue, c.ToNode)
			}
		}
	}
}

// resolverContext builds the template-resolution context visible to
// nodeDef's configuration.
func (co *Coordinator) resolverContext(execution *models.Execution, wf *models.Workflow) *resolver.Context {
	nodeOutputs := make(map[string]any, len(execution.NodeResults))
	for id, r := range execution.NodeResults {
		nodeOutputs[id] = r.OutputData
	}
	return &resolver.Context{
		Payload:        execution.TriggerInfo.InputData,
		Trigger:        execution.TriggerInfo,
		WorkflowStatic: wf.StaticData,
		EnvAllowlist:   co.envAllow,
		NodeOutputs:    nodeOutputs,
		OnUnresolved: func(path string) {
			co.logger.Warn("unresolved template path", "execution_id", execution.ExecutionID, "path", path)
		},
	}
}
