// Package coordinator implements the Engine's execution algorithm: load
// a workflow, walk its compiled graph from a trigger node, dispatch each
// ready node to the runner selected by (type, subtype), and persist
// results until the frontier empties or the execution pauses/fails.
//
// Grounded on the teacher's cmd/workflow-runner/coordinator/coordinator.go:
// the same absorber-vs-worker split (FLOW/TRIGGER/TOOL/MEMORY run inline;
// everything else is published to a Redis stream and picked up by a
// worker process) and the same BLPop loop on a completion-signal list.
// A join/fan-in node is dispatched once every inbound edge's source has a
// result, guarded by a per-(execution, node) SetNX dispatch claim; the
// idempotent counter is kept up to date but not read for that decision.
// Simplified from
// the teacher in two ways: no run-patch/IR-hot-reload machinery (the
// source spec carries no patch-chain concept), and no IR caching — the
// graph is recompiled from the catalog's current Workflow on every
// completion signal rather than persisted to Redis. This trades strict
// version pinning across a long-running execution for the simplicity of
// not needing a historical-workflow-body store; an execution that
// outlives a redeploy of its own workflow will see the edited graph on
// its next hop. Recorded as an open-question decision.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/workflow-platform/internal/apperr"
	"github.com/lyzr/workflow-platform/internal/condition"
	"github.com/lyzr/workflow-platform/internal/credential"
	"github.com/lyzr/workflow-platform/internal/engine/compiler"
	"github.com/lyzr/workflow-platform/internal/engine/sdk"
	"github.com/lyzr/workflow-platform/internal/models"
	"github.com/lyzr/workflow-platform/internal/runner"

	redis "github.com/lyzr/workflow-platform/common/redis"
)

// CompletionQueue is the Redis list worker processes push a
// CompletionSignal onto once a dispatched node finishes.
const CompletionQueue = "completion_signals"

// DefaultConcurrencyCap is the per-execution parallelism ceiling applied
// when a workflow does not override it, per §4.2 "a configurable
// per-execution concurrency cap (default 4)."
const DefaultConcurrencyCap = 4

// DefaultExecutionTimeout is the default wall-clock lifetime of a single
// execution. Nothing in the coordinator applies it: executions carry no
// wall-clock deadline.
const DefaultExecutionTimeout = time.Hour

// Logger is the subset of common/logger.Logger the coordinator needs.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// WorkflowStore is the catalog surface the coordinator needs for
// resolving a workflow's current graph.
type WorkflowStore interface {
	GetByID(ctx context.Context, workflowID string) (*models.Workflow, error)
}

// ExecutionStore is the catalog surface the coordinator needs for
// persisting execution state.
type ExecutionStore interface {
	Create(ctx context.Context, e *models.Execution) error
	GetByID(ctx context.Context, executionID string) (*models.Execution, error)
	UpdateStatus(ctx context.Context, e *models.Execution) error
	RecordNodeResult(ctx context.Context, executionID, nodeID string, result models.NodeExecutionResult) error
}

// LogStore appends execution log entries.
type LogStore interface {
	Append(ctx context.Context, e *models.ExecutionLogEntry) error
}

// CompletionSignal is what a worker process pushes onto CompletionQueue
// after executing a dispatched node. OutputRef points into content-
// addressed storage rather than carrying the output inline, keeping list
// entries small regardless of node output size.
type CompletionSignal struct {
	ExecutionID  string                   `json:"execution_id"`
	NodeID       string                   `json:"node_id"`
	Status       models.NodeResultStatus  `json:"status"`
	OutputRef    string                   `json:"output_ref,omitempty"`
	OutputPort   string                   `json:"output_port,omitempty"`
	ErrorMessage string                   `json:"error_message,omitempty"`
	ErrorDetails map[string]any           `json:"error_details,omitempty"`
	StartedAt    time.Time                `json:"started_at"`
	FinishedAt   time.Time                `json:"finished_at"`
}

// Coordinator walks compiled workflow graphs to completion.
type Coordinator struct {
	workflows   WorkflowStore
	executions  ExecutionStore
	logs        LogStore
	redis       *redis.Client
	sdk         *sdk.SDK
	registry    *runner.Registry
	evaluator   *condition.Evaluator
	credentials runner.CredentialFetcher
	logger      Logger
	envAllow    map[string]string
}

// New constructs a Coordinator.
func New(
	workflows WorkflowStore,
	executions ExecutionStore,
	logs LogStore,
	redisClient *redis.Client,
	sdkInstance *sdk.SDK,
	registry *runner.Registry,
	evaluator *condition.Evaluator,
	credentials *credential.Broker,
	logger Logger,
	envAllow map[string]string,
) *Coordinator {
	return &Coordinator{
		workflows:   workflows,
		executions:  executions,
		logs:        logs,
		redis:       redisClient,
		sdk:         sdkInstance,
		registry:    registry,
		evaluator:   evaluator,
		credentials: credentials,
		logger:      logger,
		envAllow:    envAllow,
	}
}

// Start runs the completion-signal consumption loop until ctx is
// canceled. Exactly one replica's Start loop claims any given signal,
// since BLPop pops destructively.
func (co *Coordinator) Start(ctx context.Context) error {
	co.logger.Info("coordinator starting", "queue", CompletionQueue)
	for {
		select {
		case <-ctx.Done():
			co.logger.Info("coordinator shutting down")
			return ctx.Err()
		default:
		}

		vals, err := co.redis.BlockingPopList(ctx, 5*time.Second, CompletionQueue)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			co.logger.Error("failed to read completion signal", "error", err)
			continue
		}
		if len(vals) < 2 {
			continue
		}
		go co.handleCompletionSignal(ctx, vals[1])
	}
}

func soleManualTrigger(wf *models.Workflow) (string, error) {
	var manual []string
	for _, id := range wf.Triggers {
		n := wf.NodeByID(id)
		if n != nil && n.Type == models.NodeTypeTrigger {
			manual = append(manual, id)
		}
	}
	if len(manual) == 1 {
		return manual[0], nil
	}
	if len(manual) == 0 {
		return "", apperr.New(apperr.ValidationError, "workflow has no trigger nodes")
	}
	return "", apperr.New(apperr.ValidationError, "node_id is required: workflow has multiple trigger nodes")
}

// Execute starts a new execution of workflowID from nodeID (or, if
// nodeID is empty, the workflow's sole trigger node). Returns as soon as
// the initial inline chain runs dry or reaches a worker-dispatched node;
// it does not wait for the whole graph to finish.
func (co *Coordinator) Execute(ctx context.Context, workflowID, nodeID string, triggerInfo models.TriggerInfo, inputData map[string]any, actor string) (*models.Execution, error) {
	wf, err := co.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "workflow not found", err)
	}
	if wf.DeploymentStatus != models.DeploymentDeployed {
		return nil, apperr.New(apperr.StateError, "workflow is not deployed")
	}

	if nodeID == "" {
		nodeID, err = soleManualTrigger(wf)
		if err != nil {
			return nil, err
		}
	}
	n := wf.NodeByID(nodeID)
	if n == nil || n.Type != models.NodeTypeTrigger {
		return nil, apperr.New(apperr.ValidationError, "node is not a trigger node: "+nodeID)
	}

	ir, err := compiler.Compile(wf)
	if err != nil {
		return nil, apperr.Wrap(apperr.ValidationError, "failed to compile workflow graph", err)
	}

	triggerInfo.InputData = inputData
	concurrencyCap := DefaultConcurrencyCap
	if v, ok := wf.Metadata["concurrency_cap"].(float64); ok && v > 0 {
		concurrencyCap = int(v)
	}

	execution := &models.Execution{
		ExecutionID:     uuid.NewString(),
		WorkflowID:      wf.ID,
		WorkflowVersion: wf.Version,
		TriggerInfo:     triggerInfo,
		Status:          models.ExecutionRunning,
		Actor:           actor,
		ConcurrencyCap:  concurrencyCap,
		NodeResults:     make(map[string]models.NodeExecutionResult),
	}
	if err := co.executions.Create(ctx, execution); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to create execution", err)
	}
	if err := co.sdk.InitializeCounter(ctx, execution.ExecutionID, 1); err != nil {
		co.logger.Warn("failed to initialize counter", "execution_id", execution.ExecutionID, "error", err)
	}
	co.logMilestone(ctx, execution.ExecutionID, "", "execution started")

	if err := co.tryDispatch(ctx, execution, wf, ir, nodeID); err != nil {
		co.logger.Error("failed to dispatch trigger node", "execution_id", execution.ExecutionID, "node_id", nodeID, "error", err)
	}

	return execution, nil
}

// GetExecution returns an execution by id.
func (co *Coordinator) GetExecution(ctx context.Context, executionID string) (*models.Execution, error) {
	e, err := co.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "execution not found", err)
	}
	return e, nil
}

// CancelExecution transitions a RUNNING execution to CANCELED at the
// next node boundary. A no-op on already-terminal executions.
func (co *Coordinator) CancelExecution(ctx context.Context, executionID string) error {
	e, err := co.executions.GetByID(ctx, executionID)
	if err != nil {
		return apperr.Wrap(apperr.NotFound, "execution not found", err)
	}
	if e.Status != models.ExecutionRunning {
		return nil
	}
	e.Status = models.ExecutionCanceled
	e.EndTime = time.Now().UTC()
	if err := co.executions.UpdateStatus(ctx, e); err != nil {
		return apperr.Wrap(apperr.Internal, "failed to cancel execution", err)
	}
	return nil
}

// ResumeExecution continues a PAUSED execution, validating the caller's
// interaction id against the persisted pending pause.
func (co *Coordinator) ResumeExecution(ctx context.Context, executionID string, resumeData map[string]any) (*models.Execution, error) {
	e, err := co.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "execution not found", err)
	}
	if e.Status != models.ExecutionPaused || e.PendingPause == nil {
		return nil, apperr.New(apperr.StateError, "execution is not paused")
	}
	interactionID, _ := resumeData["interaction_id"].(string)
	if interactionID == "" || interactionID != e.PendingPause.InteractionID {
		return nil, apperr.New(apperr.ValidationError, "resume data does not match the pending interaction")
	}

	wf, err := co.workflows.GetByID(ctx, e.WorkflowID)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "workflow not found", err)
	}
	ir, err := compiler.Compile(wf)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to compile workflow graph", err)
	}

	pendingNodeID := e.PendingPause.NodeID
	nodeDef := wf.NodeByID(pendingNodeID)
	if nodeDef == nil {
		return nil, apperr.New(apperr.Internal, "pending pause references unknown node: "+pendingNodeID)
	}

	rc, err := co.buildContext(ctx, e, wf, nodeDef, map[string]any{})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to build resume context", err)
	}

	result := models.NodeExecutionResult{
		Status:     models.NodeSuccess,
		OutputData: resumeData,
		OutputPort: "main",
		StartedAt:  time.Now().UTC(),
		FinishedAt: time.Now().UTC(),
	}
	if run, ok := co.registry.Get(nodeDef.Type, nodeDef.Subtype); ok {
		if resumer, ok := run.(runner.Resumer); ok {
			result, err = resumer.Resume(ctx, rc, resumeData)
			if err != nil {
				return nil, apperr.Wrap(apperr.Internal, "human-in-the-loop resume failed", err)
			}
		}
	}

	e.Status = models.ExecutionRunning
	e.PendingPause = nil
	if err := co.executions.UpdateStatus(ctx, e); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to update execution on resume", err)
	}

	if err := co.recordResult(ctx, e, pendingNodeID, result); err != nil {
		return nil, err
	}
	co.advance(ctx, e, wf, ir, pendingNodeID)

	return e, nil
}

// SweepTimeout is called by internal/engine/supervisor for a PAUSED
// execution whose pending_pause.timeout_at has elapsed: it routes the
// execution to the declared timeout branch if one exists, or to ERROR
// otherwise, per SPEC_FULL.md §4.2 "a background sweep transitions the
// execution to ERROR (or to a timeout branch if the node declares one),
// with the timeout_message posted."
func (co *Coordinator) SweepTimeout(ctx context.Context, executionID string) error {
	e, err := co.executions.GetByID(ctx, executionID)
	if err != nil {
		return apperr.Wrap(apperr.NotFound, "execution not found", err)
	}
	if e.Status != models.ExecutionPaused || e.PendingPause == nil {
		return nil // already resumed or finished by the time the sweep got to it
	}
	if time.Now().UTC().Before(e.PendingPause.TimeoutAt) {
		return nil
	}

	pending := e.PendingPause
	message := pending.TimeoutMessage
	if message == "" {
		message = "timed out awaiting human interaction"
	}

	wf, err := co.workflows.GetByID(ctx, e.WorkflowID)
	if err != nil {
		return apperr.Wrap(apperr.NotFound, "workflow not found", err)
	}

	// Let the paused node's runner post the timeout_message to its
	// channel, the same path a normal Resume posts approved/rejected
	// messages through; the coordinator still owns routing below.
	if nodeDef := wf.NodeByID(pending.NodeID); nodeDef != nil {
		if run, ok := co.registry.Get(nodeDef.Type, nodeDef.Subtype); ok {
			if resumer, ok := run.(runner.Resumer); ok {
				rc, err := co.buildContext(ctx, e, wf, nodeDef, map[string]any{})
				if err != nil {
					co.logger.Error("failed to build timeout resume context", "execution_id", e.ExecutionID, "error", err)
				} else if _, err := resumer.Resume(ctx, rc, map[string]any{"timed_out": true}); err != nil {
					co.logger.Error("failed to post timeout message", "execution_id", e.ExecutionID, "error", err)
				}
			}
		}
	}

	if len(pending.TimeoutBranch) == 0 {
		co.failExecution(ctx, e, message)
		return nil
	}

	ir, err := compiler.Compile(wf)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to compile workflow graph", err)
	}

	e.Status = models.ExecutionRunning
	e.PendingPause = nil
	if err := co.executions.UpdateStatus(ctx, e); err != nil {
		return apperr.Wrap(apperr.Internal, "failed to update execution on timeout", err)
	}

	result := models.NodeExecutionResult{
		Status:     models.NodeSuccess,
		OutputData: map[string]any{"timed_out": true, "message": message},
		OutputPort: "timeout",
		StartedAt:  time.Now().UTC(),
		FinishedAt: time.Now().UTC(),
	}
	if err := co.recordResult(ctx, e, pending.NodeID, result); err != nil {
		return err
	}
	co.advance(ctx, e, wf, ir, pending.NodeID)
	co.logMilestone(ctx, e.ExecutionID, pending.NodeID, "timed out: routed to timeout branch")
	return nil
}

// ExecuteSingleNode executes one node's runner directly against
// inputData, bypassing the graph walk. Used for debugging/re-runs.
func (co *Coordinator) ExecuteSingleNode(ctx context.Context, workflowID, nodeID string, inputData map[string]any, actor string) (models.NodeExecutionResult, error) {
	wf, err := co.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return models.NodeExecutionResult{}, apperr.Wrap(apperr.NotFound, "workflow not found", err)
	}
	nodeDef := wf.NodeByID(nodeID)
	if nodeDef == nil {
		return models.NodeExecutionResult{}, apperr.New(apperr.NotFound, "node not found: "+nodeID)
	}
	run, ok := co.registry.Get(nodeDef.Type, nodeDef.Subtype)
	if !ok {
		return models.NodeExecutionResult{}, apperr.New(apperr.Internal, fmt.Sprintf("no runner registered for %s.%s", nodeDef.Type, nodeDef.Subtype))
	}

	synthetic := &models.Execution{
		ExecutionID: "debug-" + uuid.NewString(),
		WorkflowID:  wf.ID,
		Actor:       actor,
		TriggerInfo: models.TriggerInfo{InputData: inputData},
	}
	rc, err := co.buildContext(ctx, synthetic, wf, nodeDef, map[string]any{"main": inputData})
	if err != nil {
		return models.NodeExecutionResult{}, apperr.Wrap(apperr.Internal, "failed to build node context", err)
	}
	return run.Execute(ctx, rc)
}

func (co *Coordinator) logMilestone(ctx context.Context, executionID, nodeID, message string) {
	if co.logs == nil {
		return
	}
	if err := co.logs.Append(ctx, &models.ExecutionLogEntry{
		ExecutionID: executionID,
		NodeID:      nodeID,
		Level:       "info",
		EventType:   "milestone",
		Message:     message,
		IsMilestone: true,
		Priority:    1,
	}); err != nil {
		co.logger.Warn("failed to append milestone log", "execution_id", executionID, "error", err)
	}
}
