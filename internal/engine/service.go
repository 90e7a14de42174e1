// Package engine exposes the Engine's public operations over HTTP,
// delegating the execution algorithm itself to internal/engine/coordinator.
//
// Grounded on the teacher's cmd/orchestrator service/handler split
// (thin echo handlers, a Service that owns no transport concerns),
// mirrored here for the process boundary SPEC_FULL.md §2 draws between
// the Scheduler and the Engine.
package engine

import (
	"context"

	"github.com/lyzr/workflow-platform/internal/apperr"
	"github.com/lyzr/workflow-platform/internal/engine/coordinator"
	"github.com/lyzr/workflow-platform/internal/models"
)

// ExecutionHistoryLister backs the paged execution-history route.
type ExecutionHistoryLister interface {
	ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.Execution, error)
}

// Resolver is the subset of coordinator.Coordinator the Service needs.
type Resolver interface {
	Execute(ctx context.Context, workflowID, nodeID string, triggerInfo models.TriggerInfo, inputData map[string]any, actor string) (*models.Execution, error)
	GetExecution(ctx context.Context, executionID string) (*models.Execution, error)
	CancelExecution(ctx context.Context, executionID string) error
	ResumeExecution(ctx context.Context, executionID string, resumeData map[string]any) (*models.Execution, error)
	ExecuteSingleNode(ctx context.Context, workflowID, nodeID string, inputData map[string]any, actor string) (models.NodeExecutionResult, error)
}

// DefaultHistoryPageSize bounds /v1/workflows/:id/executions when the
// caller does not specify a limit.
const DefaultHistoryPageSize = 50

// Service adapts a Resolver (normally *coordinator.Coordinator) onto the
// Engine's public operation names.
type Service struct {
	resolver Resolver
	history  ExecutionHistoryLister
}

// NewService constructs a Service.
func NewService(resolver Resolver, history ExecutionHistoryLister) *Service {
	return &Service{resolver: resolver, history: history}
}

// Execute starts a new execution, normalizing the caller's loosely-typed
// trigger_info payload into models.TriggerInfo.
func (s *Service) Execute(ctx context.Context, workflowID, nodeID string, triggerInfoRaw, inputData map[string]any, actor string) (*models.Execution, error) {
	triggerInfo := models.TriggerInfo{InputData: inputData}
	if v, ok := triggerInfoRaw["type"].(string); ok {
		triggerInfo.Type = v
	}
	if v, ok := triggerInfoRaw["subtype"].(string); ok {
		triggerInfo.Subtype = v
	}
	if v, ok := triggerInfoRaw["raw_event"].(map[string]any); ok {
		triggerInfo.RawEvent = v
	} else if triggerInfoRaw != nil {
		triggerInfo.RawEvent = triggerInfoRaw
	}
	return s.resolver.Execute(ctx, workflowID, nodeID, triggerInfo, inputData, actor)
}

// GetExecution returns an execution snapshot.
func (s *Service) GetExecution(ctx context.Context, executionID string) (*models.Execution, error) {
	return s.resolver.GetExecution(ctx, executionID)
}

// CancelExecution transitions a running execution to CANCELED.
func (s *Service) CancelExecution(ctx context.Context, executionID string) error {
	return s.resolver.CancelExecution(ctx, executionID)
}

// ResumeExecution continues a paused execution.
func (s *Service) ResumeExecution(ctx context.Context, executionID string, resumeData map[string]any) (*models.Execution, error) {
	return s.resolver.ResumeExecution(ctx, executionID, resumeData)
}

// ExecuteSingleNode runs one node's runner directly, bypassing the graph walk.
func (s *Service) ExecuteSingleNode(ctx context.Context, workflowID, nodeID string, inputData map[string]any, actor string) (models.NodeExecutionResult, error) {
	return s.resolver.ExecuteSingleNode(ctx, workflowID, nodeID, inputData, actor)
}

// ExecutionHistory returns a workflow's recent executions, most recent first.
func (s *Service) ExecutionHistory(ctx context.Context, workflowID string, limit int) ([]*models.Execution, error) {
	if limit <= 0 || limit > 200 {
		limit = DefaultHistoryPageSize
	}
	if s.history == nil {
		return nil, apperr.New(apperr.Internal, "execution history store not configured")
	}
	return s.history.ListByWorkflow(ctx, workflowID, limit)
}

var _ Resolver = (*coordinator.Coordinator)(nil)
