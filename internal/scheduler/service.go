// Package scheduler maintains the trigger index, handles deploy/undeploy/
// pause/resume of workflows, ingests inbound trigger events, and drives
// time-based (CRON) triggers.
//
// Grounded on the teacher's cmd/orchestrator service/handler/repository
// layering (service.Workflow/service.Tag), retargeted from CAS/tag/
// artifact operations onto Deploy/Undeploy/Pause/Resume and the trigger
// index, per SPEC_FULL.md §4.1.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/workflow-platform/internal/apperr"
	"github.com/lyzr/workflow-platform/internal/engine/client"
	"github.com/lyzr/workflow-platform/internal/models"
)

// WorkflowStore is the catalog surface the Service needs for workflows.
type WorkflowStore interface {
	GetByID(ctx context.Context, workflowID string) (*models.Workflow, error)
	SetDeploymentStatus(ctx context.Context, workflowID string, to models.DeploymentStatus, actor string) error
}

// TriggerIndexStore is the catalog surface the Service needs for the
// trigger index.
type TriggerIndexStore interface {
	Upsert(ctx context.Context, e *models.TriggerIndexEntry) error
	Lookup(ctx context.Context, triggerType, indexKey string) (*models.TriggerIndexEntry, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.TriggerIndexEntry, error)
	SetStatus(ctx context.Context, workflowID string, status models.IndexStatus) error
	DeleteByWorkflow(ctx context.Context, workflowID string) error
}

// CronRegistrar is implemented by internal/scheduler/cron.Driver.
type CronRegistrar interface {
	Register(workflowID, nodeID, expr, timezone string) error
	Unregister(workflowID string)
}

// Service implements Deploy/Undeploy/Pause/Resume/TriggerExecution.
type Service struct {
	workflows WorkflowStore
	index     TriggerIndexStore
	engine    *client.Client
	cron      CronRegistrar
}

// New constructs a Service.
func New(workflows WorkflowStore, index TriggerIndexStore, engine *client.Client, cron CronRegistrar) *Service {
	return &Service{workflows: workflows, index: index, engine: engine, cron: cron}
}

// DeployResult is returned by Deploy.
type DeployResult struct {
	DeploymentID string `json:"deployment_id"`
	Status       string `json:"status"`
	Message      string `json:"message"`
}

// Deploy validates a workflow's structure, computes a TriggerIndexEntry
// for every TRIGGER node, writes them alongside the deployment status
// flip, and registers CRON triggers with the cron driver. All index
// writes plus the status flip are logically one unit: Deploy only
// returns success once every index row is written, and on any row
// failure the entries already written are rolled back.
func (s *Service) Deploy(ctx context.Context, workflowID, actor string) (*DeployResult, error) {
	wf, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "workflow not found", err)
	}

	if err := wf.ValidateStructure(); err != nil {
		return nil, apperr.Wrap(apperr.ValidationError, "workflow failed structural validation", err)
	}

	var triggerNodes []*models.Node
	for i := range wf.Nodes {
		if wf.Nodes[i].Type == models.NodeTypeTrigger {
			triggerNodes = append(triggerNodes, &wf.Nodes[i])
		}
	}

	written := make([]*models.TriggerIndexEntry, 0, len(triggerNodes))
	rollback := func() {
		for _, e := range written {
			_ = s.index.SetStatus(ctx, e.WorkflowID, models.IndexPaused)
		}
		s.cron.Unregister(workflowID)
	}

	for _, node := range triggerNodes {
		triggerType, indexKey, err := BuildIndexKey(workflowID, node)
		if err != nil {
			rollback()
			return nil, err
		}

		if triggerType == "WEBHOOK" {
			if existing, err := s.index.Lookup(ctx, triggerType, indexKey); err == nil && existing.WorkflowID != workflowID {
				rollback()
				return nil, apperr.New(apperr.Conflict, "webhook path already in use: "+indexKey)
			}
		}

		entry := &models.TriggerIndexEntry{
			WorkflowID:     workflowID,
			NodeID:         node.ID,
			TriggerType:    triggerType,
			TriggerSubtype: node.Subtype,
			IndexKey:       indexKey,
			Config:         node.Configurations,
			Status:         models.IndexActive,
		}
		if err := s.index.Upsert(ctx, entry); err != nil {
			rollback()
			return nil, apperr.Wrap(apperr.Internal, "failed to write trigger index entry", err)
		}
		written = append(written, entry)

		if triggerType == "CRON" {
			expr, _ := node.Configurations["expr"].(string)
			tz, _ := node.Configurations["timezone"].(string)
			if tz == "" {
				tz = "UTC"
			}
			if err := s.cron.Register(workflowID, node.ID, expr, tz); err != nil {
				rollback()
				return nil, apperr.Wrap(apperr.ValidationError, "failed to register cron trigger", err)
			}
		}
	}

	if err := s.workflows.SetDeploymentStatus(ctx, workflowID, models.DeploymentDeployed, actor); err != nil {
		rollback()
		return nil, apperr.Wrap(apperr.Internal, "failed to flip deployment status", err)
	}

	return &DeployResult{
		DeploymentID: uuid.NewString(),
		Status:       string(models.DeploymentDeployed),
		Message:      fmt.Sprintf("deployed %d trigger(s)", len(written)),
	}, nil
}

// Undeploy removes a workflow's trigger index entries and marks it
// UNDEPLOYED. Idempotent: undeploying an already-undeployed workflow
// still returns success.
func (s *Service) Undeploy(ctx context.Context, workflowID, actor string) error {
	if err := s.index.DeleteByWorkflow(ctx, workflowID); err != nil {
		return apperr.Wrap(apperr.Internal, "failed to delete trigger index entries", err)
	}
	s.cron.Unregister(workflowID)
	if err := s.workflows.SetDeploymentStatus(ctx, workflowID, models.DeploymentUndeployed, actor); err != nil {
		return apperr.Wrap(apperr.Internal, "failed to flip deployment status", err)
	}
	return nil
}

// Pause flips a workflow's trigger index entries to paused without
// removing them.
func (s *Service) Pause(ctx context.Context, workflowID, actor string) error {
	if err := s.index.SetStatus(ctx, workflowID, models.IndexPaused); err != nil {
		return apperr.Wrap(apperr.Internal, "failed to pause trigger index entries", err)
	}
	return s.workflows.SetDeploymentStatus(ctx, workflowID, models.DeploymentPaused, actor)
}

// Resume flips a workflow's trigger index entries back to active.
func (s *Service) Resume(ctx context.Context, workflowID, actor string) error {
	if err := s.index.SetStatus(ctx, workflowID, models.IndexActive); err != nil {
		return apperr.Wrap(apperr.Internal, "failed to resume trigger index entries", err)
	}
	return s.workflows.SetDeploymentStatus(ctx, workflowID, models.DeploymentDeployed, actor)
}

// TriggerExecution forwards an execution request to the Engine. nodeID
// is the specific TRIGGER node to start from; it may be empty for a
// manual invocation against a workflow with exactly one trigger node,
// which the Engine then resolves itself.
func (s *Service) TriggerExecution(ctx context.Context, workflowID, nodeID string, triggerInfo, inputData map[string]any, actor string) (string, error) {
	resp, err := s.engine.Execute(ctx, workflowID, client.ExecuteRequest{
		NodeID:      nodeID,
		TriggerInfo: triggerInfo,
		InputData:   inputData,
		Actor:       actor,
	})
	if err != nil {
		return "", err
	}
	return resp.ExecutionID, nil
}

// CurrentCronBucket returns the one-minute bucket used for cron
// double-fire suppression at time t.
func CurrentCronBucket(t time.Time) int64 {
	return t.Unix() / 60
}
