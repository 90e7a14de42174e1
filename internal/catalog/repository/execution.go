package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/workflow-platform/common/db"
	"github.com/lyzr/workflow-platform/internal/models"
)

// ExecutionRepository handles database operations for workflow
// executions and their per-node results.
type ExecutionRepository struct {
	db *db.DB
}

// NewExecutionRepository constructs an ExecutionRepository.
func NewExecutionRepository(database *db.DB) *ExecutionRepository {
	return &ExecutionRepository{db: database}
}

// Create inserts a new execution in RUNNING status.
func (r *ExecutionRepository) Create(ctx context.Context, e *models.Execution) error {
	if e.ExecutionID == "" {
		e.ExecutionID = uuid.NewString()
	}
	if e.StartTime.IsZero() {
		e.StartTime = time.Now().UTC()
	}
	if e.NodeResults == nil {
		e.NodeResults = make(map[string]models.NodeExecutionResult)
	}

	trigger, err := json.Marshal(e.TriggerInfo)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger info: %w", err)
	}
	results, err := json.Marshal(e.NodeResults)
	if err != nil {
		return fmt.Errorf("failed to marshal node results: %w", err)
	}

	query := `
		INSERT INTO execution (
			execution_id, workflow_id, workflow_version, trigger_info, status,
			start_time, execution_sequence, node_results, actor, concurrency_cap
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.db.Exec(ctx, query,
		e.ExecutionID, e.WorkflowID, e.WorkflowVersion, trigger, e.Status,
		e.StartTime, e.ExecutionSequence, results, e.Actor, e.ConcurrencyCap,
	)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

// GetByID retrieves an execution by ID.
func (r *ExecutionRepository) GetByID(ctx context.Context, executionID string) (*models.Execution, error) {
	query := `
		SELECT execution_id, workflow_id, workflow_version, trigger_info, status,
		       start_time, end_time, execution_sequence, node_results,
		       final_output, error_message, pending_pause, actor, concurrency_cap
		FROM execution
		WHERE execution_id = $1
	`
	var e models.Execution
	var trigger, results, finalOutput, pending []byte
	err := r.db.QueryRow(ctx, query, executionID).Scan(
		&e.ExecutionID, &e.WorkflowID, &e.WorkflowVersion, &trigger, &e.Status,
		&e.StartTime, &e.EndTime, &e.ExecutionSequence, &results,
		&finalOutput, &e.ErrorMessage, &pending, &e.Actor, &e.ConcurrencyCap,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get execution %s: %w", executionID, err)
	}
	if err := unmarshalExecutionBlobs(&e, trigger, results, finalOutput, pending); err != nil {
		return nil, err
	}
	return &e, nil
}

func unmarshalExecutionBlobs(e *models.Execution, trigger, results, finalOutput, pending []byte) error {
	if len(trigger) > 0 {
		if err := json.Unmarshal(trigger, &e.TriggerInfo); err != nil {
			return fmt.Errorf("failed to unmarshal trigger info: %w", err)
		}
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &e.NodeResults); err != nil {
			return fmt.Errorf("failed to unmarshal node results: %w", err)
		}
	}
	if len(finalOutput) > 0 {
		if err := json.Unmarshal(finalOutput, &e.FinalOutput); err != nil {
			return fmt.Errorf("failed to unmarshal final output: %w", err)
		}
	}
	if len(pending) > 0 {
		if err := json.Unmarshal(pending, &e.PendingPause); err != nil {
			return fmt.Errorf("failed to unmarshal pending pause: %w", err)
		}
	}
	return nil
}

// UpdateStatus transitions an execution's status, optionally recording
// its final output / error message / end time.
func (r *ExecutionRepository) UpdateStatus(ctx context.Context, e *models.Execution) error {
	finalOutput, err := json.Marshal(e.FinalOutput)
	if err != nil {
		return fmt.Errorf("failed to marshal final output: %w", err)
	}
	var pending []byte
	if e.PendingPause != nil {
		pending, err = json.Marshal(e.PendingPause)
		if err != nil {
			return fmt.Errorf("failed to marshal pending pause: %w", err)
		}
	}

	query := `
		UPDATE execution
		SET status = $2, end_time = $3, final_output = $4, error_message = $5, pending_pause = $6
		WHERE execution_id = $1
	`
	ct, err := r.db.Exec(ctx, query, e.ExecutionID, e.Status, e.EndTime, finalOutput, e.ErrorMessage, pending)
	if err != nil {
		return fmt.Errorf("failed to update execution %s: %w", e.ExecutionID, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("execution %s not found", e.ExecutionID)
	}
	return nil
}

// RecordNodeResult writes a single node's result into the execution's
// node_results map, used after each node completes so progress survives
// a coordinator crash mid-run.
func (r *ExecutionRepository) RecordNodeResult(ctx context.Context, executionID, nodeID string, result models.NodeExecutionResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal node result: %w", err)
	}
	query := `
		UPDATE execution
		SET node_results = jsonb_set(node_results, $2, $3::jsonb, true)
		WHERE execution_id = $1
	`
	_, err = r.db.Exec(ctx, query, executionID, "{"+nodeID+"}", raw)
	if err != nil {
		return fmt.Errorf("failed to record node result %s/%s: %w", executionID, nodeID, err)
	}
	return nil
}

// ListByWorkflow lists executions for a workflow, newest first.
func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.Execution, error) {
	query := `
		SELECT execution_id, workflow_id, workflow_version, trigger_info, status,
		       start_time, end_time, execution_sequence, node_results,
		       final_output, error_message, pending_pause, actor, concurrency_cap
		FROM execution
		WHERE workflow_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions for %s: %w", workflowID, err)
	}
	defer rows.Close()

	var out []*models.Execution
	for rows.Next() {
		var e models.Execution
		var trigger, results, finalOutput, pending []byte
		if err := rows.Scan(
			&e.ExecutionID, &e.WorkflowID, &e.WorkflowVersion, &trigger, &e.Status,
			&e.StartTime, &e.EndTime, &e.ExecutionSequence, &results,
			&finalOutput, &e.ErrorMessage, &pending, &e.Actor, &e.ConcurrencyCap,
		); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		if err := unmarshalExecutionBlobs(&e, trigger, results, finalOutput, pending); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ListPendingPauses lists PAUSED executions with a pending HUMAN_LOOP
// pause whose timeout has already elapsed, used by the supervisor's
// timeout sweep.
func (r *ExecutionRepository) ListPendingPauses(ctx context.Context, before time.Time) ([]*models.Execution, error) {
	query := `
		SELECT execution_id, workflow_id, workflow_version, trigger_info, status,
		       start_time, end_time, execution_sequence, node_results,
		       final_output, error_message, pending_pause, actor, concurrency_cap
		FROM execution
		WHERE status = $1 AND pending_pause IS NOT NULL
		  AND (pending_pause->>'timeout_at')::timestamptz <= $2
	`
	rows, err := r.db.Query(ctx, query, models.ExecutionPaused, before)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending pauses: %w", err)
	}
	defer rows.Close()

	var out []*models.Execution
	for rows.Next() {
		var e models.Execution
		var trigger, results, finalOutput, pending []byte
		if err := rows.Scan(
			&e.ExecutionID, &e.WorkflowID, &e.WorkflowVersion, &trigger, &e.Status,
			&e.StartTime, &e.EndTime, &e.ExecutionSequence, &results,
			&finalOutput, &e.ErrorMessage, &pending, &e.Actor, &e.ConcurrencyCap,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pending pause execution: %w", err)
		}
		if err := unmarshalExecutionBlobs(&e, trigger, results, finalOutput, pending); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
