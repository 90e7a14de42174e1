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

// TriggerIndexRepository handles database operations for the trigger
// index: the lookup table the scheduler uses to resolve an inbound
// event (cron tick, webhook call, Slack/GitHub event) to the workflow
// it should fire.
type TriggerIndexRepository struct {
	db *db.DB
}

// NewTriggerIndexRepository constructs a TriggerIndexRepository.
func NewTriggerIndexRepository(database *db.DB) *TriggerIndexRepository {
	return &TriggerIndexRepository{db: database}
}

// Upsert inserts or replaces a trigger index entry for (trigger_type, index_key).
func (r *TriggerIndexRepository) Upsert(ctx context.Context, e *models.TriggerIndexEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	cfg, err := json.Marshal(e.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger index config: %w", err)
	}

	query := `
		INSERT INTO trigger_index (
			id, workflow_id, trigger_type, trigger_subtype, index_key,
			config, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (trigger_type, index_key) DO UPDATE SET
			workflow_id = EXCLUDED.workflow_id,
			trigger_subtype = EXCLUDED.trigger_subtype,
			config = EXCLUDED.config,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`
	_, err = r.db.Exec(ctx, query,
		e.ID, e.WorkflowID, e.TriggerType, e.TriggerSubtype, e.IndexKey,
		cfg, e.Status, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert trigger index entry: %w", err)
	}
	return nil
}

// Lookup resolves an inbound event's (trigger_type, index_key) to its
// active trigger index entry. Paused entries are excluded so a paused
// workflow's webhook/cron silently no-ops rather than erroring.
func (r *TriggerIndexRepository) Lookup(ctx context.Context, triggerType, indexKey string) (*models.TriggerIndexEntry, error) {
	query := `
		SELECT id, workflow_id, trigger_type, trigger_subtype, index_key,
		       config, status, created_at, updated_at
		FROM trigger_index
		WHERE trigger_type = $1 AND index_key = $2 AND status = $3
	`
	var e models.TriggerIndexEntry
	var cfg []byte
	err := r.db.QueryRow(ctx, query, triggerType, indexKey, models.IndexActive).Scan(
		&e.ID, &e.WorkflowID, &e.TriggerType, &e.TriggerSubtype, &e.IndexKey,
		&cfg, &e.Status, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to look up trigger index %s/%s: %w", triggerType, indexKey, err)
	}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &e.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger index config: %w", err)
		}
	}
	return &e, nil
}

// ListByWorkflow lists all trigger index entries for a workflow.
func (r *TriggerIndexRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.TriggerIndexEntry, error) {
	query := `
		SELECT id, workflow_id, trigger_type, trigger_subtype, index_key,
		       config, status, created_at, updated_at
		FROM trigger_index
		WHERE workflow_id = $1
	`
	rows, err := r.db.Query(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list trigger index entries for %s: %w", workflowID, err)
	}
	defer rows.Close()

	var out []*models.TriggerIndexEntry
	for rows.Next() {
		var e models.TriggerIndexEntry
		var cfg []byte
		if err := rows.Scan(&e.ID, &e.WorkflowID, &e.TriggerType, &e.TriggerSubtype, &e.IndexKey,
			&cfg, &e.Status, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trigger index entry: %w", err)
		}
		if len(cfg) > 0 {
			if err := json.Unmarshal(cfg, &e.Config); err != nil {
				return nil, fmt.Errorf("failed to unmarshal trigger index config: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// SetStatus flips all of a workflow's trigger index entries to the
// given status, used by Pause/Resume and by Deploy's rollback.
func (r *TriggerIndexRepository) SetStatus(ctx context.Context, workflowID string, status models.IndexStatus) error {
	_, err := r.db.Exec(ctx, `UPDATE trigger_index SET status = $2, updated_at = now() WHERE workflow_id = $1`, workflowID, status)
	if err != nil {
		return fmt.Errorf("failed to set trigger index status for %s: %w", workflowID, err)
	}
	return nil
}

// DeleteByWorkflow removes all trigger index entries for a workflow,
// used when a workflow is undeployed and its triggers are retired.
func (r *TriggerIndexRepository) DeleteByWorkflow(ctx context.Context, workflowID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM trigger_index WHERE workflow_id = $1`, workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete trigger index entries for %s: %w", workflowID, err)
	}
	return nil
}
