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

// ExecutionLogRepository handles database operations for execution log
// entries, the append-only event stream a running or completed
// execution's detail view reads from.
type ExecutionLogRepository struct {
	db *db.DB
}

// NewExecutionLogRepository constructs an ExecutionLogRepository.
func NewExecutionLogRepository(database *db.DB) *ExecutionLogRepository {
	return &ExecutionLogRepository{db: database}
}

// Append writes a single log entry.
func (r *ExecutionLogRepository) Append(ctx context.Context, e *models.ExecutionLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal execution log data: %w", err)
	}
	query := `
		INSERT INTO execution_log (
			id, execution_id, node_id, level, event_type, message, data,
			timestamp, is_milestone, priority
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.db.Exec(ctx, query,
		e.ID, e.ExecutionID, e.NodeID, e.Level, e.EventType, e.Message, data,
		e.Timestamp, e.IsMilestone, e.Priority,
	)
	if err != nil {
		return fmt.Errorf("failed to append execution log entry: %w", err)
	}
	return nil
}

// Page is a cursor-paginated slice of log entries, per §4.4.
type Page struct {
	Entries    []*models.ExecutionLogEntry
	NextCursor string
}

// List retrieves an execution's log entries in timestamp order,
// resuming from a previously returned cursor (the ID of the last seen
// entry) when cursor is non-empty. A non-positive limit defaults to 100
// and a larger one is capped at 100.
func (r *ExecutionLogRepository) List(ctx context.Context, executionID, cursor string, limit int) (*Page, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	var rows interface {
		Next() bool
		Scan(dest ...any) error
		Close()
		Err() error
	}

	if cursor == "" {
		q := `
			SELECT id, execution_id, node_id, level, event_type, message, data,
			       timestamp, is_milestone, priority
			FROM execution_log
			WHERE execution_id = $1
			ORDER BY timestamp ASC, id ASC
			LIMIT $2
		`
		pgRows, err := r.db.Query(ctx, q, executionID, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to list execution log for %s: %w", executionID, err)
		}
		rows = pgRows
	} else {
		q := `
			SELECT l.id, l.execution_id, l.node_id, l.level, l.event_type, l.message, l.data,
			       l.timestamp, l.is_milestone, l.priority
			FROM execution_log l, (SELECT timestamp AS ts, id AS cid FROM execution_log WHERE id = $2) c
			WHERE l.execution_id = $1
			  AND (l.timestamp, l.id) > (c.ts, c.cid)
			ORDER BY l.timestamp ASC, l.id ASC
			LIMIT $3
		`
		pgRows, err := r.db.Query(ctx, q, executionID, cursor, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to page execution log for %s: %w", executionID, err)
		}
		rows = pgRows
	}
	defer rows.Close()

	page := &Page{}
	for rows.Next() {
		var e models.ExecutionLogEntry
		var data []byte
		if err := rows.Scan(&e.ID, &e.ExecutionID, &e.NodeID, &e.Level, &e.EventType, &e.Message, &data,
			&e.Timestamp, &e.IsMilestone, &e.Priority); err != nil {
			return nil, fmt.Errorf("failed to scan execution log entry: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &e.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal execution log data: %w", err)
			}
		}
		page.Entries = append(page.Entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(page.Entries) > 0 {
		page.NextCursor = page.Entries[len(page.Entries)-1].ID
	}
	return page, nil
}

// FirstMilestone blocks-free-polls for the first milestone log entry on
// an execution, used to resolve synchronous webhook responses (§4.1:
// "wait for first milestone with a 10s cap, then degrade to async ack").
func (r *ExecutionLogRepository) FirstMilestone(ctx context.Context, executionID string) (*models.ExecutionLogEntry, error) {
	query := `
		SELECT id, execution_id, node_id, level, event_type, message, data,
		       timestamp, is_milestone, priority
		FROM execution_log
		WHERE execution_id = $1 AND is_milestone = true
		ORDER BY timestamp ASC
		LIMIT 1
	`
	var e models.ExecutionLogEntry
	var data []byte
	err := r.db.QueryRow(ctx, query, executionID).Scan(
		&e.ID, &e.ExecutionID, &e.NodeID, &e.Level, &e.EventType, &e.Message, &data,
		&e.Timestamp, &e.IsMilestone, &e.Priority,
	)
	if err != nil {
		return nil, fmt.Errorf("no milestone yet for %s: %w", executionID, err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &e.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal milestone data: %w", err)
		}
	}
	return &e, nil
}

// DeleteOlderThan removes log entries whose timestamp is before cutoff.
// No background sweep in this module calls it.
func (r *ExecutionLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ct, err := r.db.Exec(ctx, `DELETE FROM execution_log WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep execution log retention: %w", err)
	}
	return ct.RowsAffected(), nil
}
