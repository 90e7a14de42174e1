package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lyzr/workflow-platform/common/db"
	"github.com/lyzr/workflow-platform/internal/models"
)

// MemoryRepository backs the TOOL/MEMORY node kind's namespaced
// key-value/vector store (§4.3). Every row is scoped by (workflow_id,
// collection, key); query additionally scans embeddings within a
// collection for the in-process cosine-similarity search described in
// SPEC_FULL.md §4.3 (no external vector DB is wired, by design -- see
// DESIGN.md).
type MemoryRepository struct {
	db *db.DB
}

// NewMemoryRepository constructs a MemoryRepository.
func NewMemoryRepository(database *db.DB) *MemoryRepository {
	return &MemoryRepository{db: database}
}

// Get returns the entry for (workflowID, collection, key), or nil if unset.
func (r *MemoryRepository) Get(ctx context.Context, workflowID, collection, key string) (*models.MemoryEntry, error) {
	query := `
		SELECT id, workflow_id, collection, key, value, embedding, created_at, updated_at
		FROM memory_entry
		WHERE workflow_id = $1 AND collection = $2 AND key = $3
	`
	entry, err := scanMemoryEntry(r.db.QueryRow(ctx, query, workflowID, collection, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memory entry %s/%s/%s: %w", workflowID, collection, key, err)
	}
	return entry, nil
}

// Set upserts an entry's value (and optional embedding).
func (r *MemoryRepository) Set(ctx context.Context, e *models.MemoryEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	value, err := json.Marshal(e.Value)
	if err != nil {
		return fmt.Errorf("failed to marshal memory entry value: %w", err)
	}
	embedding, err := json.Marshal(e.Embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal memory entry embedding: %w", err)
	}

	query := `
		INSERT INTO memory_entry (id, workflow_id, collection, key, value, embedding, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (workflow_id, collection, key) DO UPDATE SET
			value = EXCLUDED.value,
			embedding = EXCLUDED.embedding,
			updated_at = EXCLUDED.updated_at
	`
	_, err = r.db.Exec(ctx, query, e.ID, e.WorkflowID, e.Collection, e.Key, value, embedding, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to set memory entry %s/%s/%s: %w", e.WorkflowID, e.Collection, e.Key, err)
	}
	return nil
}

// ListCollection returns every entry in (workflowID, collection), for
// Query's in-process similarity scan.
func (r *MemoryRepository) ListCollection(ctx context.Context, workflowID, collection string) ([]*models.MemoryEntry, error) {
	query := `
		SELECT id, workflow_id, collection, key, value, embedding, created_at, updated_at
		FROM memory_entry
		WHERE workflow_id = $1 AND collection = $2
	`
	rows, err := r.db.Query(ctx, query, workflowID, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list memory collection %s/%s: %w", workflowID, collection, err)
	}
	defer rows.Close()

	var out []*models.MemoryEntry
	for rows.Next() {
		entry, err := scanMemoryEntryRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemoryEntry(row rowScanner) (*models.MemoryEntry, error) {
	return scanMemoryEntryRows(row)
}

func scanMemoryEntryRows(row rowScanner) (*models.MemoryEntry, error) {
	var e models.MemoryEntry
	var value, embedding []byte
	if err := row.Scan(&e.ID, &e.WorkflowID, &e.Collection, &e.Key, &value, &embedding, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	if len(value) > 0 {
		if err := json.Unmarshal(value, &e.Value); err != nil {
			return nil, fmt.Errorf("failed to unmarshal memory entry value: %w", err)
		}
	}
	if len(embedding) > 0 {
		if err := json.Unmarshal(embedding, &e.Embedding); err != nil {
			return nil, fmt.Errorf("failed to unmarshal memory entry embedding: %w", err)
		}
	}
	return &e, nil
}
