package models

import "time"

// MemoryEntry is one row of a workflow's namespaced TOOL/MEMORY store,
// per §4.3 "Read/write against a per-workflow key-value or vector
// store... Memory runners must namespace by workflow_id at minimum."
type MemoryEntry struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	Collection string    `json:"collection"`
	Key        string    `json:"key"`
	Value      any       `json:"value"`
	Embedding  []float32 `json:"embedding,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
