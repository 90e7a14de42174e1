package models

import "time"

// IndexStatus is the activation state of a TriggerIndexEntry.
type IndexStatus string

const (
	IndexActive IndexStatus = "active"
	IndexPaused IndexStatus = "paused"
)

// TriggerIndexEntry is a scheduler-owned row mapping a deterministic
// index_key to the workflow that should fire when a matching event
// arrives. (workflow_id, index_key) is unique.
type TriggerIndexEntry struct {
	ID             string         `json:"id"`
	WorkflowID     string         `json:"workflow_id"`
	NodeID         string         `json:"node_id"`
	TriggerType    string         `json:"trigger_type"`
	TriggerSubtype string         `json:"trigger_subtype"`
	IndexKey       string         `json:"index_key"`
	Config         map[string]any `json:"config,omitempty"`
	Status         IndexStatus    `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
