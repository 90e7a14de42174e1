package models

import "time"

// ExecutionStatus is the lifecycle state of an Execution.
type ExecutionStatus string

const (
	ExecutionNew      ExecutionStatus = "NEW"
	ExecutionRunning  ExecutionStatus = "RUNNING"
	ExecutionPaused   ExecutionStatus = "PAUSED"
	ExecutionSuccess  ExecutionStatus = "SUCCESS"
	ExecutionError    ExecutionStatus = "ERROR"
	ExecutionCanceled ExecutionStatus = "CANCELED"
)

// TriggerInfo is the normalized description of the event that started an
// Execution.
type TriggerInfo struct {
	Type      string         `json:"type"`
	Subtype   string         `json:"subtype"`
	RawEvent  map[string]any `json:"raw_event,omitempty"`
	InputData map[string]any `json:"input_data,omitempty"`
}

// PendingPause carries the state of a suspended HUMAN_LOOP node.
type PendingPause struct {
	NodeID            string         `json:"node_id"`
	InteractionID     string         `json:"interaction_id"`
	ChannelConfig     map[string]any `json:"channel_config,omitempty"`
	Question          string         `json:"question,omitempty"`
	TimeoutAt         time.Time      `json:"timeout_at"`
	TimeoutBranch     []string       `json:"timeout_branch,omitempty"`
	ApprovedMessage   string         `json:"approved_message,omitempty"`
	RejectedMessage   string         `json:"rejected_message,omitempty"`
	TimeoutMessage    string         `json:"timeout_message,omitempty"`
	RemainingFrontier []string       `json:"remaining_frontier"`
}

// Execution is one attempt to run a deployed workflow from a trigger
// event.
type Execution struct {
	ExecutionID       string                        `json:"execution_id"`
	WorkflowID        string                        `json:"workflow_id"`
	WorkflowVersion   int                           `json:"workflow_version"`
	TriggerInfo       TriggerInfo                   `json:"trigger_info"`
	Status            ExecutionStatus               `json:"status"`
	StartTime         time.Time                     `json:"start_time"`
	EndTime           time.Time                     `json:"end_time,omitempty"`
	ExecutionSequence []string                      `json:"execution_sequence"`
	NodeResults       map[string]NodeExecutionResult `json:"node_results"`
	FinalOutput       map[string]any                `json:"final_output,omitempty"`
	ErrorMessage      string                        `json:"error_message,omitempty"`
	PendingPause      *PendingPause                 `json:"pending_pause,omitempty"`
	Actor             string                        `json:"actor"`
	ConcurrencyCap    int                           `json:"concurrency_cap"`
}

// NodeResultStatus is the outcome of a single node's execution.
type NodeResultStatus string

const (
	NodeSuccess NodeResultStatus = "SUCCESS"
	NodeError   NodeResultStatus = "ERROR"
	NodeSkipped NodeResultStatus = "SKIPPED"
	NodePaused  NodeResultStatus = "PAUSED"
)

// LogEntry is a single bounded log line attached to a NodeExecutionResult.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// NodeExecutionResult is the outcome of dispatching one node.
type NodeExecutionResult struct {
	Status       NodeResultStatus  `json:"status"`
	OutputData   map[string]any    `json:"output_data,omitempty"`
	OutputPort   string            `json:"output_port,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	ErrorDetails map[string]any    `json:"error_details,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
	Logs         []LogEntry        `json:"logs,omitempty"`
}

// MaxLogsPerResult bounds the per-node log ring buffer.
const MaxLogsPerResult = 50

// AppendLog appends a log line, trimming the oldest entry once the ring
// buffer cap is reached.
func (r *NodeExecutionResult) AppendLog(level, msg string) {
	r.Logs = append(r.Logs, LogEntry{Timestamp: time.Now(), Level: level, Message: msg})
	if len(r.Logs) > MaxLogsPerResult {
		r.Logs = r.Logs[len(r.Logs)-MaxLogsPerResult:]
	}
}
