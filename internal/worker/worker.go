// Package worker implements the generic dispatched-node consumer shared
// by cmd/http-worker, cmd/agent-worker, cmd/hitl-worker, and
// cmd/external-action-worker: read one node kind's Redis stream via a
// consumer group, execute the matching registered runner, push a
// completion signal back to internal/engine/coordinator, and ack.
//
// Grounded directly on the teacher's cmd/workflow-runner/worker/
// http_worker.go (XREADGROUP loop, one goroutine-free processNextMessage
// per iteration, XACK after the completion signal is pushed), generalized
// from one hardcoded node kind to any (stream, registry) pair so every
// worker binary shares one implementation.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/workflow-platform/internal/apperr"
	"github.com/lyzr/workflow-platform/internal/engine/sdk"
	"github.com/lyzr/workflow-platform/internal/models"
	"github.com/lyzr/workflow-platform/internal/runner"

	wfredis "github.com/lyzr/workflow-platform/common/redis"
)

// Logger is the subset of common/logger.Logger the worker needs.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// CompletionQueue mirrors internal/engine/coordinator.CompletionQueue;
// duplicated as a constant here rather than imported to avoid a
// worker-process dependency on the coordinator package.
const CompletionQueue = "completion_signals"

// dispatchToken mirrors internal/engine/coordinator's unexported
// dispatchToken wire shape exactly; the two are independent types
// connected only by the JSON contract each dispatched node is published
// under.
type dispatchToken struct {
	ExecutionID string             `json:"execution_id"`
	WorkflowID  string             `json:"workflow_id"`
	NodeID      string             `json:"node_id"`
	Type        models.NodeType    `json:"type"`
	Subtype     string             `json:"subtype"`
	Config      map[string]any     `json:"config"`
	Input       map[string]any     `json:"input"`
	TriggerInfo models.TriggerInfo `json:"trigger_info"`
	StaticData  map[string]any     `json:"static_data"`
	Actor       string             `json:"actor"`
}

// completionSignal mirrors internal/engine/coordinator.CompletionSignal.
type completionSignal struct {
	ExecutionID  string                  `json:"execution_id"`
	NodeID       string                  `json:"node_id"`
	Status       models.NodeResultStatus `json:"status"`
	OutputRef    string                  `json:"output_ref,omitempty"`
	OutputPort   string                  `json:"output_port,omitempty"`
	ErrorMessage string                  `json:"error_message,omitempty"`
	ErrorDetails map[string]any          `json:"error_details,omitempty"`
	StartedAt    time.Time               `json:"started_at"`
	FinishedAt   time.Time               `json:"finished_at"`
}

// Worker consumes one node kind's dispatch stream and runs its
// registered runner to completion.
type Worker struct {
	redis         *wfredis.Client
	sdk           *sdk.SDK
	registry      *runner.Registry
	credentials   runner.CredentialFetcher
	logger        Logger
	stream        string
	consumerGroup string
	consumerName  string
}

// New constructs a Worker bound to stream, identified as name within its
// consumer group (a short, process-unique suffix is appended so
// multiple replicas of the same worker kind don't collide).
func New(redisClient *wfredis.Client, sdkInstance *sdk.SDK, registry *runner.Registry, credentials runner.CredentialFetcher, logger Logger, stream, name string) *Worker {
	return &Worker{
		redis:         redisClient,
		sdk:           sdkInstance,
		registry:      registry,
		credentials:   credentials,
		logger:        logger,
		stream:        stream,
		consumerGroup: name + "_workers",
		consumerName:  fmt.Sprintf("%s_%s", name, uuid.New().String()[:8]),
	}
}

// Start runs the consume loop until ctx is canceled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("worker starting", "stream", w.stream, "consumer_group", w.consumerGroup, "consumer_name", w.consumerName)

	if err := w.redis.CreateStreamGroup(ctx, w.stream, w.consumerGroup); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping", "stream", w.stream)
			return ctx.Err()
		default:
			if err := w.processNext(ctx); err != nil {
				w.logger.Error("failed to process message", "stream", w.stream, "error", err)
				time.Sleep(time.Second)
			}
		}
	}
}

func (w *Worker) processNext(ctx context.Context) error {
	streams, err := w.redis.ReadFromStreamGroup(ctx, w.consumerGroup, w.consumerName, w.stream, 1, 5*time.Second)
	if err != nil {
		return err
	}
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			w.handle(ctx, msg.ID, msg.Values)
		}
	}
	return nil
}

func (w *Worker) handle(ctx context.Context, messageID string, values map[string]interface{}) {
	raw, _ := values["token"].(string)
	var token dispatchToken
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		w.logger.Error("failed to unmarshal dispatch token", "message_id", messageID, "error", err)
		w.ack(ctx, messageID)
		return
	}

	run, ok := w.registry.Get(token.Type, token.Subtype)
	if !ok {
		w.complete(ctx, token, models.NodeExecutionResult{
			Status:       models.NodeError,
			ErrorMessage: fmt.Sprintf("no runner registered for %s.%s", token.Type, token.Subtype),
			StartedAt:    time.Now().UTC(),
			FinishedAt:   time.Now().UTC(),
		})
		w.ack(ctx, messageID)
		return
	}

	rc := &runner.Context{
		ExecutionID: token.ExecutionID,
		WorkflowID:  token.WorkflowID,
		Node:        &models.Node{ID: token.NodeID, Type: token.Type, Subtype: token.Subtype, Configurations: token.Config},
		Config:      token.Config,
		Input:       token.Input,
		TriggerInfo: token.TriggerInfo,
		StaticData:  token.StaticData,
		Actor:       token.Actor,
		Credentials: w.credentials,
		Logger:      w.logger,
	}

	started := time.Now().UTC()
	result, err := run.Execute(ctx, rc)
	if err != nil {
		result = errorResult(err, started)
	}
	if result.OutputPort == "" {
		result.OutputPort = "main"
	}
	if result.StartedAt.IsZero() {
		result.StartedAt = started
	}
	if result.FinishedAt.IsZero() {
		result.FinishedAt = time.Now().UTC()
	}

	w.complete(ctx, token, result)
	w.ack(ctx, messageID)
}

func errorResult(err error, started time.Time) models.NodeExecutionResult {
	r := models.NodeExecutionResult{
		Status:       models.NodeError,
		ErrorMessage: err.Error(),
		StartedAt:    started,
		FinishedAt:   time.Now().UTC(),
	}
	if ae, ok := err.(*apperr.Error); ok {
		r.ErrorDetails = map[string]any{"kind": string(ae.Kind)}
	}
	return r
}

// complete stores the node's output in CAS (when present) and pushes a
// completion signal for the coordinator to pick up.
func (w *Worker) complete(ctx context.Context, token dispatchToken, result models.NodeExecutionResult) {
	signal := completionSignal{
		ExecutionID:  token.ExecutionID,
		NodeID:       token.NodeID,
		Status:       result.Status,
		OutputPort:   result.OutputPort,
		ErrorMessage: result.ErrorMessage,
		ErrorDetails: result.ErrorDetails,
		StartedAt:    result.StartedAt,
		FinishedAt:   result.FinishedAt,
	}
	if result.OutputData != nil {
		ref, err := w.sdk.StoreOutput(ctx, result.OutputData)
		if err != nil {
			w.logger.Error("failed to store node output", "execution_id", token.ExecutionID, "node_id", token.NodeID, "error", err)
			signal.Status = models.NodeError
			signal.ErrorMessage = "failed to persist node output: " + err.Error()
		} else {
			signal.OutputRef = ref
		}
	}

	payload, err := json.Marshal(signal)
	if err != nil {
		w.logger.Error("failed to marshal completion signal", "execution_id", token.ExecutionID, "node_id", token.NodeID, "error", err)
		return
	}
	if err := w.redis.PushToList(ctx, CompletionQueue, string(payload)); err != nil {
		w.logger.Error("failed to push completion signal", "execution_id", token.ExecutionID, "node_id", token.NodeID, "error", err)
	}
}

func (w *Worker) ack(ctx context.Context, messageID string) {
	if err := w.redis.AckStreamMessage(ctx, w.stream, w.consumerGroup, messageID); err != nil {
		w.logger.Error("failed to ack message", "stream", w.stream, "message_id", messageID, "error", err)
	}
}
