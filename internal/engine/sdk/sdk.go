// Package sdk provides the coordinator's execution-state primitives: an
// idempotent Redis counter of outstanding node tokens (the coordinator
// seeds and decrements it; join gating does not read it), and
// CAS-backed storage of node outputs so downstream nodes and resumed
// executions can read them by reference instead of carrying large
// payloads through Redis streams.
//
// Grounded on the teacher's cmd/workflow-runner/sdk/sdk.go, which applies
// counter deltas through a cached Lua script for exactly-once semantics
// under at-least-once stream delivery. The Token/IR types the teacher
// kept alongside the counter ops now live in internal/engine/compiler,
// since nothing outside the compiler/coordinator pair needs them.
package sdk

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"context"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lyzr/workflow-platform/internal/catalog/cas"
	redis "github.com/lyzr/workflow-platform/common/redis"
)

//go:embed apply_delta.lua
var applyDeltaLua string

// Logger is the subset of common/logger.Logger the SDK needs.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// ApplyDeltaResult is the parsed return of the apply_delta Lua script.
type ApplyDeltaResult struct {
	CounterValue int
	Changed      bool
	HitZero      bool
}

// SDK bundles the coordinator's execution-state operations: an idempotent
// counter (ApplyDelta/Consume/Emit/GetCounter) and a node-output context
// store backed by content-addressed storage.
type SDK struct {
	redis  *redis.Client
	raw    *goredis.Client
	cas    *cas.Store
	logger Logger
	script *goredis.Script
}

// New constructs an SDK. raw is the underlying go-redis client (needed to
// run the Lua script directly; common/redis.Client does not expose
// script execution).
func New(wrapped *redis.Client, raw *goredis.Client, casStore *cas.Store, logger Logger) *SDK {
	return &SDK{
		redis:  wrapped,
		raw:    raw,
		cas:    casStore,
		logger: logger,
		script: goredis.NewScript(applyDeltaLua),
	}
}

// ApplyDelta idempotently applies delta to the execution's outstanding-
// token counter, keyed by opKey. Re-applying the same opKey is a no-op
// and returns the already-applied result (Changed=false).
func (s *SDK) ApplyDelta(ctx context.Context, executionID, opKey string, delta int) (*ApplyDeltaResult, error) {
	appliedSet := fmt.Sprintf("applied:%s", executionID)
	counterKey := fmt.Sprintf("counter:%s", executionID)

	result, err := s.script.Run(ctx, s.raw, []string{appliedSet, counterKey}, opKey, delta).Result()
	if err != nil {
		return nil, fmt.Errorf("apply delta failed: %w", err)
	}

	resultSlice, ok := result.([]interface{})
	if !ok || len(resultSlice) != 3 {
		return nil, fmt.Errorf("unexpected result shape from apply_delta script")
	}
	counterValue, _ := resultSlice[0].(int64)
	changed, _ := resultSlice[1].(int64)
	hitZero, _ := resultSlice[2].(int64)

	return &ApplyDeltaResult{
		CounterValue: int(counterValue),
		Changed:      changed == 1,
		HitZero:      hitZero == 1,
	}, nil
}

// Consume applies -1 for a single dispatched node's completion.
func (s *SDK) Consume(ctx context.Context, executionID, nodeID string) error {
	opKey := fmt.Sprintf("consume:%s", nodeID)
	result, err := s.ApplyDelta(ctx, executionID, opKey, -1)
	if err != nil {
		return err
	}
	if result.Changed {
		s.logger.Debug("token consumed", "execution_id", executionID, "node_id", nodeID, "counter", result.CounterValue)
	}
	return nil
}

// Emit applies +len(toNodes) when fromNode fans out to toNodes, keyed by
// a caller-supplied emitID so a retried emit is a no-op.
func (s *SDK) Emit(ctx context.Context, executionID, fromNode, emitID string, toNodes []string) error {
	if len(toNodes) == 0 {
		return nil
	}
	opKey := fmt.Sprintf("emit:%s:%s", fromNode, emitID)
	result, err := s.ApplyDelta(ctx, executionID, opKey, len(toNodes))
	if err != nil {
		return err
	}
	if result.Changed {
		s.logger.Debug("counter increased", "execution_id", executionID, "from", fromNode, "delta", len(toNodes), "counter", result.CounterValue)
	}
	return nil
}

// GetCounter returns the current outstanding-token counter value.
func (s *SDK) GetCounter(ctx context.Context, executionID string) (int, error) {
	counterKey := fmt.Sprintf("counter:%s", executionID)
	val, err := s.redis.Get(ctx, counterKey)
	if err != nil {
		return 0, nil // not yet initialized
	}
	var n int
	_, scanErr := fmt.Sscanf(val, "%d", &n)
	if scanErr != nil {
		return 0, fmt.Errorf("malformed counter value %q: %w", val, scanErr)
	}
	return n, nil
}

// InitializeCounter seeds the execution's counter, typically to 1 for the
// triggering node.
func (s *SDK) InitializeCounter(ctx context.Context, executionID string, initialValue int) error {
	counterKey := fmt.Sprintf("counter:%s", executionID)
	return s.redis.Set(ctx, counterKey, fmt.Sprintf("%d", initialValue), 0)
}

// StoreOutput marshals output to JSON, stores it in CAS, and returns the
// content-addressed reference.
func (s *SDK) StoreOutput(ctx context.Context, output any) (string, error) {
	data, err := json.Marshal(output)
	if err != nil {
		return "", fmt.Errorf("failed to marshal node output: %w", err)
	}
	return s.cas.Put(ctx, "application/json;type=node_output", data)
}

// LoadOutput loads and unmarshals a node output reference.
func (s *SDK) LoadOutput(ctx context.Context, ref string) (map[string]any, error) {
	data, err := s.cas.Get(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to load node output %s: %w", ref, err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal node output %s: %w", ref, err)
	}
	return out, nil
}

// StoreContext records nodeID's output reference under the execution's
// context hash, so LoadContext/LoadNodeOutput can resolve `$node["id"]`
// template reads without re-dispatching the node.
func (s *SDK) StoreContext(ctx context.Context, executionID, nodeID, outputRef string) error {
	contextKey := fmt.Sprintf("context:%s", executionID)
	if err := s.redis.SetHash(ctx, contextKey, nodeID, outputRef); err != nil {
		return fmt.Errorf("failed to store context: %w", err)
	}
	return nil
}

// LoadContext loads every previously stored node output for an execution,
// keyed by node id.
func (s *SDK) LoadContext(ctx context.Context, executionID string) (map[string]any, error) {
	contextKey := fmt.Sprintf("context:%s", executionID)
	refs, err := s.redis.GetAllHash(ctx, contextKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load context: %w", err)
	}
	out := make(map[string]any, len(refs))
	for nodeID, ref := range refs {
		output, err := s.LoadOutput(ctx, ref)
		if err != nil {
			s.logger.Warn("failed to load node output from CAS", "node_id", nodeID, "ref", ref, "error", err)
			continue
		}
		out[nodeID] = output
	}
	return out, nil
}

// LoadNodeOutput loads a single node's output by id.
func (s *SDK) LoadNodeOutput(ctx context.Context, executionID, nodeID string) (map[string]any, error) {
	contextKey := fmt.Sprintf("context:%s", executionID)
	ref, err := s.redis.GetHash(ctx, contextKey, nodeID)
	if err != nil {
		return nil, fmt.Errorf("node output not found: %s", nodeID)
	}
	return s.LoadOutput(ctx, ref)
}
