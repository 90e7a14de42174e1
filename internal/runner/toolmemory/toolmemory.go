// Package toolmemory implements the TOOL and MEMORY node types: a
// namespaced key-value/vector store driven by a uniform
// {operation, key, value, collection} contract, per §4.3. Both node
// types share one runner -- TOOL and MEMORY differ only in the
// subtype-to-collection-default naming a workflow author chooses, not in
// behavior.
//
// Grounded on the teacher's inline-operator handling in
// cmd/workflow-runner/coordinator/coordinator.go (FLOW/TOOL kinds run
// synchronously in the coordinator's own call stack rather than being
// dispatched to a worker stream); the storage layer itself is new, since
// the teacher carries no per-workflow KV/vector concept, built instead
// against internal/catalog/repository.MemoryRepository following that
// package's Postgres-backed repository style.
package toolmemory

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/lyzr/workflow-platform/internal/apperr"
	"github.com/lyzr/workflow-platform/internal/models"
	"github.com/lyzr/workflow-platform/internal/runner"
)

// Store is the catalog surface this runner needs.
type Store interface {
	Get(ctx context.Context, workflowID, collection, key string) (*models.MemoryEntry, error)
	Set(ctx context.Context, e *models.MemoryEntry) error
	ListCollection(ctx context.Context, workflowID, collection string) ([]*models.MemoryEntry, error)
}

const defaultCollection = "default"

// Runner backs both the TOOL and MEMORY node types.
type Runner struct {
	store Store
}

// New constructs a Runner.
func New(store Store) *Runner {
	return &Runner{store: store}
}

// Validate checks the node declares a recognized operation.
func (r *Runner) Validate(config map[string]any) error {
	op, _ := config["operation"].(string)
	switch op {
	case "get", "set", "append", "query":
		return nil
	default:
		return apperr.New(apperr.ValidationError, fmt.Sprintf("unsupported TOOL/MEMORY operation: %q", op))
	}
}

// Execute dispatches to the configured operation, namespacing every read
// and write by the executing workflow's id (and the declared collection,
// defaulting to "default" when omitted).
func (r *Runner) Execute(ctx context.Context, rc *runner.Context) (models.NodeExecutionResult, error) {
	operation, _ := rc.Config["operation"].(string)
	collection := defaultCollection
	if v, ok := rc.Config["collection"].(string); ok && v != "" {
		collection = v
	}
	key, _ := rc.Config["key"].(string)

	switch operation {
	case "get":
		return r.get(ctx, rc, collection, key)
	case "set":
		return r.set(ctx, rc, collection, key, rc.Config["value"])
	case "append":
		return r.appendValue(ctx, rc, collection, key, rc.Config["value"])
	case "query":
		return r.query(ctx, rc, collection, rc.Config["value"])
	default:
		return models.NodeExecutionResult{}, apperr.New(apperr.ValidationError, fmt.Sprintf("unsupported TOOL/MEMORY operation: %q", operation))
	}
}

func (r *Runner) get(ctx context.Context, rc *runner.Context, collection, key string) (models.NodeExecutionResult, error) {
	entry, err := r.store.Get(ctx, rc.WorkflowID, collection, key)
	if err != nil {
		return models.NodeExecutionResult{}, apperr.Wrap(apperr.Internal, "TOOL/MEMORY get failed", err)
	}
	var value any
	if entry != nil {
		value = entry.Value
	}
	return models.NodeExecutionResult{
		Status:     models.NodeSuccess,
		OutputData: map[string]any{"key": key, "value": value, "found": entry != nil},
		OutputPort: "main",
	}, nil
}

func (r *Runner) set(ctx context.Context, rc *runner.Context, collection, key string, value any) (models.NodeExecutionResult, error) {
	entry := &models.MemoryEntry{WorkflowID: rc.WorkflowID, Collection: collection, Key: key, Value: value}
	if vec, ok := extractEmbedding(rc.Config); ok {
		entry.Embedding = vec
	}
	if err := r.store.Set(ctx, entry); err != nil {
		return models.NodeExecutionResult{}, apperr.Wrap(apperr.Internal, "TOOL/MEMORY set failed", err)
	}
	return models.NodeExecutionResult{
		Status:     models.NodeSuccess,
		OutputData: map[string]any{"key": key, "value": value},
		OutputPort: "main",
	}, nil
}

func (r *Runner) appendValue(ctx context.Context, rc *runner.Context, collection, key string, value any) (models.NodeExecutionResult, error) {
	existing, err := r.store.Get(ctx, rc.WorkflowID, collection, key)
	if err != nil {
		return models.NodeExecutionResult{}, apperr.Wrap(apperr.Internal, "TOOL/MEMORY append failed to load existing value", err)
	}
	var list []any
	if existing != nil {
		if existingList, ok := existing.Value.([]any); ok {
			list = existingList
		} else if existing.Value != nil {
			list = []any{existing.Value}
		}
	}
	list = append(list, value)

	entry := &models.MemoryEntry{WorkflowID: rc.WorkflowID, Collection: collection, Key: key, Value: list}
	if err := r.store.Set(ctx, entry); err != nil {
		return models.NodeExecutionResult{}, apperr.Wrap(apperr.Internal, "TOOL/MEMORY append failed", err)
	}
	return models.NodeExecutionResult{
		Status:     models.NodeSuccess,
		OutputData: map[string]any{"key": key, "value": list},
		OutputPort: "main",
	}, nil
}

// query runs an in-process cosine-similarity scan over every entry in
// the collection that carries an embedding, returning the top_k closest
// matches. No external vector database is wired (see DESIGN.md); this is
// adequate for the per-workflow scopes this store serves.
func (r *Runner) query(ctx context.Context, rc *runner.Context, collection string, queryValue any) (models.NodeExecutionResult, error) {
	vector, ok := extractEmbeddingValue(queryValue)
	if !ok {
		return models.NodeExecutionResult{}, apperr.New(apperr.ValidationError, "TOOL/MEMORY query requires a numeric embedding in value.embedding")
	}
	topK := 5
	if v, ok := rc.Config["top_k"].(float64); ok && v > 0 {
		topK = int(v)
	}

	entries, err := r.store.ListCollection(ctx, rc.WorkflowID, collection)
	if err != nil {
		return models.NodeExecutionResult{}, apperr.Wrap(apperr.Internal, "TOOL/MEMORY query failed", err)
	}

	type scored struct {
		key   string
		value any
		score float64
	}
	var candidates []scored
	for _, e := range entries {
		if len(e.Embedding) == 0 {
			continue
		}
		candidates = append(candidates, scored{key: e.Key, value: e.Value, score: cosineSimilarity(vector, e.Embedding)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	matches := make([]map[string]any, 0, len(candidates))
	for _, c := range candidates {
		matches = append(matches, map[string]any{"key": c.key, "value": c.value, "score": c.score})
	}
	return models.NodeExecutionResult{
		Status:     models.NodeSuccess,
		OutputData: map[string]any{"matches": matches},
		OutputPort: "main",
	}, nil
}

func extractEmbedding(config map[string]any) ([]float32, bool) {
	return extractEmbeddingValue(config["value"])
}

func extractEmbeddingValue(value any) ([]float32, bool) {
	m, ok := value.(map[string]any)
	if !ok {
		return nil, false
	}
	raw, ok := m["embedding"].([]any)
	if !ok {
		return nil, false
	}
	out := make([]float32, 0, len(raw))
	for _, v := range raw {
		f, ok := v.(float64)
		if !ok {
			return nil, false
		}
		out = append(out, float32(f))
	}
	return out, len(out) > 0
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// RegisterAll wires the shared Runner under TOOL and MEMORY.
func RegisterAll(registry *runner.Registry, store Store) {
	run := New(store)
	registry.Register(models.NodeTypeTool, "KV", run)
	registry.Register(models.NodeTypeMemory, "KV", run)
	registry.Register(models.NodeTypeMemory, "VECTOR", run)
}
