// Package runner defines the node-runner contract and the (type, subtype)
// registry the Engine dispatches through, per the source spec's §4.2
// "Runner registry." Concrete runners live in the internal/runner/*
// subpackages (action, aiagent, externalaction, flow, humanloop,
// toolmemory, trigger); each registers itself with a *Registry at process
// start.
//
// Grounded on the teacher's node-type dispatch map (the supportedTypes
// set in cmd/workflow-runner/coordinator/coordinator.go and the
// stream-per-type routing in cmd/workflow-runner/coordinator/router.go),
// generalized from a fixed handful of kinds to every (type, subtype) pair
// named in the spec.
package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/lyzr/workflow-platform/internal/apperr"
	"github.com/lyzr/workflow-platform/internal/models"
)

// Logger is the subset of common/logger.Logger every runner needs.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// CredentialFetcher resolves a valid access token for an EXTERNAL_ACTION
// runner's provider call, refreshing transparently per §4.3 step 2.
type CredentialFetcher interface {
	AccessToken(ctx context.Context, userID, provider string) (string, error)
}

// Context is the NodeExecutionContext named in the source spec §4.2: the
// resolved parameters, the gathered input map, trigger info, the
// workflow's static data, the acting identity, a credential fetcher, and
// a logger.
type Context struct {
	ExecutionID string
	WorkflowID  string
	Node        *models.Node
	Config      map[string]any
	Input       map[string]any
	TriggerInfo models.TriggerInfo
	StaticData  map[string]any
	Actor       string
	Credentials CredentialFetcher
	Logger      Logger
}

// Runner is implemented once per (Type, Subtype) pair named in §4.3.
type Runner interface {
	// Validate reports configuration errors at deploy time.
	Validate(config map[string]any) error
	// Execute performs the node's work and returns its result.
	Execute(ctx context.Context, rc *Context) (models.NodeExecutionResult, error)
}

// Resumer is implemented by a HUMAN_LOOP runner that needs to act when
// its pause is resumed: recording the response and emitting any
// template-driven follow-up message back to the channel, per §4.2
// "Template-driven follow-up messages... are emitted by the HUMAN_LOOP
// runner during resume."
type Resumer interface {
	Resume(ctx context.Context, rc *Context, resumeData map[string]any) (models.NodeExecutionResult, error)
}

// Registry maps (NodeType, Subtype) to a registered Runner.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]Runner)}
}

func registryKey(t models.NodeType, subtype string) string {
	return string(t) + ":" + strings.ToUpper(subtype)
}

// Register wires a runner for (t, subtype). Subtype matching is
// case-insensitive.
func (r *Registry) Register(t models.NodeType, subtype string, run Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[registryKey(t, subtype)] = run
}

// Get looks up the runner for (t, subtype).
func (r *Registry) Get(t models.NodeType, subtype string) (Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runners[registryKey(t, subtype)]
	return run, ok
}

// ValidateWorkflow checks every node has a registered runner and passes
// that runner's Validate, per §4.2: "Missing pair returns VALIDATION_ERROR
// at deploy time."
func (r *Registry) ValidateWorkflow(wf *models.Workflow) error {
	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		run, ok := r.Get(n.Type, n.Subtype)
		if !ok {
			return apperr.New(apperr.ValidationError,
				fmt.Sprintf("no runner registered for %s.%s (node %s)", n.Type, n.Subtype, n.ID))
		}
		if err := run.Validate(n.Configurations); err != nil {
			return apperr.Wrap(apperr.ValidationError, "node "+n.ID+" failed validation", err)
		}
	}
	return nil
}

// IsInline reports whether a node kind is executed synchronously inside
// the coordinator (no I/O wait worth offloading to a worker process):
// TRIGGER (payload-shape only), FLOW (pure control flow), TOOL/MEMORY
// (local KV/vector reads-writes against the catalog store).
func IsInline(t models.NodeType) bool {
	switch t {
	case models.NodeTypeTrigger, models.NodeTypeFlow, models.NodeTypeTool, models.NodeTypeMemory:
		return true
	default:
		return false
	}
}

// StreamForType returns the Redis stream a non-inline node kind is
// dispatched to, for consumption by the matching worker process
// (cmd/http-worker, cmd/agent-worker, cmd/hitl-worker,
// cmd/external-action-worker).
func StreamForType(t models.NodeType) string {
	switch t {
	case models.NodeTypeAction:
		return "wf.tasks.http"
	case models.NodeTypeExternalAction:
		return "wf.tasks.external"
	case models.NodeTypeAIAgent:
		return "wf.tasks.agent"
	case models.NodeTypeHumanLoop:
		return "wf.tasks.hitl"
	default:
		return ""
	}
}
