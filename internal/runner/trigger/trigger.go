// Package trigger implements the TRIGGER node type. Per §4.3, every
// subtype (WEBHOOK, CRON, MANUAL, GITHUB, SLACK, EMAIL) behaves
// identically at execution time: it performs no I/O and simply emits the
// already-normalized trigger payload on port "main". The subtypes differ
// only in the index-key builder the Scheduler uses at deploy time
// (internal/scheduler), not in anything this package does.
//
// Grounded on the teacher's trigger-node handling in
// cmd/workflow-runner/coordinator/coordinator.go, where a TRIGGER node's
// result is the inbound event itself rather than the product of a
// runner call; generalized here into an explicit Runner so every node
// kind goes through the same registry/dispatch path.
package trigger

import (
	"context"

	"github.com/lyzr/workflow-platform/internal/models"
	"github.com/lyzr/workflow-platform/internal/runner"
)

// Runner backs every TRIGGER subtype. It is stateless and shared across
// registrations.
type Runner struct{}

// New constructs the shared TRIGGER runner.
func New() *Runner {
	return &Runner{}
}

// Validate accepts any configuration; a TRIGGER node's configuration is
// consumed by the Scheduler's index-key builder, not by this runner.
func (r *Runner) Validate(config map[string]any) error {
	return nil
}

// Execute emits the normalized trigger payload on "main" without
// performing any I/O.
func (r *Runner) Execute(ctx context.Context, rc *runner.Context) (models.NodeExecutionResult, error) {
	output := rc.TriggerInfo.InputData
	if output == nil {
		output = map[string]any{}
	}
	return models.NodeExecutionResult{Status: models.NodeSuccess, OutputData: output, OutputPort: "main"}, nil
}

// RegisterAll wires the shared Runner under every TRIGGER subtype named
// in §4.1/§4.3.
func RegisterAll(registry *runner.Registry) {
	run := New()
	for _, subtype := range []string{"WEBHOOK", "CRON", "MANUAL", "GITHUB", "SLACK", "EMAIL"} {
		registry.Register(models.NodeTypeTrigger, subtype, run)
	}
}
