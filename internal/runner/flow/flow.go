// Package flow implements the FLOW node type's four subtypes: IF, SWITCH,
// MERGE, LOOP.
//
// Grounded on the teacher's cmd/workflow-runner/operators/control_flow.go
// (ControlFlowRouter / LoopOperator / BranchOperator), but reshaped around
// a different routing mechanism. The teacher precompiles a node's
// branch/loop configuration into a side table and has its router return
// explicit next-node id lists. Here the compiled graph carries no such
// side table (internal/engine/compiler deliberately omits it); instead
// each runner below decides only which output port to emit on, and the
// coordinator's ordinary edge-matching (an edge only activates when its
// from_port equals the emitting node's output port) does the routing.
// IF and SWITCH pick a port; MERGE and LOOP's "wait for every declared
// inbound port" behavior is the coordinator's join-gating, not something
// the runner implements itself.
package flow

import (
	"context"
	"fmt"

	"github.com/lyzr/workflow-platform/internal/apperr"
	"github.com/lyzr/workflow-platform/internal/condition"
	"github.com/lyzr/workflow-platform/internal/models"
	"github.com/lyzr/workflow-platform/internal/runner"
)

func conditionFromConfig(config map[string]any, key string) (*condition.Condition, error) {
	raw, ok := config[key].(map[string]any)
	if !ok {
		return nil, apperr.New(apperr.ValidationError, fmt.Sprintf("flow node missing %q condition", key))
	}
	cond := &condition.Condition{Type: "cel"}
	if v, ok := raw["type"].(string); ok && v != "" {
		cond.Type = v
	}
	if v, ok := raw["expression"].(string); ok {
		cond.Expression = v
	}
	if cond.Expression == "" {
		return nil, apperr.New(apperr.ValidationError, fmt.Sprintf("flow node's %q condition has no expression", key))
	}
	return cond, nil
}

// IFRunner evaluates a boolean expression and emits on the "true" or
// "false" port; the unselected successors are skipped, per §4.3.
type IFRunner struct {
	evaluator *condition.Evaluator
}

// NewIFRunner constructs an IFRunner.
func NewIFRunner(evaluator *condition.Evaluator) *IFRunner {
	return &IFRunner{evaluator: evaluator}
}

// Validate checks the node declares a usable condition.
func (r *IFRunner) Validate(config map[string]any) error {
	_, err := conditionFromConfig(config, "condition")
	return err
}

// Execute evaluates the condition over the gathered input and emits on
// "true" or "false".
func (r *IFRunner) Execute(ctx context.Context, rc *runner.Context) (models.NodeExecutionResult, error) {
	cond, err := conditionFromConfig(rc.Config, "condition")
	if err != nil {
		return models.NodeExecutionResult{}, err
	}
	matched, err := r.evaluator.Evaluate(cond, rc.Input, evalContext(rc))
	if err != nil {
		return models.NodeExecutionResult{}, apperr.Wrap(apperr.ValidationError, "IF condition evaluation failed", err)
	}
	port := "false"
	if matched {
		port = "true"
	}
	return models.NodeExecutionResult{Status: models.NodeSuccess, OutputData: rc.Input, OutputPort: port}, nil
}

// SwitchRunner evaluates an expression and emits on the port matching its
// value, falling back to "default" when no declared case matches.
type SwitchRunner struct {
	evaluator *condition.Evaluator
}

// NewSwitchRunner constructs a SwitchRunner.
func NewSwitchRunner(evaluator *condition.Evaluator) *SwitchRunner {
	return &SwitchRunner{evaluator: evaluator}
}

// Validate checks the node declares a key expression.
func (r *SwitchRunner) Validate(config map[string]any) error {
	_, err := conditionFromConfig(config, "expression")
	return err
}

// Execute evaluates the switch key expression and emits on the matching
// case port, or "default" if the value isn't among the declared cases.
func (r *SwitchRunner) Execute(ctx context.Context, rc *runner.Context) (models.NodeExecutionResult, error) {
	cond, err := conditionFromConfig(rc.Config, "expression")
	if err != nil {
		return models.NodeExecutionResult{}, err
	}
	key, err := r.evaluator.EvaluateSwitchKey(cond.Expression, rc.Input, evalContext(rc))
	if err != nil {
		return models.NodeExecutionResult{}, apperr.Wrap(apperr.ValidationError, "SWITCH expression evaluation failed", err)
	}
	port := fmt.Sprintf("%v", key)
	if cases, ok := rc.Config["cases"].([]any); ok {
		found := false
		for _, c := range cases {
			if fmt.Sprintf("%v", c) == port {
				found = true
				break
			}
		}
		if !found {
			port = "default"
		}
	}
	return models.NodeExecutionResult{Status: models.NodeSuccess, OutputData: rc.Input, OutputPort: port}, nil
}

// MergeRunner waits for every declared inbound port (the coordinator's
// join-gating already guarantees that by the time Execute runs) and
// re-emits the merged input object on "main".
type MergeRunner struct{}

// NewMergeRunner constructs a MergeRunner.
func NewMergeRunner() *MergeRunner {
	return &MergeRunner{}
}

// Validate accepts any configuration; MERGE has none of its own.
func (r *MergeRunner) Validate(config map[string]any) error {
	return nil
}

// Execute re-emits the already-merged input on "main".
func (r *MergeRunner) Execute(ctx context.Context, rc *runner.Context) (models.NodeExecutionResult, error) {
	return models.NodeExecutionResult{Status: models.NodeSuccess, OutputData: rc.Input, OutputPort: "main"}, nil
}

func evalContext(rc *runner.Context) map[string]any {
	return map[string]any{
		"trigger": rc.TriggerInfo,
		"static":  rc.StaticData,
		"actor":   rc.Actor,
	}
}
