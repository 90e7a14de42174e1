package flow

import (
	"context"
	"fmt"

	wfredis "github.com/lyzr/workflow-platform/common/redis"
	"github.com/lyzr/workflow-platform/internal/apperr"
	"github.com/lyzr/workflow-platform/internal/condition"
	"github.com/lyzr/workflow-platform/internal/models"
	"github.com/lyzr/workflow-platform/internal/runner"
)

const defaultMaxIterations = 100

// LoopRunner re-queues its body subgraph with an iteration counter until a
// termination predicate holds or a max-iterations cap is hit, per §4.3.
// The counter lives in Redis at loop:<execution_id>:<node_id>, matching
// the teacher's LoopOperator key shape.
type LoopRunner struct {
	redis     *wfredis.Client
	evaluator *condition.Evaluator
}

// NewLoopRunner constructs a LoopRunner.
func NewLoopRunner(redisClient *wfredis.Client, evaluator *condition.Evaluator) *LoopRunner {
	return &LoopRunner{redis: redisClient, evaluator: evaluator}
}

// Validate checks max_iterations, when present, is usable; the
// termination condition is optional (an absent one loops until the cap).
func (r *LoopRunner) Validate(config map[string]any) error {
	if raw, ok := config["max_iterations"]; ok {
		if _, ok := raw.(float64); !ok {
			return apperr.New(apperr.ValidationError, "LOOP max_iterations must be a number")
		}
	}
	if raw, ok := config["condition"]; ok {
		if _, ok := raw.(map[string]any); !ok {
			return apperr.New(apperr.ValidationError, "LOOP condition must be an object")
		}
	}
	return nil
}

func (r *LoopRunner) maxIterations(config map[string]any) int {
	if v, ok := config["max_iterations"].(float64); ok && v > 0 {
		return int(v)
	}
	return defaultMaxIterations
}

func portOr(config map[string]any, key, fallback string) string {
	if v, ok := config[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// Execute increments the loop's iteration counter, checks the
// max-iterations cap, and — if a termination condition is declared —
// evaluates it against the gathered input to decide whether to loop back
// or break.
func (r *LoopRunner) Execute(ctx context.Context, rc *runner.Context) (models.NodeExecutionResult, error) {
	loopKey := fmt.Sprintf("loop:%s:%s", rc.ExecutionID, rc.Node.ID)
	loopBackPort := portOr(rc.Config, "loop_back_port", "loop_back")
	breakPort := portOr(rc.Config, "break_port", "break")
	timeoutPort := portOr(rc.Config, "timeout_port", "timeout")

	iteration, err := r.redis.IncrementHash(ctx, loopKey, "current_iteration", 1)
	if err != nil {
		return models.NodeExecutionResult{}, apperr.Wrap(apperr.Internal, "failed to increment loop iteration", err)
	}

	output := map[string]any{}
	for k, v := range rc.Input {
		output[k] = v
	}
	output["iteration"] = iteration

	if int(iteration) >= r.maxIterations(rc.Config) {
		_ = r.redis.Delete(ctx, loopKey)
		return models.NodeExecutionResult{Status: models.NodeSuccess, OutputData: output, OutputPort: timeoutPort}, nil
	}

	rawCond, hasCond := rc.Config["condition"].(map[string]any)
	if !hasCond {
		return models.NodeExecutionResult{Status: models.NodeSuccess, OutputData: output, OutputPort: loopBackPort}, nil
	}

	cond := &condition.Condition{Type: "cel"}
	if v, ok := rawCond["type"].(string); ok && v != "" {
		cond.Type = v
	}
	if v, ok := rawCond["expression"].(string); ok {
		cond.Expression = v
	}

	done, err := r.evaluator.Evaluate(cond, output, evalContext(rc))
	if err != nil {
		rc.Logger.Error("loop termination condition failed", "execution_id", rc.ExecutionID, "node_id", rc.Node.ID, "error", err)
		_ = r.redis.Delete(ctx, loopKey)
		return models.NodeExecutionResult{Status: models.NodeSuccess, OutputData: output, OutputPort: breakPort}, nil
	}

	if done {
		_ = r.redis.Delete(ctx, loopKey)
		return models.NodeExecutionResult{Status: models.NodeSuccess, OutputData: output, OutputPort: breakPort}, nil
	}
	return models.NodeExecutionResult{Status: models.NodeSuccess, OutputData: output, OutputPort: loopBackPort}, nil
}
