// Package condition evaluates CEL boolean expressions for FLOW.IF,
// FLOW.SWITCH, and FLOW.LOOP conditions, and restricted pure expressions
// for Connection.conversion_function.
//
// Grounded on the teacher's cmd/workflow-runner/condition/evaluator.go,
// which compiled and cached google/cel-go programs over "output"/"ctx"
// variables. Kept nearly verbatim for condition evaluation; extended with
// a second, syntactically-restricted entry point for conversion functions
// so that Connection transforms can never execute arbitrary host code
// (SPEC_FULL.md §9: "never eval user strings").
package condition

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// Condition is the (type, expression) pair a runner evaluates. Only
// type "cel" is supported; this is deliberate — it is the restricted
// expression language named in the source spec's §9 redesign flag.
type Condition struct {
	Type       string `json:"type"`
	Expression string `json:"expression"`
}

// Evaluator compiles and caches CEL programs keyed by normalized
// expression text.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewEvaluator creates an empty evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string]cel.Program)}
}

// Evaluate evaluates a boolean condition (IF/SWITCH guards, LOOP
// termination predicates) against a node's output and the execution
// context map.
func (e *Evaluator) Evaluate(cond *Condition, output any, ctx map[string]any) (bool, error) {
	if cond == nil {
		return false, fmt.Errorf("nil condition")
	}
	if cond.Type != "cel" {
		return false, fmt.Errorf("unsupported condition type: %s", cond.Type)
	}
	out, err := e.eval(cond.Expression, output, ctx)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition did not evaluate to a boolean, got %T", out)
	}
	return b, nil
}

// EvaluateSwitchKey evaluates an expression that produces the value a
// FLOW.SWITCH matches its cases against (rather than a boolean).
func (e *Evaluator) EvaluateSwitchKey(expression string, output any, ctx map[string]any) (any, error) {
	return e.eval(expression, output, ctx)
}

// Transform evaluates a Connection.conversion_function against the
// upstream node's output, producing the value carried onto the
// downstream node's input port. Reuses the same restricted CEL
// environment as Evaluate/EvaluateSwitchKey, so a conversion function
// can read "output" but can never reach host code.
func (e *Evaluator) Transform(expression string, output any, ctx map[string]any) (any, error) {
	if strings.TrimSpace(expression) == "" {
		return output, nil
	}
	return e.eval(expression, output, ctx)
}

func (e *Evaluator) eval(expr string, output, ctx any) (any, error) {
	normalized := strings.ReplaceAll(expr, "$.", "output.")

	e.mu.RLock()
	prg, ok := e.cache[normalized]
	e.mu.RUnlock()
	if !ok {
		var err error
		prg, err = compile(normalized)
		if err != nil {
			return nil, err
		}
		e.mu.Lock()
		e.cache[normalized] = prg
		e.mu.Unlock()
	}

	out, _, err := prg.Eval(map[string]interface{}{"output": output, "ctx": ctx})
	if err != nil {
		return nil, fmt.Errorf("CEL evaluation error: %w", err)
	}
	return out.Value(), nil
}

func compile(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("output", cel.DynType),
		cel.Variable("ctx", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation error: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build CEL program: %w", err)
	}
	return prg, nil
}

// ClearCache empties the compiled-program cache.
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]cel.Program)
}

// CacheSize reports the number of cached compiled expressions.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
