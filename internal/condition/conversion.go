package condition

import "fmt"

// ConvertEdgeValue evaluates a Connection.conversion_function against the
// upstream node's output. The function body is the same CEL subset used
// for conditions (object construction, array/field access, string
// concatenation via CEL's "+", comparisons) — never raw host code, per
// SPEC_FULL.md §9. An empty expression is the identity transform.
func (e *Evaluator) ConvertEdgeValue(expression string, output any, ctx map[string]any) (any, error) {
	if expression == "" {
		return output, nil
	}
	v, err := e.eval(expression, output, ctx)
	if err != nil {
		return nil, fmt.Errorf("conversion_function evaluation failed: %w", err)
	}
	return v, nil
}
