package action

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/lyzr/workflow-platform/internal/apperr"
	"github.com/lyzr/workflow-platform/internal/models"
	"github.com/lyzr/workflow-platform/internal/runner"
)

// DataTransformationRunner backs ACTION.DATA_TRANSFORMATION: field_mapping
// (an object built from dotted/indexed-path reads of the input via gjson,
// the same path library internal/resolver uses), a minimal jq-style subset
// (field access, array index, pipe, identity, also via gjson), or a string
// template.
type DataTransformationRunner struct{}

// NewDataTransformationRunner constructs a DataTransformationRunner.
func NewDataTransformationRunner() *DataTransformationRunner {
	return &DataTransformationRunner{}
}

// Validate requires transformation_type and its matching config key.
func (r *DataTransformationRunner) Validate(config map[string]any) error {
	kind, _ := config["transformation_type"].(string)
	switch kind {
	case "field_mapping":
		if _, ok := config["mapping"].(map[string]any); !ok {
			return apperr.New(apperr.ValidationError, "field_mapping transformation requires a mapping object")
		}
	case "jq":
		if v, ok := config["expression"].(string); !ok || v == "" {
			return apperr.New(apperr.ValidationError, "jq transformation requires a non-empty expression")
		}
	case "template":
		if v, ok := config["template"].(string); !ok || v == "" {
			return apperr.New(apperr.ValidationError, "template transformation requires a non-empty template")
		}
	default:
		return apperr.New(apperr.ValidationError, fmt.Sprintf("unsupported transformation_type: %q", kind))
	}
	return nil
}

// Execute applies the configured transformation to the gathered input.
func (r *DataTransformationRunner) Execute(ctx context.Context, rc *runner.Context) (models.NodeExecutionResult, error) {
	kind, _ := rc.Config["transformation_type"].(string)
	switch kind {
	case "field_mapping":
		mapping, _ := rc.Config["mapping"].(map[string]any)
		out := make(map[string]any, len(mapping))
		for field, pathRaw := range mapping {
			path, _ := pathRaw.(string)
			out[field] = readPath(rc.Input, path)
		}
		return models.NodeExecutionResult{Status: models.NodeSuccess, OutputData: out, OutputPort: "main"}, nil

	case "jq":
		expr, _ := rc.Config["expression"].(string)
		value, err := evalJQSubset(expr, rc.Input)
		if err != nil {
			return models.NodeExecutionResult{}, apperr.Wrap(apperr.ValidationError, "jq expression failed", err)
		}
		return models.NodeExecutionResult{Status: models.NodeSuccess, OutputData: asOutputMap(value), OutputPort: "main"}, nil

	case "template":
		tpl, _ := rc.Config["template"].(string)
		rendered := renderTemplate(tpl, rc.Input)
		return models.NodeExecutionResult{Status: models.NodeSuccess, OutputData: map[string]any{"result": rendered}, OutputPort: "main"}, nil

	default:
		return models.NodeExecutionResult{}, apperr.New(apperr.ValidationError, fmt.Sprintf("unsupported transformation_type: %q", kind))
	}
}

func asOutputMap(value any) map[string]any {
	if m, ok := value.(map[string]any); ok {
		return m
	}
	return map[string]any{"result": value}
}

// readPath reads a dotted/indexed gjson path (a.b.c, a.b.0.c, a.foo[0].c)
// from root, returning nil if any segment is missing.
func readPath(root any, path string) any {
	path = strings.TrimPrefix(strings.TrimSpace(path), ".")
	if path == "" {
		return root
	}
	raw, err := json.Marshal(root)
	if err != nil {
		return nil
	}
	res := gjson.GetBytes(raw, path)
	if !res.Exists() {
		return nil
	}
	return gjsonToGo(res)
}

func gjsonToGo(r gjson.Result) any {
	switch r.Type {
	case gjson.String:
		return r.Str
	case gjson.Number:
		return r.Num
	case gjson.True:
		return true
	case gjson.False:
		return false
	case gjson.Null:
		return nil
	default:
		if r.IsArray() || r.IsObject() {
			var v any
			if err := json.Unmarshal([]byte(r.Raw), &v); err == nil {
				return v
			}
		}
		return r.Value()
	}
}

// evalJQSubset evaluates a minimal jq-style expression over gjson paths:
// "." (identity), field access (".foo.bar"), array indices (".foo.0"),
// and "|" pipes chaining any of the above.
func evalJQSubset(expr string, input any) (any, error) {
	cur := input
	for _, stage := range strings.Split(expr, "|") {
		stage = strings.TrimSpace(stage)
		if stage == "" || stage == "." {
			continue
		}
		cur = readPath(cur, stage)
	}
	return cur, nil
}

// renderTemplate performs simple "{{path}}" substitution against input,
// for DATA_TRANSFORMATION's template mode (a narrower, local sibling of
// internal/resolver's five-root template language, scoped only to the
// node's own gathered input).
func renderTemplate(tpl string, input any) string {
	var out strings.Builder
	i := 0
	for i < len(tpl) {
		start := strings.Index(tpl[i:], "{{")
		if start < 0 {
			out.WriteString(tpl[i:])
			break
		}
		out.WriteString(tpl[i : i+start])
		i += start + 2
		end := strings.Index(tpl[i:], "}}")
		if end < 0 {
			out.WriteString(tpl[i-2:])
			break
		}
		path := strings.TrimSpace(tpl[i : i+end])
		value := readPath(input, path)
		out.WriteString(fmt.Sprintf("%v", value))
		i += end + 2
	}
	return out.String()
}
