// Package resolver implements the strongly-typed template resolver named
// by the redesign flag in SPEC_FULL.md §9: templates are parsed once into
// an AST of Literal | PathRead | Concat nodes and evaluated against a
// typed Context, rather than resolved by repeated string manipulation.
//
// Grounded on the teacher's cmd/workflow-runner/resolver/resolver.go,
// which resolved `$nodes.node_id[.field]` and `${...}` by regexp and
// gjson at evaluation time; this package keeps gjson for path extraction
// within a resolved root but moves delimiter/path recognition into a
// parse-once step.
package resolver

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

func marshalJSON(v any) ([]byte, error) { return json.Marshal(v) }

// Node is one element of a parsed template.
type Node interface {
	isNode()
}

// Literal is a fixed string segment.
type Literal struct{ Value string }

func (Literal) isNode() {}

// PathRead resolves a dotted path against one of the named roots.
type PathRead struct {
	Root string // "payload" | "trigger" | "workflow.static_data" | "env" | "node"
	// NodeID is set when Root == "node" (the $node["<id>"].json.<path> form).
	NodeID string
	// Path is the remaining dotted/indexed path, gjson syntax.
	Path string
}

func (PathRead) isNode() {}

// Concat is a whole template made of more than one segment; it always
// folds to a string.
type Concat struct{ Parts []Node }

func (Concat) isNode() {}

// Template is a parsed template ready for repeated evaluation.
type Template struct {
	// Root is the single node when the entire string is one placeholder
	// (enables typed, non-stringified results); nil otherwise.
	Root Node
	// Whole reports whether the original string was exactly one
	// placeholder with no surrounding literal text.
	Whole bool
}

var delimPairs = []struct{ open, close string }{
	{"{{", "}}"},
	{"${", "}"},
	{"<%", "%>"},
}

// Parse parses a template string containing zero or more {{path}}, ${path},
// or <%path%> placeholders into a Template AST. A string with no
// placeholders parses to a single Literal and Whole=false (callers should
// treat it as already-resolved).
func Parse(s string) (*Template, error) {
	var parts []Node
	i := 0
	n := len(s)
	placeholderCount := 0
	for i < n {
		start, open, close, found := findNextDelim(s, i)
		if !found {
			if i < n {
				parts = append(parts, Literal{Value: s[i:]})
			}
			break
		}
		if start > i {
			parts = append(parts, Literal{Value: s[i:start]})
		}
		bodyStart := start + len(open)
		end := strings.Index(s[bodyStart:], close)
		if end < 0 {
			return nil, fmt.Errorf("unterminated template placeholder starting at %d", start)
		}
		body := strings.TrimSpace(s[bodyStart : bodyStart+end])
		node, err := parsePath(body)
		if err != nil {
			return nil, err
		}
		parts = append(parts, node)
		placeholderCount++
		i = bodyStart + end + len(close)
	}

	if len(parts) == 0 {
		return &Template{Root: Literal{Value: ""}, Whole: false}, nil
	}
	if len(parts) == 1 {
		if _, isLit := parts[0].(Literal); isLit {
			return &Template{Root: parts[0], Whole: false}, nil
		}
		return &Template{Root: parts[0], Whole: true}, nil
	}
	return &Template{Root: Concat{Parts: parts}, Whole: false}, nil
}

func findNextDelim(s string, from int) (start int, open, close string, found bool) {
	best := -1
	for _, d := range delimPairs {
		idx := strings.Index(s[from:], d.open)
		if idx < 0 {
			continue
		}
		idx += from
		if best == -1 || idx < best {
			best = idx
			open, close = d.open, d.close
			found = true
		}
	}
	return best, open, close, found
}

// parsePath recognizes the resolution-source grammar:
//
//	payload.<path>
//	trigger.<path>
//	workflow.static_data.<path>
//	env.<ALLOWLISTED_PREFIX...>
//	$node["<id>"].json.<path>
func parsePath(body string) (Node, error) {
	if strings.HasPrefix(body, `$node[`) {
		return parseNodeRef(body)
	}
	switch {
	case strings.HasPrefix(body, "payload"):
		return PathRead{Root: "payload", Path: trimRootPrefix(body, "payload")}, nil
	case strings.HasPrefix(body, "trigger"):
		return PathRead{Root: "trigger", Path: trimRootPrefix(body, "trigger")}, nil
	case strings.HasPrefix(body, "workflow.static_data"):
		return PathRead{Root: "workflow.static_data", Path: trimRootPrefix(body, "workflow.static_data")}, nil
	case strings.HasPrefix(body, "env."):
		return PathRead{Root: "env", Path: strings.TrimPrefix(body, "env.")}, nil
	default:
		// Bare path: treated as a payload-relative reference for
		// convenience (mirrors the teacher's unprefixed $.field form).
		return PathRead{Root: "payload", Path: body}, nil
	}
}

func trimRootPrefix(body, root string) string {
	rest := strings.TrimPrefix(body, root)
	rest = strings.TrimPrefix(rest, ".")
	return rest
}

// parseNodeRef parses `$node["id"].json.path` or `$node['id'].json.path`.
func parseNodeRef(body string) (Node, error) {
	rest := strings.TrimPrefix(body, `$node[`)
	quote := ""
	if strings.HasPrefix(rest, `"`) {
		quote = `"`
	} else if strings.HasPrefix(rest, `'`) {
		quote = `'`
	} else {
		return nil, fmt.Errorf("invalid $node reference: %s", body)
	}
	rest = strings.TrimPrefix(rest, quote)
	end := strings.Index(rest, quote)
	if end < 0 {
		return nil, fmt.Errorf("unterminated node id in: %s", body)
	}
	id := rest[:end]
	rest = rest[end+1:]
	rest = strings.TrimPrefix(rest, "]")
	rest = strings.TrimPrefix(rest, ".json")
	rest = strings.TrimPrefix(rest, ".")
	return PathRead{Root: "node", NodeID: id, Path: rest}, nil
}

// Context supplies the five resolution roots named in the spec.
type Context struct {
	Payload           any
	Trigger           any
	WorkflowStatic    any
	EnvAllowlist      map[string]string // pre-filtered by allowlisted prefix
	NodeOutputs       map[string]any    // node id -> output (json-marshalable)
	OnUnresolved      func(path string) // invoked (warning) on unresolved path
}

// Eval evaluates the template, returning a typed value for whole-template
// single-path placeholders and a string otherwise.
func (t *Template) Eval(ctx *Context) any {
	switch root := t.Root.(type) {
	case Literal:
		return root.Value
	case PathRead:
		v, ok := evalPathRead(root, ctx)
		if !ok {
			if ctx.OnUnresolved != nil {
				ctx.OnUnresolved(describePath(root))
			}
			return nil
		}
		if t.Whole {
			return v
		}
		return stringify(v)
	case Concat:
		var sb strings.Builder
		for _, p := range root.Parts {
			switch pp := p.(type) {
			case Literal:
				sb.WriteString(pp.Value)
			case PathRead:
				v, ok := evalPathRead(pp, ctx)
				if !ok {
					if ctx.OnUnresolved != nil {
						ctx.OnUnresolved(describePath(pp))
					}
					continue
				}
				sb.WriteString(stringify(v))
			}
		}
		return sb.String()
	default:
		return nil
	}
}

func describePath(p PathRead) string {
	if p.Root == "node" {
		return fmt.Sprintf(`$node["%s"].json.%s`, p.NodeID, p.Path)
	}
	if p.Path == "" {
		return p.Root
	}
	return p.Root + "." + p.Path
}

func evalPathRead(p PathRead, ctx *Context) (any, bool) {
	switch p.Root {
	case "payload":
		return gjsonLookup(ctx.Payload, p.Path)
	case "trigger":
		return gjsonLookup(ctx.Trigger, p.Path)
	case "workflow.static_data":
		return gjsonLookup(ctx.WorkflowStatic, p.Path)
	case "env":
		v, ok := ctx.EnvAllowlist[p.Path]
		return v, ok
	case "node":
		out, ok := ctx.NodeOutputs[p.NodeID]
		if !ok {
			return nil, false
		}
		return gjsonLookup(out, p.Path)
	default:
		return nil, false
	}
}

// gjsonLookup extracts path from root, which may already be a Go value
// (map/slice/scalar) or a JSON string; path == "" returns root itself.
func gjsonLookup(root any, path string) (any, bool) {
	if path == "" {
		return root, root != nil
	}
	var raw []byte
	switch v := root.(type) {
	case nil:
		return nil, false
	case string:
		raw = []byte(v)
	default:
		b, err := marshalJSON(v)
		if err != nil {
			return nil, false
		}
		raw = b
	}
	res := gjson.GetBytes(raw, path)
	if !res.Exists() {
		return nil, false
	}
	return gjsonValue(res), true
}

func gjsonValue(r gjson.Result) any {
	switch r.Type {
	case gjson.String:
		return r.String()
	case gjson.Number:
		return r.Num
	case gjson.True:
		return true
	case gjson.False:
		return false
	case gjson.Null:
		return nil
	default:
		return r.Value()
	}
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := marshalJSON(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
