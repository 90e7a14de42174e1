package resolver

// ResolveValue recursively resolves templates embedded anywhere within a
// JSON-shaped value (map/slice/string/scalar), mirroring the teacher's
// Resolver.resolveValue/resolveMap/resolveArray recursion but delegating
// leaf-string resolution to the parsed AST instead of ad-hoc regexps.
func ResolveValue(v any, ctx *Context) any {
	switch val := v.(type) {
	case string:
		return ResolveString(val, ctx)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, sub := range val {
			out[k] = ResolveValue(sub, ctx)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, sub := range val {
			out[i] = ResolveValue(sub, ctx)
		}
		return out
	default:
		return val
	}
}

// ResolveString parses and evaluates a single template string.
func ResolveString(s string, ctx *Context) any {
	tpl, err := Parse(s)
	if err != nil {
		if ctx.OnUnresolved != nil {
			ctx.OnUnresolved(s)
		}
		return nil
	}
	return tpl.Eval(ctx)
}

// ResolveConfig resolves every templated value in a node's configuration
// map, returning a new map (inputs are never mutated in place).
func ResolveConfig(config map[string]any, ctx *Context) map[string]any {
	if config == nil {
		return map[string]any{}
	}
	resolved := ResolveValue(config, ctx)
	m, _ := resolved.(map[string]any)
	if m == nil {
		return map[string]any{}
	}
	return m
}
