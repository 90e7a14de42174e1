package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWholeTemplateReturnsTypedValue(t *testing.T) {
	tpl, err := Parse("{{payload.count}}")
	require.NoError(t, err)

	ctx := &Context{Payload: map[string]any{"count": 42.0}}
	got := tpl.Eval(ctx)
	assert.Equal(t, 42.0, got)
}

func TestMixedTemplateFoldsToString(t *testing.T) {
	tpl, err := Parse(`count={{payload.count}}`)
	require.NoError(t, err)

	ctx := &Context{Payload: map[string]any{"count": 42.0}}
	got := tpl.Eval(ctx)
	assert.Equal(t, "count=42", got)
}

func TestNodeReferenceSyntax(t *testing.T) {
	tpl, err := Parse(`🎭 {{$node["ai"].json.content}}`)
	require.NoError(t, err)

	ctx := &Context{NodeOutputs: map[string]any{
		"ai": map[string]any{"content": "why did the chicken cross the road"},
	}}
	got := tpl.Eval(ctx)
	assert.Equal(t, "🎭 why did the chicken cross the road", got)
}

func TestUnresolvedPathBecomesNilAndWarns(t *testing.T) {
	tpl, err := Parse("{{payload.missing}}")
	require.NoError(t, err)

	var warned string
	ctx := &Context{Payload: map[string]any{}, OnUnresolved: func(p string) { warned = p }}
	got := tpl.Eval(ctx)
	assert.Nil(t, got)
	assert.Equal(t, "payload.missing", warned)
}

func TestResolutionIsIdempotentForFullyResolvablePaths(t *testing.T) {
	ctx := &Context{Payload: map[string]any{"name": "ada"}}
	first := ResolveString("{{payload.name}}", ctx)
	require.Equal(t, "ada", first)

	// Re-resolving the already-resolved (non-template) value is a no-op,
	// satisfying resolve(resolve(t, ctx), ctx) == resolve(t, ctx).
	second := ResolveString(first.(string), ctx)
	assert.Equal(t, first, second)
}

func TestEnvAllowlistAndStaticData(t *testing.T) {
	tpl, err := Parse("${env.FEATURE_FLAG} / ${workflow.static_data.region}")
	require.NoError(t, err)

	ctx := &Context{
		EnvAllowlist:   map[string]string{"FEATURE_FLAG": "on"},
		WorkflowStatic: map[string]any{"region": "us-east"},
	}
	got := tpl.Eval(ctx)
	assert.Equal(t, "on / us-east", got)
}
