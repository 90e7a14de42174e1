package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateBooleanCondition(t *testing.T) {
	e := NewEvaluator()
	cond := &Condition{Type: "cel", Expression: "output.value > 10"}

	ok, err := e.Evaluate(cond, map[string]any{"value": 5.0}, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = e.Evaluate(cond, map[string]any{"value": 15.0}, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLegacyDollarSyntaxIsNormalized(t *testing.T) {
	e := NewEvaluator()
	cond := &Condition{Type: "cel", Expression: "$.approved == true"}

	ok, err := e.Evaluate(cond, map[string]any{"approved": true}, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateSwitchKey(t *testing.T) {
	e := NewEvaluator()
	v, err := e.EvaluateSwitchKey(`output.status`, map[string]any{"status": "paid"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "paid", v)
}

func TestCachePopulatesOnFirstUse(t *testing.T) {
	e := NewEvaluator()
	assert.Equal(t, 0, e.CacheSize())
	_, err := e.Evaluate(&Condition{Type: "cel", Expression: "output.ok"}, map[string]any{"ok": true}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, e.CacheSize())
}

func TestConvertEdgeValueIdentityOnEmptyExpression(t *testing.T) {
	e := NewEvaluator()
	v, err := e.ConvertEdgeValue("", map[string]any{"a": 1.0}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1.0}, v)
}
