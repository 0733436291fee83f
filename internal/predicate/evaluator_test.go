package predicate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluator_PlainCEL(t *testing.T) {
	ev, err := NewEvaluator()
	require.NoError(t, err)
	ok, err := ev.EvalBool(`case.x == 7`, map[string]interface{}{"x": int64(7)}, Context{TaskID: "T1"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluator_XORFallthroughScenario(t *testing.T) {
	// spec.md scenario 3: x=7 should satisfy neither "x==1" nor "x==2".
	ev, err := NewEvaluator()
	require.NoError(t, err)
	doc := map[string]interface{}{"x": int64(7)}
	ok1, err := ev.EvalBool(`case.x == 1`, doc, Context{})
	require.NoError(t, err)
	assert.False(t, ok1)
	ok2, err := ev.EvalBool(`case.x == 2`, doc, Context{})
	require.NoError(t, err)
	assert.False(t, ok2)
}

func TestEvaluator_XPathCountShim(t *testing.T) {
	// spec.md scenario 4: count(/items/*) over 3 item children.
	ev, err := NewEvaluator()
	require.NoError(t, err)
	doc := map[string]interface{}{"items": []interface{}{1, 2, 3}}
	n, err := ev.EvalCount(`count(/items/*)`, doc, Context{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestEvaluator_XPathEqualityShim(t *testing.T) {
	ev, err := NewEvaluator()
	require.NoError(t, err)
	doc := map[string]interface{}{"status": "ready"}
	ok, err := ev.EvalBool(`/status == 'ready'`, doc, Context{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluator_CachesCompiledProgram(t *testing.T) {
	ev, err := NewEvaluator()
	require.NoError(t, err)
	_, err = ev.EvalBool(`case.x == 1`, map[string]interface{}{"x": int64(1)}, Context{})
	require.NoError(t, err)
	assert.Equal(t, 1, ev.CacheSize())
	_, err = ev.EvalBool(`case.x == 1`, map[string]interface{}{"x": int64(2)}, Context{})
	require.NoError(t, err)
	assert.Equal(t, 1, ev.CacheSize())
}

func TestEvaluator_MissingVariable_IsDiagnosableError(t *testing.T) {
	ev, err := NewEvaluator()
	require.NoError(t, err)
	_, err = ev.EvalBool(`case.nonexistent.deep.field == 1`, map[string]interface{}{}, Context{})
	assert.Error(t, err)
}
