package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalStringEquality(t *testing.T) {
	e, err := Parse(`mapName == "widgets"`)
	require.NoError(t, err)
	ok, err := EvalBool(e, Env{"mapName": "widgets"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvalNumericComparison(t *testing.T) {
	e, err := Parse(`valueLen > 10`)
	require.NoError(t, err)
	ok, err := EvalBool(e, Env{"valueLen": float64(20)})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvalAndOrPrecedence(t *testing.T) {
	e, err := Parse(`opType == "PUT" && (valueLen > 100 || tag == "urgent")`)
	require.NoError(t, err)

	ok, err := EvalBool(e, Env{"opType": "PUT", "valueLen": float64(5), "tag": "urgent"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = EvalBool(e, Env{"opType": "PUT", "valueLen": float64(5), "tag": "normal"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvalNegation(t *testing.T) {
	e, err := Parse(`!fromCluster`)
	require.NoError(t, err)
	ok, err := EvalBool(e, Env{"fromCluster": false})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvalUndefinedVariableErrors(t *testing.T) {
	e, err := Parse(`missing == "x"`)
	require.NoError(t, err)
	_, err = EvalBool(e, Env{})
	assert.Error(t, err)
}

func TestParseSyntaxError(t *testing.T) {
	_, err := Parse(`mapName ==`)
	assert.Error(t, err)
}

func TestParseUnbalancedParens(t *testing.T) {
	_, err := Parse(`(mapName == "x"`)
	assert.Error(t, err)
}
