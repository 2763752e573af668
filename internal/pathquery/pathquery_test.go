package pathquery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordinaut/ordinaut/internal/value"
)

func sampleCtx() value.Value {
	return value.Object(map[string]value.Value{
		"params": value.Object(map[string]value.Value{
			"city": value.Str("Chisinau"),
		}),
		"steps": value.Object(map[string]value.Value{
			"w": value.Object(map[string]value.Value{
				"temp":    value.Num(15),
				"summary": value.Str("Sunny"),
			}),
		}),
	})
}

func TestEval_SimplePath(t *testing.T) {
	v, err := EvalString("params.city", sampleCtx())
	require.NoError(t, err)
	s, ok := v.AsStr()
	require.True(t, ok)
	assert.Equal(t, "Chisinau", s)
}

func TestEval_MissingPathResolvesNull(t *testing.T) {
	v, err := EvalString("params.country.code", sampleCtx())
	require.NoError(t, err)
	assert.True(t, v.IsNull())
}

func TestEval_ComparisonFilter(t *testing.T) {
	v, err := EvalString("steps.w.temp > 25", sampleCtx())
	require.NoError(t, err)
	b, _ := v.AsBool()
	assert.False(t, b)

	v, err = EvalString("steps.w.temp > 10", sampleCtx())
	require.NoError(t, err)
	b, _ = v.AsBool()
	assert.True(t, b)
}

func TestEval_MissingPathInComparisonIsFalsy(t *testing.T) {
	v, err := EvalString("steps.missing.temp > 10", sampleCtx())
	require.NoError(t, err)
	assert.False(t, v.Truthy())
}

func TestParse_UnbalancedBracket(t *testing.T) {
	_, err := Parse("steps.w[0")
	require.Error(t, err)
	var synErr *SyntaxError
	require.ErrorAs(t, err, &synErr)
}

func TestEval_ArrayIndex(t *testing.T) {
	ctx := value.Object(map[string]value.Value{
		"items": value.Array([]value.Value{value.Str("a"), value.Str("b")}),
	})
	v, err := EvalString("items[1]", ctx)
	require.NoError(t, err)
	s, _ := v.AsStr()
	assert.Equal(t, "b", s)
}
