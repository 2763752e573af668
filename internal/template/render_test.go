package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordinaut/ordinaut/internal/value"
)

func ctxS4() value.Value {
	return value.Object(map[string]value.Value{
		"params": value.Object(map[string]value.Value{"city": value.Str("Chisinau")}),
		"steps": value.Object(map[string]value.Value{
			"w": value.Object(map[string]value.Value{
				"temp":    value.Num(15),
				"summary": value.Str("Sunny"),
			}),
		}),
	})
}

// TestRender_S4 reproduces spec.md scenario S4.
func TestRender_S4(t *testing.T) {
	with := value.Object(map[string]value.Value{
		"location": value.Str("${params.city}"),
		"msg":      value.Str("${steps.w.summary} ${steps.w.temp}°C"),
	})

	rendered, err := Render(with, ctxS4())
	require.NoError(t, err)

	obj, _ := rendered.AsObject()
	loc, _ := obj["location"].AsStr()
	assert.Equal(t, "Chisinau", loc)

	msg, _ := obj["msg"].AsStr()
	assert.Equal(t, "Sunny 15°C", msg)
}

func TestRender_WholeFieldPreservesType(t *testing.T) {
	ctx := value.Object(map[string]value.Value{
		"n": value.Num(42),
		"o": value.Object(map[string]value.Value{"k": value.Str("v")}),
	})

	rendered, err := Render(value.Str("${n}"), ctx)
	require.NoError(t, err)
	assert.Equal(t, value.KindNum, rendered.Kind())

	rendered, err = Render(value.Str("${o}"), ctx)
	require.NoError(t, err)
	assert.Equal(t, value.KindObject, rendered.Kind())
}

func TestRender_NoSubstitutionIsIdentity(t *testing.T) {
	v := value.Str("just plain text")
	rendered, err := Render(v, value.Null())
	require.NoError(t, err)
	assert.Equal(t, v, rendered)
}

func TestRender_MissingPathBecomesEmptyStringInSubstring(t *testing.T) {
	rendered, err := Render(value.Str("hello ${missing.path} world"), value.Null())
	require.NoError(t, err)
	s, _ := rendered.AsStr()
	assert.Equal(t, "hello  world", s)
}
